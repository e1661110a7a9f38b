package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/joblisting-crawler/internal/crawler"
)

func TestQueuePutGet(t *testing.T) {
	t.Parallel()

	q := NewQueue[crawler.ScrapingTask](1)
	result := make(chan crawler.ScrapingTask, 1)
	go func() {
		item, err := q.Get(context.Background())
		if err == nil {
			result <- item
		}
	}()

	require.NoError(t, q.Put(context.Background(), crawler.ScrapingTask{ID: "task-1"}))
	select {
	case got := <-result:
		require.Equal(t, "task-1", got.ID)
	case <-time.After(time.Second):
		t.Fatal("get did not return task")
	}
	require.Equal(t, 1, q.Pending())
	q.Done()
	require.NoError(t, q.Join(context.Background()))
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	q := NewQueue[int](1)
	_, err := q.Get(ctx)
	require.EqualError(t, err, "dequeue canceled: context canceled")

	require.NoError(t, q.Put(context.Background(), 1))
	err = q.Put(ctx, 2)
	require.EqualError(t, err, "enqueue canceled: context canceled")
	require.Equal(t, 1, q.Pending(), "a failed put is not pending")
}

func TestQueueBackpressure(t *testing.T) {
	t.Parallel()

	q := NewQueue[int](2)
	require.NoError(t, q.Put(context.Background(), 1))
	require.NoError(t, q.Put(context.Background(), 2))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, q.Put(ctx, 3), context.DeadlineExceeded)
	require.Equal(t, 2, q.Len())
}

func TestQueueCloseDrainsThenFails(t *testing.T) {
	t.Parallel()

	q := NewQueue[int](2)
	require.NoError(t, q.Put(context.Background(), 7))
	q.Close()

	got, err := q.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, 7, got)
	_, err = q.Get(context.Background())
	require.ErrorIs(t, err, crawler.ErrQueueClosed)
	require.ErrorIs(t, q.Put(context.Background(), 8), crawler.ErrQueueClosed)
}

func TestQueueJoinWaitsForTransitiveWork(t *testing.T) {
	t.Parallel()

	search := NewQueue[int](4)
	detail := NewQueue[int](4)
	var processed atomic.Int64

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for {
			page, err := search.Get(ctx)
			if err != nil {
				return
			}
			for i := 0; i < page; i++ {
				_ = detail.Put(ctx, i)
			}
			search.Done()
		}
	}()
	go func() {
		defer wg.Done()
		for {
			if _, err := detail.Get(ctx); err != nil {
				return
			}
			time.Sleep(time.Millisecond)
			processed.Add(1)
			detail.Done()
		}
	}()

	for _, n := range []int{3, 0, 5} {
		require.NoError(t, search.Put(ctx, n))
	}
	require.NoError(t, search.Join(ctx))
	require.NoError(t, detail.Join(ctx))
	require.EqualValues(t, 8, processed.Load())

	search.Close()
	detail.Close()
	wg.Wait()
}

func TestQueueRequeueIntoFullQueue(t *testing.T) {
	t.Parallel()

	q := NewQueue[int](1)
	require.NoError(t, q.Put(context.Background(), 1))
	item, err := q.Get(context.Background())
	require.NoError(t, err)
	require.NoError(t, q.Put(context.Background(), 2))

	// The consumer retries into its own full queue without blocking.
	q.Requeue(context.Background(), item, 5*time.Millisecond, nil)
	q.Done()
	require.Equal(t, 2, q.Pending())

	second, err := q.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, second)
	q.Done()
	retried, err := q.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, retried)
	q.Done()
	require.NoError(t, q.Join(context.Background()))
}

func TestQueueRequeueDroppedOnCancel(t *testing.T) {
	t.Parallel()

	q := NewQueue[int](1)
	ctx, cancel := context.WithCancel(context.Background())
	var dropped atomic.Int64
	q.Requeue(ctx, 9, time.Hour, func(int) { dropped.Add(1) })
	cancel()

	joinCtx, stop := context.WithTimeout(context.Background(), time.Second)
	defer stop()
	require.NoError(t, q.Join(joinCtx))
	require.EqualValues(t, 1, dropped.Load())
}

func TestQueueJoinHonorsContext(t *testing.T) {
	t.Parallel()

	q := NewQueue[int](1)
	require.NoError(t, q.Put(context.Background(), 1))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := q.Join(ctx)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}
