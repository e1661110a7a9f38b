// Package memory provides the bounded in-process task queues that connect the
// pipeline stages.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/joblisting-crawler/internal/crawler"
)

// Queue is a bounded FIFO with join semantics: every Put or Requeue must be
// matched by exactly one Done, and Join blocks until all of them are.
type Queue[T any] struct {
	ch     chan T
	done   chan struct{}
	closed sync.Once

	mu      sync.Mutex
	pending int
	idle    chan struct{}
	wg      sync.WaitGroup
}

// NewQueue constructs a queue holding at most capacity buffered items.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	idle := make(chan struct{})
	close(idle)
	return &Queue[T]{
		ch:   make(chan T, capacity),
		done: make(chan struct{}),
		idle: idle,
	}
}

// Put blocks until item is buffered, ctx ends or the queue is closed.
func (q *Queue[T]) Put(ctx context.Context, item T) error {
	q.add()
	if err := q.send(ctx, item); err != nil {
		q.Done()
		return err
	}
	return nil
}

// Get pops the next item. After Close it keeps returning buffered items and
// then crawler.ErrQueueClosed.
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	var zero T
	select {
	case item := <-q.ch:
		return item, nil
	case <-ctx.Done():
		return zero, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-q.done:
		select {
		case item := <-q.ch:
			return item, nil
		default:
			return zero, crawler.ErrQueueClosed
		}
	}
}

// Done marks one previously queued item as fully processed.
func (q *Queue[T]) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending == 0 {
		panic("memory.Queue: Done called more times than items were queued")
	}
	q.pending--
	if q.pending == 0 {
		close(q.idle)
	}
}

// Requeue schedules item to be queued again after delay without blocking the
// caller, so a consumer can retry into its own full queue. The item counts as
// pending immediately. If ctx ends or the queue closes first, it is dropped and
// onDrop, if set, is called.
func (q *Queue[T]) Requeue(ctx context.Context, item T, delay time.Duration, onDrop func(T)) {
	q.add()
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				q.drop(item, onDrop)
				return
			case <-q.done:
				t.Stop()
				q.drop(item, onDrop)
				return
			}
		}
		if err := q.send(ctx, item); err != nil {
			q.drop(item, onDrop)
		}
	}()
}

// Join blocks until every queued item has been marked Done or ctx ends.
func (q *Queue[T]) Join(ctx context.Context) error {
	for {
		q.mu.Lock()
		if q.pending == 0 {
			q.mu.Unlock()
			return nil
		}
		idle := q.idle
		q.mu.Unlock()
		select {
		case <-idle:
		case <-ctx.Done():
			return fmt.Errorf("join canceled: %w", ctx.Err())
		}
	}
}

// Close stops accepting items and wakes blocked consumers. It waits for
// in-flight requeue goroutines to settle.
func (q *Queue[T]) Close() {
	q.closed.Do(func() { close(q.done) })
	q.wg.Wait()
}

// Len returns the number of buffered items.
func (q *Queue[T]) Len() int { return len(q.ch) }

// Pending returns the number of items not yet marked Done.
func (q *Queue[T]) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

func (q *Queue[T]) add() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending == 0 {
		q.idle = make(chan struct{})
	}
	q.pending++
}

func (q *Queue[T]) send(ctx context.Context, item T) error {
	select {
	case <-q.done:
		return crawler.ErrQueueClosed
	default:
	}
	select {
	case q.ch <- item:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return crawler.ErrQueueClosed
	}
}

func (q *Queue[T]) drop(item T, onDrop func(T)) {
	if onDrop != nil {
		onDrop(item)
	}
	q.Done()
}
