package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/joblisting-crawler/internal/crawler"
	"github.com/JakeFAU/joblisting-crawler/internal/publisher"
)

func fakeServer(t *testing.T) []option.ClientOption {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })
	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return []option.ClientOption{option.WithGRPCConn(conn)}
}

func TestOpen_MissingTopic(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{ProjectID: "proj", Topic: "missing"}, nil, fakeServer(t)...)
	require.Error(t, err)

	_, err = Open(context.Background(), Config{}, nil)
	require.Error(t, err)
}

func TestPublish_DeliversJobEvent(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	opts := fakeServer(t)

	admin, err := pubsub.NewClient(ctx, "proj", opts...)
	require.NoError(t, err)
	defer admin.Close()
	topic, err := admin.CreateTopic(ctx, "jobs")
	require.NoError(t, err)
	sub, err := admin.CreateSubscription(ctx, "jobs-sub", pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	pub, err := Open(ctx, Config{ProjectID: "proj", Topic: "jobs"}, nil, opts...)
	require.NoError(t, err)
	defer func() { assert.NoError(t, pub.Close()) }()

	rec := crawler.JobRecord{ID: "job-7", Title: "Go Engineer", SourceSite: "example.ca", ApplySystem: "lever", Status: crawler.JobStatusScraped}
	require.NoError(t, pub.Publish(ctx, rec))

	received := make(chan *pubsub.Message, 1)
	rctx, stop := context.WithCancel(ctx)
	go func() {
		_ = sub.Receive(rctx, func(_ context.Context, msg *pubsub.Message) {
			msg.Ack()
			select {
			case received <- msg:
			default:
			}
		})
	}()
	defer stop()

	select {
	case msg := <-received:
		var ev publisher.Event
		require.NoError(t, json.Unmarshal(msg.Data, &ev))
		assert.Equal(t, publisher.EventJobSaved, ev.Type)
		assert.Equal(t, "job-7", ev.Job.ID)
		assert.Equal(t, "lever", msg.Attributes["apply_system"])
	case <-ctx.Done():
		t.Fatal("message not received")
	}
}
