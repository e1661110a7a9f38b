// Package pubsub publishes job-saved events to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"github.com/JakeFAU/joblisting-crawler/internal/crawler"
	"github.com/JakeFAU/joblisting-crawler/internal/publisher"
)

// Config names the topic to publish to.
type Config struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Publisher wraps a Pub/Sub topic.
type Publisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	clock  crawler.Clock
}

// Open connects to Pub/Sub using Application Default Credentials and checks
// that the topic exists.
func Open(ctx context.Context, cfg Config, clock crawler.Clock, opts ...option.ClientOption) (*Publisher, error) {
	if cfg.ProjectID == "" || cfg.Topic == "" {
		return nil, fmt.Errorf("publisher.pubsub.project_id and publisher.pubsub.topic are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(cfg.Topic)
	ok, err := topic.Exists(ctx)
	if err != nil || !ok {
		_ = client.Close()
		if err == nil {
			err = fmt.Errorf("topic does not exist")
		}
		return nil, fmt.Errorf("pubsub topic %q in project %q: %w", cfg.Topic, cfg.ProjectID, err)
	}
	return New(client, topic, clock), nil
}

// New wraps an existing client and topic.
func New(client *pubsub.Client, topic *pubsub.Topic, clock crawler.Clock) *Publisher {
	return &Publisher{client: client, topic: topic, clock: clock}
}

// Publish sends rec as a job-saved event and waits for the server ack.
func (p *Publisher) Publish(ctx context.Context, rec crawler.JobRecord) error {
	if p.topic == nil {
		return fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := publisher.Encode(rec, p.now())
	if err != nil {
		return err
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: publisher.Attributes(rec),
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish job %s: %w", rec.ID, err)
	}
	return nil
}

// Close flushes pending messages and closes the client.
func (p *Publisher) Close() error {
	if p.topic != nil {
		p.topic.Stop()
	}
	if p.client == nil {
		return nil
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

func (p *Publisher) now() time.Time {
	if p.clock != nil {
		return p.clock.Now()
	}
	return time.Now()
}
