// Package kafka publishes job-saved events to a Kafka topic.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/JakeFAU/joblisting-crawler/internal/crawler"
	"github.com/JakeFAU/joblisting-crawler/internal/publisher"
)

// Config names the brokers and topic.
type Config struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher wraps a Kafka writer.
type Publisher struct {
	writer messageWriter
	clock  crawler.Clock
}

// New creates a publisher for cfg. Messages are keyed by job URL so updates
// for the same posting land on one partition.
func New(cfg Config, clock crawler.Clock) (*Publisher, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("publisher.kafka.brokers and publisher.kafka.topic are required")
	}
	return NewWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: false,
	}, clock), nil
}

// NewWithWriter builds a publisher using a custom writer (tests).
func NewWithWriter(writer messageWriter, clock crawler.Clock) *Publisher {
	return &Publisher{writer: writer, clock: clock}
}

// Publish writes rec as a job-saved event.
func (p *Publisher) Publish(ctx context.Context, rec crawler.JobRecord) error {
	now := p.now()
	payload, err := publisher.Encode(rec, now)
	if err != nil {
		return err
	}
	attrs := publisher.Attributes(rec)
	headers := make([]kafka.Header, 0, len(attrs))
	for k, v := range attrs {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	msg := kafka.Message{
		Key:     []byte(rec.URL),
		Value:   payload,
		Headers: headers,
		Time:    now.UTC(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write job %s: %w", rec.ID, err)
	}
	return nil
}

// Close shuts down the underlying writer.
func (p *Publisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}

func (p *Publisher) now() time.Time {
	if p.clock != nil {
		return p.clock.Now()
	}
	return time.Now()
}
