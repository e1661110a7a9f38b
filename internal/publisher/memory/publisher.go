// Package memory keeps published job records in memory for tests and local runs.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/joblisting-crawler/internal/crawler"
)

// Publisher stores published records for inspection.
type Publisher struct {
	mu      sync.RWMutex
	records []crawler.JobRecord
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records rec.
func (p *Publisher) Publish(ctx context.Context, rec crawler.JobRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, rec)
	return nil
}

// Records returns a copy of the published records.
func (p *Publisher) Records() []crawler.JobRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]crawler.JobRecord, len(p.records))
	copy(out, p.records)
	return out
}
