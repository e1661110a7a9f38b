// Package publisher defines the job-saved event shared by every publisher backend.
package publisher

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/JakeFAU/joblisting-crawler/internal/crawler"
)

// EventJobSaved is the event type carried by every message.
const EventJobSaved = "job.saved"

// Event is the JSON payload published when a job record is saved.
type Event struct {
	Type        string            `json:"type"`
	Job         crawler.JobRecord `json:"job"`
	PublishedAt time.Time         `json:"published_at"`
}

// Encode wraps rec in a job-saved Event and marshals it.
func Encode(rec crawler.JobRecord, now time.Time) ([]byte, error) {
	data, err := json.Marshal(Event{Type: EventJobSaved, Job: rec, PublishedAt: now.UTC()})
	if err != nil {
		return nil, fmt.Errorf("marshal job event: %w", err)
	}
	return data, nil
}

// Attributes returns the routing attributes for rec.
func Attributes(rec crawler.JobRecord) map[string]string {
	attrs := map[string]string{
		"event":       EventJobSaved,
		"source_site": rec.SourceSite,
	}
	if rec.ApplySystem != "" {
		attrs["apply_system"] = rec.ApplySystem
	}
	if rec.Keyword != "" {
		attrs["keyword"] = rec.Keyword
	}
	return attrs
}
