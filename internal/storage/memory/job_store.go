package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/JakeFAU/joblisting-crawler/internal/crawler"
)

// JobStore is an in-memory crawler.PersistenceSink. A second record with the
// same normalized URL is rejected with crawler.ErrDuplicateJob.
type JobStore struct {
	mu    sync.RWMutex
	ids   crawler.IDGenerator
	jobs  map[string]crawler.JobRecord
	byURL map[string]string
	order []string
	seq   int
}

// NewJobStore constructs a JobStore. With a nil generator ids are sequential.
func NewJobStore(ids crawler.IDGenerator) *JobStore {
	return &JobStore{
		ids:   ids,
		jobs:  make(map[string]crawler.JobRecord),
		byURL: make(map[string]string),
	}
}

var _ crawler.PersistenceSink = (*JobStore)(nil)

// AddJob stores rec and returns its id.
func (s *JobStore) AddJob(_ context.Context, rec crawler.JobRecord) (string, error) {
	key := urlKey(rec.URL)
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byURL[key]; ok && key != "" {
		return existing, fmt.Errorf("%w: %s", crawler.ErrDuplicateJob, rec.URL)
	}
	id := rec.ID
	if id == "" {
		var err error
		if id, err = s.nextID(); err != nil {
			return "", err
		}
	}
	if _, taken := s.jobs[id]; taken {
		return "", fmt.Errorf("%w: id %s", crawler.ErrDuplicateJob, id)
	}
	rec.ID = id
	s.jobs[id] = rec
	if key != "" {
		s.byURL[key] = id
	}
	s.order = append(s.order, id)
	return id, nil
}

// GetJobs returns matching records, oldest first.
func (s *JobStore) GetJobs(_ context.Context, filter crawler.JobFilter) ([]crawler.JobRecord, error) {
	s.mu.RLock()
	out := make([]crawler.JobRecord, 0, len(s.order))
	for _, id := range s.order {
		if rec := s.jobs[id]; filter.Matches(rec) {
			out = append(out, rec)
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].ScrapedAt.Before(out[j].ScrapedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// UpdateJob applies fields to the record with id. Changing the URL to one
// already held by another record fails with crawler.ErrDuplicateJob.
func (s *JobStore) UpdateJob(_ context.Context, id string, fields crawler.JobUpdate) error {
	if fields.Status != nil && !fields.Status.Valid() {
		return fmt.Errorf("invalid status %q", *fields.Status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", crawler.ErrJobNotFound, id)
	}
	oldKey := urlKey(rec.URL)
	updated := fields.Apply(rec)
	newKey := urlKey(updated.URL)
	if newKey != oldKey {
		if other, taken := s.byURL[newKey]; taken && other != id {
			return fmt.Errorf("%w: %s", crawler.ErrDuplicateJob, updated.URL)
		}
		delete(s.byURL, oldKey)
		if newKey != "" {
			s.byURL[newKey] = id
		}
	}
	s.jobs[id] = updated
	return nil
}

// Len returns the number of stored records.
func (s *JobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func (s *JobStore) nextID() (string, error) {
	if s.ids != nil {
		id, err := s.ids.NewID()
		if err != nil {
			return "", fmt.Errorf("generate job id: %w", err)
		}
		return id, nil
	}
	s.seq++
	return "job-" + strconv.Itoa(s.seq), nil
}

func urlKey(raw string) string {
	if n, err := crawler.NormalizeURL(raw); err == nil {
		return n
	}
	return raw
}
