// Package dedup tracks job records already seen during a run.
package dedup

import (
	"strings"
	"sync"

	"github.com/JakeFAU/joblisting-crawler/internal/crawler"
)

// Reason explains why a record was classified as a duplicate.
type Reason string

// Duplicate reasons.
const (
	ReasonNone        Reason = ""
	ReasonURL         Reason = "url"
	ReasonFingerprint Reason = "fingerprint"
)

// Deduplicator is a run-local seen-set keyed by normalized URL and by a
// title|company fingerprint. It is safe for concurrent use.
type Deduplicator struct {
	mu           sync.Mutex
	urls         map[string]struct{}
	fingerprints map[string]struct{}
}

// New returns an empty Deduplicator.
func New() *Deduplicator {
	return &Deduplicator{
		urls:         make(map[string]struct{}),
		fingerprints: make(map[string]struct{}),
	}
}

// Seen marks rec and reports whether it had been seen before.
func (d *Deduplicator) Seen(rec crawler.JobRecord) bool {
	return d.Check(rec) != ReasonNone
}

// Check marks rec and returns which key matched an earlier record. Both keys
// are recorded only when the record is new, so a duplicate never widens the set.
func (d *Deduplicator) Check(rec crawler.JobRecord) Reason {
	urlKey := URLKey(rec.URL)
	fp := Fingerprint(rec.Title, rec.Company)

	d.mu.Lock()
	defer d.mu.Unlock()
	if urlKey != "" {
		if _, ok := d.urls[urlKey]; ok {
			return ReasonURL
		}
	}
	if fp != "" {
		if _, ok := d.fingerprints[fp]; ok {
			return ReasonFingerprint
		}
	}
	if urlKey != "" {
		d.urls[urlKey] = struct{}{}
	}
	if fp != "" {
		d.fingerprints[fp] = struct{}{}
	}
	return ReasonNone
}

// Len returns the number of distinct URLs recorded.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

// URLKey normalizes rawURL, falling back to the trimmed lowercase input.
func URLKey(rawURL string) string {
	if strings.TrimSpace(rawURL) == "" {
		return ""
	}
	if norm, err := crawler.NormalizeURL(rawURL); err == nil {
		return norm
	}
	return strings.ToLower(strings.TrimSpace(rawURL))
}

// Fingerprint returns lower(title)+"|"+lower(company) with inner whitespace
// collapsed. An empty title yields "".
func Fingerprint(title, company string) string {
	t := collapse(title)
	if t == "" {
		return ""
	}
	return t + "|" + collapse(company)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
