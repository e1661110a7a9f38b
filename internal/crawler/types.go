package crawler

import (
	"fmt"
	"time"
)

// TaskType identifies which stage a ScrapingTask belongs to.
type TaskType string

// Task types handled by the scheduler.
const (
	TaskTypeSearch  TaskType = "search"
	TaskTypeDetail  TaskType = "detail"
	TaskTypeResolve TaskType = "resolve"
)

// ScrapingTask is one unit of work. Each attempt is consumed by exactly one worker.
type ScrapingTask struct {
	ID         string   `json:"id"`
	Type       TaskType `json:"type"`
	Keyword    string   `json:"keyword"`
	Page       int      `json:"page"`
	Priority   int      `json:"priority"`
	RetryCount int      `json:"retry_count"`
	MaxRetries int      `json:"max_retries"`
}

// NextAttempt returns a copy of the task for the following attempt.
func (t ScrapingTask) NextAttempt() ScrapingTask {
	t.RetryCount++
	return t
}

// Exhausted reports whether no further retries are allowed.
func (t ScrapingTask) Exhausted() bool {
	return t.RetryCount >= t.MaxRetries
}

// ClickableRef locates the element that must be clicked to reveal a listing's
// destination. Selector and Index address the container on the search page;
// Title narrows the click target inside it.
type ClickableRef struct {
	Selector string `json:"selector"`
	Index    int    `json:"index"`
	Title    string `json:"title,omitempty"`
	Href     string `json:"href,omitempty"`
}

// Key returns a stable identifier for the referenced element.
func (r ClickableRef) Key() string {
	return fmt.Sprintf("%s#%d", r.Selector, r.Index)
}

// RawListing is a Stage 1 fragment. It lives only until Stage 2 consumes it.
type RawListing struct {
	Title         string       `json:"title"`
	Company       string       `json:"company"`
	Location      string       `json:"location"`
	SalaryText    string       `json:"salary_text"`
	SummaryText   string       `json:"summary_text"`
	SourceKeyword string       `json:"source_keyword"`
	PageNumber    int          `json:"page_number"`
	SearchURL     string       `json:"search_url"`
	ClickableRef  ClickableRef `json:"clickable_ref"`
}

// ParsedListing holds the fields a ListingParser extracts from container text.
type ParsedListing struct {
	Title    string
	Company  string
	Location string
	Salary   string
	Summary  string
}

// ContainerSnapshot is the rendered state of one listing container.
type ContainerSnapshot struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
	HTML  string `json:"html"`
}

// SelectorStrategy is one way of locating listing containers on a search page.
type SelectorStrategy struct {
	Name      string `json:"name" mapstructure:"name"`
	Container string `json:"container" mapstructure:"container"`
	Title     string `json:"title" mapstructure:"title"`
}

// JobStatus is the terminal classification of a JobRecord.
type JobStatus string

// Job record statuses.
const (
	JobStatusScraped   JobStatus = "scraped"
	JobStatusDuplicate JobStatus = "duplicate"
	JobStatusInvalid   JobStatus = "invalid"
	JobStatusFailed    JobStatus = "failed"
)

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusScraped, JobStatusDuplicate, JobStatusInvalid, JobStatusFailed:
		return true
	default:
		return false
	}
}

// JobRecord is a finished listing. It is immutable once handed to a PersistenceSink.
type JobRecord struct {
	ID          string    `json:"id,omitempty"`
	Title       string    `json:"title"`
	Company     string    `json:"company,omitempty"`
	Location    string    `json:"location,omitempty"`
	Salary      string    `json:"salary,omitempty"`
	Description string    `json:"description,omitempty"`
	URL         string    `json:"url"`
	ApplySystem string    `json:"apply_system,omitempty"`
	SourceSite  string    `json:"source_site"`
	Keyword     string    `json:"keyword,omitempty"`
	ScrapedAt   time.Time `json:"scraped_at"`
	Status      JobStatus `json:"status"`
}

// JobFilter narrows GetJobs results. Zero values mean "any".
type JobFilter struct {
	Status     JobStatus
	SourceSite string
	Keyword    string
	Since      time.Time
	Limit      int
}

// Matches reports whether rec satisfies the filter, ignoring Limit.
func (f JobFilter) Matches(rec JobRecord) bool {
	if f.Status != "" && rec.Status != f.Status {
		return false
	}
	if f.SourceSite != "" && rec.SourceSite != f.SourceSite {
		return false
	}
	if f.Keyword != "" && rec.Keyword != f.Keyword {
		return false
	}
	if !f.Since.IsZero() && rec.ScrapedAt.Before(f.Since) {
		return false
	}
	return true
}

// JobUpdate lists the fields UpdateJob may change. Nil pointers are left untouched.
type JobUpdate struct {
	Status      *JobStatus
	Description *string
	Salary      *string
	Location    *string
	URL         *string
}

// Apply returns rec with the non-nil fields of u applied.
func (u JobUpdate) Apply(rec JobRecord) JobRecord {
	if u.Status != nil {
		rec.Status = *u.Status
	}
	if u.Description != nil {
		rec.Description = *u.Description
	}
	if u.Salary != nil {
		rec.Salary = *u.Salary
	}
	if u.Location != nil {
		rec.Location = *u.Location
	}
	if u.URL != nil {
		rec.URL = *u.URL
	}
	return rec
}

// Cookie is a browser cookie as persisted by a SessionStore.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HTTPOnly bool      `json:"http_only,omitempty"`
	SameSite string    `json:"same_site,omitempty"`
}

// Expired reports whether the cookie has a fixed expiry at or before now.
// Session cookies (zero Expires) never expire here.
func (c Cookie) Expired(now time.Time) bool {
	return !c.Expires.IsZero() && !c.Expires.After(now)
}

// Session is the persisted cookie state for one domain.
type Session struct {
	Domain    string    `json:"domain"`
	Cookies   []Cookie  `json:"cookies"`
	SavedAt   time.Time `json:"saved_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TabHandle describes an open browser tab and the worker that owns it.
type TabHandle struct {
	ID       string    `json:"id"`
	URL      string    `json:"url"`
	OpenedAt time.Time `json:"opened_at"`
	Owner    string    `json:"owner"`
}

// ProfileConfig is the search profile read once at scheduler start.
type ProfileConfig struct {
	Keywords            []string `json:"keywords" mapstructure:"keywords"`
	PerKeywordPageLimit int      `json:"page_limit" mapstructure:"page_limit"`
	PerKeywordJobLimit  int      `json:"job_limit" mapstructure:"job_limit"`
}

// FetchResponse is the result of an HTTP detail-page fetch.
type FetchResponse struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}
