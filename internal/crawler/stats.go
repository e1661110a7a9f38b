package crawler

import "sync/atomic"

// RunStats holds run-wide counters. All methods are safe for concurrent use.
type RunStats struct {
	tasksCreated        atomic.Int64
	tasksCompleted      atomic.Int64
	tasksRetried        atomic.Int64
	tasksSkipped        atomic.Int64
	pagesScraped        atomic.Int64
	pagesEmpty          atomic.Int64
	listingsFound       atomic.Int64
	jobsFound           atomic.Int64
	jobsSaved           atomic.Int64
	jobsFailed          atomic.Int64
	duplicatesSkipped   atomic.Int64
	invalidURLs         atomic.Int64
	tabsClosed          atomic.Int64
	resolveFailures     atomic.Int64
	extractionFailures  atomic.Int64
	detailFetchFailures atomic.Int64
}

// StatsSnapshot is a read-only copy of RunStats.
type StatsSnapshot struct {
	TasksCreated        int64 `json:"tasks_created"`
	TasksCompleted      int64 `json:"tasks_completed"`
	TasksRetried        int64 `json:"tasks_retried"`
	TasksSkipped        int64 `json:"tasks_skipped"`
	PagesScraped        int64 `json:"pages_scraped"`
	PagesEmpty          int64 `json:"pages_empty"`
	ListingsFound       int64 `json:"listings_found"`
	JobsFound           int64 `json:"jobs_found"`
	JobsSaved           int64 `json:"jobs_saved"`
	JobsFailed          int64 `json:"jobs_failed"`
	DuplicatesSkipped   int64 `json:"duplicates_skipped"`
	InvalidURLs         int64 `json:"invalid_urls"`
	TabsClosed          int64 `json:"tabs_closed"`
	ResolveFailures     int64 `json:"resolve_failures"`
	ExtractionFailures  int64 `json:"extraction_failures"`
	DetailFetchFailures int64 `json:"detail_fetch_failures"`
}

// NewRunStats returns zeroed counters.
func NewRunStats() *RunStats {
	return &RunStats{}
}

// Counter mutators.
func (s *RunStats) AddTasksCreated(n int64)  { s.tasksCreated.Add(n) }
func (s *RunStats) IncTasksCompleted()       { s.tasksCompleted.Add(1) }
func (s *RunStats) IncTasksRetried()         { s.tasksRetried.Add(1) }
func (s *RunStats) IncTasksSkipped()         { s.tasksSkipped.Add(1) }
func (s *RunStats) IncPagesScraped()         { s.pagesScraped.Add(1) }
func (s *RunStats) IncPagesEmpty()           { s.pagesEmpty.Add(1) }
func (s *RunStats) AddListingsFound(n int64) { s.listingsFound.Add(n) }
func (s *RunStats) IncJobsFound()            { s.jobsFound.Add(1) }
func (s *RunStats) IncJobsSaved()            { s.jobsSaved.Add(1) }
func (s *RunStats) IncJobsFailed()           { s.jobsFailed.Add(1) }
func (s *RunStats) IncDuplicatesSkipped()    { s.duplicatesSkipped.Add(1) }
func (s *RunStats) IncInvalidURLs()          { s.invalidURLs.Add(1) }
func (s *RunStats) IncTabsClosed()           { s.tabsClosed.Add(1) }
func (s *RunStats) IncResolveFailures()      { s.resolveFailures.Add(1) }
func (s *RunStats) IncExtractionFailures()   { s.extractionFailures.Add(1) }
func (s *RunStats) IncDetailFetchFailures()  { s.detailFetchFailures.Add(1) }

// Snapshot copies the current counter values.
func (s *RunStats) Snapshot() StatsSnapshot {
	if s == nil {
		return StatsSnapshot{}
	}
	return StatsSnapshot{
		TasksCreated:        s.tasksCreated.Load(),
		TasksCompleted:      s.tasksCompleted.Load(),
		TasksRetried:        s.tasksRetried.Load(),
		TasksSkipped:        s.tasksSkipped.Load(),
		PagesScraped:        s.pagesScraped.Load(),
		PagesEmpty:          s.pagesEmpty.Load(),
		ListingsFound:       s.listingsFound.Load(),
		JobsFound:           s.jobsFound.Load(),
		JobsSaved:           s.jobsSaved.Load(),
		JobsFailed:          s.jobsFailed.Load(),
		DuplicatesSkipped:   s.duplicatesSkipped.Load(),
		InvalidURLs:         s.invalidURLs.Load(),
		TabsClosed:          s.tabsClosed.Load(),
		ResolveFailures:     s.resolveFailures.Load(),
		ExtractionFailures:  s.extractionFailures.Load(),
		DetailFetchFailures: s.detailFetchFailures.Load(),
	}
}
