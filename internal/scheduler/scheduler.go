// Package scheduler drives a crawl run: it fans keyword and page pairs out to
// the search stage, feeds the listings it finds to the resolve stage and joins
// both queues before reporting.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/joblisting-crawler/internal/crawler"
	"github.com/JakeFAU/joblisting-crawler/internal/dedup"
	"github.com/JakeFAU/joblisting-crawler/internal/detail"
	"github.com/JakeFAU/joblisting-crawler/internal/queue/memory"
	"github.com/JakeFAU/joblisting-crawler/internal/resolver"
	"github.com/JakeFAU/joblisting-crawler/internal/scraper"
	"github.com/JakeFAU/joblisting-crawler/internal/tabs"
	"github.com/JakeFAU/joblisting-crawler/internal/validate"
)

const (
	stageSearch  = "search"
	stageResolve = "resolve"

	sessionTimeout = 10 * time.Second
)

var (
	errTaskPanic   = errors.New("task panicked")
	errRunDeadline = errors.New("run deadline reached")
)

// Config sizes the worker pools and carries the per-stage settings.
type Config struct {
	SearchWorkers  int
	ResolveWorkers int
	QueueSize      int
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// BudgetWait is how long a listing waits for a job slot held by an in-flight listing.
	BudgetWait time.Duration
	// RunTimeout is a global deadline. When it passes, workers stop and the run
	// returns what it has.
	RunTimeout time.Duration

	Scraper   scraper.Config
	Detail    detail.Config
	Resolver  resolver.Config
	Tabs      tabs.Config
	Validator validate.Config
}

func (c Config) withDefaults() Config {
	if c.SearchWorkers <= 0 {
		c.SearchWorkers = 3
	}
	if c.ResolveWorkers <= 0 {
		c.ResolveWorkers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BudgetWait <= 0 {
		c.BudgetWait = 200 * time.Millisecond
	}
	return c
}

// Deps are the collaborators shared by every run. Browser and Sink are required.
type Deps struct {
	Browser   crawler.Browser
	Sink      crawler.PersistenceSink
	Sessions  crawler.SessionStore
	Publisher crawler.Publisher
	Parser    crawler.ListingParser
	Fetcher   crawler.DetailFetcher
	Limiter   crawler.RateLimiter
	Blobs     crawler.BlobStore
	Hasher    crawler.Hasher
	IDs       crawler.IDGenerator
	Clock     crawler.Clock
	Retry     crawler.RetryPolicy
	Logger    *zap.Logger
}

// Scheduler runs crawls. It is safe to run several crawls concurrently; each
// gets its own queues, browser contexts, deduplicator and stats.
type Scheduler struct {
	cfg       Config
	deps      Deps
	validator *validate.Validator
	logger    *zap.Logger
	runSeq    atomic.Int64
}

// Request describes one run.
type Request struct {
	RunID   string
	Profile crawler.ProfileConfig
}

// New validates deps and builds a Scheduler.
func New(cfg Config, deps Deps) (*Scheduler, error) {
	if deps.Browser == nil {
		return nil, errors.New("scheduler: browser is required")
	}
	if deps.Sink == nil {
		return nil, errors.New("scheduler: persistence sink is required")
	}
	cfg = cfg.withDefaults()
	if deps.Retry == nil {
		deps.Retry = crawler.NewExponentialRetryPolicy(cfg.RetryBaseDelay, cfg.RetryMaxDelay)
	}
	if deps.Clock == nil {
		deps.Clock = utcClock{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:       cfg,
		deps:      deps,
		validator: validate.New(cfg.Validator),
		logger:    deps.Logger,
	}, nil
}

// Run crawls keywords, at most maxPagesPerKeyword pages and maxJobsPerKeyword
// saved jobs each (non-positive means unlimited), and returns every finalized
// record with the run's stats.
func (s *Scheduler) Run(ctx context.Context, keywords []string, maxPagesPerKeyword, maxJobsPerKeyword int) ([]crawler.JobRecord, crawler.StatsSnapshot, error) {
	stats := crawler.NewRunStats()
	records, err := s.Execute(ctx, Request{Profile: crawler.ProfileConfig{
		Keywords:            keywords,
		PerKeywordPageLimit: maxPagesPerKeyword,
		PerKeywordJobLimit:  maxJobsPerKeyword,
	}}, stats)
	return records, stats.Snapshot(), err
}

// Execute is Run with caller-owned stats, so the caller can poll them mid-run.
func (s *Scheduler) Execute(ctx context.Context, req Request, stats *crawler.RunStats) ([]crawler.JobRecord, error) {
	keywords := normalizeKeywords(req.Profile.Keywords)
	if len(keywords) == 0 {
		return nil, crawler.ErrNoKeywords
	}
	pages := req.Profile.PerKeywordPageLimit
	if pages < 1 {
		pages = 1
	}
	if stats == nil {
		stats = crawler.NewRunStats()
	}
	runID := req.RunID
	if runID == "" {
		runID = s.newRunID()
	}

	runCtx, cancelRun := context.WithCancelCause(ctx)
	defer cancelRun(nil)
	if s.cfg.RunTimeout > 0 {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithTimeoutCause(runCtx, s.cfg.RunTimeout, errRunDeadline)
		defer cancelDeadline()
	}

	r := s.newRun(runID, stats, req.Profile.PerKeywordJobLimit, cancelRun)
	r.logger.Info("run started",
		zap.Strings("keywords", keywords),
		zap.Int("page_limit", pages),
		zap.Int("job_limit", req.Profile.PerKeywordJobLimit),
	)

	searchN := min(s.cfg.SearchWorkers, len(keywords)*pages)
	workers, err := r.openWorkers(runCtx, searchN, s.cfg.ResolveWorkers)
	if err != nil {
		r.logger.Error("could not open browser contexts", zap.Error(err))
		return nil, err
	}

	r.start(runCtx, workers)
	err = r.enqueueSearch(runCtx, keywords, pages)
	if err == nil {
		err = r.searchQ.Join(runCtx)
	}
	if err == nil {
		err = r.detailQ.Join(runCtx)
	}
	out := r.stop()
	r.closeWorkers(ctx, workers)

	snap := stats.Snapshot()
	r.logger.Info("run finished", zap.Any("stats", snap), zap.Int("records", len(out)))
	return out, r.result(ctx, runCtx, err)
}

func (r *run) result(parent, runCtx context.Context, err error) error {
	if runErr := r.failure(); runErr != nil {
		return runErr
	}
	if parent.Err() != nil {
		return fmt.Errorf("run canceled: %w", parent.Err())
	}
	if errors.Is(context.Cause(runCtx), errRunDeadline) {
		r.logger.Warn("run deadline reached, returning partial results")
		return nil
	}
	if err != nil {
		return fmt.Errorf("run %s: %w", r.id, err)
	}
	return nil
}

func (s *Scheduler) newRun(runID string, stats *crawler.RunStats, jobLimit int, cancel context.CancelCauseFunc) *run {
	logger := s.logger.With(zap.String("run_id", runID))
	scfg := s.cfg.Scraper
	scfg.RunID = runID
	return &run{
		s:       s,
		id:      runID,
		stats:   stats,
		logger:  logger,
		cancel:  cancel,
		scraper: scraper.New(scfg, s.deps.Parser, s.deps.Limiter, s.deps.Blobs, s.deps.Hasher, stats, logger),
		detail:  detail.New(s.cfg.Detail, s.deps.Fetcher, s.deps.Limiter, s.deps.Clock, stats, logger),
		dedup:   dedup.New(),
		budget:  newBudget(jobLimit),
		searchQ: memory.NewQueue[crawler.ScrapingTask](s.cfg.QueueSize),
		detailQ: memory.NewQueue[detailItem](s.cfg.QueueSize),
		records: make(chan crawler.JobRecord, s.cfg.QueueSize),
	}
}

func (s *Scheduler) newRunID() string {
	if s.deps.IDs != nil {
		if id, err := s.deps.IDs.NewID(); err == nil {
			return id
		}
	}
	return "run-" + strconv.FormatInt(s.runSeq.Add(1), 10)
}

func normalizeKeywords(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, k := range in {
		k = strings.Join(strings.Fields(k), " ")
		if k == "" {
			continue
		}
		key := strings.ToLower(k)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, k)
	}
	return out
}

// detailItem is a resolve task plus the listing it carries.
type detailItem struct {
	task    crawler.ScrapingTask
	listing crawler.RawListing
}

// run holds the state of one Execute call.
type run struct {
	s       *Scheduler
	id      string
	stats   *crawler.RunStats
	logger  *zap.Logger
	scraper *scraper.Scraper
	detail  *detail.Resolver
	dedup   *dedup.Deduplicator
	budget  *budget
	searchQ *memory.Queue[crawler.ScrapingTask]
	detailQ *memory.Queue[detailItem]
	records chan crawler.JobRecord
	taskSeq atomic.Int64

	cancel  context.CancelCauseFunc
	failMu  sync.Mutex
	failErr error

	stopWork  context.CancelFunc
	wg        sync.WaitGroup
	collected chan []crawler.JobRecord
}

// fail aborts the run with a terminal error. Only the first error is kept.
func (r *run) fail(err error) {
	r.failMu.Lock()
	defer r.failMu.Unlock()
	if r.failErr != nil {
		return
	}
	r.failErr = err
	r.logger.Error("run aborted", zap.Error(err))
	r.cancel(err)
}

func (r *run) failure() error {
	r.failMu.Lock()
	defer r.failMu.Unlock()
	return r.failErr
}

func (r *run) newTaskID(kind crawler.TaskType) string {
	return fmt.Sprintf("%s-%s-%d", r.id, kind, r.taskSeq.Add(1))
}

// enqueueSearch puts one search task per keyword and page, blocking while the
// queue is full.
func (r *run) enqueueSearch(ctx context.Context, keywords []string, pages int) error {
	for _, kw := range keywords {
		for page := 1; page <= pages; page++ {
			task := crawler.ScrapingTask{
				ID:         r.newTaskID(crawler.TaskTypeSearch),
				Type:       crawler.TaskTypeSearch,
				Keyword:    kw,
				Page:       page,
				Priority:   pages - page,
				MaxRetries: r.s.cfg.MaxRetries,
			}
			if err := r.searchQ.Put(ctx, task); err != nil {
				return fmt.Errorf("enqueue search task: %w", err)
			}
			r.stats.AddTasksCreated(1)
		}
	}
	return nil
}

// start launches the stage loops, the tab sweepers and the record collector.
func (r *run) start(ctx context.Context, workers []*worker) {
	workCtx, stop := context.WithCancel(ctx)
	r.stopWork = stop
	r.collected = make(chan []crawler.JobRecord, 1)
	go func() {
		var out []crawler.JobRecord
		for rec := range r.records {
			out = append(out, rec)
		}
		r.collected <- out
	}()
	for _, w := range workers {
		r.wg.Add(2)
		go func(w *worker) {
			defer r.wg.Done()
			w.tabs.Run(workCtx)
		}(w)
		go func(w *worker) {
			defer r.wg.Done()
			if w.stage == stageSearch {
				r.searchLoop(workCtx, w)
				return
			}
			r.resolveLoop(workCtx, w)
		}(w)
	}
}

// stop ends the worker loops and returns the collected records.
func (r *run) stop() []crawler.JobRecord {
	r.stopWork()
	r.searchQ.Close()
	r.detailQ.Close()
	r.wg.Wait()
	close(r.records)
	return <-r.collected
}

func (r *run) emit(rec crawler.JobRecord) {
	r.records <- rec
}

// guard runs fn and converts a panic into an error.
func guard[T any](fn func() (T, error)) (out T, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", errTaskPanic, rec)
		}
	}()
	return fn()
}

func outcome(err error) crawler.Outcome {
	if errors.Is(err, errTaskPanic) {
		return crawler.OutcomeTerminalItem
	}
	return crawler.Classify(err)
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
