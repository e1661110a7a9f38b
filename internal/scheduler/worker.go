package scheduler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/joblisting-crawler/internal/crawler"
	"github.com/JakeFAU/joblisting-crawler/internal/dedup"
	"github.com/JakeFAU/joblisting-crawler/internal/metrics"
	"github.com/JakeFAU/joblisting-crawler/internal/resolver"
	"github.com/JakeFAU/joblisting-crawler/internal/session"
	"github.com/JakeFAU/joblisting-crawler/internal/tabs"
)

// worker owns one browser context for the whole run. Contexts are never shared.
type worker struct {
	name     string
	stage    string
	bctx     crawler.BrowserContext
	tabs     *tabs.Manager
	resolver *resolver.Resolver
	logger   *zap.Logger
}

// openWorkers creates every browser context up front so a launch failure
// aborts the run before any task is consumed.
func (r *run) openWorkers(ctx context.Context, searchN, resolveN int) ([]*worker, error) {
	workers := make([]*worker, 0, searchN+resolveN)
	open := func(stage string, i int) error {
		name := fmt.Sprintf("%s-%d", stage, i)
		bctx, err := r.s.deps.Browser.NewContext(ctx, name)
		if err != nil {
			if !errors.Is(err, crawler.ErrBrowserLaunch) {
				err = fmt.Errorf("%w: %s: %v", crawler.ErrBrowserLaunch, name, err)
			}
			return err
		}
		logger := r.logger.With(zap.String("worker", name), zap.String("stage", stage))
		w := &worker{
			name:   name,
			stage:  stage,
			bctx:   bctx,
			tabs:   tabs.New(bctx, r.s.cfg.Tabs, r.stats, r.s.deps.Clock, logger),
			logger: logger,
		}
		if stage == stageResolve {
			w.resolver = resolver.New(r.s.cfg.Resolver, w.tabs, name, logger)
		}
		r.restoreSession(ctx, w)
		workers = append(workers, w)
		return nil
	}
	for i := 0; i < searchN; i++ {
		if err := open(stageSearch, i); err != nil {
			r.closeWorkers(ctx, workers)
			return nil, err
		}
	}
	for i := 0; i < resolveN; i++ {
		if err := open(stageResolve, i); err != nil {
			r.closeWorkers(ctx, workers)
			return nil, err
		}
	}
	return workers, nil
}

func (r *run) sessionDomain() string { return r.scraper.Site().Name() }

func (r *run) restoreSession(ctx context.Context, w *worker) {
	if r.s.deps.Sessions == nil {
		return
	}
	cookies := r.s.deps.Sessions.Load(ctx, r.sessionDomain())
	if len(cookies) == 0 {
		return
	}
	if err := w.bctx.SetCookies(ctx, cookies); err != nil {
		w.logger.Warn("restore session cookies failed", zap.Error(err))
		return
	}
	w.logger.Debug("session restored", zap.Int("cookies", len(cookies)))
}

// closeWorkers merges the cookie jars of every context into one saved
// session and closes the contexts. It runs with a fresh deadline so teardown
// completes after cancellation.
func (r *run) closeWorkers(ctx context.Context, workers []*worker) {
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sessionTimeout)
	defer cancel()

	jars := make([][]crawler.Cookie, 0, len(workers))
	for _, w := range workers {
		if w.resolver != nil {
			if err := w.resolver.Settle(tctx); err != nil {
				w.logger.Warn("late tab watch did not finish", zap.Error(err))
			}
		}
		if r.s.deps.Sessions != nil {
			cookies, err := w.bctx.Cookies(tctx, r.scraper.Site().BaseURL)
			if err != nil {
				w.logger.Warn("read session cookies failed", zap.Error(err))
			} else {
				jars = append(jars, cookies)
			}
		}
		if err := w.bctx.Close(); err != nil {
			w.logger.Warn("close browser context failed", zap.Error(err))
		}
	}
	if r.s.deps.Sessions == nil || len(jars) == 0 {
		return
	}
	merged := session.Merge(jars...)
	if err := r.s.deps.Sessions.Save(tctx, r.sessionDomain(), merged); err != nil {
		r.logger.Warn("save session failed", zap.Error(err))
		return
	}
	r.logger.Debug("session saved", zap.Int("cookies", len(merged)), zap.Int("contexts", len(jars)))
}

func (r *run) searchLoop(ctx context.Context, w *worker) {
	for {
		task, err := r.searchQ.Get(ctx)
		if err != nil {
			return
		}
		r.handleSearch(ctx, w, task)
		r.searchQ.Done()
	}
}

func (r *run) handleSearch(ctx context.Context, w *worker, task crawler.ScrapingTask) {
	logger := taskLogger(w.logger, task)
	if r.budget.exhausted(task.Keyword) {
		r.stats.IncTasksSkipped()
		logger.Debug("job limit reached, skipping page")
		return
	}
	metrics.IncActiveWorkers(stageSearch)
	defer metrics.DecActiveWorkers(stageSearch)

	listings, err := guard(func() ([]crawler.RawListing, error) {
		return r.scraper.ScrapePage(ctx, task, w.bctx)
	})
	switch outcome(err) {
	case crawler.OutcomeOK:
		r.stats.IncPagesScraped()
		if len(listings) == 0 {
			r.stats.IncPagesEmpty()
		}
		r.stats.AddListingsFound(int64(len(listings)))
		for _, l := range listings {
			if err := r.enqueueDetail(ctx, task, l); err != nil {
				logger.Warn("could not hand listing to resolve stage", zap.Error(err))
				break
			}
		}
		r.stats.IncTasksCompleted()
	case crawler.OutcomeRetryable:
		if r.s.deps.Retry.ShouldRetry(task, err) {
			r.retrySearch(ctx, task, err, logger)
			return
		}
		if errors.Is(err, crawler.ErrNoListings) {
			r.stats.IncPagesScraped()
			r.stats.IncPagesEmpty()
			r.stats.IncTasksCompleted()
			logger.Info("no results for page", zap.Error(err))
			return
		}
		r.stats.IncTasksSkipped()
		logger.Warn("search page failed after retries", zap.Error(err))
	case crawler.OutcomeTerminalRun:
		r.stats.IncTasksSkipped()
		r.fail(err)
	default:
		r.stats.IncTasksSkipped()
		logger.Warn("search page dropped", zap.Error(err))
	}
}

func (r *run) retrySearch(ctx context.Context, task crawler.ScrapingTask, err error, logger *zap.Logger) {
	next := task.NextAttempt()
	delay := r.s.deps.Retry.Backoff(task.RetryCount)
	r.stats.IncTasksRetried()
	metrics.ObserveRetry(string(task.Type))
	logger.Info("retrying search page", zap.Duration("backoff", delay), zap.Bool("timeout", crawler.IsTimeout(err)), zap.Error(err))
	r.searchQ.Requeue(ctx, next, delay, func(crawler.ScrapingTask) { r.stats.IncTasksSkipped() })
}

func (r *run) enqueueDetail(ctx context.Context, search crawler.ScrapingTask, l crawler.RawListing) error {
	item := detailItem{
		task: crawler.ScrapingTask{
			ID:         r.newTaskID(crawler.TaskTypeResolve),
			Type:       crawler.TaskTypeResolve,
			Keyword:    search.Keyword,
			Page:       search.Page,
			Priority:   search.Priority,
			MaxRetries: r.s.cfg.MaxRetries,
		},
		listing: l,
	}
	if err := r.detailQ.Put(ctx, item); err != nil {
		return err
	}
	r.stats.AddTasksCreated(1)
	return nil
}

func (r *run) resolveLoop(ctx context.Context, w *worker) {
	for {
		item, err := r.detailQ.Get(ctx)
		if err != nil {
			return
		}
		r.handleDetail(ctx, w, item)
		r.detailQ.Done()
	}
}

func (r *run) handleDetail(ctx context.Context, w *worker, item detailItem) {
	task, kw := item.task, item.task.Keyword
	logger := taskLogger(w.logger, task).With(zap.String("title", item.listing.Title))
	if r.budget.exhausted(kw) {
		r.stats.IncTasksSkipped()
		logger.Debug("job limit reached, skipping listing")
		return
	}
	if !r.budget.reserve(kw) {
		r.detailQ.Requeue(ctx, item, r.s.cfg.BudgetWait, func(detailItem) { r.stats.IncTasksSkipped() })
		return
	}
	metrics.IncActiveWorkers(stageResolve)
	defer metrics.DecActiveWorkers(stageResolve)

	url, err := guard(func() (string, error) { return r.resolveListing(ctx, w, item.listing) })
	switch outcome(err) {
	case crawler.OutcomeOK:
		r.stats.IncJobsFound()
		r.finalize(ctx, item, url, logger)
		r.stats.IncTasksCompleted()
		return
	case crawler.OutcomeRetryable:
		r.budget.release(kw)
		if r.s.deps.Retry.ShouldRetry(task, err) {
			delay := r.s.deps.Retry.Backoff(task.RetryCount)
			item.task = task.NextAttempt()
			r.stats.IncTasksRetried()
			metrics.ObserveRetry(string(task.Type))
			logger.Info("retrying listing", zap.Duration("backoff", delay), zap.Bool("timeout", crawler.IsTimeout(err)), zap.Error(err))
			r.detailQ.Requeue(ctx, item, delay, func(detailItem) { r.stats.IncTasksSkipped() })
			return
		}
		r.stats.IncResolveFailures()
		r.stats.IncTasksSkipped()
		r.emitUnsaved(item.listing, "", crawler.JobStatusFailed)
		logger.Warn("listing could not be resolved", zap.Bool("timeout", crawler.IsTimeout(err)), zap.Error(err))
	case crawler.OutcomeTerminalRun:
		r.budget.release(kw)
		r.stats.IncTasksSkipped()
		r.fail(err)
	default:
		r.budget.release(kw)
		if errors.Is(err, crawler.ErrInvalidCapturedURL) {
			r.stats.IncInvalidURLs()
			r.stats.IncTasksCompleted()
			r.emitUnsaved(item.listing, "", crawler.JobStatusInvalid)
			logger.Warn("captured url rejected", zap.Error(err))
			return
		}
		r.stats.IncTasksSkipped()
		logger.Warn("listing dropped", zap.Error(err))
	}
}

// resolveListing puts the worker's context on the listing's search page and
// clicks through to the destination.
func (r *run) resolveListing(ctx context.Context, w *worker, l crawler.RawListing) (string, error) {
	if l.SearchURL != "" {
		cur, err := w.bctx.CurrentURL(ctx)
		if err != nil || cur != l.SearchURL {
			if r.s.deps.Limiter != nil {
				if err := r.s.deps.Limiter.Wait(ctx, l.SearchURL); err != nil {
					return "", fmt.Errorf("rate limit wait: %w", err)
				}
			}
			if err := w.bctx.Navigate(ctx, l.SearchURL); err != nil {
				return "", fmt.Errorf("open search page: %w", err)
			}
		}
	}
	return w.resolver.Resolve(ctx, l, w.bctx)
}

// finalize validates, enriches, deduplicates and saves a resolved listing.
func (r *run) finalize(ctx context.Context, item detailItem, url string, logger *zap.Logger) {
	kw := item.task.Keyword
	logger = logger.With(zap.String("url", url))
	if !r.s.validator.IsValid(url) {
		r.budget.release(kw)
		r.stats.IncInvalidURLs()
		r.emitUnsaved(item.listing, url, crawler.JobStatusInvalid)
		logger.Warn("resolved url rejected", zap.String("reason", r.s.validator.InvalidReason(url)))
		return
	}

	rec := r.detail.Build(ctx, item.listing, url, r.scraper.Site().Name())
	if reason := r.dedup.Check(rec); reason != dedup.ReasonNone {
		r.budget.release(kw)
		r.stats.IncDuplicatesSkipped()
		rec.Status = crawler.JobStatusDuplicate
		r.record(rec)
		logger.Info("duplicate listing skipped", zap.String("match", string(reason)))
		return
	}

	id, err := r.s.deps.Sink.AddJob(ctx, rec)
	switch {
	case errors.Is(err, crawler.ErrDuplicateJob):
		r.budget.release(kw)
		r.stats.IncDuplicatesSkipped()
		rec.Status = crawler.JobStatusDuplicate
		logger.Info("job already stored", zap.String("existing_id", id))
	case err != nil:
		r.budget.release(kw)
		r.stats.IncJobsFailed()
		rec.Status = crawler.JobStatusFailed
		logger.Error("save job failed", zap.Error(err))
	default:
		rec.ID = id
		r.budget.commit(kw)
		r.stats.IncJobsSaved()
		logger.Info("job saved",
			zap.String("job_id", id),
			zap.String("apply_system", rec.ApplySystem),
			zap.Bool("known_ats", r.s.validator.IsKnownATS(url)),
		)
		r.publish(ctx, rec, logger)
	}
	r.record(rec)
}

func (r *run) publish(ctx context.Context, rec crawler.JobRecord, logger *zap.Logger) {
	if r.s.deps.Publisher == nil {
		return
	}
	if err := r.s.deps.Publisher.Publish(ctx, rec); err != nil {
		logger.Warn("publish job failed", zap.Error(err))
	}
}

func (r *run) record(rec crawler.JobRecord) {
	metrics.ObserveJob(string(rec.Status))
	r.emit(rec)
}

// emitUnsaved records a listing that never reached the sink.
func (r *run) emitUnsaved(l crawler.RawListing, url string, status crawler.JobStatus) {
	r.record(crawler.JobRecord{
		Title:       l.Title,
		Company:     l.Company,
		Location:    l.Location,
		Salary:      l.SalaryText,
		Description: l.SummaryText,
		URL:         url,
		SourceSite:  r.scraper.Site().Name(),
		Keyword:     l.SourceKeyword,
		ScrapedAt:   r.s.deps.Clock.Now(),
		Status:      status,
	})
}

func taskLogger(l *zap.Logger, task crawler.ScrapingTask) *zap.Logger {
	return l.With(
		zap.String("task_id", task.ID),
		zap.String("keyword", task.Keyword),
		zap.Int("page", task.Page),
		zap.Int("attempt", task.RetryCount+1),
	)
}
