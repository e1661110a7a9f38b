// Package detail turns a Stage 1 listing and its resolved URL into a finished
// JobRecord, fetching the listing's detail page when its summary is too thin.
package detail

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/joblisting-crawler/internal/crawler"
	"github.com/JakeFAU/joblisting-crawler/internal/validate"
)

// Config controls enrichment.
type Config struct {
	// MinSummaryLength is the summary length below which the detail page is fetched.
	MinSummaryLength int
	// MaxRetries bounds inline refetches of a retryable detail-page failure.
	MaxRetries           int
	RetryDelay           time.Duration
	DescriptionSelectors []string
}

func (c Config) withDefaults() Config {
	if c.MinSummaryLength <= 0 {
		c.MinSummaryLength = 200
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 500 * time.Millisecond
	}
	if len(c.DescriptionSelectors) == 0 {
		c.DescriptionSelectors = DefaultDescriptionSelectors
	}
	return c
}

// Resolver is the Stage 2 record builder.
type Resolver struct {
	cfg     Config
	fetcher crawler.DetailFetcher
	limiter crawler.RateLimiter
	clock   crawler.Clock
	stats   *crawler.RunStats
	logger  *zap.Logger
}

// New constructs a Resolver. A nil fetcher disables enrichment.
func New(
	cfg Config,
	fetcher crawler.DetailFetcher,
	limiter crawler.RateLimiter,
	clock crawler.Clock,
	stats *crawler.RunStats,
	logger *zap.Logger,
) *Resolver {
	if clock == nil {
		clock = utcClock{}
	}
	if stats == nil {
		stats = crawler.NewRunStats()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		cfg:     cfg.withDefaults(),
		fetcher: fetcher,
		limiter: limiter,
		clock:   clock,
		stats:   stats,
		logger:  logger,
	}
}

// Build merges listing with resolvedURL and, when needed, the detail page into
// a record with status scraped. A failed detail fetch leaves the Stage 1 fields.
func (r *Resolver) Build(ctx context.Context, listing crawler.RawListing, resolvedURL, sourceSite string) crawler.JobRecord {
	rec := crawler.JobRecord{
		Title:       strings.TrimSpace(listing.Title),
		Company:     strings.TrimSpace(listing.Company),
		Location:    strings.TrimSpace(listing.Location),
		Salary:      strings.TrimSpace(listing.SalaryText),
		Description: strings.TrimSpace(listing.SummaryText),
		URL:         resolvedURL,
		ApplySystem: validate.ApplySystem(resolvedURL, listing.SearchURL),
		SourceSite:  sourceSite,
		Keyword:     listing.SourceKeyword,
		ScrapedAt:   r.clock.Now(),
		Status:      crawler.JobStatusScraped,
	}
	if r.fetcher == nil || utf8.RuneCountInString(rec.Description) >= r.cfg.MinSummaryLength {
		return rec
	}
	target := detailURL(listing, resolvedURL)
	if target == "" {
		return rec
	}
	page, err := r.fetch(ctx, target)
	if err != nil {
		r.stats.IncDetailFetchFailures()
		r.logger.Warn("detail fetch failed, keeping search page fields",
			zap.String("url", target),
			zap.String("title", rec.Title),
			zap.Error(err),
		)
		return rec
	}
	return merge(rec, page)
}

// detailURL prefers the listing's own link on the search site and falls back
// to the resolved destination.
func detailURL(listing crawler.RawListing, resolvedURL string) string {
	if listing.ClickableRef.Href != "" {
		return listing.ClickableRef.Href
	}
	return resolvedURL
}

func (r *Resolver) fetch(ctx context.Context, target string) (Page, error) {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, r.cfg.RetryDelay); err != nil {
				return Page{}, err
			}
		}
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx, target); err != nil {
				return Page{}, err
			}
		}
		resp, err := r.fetcher.Fetch(ctx, target)
		if err == nil {
			return Extract(resp.Body, resp.URL, r.cfg.DescriptionSelectors)
		}
		lastErr = err
		if !crawler.IsRetryable(err) || errors.Is(err, context.Canceled) {
			break
		}
		r.logger.Info("retrying detail fetch", zap.String("url", target), zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return Page{}, lastErr
}

// merge overrides field by field: Stage 1 values win when present, except the
// description, which takes the longer text.
func merge(rec crawler.JobRecord, page Page) crawler.JobRecord {
	if rec.Title == "" {
		rec.Title = page.Title
	}
	if rec.Company == "" {
		rec.Company = page.Company
	}
	if rec.Location == "" {
		rec.Location = page.Location
	}
	if rec.Salary == "" {
		rec.Salary = page.Salary
	}
	if utf8.RuneCountInString(page.Description) > utf8.RuneCountInString(rec.Description) {
		rec.Description = page.Description
	}
	return rec
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
