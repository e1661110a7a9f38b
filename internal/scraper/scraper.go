package scraper

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/joblisting-crawler/internal/crawler"
	"github.com/JakeFAU/joblisting-crawler/internal/metrics"
)

// Config controls Stage 1.
type Config struct {
	Site       SearchSite
	Strategies []crawler.SelectorStrategy
	// Snapshots stores the rendered HTML of every search page when a BlobStore is set.
	Snapshots bool
	// RunID prefixes snapshot paths.
	RunID string
}

// Scraper loads search result pages and extracts raw listings.
type Scraper struct {
	cfg     Config
	parser  crawler.ListingParser
	limiter crawler.RateLimiter
	blobs   crawler.BlobStore
	hasher  crawler.Hasher
	stats   *crawler.RunStats
	logger  *zap.Logger
}

// New constructs a Scraper. A nil parser falls back to LineParser and empty
// strategies fall back to DefaultStrategies.
func New(
	cfg Config,
	parser crawler.ListingParser,
	limiter crawler.RateLimiter,
	blobs crawler.BlobStore,
	hasher crawler.Hasher,
	stats *crawler.RunStats,
	logger *zap.Logger,
) *Scraper {
	if len(cfg.Strategies) == 0 {
		cfg.Strategies = DefaultStrategies
	}
	if parser == nil {
		parser = NewLineParser()
	}
	if stats == nil {
		stats = crawler.NewRunStats()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scraper{
		cfg:     cfg,
		parser:  parser,
		limiter: limiter,
		blobs:   blobs,
		hasher:  hasher,
		stats:   stats,
		logger:  logger,
	}
}

// Site returns the configured search site.
func (s *Scraper) Site() SearchSite { return s.cfg.Site }

// ScrapePage navigates bctx to the task's search page and extracts its listings.
// It returns crawler.ErrNoListings when no selector strategy matches.
func (s *Scraper) ScrapePage(ctx context.Context, task crawler.ScrapingTask, bctx crawler.BrowserContext) ([]crawler.RawListing, error) {
	pageURL, err := s.cfg.Site.BuildURL(task.Keyword, task.Page)
	if err != nil {
		return nil, fmt.Errorf("build search url: %w", err)
	}
	site := s.cfg.Site.Name()
	logger := s.logger.With(
		zap.String("keyword", task.Keyword),
		zap.Int("page", task.Page),
		zap.Int("attempt", task.RetryCount+1),
		zap.String("url", pageURL),
	)

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, pageURL); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}
	if err := bctx.Navigate(ctx, pageURL); err != nil {
		metrics.ObservePage(site, "error")
		return nil, fmt.Errorf("navigate %s: %w", pageURL, err)
	}

	strategy, containers := s.locate(ctx, bctx, logger)
	s.snapshot(ctx, task, bctx, logger)
	if len(containers) == 0 {
		metrics.ObservePage(site, "empty")
		return nil, fmt.Errorf("%w: %s", crawler.ErrNoListings, pageURL)
	}

	listings := make([]crawler.RawListing, 0, len(containers))
	for _, c := range containers {
		listing, ok := s.extract(c, strategy, pageURL)
		if !ok {
			s.stats.IncExtractionFailures()
			logger.Warn("listing has no title", zap.Int("container", c.Index), zap.Error(crawler.ErrNoTitle))
			continue
		}
		listing.SourceKeyword = task.Keyword
		listing.PageNumber = task.Page
		listing.SearchURL = pageURL
		listings = append(listings, listing)
	}
	metrics.ObservePage(site, "ok")
	metrics.ObserveListings(site, len(listings))
	logger.Info("search page scraped",
		zap.String("strategy", strategy.Name),
		zap.Int("containers", len(containers)),
		zap.Int("listings", len(listings)),
	)
	return listings, nil
}

// locate tries every strategy in order and returns the first with containers.
func (s *Scraper) locate(ctx context.Context, bctx crawler.BrowserContext, logger *zap.Logger) (crawler.SelectorStrategy, []crawler.ContainerSnapshot) {
	for _, strategy := range s.cfg.Strategies {
		found, err := bctx.QueryContainers(ctx, strategy.Container)
		if err != nil {
			logger.Debug("selector strategy failed", zap.String("strategy", strategy.Name), zap.Error(err))
			continue
		}
		if len(found) > 0 {
			return strategy, found
		}
	}
	return crawler.SelectorStrategy{}, nil
}

func (s *Scraper) extract(c crawler.ContainerSnapshot, strategy crawler.SelectorStrategy, pageURL string) (crawler.RawListing, bool) {
	parsed, ok := s.parser.Parse(c.Text)
	title, href := fromHTML(c.HTML, strategy.Title, pageURL)
	if strings.TrimSpace(parsed.Title) == "" && title != "" {
		parsed.Title = title
		ok = true
	}
	if !ok || strings.TrimSpace(parsed.Title) == "" {
		return crawler.RawListing{}, false
	}
	return crawler.RawListing{
		Title:       parsed.Title,
		Company:     parsed.Company,
		Location:    parsed.Location,
		SalaryText:  parsed.Salary,
		SummaryText: parsed.Summary,
		ClickableRef: crawler.ClickableRef{
			Selector: strategy.Container,
			Index:    c.Index,
			Title:    strategy.Title,
			Href:     href,
		},
	}, true
}

// fromHTML reads the title element text and the first usable link of a container.
func fromHTML(html, titleSelector, pageURL string) (string, string) {
	if strings.TrimSpace(html) == "" {
		return "", ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", ""
	}
	var title, href string
	if titleSelector != "" {
		sel := doc.Find(titleSelector).First()
		title = strings.Join(strings.Fields(sel.Text()), " ")
		if h, ok := sel.Attr("href"); ok {
			href = crawler.ResolveReference(pageURL, h)
		}
		if href == "" {
			if h, ok := sel.Find("a[href]").First().Attr("href"); ok {
				href = crawler.ResolveReference(pageURL, h)
			}
		}
	}
	if href == "" {
		doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
			h, _ := a.Attr("href")
			href = crawler.ResolveReference(pageURL, h)
			return href == ""
		})
	}
	return title, href
}

func (s *Scraper) snapshot(ctx context.Context, task crawler.ScrapingTask, bctx crawler.BrowserContext, logger *zap.Logger) {
	if !s.cfg.Snapshots || s.blobs == nil {
		return
	}
	html, err := bctx.HTML(ctx)
	if err != nil {
		logger.Debug("read page html failed", zap.Error(err))
		return
	}
	body := []byte(html)
	hash := "nohash"
	if s.hasher != nil {
		if h, err := s.hasher.Hash(body); err == nil && len(h) >= 12 {
			hash = h[:12]
		}
	}
	uri, err := s.blobs.PutObject(ctx, s.snapshotPath(task, hash), "text/html; charset=utf-8", bytes.NewReader(body))
	if err != nil {
		logger.Warn("store page snapshot failed", zap.Error(err))
		return
	}
	logger.Debug("page snapshot stored", zap.String("blob_uri", uri))
}

func (s *Scraper) snapshotPath(task crawler.ScrapingTask, hash string) string {
	run := s.cfg.RunID
	if run == "" {
		run = "adhoc"
	}
	keyword := strings.ToLower(strings.Join(strings.Fields(task.Keyword), "-"))
	return fmt.Sprintf("snapshots/%s/%s/%d-%s.html", run, keyword, task.Page, hash)
}
