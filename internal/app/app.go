// Package app turns a loaded Config into long-lived services: the browser,
// the persistence sink and the optional backends, plus a ready Scheduler.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/joblisting-crawler/internal/browser"
	"github.com/JakeFAU/joblisting-crawler/internal/clock/system"
	"github.com/JakeFAU/joblisting-crawler/internal/config"
	"github.com/JakeFAU/joblisting-crawler/internal/crawler"
	"github.com/JakeFAU/joblisting-crawler/internal/detail"
	collyfetcher "github.com/JakeFAU/joblisting-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/joblisting-crawler/internal/hash/sha256"
	"github.com/JakeFAU/joblisting-crawler/internal/id/uuid"
	"github.com/JakeFAU/joblisting-crawler/internal/metrics"
	"github.com/JakeFAU/joblisting-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/joblisting-crawler/internal/publisher/kafka"
	pubmemory "github.com/JakeFAU/joblisting-crawler/internal/publisher/memory"
	"github.com/JakeFAU/joblisting-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/joblisting-crawler/internal/resolver"
	"github.com/JakeFAU/joblisting-crawler/internal/scheduler"
	"github.com/JakeFAU/joblisting-crawler/internal/scraper"
	"github.com/JakeFAU/joblisting-crawler/internal/session"
	"github.com/JakeFAU/joblisting-crawler/internal/storage/gcs"
	"github.com/JakeFAU/joblisting-crawler/internal/storage/local"
	"github.com/JakeFAU/joblisting-crawler/internal/storage/memory"
	"github.com/JakeFAU/joblisting-crawler/internal/storage/postgres"
	"github.com/JakeFAU/joblisting-crawler/internal/tabs"
	"github.com/JakeFAU/joblisting-crawler/internal/validate"
)

// App holds the shared services for one process.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Scheduler *scheduler.Scheduler
	Sink      crawler.PersistenceSink
	Sessions  crawler.SessionStore
	Publisher crawler.Publisher
	Blobs     crawler.BlobStore
	IDs       crawler.IDGenerator
	Clock     crawler.Clock

	closers []closer
}

type closer struct {
	name string
	fn   func() error
}

// Option customizes construction, mainly so tests can swap in fakes.
type Option func(*options)

type options struct {
	browser crawler.Browser
	sink    crawler.PersistenceSink
}

// WithBrowser uses b instead of launching Chrome. The caller keeps ownership of b.
func WithBrowser(b crawler.Browser) Option {
	return func(o *options) { o.browser = b }
}

// WithSink uses sink instead of the configured sink backend.
func WithSink(sink crawler.PersistenceSink) Option {
	return func(o *options) { o.sink = sink }
}

// New builds every service named by cfg. On error, anything already opened is closed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	a := &App{
		Config: cfg,
		Logger: logger,
		IDs:    uuid.New(),
		Clock:  system.New(),
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	logger.Info("initializing application services",
		zap.String("sink", cfg.Sink.Backend),
		zap.String("session", cfg.Session.Backend),
		zap.String("blob", cfg.Blob.Backend),
		zap.String("publisher", cfg.Publisher.Backend),
	)

	if o.sink != nil {
		a.Sink = o.sink
	} else if a.Sink, err = a.openSink(ctx); err != nil {
		return nil, err
	}
	if a.Sessions, err = a.openSessions(); err != nil {
		return nil, err
	}
	if a.Blobs, err = a.openBlobs(ctx); err != nil {
		return nil, err
	}
	if a.Publisher, err = a.openPublisher(ctx); err != nil {
		return nil, err
	}

	b := o.browser
	if b == nil {
		chrome, err := browser.NewChromedp(BrowserConfig(cfg), logger.Named("browser"))
		if err != nil {
			return nil, err
		}
		a.onClose("browser", chrome.Close)
		b = chrome
	}

	deps := scheduler.Deps{
		Browser:   b,
		Sink:      a.Sink,
		Sessions:  a.Sessions,
		Publisher: a.Publisher,
		Parser:    scraper.NewLineParser(),
		Fetcher:   collyfetcher.New(FetcherConfig(cfg), logger.Named("fetcher")),
		Limiter:   ratelimit.New(ratelimit.Config{RPS: cfg.RateLimit.RPS, Burst: cfg.RateLimit.Burst, PerHost: cfg.RateLimit.PerHost}),
		Blobs:     a.Blobs,
		Hasher:    sha256.New(),
		IDs:       a.IDs,
		Clock:     a.Clock,
		Logger:    logger.Named("scheduler"),
	}
	if a.Scheduler, err = scheduler.New(SchedulerConfig(cfg), deps); err != nil {
		return nil, fmt.Errorf("build scheduler: %w", err)
	}

	logger.Info("application services initialized")
	return a, nil
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) openSink(ctx context.Context) (crawler.PersistenceSink, error) {
	cfg := a.Config.Sink
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.NewJobStore(a.IDs), nil
	case config.BackendPostgres:
		store, err := postgres.NewJobStore(ctx, postgres.Config{
			DSN:             cfg.Postgres.DSN,
			Table:           cfg.Postgres.Table,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
		}, a.IDs)
		if err != nil {
			return nil, fmt.Errorf("open postgres sink: %w", err)
		}
		a.onClose("postgres", func() error {
			store.Close()
			return nil
		})
		return store, nil
	default:
		return nil, fmt.Errorf("unknown sink backend %q", cfg.Backend)
	}
}

func (a *App) openSessions() (crawler.SessionStore, error) {
	cfg := a.Config.Session
	logger := a.Logger.Named("session")
	switch cfg.Backend {
	case config.BackendNone:
		return session.Noop{}, nil
	case config.BackendFile:
		store, err := session.NewFileStore(session.FileConfig{Dir: cfg.Dir, TTL: cfg.TTL}, a.Clock, logger)
		if err != nil {
			return nil, fmt.Errorf("open file session store: %w", err)
		}
		return store, nil
	case config.BackendRedis:
		store, err := session.NewRedisStore(session.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.TTL,
		}, a.Clock, logger)
		if err != nil {
			return nil, fmt.Errorf("open redis session store: %w", err)
		}
		a.onClose("redis", store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}

func (a *App) openBlobs(ctx context.Context) (crawler.BlobStore, error) {
	cfg := a.Config.Blob
	switch cfg.Backend {
	case config.BackendNone:
		return nil, nil
	case config.BackendMemory:
		return memory.NewBlobStore(), nil
	case config.BackendLocal:
		store, err := local.New(local.Config{BaseDir: cfg.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("open local blob store: %w", err)
		}
		return store, nil
	case config.BackendGCS:
		store, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.GCS.Bucket, Prefix: cfg.GCS.Prefix})
		if err != nil {
			return nil, fmt.Errorf("open gcs blob store: %w", err)
		}
		a.onClose("gcs", store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Backend)
	}
}

func (a *App) openPublisher(ctx context.Context) (crawler.Publisher, error) {
	cfg := a.Config.Publisher
	switch cfg.Backend {
	case config.BackendNone:
		return nil, nil
	case config.BackendMemory:
		return pubmemory.New(), nil
	case config.BackendPubSub:
		pub, err := pubsub.Open(ctx, pubsub.Config{ProjectID: cfg.PubSub.ProjectID, Topic: cfg.PubSub.Topic}, a.Clock)
		if err != nil {
			return nil, fmt.Errorf("open pubsub publisher: %w", err)
		}
		a.onClose("pubsub", pub.Close)
		return pub, nil
	case config.BackendKafka:
		pub, err := kafka.New(kafka.Config{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic}, a.Clock)
		if err != nil {
			return nil, fmt.Errorf("open kafka publisher: %w", err)
		}
		a.onClose("kafka", pub.Close)
		return pub, nil
	default:
		return nil, fmt.Errorf("unknown publisher backend %q", cfg.Backend)
	}
}

// Close releases services in reverse order of creation and joins their errors.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.Logger.Warn("error closing service", zap.String("service", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// SchedulerConfig maps the pipeline sections of cfg onto scheduler.Config.
func SchedulerConfig(cfg config.Config) scheduler.Config {
	return scheduler.Config{
		SearchWorkers:  cfg.Pipeline.SearchWorkers,
		ResolveWorkers: cfg.Pipeline.ResolveWorkers,
		QueueSize:      cfg.Pipeline.QueueSize,
		MaxRetries:     cfg.Pipeline.MaxRetries,
		RetryBaseDelay: cfg.Pipeline.RetryBaseDelay,
		RetryMaxDelay:  cfg.Pipeline.RetryMaxDelay,
		BudgetWait:     cfg.Pipeline.BudgetWait,
		RunTimeout:     cfg.Pipeline.RunTimeout,
		Scraper: scraper.Config{
			Site: scraper.SearchSite{
				BaseURL:      cfg.Search.BaseURL,
				KeywordParam: cfg.Search.KeywordParam,
				PageParam:    cfg.Search.PageParam,
				FirstPage:    cfg.Search.FirstPage,
				PageStep:     cfg.Search.PageStep,
				ExtraParams:  cfg.Search.ExtraParams,
			},
			Strategies: cfg.Search.Strategies,
			Snapshots:  cfg.Pipeline.Snapshots,
		},
		Detail: detail.Config{
			MinSummaryLength:     cfg.Detail.MinSummaryLength,
			MaxRetries:           cfg.Detail.MaxRetries,
			RetryDelay:           cfg.Detail.RetryDelay,
			DescriptionSelectors: cfg.Detail.DescriptionSelectors,
		},
		Resolver: resolver.Config{
			PopupTimeout:    cfg.Resolver.PopupTimeout,
			LoadTimeout:     cfg.Resolver.LoadTimeout,
			PollInterval:    cfg.Resolver.PollInterval,
			LateTabGrace:    cfg.Resolver.LateTabGrace,
			RedirectDomains: cfg.Resolver.RedirectDomains,
		},
		Tabs: tabs.Config{
			MaxExtraTabs:  cfg.Tabs.MaxExtraTabs,
			SweepInterval: cfg.Tabs.SweepInterval,
		},
		Validator: validate.Config{
			MinLength:        cfg.Validator.MinLength,
			MinPathSegments:  cfg.Validator.MinPathSegments,
			ExtraATSDomains:  cfg.Validator.ExtraATSDomains,
			ExtraJobKeywords: cfg.Validator.ExtraJobKeywords,
		},
	}
}

// BrowserConfig maps the browser section of cfg onto browser.Config.
func BrowserConfig(cfg config.Config) browser.Config {
	return browser.Config{
		Headless:           cfg.Browser.Headless,
		UserAgent:          cfg.Browser.UserAgent,
		ProxyURL:           cfg.Browser.ProxyURL,
		WindowWidth:        cfg.Browser.WindowWidth,
		WindowHeight:       cfg.Browser.WindowHeight,
		NavigationTimeout:  cfg.Browser.NavigationTimeout,
		NetworkIdleTimeout: cfg.Browser.NetworkIdleTimeout,
		SettleDelay:        cfg.Browser.SettleDelay,
		ActionTimeout:      cfg.Browser.ActionTimeout,
	}
}

// FetcherConfig maps the detail section of cfg onto the colly fetcher config.
func FetcherConfig(cfg config.Config) collyfetcher.Config {
	return collyfetcher.Config{
		UserAgent:     cfg.Detail.UserAgent,
		RespectRobots: cfg.Detail.RespectRobots,
		Timeout:       cfg.Detail.FetchTimeout,
		MaxBodyBytes:  cfg.Detail.MaxBodyBytes,
	}
}
