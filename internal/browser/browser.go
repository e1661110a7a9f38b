// Package browser implements the crawler browser abstractions on top of chromedp.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/joblisting-crawler/internal/crawler"
)

// Config controls browser launch and per-context timeouts.
type Config struct {
	Headless           bool
	UserAgent          string
	ProxyURL           string
	WindowWidth        int
	WindowHeight       int
	NavigationTimeout  time.Duration
	NetworkIdleTimeout time.Duration
	SettleDelay        time.Duration
	ActionTimeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 45 * time.Second
	}
	if c.NetworkIdleTimeout <= 0 {
		c.NetworkIdleTimeout = 10 * time.Second
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = 10 * time.Second
	}
	if c.WindowWidth <= 0 || c.WindowHeight <= 0 {
		c.WindowWidth, c.WindowHeight = 1366, 900
	}
	return c
}

func (c Config) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if c.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	opts = append(opts,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.NoFirstRun,
		chromedp.NoSandbox,
		chromedp.WindowSize(c.WindowWidth, c.WindowHeight),
	)
	if c.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(c.UserAgent))
	}
	if c.ProxyURL != "" {
		opts = append(opts, chromedp.ProxyServer(c.ProxyURL))
	}
	return opts
}

// Chromedp owns one browser process. Each NewContext call opens an isolated
// browser context (separate cookie jar) with its own main tab.
type Chromedp struct {
	cfg           Config
	logger        *zap.Logger
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// NewChromedp launches the browser. Launch failures wrap crawler.ErrBrowserLaunch.
func NewChromedp(cfg Config, logger *zap.Logger) (*Chromedp, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), cfg.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("%w: %w", crawler.ErrBrowserLaunch, err)
	}
	logger.Info("browser launched", zap.Bool("headless", cfg.Headless))
	return &Chromedp{
		cfg:           cfg,
		logger:        logger,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// NewContext opens an isolated browser context for owner.
func (b *Chromedp) NewContext(ctx context.Context, owner string) (crawler.BrowserContext, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("%w: browser closed", crawler.ErrBrowserLaunch)
	}

	tabCtx, tabCancel := chromedp.NewContext(b.browserCtx, chromedp.WithNewBrowserContext())

	// The first Run attaches the target and starts its event loop on the
	// context it is given, so it must run on tabCtx itself, without a deadline.
	stopAttach := forwardCancel(ctx, tabCancel)
	err := chromedp.Run(tabCtx)
	stopAttach()
	if err != nil {
		tabCancel()
		return nil, fmt.Errorf("%w: open context for %s: %w", crawler.ErrBrowserLaunch, owner, err)
	}

	runCtx, cancel := context.WithTimeout(tabCtx, b.cfg.NavigationTimeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, b.setupAction()); err != nil {
		tabCancel()
		return nil, fmt.Errorf("%w: set up context for %s: %w", crawler.ErrBrowserLaunch, owner, err)
	}
	c := chromedp.FromContext(tabCtx)
	bc := &Context{
		cfg:              b.cfg,
		owner:            owner,
		logger:           b.logger.With(zap.String("owner", owner)),
		tabCtx:           tabCtx,
		cancel:           tabCancel,
		mainID:           string(c.Target.TargetID),
		browserContextID: c.BrowserContextID,
	}
	bc.logger.Debug("browser context opened", zap.String("tab_id", bc.mainID))
	return bc, nil
}

func (b *Chromedp) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// Close shuts the browser down.
func (b *Chromedp) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.browserCancel()
	b.allocCancel()
	return nil
}

// forwardCancel cancels a chromedp-derived context when parent is done.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
