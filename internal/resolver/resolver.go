// Package resolver recovers a listing's real destination URL by clicking it
// and capturing the tab or navigation that follows.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/joblisting-crawler/internal/crawler"
	"github.com/JakeFAU/joblisting-crawler/internal/metrics"
	"github.com/JakeFAU/joblisting-crawler/internal/tabs"
)

// DefaultRedirectDomains are click-tracking hosts that sit between a listing
// and its real destination.
var DefaultRedirectDomains = []string{
	"*.appcast.io",
	"*.doubleclick.net",
	"*.clickcast.cloud",
	"*.recruitics.com",
	"*.jobg8.com",
	"lnkd.in",
	"bit.ly",
	"t.co",
}

// Config bounds every wait in the protocol.
type Config struct {
	PopupTimeout time.Duration
	LoadTimeout  time.Duration
	PollInterval time.Duration
	// LateTabGrace is how long a timed-out attempt keeps watching for its popup.
	// A tab that shows up in that window is closed and never handed to the next listing.
	LateTabGrace    time.Duration
	RedirectDomains []string
}

func (c Config) withDefaults() Config {
	if c.PopupTimeout <= 0 {
		c.PopupTimeout = 5 * time.Second
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = 12 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.LateTabGrace <= 0 {
		c.LateTabGrace = c.PopupTimeout
	}
	if c.RedirectDomains == nil {
		c.RedirectDomains = DefaultRedirectDomains
	}
	return c
}

// Resolver runs click-and-capture on one browser context. Instances are not
// shared between workers.
type Resolver struct {
	cfg       Config
	tabs      *tabs.Manager
	redirects *crawler.DomainPatterns
	owner     string
	logger    *zap.Logger

	// late is closed when the previous attempt's late-tab watch ends.
	late chan struct{}
}

// New builds a Resolver bound to the tab manager of the owning worker's context.
func New(cfg Config, tm *tabs.Manager, owner string, logger *zap.Logger) *Resolver {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		cfg:       cfg,
		tabs:      tm,
		redirects: crawler.NewDomainPatterns(cfg.RedirectDomains),
		owner:     owner,
		logger:    logger,
	}
}

// Resolve clicks listing's reference on bctx and returns the destination URL.
// Every tab opened on the way is closed before Resolve returns.
func (r *Resolver) Resolve(ctx context.Context, listing crawler.RawListing, bctx crawler.BrowserContext) (resolved string, err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveResolve(outcomeLabel(err), time.Since(start))
	}()

	if err := r.Settle(ctx); err != nil {
		return "", err
	}
	baseline, err := r.tabs.Baseline(ctx)
	if err != nil {
		return "", err
	}
	defer func() {
		if n := r.tabs.CloseNew(ctx, baseline, tabs.ReasonResolver); n > 0 {
			r.logger.Debug("closed stray tabs after resolve", zap.Int("count", n), zap.Int("tracked", r.tabs.Tracked()))
		}
	}()

	before, err := bctx.CurrentURL(ctx)
	if err != nil {
		return "", fmt.Errorf("read search page url: %w", err)
	}
	searchURL := listing.SearchURL
	if searchURL == "" {
		searchURL = before
	}

	newTab, stopWatch := bctx.WatchNewTab(ctx)
	handedOff := false
	defer func() {
		if !handedOff {
			stopWatch()
		}
	}()

	if err := bctx.Click(ctx, listing.ClickableRef); err != nil {
		return "", fmt.Errorf("click listing %q: %w", listing.Title, err)
	}

	captured, err := r.capture(ctx, bctx, newTab, before)
	if errors.Is(err, crawler.ErrResolveTimeout) {
		r.watchLate(ctx, newTab, stopWatch)
		handedOff = true
	}
	if err != nil {
		return "", err
	}
	if err := checkCaptured(captured, searchURL); err != nil {
		return "", err
	}

	if r.redirects.MatchURL(captured) {
		final, err := r.followRedirect(ctx, bctx, captured)
		if err != nil {
			return "", err
		}
		if err := checkCaptured(final, searchURL); err != nil {
			return "", err
		}
		captured = final
	}
	return captured, nil
}

// Settle blocks until the late-tab watch of a timed-out attempt has ended.
// Callers run it before closing the browser context.
func (r *Resolver) Settle(ctx context.Context) error {
	if r.late == nil {
		return nil
	}
	select {
	case <-r.late:
		r.late = nil
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for late tab: %w", ctx.Err())
	}
}

// watchLate keeps the timed-out attempt's watcher armed for LateTabGrace and
// closes a popup that opens in that window.
func (r *Resolver) watchLate(ctx context.Context, newTab <-chan string, stop func()) {
	done := make(chan struct{})
	r.late = done
	go func() {
		defer close(done)
		defer stop()
		timer := time.NewTimer(r.cfg.LateTabGrace)
		defer timer.Stop()
		select {
		case id := <-newTab:
			r.logger.Debug("closing popup that opened after the timeout", zap.String("tab_id", id))
			_ = r.tabs.Close(ctx, id, tabs.ReasonLate)
		case <-timer.C:
		case <-ctx.Done():
		}
	}()
}

// capture waits for a new tab or an in-place navigation, whichever comes first.
func (r *Resolver) capture(ctx context.Context, bctx crawler.BrowserContext, newTab <-chan string, before string) (string, error) {
	timer := time.NewTimer(r.cfg.PopupTimeout)
	defer timer.Stop()
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case id := <-newTab:
			return r.readTab(ctx, bctx, id)
		case <-ticker.C:
			cur, err := bctx.CurrentURL(ctx)
			if err != nil || cur == before || isBlank(cur) {
				continue
			}
			r.restore(ctx, bctx, before)
			return cur, nil
		case <-timer.C:
			return "", crawler.ErrResolveTimeout
		case <-ctx.Done():
			return "", fmt.Errorf("resolve interrupted: %w", ctx.Err())
		}
	}
}

// readTab waits for tab id to load, reads its URL and closes it.
func (r *Resolver) readTab(ctx context.Context, bctx crawler.BrowserContext, id string) (string, error) {
	r.tabs.Track(id, "", r.owner)
	defer func() {
		_ = r.tabs.Close(ctx, id, tabs.ReasonResolver)
	}()
	loc, err := bctx.WaitTabURL(ctx, id, r.cfg.LoadTimeout)
	if err != nil {
		if errors.Is(err, crawler.ErrLoadTimeout) {
			return "", err
		}
		return "", fmt.Errorf("read popup url: %w", err)
	}
	return loc, nil
}

// restore returns the main tab to the search page after an in-place navigation.
func (r *Resolver) restore(ctx context.Context, bctx crawler.BrowserContext, before string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.LoadTimeout)
	defer cancel()
	if err := bctx.GoBack(rctx); err == nil {
		if cur, err := bctx.CurrentURL(rctx); err == nil && cur == before {
			return
		}
	}
	if err := bctx.Navigate(rctx, before); err != nil {
		r.logger.Warn("could not return to search page", zap.String("url", before), zap.Error(err))
	}
}

// followRedirect opens captured in one more ephemeral tab and returns where it lands.
func (r *Resolver) followRedirect(ctx context.Context, bctx crawler.BrowserContext, captured string) (string, error) {
	id, err := bctx.OpenTab(ctx, captured)
	if err != nil {
		return "", fmt.Errorf("open redirect tab: %w", err)
	}
	r.tabs.Track(id, captured, r.owner)
	defer func() {
		_ = r.tabs.Close(ctx, id, tabs.ReasonResolver)
	}()
	final, err := bctx.WaitTabURL(ctx, id, r.cfg.LoadTimeout)
	if err != nil {
		return "", fmt.Errorf("follow redirect %s: %w", captured, err)
	}
	r.logger.Debug("followed redirect", zap.String("from", captured), zap.String("to", final))
	return final, nil
}

// checkCaptured rejects blank pages and URLs that land back on the search results.
func checkCaptured(captured, searchURL string) error {
	if isBlank(captured) {
		return fmt.Errorf("%w: blank page", crawler.ErrInvalidCapturedURL)
	}
	u, err := url.Parse(captured)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%w: %q is not absolute", crawler.ErrInvalidCapturedURL, captured)
	}
	if searchURL == "" {
		return nil
	}
	s, err := url.Parse(searchURL)
	if err != nil {
		return nil
	}
	if crawler.SameSite(captured, searchURL) && strings.TrimSuffix(u.Path, "/") == strings.TrimSuffix(s.Path, "/") {
		return fmt.Errorf("%w: %s is the search page", crawler.ErrInvalidCapturedURL, captured)
	}
	return nil
}

func isBlank(loc string) bool {
	loc = strings.TrimSpace(loc)
	return loc == "" || strings.HasPrefix(loc, "about:") || strings.HasPrefix(loc, "chrome://")
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, crawler.ErrResolveTimeout):
		return "popup_timeout"
	case errors.Is(err, crawler.ErrLoadTimeout):
		return "load_timeout"
	case errors.Is(err, crawler.ErrInvalidCapturedURL):
		return "invalid"
	default:
		return "error"
	}
}
