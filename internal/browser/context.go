package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/joblisting-crawler/internal/crawler"
)

const tabPollInterval = 200 * time.Millisecond

// Context is a chromedp browser context owned by one worker.
type Context struct {
	cfg              Config
	owner            string
	logger           *zap.Logger
	tabCtx           context.Context
	cancel           context.CancelFunc
	mainID           string
	browserContextID cdp.BrowserContextID
}

// scoped derives a chromedp context bounded by timeout and by the caller's ctx.
func (c *Context) scoped(ctx context.Context, base context.Context, timeout time.Duration) (context.Context, func()) {
	runCtx, cancel := context.WithTimeout(base, timeout)
	stop := forwardCancel(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

// MainTab returns the id of the context's main tab.
func (c *Context) MainTab() string {
	return c.mainID
}

// Navigate loads rawURL on the main tab, waits for the networkIdle lifecycle
// event (bounded by NetworkIdleTimeout) and then for the settle delay.
func (c *Context) Navigate(ctx context.Context, rawURL string) error {
	runCtx, done := c.scoped(ctx, c.tabCtx, c.cfg.NavigationTimeout)
	defer done()

	idle := make(chan struct{}, 1)
	listenCtx, stopListen := context.WithCancel(runCtx)
	defer stopListen()
	armed := make(chan struct{})
	chromedp.ListenTarget(listenCtx, func(ev any) {
		e, ok := ev.(*page.EventLifecycleEvent)
		if !ok || e.Name != "networkIdle" {
			return
		}
		select {
		case <-armed:
		default:
			return
		}
		select {
		case idle <- struct{}{}:
		default:
		}
	})

	if err := chromedp.Run(runCtx, page.SetLifecycleEventsEnabled(true)); err != nil {
		return c.navError(rawURL, err)
	}
	close(armed)
	if err := chromedp.Run(runCtx, chromedp.Navigate(rawURL)); err != nil {
		return c.navError(rawURL, err)
	}

	idleTimer := time.NewTimer(c.cfg.NetworkIdleTimeout)
	defer idleTimer.Stop()
	select {
	case <-idle:
	case <-idleTimer.C:
		c.logger.Debug("network idle not observed, continuing", zap.String("url", rawURL))
	case <-runCtx.Done():
		return c.navError(rawURL, runCtx.Err())
	}

	if c.cfg.SettleDelay > 0 {
		select {
		case <-time.After(c.cfg.SettleDelay):
		case <-runCtx.Done():
			return c.navError(rawURL, runCtx.Err())
		}
	}
	return nil
}

func (c *Context) navError(rawURL string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", crawler.ErrNavigationTimeout, rawURL)
	}
	return fmt.Errorf("navigate %s: %w", rawURL, err)
}

// CurrentURL returns the main tab's location.
func (c *Context) CurrentURL(ctx context.Context) (string, error) {
	runCtx, done := c.scoped(ctx, c.tabCtx, c.cfg.ActionTimeout)
	defer done()
	var loc string
	if err := chromedp.Run(runCtx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return loc, nil
}

type containerJS struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
	HTML  string `json:"html"`
}

// QueryContainers returns the rendered text and markup of every element
// matching selector on the main tab.
func (c *Context) QueryContainers(ctx context.Context, selector string) ([]crawler.ContainerSnapshot, error) {
	script, err := containerScript(selector)
	if err != nil {
		return nil, err
	}
	runCtx, done := c.scoped(ctx, c.tabCtx, c.cfg.ActionTimeout)
	defer done()
	var raw []containerJS
	if err := chromedp.Run(runCtx, chromedp.Evaluate(script, &raw)); err != nil {
		return nil, fmt.Errorf("query containers %q: %w", selector, err)
	}
	out := make([]crawler.ContainerSnapshot, 0, len(raw))
	for _, r := range raw {
		out = append(out, crawler.ContainerSnapshot{Index: r.Index, Text: r.Text, HTML: r.HTML})
	}
	return out, nil
}

func containerScript(selector string) (string, error) {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return "", fmt.Errorf("quote selector: %w", err)
	}
	return fmt.Sprintf(`(() => {
	let nodes;
	try { nodes = document.querySelectorAll(%s); } catch (e) { return []; }
	return Array.from(nodes).map((el, i) => ({index: i, text: el.innerText || "", html: el.outerHTML || ""}));
})()`, quoted), nil
}

// clickPath builds a DevTools JS path addressing the click target of ref.
func clickPath(ref crawler.ClickableRef) (string, error) {
	sel, err := json.Marshal(ref.Selector)
	if err != nil {
		return "", fmt.Errorf("quote selector: %w", err)
	}
	container := fmt.Sprintf("document.querySelectorAll(%s)[%d]", sel, ref.Index)
	if strings.TrimSpace(ref.Title) == "" {
		return container, nil
	}
	title, err := json.Marshal(ref.Title)
	if err != nil {
		return "", fmt.Errorf("quote title selector: %w", err)
	}
	return fmt.Sprintf("(%s.querySelector(%s) || %s)", container, title, container), nil
}

// Click performs a real mouse click on the referenced element.
func (c *Context) Click(ctx context.Context, ref crawler.ClickableRef) error {
	path, err := clickPath(ref)
	if err != nil {
		return err
	}
	runCtx, done := c.scoped(ctx, c.tabCtx, c.cfg.ActionTimeout)
	defer done()
	if err := chromedp.Run(runCtx,
		chromedp.ScrollIntoView(path, chromedp.ByJSPath),
		chromedp.Click(path, chromedp.ByJSPath, chromedp.NodeVisible),
	); err != nil {
		return fmt.Errorf("click %s: %w", ref.Key(), err)
	}
	return nil
}

// GoBack navigates the main tab back one history entry.
func (c *Context) GoBack(ctx context.Context) error {
	runCtx, done := c.scoped(ctx, c.tabCtx, c.cfg.NavigationTimeout)
	defer done()
	if err := chromedp.Run(runCtx, chromedp.NavigateBack()); err != nil {
		return fmt.Errorf("navigate back: %w", err)
	}
	return nil
}

// HTML returns the main tab's rendered document.
func (c *Context) HTML(ctx context.Context) (string, error) {
	runCtx, done := c.scoped(ctx, c.tabCtx, c.cfg.ActionTimeout)
	defer done()
	var html string
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read html: %w", err)
	}
	return html, nil
}

// Tabs lists the page targets belonging to this browser context.
func (c *Context) Tabs(ctx context.Context) ([]crawler.TabHandle, error) {
	runCtx, done := c.scoped(ctx, c.tabCtx, c.cfg.ActionTimeout)
	defer done()
	infos, err := chromedp.Targets(runCtx)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	out := make([]crawler.TabHandle, 0, len(infos))
	for _, info := range infos {
		if !c.ownsTarget(info) {
			continue
		}
		out = append(out, crawler.TabHandle{ID: string(info.TargetID), URL: info.URL, Owner: c.owner})
	}
	return out, nil
}

func (c *Context) ownsTarget(info *target.Info) bool {
	if info == nil || info.Type != "page" {
		return false
	}
	if c.browserContextID != "" {
		return info.BrowserContextID == c.browserContextID
	}
	return true
}

// WatchNewTab registers an observer for the next page target opened in this
// context. It must be called before the action that opens the tab.
func (c *Context) WatchNewTab(ctx context.Context) (<-chan string, func()) {
	watchCtx, cancel := context.WithCancel(c.tabCtx)
	stop := forwardCancel(ctx, cancel)
	ch := chromedp.WaitNewTarget(watchCtx, func(info *target.Info) bool {
		return info.TargetID != target.ID(c.mainID) && c.ownsTarget(info)
	})
	out := make(chan string, 1)
	go func() {
		select {
		case id, ok := <-ch:
			if ok && id != "" {
				out <- string(id)
			}
		case <-watchCtx.Done():
		}
	}()
	return out, func() {
		stop()
		cancel()
	}
}

// WaitTabURL polls the tab's target info until its location is neither blank
// nor changing between two polls. It never attaches to the tab, so the tab
// stays open until CloseTab.
func (c *Context) WaitTabURL(ctx context.Context, tabID string, timeout time.Duration) (string, error) {
	runCtx, done := c.scoped(ctx, c.tabCtx, timeout)
	defer done()

	ticker := time.NewTicker(tabPollInterval)
	defer ticker.Stop()
	var last string
	for {
		info, err := c.targetInfo(runCtx, tabID)
		if err == nil && info != nil {
			if settledLocation(last, info.URL) {
				return info.URL, nil
			}
			last = info.URL
		}
		select {
		case <-runCtx.Done():
			if ctx.Err() != nil {
				return last, fmt.Errorf("wait tab %s: %w", tabID, ctx.Err())
			}
			return last, fmt.Errorf("%w: tab %s last at %q", crawler.ErrLoadTimeout, tabID, last)
		case <-ticker.C:
		}
	}
}

// settledLocation reports whether two consecutive polls saw the same real location.
func settledLocation(prev, cur string) bool {
	return !isBlank(cur) && cur == prev
}

func (c *Context) targetInfo(ctx context.Context, tabID string) (*target.Info, error) {
	var info *target.Info
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		info, err = target.GetTargetInfo().WithTargetID(target.ID(tabID)).Do(c.browserExecutor(ctx))
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("target info %s: %w", tabID, err)
	}
	return info, nil
}

func (c *Context) browserExecutor(ctx context.Context) context.Context {
	return cdp.WithExecutor(ctx, chromedp.FromContext(ctx).Browser)
}

// OpenTab opens rawURL in a new tab of this browser context.
func (c *Context) OpenTab(ctx context.Context, rawURL string) (string, error) {
	runCtx, done := c.scoped(ctx, c.tabCtx, c.cfg.ActionTimeout)
	defer done()
	var id target.ID
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		create := target.CreateTarget(rawURL)
		if c.browserContextID != "" {
			create = create.WithBrowserContextID(c.browserContextID)
		}
		var err error
		id, err = create.Do(c.browserExecutor(ctx))
		return err
	}))
	if err != nil {
		return "", fmt.Errorf("open tab %s: %w", rawURL, err)
	}
	return string(id), nil
}

// CloseTab closes an ephemeral tab. The main tab cannot be closed this way.
func (c *Context) CloseTab(ctx context.Context, tabID string) error {
	if tabID == "" || tabID == c.mainID {
		return fmt.Errorf("refusing to close tab %q", tabID)
	}
	runCtx, done := c.scoped(ctx, c.tabCtx, c.cfg.ActionTimeout)
	defer done()
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return target.CloseTarget(target.ID(tabID)).Do(c.browserExecutor(ctx))
	}))
	if err != nil {
		return fmt.Errorf("close tab %s: %w", tabID, err)
	}
	return nil
}

// Cookies returns the cookies visible to urls.
func (c *Context) Cookies(ctx context.Context, urls ...string) ([]crawler.Cookie, error) {
	runCtx, done := c.scoped(ctx, c.tabCtx, c.cfg.ActionTimeout)
	defer done()
	var raw []*network.Cookie
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		get := network.GetCookies()
		if len(urls) > 0 {
			get = get.WithURLs(urls)
		}
		var err error
		raw, err = get.Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("get cookies: %w", err)
	}
	return fromNetworkCookies(raw), nil
}

// SetCookies installs cookies into this browser context.
func (c *Context) SetCookies(ctx context.Context, cookies []crawler.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	runCtx, done := c.scoped(ctx, c.tabCtx, c.cfg.ActionTimeout)
	defer done()
	return chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, ck := range cookies {
			if err := toSetCookie(ck).Do(ctx); err != nil {
				c.logger.Warn("set cookie failed", zap.String("name", ck.Name), zap.String("domain", ck.Domain), zap.Error(err))
			}
		}
		return nil
	}))
}

// Close closes the main tab and disposes of the browser context.
func (c *Context) Close() error {
	c.cancel()
	return nil
}

func isBlank(loc string) bool {
	loc = strings.TrimSpace(loc)
	return loc == "" || strings.HasPrefix(loc, "about:blank") || loc == "chrome://newtab/"
}
