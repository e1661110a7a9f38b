// Package fakebrowser provides a scriptable in-memory crawler.Browser for tests.
package fakebrowser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/joblisting-crawler/internal/crawler"
)

// ClickKind selects what a scripted click does.
type ClickKind int

// Click behaviors.
const (
	// ClickNothing leaves the page untouched, so the resolver times out.
	ClickNothing ClickKind = iota
	// ClickOpensTab opens a new tab that loads URL.
	ClickOpensTab
	// ClickOpensStuckTab opens a tab that never finishes loading.
	ClickOpensStuckTab
	// ClickNavigates changes the main tab's URL in place.
	ClickNavigates
)

// ClickResult scripts the outcome of one click.
type ClickResult struct {
	Kind  ClickKind
	URL   string
	Delay time.Duration
}

// Page is the scripted content served for one URL.
type Page struct {
	Containers map[string][]crawler.ContainerSnapshot
	HTML       string
}

// Script drives every context created by a Browser.
type Script struct {
	Pages       map[string]Page
	Clicks      func(pageURL string, ref crawler.ClickableRef) ClickResult
	Redirects   map[string]string
	NavigateErr func(url string) error
	// Cookies seeds the jar of each new context by owner.
	Cookies func(owner string) []crawler.Cookie
}

// Browser is a fake crawler.Browser.
type Browser struct {
	mu            sync.Mutex
	script        *Script
	contexts      []*Context
	NewContextErr error
	closed        bool
}

// New returns a Browser driven by script.
func New(script *Script) *Browser {
	if script == nil {
		script = &Script{}
	}
	return &Browser{script: script}
}

// NewContext creates a fake browser context.
func (b *Browser) NewContext(_ context.Context, owner string) (crawler.BrowserContext, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.NewContextErr != nil {
		return nil, b.NewContextErr
	}
	c := &Context{
		script: b.script,
		owner:  owner,
		mainID: fmt.Sprintf("%s-main", owner),
		tabs:   map[string]*tab{},
	}
	if b.script.Cookies != nil {
		c.cookies = append(c.cookies, b.script.Cookies(owner)...)
	}
	b.contexts = append(b.contexts, c)
	return c, nil
}

// Contexts returns every context created so far.
func (b *Browser) Contexts() []*Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Context(nil), b.contexts...)
}

// Close marks the browser closed.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Closed reports whether Close was called.
func (b *Browser) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

type tab struct {
	url   string
	stuck bool
}

// Context is a fake crawler.BrowserContext.
type Context struct {
	mu          sync.Mutex
	script      *Script
	owner       string
	mainID      string
	current     string
	history     []string
	tabs        map[string]*tab
	nextTab     int
	watchers    map[int]chan string
	nextWatch   int
	cookies     []crawler.Cookie
	navigations []string
	clicks      int
	closedTabs  int
	closed      bool
}

// MainTab implements crawler.TabController.
func (c *Context) MainTab() string { return c.mainID }

// Navigate implements crawler.Page.
func (c *Context) Navigate(ctx context.Context, rawURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.script.NavigateErr != nil {
		if err := c.script.NavigateErr(rawURL); err != nil {
			return err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != "" {
		c.history = append(c.history, c.current)
	}
	c.current = rawURL
	c.navigations = append(c.navigations, rawURL)
	return nil
}

// CurrentURL implements crawler.Page.
func (c *Context) CurrentURL(context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, nil
}

// QueryContainers implements crawler.Page.
func (c *Context) QueryContainers(_ context.Context, selector string) ([]crawler.ContainerSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	page, ok := c.script.Pages[c.current]
	if !ok {
		return nil, nil
	}
	return append([]crawler.ContainerSnapshot(nil), page.Containers[selector]...), nil
}

// HTML implements crawler.Page.
func (c *Context) HTML(context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.script.Pages[c.current].HTML, nil
}

// Click implements crawler.Page.
func (c *Context) Click(_ context.Context, ref crawler.ClickableRef) error {
	c.mu.Lock()
	c.clicks++
	pageURL := c.current
	c.mu.Unlock()

	if c.script.Clicks == nil {
		return nil
	}
	res := c.script.Clicks(pageURL, ref)
	apply := func() {
		switch res.Kind {
		case ClickOpensTab:
			c.addTab(res.URL, false)
		case ClickOpensStuckTab:
			c.addTab(res.URL, true)
		case ClickNavigates:
			c.mu.Lock()
			c.history = append(c.history, c.current)
			c.current = res.URL
			c.mu.Unlock()
		}
	}
	if res.Delay > 0 {
		time.AfterFunc(res.Delay, apply)
		return nil
	}
	apply()
	return nil
}

// GoBack implements crawler.Page.
func (c *Context) GoBack(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.history) == 0 {
		return errors.New("no history")
	}
	c.current = c.history[len(c.history)-1]
	c.history = c.history[:len(c.history)-1]
	return nil
}

func (c *Context) addTab(rawURL string, stuck bool) string {
	c.mu.Lock()
	c.nextTab++
	id := fmt.Sprintf("%s-tab-%d", c.owner, c.nextTab)
	c.tabs[id] = &tab{url: rawURL, stuck: stuck}
	watchers := c.watchers
	c.watchers = nil
	c.mu.Unlock()
	for _, w := range watchers {
		select {
		case w <- id:
		default:
		}
	}
	return id
}

// Tabs implements crawler.TabController.
func (c *Context) Tabs(context.Context) ([]crawler.TabHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := []crawler.TabHandle{{ID: c.mainID, URL: c.current, Owner: c.owner}}
	for id, t := range c.tabs {
		out = append(out, crawler.TabHandle{ID: id, URL: t.url, Owner: c.owner})
	}
	return out, nil
}

// WatchNewTab implements crawler.TabController.
func (c *Context) WatchNewTab(context.Context) (<-chan string, func()) {
	ch := make(chan string, 1)
	c.mu.Lock()
	if c.watchers == nil {
		c.watchers = map[int]chan string{}
	}
	c.nextWatch++
	key := c.nextWatch
	c.watchers[key] = ch
	c.mu.Unlock()
	return ch, func() {
		c.mu.Lock()
		delete(c.watchers, key)
		c.mu.Unlock()
	}
}

// WaitTabURL implements crawler.TabController.
func (c *Context) WaitTabURL(ctx context.Context, tabID string, timeout time.Duration) (string, error) {
	c.mu.Lock()
	t, ok := c.tabs[tabID]
	var (
		loc   string
		stuck bool
	)
	if ok {
		loc, stuck = t.url, t.stuck
	}
	c.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("unknown tab %s", tabID)
	}
	if !stuck {
		return loc, nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-timer.C:
		return "", fmt.Errorf("%w: tab %s", crawler.ErrLoadTimeout, tabID)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// OpenTab implements crawler.TabController. Scripted redirects resolve immediately.
func (c *Context) OpenTab(_ context.Context, rawURL string) (string, error) {
	final := rawURL
	if dest, ok := c.script.Redirects[rawURL]; ok {
		final = dest
	}
	return c.addTab(final, false), nil
}

// CloseTab implements crawler.TabController.
func (c *Context) CloseTab(_ context.Context, tabID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tabID == c.mainID {
		return errors.New("cannot close main tab")
	}
	if _, ok := c.tabs[tabID]; !ok {
		return fmt.Errorf("unknown tab %s", tabID)
	}
	delete(c.tabs, tabID)
	c.closedTabs++
	return nil
}

// Cookies implements crawler.CookieJar.
func (c *Context) Cookies(context.Context, ...string) ([]crawler.Cookie, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]crawler.Cookie(nil), c.cookies...), nil
}

// SetCookies implements crawler.CookieJar.
func (c *Context) SetCookies(_ context.Context, cookies []crawler.Cookie) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cookies = append(c.cookies, cookies...)
	return nil
}

// Close implements crawler.BrowserContext.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// OpenTabCount returns the number of open tabs including the main tab.
func (c *Context) OpenTabCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tabs) + 1
}

// ClosedTabCount returns how many ephemeral tabs were closed.
func (c *Context) ClosedTabCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closedTabs
}

// Navigations returns every URL passed to Navigate.
func (c *Context) Navigations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.navigations...)
}

// ClickCount returns the number of clicks performed.
func (c *Context) ClickCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clicks
}

// IsClosed reports whether Close was called.
func (c *Context) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// OpenExtraTab opens an unsolicited tab, as an ad popup would.
func (c *Context) OpenExtraTab(rawURL string) string {
	return c.addTab(rawURL, false)
}
