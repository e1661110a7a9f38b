package resolver

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/joblisting-crawler/internal/browser/fakebrowser"
	"github.com/JakeFAU/joblisting-crawler/internal/crawler"
	"github.com/JakeFAU/joblisting-crawler/internal/tabs"
)

const searchURL = "https://www.example.ca/jobs?q=python&page=1"

type harness struct {
	bctx     *fakebrowser.Context
	stats    *crawler.RunStats
	resolver *Resolver
}

func newHarness(t *testing.T, script *fakebrowser.Script) harness {
	t.Helper()
	return newHarnessWithConfig(t, script, Config{
		PopupTimeout: 40 * time.Millisecond,
		LoadTimeout:  40 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	})
}

func newHarnessWithConfig(t *testing.T, script *fakebrowser.Script, cfg Config) harness {
	t.Helper()
	b := fakebrowser.New(script)
	bc, err := b.NewContext(context.Background(), "resolve-0")
	require.NoError(t, err)
	require.NoError(t, bc.Navigate(context.Background(), searchURL))
	stats := crawler.NewRunStats()
	tm := tabs.New(bc, tabs.Config{MaxExtraTabs: 3}, stats, nil, zap.NewNop())
	r := New(cfg, tm, "resolve-0", zap.NewNop())
	return harness{bctx: bc.(*fakebrowser.Context), stats: stats, resolver: r}
}

func listing(index int) crawler.RawListing {
	return crawler.RawListing{
		Title:         fmt.Sprintf("Python Developer %d", index),
		SourceKeyword: "python",
		PageNumber:    1,
		SearchURL:     searchURL,
		ClickableRef:  crawler.ClickableRef{Selector: ".job-card", Index: index},
	}
}

func clicks(results map[int]fakebrowser.ClickResult) func(string, crawler.ClickableRef) fakebrowser.ClickResult {
	return func(_ string, ref crawler.ClickableRef) fakebrowser.ClickResult {
		return results[ref.Index]
	}
}

func TestResolve_NewTab(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakebrowser.Script{Clicks: clicks(map[int]fakebrowser.ClickResult{
		0: {Kind: fakebrowser.ClickOpensTab, URL: "https://boards.greenhouse.io/acme/jobs/1"},
	})})

	got, err := h.resolver.Resolve(context.Background(), listing(0), h.bctx)
	require.NoError(t, err)
	require.Equal(t, "https://boards.greenhouse.io/acme/jobs/1", got)
	require.Equal(t, 1, h.bctx.OpenTabCount())
	require.EqualValues(t, 1, h.stats.Snapshot().TabsClosed)
}

func TestResolve_InPageNavigationReturnsToSearch(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakebrowser.Script{Clicks: clicks(map[int]fakebrowser.ClickResult{
		0: {Kind: fakebrowser.ClickNavigates, URL: "https://www.example.ca/viewjob?jk=abc"},
	})})

	got, err := h.resolver.Resolve(context.Background(), listing(0), h.bctx)
	require.NoError(t, err)
	require.Equal(t, "https://www.example.ca/viewjob?jk=abc", got)
	cur, err := h.bctx.CurrentURL(context.Background())
	require.NoError(t, err)
	require.Equal(t, searchURL, cur)
}

func TestResolve_PopupTimeoutIsRetryable(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakebrowser.Script{Clicks: clicks(nil)})

	_, err := h.resolver.Resolve(context.Background(), listing(0), h.bctx)
	require.ErrorIs(t, err, crawler.ErrResolveTimeout)
	require.True(t, crawler.IsRetryable(err))
	require.Equal(t, 1, h.bctx.OpenTabCount())
}

func TestResolve_LoadTimeoutClosesTab(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakebrowser.Script{Clicks: clicks(map[int]fakebrowser.ClickResult{
		0: {Kind: fakebrowser.ClickOpensStuckTab, URL: "https://slow.example/jobs/1"},
	})})

	_, err := h.resolver.Resolve(context.Background(), listing(0), h.bctx)
	require.ErrorIs(t, err, crawler.ErrLoadTimeout)
	require.True(t, crawler.IsRetryable(err))
	require.Equal(t, 1, h.bctx.OpenTabCount())
	require.EqualValues(t, 1, h.stats.Snapshot().TabsClosed)
}

func TestResolve_SearchPageCaptureIsTerminal(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakebrowser.Script{Clicks: clicks(map[int]fakebrowser.ClickResult{
		0: {Kind: fakebrowser.ClickOpensTab, URL: "https://example.ca/jobs?q=python&page=1&from=popup"},
		1: {Kind: fakebrowser.ClickOpensTab, URL: "about:blank"},
	})})

	_, err := h.resolver.Resolve(context.Background(), listing(0), h.bctx)
	require.ErrorIs(t, err, crawler.ErrInvalidCapturedURL)
	require.Equal(t, crawler.OutcomeTerminalItem, crawler.Classify(err))

	_, err = h.resolver.Resolve(context.Background(), listing(1), h.bctx)
	require.ErrorIs(t, err, crawler.ErrInvalidCapturedURL)
	require.Equal(t, 1, h.bctx.OpenTabCount())
}

func TestResolve_FollowsRedirector(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakebrowser.Script{
		Clicks: clicks(map[int]fakebrowser.ClickResult{
			0: {Kind: fakebrowser.ClickOpensTab, URL: "https://click.appcast.io/track/xyz"},
		}),
		Redirects: map[string]string{
			"https://click.appcast.io/track/xyz": "https://jobs.lever.co/acme/123",
		},
	})

	got, err := h.resolver.Resolve(context.Background(), listing(0), h.bctx)
	require.NoError(t, err)
	require.Equal(t, "https://jobs.lever.co/acme/123", got)
	require.Equal(t, 1, h.bctx.OpenTabCount())
	require.EqualValues(t, 2, h.stats.Snapshot().TabsClosed)
}

func TestResolve_LatePopupBelongsToItsOwnAttempt(t *testing.T) {
	t.Parallel()

	h := newHarnessWithConfig(t, &fakebrowser.Script{Clicks: clicks(map[int]fakebrowser.ClickResult{
		0: {Kind: fakebrowser.ClickOpensTab, URL: "https://boards.greenhouse.io/acme/jobs/111", Delay: 60 * time.Millisecond},
		1: {Kind: fakebrowser.ClickNothing},
	})}, Config{
		PopupTimeout: 40 * time.Millisecond,
		LoadTimeout:  40 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
		LateTabGrace: 500 * time.Millisecond,
	})
	before := h.bctx.OpenTabCount()

	_, err := h.resolver.Resolve(context.Background(), listing(0), h.bctx)
	require.ErrorIs(t, err, crawler.ErrResolveTimeout)

	got, err := h.resolver.Resolve(context.Background(), listing(1), h.bctx)
	require.ErrorIs(t, err, crawler.ErrResolveTimeout)
	require.Empty(t, got)

	require.NoError(t, h.resolver.Settle(context.Background()))
	require.Equal(t, before, h.bctx.OpenTabCount())
	require.EqualValues(t, 1, h.stats.Snapshot().TabsClosed)
}

func TestResolve_LatePopupClosedAfterLastAttempt(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakebrowser.Script{Clicks: clicks(map[int]fakebrowser.ClickResult{
		0: {Kind: fakebrowser.ClickOpensTab, URL: "https://boards.greenhouse.io/acme/jobs/112", Delay: 50 * time.Millisecond},
	})})
	h.resolver.cfg.LateTabGrace = 500 * time.Millisecond
	before := h.bctx.OpenTabCount()

	_, err := h.resolver.Resolve(context.Background(), listing(0), h.bctx)
	require.ErrorIs(t, err, crawler.ErrResolveTimeout)
	require.NoError(t, h.resolver.Settle(context.Background()))
	require.Equal(t, before, h.bctx.OpenTabCount())
}

func TestSettleHonorsContext(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakebrowser.Script{Clicks: clicks(nil)})
	h.resolver.cfg.LateTabGrace = time.Minute
	_, err := h.resolver.Resolve(context.Background(), listing(0), h.bctx)
	require.ErrorIs(t, err, crawler.ErrResolveTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, h.resolver.Settle(ctx), context.Canceled)
}

func TestResolve_CanceledWhileWaiting(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakebrowser.Script{Clicks: clicks(nil)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.resolver.Resolve(ctx, listing(0), h.bctx)
	require.Error(t, err)
	require.True(t, errors.Is(err, context.Canceled))
}

func TestResolve_NoTabLeaksAcrossMixedAttempts(t *testing.T) {
	t.Parallel()

	results := map[int]fakebrowser.ClickResult{}
	kinds := []fakebrowser.ClickResult{
		{Kind: fakebrowser.ClickOpensTab, URL: "https://boards.greenhouse.io/acme/jobs/%d"},
		{Kind: fakebrowser.ClickNothing},
		{Kind: fakebrowser.ClickOpensStuckTab, URL: "https://slow.example/jobs/%d"},
		{Kind: fakebrowser.ClickNavigates, URL: "https://www.example.ca/viewjob?jk=%d"},
		{Kind: fakebrowser.ClickOpensTab, URL: "about:blank#%d"},
	}
	for i := 0; i < 15; i++ {
		k := kinds[i%len(kinds)]
		if k.URL != "" {
			k.URL = fmt.Sprintf(k.URL, i)
		}
		results[i] = k
	}
	h := newHarness(t, &fakebrowser.Script{Clicks: clicks(results)})
	h.bctx.OpenExtraTab("https://www.example.ca/saved-search")
	before := h.bctx.OpenTabCount()

	for i := 0; i < 15; i++ {
		_, _ = h.resolver.Resolve(context.Background(), listing(i), h.bctx)
	}
	require.Equal(t, before, h.bctx.OpenTabCount())
	require.Equal(t, 15, h.bctx.ClickCount())
}

func TestCheckCaptured(t *testing.T) {
	t.Parallel()

	require.NoError(t, checkCaptured("https://boards.greenhouse.io/acme/jobs/1", searchURL))
	require.NoError(t, checkCaptured("https://www.example.ca/viewjob?jk=1", searchURL))
	require.ErrorIs(t, checkCaptured("https://www.example.ca/jobs/?q=go", searchURL), crawler.ErrInvalidCapturedURL)
	require.ErrorIs(t, checkCaptured("", searchURL), crawler.ErrInvalidCapturedURL)
	require.ErrorIs(t, checkCaptured("/relative", searchURL), crawler.ErrInvalidCapturedURL)
	require.NoError(t, checkCaptured("https://anything.example/x", ""))
}
