package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/joblisting-crawler/internal/app"
	"github.com/JakeFAU/joblisting-crawler/internal/browser/fakebrowser"
	"github.com/JakeFAU/joblisting-crawler/internal/config"
	"github.com/JakeFAU/joblisting-crawler/internal/crawler"
	"github.com/JakeFAU/joblisting-crawler/internal/scraper"
)

const testConfigYAML = `
logging:
  development: false
  level: error
search:
  base_url: https://www.example.ca/jobs
  keyword_param: q
  page_param: page
  first_page: 1
  page_step: 1
pipeline:
  search_workers: 1
  resolve_workers: 1
  max_retries: 0
  retry_base_delay: 1ms
  retry_max_delay: 5ms
resolver:
  popup_timeout: 500ms
  load_timeout: 500ms
  poll_interval: 5ms
detail:
  respect_robots: false
  fetch_timeout: 2s
ratelimit:
  rps: 0
session:
  backend: none
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfigYAML), 0o600))
	return path
}

// useFakeBrowser swaps the app factory so commands never launch Chrome.
func useFakeBrowser(t *testing.T, script *fakebrowser.Script) {
	t.Helper()
	orig := newApp
	newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
		return app.New(ctx, cfg, logger, app.WithBrowser(fakebrowser.New(script)))
	}
	t.Cleanup(func() { newApp = orig })
}

func searchURL(t *testing.T, keyword string, page int) string {
	t.Helper()
	site := scraper.SearchSite{BaseURL: "https://www.example.ca/jobs", KeywordParam: "q", PageParam: "page", FirstPage: 1, PageStep: 1}
	u, err := site.BuildURL(keyword, page)
	require.NoError(t, err)
	return u
}

func TestCrawlCommand(t *testing.T) {
	detailSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<html><head><title>Go Developer</title></head><body>
<div id="jobDescriptionText"><p>%s</p></div></body></html>`, strings.Repeat("Build crawlers in Go. ", 20))
	}))
	t.Cleanup(detailSrv.Close)
	destination := detailSrv.URL + "/careers/golang-developer-42"

	useFakeBrowser(t, &fakebrowser.Script{
		Pages: map[string]fakebrowser.Page{
			searchURL(t, "golang", 1): {Containers: map[string][]crawler.ContainerSnapshot{
				"div.job_seen_beacon": {{
					Index: 0,
					Text:  "Go Developer\nAcme Corp\nToronto, ON",
					HTML:  `<div class="job_seen_beacon"><h2 class="jobTitle"><span>Go Developer</span></h2></div>`,
				}},
			}},
		},
		Clicks: func(string, crawler.ClickableRef) fakebrowser.ClickResult {
			return fakebrowser.ClickResult{Kind: fakebrowser.ClickOpensTab, URL: destination}
		},
	})

	root, shutdown := newRootCmd()
	t.Cleanup(func() { require.NoError(t, shutdown()) })
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"crawl", "--config", writeConfig(t), "--keyword", "golang", "--pages", "1", "--records"})
	require.NoError(t, root.Execute())

	var summary crawlSummary
	require.NoError(t, json.Unmarshal(out.Bytes(), &summary))
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, int64(1), summary.Stats.PagesScraped)
	assert.Equal(t, int64(1), summary.Stats.JobsSaved)
	require.Len(t, summary.Records, 1)
	rec := summary.Records[0]
	assert.Equal(t, destination, rec.URL)
	assert.Equal(t, "golang", rec.Keyword)
	assert.Equal(t, crawler.JobStatusScraped, rec.Status)
	assert.Contains(t, rec.Description, "Build crawlers in Go.")
}

func TestCrawlCommandWithoutKeywords(t *testing.T) {
	useFakeBrowser(t, &fakebrowser.Script{})

	root, shutdown := newRootCmd()
	t.Cleanup(func() { require.NoError(t, shutdown()) })
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"crawl", "--config", writeConfig(t)})
	err := root.Execute()
	require.Error(t, err)
	assert.ErrorIs(t, err, crawler.ErrNoKeywords)
}

func TestRootCommandBadConfig(t *testing.T) {
	useFakeBrowser(t, &fakebrowser.Script{})

	root, shutdown := newRootCmd()
	t.Cleanup(func() { require.NoError(t, shutdown()) })
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"crawl", "--config", filepath.Join(t.TempDir(), "missing.yaml")})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestServeGracefulShutdown(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Session.Backend = config.BackendNone

	a, err := app.New(context.Background(), cfg, zap.NewNop(), app.WithBrowser(fakebrowser.New(&fakebrowser.Script{})))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	cmd := &cobra.Command{}
	cmd.SetContext(context.WithValue(context.Background(), appKey, a))

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() { done <- runServe(ctx, cmd, ready) }()

	var addr string
	select {
	case addr = <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not start")
	}
	port := addr[strings.LastIndex(addr, ":"):]

	resp, err := http.Get("http://127.0.0.1" + port + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
