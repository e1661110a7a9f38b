package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/joblisting-crawler/internal/crawler"
)

func TestFetchReturnsBody(t *testing.T) {
	t.Parallel()

	gotUA := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA <- r.UserAgent()
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><div id=\"jobDescriptionText\">Write Go.</div></html>"))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{UserAgent: "jobcrawler-test", Timeout: time.Second}, nil)
	resp, err := f.Fetch(context.Background(), srv.URL+"/viewjob?jk=1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(resp.Body), "Write Go.")
	require.Equal(t, srv.URL+"/viewjob?jk=1", resp.URL)
	require.Equal(t, "jobcrawler-test", <-gotUA)
}

func TestFetchHTTPErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	_, err := New(Config{Timeout: time.Second}, nil).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	require.ErrorContains(t, err, "status 404")
	require.False(t, errors.Is(err, crawler.ErrDetailTimeout))
}

func TestFetchTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	_, err := New(Config{Timeout: 50 * time.Millisecond}, nil).Fetch(context.Background(), srv.URL)
	require.ErrorIs(t, err, crawler.ErrDetailTimeout)
	require.True(t, crawler.IsRetryable(err))
}

func TestFetchCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Config{}, nil).Fetch(ctx, "http://127.0.0.1:1/")
	require.Error(t, err)
}

func TestBuildCollector(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "coverage-agent", RespectRobots: true, Timeout: time.Second, MaxBodyBytes: 1024}, nil)
	collector, robots := f.buildCollector(time.Unix(0, 0), &crawler.FetchResponse{}, new(error))
	require.Equal(t, "coverage-agent", collector.UserAgent)
	require.False(t, collector.IgnoreRobotsTxt)
	require.Equal(t, 1024, collector.MaxBodySize)
	require.NotNil(t, robots)

	f = New(Config{}, nil)
	collector, robots = f.buildCollector(time.Unix(0, 0), &crawler.FetchResponse{}, new(error))
	require.True(t, collector.IgnoreRobotsTxt)
	require.Nil(t, robots)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil)
	var result crawler.FetchResponse
	var fetchErr error
	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	u, err := url.Parse("https://example.com/job/1")
	require.NoError(t, err)
	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Request:    &colly.Request{URL: u},
	})
	require.Equal(t, "body", string(result.Body))
	require.Equal(t, "https://example.com/job/1", result.URL)

	hooks.onError(&colly.Response{StatusCode: http.StatusForbidden}, errors.New("Forbidden"))
	require.EqualError(t, fetchErr, "status 403: Forbidden")

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) { s.onResponse = cb }

func (s *stubHooks) OnError(cb colly.ErrorCallback) { s.onError = cb }
