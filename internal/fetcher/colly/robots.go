package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/joblisting-crawler/internal/crawler"
)

const (
	robotsFallbackReasonTLSHandshake = "TLS handshake timeout"
	robotsAllowAll                   = "User-agent: *\nAllow: /"

	robotsMaxRetries = 3
)

// robotsAwareTransport retries robots.txt on transient TLS failures and falls
// back to an allow-all file so a flaky robots endpoint never blocks a detail fetch.
type robotsAwareTransport struct {
	base  http.RoundTripper
	state *robotsState
}

func (t *robotsAwareTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("robots transport received nil request")
	}
	if t.state == nil || !isRobotsTxtRequest(req) {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("robots transport base roundtrip: %w", err)
		}
		return resp, nil
	}
	return t.state.fetch(req, t.base)
}

func isRobotsTxtRequest(req *http.Request) bool {
	if req.URL == nil {
		return false
	}
	return strings.EqualFold(req.URL.Path, "/robots.txt")
}

// robotsState records whether the last robots.txt fetch fell back to allow-all.
type robotsState struct {
	policy   crawler.RetryPolicy
	retries  int
	fallback bool
	reason   string
}

func newRobotsState() *robotsState {
	return &robotsState{
		policy:  crawler.NewExponentialRetryPolicy(50*time.Millisecond, 400*time.Millisecond),
		retries: robotsMaxRetries,
	}
}

func (s *robotsState) fetch(req *http.Request, base http.RoundTripper) (*http.Response, error) {
	task := crawler.ScrapingTask{Type: crawler.TaskTypeDetail, MaxRetries: s.retries}
	for {
		resp, err := base.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			return resp, nil
		}
		if !isTransientRobotsError(err) {
			return nil, fmt.Errorf("robots roundtrip non-transient: %w", err)
		}
		if task.Exhausted() {
			s.fallback = true
			s.reason = robotsFallbackReasonTLSHandshake
			return allowAllResponse(req), nil
		}
		if err := sleepWithContext(req.Context(), s.policy.Backoff(task.RetryCount)); err != nil {
			return nil, fmt.Errorf("robots roundtrip backoff: %w", err)
		}
		task = task.NextAttempt()
	}
}

func isTransientRobotsError(err error) bool {
	return isTimeout(err) || strings.Contains(err.Error(), "tls: handshake timeout")
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func allowAllResponse(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Body:          io.NopCloser(strings.NewReader(robotsAllowAll)),
		ContentLength: int64(len(robotsAllowAll)),
		Header:        http.Header{"Content-Type": []string{"text/plain"}},
		Request:       req,
	}
}
