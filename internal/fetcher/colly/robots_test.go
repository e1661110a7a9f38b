package collyfetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRobotsRetryReturnsAllowAllOnTimeout(t *testing.T) {
	t.Parallel()

	state := newRobotsState()
	base := &stubRoundTripper{results: []roundTripResult{
		{err: context.DeadlineExceeded},
		{err: context.DeadlineExceeded},
		{err: context.DeadlineExceeded},
		{err: context.DeadlineExceeded},
	}}
	transport := &robotsAwareTransport{base: base, state: state}

	req := httptest.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil)
	resp, err := transport.RoundTrip(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, robotsAllowAll, string(body))
	require.True(t, state.fallback)
	require.Equal(t, robotsFallbackReasonTLSHandshake, state.reason)
	require.Equal(t, 4, base.calls)
}

func TestRobotsRetryStopsAfterSuccess(t *testing.T) {
	t.Parallel()

	state := newRobotsState()
	base := &stubRoundTripper{results: []roundTripResult{
		{err: context.DeadlineExceeded},
		{resp: httptest.NewRecorder().Result()},
	}}
	transport := &robotsAwareTransport{base: base, state: state}

	resp, err := transport.RoundTrip(httptest.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, 2, base.calls)
	require.False(t, state.fallback)
}

func TestRobotsTransportPassesOtherRequests(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{results: []roundTripResult{{err: errors.New("refused")}}}
	transport := &robotsAwareTransport{base: base, state: newRobotsState()}

	_, err := transport.RoundTrip(httptest.NewRequest(http.MethodGet, "https://example.com/viewjob", nil))
	require.ErrorContains(t, err, "refused")
	require.Equal(t, 1, base.calls)

	_, err = transport.RoundTrip(httptest.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil))
	require.ErrorContains(t, err, "non-transient")
}

func TestRobotsRetryHonorsCanceledRequest(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	state := newRobotsState()
	base := &stubRoundTripper{results: []roundTripResult{{err: context.DeadlineExceeded}}}
	transport := &robotsAwareTransport{base: base, state: state}

	req := httptest.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil).WithContext(ctx)
	_, err := transport.RoundTrip(req)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, base.calls)
	require.False(t, state.fallback)
}

type roundTripResult struct {
	resp *http.Response
	err  error
}

type stubRoundTripper struct {
	results []roundTripResult
	calls   int
}

func (s *stubRoundTripper) RoundTrip(_ *http.Request) (*http.Response, error) {
	defer func() { s.calls++ }()
	if len(s.results) == 0 {
		return nil, context.DeadlineExceeded
	}
	idx := s.calls
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	res := s.results[idx]
	return res.resp, res.err
}
