package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/runs/{run_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Post("/v1/runs", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/v1/runs/abc", nil),
		httptest.NewRequest(http.MethodPost, "/v1/runs", nil),
	} {
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404")); val != 1 {
		t.Errorf("expected one GET 404, got %f", val)
	}
	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "202")); val != 1 {
		t.Errorf("expected one POST 202, got %f", val)
	}
	if val := testutil.CollectAndCount(httpRequestDurationSeconds); val < 2 {
		t.Errorf("expected route-labelled latency series, got %d", val)
	}
}
