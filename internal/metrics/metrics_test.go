package metrics_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/fleetmon/fleet-engine/internal/metrics"
)

// Requests with path parameters must be labeled by the route pattern, not
// the concrete URL, so the metric cardinality stays bounded.
func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	r.Post("/api/v1/robots/{robotID}/move", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	pattern := metrics.HTTPRequestsTotal.WithLabelValues("POST", "/api/v1/robots/{robotID}/move", "200")
	before := testutil.ToFloat64(pattern)

	for _, id := range []int{1, 2, 3} {
		req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/v1/robots/%d/move", id), nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	}

	if got := testutil.ToFloat64(pattern) - before; got != 3 {
		t.Errorf("expected 3 requests under one pattern label, got %v", got)
	}
	for _, id := range []int{1, 2, 3} {
		raw := metrics.HTTPRequestsTotal.WithLabelValues("POST", fmt.Sprintf("/api/v1/robots/%d/move", id), "200")
		if got := testutil.ToFloat64(raw); got != 0 {
			t.Errorf("raw path %d leaked into labels: %v", id, got)
		}
	}
}

func TestMiddleware_CapturesStatus(t *testing.T) {
	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	r.Get("/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	counter := metrics.HTTPRequestsTotal.WithLabelValues("GET", "/missing", "404")
	before := testutil.ToFloat64(counter)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))

	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("expected the 404 to be counted, got %v", got)
	}
}
