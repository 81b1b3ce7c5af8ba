// Package metrics provides Prometheus instrumentation for the fleet engine.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MovesTotal counts successful robot moves, partitioned by trigger.
	MovesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_moves_total",
		Help: "Total number of robot moves recorded",
	}, []string{"source"})

	// RobotsCreated counts robots created since process start.
	RobotsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_robots_created_total",
		Help: "Total number of robots created",
	})

	// CacheHits counts cache reads served from Redis.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_cache_hits_total",
		Help: "Cache reads served from Redis",
	})

	// CacheMisses counts cache reads that fell through to PostgreSQL,
	// including reads while the cache backend is unreachable.
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_cache_misses_total",
		Help: "Cache reads that fell back to the primary store",
	})

	// WebSocketClients tracks currently connected observers.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleet_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// BroadcastsTotal counts events successfully handed to the fan-out
	// loop. Events dropped before fan-out are counted in DroppedMessages
	// instead.
	BroadcastsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_broadcasts_total",
		Help: "Events accepted by the broadcast hub",
	})

	// DroppedMessages counts dropped broadcast messages by where the drop
	// happened: "hub_buffer" (the hub's own queue was full, the event
	// reached nobody) or "client_queue" (one slow client's queue was
	// full, everyone else still received it).
	DroppedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_dropped_messages_total",
		Help: "Broadcast messages dropped, by drop point",
	}, []string{"reason"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fleet_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Label by the matched chi pattern so path parameters don't blow
		// up cardinality; unmatched requests fall back to the raw path.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack exposes the underlying connection so WebSocket upgrades work
// through this middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}
