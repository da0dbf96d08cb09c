// Package metrics provides Prometheus instrumentation for the game engine.
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
	// LedgerOperations counts ledger operations by kind and outcome.
	LedgerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finsim_ledger_operations_total",
		Help: "Ledger operations by operation and result",
	}, []string{"operation", "result"})

	// InvestedAmount tracks cumulative cash invested per asset.
	InvestedAmount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finsim_invested_amount_total",
		Help: "Cumulative cash moved into each asset by Invest",
	}, []string{"asset"})

	// Settlements counts completed round settlements by trigger.
	Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finsim_round_settlements_total",
		Help: "Round settlements by trigger (manual, timer, restart)",
	}, []string{"trigger"})

	// SettlementDuration tracks how long settling all teams takes.
	SettlementDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "finsim_round_settlement_duration_seconds",
		Help:    "Round settlement duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// SettlementTeamFailures counts teams whose revaluation failed during
	// settlement.
	SettlementTeamFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "finsim_settlement_team_failures_total",
		Help: "Teams that could not be revalued during settlement",
	})

	// RoundAutoEndFailures counts timer-triggered round ends that failed
	// after retry. Alert on any increase.
	RoundAutoEndFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "finsim_round_auto_end_failures_total",
		Help: "Timer-triggered round ends that failed after retry",
	})

	// ActiveRound is the number of the active round, or 0.
	ActiveRound = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "finsim_active_round",
		Help: "Number of the currently active round (0 when none)",
	})

	// RegisteredTeams tracks the number of registered teams.
	RegisteredTeams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "finsim_registered_teams",
		Help: "Number of registered teams",
	})

	// AuctionAwards counts items awarded in auction mode.
	AuctionAwards = promauto.NewCounter(prometheus.CounterOpts{
		Name: "finsim_auction_awards_total",
		Help: "Auction items awarded",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "finsim_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// DroppedEvents counts broadcasts dropped because the hub buffer was full.
	DroppedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "finsim_dropped_events_total",
		Help: "Broadcast events dropped on a full hub buffer",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finsim_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "finsim_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Result returns the outcome label for an operation error.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

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

		// Use the route pattern for path label to avoid high cardinality.
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

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("metrics: %T does not support hijacking", w.ResponseWriter)
	}
	return hj.Hijack()
}
