// Package metrics provides Prometheus instrumentation for the fund engine.
package metrics

import (
	"bufio"
	"errors"
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
	// QuoteFetches counts upstream market-data requests by outcome (ok, error).
	QuoteFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fund_quote_fetches_total",
		Help: "Upstream quote fetches by outcome",
	}, []string{"outcome"})

	QuoteFetchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fund_quote_fetch_latency_seconds",
		Help:    "Upstream quote fetch latency in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	// StaleQuoteServes counts reads answered from an expired snapshot
	// because the upstream refresh failed.
	StaleQuoteServes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fund_quote_stale_serves_total",
		Help: "Quote reads served from a stale snapshot after an upstream failure",
	})

	// ImportRows counts bulk-import rows by outcome (imported, or the skip code).
	ImportRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fund_import_rows_total",
		Help: "Bulk import rows by outcome",
	}, []string{"outcome"})

	// PortfolioValue is the last computed total portfolio value in USD.
	PortfolioValue = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fund_portfolio_value_usd",
		Help: "Last computed total portfolio value",
	})

	// CashBalance is the last computed USDC residual.
	CashBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fund_cash_balance_usd",
		Help: "Last computed USDC cash residual",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fund_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fund_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fund_http_request_duration_seconds",
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
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern labels by chi route template (/api/v1/trades/{id}) so ids
// do not explode label cardinality.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
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

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack passes websocket upgrades through to the underlying connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
