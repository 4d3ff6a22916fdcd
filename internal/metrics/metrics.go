// Package metrics exposes Prometheus counters for charges, ledger writes and
// saga recovery.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	GatewayCharges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "familyfund_gateway_charges_total",
			Help: "Gateway charge calls by flow and outcome",
		},
		[]string{"flow", "status"},
	)
	LedgerAppends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "familyfund_ledger_appends_total",
			Help: "Ledger append attempts by transaction type and result",
		},
		[]string{"type", "result"},
	)
	AttemptTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "familyfund_attempt_transitions_total",
			Help: "Charge attempt state transitions by kind and target state",
		},
		[]string{"kind", "state"},
	)
	ReconcileOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "familyfund_reconcile_outcomes_total",
			Help: "Reconciler decisions per attempt",
		},
		[]string{"outcome"},
	)
	FundsFrozen = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "familyfund_funds_frozen_total",
			Help: "Funds frozen after a failed ledger verification",
		},
	)
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "familyfund_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	prometheus.MustRegister(GatewayCharges)
	prometheus.MustRegister(LedgerAppends)
	prometheus.MustRegister(AttemptTransitions)
	prometheus.MustRegister(ReconcileOutcomes)
	prometheus.MustRegister(FundsFrozen)
	prometheus.MustRegister(RequestDuration)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request latency labelled by the matched chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		RequestDuration.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}
