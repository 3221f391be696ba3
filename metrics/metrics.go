// Package metrics exposes pact and outbox counters on a dedicated
// Prometheus registry.
package metrics

import (
	"math/big"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pactflow"

type Registry struct {
	reg         *prometheus.Registry
	transitions *prometheus.CounterVec
	failures    *prometheus.CounterVec
	escrow      *prometheus.CounterVec
	published   *prometheus.CounterVec
	requests    *prometheus.HistogramVec
}

func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Committed pact state transitions.",
		}, []string{"from", "to"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_errors_total",
			Help:      "Rejected or failed pact operations by error code.",
		}, []string{"op", "code"}),
		escrow: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escrow_volume",
			Help:      "Value moved by the escrow ledger, in smallest units.",
		}, []string{"leg"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_published_total",
			Help:      "Outbox messages handled by the relay.",
		}, []string{"result"}),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	r.reg.MustRegister(
		r.transitions, r.failures, r.escrow, r.published, r.requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Gatherer exposes the registry for tests and custom exporters.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func (r *Registry) ObserveTransition(_, from, to string) {
	if from == "" {
		from = "NONE"
	}
	r.transitions.WithLabelValues(from, to).Inc()
}

func (r *Registry) ObserveFailure(op, code string) {
	r.failures.WithLabelValues(op, code).Inc()
}

// ObserveEscrow adds amount to the leg; zero and nil amounts are skipped.
func (r *Registry) ObserveEscrow(leg string, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	f, _ := new(big.Float).SetInt(amount).Float64()
	r.escrow.WithLabelValues(leg).Add(f)
}

func (r *Registry) ObservePublish(result string, n int) {
	if n <= 0 {
		return
	}
	r.published.WithLabelValues(result).Add(float64(n))
}

func (r *Registry) ObserveRequest(method, route, status string, seconds float64) {
	r.requests.WithLabelValues(method, route, status).Observe(seconds)
}
