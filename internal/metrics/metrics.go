// Package metrics exposes Prometheus collectors for backtest and
// optimization runs. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tradejournal"

// Backtest run statuses.
const (
	StatusOK      = "ok"
	StatusInvalid = "invalid"
	StatusError   = "error"
)

// Optimization combination outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

// Metrics is the set of collectors served on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	BacktestRuns             *prometheus.CounterVec
	BacktestDuration         prometheus.Histogram
	OptimizationCombinations *prometheus.CounterVec
	OptimizationDuration     prometheus.Histogram
	HTTPRequests             *prometheus.CounterVec
	HTTPRequestDuration      prometheus.Histogram
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		BacktestRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "runs_total",
			Help:      "Backtest runs by status.",
		}, []string{"status"}),
		BacktestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a single backtest run.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}),
		OptimizationCombinations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "optimizer",
			Name:      "combinations_total",
			Help:      "Parameter combinations evaluated by outcome.",
		}, []string{"outcome"}),
		OptimizationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "optimizer",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a whole optimization.",
			Buckets:   []float64{.01, .1, .5, 1, 5, 15, 60, 300},
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method and status code.",
		}, []string{"method", "code"}),
		HTTPRequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	m.registry.MustRegister(
		m.BacktestRuns,
		m.BacktestDuration,
		m.OptimizationCombinations,
		m.OptimizationDuration,
		m.HTTPRequests,
		m.HTTPRequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordBacktest counts one backtest run and observes its duration.
func (m *Metrics) RecordBacktest(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.BacktestRuns.WithLabelValues(status).Inc()
	m.BacktestDuration.Observe(d.Seconds())
}

// RecordCombination counts one evaluated optimizer combination.
func (m *Metrics) RecordCombination(ok bool) {
	if m == nil {
		return
	}
	outcome := OutcomeSucceeded
	if !ok {
		outcome = OutcomeFailed
	}
	m.OptimizationCombinations.WithLabelValues(outcome).Inc()
}

// RecordOptimization observes the duration of one optimization.
func (m *Metrics) RecordOptimization(d time.Duration) {
	if m == nil {
		return
	}
	m.OptimizationDuration.Observe(d.Seconds())
}

// RecordHTTPRequest counts one served HTTP request.
func (m *Metrics) RecordHTTPRequest(method string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.HTTPRequestDuration.Observe(d.Seconds())
}
