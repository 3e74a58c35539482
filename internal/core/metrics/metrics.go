// Package metrics exposes Prometheus instrumentation for the policy adapter
// and change watchers. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "policykeeper"

// Metrics holds every collector registered by New.
type Metrics struct {
	AdapterOperations *prometheus.CounterVec
	AdapterDuration   *prometheus.HistogramVec
	WatcherEmits      *prometheus.CounterVec
	WatcherReceived   *prometheus.CounterVec
	CallbackFailures  *prometheus.CounterVec
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests
// to avoid duplicate registration on the default registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AdapterOperations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "adapter",
			Name:      "operations_total",
			Help:      "Policy adapter operations by operation and result.",
		}, []string{"op", "result"}),
		AdapterDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "adapter",
			Name:      "operation_seconds",
			Help:      "Policy adapter operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		WatcherEmits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "emits_total",
			Help:      "Change notifications emitted by backend and result (ok, timeout, error).",
		}, []string{"backend", "result"}),
		WatcherReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "notifications_total",
			Help:      "Change notifications received and dispatched to the callback.",
		}, []string{"backend"}),
		CallbackFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "callback_failures_total",
			Help:      "Callback invocations that returned an error or panicked.",
		}, []string{"backend"}),
	}
}

// ObserveAdapterOp records one adapter operation started at start.
func (m *Metrics) ObserveAdapterOp(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.AdapterOperations.WithLabelValues(op, result).Inc()
	m.AdapterDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// ObserveEmit records one EmitChange outcome.
func (m *Metrics) ObserveEmit(backend, result string) {
	if m == nil {
		return
	}
	m.WatcherEmits.WithLabelValues(backend, result).Inc()
}

// ObserveReceived records one notification handed to the dispatcher.
func (m *Metrics) ObserveReceived(backend string) {
	if m == nil {
		return
	}
	m.WatcherReceived.WithLabelValues(backend).Inc()
}

// ObserveCallbackFailure records one failed callback.
func (m *Metrics) ObserveCallbackFailure(backend string) {
	if m == nil {
		return
	}
	m.CallbackFailures.WithLabelValues(backend).Inc()
}

// Handler returns the Prometheus exposition handler for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
