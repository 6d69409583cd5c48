// Package metrics exposes Prometheus counters for scheduling and sweeping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's collectors. A nil *Metrics is valid and
// records nothing, which keeps tests free of registry plumbing.
type Metrics struct {
	reg              *prometheus.Registry
	operations       *prometheus.CounterVec
	partiesClaimed   prometheus.Counter
	sweeps           *prometheus.CounterVec
	deliveryFailures prometheus.Counter
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{
		reg: reg,
		operations: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "listening_party_operations_total",
			Help: "Scheduling operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		partiesClaimed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "listening_party_notifications_claimed_total",
			Help: "Parties claimed for their pre-start notification.",
		}),
		sweeps: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "listening_party_sweeps_total",
			Help: "Notification sweeps by result.",
		}, []string{"result"}),
		deliveryFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "listening_party_delivery_failures_total",
			Help: "Notification batches the delivery channel rejected.",
		}),
	}
}

// Operation counts one engine operation outcome, e.g. ("schedule", "conflict").
func (m *Metrics) Operation(op, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, outcome).Inc()
}

// Sweep counts a finished sweep and the parties it claimed.
func (m *Metrics) Sweep(claimed int, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sweeps.WithLabelValues(result).Inc()
	m.partiesClaimed.Add(float64(claimed))
}

// DeliveryFailed counts a batch the notifier could not hand off.
func (m *Metrics) DeliveryFailed() {
	if m == nil {
		return
	}
	m.deliveryFailures.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}
