package deals

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report lifecycle activity.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	transitions   *prometheus.CounterVec
	statFailures  *prometheus.CounterVec
	notifyDropped prometheus.Counter
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Tests should pass a fresh prometheus.NewRegistry(). Registering the same
// collectors twice reuses the existing ones; any other registration error
// panics, which surfaces wiring bugs at startup.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	transitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deal_engine",
			Subsystem: "lifecycle",
			Name:      "transitions_total",
			Help:      "Attempted deal-request transitions by source, target and outcome.",
		},
		[]string{"from", "to", "outcome"},
	)
	statFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deal_engine",
			Subsystem: "stats",
			Name:      "update_failures_total",
			Help:      "Counter updates that failed after their transition committed.",
		},
		[]string{"path"},
	)
	notifyDropped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "deal_engine",
			Subsystem: "notify",
			Name:      "dropped_total",
			Help:      "Notifications dropped because the queue was full or delivery failed.",
		},
	)

	transitions = register(reg, transitions)
	statFailures = register(reg, statFailures)
	notifyDropped = register(reg, notifyDropped)

	return &Metrics{
		transitions:   transitions,
		statFailures:  statFailures,
		notifyDropped: notifyDropped,
	}
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// ObserveTransition counts one transition attempt. outcome is "committed" or a FailureKind.
func (m *Metrics) ObserveTransition(from, to Status, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(from), string(to), outcome).Inc()
}

func (m *Metrics) IncStatFailure(path string) {
	if m == nil {
		return
	}
	m.statFailures.WithLabelValues(path).Inc()
}

func (m *Metrics) IncNotifyDropped() {
	if m == nil {
		return
	}
	m.notifyDropped.Inc()
}
