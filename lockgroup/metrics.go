package lockgroup

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeClaimed   = "claimed"
	outcomeReentrant = "reentrant"
	outcomeWaited    = "waited"
	outcomeWon       = "won"
	outcomeLost      = "lost"
	outcomeTimeout   = "timeout"
)

// Metrics exports coordinator events to Prometheus. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	acquisitions prometheus.Counter
	outcomes     *prometheus.CounterVec
	interrupts   *prometheus.CounterVec
	groups       prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		acquisitions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lockgroup",
			Name:      "acquisitions_total",
			Help:      "Steps started with Acquire.",
		}),
		outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lockgroup",
			Name:      "resource_requests_total",
			Help:      "Resource requests by outcome.",
		}, []string{"outcome"}),
		interrupts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lockgroup",
			Name:      "interrupts_total",
			Help:      "Interrupt pairs delivered to holders.",
		}, []string{"same_thread"}),
		groups: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "lockgroup",
			Name:      "live_groups",
			Help:      "Lock groups currently in use.",
		}),
	}
}

func (m *Metrics) acquisition() {
	if m == nil {
		return
	}
	m.acquisitions.Inc()
}

func (m *Metrics) outcome(name string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(name).Inc()
}

func (m *Metrics) interrupt(sameThread bool) {
	if m == nil {
		return
	}
	m.interrupts.WithLabelValues(strconv.FormatBool(sameThread)).Inc()
}

func (m *Metrics) groupStarted() {
	if m == nil {
		return
	}
	m.groups.Inc()
}

func (m *Metrics) groupEnded() {
	if m == nil {
		return
	}
	m.groups.Dec()
}
