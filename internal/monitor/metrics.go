package monitor

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the collectors shared by all slot monitors.
type Metrics struct {
	register     *prometheus.GaugeVec
	sampleErrors *prometheus.CounterVec
	degraded     *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		register: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "crate_slot_register",
			Help: "Last sampled value of a published card field.",
		}, []string{"slot", "register"}),
		sampleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crate_monitor_sample_errors_total",
			Help: "Failed monitor sampling passes per slot.",
		}, []string{"slot"}),
		degraded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "crate_monitor_degraded",
			Help: "1 while the last sampling pass of a slot failed.",
		}, []string{"slot"}),
	}

	reg.MustRegister(m.register, m.sampleErrors, m.degraded)
	return m
}

func (m *Metrics) observe(slot int, field string, value float64) {
	if m == nil {
		return
	}
	m.register.WithLabelValues(slotLabel(slot), field).Set(value)
}

func (m *Metrics) sampled(slot int, err error) {
	if m == nil {
		return
	}
	label := slotLabel(slot)
	if err != nil {
		m.sampleErrors.WithLabelValues(label).Inc()
		m.degraded.WithLabelValues(label).Set(1)
		return
	}
	m.degraded.WithLabelValues(label).Set(0)
}

func (m *Metrics) forget(slot int) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{"slot": slotLabel(slot)}
	m.register.DeletePartialMatch(labels)
	m.degraded.DeletePartialMatch(labels)
}

func slotLabel(slot int) string {
	return strconv.Itoa(slot)
}
