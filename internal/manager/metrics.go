package manager

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/KevinKickass/CrateManager/internal/scan"
)

type Metrics struct {
	transitions *prometheus.CounterVec
	scanParam   *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crate_transitions_total",
			Help: "Lifecycle commands by result.",
		}, []string{"command", "result"}),
		scanParam: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "crate_scan_parameter",
			Help: "Current value of the stepped scan parameters.",
		}, []string{"quantity"}),
	}

	reg.MustRegister(m.transitions, m.scanParam)
	return m
}

func (m *Metrics) transition(cmd Command, result string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(cmd), result).Inc()
}

func (m *Metrics) scanState(s scan.State) {
	if m == nil {
		return
	}
	m.scanParam.WithLabelValues("latency").Set(float64(s.Latency))
	m.scanParam.WithLabelValues("threshold_vt1").Set(float64(s.ThresholdVT1))
}
