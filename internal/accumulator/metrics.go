package accumulator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for issuer accumulators.
type Metrics struct {
	DeltasApplied     *prometheus.CounterVec
	DeltasDiscarded   prometheus.Counter
	Leaves            *prometheus.GaugeVec
	SnapshotsRetained *prometheus.GaugeVec
	Halts             prometheus.Counter
}

// NewMetrics registers accumulator metrics with the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		DeltasApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veritas_accumulator_deltas_applied_total",
			Help: "Accumulator deltas confirmed, by operation",
		}, []string{"op"}),
		DeltasDiscarded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veritas_accumulator_deltas_discarded_total",
			Help: "Staged accumulator deltas discarded after a failed store write",
		}),
		Leaves: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "veritas_accumulator_leaves",
			Help: "Non-empty leaves in the committed accumulator, by issuer",
		}, []string{"issuer"}),
		SnapshotsRetained: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "veritas_accumulator_snapshots_retained",
			Help: "Published epoch snapshots retained for witness queries, by issuer",
		}, []string{"issuer"}),
		Halts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veritas_accumulator_halts_total",
			Help: "Times an issuer accumulator was halted for reconciliation",
		}),
	}
}

func (m *Metrics) observeApplied(issuer string, op Op, leaves int) {
	if m == nil {
		return
	}
	m.DeltasApplied.WithLabelValues(string(op)).Inc()
	m.Leaves.WithLabelValues(issuer).Set(float64(leaves))
}

func (m *Metrics) incDiscarded() {
	if m == nil {
		return
	}
	m.DeltasDiscarded.Inc()
}

func (m *Metrics) setRetained(issuer string, n int) {
	if m == nil {
		return
	}
	m.SnapshotsRetained.WithLabelValues(issuer).Set(float64(n))
}

func (m *Metrics) incHalts() {
	if m == nil {
		return
	}
	m.Halts.Inc()
}
