package proof

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	dErrors "veritas/pkg/domain-errors"
)

// Metrics holds Prometheus metrics for proof generation.
type Metrics struct {
	ProofsTotal   *prometheus.CounterVec
	ProveDuration prometheus.Histogram
}

// NewMetrics registers proof metrics with the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		ProofsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veritas_proofs_total",
			Help: "Proof generation attempts, by result code",
		}, []string{"result"}),
		ProveDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "veritas_prove_duration_seconds",
			Help:    "Wall time of proof generation",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}
}

func (m *Metrics) observe(err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = string(dErrors.CodeOf(err))
	}
	m.ProofsTotal.WithLabelValues(result).Inc()
	m.ProveDuration.Observe(d.Seconds())
}
