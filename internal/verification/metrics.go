package verification

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for verification.
type Metrics struct {
	VerdictsTotal  *prometheus.CounterVec
	VerifyDuration prometheus.Histogram
}

func NewMetrics() *Metrics {
	return &Metrics{
		VerdictsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veritas_verifications_total",
			Help: "Verification verdicts",
		}, []string{"verdict"}),
		VerifyDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "veritas_verify_duration_seconds",
			Help:    "Wall time of proof verification",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}
}

func (m *Metrics) observe(v Verdict, d time.Duration) {
	if m == nil {
		return
	}
	m.VerdictsTotal.WithLabelValues(string(v)).Inc()
	m.VerifyDuration.Observe(d.Seconds())
}
