package issuance

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	dErrors "veritas/pkg/domain-errors"
)

// Metrics holds Prometheus metrics for issuance and revocation.
type Metrics struct {
	IssuedTotal   *prometheus.CounterVec
	RevokedTotal  *prometheus.CounterVec
	IssueDuration prometheus.Histogram
	HaltsTotal    prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		IssuedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veritas_issuance_total",
			Help: "Issuance attempts, by result code",
		}, []string{"result"}),
		RevokedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veritas_revocations_total",
			Help: "Revocation attempts, by result code",
		}, []string{"result"}),
		IssueDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "veritas_issue_duration_seconds",
			Help:    "Wall time of a successful issuance including the store transaction",
			Buckets: prometheus.DefBuckets,
		}),
		HaltsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veritas_issuance_halts_total",
			Help: "Issuers halted because the accumulator diverged from the claim store",
		}),
	}
}

func result(err error) string {
	if err == nil {
		return "ok"
	}
	return string(dErrors.CodeOf(err))
}

func (m *Metrics) observeIssue(err error, d time.Duration) {
	if m == nil {
		return
	}
	m.IssuedTotal.WithLabelValues(result(err)).Inc()
	if err == nil {
		m.IssueDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) observeRevoke(err error) {
	if m == nil {
		return
	}
	m.RevokedTotal.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) incHalts() {
	if m == nil {
		return
	}
	m.HaltsTotal.Inc()
}
