package batcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the anchoring batcher.
type Metrics struct {
	PendingItems      prometheus.Gauge
	EpochsSealed      prometheus.Counter
	EpochSize         prometheus.Histogram
	SubmitAttempts    *prometheus.CounterVec
	EpochsAnchored    prometheus.Counter
	EpochsAbandoned   prometheus.Counter
	AnchorLatency     prometheus.Histogram
	LastAnchoredEpoch prometheus.Gauge
	BreakerOpen       prometheus.Gauge
}

// NewMetrics registers batcher metrics with the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		PendingItems: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "veritas_batcher_pending_items",
			Help: "Items waiting in the collecting buffer",
		}),
		EpochsSealed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veritas_batcher_epochs_sealed_total",
			Help: "Epochs sealed for submission",
		}),
		EpochSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "veritas_batcher_epoch_items",
			Help:    "Items per sealed epoch",
			Buckets: []float64{0, 1, 10, 50, 100, 500, 1000, 5000},
		}),
		SubmitAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veritas_batcher_submit_attempts_total",
			Help: "Ledger submission attempts, by outcome",
		}, []string{"outcome"}),
		EpochsAnchored: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veritas_batcher_epochs_anchored_total",
			Help: "Epochs confirmed by the ledger",
		}),
		EpochsAbandoned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veritas_batcher_epochs_abandoned_total",
			Help: "Epochs abandoned after exhausting retries; their items rolled forward",
		}),
		AnchorLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "veritas_batcher_anchor_latency_seconds",
			Help:    "Time from seal to ledger confirmation",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		}),
		LastAnchoredEpoch: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "veritas_batcher_last_anchored_epoch",
			Help: "Highest anchored epoch number",
		}),
		BreakerOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "veritas_batcher_ledger_breaker_open",
			Help: "1 when the ledger circuit breaker is open",
		}),
	}
}

func (m *Metrics) setPending(n int) {
	if m == nil {
		return
	}
	m.PendingItems.Set(float64(n))
}

func (m *Metrics) observeSealed(items int) {
	if m == nil {
		return
	}
	m.EpochsSealed.Inc()
	m.EpochSize.Observe(float64(items))
}

func (m *Metrics) incAttempt(outcome string) {
	if m == nil {
		return
	}
	m.SubmitAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeAnchored(epoch uint64, latencySeconds float64) {
	if m == nil {
		return
	}
	m.EpochsAnchored.Inc()
	m.AnchorLatency.Observe(latencySeconds)
	m.LastAnchoredEpoch.Set(float64(epoch))
}

func (m *Metrics) incAbandoned() {
	if m == nil {
		return
	}
	m.EpochsAbandoned.Inc()
}

func (m *Metrics) setBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.BreakerOpen.Set(1)
		return
	}
	m.BreakerOpen.Set(0)
}
