package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the coordinator and worker loop.
// All methods are nil-safe so wiring stays optional in tests.
type Metrics struct {
	Registry       *prometheus.Registry
	OutcomesTotal  *prometheus.CounterVec
	BlocksTotal    prometheus.Counter
	RotationsTotal *prometheus.CounterVec
	BatchDuration  prometheus.Histogram
	QueueDepth     prometheus.Gauge
}

// New constructs and registers all collectors on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	outcomes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricewatch_outcomes_total",
			Help: "Terminal scrape outcomes by status.",
		},
		[]string{"status"},
	)
	blocks := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pricewatch_blocks_total",
			Help: "Block-page detections, including retried attempts.",
		},
	)
	rotations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricewatch_proxy_rotations_total",
			Help: "Proxy IP rotation attempts by result.",
		},
		[]string{"result"},
	)
	batchDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pricewatch_batch_duration_seconds",
			Help:    "Wall time spent resolving one task batch.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)
	queueDepth := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pricewatch_pending_targets",
			Help: "Targets waiting in the pending queue.",
		},
	)

	registry.MustRegister(outcomes, blocks, rotations, batchDuration, queueDepth)

	return &Metrics{
		Registry:       registry,
		OutcomesTotal:  outcomes,
		BlocksTotal:    blocks,
		RotationsTotal: rotations,
		BatchDuration:  batchDuration,
		QueueDepth:     queueDepth,
	}
}

func (m *Metrics) IncOutcome(status string) {
	if m == nil {
		return
	}
	m.OutcomesTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) IncBlock() {
	if m == nil {
		return
	}
	m.BlocksTotal.Inc()
}

func (m *Metrics) IncRotation(result string) {
	if m == nil {
		return
	}
	m.RotationsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveBatch(d time.Duration) {
	if m == nil {
		return
	}
	m.BatchDuration.Observe(d.Seconds())
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}
