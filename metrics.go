package bucketguard

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Removal causes reported to the store removal counter.
const (
	causeCapacity = "capacity"
	causeExpired  = "expired"
	causeRemoved  = "removed"
	causeCleared  = "cleared"
)

// Metrics holds Prometheus collectors for limiters and keyed stores.
// A nil *Metrics records nothing.
type Metrics struct {
	decisions     *prometheus.CounterVec
	acquireWait   *prometheus.HistogramVec
	storeRemovals *prometheus.CounterVec
	storeKeys     prometheus.Gauge
	pruneRuns     prometheus.Counter
}

// NewMetrics registers the collectors with reg. A nil reg registers with the
// default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		decisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bucketguard_decisions_total",
				Help: "Total number of admission decisions",
			},
			[]string{"result"},
		),

		acquireWait: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bucketguard_acquire_wait_seconds",
				Help:    "Time spent waiting in blocking or asynchronous acquisition",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10), // 100µs to ~26s
			},
			[]string{"mode"},
		),

		storeRemovals: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bucketguard_store_removals_total",
				Help: "Total number of keys removed from bounded stores",
			},
			[]string{"cause"},
		),

		storeKeys: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "bucketguard_store_keys",
				Help: "Current number of keys in the keyed store",
			},
		),

		pruneRuns: f.NewCounter(
			prometheus.CounterOpts{
				Name: "bucketguard_prune_runs_total",
				Help: "Total number of maintenance prune runs",
			},
		),
	}
}

func (m *Metrics) recordDecision(p Permit) {
	if m == nil {
		return
	}
	result := "granted"
	if !p.Granted {
		result = "denied"
	}
	m.decisions.WithLabelValues(result).Inc()
}

func (m *Metrics) recordWait(mode string, d time.Duration) {
	if m == nil {
		return
	}
	m.acquireWait.WithLabelValues(mode).Observe(d.Seconds())
}

func (m *Metrics) recordRemoval(cause string) {
	if m == nil {
		return
	}
	m.storeRemovals.WithLabelValues(cause).Inc()
}

func (m *Metrics) setKeys(n int) {
	if m == nil {
		return
	}
	m.storeKeys.Set(float64(n))
}

func (m *Metrics) recordPrune() {
	if m == nil {
		return
	}
	m.pruneRuns.Inc()
}
