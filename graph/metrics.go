package graph

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for engine execution. All metrics
// are namespaced "flowstate" and labeled by thread where it is useful for
// attribution.
//
// Exposed series:
//   - inflight_nodes (gauge): nodes currently executing across all threads.
//   - wave_latency_ms (histogram): wall time of one wave, dispatch to merge.
//   - retries_total (counter): wave retry attempts, labeled by thread.
//   - merges_total (counter): completed merge phases.
//   - checkpoint_writes_total (counter): checkpoints appended to the store.
//
// A nil *Metrics is valid everywhere and records nothing, so callers never
// need to guard their instrumentation sites.
type Metrics struct {
	inflightNodes    prometheus.Gauge
	waveLatency      *prometheus.HistogramVec
	retries          *prometheus.CounterVec
	merges           prometheus.Counter
	checkpointWrites prometheus.Counter
}

// NewMetrics creates and registers the engine metrics with the given
// registry. Pass prometheus.DefaultRegisterer for the global registry, or
// a private prometheus.NewRegistry() for isolation (recommended in tests).
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		inflightNodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "flowstate",
			Name:      "inflight_nodes",
			Help:      "Current number of nodes executing concurrently",
		}),
		waveLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flowstate",
			Name:      "wave_latency_ms",
			Help:      "Duration of one wave from dispatch to merge completion in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"thread_id", "status"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowstate",
			Name:      "retries_total",
			Help:      "Cumulative count of wave retry attempts",
		}, []string{"thread_id"}),
		merges: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "flowstate",
			Name:      "merges_total",
			Help:      "Completed merge phases across all threads",
		}),
		checkpointWrites: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "flowstate",
			Name:      "checkpoint_writes_total",
			Help:      "Checkpoints appended to the store",
		}),
	}
}

func (m *Metrics) addInflight(n int) {
	if m == nil {
		return
	}
	m.inflightNodes.Add(float64(n))
}

func (m *Metrics) observeWave(threadID string, latency time.Duration, status string) {
	if m == nil {
		return
	}
	m.waveLatency.WithLabelValues(threadID, status).Observe(float64(latency.Milliseconds()))
}

func (m *Metrics) incRetries(threadID string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(threadID).Inc()
}

func (m *Metrics) incMerges() {
	if m == nil {
		return
	}
	m.merges.Inc()
}

func (m *Metrics) incCheckpointWrites() {
	if m == nil {
		return
	}
	m.checkpointWrites.Inc()
}
