package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the prometheus collectors the engine's components
// publish through. A nil *Metrics is valid and every method becomes a
// no-op, so components can be exercised in tests without a registry.
type Metrics struct {
	PredictorTierHits   *prometheus.CounterVec
	ScanLatencySeconds  prometheus.Histogram
	StoreRetryTotal     prometheus.Counter
	OrchestratorPool    *PoolCollector
}

// NewMetrics builds a Metrics and registers it against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PredictorTierHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vulnassess",
			Subsystem: "predictor",
			Name:      "tier_hits_total",
			Help:      "Count of LabelPredictor answers by tier (store, faiss, llm).",
		}, []string{"tier"}),
		ScanLatencySeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vulnassess",
			Subsystem: "scanner",
			Name:      "scan_duration_seconds",
			Help:      "ScanEngine.Scan wall-clock latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		StoreRetryTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vulnassess",
			Subsystem: "store",
			Name:      "write_retry_total",
			Help:      "Count of bounded write retries under contention before StoreBusy.",
		}),
	}
	reg.MustRegister(m.PredictorTierHits, m.ScanLatencySeconds, m.StoreRetryTotal)
	return m
}

// TierHit increments the counter for tier, tolerating a nil Metrics.
func (m *Metrics) TierHit(tier string) {
	if m == nil {
		return
	}
	m.PredictorTierHits.WithLabelValues(tier).Inc()
}

// ObserveScan records a scan's wall-clock duration in seconds.
func (m *Metrics) ObserveScan(seconds float64) {
	if m == nil {
		return
	}
	m.ScanLatencySeconds.Observe(seconds)
}

// StoreRetried records one bounded write retry.
func (m *Metrics) StoreRetried() {
	if m == nil {
		return
	}
	m.StoreRetryTotal.Inc()
}

// PoolStater is implemented by a bounded worker pool (the Orchestrator's
// bulk-scan semaphore) to expose its current utilization.
type PoolStater interface {
	// Stat returns (inUse, capacity).
	Stat() (int, int)
}

// PoolCollector is a prometheus.Collector exposing a bounded worker
// pool's in-use and capacity gauges, the same shape as the pgxpool stat
// collector this module's predecessor shipped for its connection pool.
type PoolCollector struct {
	name  string
	stat  PoolStater
	inUse *prometheus.Desc
	cap   *prometheus.Desc
}

var _ prometheus.Collector = (*PoolCollector)(nil)

// NewPoolCollector builds a PoolCollector for a named pool.
func NewPoolCollector(name string, stat PoolStater) *PoolCollector {
	labels := prometheus.Labels{"pool": name}
	return &PoolCollector{
		name: name,
		stat: stat,
		inUse: prometheus.NewDesc(
			"vulnassess_worker_pool_in_use",
			"Number of worker slots currently in use.",
			nil, labels),
		cap: prometheus.NewDesc(
			"vulnassess_worker_pool_capacity",
			"Configured worker pool capacity.",
			nil, labels),
	}
}

func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.inUse
	ch <- c.cap
}

func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	inUse, capacity := c.stat.Stat()
	ch <- prometheus.MustNewConstMetric(c.inUse, prometheus.GaugeValue, float64(inUse))
	ch <- prometheus.MustNewConstMetric(c.cap, prometheus.GaugeValue, float64(capacity))
}
