package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initEngineMetrics() {
	r.EngineWritesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "shardkv_engine_writes_total",
			Help: "Total set/delete operations applied to the tree",
		},
		[]string{"op"},
	)

	r.EngineReadsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "shardkv_engine_reads_total",
			Help: "Total get operations, labeled by where the value was found",
		},
		[]string{"source"},
	)

	r.EngineReadLatency = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shardkv_engine_read_duration_seconds",
			Help:    "Latency of get_entry lookups",
			Buckets: []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		},
		[]string{"source"},
	)

	r.EngineMemtableEntries = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "shardkv_engine_memtable_entries",
			Help: "Number of entries currently held in the active memtable",
		},
	)

	r.EngineSSTableCount = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "shardkv_engine_sstable_count",
			Help: "Number of SSTables currently registered with the tree",
		},
	)

	r.EngineFlushesTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "shardkv_engine_flushes_total",
			Help: "Total memtable flushes completed",
		},
	)

	r.EngineFlushLatency = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shardkv_engine_flush_duration_seconds",
			Help:    "Latency of a full flush cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	r.EngineCompactionsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "shardkv_engine_compactions_total",
			Help: "Total compactions completed",
		},
	)

	r.EngineCompactionLatency = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shardkv_engine_compaction_duration_seconds",
			Help:    "Latency of a full compaction",
			Buckets: prometheus.DefBuckets,
		},
	)

	r.EngineRecoveryReplays = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "shardkv_engine_recovery_intent_replays_total",
			Help: "Total compaction intent files replayed during recovery",
		},
	)
}

// RecordWrite records a set or delete against the tree.
func (r *Registry) RecordWrite(op string) {
	r.EngineWritesTotal.WithLabelValues(op).Inc()
}

// RecordRead records a get_entry lookup and where the hit (or miss) occurred.
func (r *Registry) RecordRead(source string, seconds float64) {
	r.EngineReadsTotal.WithLabelValues(source).Inc()
	r.EngineReadLatency.WithLabelValues(source).Observe(seconds)
}
