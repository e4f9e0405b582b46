package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every Prometheus collector exported by a shard process.
type Registry struct {
	// Engine (LSM tree) metrics
	EngineWritesTotal       *prometheus.CounterVec
	EngineReadsTotal        *prometheus.CounterVec
	EngineReadLatency       *prometheus.HistogramVec
	EngineMemtableEntries   prometheus.Gauge
	EngineSSTableCount      prometheus.Gauge
	EngineFlushesTotal      prometheus.Counter
	EngineFlushLatency      prometheus.Histogram
	EngineCompactionsTotal  prometheus.Counter
	EngineCompactionLatency prometheus.Histogram
	EngineRecoveryReplays   prometheus.Counter

	// Page cache metrics
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter
	CacheSizePages   prometheus.Gauge
	CacheEvictions   prometheus.Counter

	// Ring / client placement metrics
	RingPlacementsTotal *prometheus.CounterVec
	RingFanoutFailures  prometheus.Counter
	RingReplicaCount    prometheus.Gauge

	// System metrics
	UptimeSeconds    prometheus.Gauge
	GoRoutines       prometheus.Gauge
	MemoryAllocBytes prometheus.Gauge
	MemorySysBytes   prometheus.Gauge

	registry *prometheus.Registry
	mu       sync.RWMutex
}

var (
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the process-wide metrics registry.
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with every collector registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{registry: reg}

	r.initEngineMetrics()
	r.initCacheMetrics()
	r.initRingMetrics()
	r.initSystemMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry, e.g. to
// mount at /metrics via promhttp.
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
