package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initCacheMetrics() {
	r.CacheHitsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "shardkv_page_cache_hits_total",
			Help: "Total page cache hits across all collections",
		},
	)

	r.CacheMissesTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "shardkv_page_cache_misses_total",
			Help: "Total page cache misses that fell through to disk",
		},
	)

	r.CacheSizePages = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "shardkv_page_cache_size_pages",
			Help: "Number of pages currently resident in the cache",
		},
	)

	r.CacheEvictions = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "shardkv_page_cache_evictions_total",
			Help: "Total pages evicted by the LRU policy",
		},
	)
}

// RecordCacheHit records a page cache hit.
func (r *Registry) RecordCacheHit() { r.CacheHitsTotal.Inc() }

// RecordCacheMiss records a page cache miss.
func (r *Registry) RecordCacheMiss() { r.CacheMissesTotal.Inc() }

// RecordCacheEviction records an LRU eviction.
func (r *Registry) RecordCacheEviction() { r.CacheEvictions.Inc() }
