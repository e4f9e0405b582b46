package metrics

import (
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatherByName(t *testing.T, r *Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := r.GetPrometheusRegistry().Gather()
	require.NoError(t, err)

	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		byName[f.GetName()] = f
	}
	return byName
}

func TestRegistry_RecordWriteExportsCounter(t *testing.T) {
	r := NewRegistry()
	r.RecordWrite("set")
	r.RecordWrite("set")
	r.RecordWrite("delete")

	families := gatherByName(t, r)
	f, ok := families["shardkv_engine_writes_total"]
	require.True(t, ok, "expected shardkv_engine_writes_total to be exported")
	require.Equal(t, dto.MetricType_COUNTER, f.GetType())

	byOp := make(map[string]float64)
	for _, m := range f.GetMetric() {
		require.Len(t, m.GetLabel(), 1)
		byOp[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
	}
	assert.Equal(t, 2.0, byOp["set"])
	assert.Equal(t, 1.0, byOp["delete"])
}

func TestRegistry_RecordReadExportsHistogramSamples(t *testing.T) {
	r := NewRegistry()
	r.RecordRead("memtable", 0.0002)
	r.RecordRead("memtable", 0.0004)

	families := gatherByName(t, r)
	f, ok := families["shardkv_engine_read_duration_seconds"]
	require.True(t, ok)
	require.Equal(t, dto.MetricType_HISTOGRAM, f.GetType())
	require.Len(t, f.GetMetric(), 1)

	h := f.GetMetric()[0].GetHistogram()
	assert.Equal(t, uint64(2), h.GetSampleCount())
	assert.InDelta(t, 0.0006, h.GetSampleSum(), 1e-9)
}

func TestRegistry_CacheRecorderFeedsCounters(t *testing.T) {
	r := NewRegistry()
	r.RecordCacheHit()
	r.RecordCacheHit()
	r.RecordCacheMiss()
	r.RecordCacheEviction()

	families := gatherByName(t, r)
	assert.Equal(t, 2.0, families["shardkv_page_cache_hits_total"].GetMetric()[0].GetCounter().GetValue())
	assert.Equal(t, 1.0, families["shardkv_page_cache_misses_total"].GetMetric()[0].GetCounter().GetValue())
	assert.Equal(t, 1.0, families["shardkv_page_cache_evictions_total"].GetMetric()[0].GetCounter().GetValue())
}

func TestRegistry_UpdateSystemMetricsSetsGauges(t *testing.T) {
	r := NewRegistry()
	r.UpdateSystemMetrics(time.Now().Add(-time.Minute))

	families := gatherByName(t, r)
	uptime := families["shardkv_uptime_seconds"].GetMetric()[0].GetGauge().GetValue()
	assert.GreaterOrEqual(t, uptime, 60.0)
	assert.Greater(t, families["shardkv_goroutines"].GetMetric()[0].GetGauge().GetValue(), 0.0)
	assert.Greater(t, families["shardkv_memory_alloc_bytes"].GetMetric()[0].GetGauge().GetValue(), 0.0)
}
