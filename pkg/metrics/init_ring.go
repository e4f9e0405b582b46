package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initRingMetrics() {
	r.RingPlacementsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "shardkv_ring_placements_total",
			Help: "Total key placements resolved by the consistent-hash ring",
		},
		[]string{"consistency"},
	)

	r.RingFanoutFailures = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "shardkv_ring_fanout_failures_total",
			Help: "Total requests where every replica in the fan-out failed",
		},
	)

	r.RingReplicaCount = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "shardkv_ring_replica_count",
			Help: "Configured replication factor for the ring",
		},
	)
}

// RecordRingPlacement increments the placement counter for the given
// consistency level.
func (r *Registry) RecordRingPlacement(consistency int) {
	r.RingPlacementsTotal.WithLabelValues(strconv.Itoa(consistency)).Inc()
}

// RecordRingFanoutFailure increments the fan-out failure counter.
func (r *Registry) RecordRingFanoutFailure() {
	r.RingFanoutFailures.Inc()
}

// SetRingReplicaCount sets the replica-count gauge to n.
func (r *Registry) SetRingReplicaCount(n int) {
	r.RingReplicaCount.Set(float64(n))
}
