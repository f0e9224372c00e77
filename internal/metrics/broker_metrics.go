// =============================================================================
// BROKER & STORAGE METRICS
// =============================================================================
//
// BROKER: what clients see
//   - records_produced_total / bytes_produced_total per topic
//   - produce_latency_seconds per topic (includes the fsync)
//   - records_consumed_total per topic
//   - requests_total{kind,status} and request_latency_seconds{kind}
//   - role (1 = leader, 0 = follower) and role_transitions_total{to}
//
// STORAGE: what the disk sees
//   - disk_usage_bytes per topic (refreshed on stats requests and sweeps)
//   - segments_deleted_total per topic (retention)
//   - truncations_total per topic (replication divergence)
//   - topics (number of open topic logs)
//
// =============================================================================

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BrokerMetrics tracks client-facing request handling.
type BrokerMetrics struct {
	RecordsProduced *prometheus.CounterVec
	BytesProduced   *prometheus.CounterVec
	ProduceLatency  *prometheus.HistogramVec
	RecordsConsumed *prometheus.CounterVec
	OffsetCommits   prometheus.Counter

	Requests       *prometheus.CounterVec
	RequestLatency *prometheus.HistogramVec

	Role            prometheus.Gauge
	RoleTransitions *prometheus.CounterVec
}

func newBrokerMetrics(r *Registry) *BrokerMetrics {
	return &BrokerMetrics{
		RecordsProduced: r.newCounterVec(prometheus.CounterOpts{
			Subsystem: "broker",
			Name:      "records_produced_total",
			Help:      "Records appended by producers",
		}, []string{"topic"}),
		BytesProduced: r.newCounterVec(prometheus.CounterOpts{
			Subsystem: "broker",
			Name:      "bytes_produced_total",
			Help:      "Encoded bytes appended by producers",
		}, []string{"topic"}),
		ProduceLatency: r.newHistogramVec(prometheus.HistogramOpts{
			Subsystem: "broker",
			Name:      "produce_latency_seconds",
			Help:      "Time from produce request to durable offset",
		}, []string{"topic"}),
		RecordsConsumed: r.newCounterVec(prometheus.CounterOpts{
			Subsystem: "broker",
			Name:      "records_consumed_total",
			Help:      "Records returned to consumers",
		}, []string{"topic"}),
		OffsetCommits: r.newCounter(prometheus.CounterOpts{
			Subsystem: "broker",
			Name:      "offset_commits_total",
			Help:      "Consumer group offset commits",
		}),
		Requests: r.newCounterVec(prometheus.CounterOpts{
			Subsystem: "broker",
			Name:      "requests_total",
			Help:      "Requests by kind and HTTP status",
		}, []string{"kind", "status"}),
		RequestLatency: r.newHistogramVec(prometheus.HistogramOpts{
			Subsystem: "broker",
			Name:      "request_latency_seconds",
			Help:      "Request handling time by kind",
		}, []string{"kind"}),
		Role: r.newGauge(prometheus.GaugeOpts{
			Subsystem: "broker",
			Name:      "role",
			Help:      "1 when this broker is leader, 0 when follower",
		}),
		RoleTransitions: r.newCounterVec(prometheus.CounterOpts{
			Subsystem: "broker",
			Name:      "role_transitions_total",
			Help:      "Promotions and demotions applied to this broker",
		}, []string{"to"}),
	}
}

// RecordProduce records one successful produce.
func (m *BrokerMetrics) RecordProduce(topic string, bytes int64, latency time.Duration) {
	if m == nil {
		return
	}
	m.RecordsProduced.WithLabelValues(topic).Inc()
	m.BytesProduced.WithLabelValues(topic).Add(float64(bytes))
	m.ProduceLatency.WithLabelValues(topic).Observe(latency.Seconds())
}

// RecordConsume records records handed to a consumer.
func (m *BrokerMetrics) RecordConsume(topic string, count int) {
	if m == nil {
		return
	}
	m.RecordsConsumed.WithLabelValues(topic).Add(float64(count))
}

// RecordRequest records one handled request.
func (m *BrokerMetrics) RecordRequest(kind, status string, latency time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(kind, status).Inc()
	m.RequestLatency.WithLabelValues(kind).Observe(latency.Seconds())
}

// SetRole sets the role gauge and counts the transition.
func (m *BrokerMetrics) SetRole(role string, leader bool) {
	if m == nil {
		return
	}
	if leader {
		m.Role.Set(1)
	} else {
		m.Role.Set(0)
	}
	m.RoleTransitions.WithLabelValues(role).Inc()
}

// RecordOffsetCommit counts a consumer group commit.
func (m *BrokerMetrics) RecordOffsetCommit() {
	if m == nil {
		return
	}
	m.OffsetCommits.Inc()
}

// StorageMetrics tracks disk state of topic logs.
type StorageMetrics struct {
	DiskUsage       *prometheus.GaugeVec
	SegmentsDeleted *prometheus.CounterVec
	Truncations     *prometheus.CounterVec
	Topics          prometheus.Gauge
}

func newStorageMetrics(r *Registry) *StorageMetrics {
	return &StorageMetrics{
		DiskUsage: r.newGaugeVec(prometheus.GaugeOpts{
			Subsystem: "storage",
			Name:      "disk_usage_bytes",
			Help:      "Bytes used by a topic's data and index files",
		}, []string{"topic"}),
		SegmentsDeleted: r.newCounterVec(prometheus.CounterOpts{
			Subsystem: "storage",
			Name:      "segments_deleted_total",
			Help:      "Sealed segments removed by retention",
		}, []string{"topic"}),
		Truncations: r.newCounterVec(prometheus.CounterOpts{
			Subsystem: "storage",
			Name:      "truncations_total",
			Help:      "Log truncations applied to resolve divergence",
		}, []string{"topic"}),
		Topics: r.newGauge(prometheus.GaugeOpts{
			Subsystem: "storage",
			Name:      "topics",
			Help:      "Open topic logs",
		}),
	}
}

// SetDiskUsage records the current size of a topic on disk.
func (m *StorageMetrics) SetDiskUsage(topic string, bytes int64) {
	if m == nil {
		return
	}
	m.DiskUsage.WithLabelValues(topic).Set(float64(bytes))
}

// RecordSegmentsDeleted counts retention deletions.
func (m *StorageMetrics) RecordSegmentsDeleted(topic string, n int) {
	if m == nil {
		return
	}
	m.SegmentsDeleted.WithLabelValues(topic).Add(float64(n))
}

// RecordTruncation counts a divergence truncation.
func (m *StorageMetrics) RecordTruncation(topic string) {
	if m == nil {
		return
	}
	m.Truncations.WithLabelValues(topic).Inc()
}

// SetTopics records the number of open topic logs.
func (m *StorageMetrics) SetTopics(n int) {
	if m == nil {
		return
	}
	m.Topics.Set(float64(n))
}
