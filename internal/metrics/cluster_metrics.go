// =============================================================================
// REPLICATION & CONTROLLER METRICS
// =============================================================================
//
// REPLICATION (follower side):
//
//   leader next offset ──┐
//                        ├──► lag = leader_offset - local next offset
//   local next offset ───┘
//
//   - records_replicated_total per topic
//   - divergences_total per topic (local tail ahead of leader, truncated)
//   - fetch_errors_total per topic (leader unreachable, bad frames)
//   - lag_records per topic
//   - active_fetchers
//
// CONTROLLER:
//   - probe_failures_total (active leader unreachable)
//   - elections_total{result}: promoted | no_candidate
//   - fencings_total (zombie former leader demoted)
//   - node_status{node}: 0 alive, 1 suspect, 2 dead
//
// =============================================================================

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ReplicationMetrics tracks replica fetchers on a follower.
type ReplicationMetrics struct {
	RecordsReplicated *prometheus.CounterVec
	Divergences       *prometheus.CounterVec
	FetchErrors       *prometheus.CounterVec
	Lag               *prometheus.GaugeVec
	ActiveFetchers    prometheus.Gauge
}

func newReplicationMetrics(r *Registry) *ReplicationMetrics {
	return &ReplicationMetrics{
		RecordsReplicated: r.newCounterVec(prometheus.CounterOpts{
			Subsystem: "replication",
			Name:      "records_replicated_total",
			Help:      "Records copied from the leader",
		}, []string{"topic"}),
		Divergences: r.newCounterVec(prometheus.CounterOpts{
			Subsystem: "replication",
			Name:      "divergences_total",
			Help:      "Times the local log was ahead of the leader and truncated",
		}, []string{"topic"}),
		FetchErrors: r.newCounterVec(prometheus.CounterOpts{
			Subsystem: "replication",
			Name:      "fetch_errors_total",
			Help:      "Failed leader round trips",
		}, []string{"topic"}),
		Lag: r.newGaugeVec(prometheus.GaugeOpts{
			Subsystem: "replication",
			Name:      "lag_records",
			Help:      "Leader next offset minus local next offset",
		}, []string{"topic"}),
		ActiveFetchers: r.newGauge(prometheus.GaugeOpts{
			Subsystem: "replication",
			Name:      "active_fetchers",
			Help:      "Running replica fetchers",
		}),
	}
}

// RecordReplicated counts records appended from a leader batch.
func (m *ReplicationMetrics) RecordReplicated(topic string, n int) {
	if m == nil {
		return
	}
	m.RecordsReplicated.WithLabelValues(topic).Add(float64(n))
}

// RecordDivergence counts a truncate-and-resync.
func (m *ReplicationMetrics) RecordDivergence(topic string) {
	if m == nil {
		return
	}
	m.Divergences.WithLabelValues(topic).Inc()
}

// RecordFetchError counts a failed leader round trip.
func (m *ReplicationMetrics) RecordFetchError(topic string) {
	if m == nil {
		return
	}
	m.FetchErrors.WithLabelValues(topic).Inc()
}

// SetLag records how far behind the leader a topic is.
func (m *ReplicationMetrics) SetLag(topic string, lag int64) {
	if m == nil {
		return
	}
	m.Lag.WithLabelValues(topic).Set(float64(lag))
}

// FetcherStarted and FetcherStopped track the running fetcher count.
func (m *ReplicationMetrics) FetcherStarted() {
	if m == nil {
		return
	}
	m.ActiveFetchers.Inc()
}

func (m *ReplicationMetrics) FetcherStopped() {
	if m == nil {
		return
	}
	m.ActiveFetchers.Dec()
}

// ControllerMetrics tracks the cluster controller's decisions.
type ControllerMetrics struct {
	ProbeFailures prometheus.Counter
	Elections     *prometheus.CounterVec
	Fencings      prometheus.Counter
	NodeStatus    *prometheus.GaugeVec
}

func newControllerMetrics(r *Registry) *ControllerMetrics {
	return &ControllerMetrics{
		ProbeFailures: r.newCounter(prometheus.CounterOpts{
			Subsystem: "controller",
			Name:      "probe_failures_total",
			Help:      "Failed liveness probes of the active leader",
		}),
		Elections: r.newCounterVec(prometheus.CounterOpts{
			Subsystem: "controller",
			Name:      "elections_total",
			Help:      "Leader elections by outcome",
		}, []string{"result"}),
		Fencings: r.newCounter(prometheus.CounterOpts{
			Subsystem: "controller",
			Name:      "fencings_total",
			Help:      "Former leaders demoted after coming back",
		}),
		NodeStatus: r.newGaugeVec(prometheus.GaugeOpts{
			Subsystem: "controller",
			Name:      "node_status",
			Help:      "0 alive, 1 suspect, 2 dead",
		}, []string{"node"}),
	}
}

// RecordElection counts an election outcome.
func (m *ControllerMetrics) RecordElection(result string) {
	if m == nil {
		return
	}
	m.Elections.WithLabelValues(result).Inc()
}

// SetNodeStatus records a node's liveness state as 0, 1 or 2.
func (m *ControllerMetrics) SetNodeStatus(node string, status int) {
	if m == nil {
		return
	}
	m.NodeStatus.WithLabelValues(node).Set(float64(status))
}

// RecordProbeFailure counts a failed probe of the active leader.
func (m *ControllerMetrics) RecordProbeFailure() {
	if m == nil {
		return
	}
	m.ProbeFailures.Inc()
}

// RecordFencing counts a demoted former leader.
func (m *ControllerMetrics) RecordFencing() {
	if m == nil {
		return
	}
	m.Fencings.Inc()
}
