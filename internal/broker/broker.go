// =============================================================================
// BROKER - THE CENTRAL COORDINATOR
// =============================================================================
//
// WHAT IS A BROKER?
// A broker is a server that:
//   - Stores one append-only log per topic (TopicManager)
//   - Handles producer requests when it is the leader
//   - Serves reads and replica fetches in any role
//   - Tracks consumer group offsets (OffsetManager)
//   - Replicates every topic from the leader when it is a follower
//
// ROLE STATE:
//
//   ┌──────────────────────────────────────────────────────────────────────┐
//   │                       Broker role state (mu)                         │
//   │                                                                      │
//   │   role        leader address       supervisor                        │
//   │   ────────    ──────────────       ───────────────────────────────   │
//   │   LEADER      (none)               nil                               │
//   │   FOLLOWER    10.0.0.1:9092        *ReplicationManager (running)     │
//   │                                                                      │
//   │   Promote()        FOLLOWER → LEADER   shut down supervisor,         │
//   │                                        reload consumer offsets       │
//   │   Demote(addr)     LEADER → FOLLOWER   start supervisor for addr     │
//   │   UpdateLeader(a)  FOLLOWER → FOLLOWER replace supervisor            │
//   │                                                                      │
//   └──────────────────────────────────────────────────────────────────────┘
//
// The three transitions are the only writers of the role state, and each
// swaps role, leader and supervisor under one lock, so at most one
// supervisor writes to the logs at any time.
//
// =============================================================================

package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/andrewc773/kafka-lite/internal/cluster"
	"github.com/andrewc773/kafka-lite/internal/metrics"
	"github.com/andrewc773/kafka-lite/internal/storage"
	"github.com/andrewc773/kafka-lite/pkg/client"
)

// =============================================================================
// ERROR DEFINITIONS
// =============================================================================

var (
	// ErrNotLeader means a write reached a follower
	ErrNotLeader = errors.New("broker is not the leader")

	// ErrNotFollower means a follower-only request reached the leader
	ErrNotFollower = errors.New("broker is not a follower")

	// ErrUnknownTopic means the topic does not exist on this broker
	ErrUnknownTopic = errors.New("unknown topic")

	// ErrBrokerClosed means the broker has been shut down
	ErrBrokerClosed = errors.New("broker is closed")
)

// MaxReplicaFetch caps the records returned by one replica fetch.
const MaxReplicaFetch = 100

// =============================================================================
// BROKER CONFIGURATION
// =============================================================================

// Config holds broker configuration.
type Config struct {
	// NodeID names this broker in logs
	NodeID string

	// DataDir is the root directory; one subdirectory per topic
	DataDir string

	// Log holds segment size, index interval and retention
	Log storage.LogConfig

	// CleanupInterval is how often retention runs
	CleanupInterval time.Duration

	// IsLeader is the role at startup
	IsLeader bool

	// Leader is the leader to follow when starting as follower
	Leader cluster.BrokerAddress

	// DiscoveryInterval is how often a follower looks for new topics
	DiscoveryInterval time.Duration

	// FetchBatchSize is the max records per replica fetch
	FetchBatchSize int

	// LeaderClient builds the client a follower uses to reach its leader.
	// Defaults to the HTTP client.
	LeaderClient func(addr cluster.BrokerAddress) cluster.LeaderClient
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		NodeID:            "broker-0",
		DataDir:           "data",
		Log:               storage.DefaultLogConfig(),
		CleanupInterval:   time.Minute,
		IsLeader:          true,
		Leader:            cluster.BrokerAddress{Host: "localhost", Port: 9092},
		DiscoveryInterval: 5 * time.Second,
		FetchBatchSize:    MaxReplicaFetch,
	}
}

func httpLeaderClient(addr cluster.BrokerAddress) cluster.LeaderClient {
	return client.New(client.DefaultConfig(addr.String()))
}

// =============================================================================
// BROKER STRUCT
// =============================================================================

// Broker is the main server state: storage, role and replication.
type Broker struct {
	config  Config
	topics  *TopicManager
	offsets *OffsetManager
	janitor *storage.Janitor
	stats   *metrics.Stats
	metrics *metrics.Registry
	logger  *slog.Logger

	// mu protects the role state and lifecycle flags
	mu         sync.RWMutex
	role       Role
	leader     cluster.BrokerAddress
	supervisor *cluster.ReplicationManager
	ctx        context.Context
	cancel     context.CancelFunc
	started    bool
	closed     bool
}

// =============================================================================
// BROKER LIFECYCLE
// =============================================================================

// NewBroker opens storage and loads committed offsets. Background work
// (retention, replication) begins with Start.
//
// STARTUP PROCESS:
//  1. Open every topic log under DataDir (recovering segments)
//  2. Replay __consumer_offsets into the offset cache
//  3. Set the initial role from config
func NewBroker(config Config, registry *metrics.Registry, logger *slog.Logger) (*Broker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = metrics.NewRegistry(metrics.TestConfig())
	}
	if config.LeaderClient == nil {
		config.LeaderClient = httpLeaderClient
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Minute
	}
	if !config.IsLeader && !config.Leader.IsValid() {
		return nil, fmt.Errorf("follower needs a valid leader address, got %q", config.Leader)
	}

	logger = logger.With("node_id", config.NodeID)

	topics, err := NewTopicManager(config.DataDir, config.Log, logger)
	if err != nil {
		return nil, err
	}
	offsets, err := NewOffsetManager(topics, logger)
	if err != nil {
		topics.Close()
		return nil, err
	}

	b := &Broker{
		config:  config,
		topics:  topics,
		offsets: offsets,
		stats:   metrics.NewStats(),
		metrics: registry,
		logger:  logger.With("component", "broker"),
		role:    RoleFollower,
	}
	if config.IsLeader {
		b.role = RoleLeader
	} else {
		b.leader = config.Leader
	}

	b.janitor = storage.NewJanitor(topics, config.CleanupInterval, b.onSweep, logger)
	b.metrics.Broker.SetRole(b.role.String(), b.role == RoleLeader)
	b.metrics.Storage.SetTopics(len(topics.Topics()))

	b.logger.Info("broker opened",
		"data_dir", config.DataDir,
		"role", b.role.String(),
		"topics", len(topics.Topics()))
	return b, nil
}

// Start begins retention and, on a follower, replication. Background work
// stops when ctx is cancelled or Stop is called.
func (b *Broker) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBrokerClosed
	}
	if b.started {
		return nil
	}
	b.started = true
	b.ctx, b.cancel = context.WithCancel(ctx)

	b.janitor.Start()

	if b.role == RoleFollower {
		if err := b.startSupervisorLocked(b.leader); err != nil {
			return err
		}
	}

	b.logger.Info("broker started", "role", b.role.String())
	return nil
}

// Stop shuts down replication and retention and closes storage.
//
// SHUTDOWN PROCESS:
//  1. Stop the replication supervisor (no more replicated writes)
//  2. Stop the janitor
//  3. Close all topic logs
func (b *Broker) Stop() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	sup := b.supervisor
	b.supervisor = nil
	if b.cancel != nil {
		b.cancel()
	}
	b.mu.Unlock()

	b.logger.Info("shutting down broker")

	if sup != nil {
		sup.Shutdown()
	}
	b.janitor.Stop()

	if err := b.topics.Close(); err != nil {
		return fmt.Errorf("errors during shutdown: %w", err)
	}
	b.logger.Info("broker shutdown complete")
	return nil
}

// =============================================================================
// ROLE TRANSITIONS
// =============================================================================

// Promote makes this broker the leader. A no-op if it already is.
func (b *Broker) Promote() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBrokerClosed
	}
	if b.role == RoleLeader {
		b.mu.Unlock()
		b.logger.Info("promote ignored, already leader")
		return nil
	}

	previous := b.leader
	if b.supervisor != nil {
		b.supervisor.Shutdown()
		b.supervisor = nil
	}
	b.role = RoleLeader
	b.leader = cluster.BrokerAddress{}
	b.mu.Unlock()

	b.metrics.Broker.SetRole(RoleLeader.String(), true)
	b.logger.Info("promoted to leader", "previous_leader", previous.String())

	if err := b.offsets.Reload(); err != nil {
		return fmt.Errorf("promoted but failed to reload offsets: %w", err)
	}
	return nil
}

// Demote makes a leader follow newLeader. A no-op on a follower.
func (b *Broker) Demote(newLeader cluster.BrokerAddress) error {
	if !newLeader.IsValid() {
		return fmt.Errorf("%w: %q", cluster.ErrInvalidAddress, newLeader)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBrokerClosed
	}
	if b.role != RoleLeader {
		b.logger.Info("demote ignored, already follower",
			"leader", b.leader.String(),
			"requested_leader", newLeader.String())
		return nil
	}

	b.role = RoleFollower
	b.leader = newLeader
	b.metrics.Broker.SetRole(RoleFollower.String(), false)
	b.logger.Warn("demoted to follower", "leader", newLeader.String())

	if b.started {
		return b.startSupervisorLocked(newLeader)
	}
	return nil
}

// UpdateLeader points a follower at newLeader, replacing its supervisor.
func (b *Broker) UpdateLeader(newLeader cluster.BrokerAddress) error {
	if !newLeader.IsValid() {
		return fmt.Errorf("%w: %q", cluster.ErrInvalidAddress, newLeader)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBrokerClosed
	}
	if b.role == RoleLeader {
		return ErrNotFollower
	}

	if b.supervisor != nil {
		b.supervisor.Shutdown()
		b.supervisor = nil
	}
	previous := b.leader
	b.leader = newLeader
	b.logger.Info("leader updated", "leader", newLeader.String(), "previous_leader", previous.String())

	if b.started {
		return b.startSupervisorLocked(newLeader)
	}
	return nil
}

// startSupervisorLocked starts a fresh replication term. Caller holds b.mu.
func (b *Broker) startSupervisorLocked(leader cluster.BrokerAddress) error {
	cfg := cluster.DefaultReplicationConfig(leader)
	if b.config.DiscoveryInterval > 0 {
		cfg.DiscoveryInterval = b.config.DiscoveryInterval
	}
	if b.config.FetchBatchSize > 0 {
		cfg.BatchSize = b.config.FetchBatchSize
	}

	sup := cluster.NewReplicationManager(cfg, b.topics, b.config.LeaderClient(leader), b.metrics.Replication, b.logger)
	if err := sup.Start(b.ctx); err != nil {
		return fmt.Errorf("failed to start replication: %w", err)
	}
	b.supervisor = sup
	return nil
}

// Role returns the current role.
func (b *Broker) Role() Role {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.role
}

// Leader returns the followed leader; false when this broker leads.
func (b *Broker) Leader() (cluster.BrokerAddress, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.leader, b.role == RoleFollower
}

// Supervisor returns the running replication manager, or nil on a leader.
func (b *Broker) Supervisor() *cluster.ReplicationManager {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.supervisor
}

// =============================================================================
// DATA OPERATIONS
// =============================================================================

// Produce appends a record to topic, creating it if needed. Leader only.
func (b *Broker) Produce(topic string, key, value []byte) (int64, error) {
	start := time.Now()

	// Held through the append so a concurrent Demote waits for it.
	b.mu.RLock()
	if b.role != RoleLeader {
		b.mu.RUnlock()
		return 0, ErrNotLeader
	}
	log, created, err := b.getOrCreate(topic)
	if err != nil {
		b.mu.RUnlock()
		return 0, err
	}
	offset, err := log.Append(key, value)
	b.mu.RUnlock()
	if err != nil {
		return 0, fmt.Errorf("failed to append to %s: %w", topic, err)
	}

	elapsed := time.Since(start)
	b.stats.RecordMessage(elapsed)
	b.metrics.Broker.RecordProduce(topic, storage.RecordSize(key, value), elapsed)
	if created {
		b.metrics.Storage.SetTopics(len(b.topics.Topics()))
	}
	return offset, nil
}

func (b *Broker) getOrCreate(topic string) (*storage.Log, bool, error) {
	if log, ok := b.topics.GetIfExists(topic); ok {
		return log, false, nil
	}
	log, err := b.topics.GetOrCreate(topic)
	return log, err == nil, err
}

// Consume reads the record at offset.
//
//   - unknown topic               → ErrUnknownTopic
//   - offset removed by retention → storage.ErrOffsetTooLow
//   - offset not yet written      → nil, nil
func (b *Broker) Consume(topic string, offset int64) (*storage.Record, error) {
	log, ok := b.topics.GetIfExists(topic)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	rec, err := log.Read(offset)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		b.metrics.Broker.RecordConsume(topic, 1)
	}
	return rec, nil
}

// GetOffset returns the topic's next offset, or -1 for an unknown topic.
func (b *Broker) GetOffset(topic string) int64 {
	log, ok := b.topics.GetIfExists(topic)
	if !ok {
		return -1
	}
	return log.NextOffset()
}

// ReplicaFetch returns up to max records starting at from. max is capped at
// MaxReplicaFetch.
func (b *Broker) ReplicaFetch(topic string, from int64, max int) ([]storage.Record, error) {
	if max <= 0 || max > MaxReplicaFetch {
		max = MaxReplicaFetch
	}
	log, ok := b.topics.GetIfExists(topic)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	return log.ReadBatch(from, max)
}

// ListTopics returns every topic name, sorted.
func (b *Broker) ListTopics() []string {
	return b.topics.Topics()
}

// =============================================================================
// CONSUMER OFFSETS
// =============================================================================

// CommitOffset stores a group's offset. Leader only.
func (b *Broker) CommitOffset(group, topic string, offset int64) error {
	b.mu.RLock()
	if b.role != RoleLeader {
		b.mu.RUnlock()
		return ErrNotLeader
	}
	err := b.offsets.Commit(group, topic, offset)
	b.mu.RUnlock()
	if err != nil {
		return err
	}
	b.metrics.Broker.RecordOffsetCommit()
	return nil
}

// FetchOffset returns a group's committed offset, or -1.
func (b *Broker) FetchOffset(group, topic string) int64 {
	return b.offsets.Fetch(group, topic)
}

// =============================================================================
// STATS & METRICS
// =============================================================================

// Stats returns the one-line summary and refreshes the disk usage gauges.
func (b *Broker) Stats() string {
	usage, total := b.topics.DiskUsage()
	for topic, n := range usage {
		b.metrics.Storage.SetDiskUsage(topic, n)
	}
	return b.stats.Report(total)
}

// Metrics returns the broker's metrics registry.
func (b *Broker) Metrics() *metrics.Registry {
	return b.metrics
}

// NodeID returns the configured node ID.
func (b *Broker) NodeID() string {
	return b.config.NodeID
}

func (b *Broker) onSweep(log *storage.Log, deleted int) {
	topic := topicOf(log)
	b.metrics.Storage.RecordSegmentsDeleted(topic, deleted)
	if n, err := log.DiskUsage(); err == nil {
		b.metrics.Storage.SetDiskUsage(topic, n)
	}
}
