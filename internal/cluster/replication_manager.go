// =============================================================================
// REPLICATION MANAGER - ONE FOLLOWER TERM
// =============================================================================
//
// WHAT: Supervises replica fetchers on a follower for as long as it follows
// one leader. A new leader means a new manager; managers are never re-pointed.
//
//   ┌──────────────────────────────────────────────────────────────────┐
//   │ ReplicationManager (leader = 10.0.0.1:9092)                      │
//   │                                                                  │
//   │   discovery loop (immediately, then every 5s)                    │
//   │     topics = local topics ∪ leader.ListTopics()                  │
//   │     for each topic without a fetcher:                            │
//   │       log = GetOrCreate(topic); start fetcher                    │
//   │                                                                  │
//   │   ┌─────────────┐ ┌─────────────┐ ┌─────────────┐                │
//   │   │ fetcher p1  │ │ fetcher p2  │ │ fetcher __… │  ...           │
//   │   └─────────────┘ └─────────────┘ └─────────────┘                │
//   └──────────────────────────────────────────────────────────────────┘
//
// Shutdown stops discovery and every fetcher and waits for them. After
// Shutdown returns, nothing started by this manager writes to any log.
//
// =============================================================================

package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andrewc773/kafka-lite/internal/metrics"
	"github.com/andrewc773/kafka-lite/internal/storage"
)

// TopicSource is the broker's topic directory as seen by replication.
type TopicSource interface {
	Topics() []string
	GetOrCreate(name string) (*storage.Log, error)
}

// ReplicationConfig configures a replication manager.
type ReplicationConfig struct {
	// Leader is the broker this term follows.
	Leader BrokerAddress

	// DiscoveryInterval is how often new topics are looked for.
	DiscoveryInterval time.Duration

	// BatchSize is passed to every fetcher.
	BatchSize int

	// Fetcher timings; Topic and BatchSize are filled in per fetcher.
	Fetcher FetcherConfig
}

// DefaultReplicationConfig returns production defaults for following leader.
func DefaultReplicationConfig(leader BrokerAddress) ReplicationConfig {
	return ReplicationConfig{
		Leader:            leader,
		DiscoveryInterval: 5 * time.Second,
		BatchSize:         100,
		Fetcher:           DefaultFetcherConfig(""),
	}
}

// ReplicationManager runs the fetchers of one follower term.
type ReplicationManager struct {
	config  ReplicationConfig
	topics  TopicSource
	leader  LeaderClient
	metrics *metrics.ReplicationMetrics
	logger  *slog.Logger

	// mu protects fetchers and started.
	mu       sync.Mutex
	fetchers map[string]*ReplicaFetcher
	started  bool

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown atomic.Bool
}

// NewReplicationManager creates a manager bound to config.Leader.
func NewReplicationManager(
	config ReplicationConfig,
	topics TopicSource,
	leader LeaderClient,
	m *metrics.ReplicationMetrics,
	logger *slog.Logger,
) *ReplicationManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReplicationManager{
		config:   config,
		topics:   topics,
		leader:   leader,
		metrics:  m,
		logger:   logger.With("component", "replication-manager", "leader", config.Leader.String()),
		fetchers: make(map[string]*ReplicaFetcher),
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Start runs discovery once and then on every interval until ctx is
// cancelled or Shutdown is called.
func (rm *ReplicationManager) Start(ctx context.Context) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.shutdown.Load() {
		return fmt.Errorf("replication manager for %s is shut down", rm.config.Leader)
	}
	if rm.started {
		return nil
	}
	rm.started = true
	rm.ctx, rm.cancel = context.WithCancel(ctx)

	rm.logger.Info("starting replication")

	rm.wg.Add(1)
	go rm.discoveryLoop()
	return nil
}

// Shutdown stops discovery and every fetcher. Safe to call more than once.
func (rm *ReplicationManager) Shutdown() {
	if rm.shutdown.Swap(true) {
		return
	}

	rm.mu.Lock()
	if rm.cancel != nil {
		rm.cancel()
	}
	fetchers := make([]*ReplicaFetcher, 0, len(rm.fetchers))
	for _, f := range rm.fetchers {
		fetchers = append(fetchers, f)
	}
	rm.mu.Unlock()

	rm.wg.Wait()
	for _, f := range fetchers {
		f.Stop()
	}
	rm.logger.Info("replication stopped", "fetchers", len(fetchers))
}

// IsShutdown reports whether Shutdown has been called.
func (rm *ReplicationManager) IsShutdown() bool {
	return rm.shutdown.Load()
}

// Leader returns the leader this term follows.
func (rm *ReplicationManager) Leader() BrokerAddress {
	return rm.config.Leader
}

// Topics returns the topics with a running fetcher, sorted.
func (rm *ReplicationManager) Topics() []string {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	names := make([]string, 0, len(rm.fetchers))
	for name := range rm.fetchers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FetcherStats returns the stats of a topic's fetcher.
func (rm *ReplicationManager) FetcherStats(topic string) (FetcherStats, bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	f, ok := rm.fetchers[topic]
	if !ok {
		return FetcherStats{}, false
	}
	return f.Stats(), true
}

// =============================================================================
// DISCOVERY
// =============================================================================

func (rm *ReplicationManager) discoveryLoop() {
	defer rm.wg.Done()

	rm.discover()

	ticker := time.NewTicker(rm.config.DiscoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rm.ctx.Done():
			return
		case <-ticker.C:
			rm.discover()
		}
	}
}

// discover starts a fetcher for every known topic that has none.
func (rm *ReplicationManager) discover() {
	names := make(map[string]struct{})
	for _, name := range rm.topics.Topics() {
		names[name] = struct{}{}
	}

	remote, err := rm.leader.ListTopics(rm.ctx)
	if err != nil {
		if rm.ctx.Err() != nil {
			return
		}
		rm.logger.Warn("failed to list leader topics", "error", err)
	}
	for _, name := range remote {
		names[name] = struct{}{}
	}

	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	for _, name := range sorted {
		if err := rm.ensureFetcher(name); err != nil {
			rm.logger.Error("failed to start fetcher", "topic", name, "error", err)
		}
	}
}

func (rm *ReplicationManager) ensureFetcher(topic string) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.shutdown.Load() || rm.ctx.Err() != nil {
		return nil
	}
	if _, ok := rm.fetchers[topic]; ok {
		return nil
	}

	log, err := rm.topics.GetOrCreate(topic)
	if err != nil {
		return err
	}

	cfg := rm.config.Fetcher
	cfg.Topic = topic
	if rm.config.BatchSize > 0 {
		cfg.BatchSize = rm.config.BatchSize
	}

	f := NewReplicaFetcher(rm.ctx, cfg, rm.leader, log, rm.metrics, rm.logger)
	rm.fetchers[topic] = f
	f.Start()

	rm.logger.Info("discovered topic", "topic", topic)
	return nil
}
