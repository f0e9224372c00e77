// =============================================================================
// REPLICA FETCHER - BACKGROUND LOG REPLICATION FOR ONE TOPIC
// =============================================================================
//
// WHAT: A goroutine on a follower that keeps one local topic log identical to
// the leader's copy by pulling records.
//
// FLOW:
//   ┌────────────────────────────────────────────────────────────────────────┐
//   │                        REPLICA FETCHER LOOP                            │
//   │                                                                        │
//   │   ┌──────────────────────┐                                             │
//   │   │ 1. GET_OFFSET leader │  leader = -1 (topic unknown) → idle         │
//   │   └──────────┬───────────┘                                             │
//   │              ▼                                                         │
//   │   ┌──────────────────────┐   ┌────────────────────────────────────┐    │
//   │   │ 2. local > leader ?  │──►│ DIVERGED: truncate local log to    │    │
//   │   │                      │   │ leader next offset, loop again     │    │
//   │   └──────────┬───────────┘   └────────────────────────────────────┘    │
//   │              ▼                                                         │
//   │   ┌──────────────────────┐                                             │
//   │   │ 3. REPLICA_FETCH     │  from = local next offset, max = 100        │
//   │   │    from local next   │                                             │
//   │   └──────────┬───────────┘                                             │
//   │              ▼                                                         │
//   │   ┌──────────────────────┐                                             │
//   │   │ 4. empty? sleep 1s   │                                             │
//   │   │    else append each  │  timestamps preserved, loop immediately     │
//   │   └──────────────────────┘                                             │
//   │                                                                        │
//   └────────────────────────────────────────────────────────────────────────┘
//
// ERROR HANDLING:
//   - Leader unreachable or bad response: exponential backoff
//     (2s → 4s → 8s → max 10s), reset after the next success
//   - Errors are never surfaced to producers; they only show in logs,
//     Stats() and the replication metrics
//
// =============================================================================

package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/andrewc773/kafka-lite/internal/metrics"
	"github.com/andrewc773/kafka-lite/internal/storage"
)

// =============================================================================
// DEPENDENCIES
// =============================================================================

// LeaderClient is the subset of the broker RPCs a follower needs from its leader.
type LeaderClient interface {
	GetOffset(ctx context.Context, topic string) (int64, error)
	ReplicaFetch(ctx context.Context, topic string, from int64, max int) ([]storage.Record, error)
	ListTopics(ctx context.Context) ([]string, error)
}

// ReplicaLog is the local log a fetcher writes into.
type ReplicaLog interface {
	NextOffset() int64
	Truncate(target int64) error
	AppendRecord(rec storage.Record) (int64, error)
}

// =============================================================================
// REPLICA FETCHER CONFIG
// =============================================================================

// FetcherConfig configures a fetcher.
type FetcherConfig struct {
	// Topic is the topic to replicate.
	Topic string

	// BatchSize is the max records per REPLICA_FETCH.
	BatchSize int

	// IdleBackoff is the sleep after an empty fetch.
	IdleBackoff time.Duration

	// InitialErrorBackoff is the first sleep after a failure; doubles per failure.
	InitialErrorBackoff time.Duration

	// MaxErrorBackoff caps the error backoff.
	MaxErrorBackoff time.Duration
}

// DefaultFetcherConfig returns production defaults for a topic.
func DefaultFetcherConfig(topic string) FetcherConfig {
	return FetcherConfig{
		Topic:               topic,
		BatchSize:           100,
		IdleBackoff:         time.Second,
		InitialErrorBackoff: 2 * time.Second,
		MaxErrorBackoff:     10 * time.Second,
	}
}

// =============================================================================
// REPLICA FETCHER
// =============================================================================

// ReplicaFetcher replicates one topic from the leader in the background.
type ReplicaFetcher struct {
	config  FetcherConfig
	leader  LeaderClient
	log     ReplicaLog
	metrics *metrics.ReplicationMetrics
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu protects running, consecutiveErrors and stats.
	mu                sync.Mutex
	running           bool
	consecutiveErrors int
	stats             FetcherStats
}

// FetcherStats tracks fetcher activity.
type FetcherStats struct {
	// RecordsFetched is the number of records appended locally.
	RecordsFetched int64

	// Truncations counts divergence resolutions.
	Truncations int64

	// Errors counts failed iterations.
	Errors int64

	// LastError is the most recent error.
	LastError string

	// LastErrorTime is when the last error occurred.
	LastErrorTime time.Time
}

// NewReplicaFetcher creates a fetcher. It stops when parent is cancelled or on Stop.
func NewReplicaFetcher(
	parent context.Context,
	config FetcherConfig,
	leader LeaderClient,
	log ReplicaLog,
	m *metrics.ReplicationMetrics,
	logger *slog.Logger,
) *ReplicaFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)

	return &ReplicaFetcher{
		config:  config,
		leader:  leader,
		log:     log,
		metrics: m,
		logger:  logger.With("component", "replica-fetcher", "topic", config.Topic),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Start begins the fetch loop.
func (rf *ReplicaFetcher) Start() {
	rf.mu.Lock()
	if rf.running {
		rf.mu.Unlock()
		return
	}
	rf.running = true
	rf.mu.Unlock()

	rf.logger.Info("starting replica fetcher", "local_next_offset", rf.log.NextOffset())
	rf.metrics.FetcherStarted()

	rf.wg.Add(1)
	go rf.fetchLoop()
}

// Stop cancels the loop and waits for it to exit.
func (rf *ReplicaFetcher) Stop() {
	rf.mu.Lock()
	wasRunning := rf.running
	rf.running = false
	rf.mu.Unlock()

	rf.cancel()
	rf.wg.Wait()

	if wasRunning {
		rf.metrics.FetcherStopped()
		rf.logger.Info("replica fetcher stopped")
	}
}

// Topic returns the replicated topic.
func (rf *ReplicaFetcher) Topic() string {
	return rf.config.Topic
}

// Stats returns a copy of the fetcher statistics.
func (rf *ReplicaFetcher) Stats() FetcherStats {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return rf.stats
}

// =============================================================================
// FETCH LOOP
// =============================================================================

func (rf *ReplicaFetcher) fetchLoop() {
	defer rf.wg.Done()

	for rf.ctx.Err() == nil {
		wait := rf.fetchOnce()
		if wait <= 0 {
			continue
		}
		select {
		case <-rf.ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// fetchOnce runs one iteration and returns how long to sleep before the next.
func (rf *ReplicaFetcher) fetchOnce() time.Duration {
	topic := rf.config.Topic

	leaderNext, err := rf.leader.GetOffset(rf.ctx, topic)
	if err != nil {
		return rf.handleError("get leader offset", err)
	}
	localNext := rf.log.NextOffset()

	// A topic the leader does not have is an empty log there.
	if leaderNext < 0 {
		if localNext == 0 {
			rf.resetErrors()
			return rf.config.IdleBackoff
		}
		leaderNext = 0
	}

	if lag := leaderNext - localNext; lag >= 0 {
		rf.metrics.SetLag(topic, lag)
	}

	// Local tail the leader never had (or lost): drop it and resync.
	if localNext > leaderNext {
		rf.logger.Warn("log diverged from leader, truncating",
			"local_next_offset", localNext,
			"leader_next_offset", leaderNext)

		if err := rf.log.Truncate(leaderNext); err != nil {
			return rf.handleError("truncate diverged log", err)
		}
		rf.mu.Lock()
		rf.stats.Truncations++
		rf.mu.Unlock()
		rf.metrics.RecordDivergence(topic)
		rf.resetErrors()
		return 0
	}

	records, err := rf.leader.ReplicaFetch(rf.ctx, topic, localNext, rf.config.BatchSize)
	if err != nil {
		return rf.handleError("replica fetch", err)
	}
	if len(records) == 0 {
		rf.resetErrors()
		return rf.config.IdleBackoff
	}

	appended := 0
	for _, rec := range records {
		if next := rf.log.NextOffset(); rec.Offset != next {
			rf.recordAppended(appended)
			return rf.handleError("apply batch", fmt.Errorf("leader sent offset %d, local log expects %d", rec.Offset, next))
		}
		if _, err := rf.log.AppendRecord(rec); err != nil {
			rf.recordAppended(appended)
			return rf.handleError("append replicated record", err)
		}
		appended++
	}
	rf.recordAppended(appended)
	rf.resetErrors()

	rf.logger.Debug("replicated records",
		"count", appended,
		"next_offset", rf.log.NextOffset(),
		"leader_next_offset", leaderNext)
	return 0
}

func (rf *ReplicaFetcher) recordAppended(n int) {
	if n == 0 {
		return
	}
	rf.mu.Lock()
	rf.stats.RecordsFetched += int64(n)
	rf.mu.Unlock()
	rf.metrics.RecordReplicated(rf.config.Topic, n)
}

// =============================================================================
// ERROR HANDLING
// =============================================================================

// handleError records a failure and returns the backoff to sleep.
func (rf *ReplicaFetcher) handleError(op string, err error) time.Duration {
	if rf.ctx.Err() != nil {
		return 0
	}

	rf.mu.Lock()
	rf.consecutiveErrors++
	rf.stats.Errors++
	rf.stats.LastError = fmt.Sprintf("%s: %v", op, err)
	rf.stats.LastErrorTime = time.Now()
	backoff := rf.calculateBackoff()
	errs := rf.consecutiveErrors
	rf.mu.Unlock()

	rf.metrics.RecordFetchError(rf.config.Topic)
	rf.logger.Warn("replication error, backing off",
		"op", op,
		"error", err,
		"consecutive_errors", errs,
		"backoff_ms", backoff.Milliseconds())
	return backoff
}

func (rf *ReplicaFetcher) resetErrors() {
	rf.mu.Lock()
	rf.consecutiveErrors = 0
	rf.mu.Unlock()
}

// calculateBackoff doubles from InitialErrorBackoff up to MaxErrorBackoff.
// Caller holds rf.mu.
func (rf *ReplicaFetcher) calculateBackoff() time.Duration {
	backoff := rf.config.InitialErrorBackoff
	for i := 1; i < rf.consecutiveErrors && backoff < rf.config.MaxErrorBackoff; i++ {
		backoff *= 2
	}
	if backoff > rf.config.MaxErrorBackoff {
		backoff = rf.config.MaxErrorBackoff
	}
	return backoff
}
