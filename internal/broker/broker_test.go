package broker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewc773/kafka-lite/internal/cluster"
	"github.com/andrewc773/kafka-lite/internal/storage"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// idleLeader is a leader that never answers, so followers back off and keep
// whatever they hold locally.
type idleLeader struct{}

var errLeaderUnreachable = errors.New("leader unreachable")

func (idleLeader) GetOffset(context.Context, string) (int64, error) {
	return 0, errLeaderUnreachable
}
func (idleLeader) ReplicaFetch(context.Context, string, int64, int) ([]storage.Record, error) {
	return nil, nil
}
func (idleLeader) ListTopics(context.Context) ([]string, error) { return nil, nil }

func testConfig(dir string) Config {
	cfg := DefaultConfig()
	cfg.DataDir = dir
	cfg.CleanupInterval = time.Hour
	cfg.Log.Retention = time.Hour
	cfg.LeaderClient = func(cluster.BrokerAddress) cluster.LeaderClient { return idleLeader{} }
	return cfg
}

func followerConfig(dir string) Config {
	cfg := testConfig(dir)
	cfg.IsLeader = false
	cfg.Leader = cluster.BrokerAddress{Host: "10.0.0.1", Port: 9092}
	return cfg
}

func newTestBroker(t *testing.T, cfg Config) *Broker {
	t.Helper()
	b, err := NewBroker(cfg, nil, nil)
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { b.Stop() })
	return b
}

// =============================================================================
// DATA OPERATIONS
// =============================================================================

func TestBroker_ProduceConsume(t *testing.T) {
	b := newTestBroker(t, testConfig(t.TempDir()))

	for i := 0; i < 5; i++ {
		offset, err := b.Produce("orders", []byte(fmt.Sprintf("k%d", i)), []byte(fmt.Sprintf("v%d", i)))
		require.NoError(t, err)
		assert.Equal(t, int64(i), offset)
	}

	rec, err := b.Consume("orders", 3)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(3), rec.Offset)
	assert.Equal(t, "k3", string(rec.Key))
	assert.Equal(t, "v3", string(rec.Value))
	assert.Equal(t, int64(5), b.GetOffset("orders"))
	assert.Equal(t, []string{"orders"}, b.ListTopics())
}

func TestBroker_ConsumeEdgeCases(t *testing.T) {
	b := newTestBroker(t, testConfig(t.TempDir()))
	_, err := b.Produce("orders", nil, []byte("only"))
	require.NoError(t, err)

	_, err = b.Consume("missing", 0)
	assert.ErrorIs(t, err, ErrUnknownTopic)

	rec, err := b.Consume("orders", 1)
	assert.NoError(t, err)
	assert.Nil(t, rec, "offset not yet written")

	assert.Equal(t, int64(-1), b.GetOffset("missing"))
}

func TestBroker_InvalidTopicName(t *testing.T) {
	b := newTestBroker(t, testConfig(t.TempDir()))

	for _, name := range []string{"", "has space", "../escape", "dots.not.allowed"} {
		_, err := b.Produce(name, nil, []byte("x"))
		assert.ErrorIs(t, err, ErrInvalidTopicName, "topic %q", name)
	}
}

func TestBroker_FollowerRejectsWrites(t *testing.T) {
	b := newTestBroker(t, followerConfig(t.TempDir()))

	_, err := b.Produce("orders", nil, []byte("x"))
	assert.ErrorIs(t, err, ErrNotLeader)

	err = b.CommitOffset("billing", "orders", 4)
	assert.ErrorIs(t, err, ErrNotLeader)
}

func TestBroker_ReplicaFetchIsCapped(t *testing.T) {
	b := newTestBroker(t, testConfig(t.TempDir()))
	for i := 0; i < 150; i++ {
		_, err := b.Produce("p1", nil, []byte(fmt.Sprintf("m%d", i)))
		require.NoError(t, err)
	}

	recs, err := b.ReplicaFetch("p1", 0, 500)
	require.NoError(t, err)
	assert.Len(t, recs, MaxReplicaFetch)

	recs, err = b.ReplicaFetch("p1", 120, 10)
	require.NoError(t, err)
	require.Len(t, recs, 10)
	assert.Equal(t, int64(120), recs[0].Offset)

	recs, err = b.ReplicaFetch("p1", 150, 10)
	require.NoError(t, err)
	assert.Empty(t, recs)

	_, err = b.ReplicaFetch("missing", 0, 10)
	assert.ErrorIs(t, err, ErrUnknownTopic)
}

// =============================================================================
// ROLE TRANSITIONS
// =============================================================================

func TestBroker_DemoteStartsReplication(t *testing.T) {
	b := newTestBroker(t, testConfig(t.TempDir()))
	require.Equal(t, RoleLeader, b.Role())
	assert.Nil(t, b.Supervisor())

	leader := cluster.BrokerAddress{Host: "10.0.0.2", Port: 9093}
	require.NoError(t, b.Demote(leader))

	assert.Equal(t, RoleFollower, b.Role())
	addr, following := b.Leader()
	assert.True(t, following)
	assert.Equal(t, leader, addr)
	require.NotNil(t, b.Supervisor())
	assert.Equal(t, leader, b.Supervisor().Leader())

	// A second demote on a follower changes nothing.
	require.NoError(t, b.Demote(cluster.BrokerAddress{Host: "10.0.0.3", Port: 9094}))
	addr, _ = b.Leader()
	assert.Equal(t, leader, addr)
}

func TestBroker_UpdateLeaderReplacesSupervisor(t *testing.T) {
	b := newTestBroker(t, followerConfig(t.TempDir()))
	first := b.Supervisor()
	require.NotNil(t, first)

	next := cluster.BrokerAddress{Host: "10.0.0.9", Port: 9092}
	require.NoError(t, b.UpdateLeader(next))

	second := b.Supervisor()
	require.NotNil(t, second)
	assert.NotSame(t, first, second)
	assert.True(t, first.IsShutdown())
	assert.False(t, second.IsShutdown())
	assert.Equal(t, next, second.Leader())
}

func TestBroker_UpdateLeaderRejectedOnLeader(t *testing.T) {
	b := newTestBroker(t, testConfig(t.TempDir()))

	err := b.UpdateLeader(cluster.BrokerAddress{Host: "10.0.0.9", Port: 9092})
	assert.ErrorIs(t, err, ErrNotFollower)
}

func TestBroker_PromoteStopsReplication(t *testing.T) {
	b := newTestBroker(t, followerConfig(t.TempDir()))
	sup := b.Supervisor()
	require.NotNil(t, sup)

	require.NoError(t, b.Promote())
	assert.Equal(t, RoleLeader, b.Role())
	assert.Nil(t, b.Supervisor())
	assert.True(t, sup.IsShutdown())

	_, following := b.Leader()
	assert.False(t, following)

	// Idempotent
	require.NoError(t, b.Promote())

	offset, err := b.Produce("orders", nil, []byte("after promotion"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), offset)
}

func TestBroker_NoWriteLandsAfterDemote(t *testing.T) {
	b := newTestBroker(t, testConfig(t.TempDir()))
	_, err := b.Produce("orders", nil, []byte("seed"))
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		highest int64 = -1
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				offset, err := b.Produce("orders", nil, []byte("racing"))
				if err != nil {
					assert.ErrorIs(t, err, ErrNotLeader)
					return
				}
				mu.Lock()
				if offset > highest {
					highest = offset
				}
				mu.Unlock()
			}
		}()
	}

	require.Eventually(t, func() bool { return b.GetOffset("orders") > 50 }, 5*time.Second, time.Millisecond)
	require.NoError(t, b.Demote(cluster.MustParseBrokerAddress("127.0.0.1:19092")))
	atDemote := b.GetOffset("orders")
	wg.Wait()

	assert.Equal(t, atDemote, b.GetOffset("orders"))
	assert.Less(t, highest, atDemote)
}

func TestBroker_DemoteRejectsInvalidAddress(t *testing.T) {
	b := newTestBroker(t, testConfig(t.TempDir()))

	err := b.Demote(cluster.BrokerAddress{Host: "", Port: 9092})
	assert.ErrorIs(t, err, cluster.ErrInvalidAddress)
	assert.Equal(t, RoleLeader, b.Role())
}

func TestBroker_FollowerNeedsLeaderAddress(t *testing.T) {
	cfg := followerConfig(t.TempDir())
	cfg.Leader = cluster.BrokerAddress{}

	_, err := NewBroker(cfg, nil, nil)
	assert.Error(t, err)
}

// =============================================================================
// OFFSETS & STATS
// =============================================================================

func TestBroker_CommitOffsetSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	b, err := NewBroker(testConfig(dir), nil, nil)
	require.NoError(t, err)
	require.NoError(t, b.CommitOffset("billing", "orders", 17))
	require.NoError(t, b.CommitOffset("billing", "orders", 42))
	require.NoError(t, b.CommitOffset("audit", "orders", 3))
	assert.Equal(t, int64(42), b.FetchOffset("billing", "orders"))
	require.NoError(t, b.Stop())

	b = newTestBroker(t, testConfig(dir))
	assert.Equal(t, int64(42), b.FetchOffset("billing", "orders"))
	assert.Equal(t, int64(3), b.FetchOffset("audit", "orders"))
	assert.Equal(t, int64(-1), b.FetchOffset("nobody", "orders"))
	assert.Contains(t, b.ListTopics(), ConsumerOffsetsTopic)
}

func TestBroker_PromoteReloadsReplicatedOffsets(t *testing.T) {
	b := newTestBroker(t, followerConfig(t.TempDir()))

	// Simulate a commit that arrived through replication.
	log, err := b.topics.GetOrCreate(ConsumerOffsetsTopic)
	require.NoError(t, err)
	_, err = log.Append([]byte("billing:orders"), []byte("99"))
	require.NoError(t, err)
	assert.Equal(t, int64(-1), b.FetchOffset("billing", "orders"))

	require.NoError(t, b.Promote())
	assert.Equal(t, int64(99), b.FetchOffset("billing", "orders"))
}

func TestBroker_Stats(t *testing.T) {
	b := newTestBroker(t, testConfig(t.TempDir()))
	for i := 0; i < 3; i++ {
		_, err := b.Produce("orders", nil, []byte("payload"))
		require.NoError(t, err)
	}

	pattern := regexp.MustCompile(`^UPTIME=\d+s, MSG_COUNT=3, MSG_PER_SEC=\d+\.\d{2}, LAST_LATENCY=\d+ms, DISK_USAGE=\d+KB$`)
	assert.Regexp(t, pattern, b.Stats())
}

func TestBroker_StopIsIdempotent(t *testing.T) {
	b, err := NewBroker(testConfig(t.TempDir()), nil, nil)
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))

	require.NoError(t, b.Stop())
	require.NoError(t, b.Stop())
	assert.ErrorIs(t, b.Promote(), ErrBrokerClosed)
}

// =============================================================================
// TOPIC MANAGER
// =============================================================================

func TestTopicManager_LoadsExistingTopics(t *testing.T) {
	dir := t.TempDir()

	tm, err := NewTopicManager(dir, storage.DefaultLogConfig(), nil)
	require.NoError(t, err)
	for _, name := range []string{"b-topic", "a_topic"} {
		log, err := tm.GetOrCreate(name)
		require.NoError(t, err)
		_, err = log.Append(nil, []byte("x"))
		require.NoError(t, err)
	}
	require.NoError(t, tm.Close())

	// Directories that are not valid topic names are ignored.
	require.NoError(t, os.Mkdir(filepath.Join(dir, "not.a.topic"), 0755))

	tm, err = NewTopicManager(dir, storage.DefaultLogConfig(), nil)
	require.NoError(t, err)
	defer tm.Close()

	assert.Equal(t, []string{"a_topic", "b-topic"}, tm.Topics())
	log, ok := tm.GetIfExists("a_topic")
	require.True(t, ok)
	assert.Equal(t, int64(1), log.NextOffset())

	_, ok = tm.GetIfExists("missing")
	assert.False(t, ok)
	assert.Greater(t, tm.TotalDiskUsage(), int64(0))
}

func TestTopicManager_GetOrCreateReturnsSameLog(t *testing.T) {
	tm, err := NewTopicManager(t.TempDir(), storage.DefaultLogConfig(), nil)
	require.NoError(t, err)
	defer tm.Close()

	first, err := tm.GetOrCreate("orders")
	require.NoError(t, err)
	second, err := tm.GetOrCreate("orders")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Len(t, tm.Logs(), 1)
}

// =============================================================================
// OFFSET MANAGER
// =============================================================================

func TestOffsetManager_RejectsBadGroup(t *testing.T) {
	tm, err := NewTopicManager(t.TempDir(), storage.DefaultLogConfig(), nil)
	require.NoError(t, err)
	defer tm.Close()

	om, err := NewOffsetManager(tm, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, om.Commit("", "orders", 1), ErrInvalidGroup)
	assert.ErrorIs(t, om.Commit("a:b", "orders", 1), ErrInvalidGroup)
	assert.ErrorIs(t, om.Commit("billing", "bad topic", 1), ErrInvalidTopicName)
}

func TestOffsetManager_ReloadSkipsMalformedRecords(t *testing.T) {
	tm, err := NewTopicManager(t.TempDir(), storage.DefaultLogConfig(), nil)
	require.NoError(t, err)
	defer tm.Close()

	log, err := tm.GetOrCreate(ConsumerOffsetsTopic)
	require.NoError(t, err)
	_, err = log.Append([]byte("g:t"), []byte("not-a-number"))
	require.NoError(t, err)
	_, err = log.Append(nil, []byte("5"))
	require.NoError(t, err)
	_, err = log.Append([]byte("g:t"), []byte("7"))
	require.NoError(t, err)

	om, err := NewOffsetManager(tm, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), om.Fetch("g", "t"))
}
