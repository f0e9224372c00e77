package cluster

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/andrewc773/kafka-lite/internal/storage"
)

// topicDir is a minimal TopicSource over a temp directory.
type topicDir struct {
	t    *testing.T
	dir  string
	mu   sync.Mutex
	logs map[string]*storage.Log
}

func newTopicDir(t *testing.T) *topicDir {
	return &topicDir{t: t, dir: t.TempDir(), logs: make(map[string]*storage.Log)}
}

func (d *topicDir) Topics() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.logs))
	for name := range d.logs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d *topicDir) GetOrCreate(name string) (*storage.Log, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if log, ok := d.logs[name]; ok {
		return log, nil
	}
	log := openTestLog(d.t, filepath.Join(d.dir, name))
	d.logs[name] = log
	return log, nil
}

func fastReplicationConfig() ReplicationConfig {
	cfg := DefaultReplicationConfig(MustParseBrokerAddress("127.0.0.1:9092"))
	cfg.DiscoveryInterval = 20 * time.Millisecond
	cfg.Fetcher = fastFetcherConfig("")
	return cfg
}

func TestReplicationManager_DiscoversLeaderAndLocalTopics(t *testing.T) {
	leaderDir := t.TempDir()
	leader := newLogLeader()
	orders := openTestLog(t, filepath.Join(leaderDir, "orders"))
	appendValues(t, orders, "o", 7)
	leader.add("orders", orders)

	local := newTopicDir(t)
	// A topic only the follower knows still gets a fetcher, which drops
	// the records the leader never had.
	localOnly, _ := local.GetOrCreate("audit")
	appendValues(t, localOnly, "a", 2)

	rm := NewReplicationManager(fastReplicationConfig(), local, leader, nil, quietLogger())
	if err := rm.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rm.Shutdown()

	waitFor(t, 5*time.Second, func() bool {
		log, _ := local.GetOrCreate("orders")
		return log.NextOffset() == 7
	}, "orders to replicate")

	if got := rm.Topics(); len(got) != 2 || got[0] != "audit" || got[1] != "orders" {
		t.Fatalf("Topics=%v want=[audit orders]", got)
	}
	waitFor(t, 5*time.Second, func() bool {
		return localOnly.NextOffset() == 0
	}, "local-only topic to be truncated")

	// Topics created on the leader later are picked up by the next round.
	payments := openTestLog(t, filepath.Join(leaderDir, "payments"))
	appendValues(t, payments, "p", 3)
	leader.add("payments", payments)

	waitFor(t, 5*time.Second, func() bool {
		stats, ok := rm.FetcherStats("payments")
		return ok && stats.RecordsFetched == 3
	}, "payments to replicate")
}

func TestReplicationManager_ShutdownStopsWrites(t *testing.T) {
	leaderDir := t.TempDir()
	leader := newLogLeader()
	p1 := openTestLog(t, filepath.Join(leaderDir, "p1"))
	appendValues(t, p1, "m", 5)
	leader.add("p1", p1)

	local := newTopicDir(t)
	rm := NewReplicationManager(fastReplicationConfig(), local, leader, nil, quietLogger())
	if err := rm.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		log, _ := local.GetOrCreate("p1")
		return log.NextOffset() == 5
	}, "p1 to replicate")

	rm.Shutdown()
	rm.Shutdown()
	if !rm.IsShutdown() {
		t.Fatal("IsShutdown=false after Shutdown")
	}

	appendValues(t, p1, "after", 5)
	time.Sleep(100 * time.Millisecond)

	log, _ := local.GetOrCreate("p1")
	if got := log.NextOffset(); got != 5 {
		t.Fatalf("follower kept replicating after shutdown: NextOffset=%d", got)
	}

	if err := rm.Start(context.Background()); err == nil {
		t.Fatal("Start after Shutdown succeeded, want error")
	}
}

func TestReplicationManager_ShutdownBeforeStart(t *testing.T) {
	rm := NewReplicationManager(fastReplicationConfig(), newTopicDir(t), newLogLeader(), nil, quietLogger())
	rm.Shutdown()
	if got := rm.Topics(); len(got) != 0 {
		t.Fatalf("Topics=%v want none", got)
	}
}

func TestReplicationManager_ToleratesLeaderOutage(t *testing.T) {
	leader := newLogLeader()
	leader.down.Store(true)

	local := newTopicDir(t)
	existing, _ := local.GetOrCreate("p1")
	appendValues(t, existing, "m", 1)

	rm := NewReplicationManager(fastReplicationConfig(), local, leader, nil, quietLogger())
	if err := rm.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rm.Shutdown()

	// ListTopics fails, but local topics still get fetchers.
	waitFor(t, 5*time.Second, func() bool {
		stats, ok := rm.FetcherStats("p1")
		return ok && stats.Errors > 0
	}, "fetcher to report leader errors")

	if rm.Leader() != MustParseBrokerAddress("127.0.0.1:9092") {
		t.Fatalf("Leader=%s", rm.Leader())
	}
}

func TestReplicationManager_CancelledParentStopsDiscovery(t *testing.T) {
	leader := newLogLeader()
	ctx, cancel := context.WithCancel(context.Background())

	rm := NewReplicationManager(fastReplicationConfig(), newTopicDir(t), leader, nil, quietLogger())
	if err := rm.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()

	done := make(chan struct{})
	go func() {
		rm.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown hung after parent cancellation")
	}
}
