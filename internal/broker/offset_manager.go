// =============================================================================
// OFFSET MANAGER - TRACKING CONSUMER PROGRESS
// =============================================================================
//
// WHAT IS OFFSET MANAGEMENT?
// The offset manager remembers, per consumer group and topic, the offset a
// group has committed. A restarted consumer resumes from there instead of
// re-reading the topic from the beginning.
//
// STORAGE:
// Commits are appended as ordinary records to the internal topic
// __consumer_offsets and cached in memory:
//
//   ┌──────────────────────────────────────────────────────────────────┐
//   │ __consumer_offsets                                               │
//   │   offset 0: key="billing:orders"  value="17"                     │
//   │   offset 1: key="audit:orders"    value="3"                      │
//   │   offset 2: key="billing:orders"  value="42"   ◄── latest wins   │
//   └──────────────────────────────────────────────────────────────────┘
//
// Because it is a normal topic, followers replicate it like any other.
// Reload() replays the log so commits received while following become
// visible after promotion.
//
// =============================================================================

package broker

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/andrewc773/kafka-lite/internal/storage"
)

// ConsumerOffsetsTopic is the internal topic holding committed offsets.
const ConsumerOffsetsTopic = "__consumer_offsets"

// reloadBatch is how many records Reload reads per batch.
const reloadBatch = 500

var (
	// ErrInvalidGroup means the consumer group name is empty or contains ':'
	ErrInvalidGroup = errors.New("invalid consumer group")
)

// OffsetManager stores consumer group offsets in the internal topic.
type OffsetManager struct {
	topics *TopicManager
	logger *slog.Logger

	// mu protects offsets
	mu      sync.RWMutex
	offsets map[string]int64
}

// NewOffsetManager creates the manager and loads committed offsets.
func NewOffsetManager(topics *TopicManager, logger *slog.Logger) (*OffsetManager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	om := &OffsetManager{
		topics:  topics,
		logger:  logger.With("component", "offset-manager"),
		offsets: make(map[string]int64),
	}
	if err := om.Reload(); err != nil {
		return nil, err
	}
	return om, nil
}

func offsetKey(group, topic string) string {
	return group + ":" + topic
}

// Commit durably records offset for group on topic.
func (om *OffsetManager) Commit(group, topic string, offset int64) error {
	if group == "" || strings.Contains(group, ":") {
		return fmt.Errorf("%w: %q", ErrInvalidGroup, group)
	}
	if !ValidTopicName(topic) {
		return fmt.Errorf("%w: %q", ErrInvalidTopicName, topic)
	}

	log, err := om.topics.GetOrCreate(ConsumerOffsetsTopic)
	if err != nil {
		return err
	}

	key := offsetKey(group, topic)
	if _, err := log.Append([]byte(key), []byte(strconv.FormatInt(offset, 10))); err != nil {
		return fmt.Errorf("failed to commit offset: %w", err)
	}

	om.mu.Lock()
	om.offsets[key] = offset
	om.mu.Unlock()

	om.logger.Debug("committed offset", "group", group, "topic", topic, "offset", offset)
	return nil
}

// Fetch returns the committed offset, or -1 when the group never committed.
func (om *OffsetManager) Fetch(group, topic string) int64 {
	om.mu.RLock()
	defer om.mu.RUnlock()

	if offset, ok := om.offsets[offsetKey(group, topic)]; ok {
		return offset
	}
	return -1
}

// Reload rebuilds the cache by replaying the retained internal topic.
func (om *OffsetManager) Reload() error {
	log, ok := om.topics.GetIfExists(ConsumerOffsetsTopic)
	if !ok {
		return nil
	}

	offsets := make(map[string]int64)
	from := log.OldestOffset()
	malformed := 0
	for {
		batch, err := log.ReadBatch(from, reloadBatch)
		if errors.Is(err, storage.ErrOffsetTooLow) {
			// Retention removed the head while we were reading.
			from = log.OldestOffset()
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to reload offsets: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		for _, rec := range batch {
			offset, err := strconv.ParseInt(string(rec.Value), 10, 64)
			if err != nil || rec.Key == nil {
				malformed++
				continue
			}
			offsets[string(rec.Key)] = offset
		}
		from = batch[len(batch)-1].Offset + 1
	}

	om.mu.Lock()
	om.offsets = offsets
	om.mu.Unlock()

	if malformed > 0 {
		om.logger.Warn("skipped malformed offset records", "count", malformed)
	}
	om.logger.Info("reloaded consumer offsets", "entries", len(offsets))
	return nil
}
