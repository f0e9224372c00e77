// =============================================================================
// TOPIC MANAGER - NAME → LOG DIRECTORY
// =============================================================================
//
// LAYOUT:
//
//   {dataDir}/
//   ├── orders/
//   │   ├── 00000000000000000000.data
//   │   ├── 00000000000000000000.index
//   │   └── ...
//   ├── p1/
//   └── __consumer_offsets/
//
// Every valid subdirectory of the data root is opened eagerly at startup.
// New topics are created lazily on first produce (or first replication).
//
// =============================================================================

package broker

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"github.com/andrewc773/kafka-lite/internal/storage"
)

var (
	// ErrInvalidTopicName means the name does not match ^[a-zA-Z0-9_-]+$
	ErrInvalidTopicName = errors.New("invalid topic name")

	// ErrTopicManagerClosed means the directory has been closed
	ErrTopicManagerClosed = errors.New("topic manager is closed")

	topicNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ValidTopicName reports whether name can be used as a topic.
func ValidTopicName(name string) bool {
	return topicNamePattern.MatchString(name)
}

// TopicManager owns one Log per topic under the data root.
type TopicManager struct {
	dataDir string
	config  storage.LogConfig
	logger  *slog.Logger

	// mu protects logs and closed
	mu     sync.RWMutex
	logs   map[string]*storage.Log
	closed bool
}

// NewTopicManager opens every topic found under dataDir.
func NewTopicManager(dataDir string, config storage.LogConfig, logger *slog.Logger) (*TopicManager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	tm := &TopicManager{
		dataDir: dataDir,
		config:  config,
		logger:  logger.With("component", "topic-manager"),
		logs:    make(map[string]*storage.Log),
	}

	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() || !ValidTopicName(entry.Name()) {
			continue
		}
		log, err := storage.OpenLog(filepath.Join(dataDir, entry.Name()), config, logger)
		if err != nil {
			tm.Close()
			return nil, fmt.Errorf("failed to load topic %s: %w", entry.Name(), err)
		}
		tm.logs[entry.Name()] = log
		tm.logger.Info("loaded topic",
			"topic", entry.Name(),
			"segments", log.SegmentCount(),
			"next_offset", log.NextOffset())
	}

	return tm, nil
}

// GetOrCreate returns the topic's log, creating it on first use.
func (tm *TopicManager) GetOrCreate(name string) (*storage.Log, error) {
	if !ValidTopicName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTopicName, name)
	}

	tm.mu.RLock()
	log, ok := tm.logs[name]
	closed := tm.closed
	tm.mu.RUnlock()
	if closed {
		return nil, ErrTopicManagerClosed
	}
	if ok {
		return log, nil
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.closed {
		return nil, ErrTopicManagerClosed
	}
	if log, ok := tm.logs[name]; ok {
		return log, nil
	}

	log, err := storage.OpenLog(filepath.Join(tm.dataDir, name), tm.config, tm.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create topic %s: %w", name, err)
	}
	tm.logs[name] = log
	tm.logger.Info("created topic", "topic", name)
	return log, nil
}

// GetIfExists returns the topic's log without creating it.
func (tm *TopicManager) GetIfExists(name string) (*storage.Log, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	log, ok := tm.logs[name]
	return log, ok
}

// Topics returns every topic name, sorted.
func (tm *TopicManager) Topics() []string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	names := make([]string, 0, len(tm.logs))
	for name := range tm.logs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Logs returns every open log.
func (tm *TopicManager) Logs() []*storage.Log {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	logs := make([]*storage.Log, 0, len(tm.logs))
	for _, log := range tm.logs {
		logs = append(logs, log)
	}
	return logs
}

// DiskUsage returns per-topic bytes on disk and the total.
func (tm *TopicManager) DiskUsage() (map[string]int64, int64) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	usage := make(map[string]int64, len(tm.logs))
	var total int64
	for name, log := range tm.logs {
		n, err := log.DiskUsage()
		if err != nil {
			tm.logger.Warn("failed to compute disk usage", "topic", name, "error", err)
			continue
		}
		usage[name] = n
		total += n
	}
	return usage, total
}

// TotalDiskUsage returns the bytes used by every topic.
func (tm *TopicManager) TotalDiskUsage() int64 {
	_, total := tm.DiskUsage()
	return total
}

// Close closes every log.
func (tm *TopicManager) Close() error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.closed {
		return nil
	}
	tm.closed = true

	var errs []error
	for name, log := range tm.logs {
		if err := log.Close(); err != nil {
			errs = append(errs, fmt.Errorf("topic %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// topicOf returns the topic name of a log opened by a TopicManager.
func topicOf(log *storage.Log) string {
	return filepath.Base(log.Dir())
}
