// =============================================================================
// APPEND-ONLY LOG - THE HEART OF THE STORAGE ENGINE
// =============================================================================
//
// WHAT IS A LOG?
// An ordered, append-only sequence of records for one topic, stored as a chain
// of segments. Offsets start at 0 and increase by exactly one per append.
//
// LOG STRUCTURE:
//
//   ┌─────────────────────────────────────────────────────────────────────┐
//   │                         LOG (one topic directory)                   │
//   │                                                                     │
//   │   ┌───────────────┐ ┌───────────────┐ ┌───────────────┐             │
//   │   │  Segment 0    │ │  Segment 42   │ │  Segment 97   │  (active)   │
//   │   │ offsets 0-41  │ │ 42-96         │ │ 97-...        │             │
//   │   │  [sealed]     │ │  [sealed]     │ │  [writable]   │             │
//   │   └───────────────┘ └───────────────┘ └───────────────┘             │
//   │                                                                     │
//   └─────────────────────────────────────────────────────────────────────┘
//
// ROTATION:
// Before each append the log checks whether the record would push the active
// segment past MaxSegmentBytes. If so, it starts a new segment whose base
// offset is the log's next offset. The check happens BEFORE the write and is
// never retroactive, so a segment can exceed the limit by at most one record
// (and a single oversized record always lands in an empty segment).
//
// CONCURRENCY:
//
//   writers (append, truncate, cleanup) ──► mu (one at a time)
//                                             │
//                                             ▼ publish
//   readers ──────────────────────────► snapshot (atomic pointer to a
//                                        sorted, immutable []*Segment)
//
//   - Writers build a new segment slice and swap it in atomically
//   - Readers never take mu; they load the snapshot and binary-search it
//   - A reader holding an old snapshot may hit a segment that was just
//     deleted by retention or truncation; that is reported the same way a
//     fresh reader would see it (offset too low, or not yet written)
//
// RETENTION:
// Cleanup deletes expired SEALED segments from the oldest end. The active
// segment is exempt no matter how old it is. Eviction stops at the first
// segment that has not expired, so the retained offsets stay contiguous.
//
// =============================================================================

package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// LogConfig holds the per-log storage limits.
type LogConfig struct {
	// MaxSegmentBytes triggers rotation when an append would exceed it
	MaxSegmentBytes int64

	// IndexIntervalBytes is the data distance between index bookmarks
	IndexIntervalBytes int64

	// Retention is how long a sealed segment lives after its last write
	Retention time.Duration
}

// DefaultLogConfig returns the broker's default storage limits.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		MaxSegmentBytes:    2048,
		IndexIntervalBytes: 2048,
		Retention:          5 * time.Minute,
	}
}

// =============================================================================
// ERROR DEFINITIONS
// =============================================================================

var (
	// ErrLogClosed means operations attempted on a closed log
	ErrLogClosed = errors.New("log is closed")
)

// =============================================================================
// LOG STRUCT
// =============================================================================

// Log is an append-only topic log composed of segments ordered by base offset.
// The last segment is always the active one.
type Log struct {
	// dir holds {base}.data / {base}.index pairs
	dir string

	config LogConfig

	// mu serializes writers: append, rotation, truncation and cleanup
	mu sync.Mutex

	// snapshot is the current sorted segment slice. Never mutated in place.
	snapshot atomic.Pointer[[]*Segment]

	// nextOffset is the offset the next append will be assigned
	nextOffset atomic.Int64

	closed atomic.Bool

	logger *slog.Logger
}

// =============================================================================
// LOG CREATION & RECOVERY
// =============================================================================

// OpenLog opens the log in dir, recovering every segment found there, or
// creates an empty log with segment 0.
func OpenLog(dir string, config LogConfig, logger *slog.Logger) (*Log, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	l := &Log{
		dir:    dir,
		config: config,
		logger: logger.With("component", "log", "dir", dir),
	}

	bases, err := listSegmentBases(dir)
	if err != nil {
		return nil, err
	}

	var segments []*Segment
	for _, base := range bases {
		seg, err := OpenSegment(dir, base, config.IndexIntervalBytes)
		if err != nil {
			closeSegments(segments)
			return nil, err
		}
		if n := len(segments); n > 0 && segments[n-1].NextOffset() != base {
			l.logger.Warn("segment chain has a gap",
				"previous_end", segments[n-1].NextOffset(),
				"base_offset", base)
		}
		segments = append(segments, seg)
	}

	if len(segments) == 0 {
		seg, err := NewSegment(dir, 0, config.IndexIntervalBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to create initial segment: %w", err)
		}
		segments = append(segments, seg)
	}

	l.publish(segments)
	l.nextOffset.Store(segments[len(segments)-1].NextOffset())

	if len(bases) > 0 {
		l.logger.Debug("recovered log",
			"segments", len(segments),
			"next_offset", l.nextOffset.Load())
	}
	return l, nil
}

// listSegmentBases returns the base offsets of every data file, ascending.
func listSegmentBases(dir string) ([]int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read log directory: %w", err)
	}

	var bases []int64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if base, ok := ParseDataFileName(entry.Name()); ok {
			bases = append(bases, base)
		}
	}
	sort.Slice(bases, func(i, j int) bool { return bases[i] < bases[j] })
	return bases, nil
}

// =============================================================================
// WRITE OPERATIONS
// =============================================================================

// Append writes a record stamped with the current time and returns its offset.
func (l *Log) Append(key, value []byte) (int64, error) {
	return l.append(NowMillis(), key, value)
}

// AppendRecord writes a record keeping its original timestamp. The record's
// Offset field is ignored; the log assigns the next offset.
func (l *Log) AppendRecord(rec Record) (int64, error) {
	return l.append(rec.Timestamp, rec.Key, rec.Value)
}

func (l *Log) append(timestamp int64, key, value []byte) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed.Load() {
		return 0, ErrLogClosed
	}

	active := l.active()
	if !active.IsEmpty() && active.Size()+RecordSize(key, value) > l.config.MaxSegmentBytes {
		var err error
		if active, err = l.rotate(); err != nil {
			return 0, err
		}
	}

	offset, err := active.AppendRecord(timestamp, key, value)
	if err != nil {
		return 0, err
	}
	l.nextOffset.Store(offset + 1)
	return offset, nil
}

// rotate seals the active segment and starts a new one at nextOffset.
// Caller holds l.mu.
func (l *Log) rotate() (*Segment, error) {
	base := l.nextOffset.Load()
	seg, err := NewSegment(l.dir, base, l.config.IndexIntervalBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to rotate segment: %w", err)
	}

	old := l.segments()
	next := make([]*Segment, len(old), len(old)+1)
	copy(next, old)
	l.publish(append(next, seg))

	l.logger.Debug("rotated segment", "base_offset", base)
	return seg, nil
}

// Truncate discards target and every later record so the next append is
// assigned target. Used to resolve replication divergence.
//
//   - segments with base > target are deleted
//   - the floor segment (base <= target) is truncated to target
//   - with no floor segment, a fresh empty segment at target becomes active
func (l *Log) Truncate(target int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed.Load() {
		return ErrLogClosed
	}
	if target < 0 {
		return fmt.Errorf("%w: cannot truncate to %d", ErrOffsetTooLow, target)
	}
	if target >= l.nextOffset.Load() {
		return nil
	}

	old := l.segments()
	var keep []*Segment
	for _, seg := range old {
		if seg.BaseOffset() <= target {
			keep = append(keep, seg)
			continue
		}
		if err := seg.Delete(); err != nil {
			return fmt.Errorf("failed to delete segment %d: %w", seg.BaseOffset(), err)
		}
	}

	if len(keep) == 0 {
		seg, err := NewSegment(l.dir, target, l.config.IndexIntervalBytes)
		if err != nil {
			return fmt.Errorf("failed to create segment after truncation: %w", err)
		}
		keep = append(keep, seg)
	} else if err := keep[len(keep)-1].Truncate(target); err != nil {
		l.publish(keep)
		return err
	}

	l.publish(keep)
	l.nextOffset.Store(target)

	l.logger.Info("truncated log",
		"target", target,
		"segments_removed", len(old)-len(keep))
	return nil
}

// Cleanup deletes sealed segments whose last write is older than the
// retention window, starting from the oldest. Returns how many were deleted.
func (l *Log) Cleanup(now time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed.Load() {
		return 0, ErrLogClosed
	}

	old := l.segments()
	sealed := old[:len(old)-1]

	removed := 0
	var firstErr error
	for _, seg := range sealed {
		modTime, err := seg.ModTime()
		if err != nil {
			firstErr = err
			break
		}
		if now.Sub(modTime) <= l.config.Retention {
			break
		}
		if err := seg.Delete(); err != nil {
			firstErr = fmt.Errorf("failed to delete expired segment %d: %w", seg.BaseOffset(), err)
			break
		}
		removed++
		l.logger.Info("deleted expired segment",
			"base_offset", seg.BaseOffset(),
			"age", now.Sub(modTime).Round(time.Millisecond))
	}

	if removed > 0 {
		next := make([]*Segment, len(old)-removed)
		copy(next, old[removed:])
		l.publish(next)
	}
	return removed, firstErr
}

// =============================================================================
// READ OPERATIONS
// =============================================================================

// Read returns the record at offset.
//
//   - offset before the oldest retained segment → ErrOffsetTooLow
//   - offset >= NextOffset                      → nil, nil (not written yet)
func (l *Log) Read(offset int64) (*Record, error) {
	if l.closed.Load() {
		return nil, ErrLogClosed
	}

	snap := l.segments()
	i := floorSegment(snap, offset)
	if i < 0 {
		return nil, fmt.Errorf("%w: %d precedes oldest offset %d", ErrOffsetTooLow, offset, snap[0].BaseOffset())
	}
	if offset >= l.nextOffset.Load() {
		return nil, nil
	}

	rec, err := snap[i].Read(offset)
	if errors.Is(err, ErrSegmentClosed) {
		return l.evicted(offset)
	}
	return rec, err
}

// ReadBatch returns up to max consecutive records starting at from, crossing
// segment boundaries. An empty result means nothing has been written at from.
func (l *Log) ReadBatch(from int64, max int) ([]Record, error) {
	if l.closed.Load() {
		return nil, ErrLogClosed
	}

	snap := l.segments()
	i := floorSegment(snap, from)
	if i < 0 {
		return nil, fmt.Errorf("%w: %d precedes oldest offset %d", ErrOffsetTooLow, from, snap[0].BaseOffset())
	}

	var out []Record
	for ; i < len(snap) && len(out) < max; i++ {
		seg := snap[i]
		if from < seg.BaseOffset() {
			break
		}
		recs, err := seg.ReadBatch(from, max-len(out))
		if errors.Is(err, ErrSegmentClosed) {
			if len(out) > 0 {
				return out, nil
			}
			_, err = l.evicted(from)
			return nil, err
		}
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
		from += int64(len(recs))
		if from < seg.NextOffset() {
			break
		}
	}
	return out, nil
}

// evicted classifies a read that raced with segment deletion.
func (l *Log) evicted(offset int64) (*Record, error) {
	if offset >= l.nextOffset.Load() {
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %d was removed concurrently", ErrOffsetTooLow, offset)
}

// floorSegment returns the index of the segment with the greatest base
// offset <= offset, or -1.
func floorSegment(segments []*Segment, offset int64) int {
	i := sort.Search(len(segments), func(i int) bool {
		return segments[i].BaseOffset() > offset
	})
	return i - 1
}

// =============================================================================
// ACCESSORS
// =============================================================================

// NextOffset returns the offset the next append will be assigned.
func (l *Log) NextOffset() int64 {
	return l.nextOffset.Load()
}

// OldestOffset returns the base offset of the oldest retained segment.
func (l *Log) OldestOffset() int64 {
	return l.segments()[0].BaseOffset()
}

// SegmentCount returns the number of segments, active included.
func (l *Log) SegmentCount() int {
	return len(l.segments())
}

// SegmentBaseOffsets returns every segment's base offset, ascending.
func (l *Log) SegmentBaseOffsets() []int64 {
	snap := l.segments()
	out := make([]int64, len(snap))
	for i, seg := range snap {
		out[i] = seg.BaseOffset()
	}
	return out
}

// Dir returns the log directory.
func (l *Log) Dir() string { return l.dir }

// DiskUsage sums the sizes of all files under the log directory.
func (l *Log) DiskUsage() (int64, error) {
	var total int64
	err := filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to compute disk usage: %w", err)
	}
	return total, nil
}

// Close closes every segment. Further operations fail with ErrLogClosed.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed.Swap(true) {
		return nil
	}
	return closeSegments(l.segments())
}

func (l *Log) segments() []*Segment {
	return *l.snapshot.Load()
}

func (l *Log) active() *Segment {
	snap := l.segments()
	return snap[len(snap)-1]
}

func (l *Log) publish(segments []*Segment) {
	l.snapshot.Store(&segments)
}

func closeSegments(segments []*Segment) error {
	var errs []error
	for _, seg := range segments {
		if err := seg.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
