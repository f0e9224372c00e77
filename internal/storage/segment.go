// =============================================================================
// SEGMENT FILE - A CHUNK OF THE LOG
// =============================================================================
//
// WHAT IS A SEGMENT?
// A topic log is split into bounded data files instead of one giant file. Each
// segment holds a contiguous offset range starting at its base offset, plus a
// sparse index of bookmarks into that range.
//
// WHY SEGMENTS?
//   - Retention deletes whole files instead of rewriting one
//   - Recovery only has to walk the tail of the newest segment
//   - Truncation (replication divergence) touches at most one file body
//
// NAMING CONVENTION:
//   {10-digit zero-padded base offset}.data  - concatenated records
//   {10-digit zero-padded base offset}.index - 16-byte bookmarks
//
//   0000000000.data   0000000000.index   → offsets 0..41
//   0000000042.data   0000000042.index   → offsets 42..
//
// SEGMENT LIFECYCLE:
//
//   ┌─────────────┐   rotation    ┌─────────────┐  retention  ┌─────────────┐
//   │   ACTIVE    │ ────────────► │   SEALED    │ ──────────► │   DELETED   │
//   │ (writable)  │               │ (read-only) │  (expired)  │             │
//   └─────────────┘               └─────────────┘             └─────────────┘
//
// DURABILITY:
// Every append is written at the current write position and fsynced before the
// offset is returned. There is no buffered writer and no deferred flush: an
// acknowledged offset always survives a crash.
//
// RECOVERY ON OPEN:
//   - Write position = data file size
//   - Next offset = walk forward from the last bookmark (or byte 0 when the
//     index is empty) to EOF, counting records
//   - A bookmark only promises where ONE record starts; records written after
//     it must still be counted, so "last bookmark + 1" is never trusted alone
//
// =============================================================================

package storage

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DataFileSuffix is the extension of segment data files
	DataFileSuffix = ".data"

	// IndexFileSuffix is the extension of segment index files
	IndexFileSuffix = ".index"

	// scanBufferSize for buffered walks through a data file
	scanBufferSize = 32 * 1024
)

// =============================================================================
// ERROR DEFINITIONS
// =============================================================================

var (
	// ErrSegmentClosed means operations attempted on a closed segment
	ErrSegmentClosed = errors.New("segment is closed")

	// ErrOffsetTooLow means the offset precedes the earliest retained data
	ErrOffsetTooLow = errors.New("offset too low")
)

// =============================================================================
// SEGMENT STRUCT
// =============================================================================

// Segment is one bounded, append-only data file plus its sparse index.
//
// THREAD SAFETY:
//   - Appends and truncation take the write lock
//   - Reads take the read lock and use positional reads (ReadAt), so
//     concurrent readers never share a file cursor
type Segment struct {
	// baseOffset is the first offset this segment can contain
	baseOffset int64

	// nextOffset is the offset the next append will be assigned
	nextOffset int64

	// position is the current write position (= bytes of valid data)
	position int64

	// bytesSinceIndex counts data bytes written after the last bookmark
	bytesSinceIndex int64

	// indexInterval is how many bytes accumulate before a new bookmark
	indexInterval int64

	// file is the data file, opened read-write without O_APPEND
	file *os.File

	// index is the sparse offset → position map
	index *Index

	dataPath string

	mu sync.RWMutex

	closed bool
}

// =============================================================================
// FILE NAMES
// =============================================================================

// DataFileName returns the data file name for a base offset.
func DataFileName(baseOffset int64) string {
	return fmt.Sprintf("%010d%s", baseOffset, DataFileSuffix)
}

// IndexFileName returns the index file name for a base offset.
func IndexFileName(baseOffset int64) string {
	return fmt.Sprintf("%010d%s", baseOffset, IndexFileSuffix)
}

// ParseDataFileName extracts the base offset from a data file name.
func ParseDataFileName(name string) (int64, bool) {
	if !strings.HasSuffix(name, DataFileSuffix) {
		return 0, false
	}
	base, err := strconv.ParseInt(strings.TrimSuffix(name, DataFileSuffix), 10, 64)
	if err != nil || base < 0 {
		return 0, false
	}
	return base, true
}

// =============================================================================
// SEGMENT CREATION & RECOVERY
// =============================================================================

// NewSegment creates an empty segment at baseOffset in dir.
func NewSegment(dir string, baseOffset, indexInterval int64) (*Segment, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create segment directory: %w", err)
	}

	dataPath := filepath.Join(dir, DataFileName(baseOffset))
	file, err := os.OpenFile(dataPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create segment file: %w", err)
	}

	indexPath := filepath.Join(dir, IndexFileName(baseOffset))
	os.Remove(indexPath)
	index, err := OpenIndex(indexPath)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	return &Segment{
		baseOffset:    baseOffset,
		nextOffset:    baseOffset,
		indexInterval: indexInterval,
		file:          file,
		index:         index,
		dataPath:      dataPath,
	}, nil
}

// OpenSegment opens an existing segment and recovers its next offset and
// write position from disk. A record that runs past the end of the file is
// reported as ErrCorruptRecord; the segment is not repaired.
func OpenSegment(dir string, baseOffset, indexInterval int64) (*Segment, error) {
	dataPath := filepath.Join(dir, DataFileName(baseOffset))
	file, err := os.OpenFile(dataPath, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open segment file: %w", err)
	}

	index, err := OpenIndex(filepath.Join(dir, IndexFileName(baseOffset)))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to open index for segment %d: %w", baseOffset, err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		index.Close()
		return nil, fmt.Errorf("failed to stat segment file: %w", err)
	}

	s := &Segment{
		baseOffset:    baseOffset,
		indexInterval: indexInterval,
		file:          file,
		index:         index,
		dataPath:      dataPath,
		position:      stat.Size(),
	}

	// Resume from the last bookmark when there is one, otherwise from byte 0.
	start := IndexEntry{Offset: baseOffset, Position: 0}
	if last, err := index.LastEntry(); err == nil {
		start = last
	}
	if start.Position > s.position {
		file.Close()
		index.Close()
		return nil, fmt.Errorf("%w: bookmark %d@%d beyond data size %d",
			ErrCorruptIndex, start.Offset, start.Position, s.position)
	}

	sc := newRecordScanner(file, start, s.position)
	for sc.pos < s.position {
		if err := sc.skip(); err != nil {
			file.Close()
			index.Close()
			return nil, fmt.Errorf("failed to recover segment %d: %w", baseOffset, err)
		}
	}
	s.nextOffset = sc.offset
	s.resetBookmarkDistance()

	return s, nil
}

// resetBookmarkDistance recomputes bytesSinceIndex from the last bookmark.
func (s *Segment) resetBookmarkDistance() {
	if last, err := s.index.LastEntry(); err == nil {
		s.bytesSinceIndex = s.position - last.Position
		return
	}
	s.bytesSinceIndex = s.position
}

// =============================================================================
// WRITE OPERATIONS
// =============================================================================

// Append writes a record stamped with the current time and returns its offset.
func (s *Segment) Append(key, value []byte) (int64, error) {
	return s.AppendRecord(NowMillis(), key, value)
}

// AppendRecord writes a record with an explicit timestamp and returns its offset.
//
// FLOW:
//  1. Bookmark (nextOffset, position) first if the interval has been reached
//  2. Encode and write at the current position, then fsync
//  3. Advance position and offset
func (s *Segment) AppendRecord(timestamp int64, key, value []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrSegmentClosed
	}

	if s.bytesSinceIndex >= s.indexInterval {
		if err := s.index.AddEntry(s.nextOffset, s.position); err != nil {
			return 0, fmt.Errorf("failed to add index entry: %w", err)
		}
		s.bytesSinceIndex = 0
	}

	data := EncodeRecord(timestamp, key, value)
	n, err := s.file.WriteAt(data, s.position)
	if err == nil {
		err = s.file.Sync()
	}
	if err != nil {
		// Drop any partial bytes so the tail stays a whole number of records.
		s.file.Truncate(s.position)
		return 0, fmt.Errorf("failed to write record: %w", err)
	}

	offset := s.nextOffset
	s.position += int64(n)
	s.bytesSinceIndex += int64(n)
	s.nextOffset++

	return offset, nil
}

// Truncate removes target and every later record. The next append reuses
// target. Targets at or past the next offset are a no-op.
func (s *Segment) Truncate(target int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSegmentClosed
	}
	if target >= s.nextOffset {
		return nil
	}
	if target < s.baseOffset {
		return fmt.Errorf("%w: %d below segment base %d", ErrOffsetTooLow, target, s.baseOffset)
	}

	sc, err := s.seek(target)
	if err != nil {
		return err
	}
	cut := sc.pos

	if err := s.file.Truncate(cut); err != nil {
		return fmt.Errorf("failed to truncate segment: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync segment: %w", err)
	}
	if err := s.index.TruncateTo(target); err != nil {
		return err
	}

	s.position = cut
	s.nextOffset = target
	s.resetBookmarkDistance()
	return nil
}

// =============================================================================
// READ OPERATIONS
// =============================================================================

// Read returns the record at target.
//
//   - target < baseOffset     → ErrOffsetTooLow
//   - target >= nextOffset    → nil, nil (not written yet)
//   - otherwise               → bookmark lookup + forward walk
func (s *Segment) Read(target int64) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrSegmentClosed
	}
	if target < s.baseOffset {
		return nil, fmt.Errorf("%w: %d below segment base %d", ErrOffsetTooLow, target, s.baseOffset)
	}
	if target >= s.nextOffset {
		return nil, nil
	}

	sc, err := s.seek(target)
	if err != nil {
		return nil, err
	}
	rec, err := sc.next()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ReadBatch returns up to max consecutive records starting at from. The
// bookmark walk happens once; the rest of the batch is read sequentially.
func (s *Segment) ReadBatch(from int64, max int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrSegmentClosed
	}
	if from < s.baseOffset {
		return nil, fmt.Errorf("%w: %d below segment base %d", ErrOffsetTooLow, from, s.baseOffset)
	}
	if from >= s.nextOffset || max <= 0 {
		return nil, nil
	}

	sc, err := s.seek(from)
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, min(int64(max), s.nextOffset-from))
	for len(records) < max && sc.offset < s.nextOffset {
		rec, err := sc.next()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// seek returns a scanner positioned at the start of target.
// Caller holds s.mu and guarantees baseOffset <= target < nextOffset.
func (s *Segment) seek(target int64) (*recordScanner, error) {
	start := s.index.Lookup(target, s.baseOffset)
	sc := newRecordScanner(s.file, start, s.position)
	for sc.offset < target {
		if err := sc.skip(); err != nil {
			return nil, err
		}
	}
	return sc, nil
}

// =============================================================================
// ACCESSORS
// =============================================================================

// BaseOffset returns the first offset of the segment.
func (s *Segment) BaseOffset() int64 { return s.baseOffset }

// NextOffset returns the offset the next append will be assigned.
func (s *Segment) NextOffset() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextOffset
}

// Size returns the number of data bytes written.
func (s *Segment) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.position
}

// IsEmpty reports whether no record has been written.
func (s *Segment) IsEmpty() bool {
	return s.Size() == 0
}

// Index exposes the sparse index (read-only use).
func (s *Segment) Index() *Index { return s.index }

// ModTime returns the data file's last-modified time.
func (s *Segment) ModTime() (time.Time, error) {
	stat, err := os.Stat(s.dataPath)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to stat segment: %w", err)
	}
	return stat.ModTime(), nil
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Close releases the data and index file handles.
func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if err := s.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close segment file: %w", err))
	}
	if err := s.index.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close index: %w", err))
	}
	return errors.Join(errs...)
}

// Delete closes the segment, then removes its data and index files.
func (s *Segment) Delete() error {
	if err := s.Close(); err != nil {
		return err
	}
	if err := os.Remove(s.dataPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete segment file: %w", err)
	}
	return s.index.Delete()
}

// =============================================================================
// RECORD SCANNER
// =============================================================================

// recordScanner walks records forward from a bookmark through a bounded
// section of a data file.
type recordScanner struct {
	r      *bufio.Reader
	offset int64 // logical offset of the record at pos
	pos    int64 // byte position of the next record
	limit  int64 // end of valid data
	header [12]byte
}

func newRecordScanner(file *os.File, start IndexEntry, limit int64) *recordScanner {
	section := io.NewSectionReader(file, start.Position, limit-start.Position)
	return &recordScanner{
		r:      bufio.NewReaderSize(section, scanBufferSize),
		offset: start.Offset,
		pos:    start.Position,
		limit:  limit,
	}
}

// readHeader reads timestamp and key length of the record at pos.
func (sc *recordScanner) readHeader() (int64, int32, error) {
	if _, err := io.ReadFull(sc.r, sc.header[:]); err != nil {
		return 0, 0, sc.truncated("header", err)
	}
	ts := int64(binary.BigEndian.Uint64(sc.header[0:8]))
	keyLen := int32(binary.BigEndian.Uint32(sc.header[8:12]))
	if keyLen < noKey {
		return 0, 0, fmt.Errorf("%w: negative key length %d at position %d", ErrCorruptRecord, keyLen, sc.pos)
	}
	return ts, keyLen, nil
}

func (sc *recordScanner) readLen() (int32, error) {
	if _, err := io.ReadFull(sc.r, sc.header[:4]); err != nil {
		return 0, sc.truncated("value length", err)
	}
	n := int32(binary.BigEndian.Uint32(sc.header[:4]))
	if n < 0 {
		return 0, fmt.Errorf("%w: negative value length at position %d", ErrCorruptRecord, sc.pos)
	}
	return n, nil
}

// skip advances over one record without materializing key or value.
func (sc *recordScanner) skip() error {
	_, keyLen, err := sc.readHeader()
	if err != nil {
		return err
	}
	size := int64(RecordOverhead)
	if keyLen > 0 {
		if _, err := sc.r.Discard(int(keyLen)); err != nil {
			return sc.truncated("key", err)
		}
		size += int64(keyLen)
	}
	valueLen, err := sc.readLen()
	if err != nil {
		return err
	}
	if _, err := sc.r.Discard(int(valueLen)); err != nil {
		return sc.truncated("value", err)
	}
	size += int64(valueLen)

	sc.pos += size
	sc.offset++
	return nil
}

// next decodes one record and advances.
func (sc *recordScanner) next() (Record, error) {
	ts, keyLen, err := sc.readHeader()
	if err != nil {
		return Record{}, err
	}
	rec := Record{Offset: sc.offset, Timestamp: ts}
	size := int64(RecordOverhead)

	if keyLen >= 0 {
		if sc.pos+size+int64(keyLen) > sc.limit {
			return Record{}, fmt.Errorf("%w: key length %d at position %d exceeds data", ErrCorruptRecord, keyLen, sc.pos)
		}
		rec.Key = make([]byte, keyLen)
		if _, err := io.ReadFull(sc.r, rec.Key); err != nil {
			return Record{}, sc.truncated("key", err)
		}
		size += int64(keyLen)
	}

	valueLen, err := sc.readLen()
	if err != nil {
		return Record{}, err
	}
	if sc.pos+size+int64(valueLen) > sc.limit {
		return Record{}, fmt.Errorf("%w: value length %d at position %d exceeds data", ErrCorruptRecord, valueLen, sc.pos)
	}
	rec.Value = make([]byte, valueLen)
	if _, err := io.ReadFull(sc.r, rec.Value); err != nil {
		return Record{}, sc.truncated("value", err)
	}
	size += int64(valueLen)

	sc.pos += size
	sc.offset++
	return rec, nil
}

func (sc *recordScanner) truncated(what string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %s of record %d at position %d runs past end of data",
			ErrCorruptRecord, what, sc.offset, sc.pos)
	}
	return fmt.Errorf("failed to read %s at position %d: %w", what, sc.pos, err)
}
