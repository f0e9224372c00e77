// =============================================================================
// SPARSE INDEX - FAST OFFSET LOOKUP
// =============================================================================
//
// THE PROBLEM:
// A consumer asks for offset 12345. Records are variable length, so the byte
// position of offset 12345 inside a data file cannot be computed. Scanning from
// byte 0 is O(segment size) for every read.
//
// OUR APPROACH: one bookmark per N bytes of data
//   - Every time IndexInterval bytes have been appended since the last bookmark,
//     the segment records (offset, position) for the NEXT record it writes
//   - Lookup = binary search for the greatest bookmark ≤ target, then a short
//     linear walk through at most ~IndexInterval bytes of data
//   - Index size stays bounded (16 bytes per interval, not per record)
//
// ENTRY FORMAT (16 bytes, big-endian):
// ┌────────────────────────────────────────┐
// │ Offset (8 bytes) │ Position (8 bytes) │
// └────────────────────────────────────────┘
//
// INVARIANTS:
//   - Entries are strictly increasing in BOTH offset and position
//   - Every entry points at the first byte of a record (never mid-record),
//     which is why each entry is fsynced before the record it names is written
//
// EXAMPLE:
//   Entries: [(40, 2051), (81, 4110), (122, 6160)]
//   Lookup(100) → (81, 4110): walk forward 19 records from byte 4110
//   Lookup(10)  → (base, 0): start of segment
//
// =============================================================================

package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// IndexEntrySize is Offset (8 bytes) + Position (8 bytes)
	IndexEntrySize = 16
)

// =============================================================================
// ERROR DEFINITIONS
// =============================================================================

var (
	// ErrCorruptIndex means the index file is not a whole number of entries,
	// or is empty where an entry was required.
	ErrCorruptIndex = errors.New("corrupt index")

	// ErrIndexOutOfOrder means an entry would break the sorted invariant
	ErrIndexOutOfOrder = errors.New("index entry out of order")
)

// =============================================================================
// INDEX ENTRY
// =============================================================================

// IndexEntry maps a logical offset to the byte position where its record starts.
type IndexEntry struct {
	Offset   int64 // Logical offset
	Position int64 // Byte position in the data file
}

// =============================================================================
// INDEX STRUCT
// =============================================================================

// Index is the sparse offset → position map of one segment.
//
// All entries are mirrored in memory for binary search; the file is the
// durable copy. AddEntry and TruncateTo are serialized so the file never
// holds an interleaved partial entry.
type Index struct {
	// path of the backing file
	path string

	// entries holds all entries, sorted by offset
	entries []IndexEntry

	// file is opened O_APPEND so writes always land at the end
	file *os.File

	mu sync.RWMutex
}

// =============================================================================
// INDEX CREATION & LOADING
// =============================================================================

// OpenIndex opens the index at path, creating an empty one if needed, and
// loads every entry into memory.
func OpenIndex(path string) (*Index, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open index file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat index file: %w", err)
	}
	if stat.Size()%IndexEntrySize != 0 {
		file.Close()
		return nil, fmt.Errorf("%w: %s has size %d, not a multiple of %d",
			ErrCorruptIndex, path, stat.Size(), IndexEntrySize)
	}

	count := stat.Size() / IndexEntrySize
	idx := &Index{
		path:    path,
		entries: make([]IndexEntry, 0, count),
		file:    file,
	}
	if count == 0 {
		return idx, nil
	}

	buf := make([]byte, stat.Size())
	if _, err := io.ReadFull(io.NewSectionReader(file, 0, stat.Size()), buf); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read index entries: %w", err)
	}

	for i := int64(0); i < count; i++ {
		entry := decodeIndexEntry(buf[i*IndexEntrySize:])
		if n := len(idx.entries); n > 0 {
			prev := idx.entries[n-1]
			if entry.Offset <= prev.Offset || entry.Position <= prev.Position {
				file.Close()
				return nil, fmt.Errorf("%w: entry %d (%d@%d) after (%d@%d)",
					ErrCorruptIndex, i, entry.Offset, entry.Position, prev.Offset, prev.Position)
			}
		}
		idx.entries = append(idx.entries, entry)
	}

	return idx, nil
}

// =============================================================================
// WRITE OPERATIONS
// =============================================================================

// AddEntry appends one bookmark and forces it to stable storage before
// returning.
func (idx *Index) AddEntry(offset, position int64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if n := len(idx.entries); n > 0 {
		last := idx.entries[n-1]
		if offset <= last.Offset || position <= last.Position {
			return fmt.Errorf("%w: %d@%d after %d@%d",
				ErrIndexOutOfOrder, offset, position, last.Offset, last.Position)
		}
	}

	buf := make([]byte, IndexEntrySize)
	binary.BigEndian.PutUint64(buf[0:8], uint64(offset))
	binary.BigEndian.PutUint64(buf[8:16], uint64(position))

	if _, err := idx.file.Write(buf); err != nil {
		return fmt.Errorf("failed to write index entry: %w", err)
	}
	if err := idx.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync index: %w", err)
	}

	idx.entries = append(idx.entries, IndexEntry{Offset: offset, Position: position})
	return nil
}

// TruncateTo drops every entry with Offset >= target, shrinking the file to
// the boundary of the first such entry. No-op when no entry qualifies.
func (idx *Index) TruncateTo(target int64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	cut := sort.Search(len(idx.entries), func(i int) bool {
		return idx.entries[i].Offset >= target
	})
	if cut == len(idx.entries) {
		return nil
	}

	if err := idx.file.Truncate(int64(cut) * IndexEntrySize); err != nil {
		return fmt.Errorf("failed to truncate index: %w", err)
	}
	if err := idx.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync index: %w", err)
	}

	idx.entries = idx.entries[:cut]
	return nil
}

// =============================================================================
// LOOKUP OPERATIONS
// =============================================================================

// Lookup returns the greatest bookmark with Offset <= target. When the index
// is empty, or target precedes the first bookmark, it returns the start of
// the segment: {baseOffsetFallback, 0}.
//
// sort.Search finds the first entry with Offset > target; the one before it
// is the floor.
func (idx *Index) Lookup(target, baseOffsetFallback int64) IndexEntry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	i := sort.Search(len(idx.entries), func(i int) bool {
		return idx.entries[i].Offset > target
	})
	if i == 0 {
		return IndexEntry{Offset: baseOffsetFallback, Position: 0}
	}
	return idx.entries[i-1]
}

// LastOffset returns the offset of the final bookmark.
func (idx *Index) LastOffset() (int64, error) {
	entry, err := idx.LastEntry()
	if err != nil {
		return 0, err
	}
	return entry.Offset, nil
}

// LastEntry returns the final bookmark, or ErrCorruptIndex when empty.
func (idx *Index) LastEntry() (IndexEntry, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.entries) == 0 {
		return IndexEntry{}, fmt.Errorf("%w: %s is empty", ErrCorruptIndex, idx.path)
	}
	return idx.entries[len(idx.entries)-1], nil
}

// Len returns the number of bookmarks.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Entries returns a copy of all bookmarks.
func (idx *Index) Entries() []IndexEntry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]IndexEntry, len(idx.entries))
	copy(out, idx.entries)
	return out
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Close releases the file handle.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.file == nil {
		return nil
	}
	err := idx.file.Close()
	idx.file = nil
	return err
}

// Delete closes the index and removes its file.
func (idx *Index) Delete() error {
	if err := idx.Close(); err != nil {
		return err
	}
	if err := os.Remove(idx.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete index file: %w", err)
	}
	return nil
}

func decodeIndexEntry(buf []byte) IndexEntry {
	return IndexEntry{
		Offset:   int64(binary.BigEndian.Uint64(buf[0:8])),
		Position: int64(binary.BigEndian.Uint64(buf[8:16])),
	}
}
