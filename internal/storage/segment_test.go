// =============================================================================
// SEGMENT TESTS
// =============================================================================
//
// KEY BEHAVIORS TO TEST:
//   - Offsets start at the base offset and increase by one
//   - Sparse bookmarks are written every interval and reads between them walk
//   - Recovery counts records written after the last bookmark
//   - Truncation frees the offset for the next append
//
// =============================================================================

package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// Every test record is 16 + len("key-N") + len("value-N") = 28 bytes for N < 10.
func appendN(t *testing.T, s *Segment, from, n int) {
	t.Helper()
	for i := from; i < from+n; i++ {
		if _, err := s.Append([]byte(fmt.Sprintf("key-%d", i)), []byte(fmt.Sprintf("value-%d", i))); err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
	}
}

func TestSegment_AppendAndRead(t *testing.T) {
	dir := t.TempDir()
	seg, err := NewSegment(dir, 100, 4096)
	if err != nil {
		t.Fatalf("NewSegment failed: %v", err)
	}
	defer seg.Close()

	for i := 0; i < 5; i++ {
		offset, err := seg.Append([]byte("k"), []byte(fmt.Sprintf("v%d", i)))
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		if offset != int64(100+i) {
			t.Errorf("offset = %d, want %d", offset, 100+i)
		}
	}

	rec, err := seg.Read(103)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if rec.Offset != 103 || string(rec.Value) != "v3" {
		t.Errorf("Read(103) = %+v", rec)
	}

	if _, err := os.Stat(filepath.Join(dir, "0000000100.data")); err != nil {
		t.Errorf("data file not named by base offset: %v", err)
	}
}

func TestSegment_ReadBoundaries(t *testing.T) {
	seg, err := NewSegment(t.TempDir(), 10, 4096)
	if err != nil {
		t.Fatalf("NewSegment failed: %v", err)
	}
	defer seg.Close()
	appendN(t, seg, 0, 3)

	if _, err := seg.Read(9); !errors.Is(err, ErrOffsetTooLow) {
		t.Errorf("Read below base: err = %v, want ErrOffsetTooLow", err)
	}

	rec, err := seg.Read(13)
	if err != nil || rec != nil {
		t.Errorf("Read at next offset = %v, %v; want nil, nil", rec, err)
	}
}

func TestSegment_SparseIndexJump(t *testing.T) {
	seg, err := NewSegment(t.TempDir(), 0, 64)
	if err != nil {
		t.Fatalf("NewSegment failed: %v", err)
	}
	defer seg.Close()

	appendN(t, seg, 0, 10)

	// 28-byte records, 64-byte interval: bookmarks before offsets 3, 6 and 9
	want := []IndexEntry{{3, 84}, {6, 168}, {9, 252}}
	got := seg.Index().Entries()
	if len(got) != len(want) {
		t.Fatalf("index entries = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	// Offsets strictly between bookmarks need the forward walk
	for i := 0; i < 10; i++ {
		rec, err := seg.Read(int64(i))
		if err != nil {
			t.Fatalf("Read(%d) failed: %v", i, err)
		}
		if string(rec.Key) != fmt.Sprintf("key-%d", i) {
			t.Errorf("Read(%d) key = %s", i, rec.Key)
		}
	}
}

func TestSegment_RecoveryAfterLastBookmark(t *testing.T) {
	dir := t.TempDir()
	seg, err := NewSegment(dir, 0, 64)
	if err != nil {
		t.Fatalf("NewSegment failed: %v", err)
	}
	// Last bookmark is offset 9; records 10 and 11 follow it
	appendN(t, seg, 0, 12)
	size := seg.Size()
	seg.Close()

	reopened, err := OpenSegment(dir, 0, 64)
	if err != nil {
		t.Fatalf("OpenSegment failed: %v", err)
	}
	defer reopened.Close()

	if reopened.NextOffset() != 12 {
		t.Errorf("NextOffset = %d, want 12", reopened.NextOffset())
	}
	if reopened.Size() != size {
		t.Errorf("Size = %d, want %d", reopened.Size(), size)
	}

	offset, err := reopened.Append([]byte("after"), []byte("restart"))
	if err != nil || offset != 12 {
		t.Errorf("Append after reopen = %d, %v; want 12", offset, err)
	}
}

func TestSegment_RecoveryWithoutIndex(t *testing.T) {
	dir := t.TempDir()
	seg, err := NewSegment(dir, 5, 1<<20)
	if err != nil {
		t.Fatalf("NewSegment failed: %v", err)
	}
	appendN(t, seg, 0, 4)
	seg.Close()

	if err := os.Remove(filepath.Join(dir, IndexFileName(5))); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenSegment(dir, 5, 1<<20)
	if err != nil {
		t.Fatalf("OpenSegment failed: %v", err)
	}
	defer reopened.Close()

	if reopened.NextOffset() != 9 {
		t.Errorf("NextOffset = %d, want 9", reopened.NextOffset())
	}
	rec, err := reopened.Read(8)
	if err != nil || string(rec.Value) != "value-3" {
		t.Errorf("Read(8) = %+v, %v", rec, err)
	}
}

func TestSegment_TornTailIsCorrupt(t *testing.T) {
	dir := t.TempDir()
	seg, err := NewSegment(dir, 0, 4096)
	if err != nil {
		t.Fatalf("NewSegment failed: %v", err)
	}
	appendN(t, seg, 0, 2)
	seg.Close()

	f, err := os.OpenFile(filepath.Join(dir, DataFileName(0)), os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatal(err)
	}
	f.Write(EncodeRecord(1, []byte("partial"), []byte("record"))[:20])
	f.Close()

	if _, err := OpenSegment(dir, 0, 4096); !errors.Is(err, ErrCorruptRecord) {
		t.Errorf("OpenSegment with torn tail: err = %v, want ErrCorruptRecord", err)
	}
}

func TestSegment_Truncate(t *testing.T) {
	dir := t.TempDir()
	seg, err := NewSegment(dir, 0, 64)
	if err != nil {
		t.Fatalf("NewSegment failed: %v", err)
	}
	defer seg.Close()
	appendN(t, seg, 0, 10)

	if err := seg.Truncate(7); err != nil {
		t.Fatalf("Truncate failed: %v", err)
	}
	if seg.NextOffset() != 7 || seg.Size() != 7*28 {
		t.Errorf("after Truncate(7): next=%d size=%d", seg.NextOffset(), seg.Size())
	}
	// Bookmark at 9 is gone, bookmarks at 3 and 6 survive
	if n := seg.Index().Len(); n != 2 {
		t.Errorf("index entries = %d, want 2", n)
	}

	offset, err := seg.Append([]byte("new"), []byte("tail"))
	if err != nil || offset != 7 {
		t.Fatalf("Append after truncate = %d, %v; want 7", offset, err)
	}
	rec, err := seg.Read(7)
	if err != nil || string(rec.Value) != "tail" {
		t.Errorf("Read(7) = %+v, %v", rec, err)
	}

	// Past the end is a no-op
	if err := seg.Truncate(100); err != nil {
		t.Errorf("Truncate past end failed: %v", err)
	}
	if seg.NextOffset() != 8 {
		t.Errorf("NextOffset = %d, want 8", seg.NextOffset())
	}
}

func TestSegment_ReadBatch(t *testing.T) {
	seg, err := NewSegment(t.TempDir(), 0, 64)
	if err != nil {
		t.Fatalf("NewSegment failed: %v", err)
	}
	defer seg.Close()
	appendN(t, seg, 0, 10)

	recs, err := seg.ReadBatch(4, 3)
	if err != nil {
		t.Fatalf("ReadBatch failed: %v", err)
	}
	if len(recs) != 3 || recs[0].Offset != 4 || recs[2].Offset != 6 {
		t.Errorf("ReadBatch(4, 3) = %+v", recs)
	}

	recs, _ = seg.ReadBatch(8, 100)
	if len(recs) != 2 {
		t.Errorf("ReadBatch(8, 100) returned %d records, want 2", len(recs))
	}

	recs, _ = seg.ReadBatch(10, 100)
	if len(recs) != 0 {
		t.Errorf("ReadBatch at end returned %d records", len(recs))
	}
}

func TestSegment_ClosedRejectsOperations(t *testing.T) {
	seg, err := NewSegment(t.TempDir(), 0, 64)
	if err != nil {
		t.Fatalf("NewSegment failed: %v", err)
	}
	seg.Close()

	if _, err := seg.Append(nil, []byte("x")); !errors.Is(err, ErrSegmentClosed) {
		t.Errorf("Append on closed: err = %v", err)
	}
	if _, err := seg.Read(0); !errors.Is(err, ErrSegmentClosed) {
		t.Errorf("Read on closed: err = %v", err)
	}
}
