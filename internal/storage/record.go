// =============================================================================
// RECORD ENCODING - THE BYTES ON DISK
// =============================================================================
//
// WHAT IS A RECORD?
// A record is one key/value pair appended to a topic, stamped with the time the
// broker accepted it. The offset is NOT stored in the record bytes: it is
// implied by the record's position in the segment (base offset + record count).
//
// RECORD FORMAT (data files):
// ┌──────────────────────────────────────────────────────────────────────────┐
// │ Timestamp (8B) │ KeyLen (4B) │ Key (KeyLen) │ ValueLen (4B) │ Value      │
// └──────────────────────────────────────────────────────────────────────────┘
//
//   - All integers are big-endian
//   - KeyLen = -1 means "no key" (distinct from an empty key, KeyLen = 0)
//   - Timestamp is Unix milliseconds
//
// MESSAGE FORMAT (integrity-checked framing, used on the replication wire):
// ┌──────────────────────────────────────────────────────────────────────────┐
// │ Magic (1B) │ CRC32 (4B) │ Timestamp (8B) │ KeyLen │ Key │ ValueLen │ Value│
// └──────────────────────────────────────────────────────────────────────────┘
//
//   - Magic is always 1
//   - CRC32 (IEEE) covers key bytes followed by value bytes
//   - Everything after the CRC is exactly the record format above
//
// WHY NO CRC IN THE DATA FILE?
// Every append is fsynced before the offset is acknowledged, and a torn tail is
// detected by the length fields during recovery. The checksum protects bytes
// that travel between brokers.
//
// COMPARISON:
//   - Kafka: record batches with CRC-32C per batch, varint lengths
//   - kafka-lite: 16 bytes of framing per record, CRC only on the wire
//
// =============================================================================

package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"time"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// RecordOverhead is the fixed framing around key and value:
	// Timestamp(8) + KeyLen(4) + ValueLen(4)
	RecordOverhead = 16

	// MessageMagic identifies the integrity-checked message framing
	MessageMagic byte = 1

	// MessageOverhead is Magic(1) + CRC(4) on top of RecordOverhead
	MessageOverhead = 5 + RecordOverhead

	// noKey is the KeyLen sentinel for an absent key
	noKey int32 = -1

	// noKeyBits is noKey as written on disk
	noKeyBits uint32 = 0xFFFFFFFF
)

// =============================================================================
// ERROR DEFINITIONS
// =============================================================================

var (
	// ErrCorruptRecord means a length field points past the available bytes.
	// Never silently repaired: callers surface it as a read failure.
	ErrCorruptRecord = errors.New("corrupt record")

	// ErrInvalidMagic means the message framing does not start with MessageMagic
	ErrInvalidMagic = errors.New("invalid message magic")

	// ErrChecksumMismatch means the CRC over key+value does not match
	ErrChecksumMismatch = errors.New("message checksum mismatch")
)

// =============================================================================
// RECORD STRUCT
// =============================================================================

// Record is a single entry in a topic log.
type Record struct {
	// Offset is the logical position in the log, assigned at append time
	Offset int64

	// Timestamp is when the broker accepted the record (Unix milliseconds)
	Timestamp int64

	// Key is optional; nil means absent
	Key []byte

	// Value is the payload
	Value []byte
}

// Time returns the record timestamp as a time.Time.
func (r Record) Time() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// NowMillis is the timestamp stamped on freshly produced records.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// RecordSize returns the encoded size of a record without encoding it.
func RecordSize(key, value []byte) int64 {
	return int64(RecordOverhead + len(key) + len(value))
}

// =============================================================================
// RECORD CODEC
// =============================================================================

// EncodeRecord serializes a record into the data-file format.
func EncodeRecord(timestamp int64, key, value []byte) []byte {
	buf := make([]byte, RecordSize(key, value))
	putRecord(buf, timestamp, key, value)
	return buf
}

// putRecord writes the record format into buf, which must be large enough.
func putRecord(buf []byte, timestamp int64, key, value []byte) {
	binary.BigEndian.PutUint64(buf[0:8], uint64(timestamp))
	pos := 8

	if key == nil {
		binary.BigEndian.PutUint32(buf[pos:pos+4], noKeyBits)
		pos += 4
	} else {
		binary.BigEndian.PutUint32(buf[pos:pos+4], uint32(len(key)))
		pos += 4
		pos += copy(buf[pos:], key)
	}

	binary.BigEndian.PutUint32(buf[pos:pos+4], uint32(len(value)))
	pos += 4
	copy(buf[pos:], value)
}

// DecodeRecord parses one record from the front of buf.
// Returns the record (Offset left at zero) and the number of bytes consumed.
func DecodeRecord(buf []byte) (Record, int, error) {
	if len(buf) < 12 {
		return Record{}, 0, fmt.Errorf("%w: need 12 header bytes, have %d", ErrCorruptRecord, len(buf))
	}

	rec := Record{Timestamp: int64(binary.BigEndian.Uint64(buf[0:8]))}
	pos := 8

	keyLen := int32(binary.BigEndian.Uint32(buf[pos : pos+4]))
	pos += 4
	switch {
	case keyLen == noKey:
		// absent key
	case keyLen < 0:
		return Record{}, 0, fmt.Errorf("%w: negative key length %d", ErrCorruptRecord, keyLen)
	case int64(pos)+int64(keyLen) > int64(len(buf)):
		return Record{}, 0, fmt.Errorf("%w: key length %d exceeds buffer", ErrCorruptRecord, keyLen)
	default:
		rec.Key = make([]byte, keyLen)
		pos += copy(rec.Key, buf[pos:pos+int(keyLen)])
	}

	if pos+4 > len(buf) {
		return Record{}, 0, fmt.Errorf("%w: truncated value length", ErrCorruptRecord)
	}
	valueLen := int32(binary.BigEndian.Uint32(buf[pos : pos+4]))
	pos += 4
	if valueLen < 0 || int64(pos)+int64(valueLen) > int64(len(buf)) {
		return Record{}, 0, fmt.Errorf("%w: value length %d exceeds buffer", ErrCorruptRecord, valueLen)
	}
	rec.Value = make([]byte, valueLen)
	pos += copy(rec.Value, buf[pos:pos+int(valueLen)])

	return rec, pos, nil
}

// =============================================================================
// MESSAGE FRAMING (CRC-CHECKED)
// =============================================================================

// EncodeMessage serializes a record with magic byte and CRC32 over key+value.
func EncodeMessage(timestamp int64, key, value []byte) []byte {
	buf := make([]byte, 5+RecordSize(key, value))
	buf[0] = MessageMagic
	binary.BigEndian.PutUint32(buf[1:5], messageChecksum(key, value))
	putRecord(buf[5:], timestamp, key, value)
	return buf
}

// DecodeMessage parses and verifies one framed message from the front of buf.
func DecodeMessage(buf []byte) (Record, int, error) {
	if len(buf) < MessageOverhead-4 {
		return Record{}, 0, fmt.Errorf("%w: message header truncated", ErrCorruptRecord)
	}
	if buf[0] != MessageMagic {
		return Record{}, 0, fmt.Errorf("%w: got %d", ErrInvalidMagic, buf[0])
	}
	want := binary.BigEndian.Uint32(buf[1:5])

	rec, n, err := DecodeRecord(buf[5:])
	if err != nil {
		return Record{}, 0, err
	}
	if got := messageChecksum(rec.Key, rec.Value); got != want {
		return Record{}, 0, fmt.Errorf("%w: stored %08x, computed %08x", ErrChecksumMismatch, want, got)
	}
	return rec, n + 5, nil
}

func messageChecksum(key, value []byte) uint32 {
	h := crc32.NewIEEE()
	h.Write(key)
	h.Write(value)
	return h.Sum32()
}
