package storage

import (
	"encoding/binary"
	"fmt"
)

// =============================================================================
// REPLICA FETCH FRAMES
// =============================================================================
//
// A replica fetch response is a plain concatenation of frames:
//
//   ┌────────────┬────────────┬───────────────────────────────────────┐
//   │ Offset (8) │ Length (4) │ Message (Length bytes, CRC framing)   │
//   └────────────┴────────────┴───────────────────────────────────────┘
//
// The offset travels with each record so the follower can check that the
// batch starts where its log ends before appending anything.

// FrameHeaderSize is Offset(8) + Length(4).
const FrameHeaderSize = 12

// AppendFrame encodes rec as one frame and appends it to buf.
func AppendFrame(buf []byte, rec Record) []byte {
	msg := EncodeMessage(rec.Timestamp, rec.Key, rec.Value)

	var header [FrameHeaderSize]byte
	binary.BigEndian.PutUint64(header[0:8], uint64(rec.Offset))
	binary.BigEndian.PutUint32(header[8:12], uint32(len(msg)))

	buf = append(buf, header[:]...)
	return append(buf, msg...)
}

// EncodeFrames encodes records back to back.
func EncodeFrames(records []Record) []byte {
	size := 0
	for _, rec := range records {
		size += FrameHeaderSize + MessageOverhead + len(rec.Key) + len(rec.Value)
	}
	buf := make([]byte, 0, size)
	for _, rec := range records {
		buf = AppendFrame(buf, rec)
	}
	return buf
}

// DecodeFrames parses a frame stream, verifying every message checksum.
// Offsets must be consecutive.
func DecodeFrames(data []byte) ([]Record, error) {
	var records []Record
	for pos := 0; pos < len(data); {
		if len(data)-pos < FrameHeaderSize {
			return nil, fmt.Errorf("%w: frame header truncated at byte %d", ErrCorruptRecord, pos)
		}
		offset := int64(binary.BigEndian.Uint64(data[pos : pos+8]))
		length := int(binary.BigEndian.Uint32(data[pos+8 : pos+12]))
		pos += FrameHeaderSize

		if length > len(data)-pos {
			return nil, fmt.Errorf("%w: frame at offset %d claims %d bytes, %d left", ErrCorruptRecord, offset, length, len(data)-pos)
		}

		rec, n, err := DecodeMessage(data[pos : pos+length])
		if err != nil {
			return nil, fmt.Errorf("frame at offset %d: %w", offset, err)
		}
		if n != length {
			return nil, fmt.Errorf("%w: frame at offset %d has %d trailing bytes", ErrCorruptRecord, offset, length-n)
		}
		if k := len(records); k > 0 && records[k-1].Offset+1 != offset {
			return nil, fmt.Errorf("%w: offset %d follows %d", ErrCorruptRecord, offset, records[k-1].Offset)
		}

		rec.Offset = offset
		records = append(records, rec)
		pos += length
	}
	return records, nil
}
