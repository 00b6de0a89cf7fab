// Package sighting defines the wire and in-memory representation of a
// single drone sighting as reported by one witnessing node.
package sighting

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Flags is a bitset carried alongside every Record.
type Flags byte

const (
	// FlagNew marks a record as locally generated and not yet pushed to peers.
	FlagNew Flags = 1 << 0
)

// Set reports whether f has all of the bits in mask set.
func (f Flags) Set(mask Flags) bool {
	return f&mask == mask
}

// Size is the fixed wire width of a marshalled Record, computed once:
// drone_id(4) + node_id(4) + timestamp(8) + latitude(8) + longitude(8) + flags(1).
const Size = 4 + 4 + 8 + 8 + 8 + 1

// Record is the atomic unit of replication: one drone observed at a
// coordinate at an instant, as measured by the witnessing node's clock.
type Record struct {
	DroneID   uint32
	NodeID    uint32
	Timestamp uint64
	Latitude  float64
	Longitude float64
	Flags     Flags
}

// ErrShortBuffer indicates a buffer too small to hold a marshalled Record.
var ErrShortBuffer = errors.New("sighting: buffer shorter than record size")

// Marshal writes the little-endian, fixed-width wire encoding of r into buf,
// which must be at least Size bytes long. Returns the number of bytes written.
func (r Record) Marshal(buf []byte) (int, error) {
	if len(buf) < Size {
		return 0, ErrShortBuffer
	}

	binary.LittleEndian.PutUint32(buf[0:4], r.DroneID)
	binary.LittleEndian.PutUint32(buf[4:8], r.NodeID)
	binary.LittleEndian.PutUint64(buf[8:16], r.Timestamp)
	binary.LittleEndian.PutUint64(buf[16:24], math.Float64bits(r.Latitude))
	binary.LittleEndian.PutUint64(buf[24:32], math.Float64bits(r.Longitude))
	buf[32] = byte(r.Flags)

	return Size, nil
}

// Unmarshal reads a Record from the leading Size bytes of buf.
func Unmarshal(buf []byte) (Record, error) {
	if len(buf) < Size {
		return Record{}, ErrShortBuffer
	}

	return Record{
		DroneID:   binary.LittleEndian.Uint32(buf[0:4]),
		NodeID:    binary.LittleEndian.Uint32(buf[4:8]),
		Timestamp: binary.LittleEndian.Uint64(buf[8:16]),
		Latitude:  math.Float64frombits(binary.LittleEndian.Uint64(buf[16:24])),
		Longitude: math.Float64frombits(binary.LittleEndian.Uint64(buf[24:32])),
		Flags:     Flags(buf[32]),
	}, nil
}

// MarshalBatch prepends a little-endian u32 count to the concatenation of
// each record's Size-byte encoding, per the on-wire batch format.
func MarshalBatch(records []Record) []byte {
	out := make([]byte, 4+len(records)*Size)
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(records)))

	off := 4
	for _, r := range records {
		// Marshal cannot fail here: out is sized exactly to hold every record.
		n, _ := r.Marshal(out[off:])
		off += n
	}

	return out
}

// ErrTruncated indicates a batch buffer shorter than its declared header.
var ErrTruncated = errors.New("sighting: batch shorter than 4-byte count header")

// ErrBadMultiple indicates a batch buffer whose body is not an exact
// multiple of Size, or whose declared count does not match its length.
var ErrBadMultiple = errors.New("sighting: batch body is not a whole multiple of record size")

// UnmarshalBatch validates and decodes a wire batch: a leading little-endian
// u32 count followed by exactly count Size-byte records. It never partially
// decodes — either the whole batch is valid and returned, or an error is
// returned and the caller must not apply any of it.
func UnmarshalBatch(buf []byte) ([]Record, error) {
	if len(buf) < 4 {
		return nil, ErrTruncated
	}

	count := binary.LittleEndian.Uint32(buf[0:4])
	body := buf[4:]

	if len(body)%Size != 0 {
		return nil, ErrBadMultiple
	}
	if uint32(len(body)/Size) != count {
		return nil, fmt.Errorf("%w: header says %d records, body holds %d", ErrBadMultiple, count, len(body)/Size)
	}

	records := make([]Record, 0, count)
	for off := 0; off < len(body); off += Size {
		rec, err := Unmarshal(body[off : off+Size])
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, nil
}
