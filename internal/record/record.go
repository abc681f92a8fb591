// Package record defines the fused (timestamp, optional value) representation
// that LocalStore persists, and the x-last-modified timestamp format that the
// replication wire protocol carries.
package record

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Record is one stored entry. A Record with Tombstone set to true carries no
// meaningful Value and denotes a deletion; it is still a first-class, present
// record and must round-trip through Encode/Decode like any other.
type Record struct {
	Value     []byte
	Timestamp time.Time
	Tombstone bool
}

// NewValue builds a live (non-tombstone) record.
func NewValue(value []byte, ts time.Time) Record {
	return Record{Value: value, Timestamp: ts}
}

// NewTombstone builds a deletion marker at ts.
func NewTombstone(ts time.Time) Record {
	return Record{Timestamp: ts, Tombstone: true}
}

// IsTombstone reports whether r denotes a deletion.
func (r Record) IsTombstone() bool { return r.Tombstone }

// Before reports whether r is strictly older than other, with the spec's
// tie-break: equal timestamps favor a write over a tombstone.
func (r Record) Before(other Record) bool {
	if r.Timestamp.Equal(other.Timestamp) {
		return r.Tombstone && !other.Tombstone
	}
	return r.Timestamp.Before(other.Timestamp)
}

// FormatTimestamp renders ts as the ISO-8601 / RFC3339 instant carried on
// the wire in the x-last-modified header, at nanosecond resolution so
// same-millisecond writes still tie-break deterministically.
func FormatTimestamp(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}

// ParseTimestamp reverses FormatTimestamp.
func ParseTimestamp(v string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("record: invalid x-last-modified %q: %w", v, err)
	}
	return ts.UTC(), nil
}

const tombstoneFlag = 1

// Encode serializes r as: 1 byte tombstone flag, 8 bytes big-endian
// Unix-nanosecond timestamp, then the raw value bytes (absent for
// tombstones). This is the "fused single map" encoding LocalStore persists
// under a pebble key. The replication wire does not use it: entity bodies
// there are the raw value bytes, with the timestamp in x-last-modified.
func Encode(r Record) []byte {
	buf := make([]byte, 9+len(r.Value))
	if r.Tombstone {
		buf[0] = tombstoneFlag
	}
	binary.BigEndian.PutUint64(buf[1:9], uint64(r.Timestamp.UnixNano()))
	if !r.Tombstone {
		copy(buf[9:], r.Value)
	}
	return buf
}

// Decode reverses Encode.
func Decode(buf []byte) (Record, error) {
	if len(buf) < 9 {
		return Record{}, fmt.Errorf("record: encoded buffer too short (%d bytes)", len(buf))
	}
	ts := time.Unix(0, int64(binary.BigEndian.Uint64(buf[1:9]))).UTC()
	r := Record{Timestamp: ts}
	if buf[0]&tombstoneFlag != 0 {
		r.Tombstone = true
		return r, nil
	}
	if len(buf) > 9 {
		r.Value = append([]byte(nil), buf[9:]...)
	} else {
		r.Value = []byte{}
	}
	return r, nil
}
