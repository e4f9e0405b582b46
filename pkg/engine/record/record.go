// Package record defines the on-disk entry and index-offset records shared
// by the WAL, SSTable, and compaction layers: fixed-integer framing, no
// varints, trailing bytes rejected on decode.
package record

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Tombstone is the reserved empty-value marker for a logical delete.
var Tombstone = []byte{}

// Entry is a single (key, value, timestamp) record.
type Entry struct {
	Key       []byte
	Value     []byte
	Timestamp int64 // nanoseconds, tie-breaker only
}

// IsTombstone reports whether e represents a deletion.
func (e Entry) IsTombstone() bool {
	return len(e.Value) == 0
}

// EntryOffset is the fixed-width index record pointing at one serialized
// Entry within a data file.
type EntryOffset struct {
	Offset uint64
	Size   uint64
}

// EntryOffsetSize is sizeof(EntryOffset) on disk, computed once so binary
// search over the index file can use it as a stride.
const EntryOffsetSize = 16

// EncodeEntryOffset writes eo in its fixed 16-byte layout.
func EncodeEntryOffset(eo EntryOffset) []byte {
	buf := make([]byte, EntryOffsetSize)
	binary.LittleEndian.PutUint64(buf[0:8], eo.Offset)
	binary.LittleEndian.PutUint64(buf[8:16], eo.Size)
	return buf
}

// DecodeEntryOffset reads a fixed 16-byte EntryOffset record, rejecting any
// input that isn't exactly that length.
func DecodeEntryOffset(b []byte) (EntryOffset, error) {
	if len(b) != EntryOffsetSize {
		return EntryOffset{}, fmt.Errorf("record: entry offset record must be %d bytes, got %d", EntryOffsetSize, len(b))
	}
	return EntryOffset{
		Offset: binary.LittleEndian.Uint64(b[0:8]),
		Size:   binary.LittleEndian.Uint64(b[8:16]),
	}, nil
}

// EncodeEntry serializes e as [keyLen:4][valueLen:4][timestamp:8][key][value],
// fixed-integer fields only, no varints.
func EncodeEntry(e Entry) []byte {
	buf := make([]byte, 16+len(e.Key)+len(e.Value))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(e.Key)))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(e.Value)))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(e.Timestamp))
	copy(buf[16:16+len(e.Key)], e.Key)
	copy(buf[16+len(e.Key):], e.Value)
	return buf
}

// DecodeEntry deserializes a single Entry from b, rejecting trailing bytes:
// b must contain exactly one record, no more, no less.
func DecodeEntry(b []byte) (Entry, error) {
	if len(b) < 16 {
		return Entry{}, fmt.Errorf("record: entry header truncated: %d bytes", len(b))
	}
	keyLen := binary.LittleEndian.Uint32(b[0:4])
	valLen := binary.LittleEndian.Uint32(b[4:8])
	ts := int64(binary.LittleEndian.Uint64(b[8:16]))

	want := 16 + int(keyLen) + int(valLen)
	if len(b) != want {
		return Entry{}, fmt.Errorf("record: entry length mismatch: want %d bytes, got %d (trailing bytes rejected)", want, len(b))
	}

	key := make([]byte, keyLen)
	copy(key, b[16:16+keyLen])
	val := make([]byte, valLen)
	copy(val, b[16+keyLen:])

	return Entry{Key: key, Value: val, Timestamp: ts}, nil
}

// ReadEntryFrom reads exactly size bytes from r and decodes them as one
// Entry, used by streaming SSTable and compaction readers.
func ReadEntryFrom(r io.Reader, size uint64) (Entry, error) {
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Entry{}, fmt.Errorf("record: read entry body: %w", err)
	}
	return DecodeEntry(buf)
}

// CompareKeys orders two keys lexicographically.
func CompareKeys(a, b []byte) int {
	return bytes.Compare(a, b)
}
