// Package wal implements the page-aligned write-ahead log for a tree's
// active memtable.
package wal

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/golang/snappy"

	"github.com/dd0wney/shardkv/pkg/engine/record"
	"github.com/dd0wney/shardkv/pkg/pagecache"
)

// FilePath returns the WAL path for the given index within dir, in the
// {index:020}.memtable format.
func FilePath(dir string, index uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%020d.memtable", index))
}

// recordHeaderSize is [compressed:1][payloadLen:4] preceding every record's
// (possibly compressed) entry bytes, all padded up to the next page.
const recordHeaderSize = 5

// WAL is an append-only, page-aligned record log. Durability beyond process
// crashes (fsync per write) is a config flag, default off.
type WAL struct {
	file       *os.File
	path       string
	offset     uint64
	syncWrites bool
	compress   bool
}

// Open opens (creating if needed) the WAL file at path. The write offset
// starts at the file's current size, which is 0 for a fresh file.
func Open(path string, syncWrites, compress bool) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("wal: stat %s: %w", path, err)
	}
	return &WAL{
		file:       f,
		path:       path,
		offset:     uint64(info.Size()),
		syncWrites: syncWrites,
		compress:   compress,
	}, nil
}

// Offset returns the current write offset.
func (w *WAL) Offset() uint64 {
	return w.offset
}

// Path returns the WAL's file path.
func (w *WAL) Path() string {
	return w.path
}

// Append serializes e, pads it to the next PageSize boundary, and writes it
// at the current offset, advancing the offset by the padded size.
func (w *WAL) Append(e record.Entry) error {
	payload := record.EncodeEntry(e)

	compressed := byte(0)
	if w.compress {
		payload = snappy.Encode(nil, payload)
		compressed = 1
	}

	total := recordHeaderSize + len(payload)
	padded := padUp(total, pagecache.PageSize)

	buf := make([]byte, padded)
	buf[0] = compressed
	binary.LittleEndian.PutUint32(buf[1:5], uint32(len(payload)))
	copy(buf[recordHeaderSize:], payload)

	if _, err := w.file.WriteAt(buf, int64(w.offset)); err != nil {
		return fmt.Errorf("wal: write at %d: %w", w.offset, err)
	}
	if w.syncWrites {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("wal: fsync: %w", err)
		}
	}

	w.offset += uint64(padded)
	return nil
}

// Close closes the underlying file.
func (w *WAL) Close() error {
	return w.file.Close()
}

// Remove closes and deletes the WAL file. Per the open design note, this
// does not fsync the containing directory.
func (w *WAL) Remove() error {
	w.file.Close()
	return os.Remove(w.path)
}

// ReadAll walks the WAL from the start, tolerating a corrupt or partial
// final record: deserialization failure at any page advances the cursor to
// the next page boundary rather than propagating an error, since a torn
// tail record at shutdown is expected and benign.
func ReadAll(path string) ([]record.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("wal: open %s for recovery: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("wal: stat %s: %w", path, err)
	}

	var entries []record.Entry
	offset := int64(0)
	size := info.Size()

	for offset < size {
		header := make([]byte, recordHeaderSize)
		if _, err := f.ReadAt(header, offset); err != nil {
			break
		}
		compressed := header[0] == 1
		payloadLen := binary.LittleEndian.Uint32(header[1:5])

		// A torn header can claim any length; never trust it past the
		// bytes actually on disk.
		if int64(payloadLen) > size-offset-recordHeaderSize {
			offset += pagecache.PageSize
			continue
		}

		stored := make([]byte, payloadLen)
		if _, err := f.ReadAt(stored, offset+recordHeaderSize); err != nil {
			break
		}
		// The padded record size on disk is always derived from the
		// stored (possibly-compressed) payload length, never the
		// decompressed length, so the cursor advance below must use
		// payloadLen regardless of how decoding below turns out.
		recordSize := int64(padUp(recordHeaderSize+int(payloadLen), pagecache.PageSize))

		payload := stored
		if compressed {
			decoded, err := snappy.Decode(nil, stored)
			if err != nil {
				offset += pagecache.PageSize
				continue
			}
			payload = decoded
		}

		entry, err := record.DecodeEntry(payload)
		if err != nil {
			offset += pagecache.PageSize
			continue
		}

		entries = append(entries, entry)
		offset += recordSize
	}

	return entries, nil
}

func padUp(n, align int) int {
	if n%align == 0 {
		return n
	}
	return ((n / align) + 1) * align
}

var _ io.Closer = (*WAL)(nil)
