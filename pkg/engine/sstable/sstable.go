// Package sstable implements the SSTable writer and binary-search reader:
// an immutable, sorted (data, index) file pair plus the page-cache
// mirroring that makes a just-written table readable without a disk round
// trip.
package sstable

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dd0wney/shardkv/pkg/cachedfile"
	"github.com/dd0wney/shardkv/pkg/engine/record"
	"github.com/dd0wney/shardkv/pkg/pagecache"
)

// DataPath returns the data file path for SSTable index i within dir.
func DataPath(dir string, i uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%020d.data", i))
}

// IndexPath returns the index file path for SSTable index i within dir.
func IndexPath(dir string, i uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%020d.index", i))
}

// Writer streams entries in ascending key order to a data/index file pair,
// mirroring completed pages into the shared page cache as it goes.
type Writer struct {
	dataFile  *os.File
	indexFile *os.File
	cache     *pagecache.Cache
	partition string
	index     uint64

	dataBuf  []byte // accumulated bytes not yet mirrored as a full page
	dataOff  uint64 // total bytes written to the data file so far
	indexBuf []byte
	indexOff uint64

	count uint64
}

// Create opens fresh data/index files for SSTable index i under dir and
// returns a Writer ready to accept entries.
func Create(dir string, i uint64, cache *pagecache.Cache, partition string) (*Writer, error) {
	return CreateAt(DataPath(dir, i), IndexPath(dir, i), i, cache, partition)
}

// CreateAt opens fresh data/index files at the given explicit paths,
// tagging cache-mirrored pages under SSTable index i. Used by compaction to
// write a merged table under its temporary .compact_data/.compact_index
// paths while still populating the cache under the table's eventual index.
func CreateAt(dataPath, indexPath string, i uint64, cache *pagecache.Cache, partition string) (*Writer, error) {
	df, err := os.Create(dataPath)
	if err != nil {
		return nil, fmt.Errorf("sstable: create data file: %w", err)
	}
	idxf, err := os.Create(indexPath)
	if err != nil {
		df.Close()
		return nil, fmt.Errorf("sstable: create index file: %w", err)
	}
	return &Writer{
		dataFile:  df,
		indexFile: idxf,
		cache:     cache,
		partition: partition,
		index:     i,
	}, nil
}

// Write appends e to the table. Entries must be supplied in ascending key
// order; the writer does not sort.
func (w *Writer) Write(e record.Entry) error {
	payload := record.EncodeEntry(e)
	offset := w.dataOff
	size := uint64(len(payload))

	if err := w.appendData(payload); err != nil {
		return err
	}

	eo := record.EncodeEntryOffset(record.EntryOffset{Offset: offset, Size: size})
	if err := w.appendIndex(eo); err != nil {
		return err
	}

	w.count++
	return nil
}

func (w *Writer) appendData(b []byte) error {
	if _, err := w.dataFile.Write(b); err != nil {
		return fmt.Errorf("sstable: write data: %w", err)
	}
	w.dataOff += uint64(len(b))
	w.dataBuf = append(w.dataBuf, b...)
	return w.mirrorFullPages(pagecache.Data, &w.dataBuf, w.dataOff)
}

func (w *Writer) appendIndex(b []byte) error {
	if _, err := w.indexFile.Write(b); err != nil {
		return fmt.Errorf("sstable: write index: %w", err)
	}
	w.indexOff += uint64(len(b))
	w.indexBuf = append(w.indexBuf, b...)
	return w.mirrorFullPages(pagecache.Index, &w.indexBuf, w.indexOff)
}

// mirrorFullPages pushes every complete PageSize-aligned page accumulated in
// *buf into the cache, retaining only the trailing partial page in *buf.
func (w *Writer) mirrorFullPages(family pagecache.Family, buf *[]byte, writtenSoFar uint64) error {
	for len(*buf) >= pagecache.PageSize {
		page := (*buf)[:pagecache.PageSize]
		pageOffset := writtenSoFar - uint64(len(*buf))
		cp := make([]byte, pagecache.PageSize)
		copy(cp, page)
		w.cache.Set(pagecache.Key{
			Partition:  w.partition,
			Family:     family,
			TableIndex: w.index,
			Offset:     pageOffset,
		}, cp)
		*buf = (*buf)[pagecache.PageSize:]
	}
	return nil
}

// Close flushes any trailing partial page (zero-padded) into the cache and
// closes both files.
func (w *Writer) Close() error {
	w.mirrorTrailing(pagecache.Data, w.dataBuf, w.dataOff)
	w.mirrorTrailing(pagecache.Index, w.indexBuf, w.indexOff)

	if err := w.dataFile.Close(); err != nil {
		return fmt.Errorf("sstable: close data file: %w", err)
	}
	if err := w.indexFile.Close(); err != nil {
		return fmt.Errorf("sstable: close index file: %w", err)
	}
	return nil
}

func (w *Writer) mirrorTrailing(family pagecache.Family, buf []byte, writtenSoFar uint64) {
	if len(buf) == 0 {
		return
	}
	page := make([]byte, pagecache.PageSize)
	copy(page, buf)
	pageOffset := writtenSoFar - uint64(len(buf))
	w.cache.Set(pagecache.Key{
		Partition:  w.partition,
		Family:     family,
		TableIndex: w.index,
		Offset:     pageOffset,
	}, page)
}

// Count returns the number of entries written so far.
func (w *Writer) Count() uint64 {
	return w.count
}

// WriteAll is a convenience that writes a full ascending-order entry slice
// and closes the writer.
func WriteAll(dir string, i uint64, cache *pagecache.Cache, partition string, entries []record.Entry) (uint64, error) {
	w, err := Create(dir, i, cache, partition)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if err := w.Write(e); err != nil {
			w.Close()
			return 0, err
		}
	}
	if err := w.Close(); err != nil {
		return 0, err
	}
	return w.Count(), nil
}

// Reader serves point lookups against a persisted SSTable via binary search
// over its index file.
type Reader struct {
	data  *cachedfile.File
	index *cachedfile.File
	n     uint64 // number of index entries
}

// Open opens the data/index file pair for SSTable index i, with size the
// recorded entry count (index file length / EntryOffsetSize).
func Open(dir string, i uint64, size uint64, cache *pagecache.Cache, partition string) (*Reader, error) {
	data, err := cachedfile.Open(DataPath(dir, i), cache, partition, pagecache.Data, i)
	if err != nil {
		return nil, err
	}
	index, err := cachedfile.Open(IndexPath(dir, i), cache, partition, pagecache.Index, i)
	if err != nil {
		data.Close()
		return nil, err
	}
	return &Reader{data: data, index: index, n: size}, nil
}

// Close releases the reader's underlying file handles.
func (r *Reader) Close() error {
	if err := r.data.Close(); err != nil {
		return err
	}
	return r.index.Close()
}

// Get performs a binary search for key, per the algorithm in the component
// design: narrow the inclusive range [low, high] by comparing the probed
// entry's key, stopping when low > high.
func (r *Reader) Get(key []byte) (record.Entry, bool, error) {
	if r.n == 0 {
		return record.Entry{}, false, nil
	}

	low, high := uint64(0), r.n-1
	for low <= high {
		mid := low + (high-low)/2

		eo, err := r.offsetAt(mid)
		if err != nil {
			return record.Entry{}, false, err
		}
		entryBytes, err := r.data.ReadAt(int64(eo.Offset), int(eo.Size))
		if err != nil {
			return record.Entry{}, false, fmt.Errorf("sstable: read entry at probe %d: %w", mid, err)
		}
		entry, err := record.DecodeEntry(entryBytes)
		if err != nil {
			return record.Entry{}, false, err
		}

		switch c := record.CompareKeys(key, entry.Key); {
		case c == 0:
			return entry, true, nil
		case c > 0:
			low = mid + 1
		default:
			if mid == 0 {
				return record.Entry{}, false, nil
			}
			high = mid - 1
		}
	}
	return record.Entry{}, false, nil
}

func (r *Reader) offsetAt(i uint64) (record.EntryOffset, error) {
	raw, err := r.index.ReadAt(int64(i*record.EntryOffsetSize), record.EntryOffsetSize)
	if err != nil {
		return record.EntryOffset{}, fmt.Errorf("sstable: read index entry %d: %w", i, err)
	}
	return record.DecodeEntryOffset(raw)
}

// EntryCount reports the number of records this reader addresses.
func (r *Reader) EntryCount() uint64 {
	return r.n
}

// IndexFileSize returns the expected on-disk size of an index file with n
// records — used to assert the index size invariant in tests and recovery.
func IndexFileSize(n uint64) uint64 {
	return n * record.EntryOffsetSize
}
