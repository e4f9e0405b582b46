package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/dd0wney/shardkv/pkg/engine/compaction"
	"github.com/dd0wney/shardkv/pkg/engine/memtable"
	"github.com/dd0wney/shardkv/pkg/engine/sstable"
	"github.com/dd0wney/shardkv/pkg/engine/wal"
)

// recoverTree replays pending compactions, rebuilds the SSTable list,
// reconciles WAL files into a single active memtable, and opens the live
// WAL.
func recoverTree(t *Tree) error {
	pendingIntents, err := indicesWithExt(t.dir, ".compact_action")
	if err != nil {
		return err
	}
	if err := compaction.ReplayPending(t.dir); err != nil {
		return fmt.Errorf("replay pending compactions: %w", err)
	}
	t.opts.Metrics.EngineRecoveryReplays.Add(float64(len(pendingIntents)))

	dataIndices, err := indicesWithExt(t.dir, ".data")
	if err != nil {
		return err
	}

	entries := make([]sstableEntry, 0, len(dataIndices))
	var maxIndex uint64
	haveAny := false
	for _, idx := range dataIndices {
		size, err := indexFileEntryCount(t.dir, idx)
		if err != nil {
			return err
		}
		e, err := openReader(t.dir, idx, size, t.cache, t.opts.Partition)
		if err != nil {
			return fmt.Errorf("open recovered sstable %d: %w", idx, err)
		}
		entries = append(entries, e)
		if !haveAny || idx > maxIndex {
			maxIndex = idx
			haveAny = true
		}
	}
	t.list.Store(newSSTableList(entries))

	if haveAny {
		if maxIndex%2 == 0 {
			t.writeSSTableIndex = maxIndex + 2
		} else {
			t.writeSSTableIndex = maxIndex + 1
		}
	} else {
		t.writeSSTableIndex = 0
	}

	walIndices, err := indicesWithExt(t.dir, ".memtable")
	if err != nil {
		return err
	}

	t.active = memtable.New(t.opts.Capacity)

	switch len(walIndices) {
	case 0:
		t.walIndex = 0

	case 1:
		t.walIndex = walIndices[0]
		if err := loadWALInto(t.dir, t.walIndex, t.active); err != nil {
			return err
		}

	case 2:
		lower, upper := walIndices[0], walIndices[1]

		stale := memtable.New(t.opts.Capacity)
		if err := loadWALInto(t.dir, lower, stale); err != nil {
			return err
		}

		count, err := sstable.WriteAll(t.dir, lower, t.cache, t.opts.Partition, snapshotToEntries(stale.Snapshot()))
		if err != nil {
			return fmt.Errorf("recover: flush stale wal %d: %w", lower, err)
		}
		e, err := openReader(t.dir, lower, count, t.cache, t.opts.Partition)
		if err != nil {
			return fmt.Errorf("recover: open sstable recovered from wal %d: %w", lower, err)
		}
		t.list.Store(newSSTableList(append(currentEntries(t.list.Load()), e)))

		if err := os.Remove(wal.FilePath(t.dir, lower)); err != nil {
			return fmt.Errorf("recover: remove stale wal %d: %w", lower, err)
		}

		// The write index was derived from the .data enumeration above,
		// before this recovered table existed; without advancing past it
		// here the next flush would reuse its index and overwrite it.
		if lower+2 > t.writeSSTableIndex {
			t.writeSSTableIndex = lower + 2
		}

		t.walIndex = upper
		if err := loadWALInto(t.dir, upper, t.active); err != nil {
			return err
		}

	default:
		return fmt.Errorf("%w: found %d .memtable files, at most 2 may coexist", ErrCorruption, len(walIndices))
	}

	w, err := wal.Open(wal.FilePath(t.dir, t.walIndex), t.opts.SyncWAL, t.opts.CompressWAL)
	if err != nil {
		return fmt.Errorf("recover: open current wal %d: %w", t.walIndex, err)
	}
	t.w = w

	return nil
}

// loadWALInto replays the WAL at index within dir into m, via the
// tolerant recovery walk over page-aligned records.
func loadWALInto(dir string, index uint64, m *memtable.Memtable) error {
	entries, err := wal.ReadAll(wal.FilePath(dir, index))
	if err != nil {
		return fmt.Errorf("recover: read wal %d: %w", index, err)
	}
	for _, e := range entries {
		if err := m.Set(e.Key, e.Value, e.Timestamp); err != nil {
			return fmt.Errorf("recover: replay wal %d entry: %w", index, err)
		}
	}
	return nil
}

// indicesWithExt lists the zero-padded numeric indices of every file in dir
// with the given extension, ascending.
func indicesWithExt(dir, ext string) ([]uint64, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	var out []uint64
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ext {
			continue
		}
		name := strings.TrimSuffix(f.Name(), ext)
		idx, err := strconv.ParseUint(name, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// indexFileEntryCount returns an SSTable's recorded entry count, derived
// from its index file size divided by the fixed EntryOffset record size,
// per the index-size invariant.
func indexFileEntryCount(dir string, index uint64) (uint64, error) {
	info, err := os.Stat(sstable.IndexPath(dir, index))
	if err != nil {
		return 0, fmt.Errorf("stat index file %d: %w", index, err)
	}
	size := uint64(info.Size())
	if size%EntryOffsetSize != 0 {
		return 0, fmt.Errorf("%w: index file %d size %d is not a multiple of %d", ErrCorruption, index, size, EntryOffsetSize)
	}
	return size / EntryOffsetSize, nil
}
