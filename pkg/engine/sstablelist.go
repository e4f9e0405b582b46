package engine

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/dd0wney/shardkv/pkg/engine/sstable"
	"github.com/dd0wney/shardkv/pkg/pagecache"
)

// sstableEntry pairs one persisted SSTable's index and entry count with an
// already-open reader over its (data, index) file pair.
type sstableEntry struct {
	index  uint64
	size   uint64
	reader *sstable.Reader
}

// sstableList is an immutable, reference-counted snapshot of the tree's
// current SSTables. refs starts at 1, representing the tree's own hold;
// GetEntry callers clone (increment) the currently-published list and
// release (decrement) it when done. After publishing a replacement list,
// the compactor releases the tree's hold on the list it replaced and then
// waits for refs to drop to 0.
type sstableList struct {
	entries []sstableEntry // ascending by index
	refs    int32
}

func newSSTableList(entries []sstableEntry) *sstableList {
	sort.Slice(entries, func(i, j int) bool { return entries[i].index < entries[j].index })
	return &sstableList{entries: entries, refs: 1}
}

func (l *sstableList) clone() *sstableList {
	atomic.AddInt32(&l.refs, 1)
	return l
}

func (l *sstableList) release() {
	atomic.AddInt32(&l.refs, -1)
}

// waitDrained polls until every reader-held reference on l has been
// released, i.e. refs has dropped to 0. Go has no hazard-pointer or
// epoch-reclamation primitive in the standard library, so this is a
// backoff-poll rather than a cooperative yield loop.
func (l *sstableList) waitDrained() {
	backoff := time.Millisecond
	for atomic.LoadInt32(&l.refs) > 0 {
		time.Sleep(backoff)
		if backoff < 20*time.Millisecond {
			backoff *= 2
		}
	}
}

// indices returns the list's SSTable indices in ascending order.
func (l *sstableList) indices() []uint64 {
	out := make([]uint64, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.index
	}
	return out
}

// closeAll closes every reader in the list. Used on Purge/Close.
func (l *sstableList) closeAll() {
	for _, e := range l.entries {
		e.reader.Close()
	}
}

// openReader opens a reader for one SSTable and wraps it as an entry.
func openReader(dir string, index, size uint64, cache *pagecache.Cache, partition string) (sstableEntry, error) {
	r, err := sstable.Open(dir, index, size, cache, partition)
	if err != nil {
		return sstableEntry{}, err
	}
	return sstableEntry{index: index, size: size, reader: r}, nil
}
