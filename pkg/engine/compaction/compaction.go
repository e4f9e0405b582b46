// Package compaction implements the k-way merge of a caller-supplied list of
// SSTables into one output table, with crash-safe atomic install via a
// durable intent file.
package compaction

import (
	"container/heap"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/dd0wney/shardkv/pkg/engine/record"
	"github.com/dd0wney/shardkv/pkg/engine/sstable"
	"github.com/dd0wney/shardkv/pkg/pagecache"
)

// Source describes one input SSTable to merge.
type Source struct {
	Index uint64
	Size  uint64
}

// intent is the durable record of the filesystem operations that complete a
// compaction atomically, written as {output_index}.compact_action.
type intent struct {
	Renames []rename `yaml:"renames"`
	Deletes []string `yaml:"deletes"`
}

type rename struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

func intentPath(dir string, outputIndex uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%020d.compact_action", outputIndex))
}

func compactDataPath(dir string, outputIndex uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%020d.compact_data", outputIndex))
}

func compactIndexPath(dir string, outputIndex uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%020d.compact_index", outputIndex))
}

// heapItem is one source's current head entry, tagged with its source index
// for tie-breaking.
type heapItem struct {
	entry     record.Entry
	sourceIdx uint64 // the source SSTable's own index, for tie-breaking
	sourcePos int    // position into sources/readers slices
}

type mergeHeap []heapItem

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	c := record.CompareKeys(h[i].entry.Key, h[j].entry.Key)
	if c != 0 {
		return c < 0
	}
	// Equal keys: older (lower source index) pops first. container/heap is
	// a min-heap, and the merge loop below discards the popped item while a
	// same-key item is still on the heap, so the survivor of a tied run is
	// whatever pops last — which must be the newest source's entry.
	return h[i].sourceIdx < h[j].sourceIdx
}
func (h mergeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)        { *h = append(*h, x.(heapItem)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// sourceStream reads entries from one source SSTable's data/index files in
// ascending order, tracking position purely through the index file.
type sourceStream struct {
	dir     string
	index   uint64
	n       uint64
	pos     uint64
	dataF   *os.File
	idxF    *os.File
}

func openSourceStream(dir string, index, n uint64) (*sourceStream, error) {
	df, err := os.Open(sstable.DataPath(dir, index))
	if err != nil {
		return nil, fmt.Errorf("compaction: open source data %d: %w", index, err)
	}
	idxf, err := os.Open(sstable.IndexPath(dir, index))
	if err != nil {
		df.Close()
		return nil, fmt.Errorf("compaction: open source index %d: %w", index, err)
	}
	return &sourceStream{dir: dir, index: index, n: n, dataF: df, idxF: idxf}, nil
}

func (s *sourceStream) next() (record.Entry, bool, error) {
	if s.pos >= s.n {
		return record.Entry{}, false, nil
	}
	offBuf := make([]byte, record.EntryOffsetSize)
	if _, err := s.idxF.ReadAt(offBuf, int64(s.pos*record.EntryOffsetSize)); err != nil {
		return record.Entry{}, false, fmt.Errorf("compaction: read index entry %d of source %d: %w", s.pos, s.index, err)
	}
	eo, err := record.DecodeEntryOffset(offBuf)
	if err != nil {
		return record.Entry{}, false, err
	}
	entryBuf := make([]byte, eo.Size)
	if _, err := s.dataF.ReadAt(entryBuf, int64(eo.Offset)); err != nil {
		return record.Entry{}, false, fmt.Errorf("compaction: read data entry %d of source %d: %w", s.pos, s.index, err)
	}
	e, err := record.DecodeEntry(entryBuf)
	if err != nil {
		return record.Entry{}, false, err
	}
	s.pos++
	return e, true, nil
}

func (s *sourceStream) close() {
	s.dataF.Close()
	s.idxF.Close()
}

// Result describes a completed merge, before the caller performs the
// reference-counted list swap and physical cleanup.
type Result struct {
	OutputIndex uint64
	EntryCount  uint64
	IntentPath  string
}

// Run performs steps 1-7 of the compaction algorithm: it opens every source,
// k-way merges with duplicate elimination (newest source wins ties),
// optionally drops tombstones, writes the merged output under
// {output_index}.compact_data/.compact_index, and durably writes the intent
// file describing the renames (compact_* -> final) and deletes (the
// sources) that complete the operation. It does not touch the tree's
// published SSTable list or delete anything; the caller does that after
// Run returns, completing the remaining install/cleanup steps.
func Run(dir string, sources []Source, outputIndex uint64, removeTombstones bool, cache *pagecache.Cache, partition string) (Result, error) {
	streams := make([]*sourceStream, len(sources))
	for i, s := range sources {
		st, err := openSourceStream(dir, s.Index, s.Size)
		if err != nil {
			for _, opened := range streams[:i] {
				opened.close()
			}
			return Result{}, err
		}
		streams[i] = st
	}
	defer func() {
		for _, s := range streams {
			s.close()
		}
	}()

	w, err := sstable.CreateAt(compactDataPath(dir, outputIndex), compactIndexPath(dir, outputIndex), outputIndex, cache, partition)
	if err != nil {
		return Result{}, fmt.Errorf("compaction: create compact output: %w", err)
	}

	h := &mergeHeap{}
	heap.Init(h)
	for i, st := range streams {
		e, ok, err := st.next()
		if err != nil {
			return Result{}, err
		}
		if ok {
			heap.Push(h, heapItem{entry: e, sourceIdx: sources[i].Index, sourcePos: i})
		}
	}

	for h.Len() > 0 {
		top := heap.Pop(h).(heapItem)

		// Peek: if the new heap top shares top's key, top came from an
		// older source (equal keys pop oldest-first) and a newer version
		// of this key is still pending, so top must be dropped.
		dropped := false
		if h.Len() > 0 {
			peek := (*h)[0]
			if record.CompareKeys(peek.entry.Key, top.entry.Key) == 0 {
				dropped = true
			}
		}

		if !dropped && !(removeTombstones && top.entry.IsTombstone()) {
			if err := w.Write(top.entry); err != nil {
				w.Close()
				return Result{}, fmt.Errorf("compaction: write merged entry: %w", err)
			}
		}

		next, ok, err := streams[top.sourcePos].next()
		if err != nil {
			w.Close()
			return Result{}, err
		}
		if ok {
			heap.Push(h, heapItem{entry: next, sourceIdx: sources[top.sourcePos].Index, sourcePos: top.sourcePos})
		}
	}

	if err := w.Close(); err != nil {
		return Result{}, fmt.Errorf("compaction: close compact output: %w", err)
	}
	written := w.Count()

	in := intent{
		Renames: []rename{
			{From: compactDataPath(dir, outputIndex), To: sstable.DataPath(dir, outputIndex)},
			{From: compactIndexPath(dir, outputIndex), To: sstable.IndexPath(dir, outputIndex)},
		},
	}
	for _, s := range sources {
		in.Deletes = append(in.Deletes, sstable.DataPath(dir, s.Index), sstable.IndexPath(dir, s.Index))
	}

	path := intentPath(dir, outputIndex)
	if err := writeIntent(path, in); err != nil {
		return Result{}, err
	}

	return Result{OutputIndex: outputIndex, EntryCount: written, IntentPath: path}, nil
}

func writeIntent(path string, in intent) error {
	b, err := yaml.Marshal(in)
	if err != nil {
		return fmt.Errorf("compaction: marshal intent: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("compaction: create intent file: %w", err)
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		return fmt.Errorf("compaction: write intent file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("compaction: fsync intent file: %w", err)
	}
	return f.Close()
}

// Apply performs steps 9-12 against an already-written intent: delete the
// sources, perform the renames, then remove the intent file. The caller is
// responsible for the reference-counted SSTable list swap (step 8) and for
// waiting on outstanding readers (step 10) before calling Apply, except
// during recovery replay where no readers can be outstanding.
func Apply(path string) error {
	return applyPath(path)
}

func applyPath(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("compaction: read intent %s: %w", path, err)
	}
	var in intent
	if err := yaml.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("compaction: unmarshal intent %s: %w", path, err)
	}

	for _, d := range in.Deletes {
		if err := os.Remove(d); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("compaction: delete %s: %w", d, err)
		}
	}
	for _, r := range in.Renames {
		if _, err := os.Stat(r.From); err == nil {
			if err := os.Rename(r.From, r.To); err != nil {
				return fmt.Errorf("compaction: rename %s -> %s: %w", r.From, r.To, err)
			}
		}
	}
	return os.Remove(path)
}

// ReplayPending finds every *.compact_action file in dir, sorted by output
// index, and applies each idempotently: deletes then renames, then removes
// the intent. Safe to call on an already-applied intent (renames/deletes
// whose sources no longer exist are skipped).
func ReplayPending(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("compaction: list %s: %w", dir, err)
	}

	var paths []string
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".compact_action" {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	for _, p := range paths {
		if err := applyPath(p); err != nil {
			return err
		}
	}
	return nil
}
