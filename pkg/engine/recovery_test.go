package engine_test

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/dd0wney/shardkv/pkg/engine"
	"github.com/dd0wney/shardkv/pkg/engine/compaction"
	"github.com/dd0wney/shardkv/pkg/engine/sstable"
	"github.com/dd0wney/shardkv/pkg/engine/wal"
	"github.com/dd0wney/shardkv/pkg/pagecache"
)

// Scenario 5: a crash between opening the new WAL and publishing the
// flushed SSTable leaves two WAL files on disk. Recovery must flush the
// stale one into the SSTable the crash never got to write, remove it, and
// adopt the other WAL's contents as the active memtable.
func TestRecovery_CrashDuringFlush(t *testing.T) {
	dir := t.TempDir()
	cache := pagecache.New(64)
	ctx := context.Background()

	w0, err := wal.Open(wal.FilePath(dir, 0), false, false)
	if err != nil {
		t.Fatalf("open wal 0: %v", err)
	}
	if err := w0.Append(engine.Entry{Key: []byte("a"), Value: []byte("1"), Timestamp: 1}); err != nil {
		t.Fatalf("append wal 0: %v", err)
	}
	if err := w0.Close(); err != nil {
		t.Fatalf("close wal 0: %v", err)
	}

	w2, err := wal.Open(wal.FilePath(dir, 2), false, false)
	if err != nil {
		t.Fatalf("open wal 2: %v", err)
	}
	if err := w2.Append(engine.Entry{Key: []byte("b"), Value: []byte("2"), Timestamp: 2}); err != nil {
		t.Fatalf("append wal 2: %v", err)
	}
	if err := w2.Close(); err != nil {
		t.Fatalf("close wal 2: %v", err)
	}

	// No SSTable at index 0 exists yet and WAL 0 is still present: this is
	// exactly the crash window between rotating the WAL and publishing the
	// flushed table.
	if _, err := os.Stat(sstable.DataPath(dir, 0)); !os.IsNotExist(err) {
		t.Fatalf("expected no sstable at index 0 before recovery, stat err = %v", err)
	}

	tree := openTree(t, dir, cache, engine.Options{})
	defer tree.Close()

	if _, err := os.Stat(sstable.DataPath(dir, 0)); err != nil {
		t.Fatalf("expected sstable 0 to exist after recovery: %v", err)
	}
	if _, err := os.Stat(wal.FilePath(dir, 0)); !os.IsNotExist(err) {
		t.Fatalf("expected stale wal 0 to be removed after recovery, stat err = %v", err)
	}

	if tree.ActiveLen() != 1 {
		t.Fatalf("active memtable len = %d, want 1 (wal 2's entry)", tree.ActiveLen())
	}
	if got := tree.WriteSSTableIndex(); got != 2 {
		t.Fatalf("write_sstable_index = %d, want 2 (past the recovered table)", got)
	}
	if v, err := tree.Get(ctx, []byte("b")); err != nil || !bytes.Equal(v, []byte("2")) {
		t.Fatalf("get(b) = %q, %v, want \"2\", nil", v, err)
	}
	if v, err := tree.Get(ctx, []byte("a")); err != nil || !bytes.Equal(v, []byte("1")) {
		t.Fatalf("get(a) = %q, %v, want \"1\", nil (recovered from flushed wal 0)", v, err)
	}
}

// Scenario 6: a compaction intent file written but never applied (the
// process crashed after Run but before Apply) must be replayed on the next
// open: renames and deletes performed, the intent file removed, and reads
// land on the newly named SSTable.
func TestRecovery_CompactionReplayOnCrash(t *testing.T) {
	dir := t.TempDir()
	cache := pagecache.New(64)
	partition := dir
	ctx := context.Background()

	entriesA := []engine.Entry{
		{Key: []byte("a"), Value: []byte("1"), Timestamp: 1},
	}
	entriesB := []engine.Entry{
		{Key: []byte("b"), Value: []byte("2"), Timestamp: 2},
	}

	nA, err := sstable.WriteAll(dir, 0, cache, partition, entriesA)
	if err != nil {
		t.Fatalf("write source 0: %v", err)
	}
	nB, err := sstable.WriteAll(dir, 2, cache, partition, entriesB)
	if err != nil {
		t.Fatalf("write source 2: %v", err)
	}

	result, err := compaction.Run(dir, []compaction.Source{
		{Index: 0, Size: nA},
		{Index: 2, Size: nB},
	}, 4, false, cache, partition)
	if err != nil {
		t.Fatalf("compaction run: %v", err)
	}

	// Crash here: Run has written the merged output and a durable intent
	// file, but nothing has been renamed or deleted yet.
	if _, err := os.Stat(result.IntentPath); err != nil {
		t.Fatalf("expected intent file to exist pre-recovery: %v", err)
	}
	if _, err := os.Stat(sstable.DataPath(dir, 0)); err != nil {
		t.Fatalf("expected source 0 to still exist pre-recovery: %v", err)
	}

	tree := openTree(t, dir, cache, engine.Options{})
	defer tree.Close()

	if _, err := os.Stat(result.IntentPath); !os.IsNotExist(err) {
		t.Fatalf("expected intent file removed after recovery, stat err = %v", err)
	}
	if _, err := os.Stat(sstable.DataPath(dir, 0)); !os.IsNotExist(err) {
		t.Fatalf("expected source 0 deleted after recovery, stat err = %v", err)
	}
	if _, err := os.Stat(sstable.DataPath(dir, 2)); !os.IsNotExist(err) {
		t.Fatalf("expected source 2 deleted after recovery, stat err = %v", err)
	}

	indices := tree.SSTableIndices()
	if len(indices) != 1 || indices[0] != 4 {
		t.Fatalf("sstable_indices = %v, want [4]", indices)
	}

	if v, err := tree.Get(ctx, []byte("a")); err != nil || !bytes.Equal(v, []byte("1")) {
		t.Fatalf("get(a) = %q, %v, want \"1\", nil", v, err)
	}
	if v, err := tree.Get(ctx, []byte("b")); err != nil || !bytes.Equal(v, []byte("2")) {
		t.Fatalf("get(b) = %q, %v, want \"2\", nil", v, err)
	}
}
