package sstable

import (
	"os"
	"testing"

	"github.com/dd0wney/shardkv/pkg/engine/record"
	"github.com/dd0wney/shardkv/pkg/pagecache"
)

func TestWriterReader_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	cache := pagecache.New(1024)

	entries := []record.Entry{
		{Key: []byte("a"), Value: []byte("1"), Timestamp: 1},
		{Key: []byte("b"), Value: []byte("2"), Timestamp: 2},
		{Key: []byte("c"), Value: []byte("3"), Timestamp: 3},
	}
	count, err := WriteAll(dir, 0, cache, "p", entries)
	if err != nil {
		t.Fatalf("write all: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 entries written, got %d", count)
	}

	r, err := Open(dir, 0, count, cache, "p")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()

	for _, e := range entries {
		got, ok, err := r.Get(e.Key)
		if err != nil {
			t.Fatalf("get %q: %v", e.Key, err)
		}
		if !ok || string(got.Value) != string(e.Value) {
			t.Errorf("get %q = %+v, ok=%v, want value %q", e.Key, got, ok, e.Value)
		}
	}

	if _, ok, err := r.Get([]byte("missing")); err != nil || ok {
		t.Errorf("expected miss for absent key, got ok=%v err=%v", ok, err)
	}
}

func TestWriterReader_IndexFileSizeInvariant(t *testing.T) {
	dir := t.TempDir()
	cache := pagecache.New(64)

	entries := make([]record.Entry, 0, 100)
	for i := 0; i < 100; i++ {
		entries = append(entries, record.Entry{Key: []byte{byte(i)}, Value: []byte{byte(i)}, Timestamp: int64(i)})
	}
	count, err := WriteAll(dir, 2, cache, "p", entries)
	if err != nil {
		t.Fatalf("write all: %v", err)
	}

	info, err := os.Stat(IndexPath(dir, 2))
	if err != nil {
		t.Fatalf("stat index file: %v", err)
	}
	if uint64(info.Size()) != IndexFileSize(count) {
		t.Errorf("index file size %d != n*EntryOffsetSize %d", info.Size(), IndexFileSize(count))
	}
}

func TestWriter_CacheCoherenceAfterClose(t *testing.T) {
	dir := t.TempDir()
	cache := pagecache.New(1024)

	entries := make([]record.Entry, 0, 4096)
	for i := 0; i < 4096; i++ {
		k := []byte{byte(i >> 8), byte(i)}
		entries = append(entries, record.Entry{Key: k, Value: k, Timestamp: int64(i)})
	}
	if _, err := WriteAll(dir, 0, cache, "p", entries); err != nil {
		t.Fatalf("write all: %v", err)
	}

	checkFamily := func(family pagecache.Family, path string) {
		t.Helper()
		fileBytes, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read %s file: %v", family, err)
		}

		for p := uint64(0); p < uint64(len(fileBytes)); p += pagecache.PageSize {
			page, ok := cache.Get(pagecache.Key{Partition: "p", Family: family, TableIndex: 0, Offset: p})
			if !ok {
				t.Fatalf("expected cached %s page at offset %d", family, p)
			}
			end := p + pagecache.PageSize
			want := make([]byte, pagecache.PageSize)
			if end > uint64(len(fileBytes)) {
				end = uint64(len(fileBytes))
			}
			copy(want, fileBytes[p:end])
			for i := range want {
				if page[i] != want[i] {
					t.Fatalf("%s page mismatch at offset %d byte %d: got %x want %x", family, p, i, page[i], want[i])
				}
			}
		}
	}

	checkFamily(pagecache.Data, DataPath(dir, 0))
	checkFamily(pagecache.Index, IndexPath(dir, 0))
}
