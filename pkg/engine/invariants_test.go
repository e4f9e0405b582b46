package engine_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/dd0wney/shardkv/pkg/engine"
	"github.com/dd0wney/shardkv/pkg/pagecache"
)

// TestInvariants_ReadYourWrites and its siblings cover the "Universal
// invariants" list: for any key/value pair a set() is immediately visible
// to get(), and a delete() masks every older value for that key regardless
// of how it was stored (active memtable or an already-flushed SSTable).
func TestInvariants_ReadYourWrites(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping property-based test in short mode")
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)
	ctx := context.Background()

	properties.Property("set(k,v) then get(k) == v", prop.ForAll(
		func(key, value []byte) bool {
			if len(key) == 0 || len(value) == 0 {
				return true // empty value is the reserved tombstone marker
			}

			tree, err := engine.OpenOrCreate(t.TempDir(), pagecache.New(64), engine.Options{})
			if err != nil {
				t.Fatalf("open tree: %v", err)
			}
			defer tree.Close()

			if err := tree.Set(ctx, key, value); err != nil {
				t.Fatalf("set: %v", err)
			}
			got, err := tree.Get(ctx, key)
			return err == nil && bytes.Equal(got, value)
		},
		gen.SliceOfN(8, gen.UInt8()),
		gen.SliceOfN(8, gen.UInt8()),
	))

	properties.TestingRun(t)
}

func TestInvariants_TombstoneMasking(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping property-based test in short mode")
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)
	ctx := context.Background()

	properties.Property("delete(k) masks a value flushed to an SSTable", prop.ForAll(
		func(key, value []byte) bool {
			if len(key) == 0 || len(value) == 0 {
				return true
			}

			tree, err := engine.OpenOrCreate(t.TempDir(), pagecache.New(64), engine.Options{})
			if err != nil {
				t.Fatalf("open tree: %v", err)
			}
			defer tree.Close()

			if err := tree.Set(ctx, key, value); err != nil {
				t.Fatalf("set: %v", err)
			}
			if err := tree.Flush(ctx); err != nil {
				t.Fatalf("flush: %v", err)
			}
			if err := tree.Delete(ctx, key); err != nil {
				t.Fatalf("delete: %v", err)
			}

			_, err = tree.Get(ctx, key)
			return errors.Is(err, engine.ErrNotFound)
		},
		gen.SliceOfN(8, gen.UInt8()),
		gen.SliceOfN(8, gen.UInt8()),
	))

	properties.TestingRun(t)
}

func TestInvariants_FlushIdempotence(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping property-based test in short mode")
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)
	ctx := context.Background()

	properties.Property("flush empties the active memtable and grows sstable_indices by exactly one", prop.ForAll(
		func(n int) bool {
			tree, err := engine.OpenOrCreate(t.TempDir(), pagecache.New(64), engine.Options{})
			if err != nil {
				t.Fatalf("open tree: %v", err)
			}
			defer tree.Close()

			for i := 0; i < n; i++ {
				k := []byte{byte(i), byte(i >> 8)}
				if err := tree.Set(ctx, k, k); err != nil {
					t.Fatalf("set %d: %v", i, err)
				}
			}
			before := len(tree.SSTableIndices())

			if err := tree.Flush(ctx); err != nil {
				t.Fatalf("flush: %v", err)
			}
			after := len(tree.SSTableIndices())

			if tree.ActiveLen() != 0 {
				return false
			}
			if n == 0 {
				return after == before // empty memtable: flush is a no-op
			}
			return after == before+1
		},
		gen.IntRange(0, 200),
	))

	properties.TestingRun(t)
}
