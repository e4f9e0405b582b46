package ring

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func nodes(n int) []Node {
	out := make([]Node, n)
	for i := 0; i < n; i++ {
		out[i] = Node{IP: "127.0.0.1", Port: 9000 + i}
	}
	return out
}

func TestRing_PlaceReturnsMinReplicationFactorSize(t *testing.T) {
	r, err := New(Metadata{Nodes: nodes(5), ReplicationFactor: 3})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	addrs, err := r.Place("some-key")
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if len(addrs) != 3 {
		t.Fatalf("expected 3 addresses, got %d", len(addrs))
	}
	seen := map[string]bool{}
	for _, a := range addrs {
		if seen[a] {
			t.Fatalf("duplicate address %q in placement", a)
		}
		seen[a] = true
	}
}

func TestRing_PlaceClampsReplicationFactorToRingSize(t *testing.T) {
	r, err := New(Metadata{Nodes: nodes(2), ReplicationFactor: 10})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	addrs, err := r.Place("k")
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if len(addrs) != 2 {
		t.Fatalf("expected 2 addresses (ring size), got %d", len(addrs))
	}
}

func TestRing_PlaceIsDeterministic(t *testing.T) {
	r, err := New(Metadata{Nodes: nodes(8), ReplicationFactor: 3})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	first, err := r.Place("stable-key")
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := r.Place("stable-key")
		if err != nil {
			t.Fatalf("place: %v", err)
		}
		if len(again) != len(first) {
			t.Fatalf("placement length changed across calls")
		}
		for j := range first {
			if again[j] != first[j] {
				t.Fatalf("placement order changed across calls: %v vs %v", first, again)
			}
		}
	}
}

func TestRing_NewRejectsEmptyNodeList(t *testing.T) {
	if _, err := New(Metadata{Nodes: nil, ReplicationFactor: 1}); err == nil {
		t.Fatal("expected error for empty node list")
	}
}

func TestRing_PlaceRejectsEmptyRing(t *testing.T) {
	r := &Ring{}
	if _, err := r.Place("k"); err == nil {
		t.Fatal("expected error placing on empty ring")
	}
}

// TestInvariant_RingCoverage checks the "Ring coverage" universal
// invariant: for any cluster shape and any key, Place returns exactly
// min(N, replicationFactor) distinct addresses.
func TestInvariant_RingCoverage(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping property-based test in short mode")
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("Place returns min(N, replicationFactor) distinct addresses", prop.ForAll(
		func(n, rf int, key string) bool {
			r, err := New(Metadata{Nodes: nodes(n), ReplicationFactor: rf})
			if err != nil {
				t.Fatalf("new: %v", err)
			}
			addrs, err := r.Place(key)
			if err != nil {
				t.Fatalf("place: %v", err)
			}

			want := rf
			if rf <= 0 {
				want = 1
			}
			if want > n {
				want = n
			}
			if len(addrs) != want {
				return false
			}

			seen := make(map[string]bool, len(addrs))
			for _, a := range addrs {
				if seen[a] {
					return false
				}
				seen[a] = true
			}
			return true
		},
		gen.IntRange(1, 32),
		gen.IntRange(1, 10),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
