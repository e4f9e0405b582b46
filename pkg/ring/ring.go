// Package ring implements a consistent-hash placement ring: given cluster
// metadata (node addresses and a replication factor), resolve any key to
// the ordered list of replica addresses responsible for it.
package ring

import (
	"encoding/binary"
	"fmt"
	"sort"

	"golang.org/x/crypto/blake2b"
)

// Node is one addressable shard in the cluster, as returned by
// get_cluster_metadata.
type Node struct {
	IP   string
	Port int
}

// Addr renders the node as a dial address.
func (n Node) Addr() string {
	return fmt.Sprintf("%s:%d", n.IP, n.Port)
}

// Metadata is the cluster shape a Ring is built from: the member nodes and
// the number of replicas a key's placement should resolve to.
type Metadata struct {
	Nodes             []Node
	ReplicationFactor int
}

type entry struct {
	hash uint64
	addr string
}

// Ring is an immutable, sorted consistent-hash ring over a set of node
// addresses. It is safe for concurrent use by multiple goroutines: all of
// its state is read-only after New.
type Ring struct {
	entries           []entry
	replicationFactor int
}

// New builds a ring from cluster metadata. Address hashes are computed with
// blake2b-256, truncated to the first 8 bytes, then the resulting entries
// are sorted by hash to form the ring.
func New(meta Metadata) (*Ring, error) {
	if len(meta.Nodes) == 0 {
		return nil, fmt.Errorf("ring: no nodes in cluster metadata")
	}

	entries := make([]entry, 0, len(meta.Nodes))
	for _, n := range meta.Nodes {
		addr := n.Addr()
		h, err := hashString(addr)
		if err != nil {
			return nil, fmt.Errorf("ring: hash address %q: %w", addr, err)
		}
		entries = append(entries, entry{hash: h, addr: addr})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].hash < entries[j].hash })

	rf := meta.ReplicationFactor
	if rf <= 0 {
		rf = 1
	}

	return &Ring{entries: entries, replicationFactor: rf}, nil
}

// Size returns the number of distinct addresses on the ring.
func (r *Ring) Size() int {
	return len(r.entries)
}

// ReplicationFactor returns the ring's configured replica count.
func (r *Ring) ReplicationFactor() int {
	return r.replicationFactor
}

// Place resolves key to its ordered replica address list: the smallest ring
// position whose hash is >= hash(key) (wrapping to 0 if none), then up to
// ReplicationFactor addresses walking forward, stopping early on wraparound
// back to the starting position. The returned slice always has
// min(ReplicationFactor, Size()) distinct addresses.
func (r *Ring) Place(key string) ([]string, error) {
	if len(r.entries) == 0 {
		return nil, fmt.Errorf("ring: empty ring")
	}

	h, err := hashString(key)
	if err != nil {
		return nil, fmt.Errorf("ring: hash key %q: %w", key, err)
	}

	start := sort.Search(len(r.entries), func(i int) bool { return r.entries[i].hash >= h })
	if start == len(r.entries) {
		start = 0
	}

	n := r.replicationFactor
	if n > len(r.entries) {
		n = len(r.entries)
	}

	addrs := make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx := (start + i) % len(r.entries)
		if i > 0 && idx == start {
			break
		}
		addrs = append(addrs, r.entries[idx].addr)
	}
	return addrs, nil
}

// hashString computes a deterministic 64-bit hash of s via blake2b-256,
// taking the first 8 bytes of the digest in big-endian order.
func hashString(s string) (uint64, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return 0, fmt.Errorf("blake2b: %w", err)
	}
	if _, err := h.Write([]byte(s)); err != nil {
		return 0, fmt.Errorf("blake2b write: %w", err)
	}
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8]), nil
}
