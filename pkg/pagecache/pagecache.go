// Package pagecache implements a process-wide, bounded LRU cache of fixed-size
// pages shared across every tree's data and index files.
package pagecache

import (
	"container/list"
	"fmt"
	"sync"
)

// PageSize is the fixed size of every page held in the cache and the unit of
// alignment for WAL record padding.
const PageSize = 4096

// Family distinguishes which file within an SSTable pair a page belongs to.
type Family int

const (
	// Data identifies pages from an SSTable's data file.
	Data Family = iota
	// Index identifies pages from an SSTable's index file.
	Index
)

func (f Family) String() string {
	if f == Data {
		return "data"
	}
	return "index"
}

// Key identifies a single page: the partition separates per-collection
// namespaces so one cache instance can back many trees.
type Key struct {
	Partition  string
	Family     Family
	TableIndex uint64
	Offset     uint64
}

func (k Key) cacheKey() string {
	return fmt.Sprintf("%s/%d/%d/%d", k.Partition, k.Family, k.TableIndex, k.Offset)
}

type entry struct {
	key  Key
	page []byte
}

// Recorder receives cache events as they happen. pkg/metrics.Registry
// satisfies it; a nil recorder disables event reporting.
type Recorder interface {
	RecordCacheHit()
	RecordCacheMiss()
	RecordCacheEviction()
}

// Cache is a capacity-bounded LRU keyed by (partition, family, table-id, offset).
// Eviction policy is not consistency-critical: a miss simply falls through to disk.
type Cache struct {
	mu       sync.Mutex
	capacity int
	index    map[string]*list.Element
	lru      *list.List

	hits      int64
	misses    int64
	evictions int64

	rec Recorder
}

// New creates a page cache holding up to capacity pages.
func New(capacity int) *Cache {
	return &Cache{
		capacity: capacity,
		index:    make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// Get returns the page stored under key, if present. The returned slice must
// not be mutated by the caller; pages are immutable once inserted.
func (c *Cache) Get(key Key) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ck := key.cacheKey()
	elem, ok := c.index[ck]
	if !ok {
		c.misses++
		if c.rec != nil {
			c.rec.RecordCacheMiss()
		}
		return nil, false
	}
	c.lru.MoveToFront(elem)
	c.hits++
	if c.rec != nil {
		c.rec.RecordCacheHit()
	}
	return elem.Value.(*entry).page, true
}

// SetRecorder attaches a Recorder that is notified of every hit, miss, and
// eviction from now on.
func (c *Cache) SetRecorder(rec Recorder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rec = rec
}

// Set inserts or overwrites the page stored under key.
func (c *Cache) Set(key Key, page []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ck := key.cacheKey()
	if elem, ok := c.index[ck]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*entry).page = page
		return
	}

	elem := c.lru.PushFront(&entry{key: key, page: page})
	c.index[ck] = elem

	if c.capacity > 0 && c.lru.Len() > c.capacity {
		c.evictLocked()
	}
}

func (c *Cache) evictLocked() {
	elem := c.lru.Back()
	if elem == nil {
		return
	}
	c.lru.Remove(elem)
	delete(c.index, elem.Value.(*entry).key.cacheKey())
	c.evictions++
	if c.rec != nil {
		c.rec.RecordCacheEviction()
	}
}

// Stats returns cumulative hit/miss/eviction counts and the current resident
// page count, for metrics export.
func (c *Cache) Stats() (hits, misses, evictions int64, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, c.evictions, c.lru.Len()
}

// DropPartition evicts every page belonging to partition, used when a
// collection directory is purged.
func (c *Cache) DropPartition(partition string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for ck, elem := range c.index {
		if elem.Value.(*entry).key.Partition == partition {
			c.lru.Remove(elem)
			delete(c.index, ck)
		}
	}
}

// DropTable evicts every page belonging to a single SSTable, used once a
// compaction's sources are deleted from disk.
func (c *Cache) DropTable(partition string, tableIndex uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for ck, elem := range c.index {
		k := elem.Value.(*entry).key
		if k.Partition == partition && k.TableIndex == tableIndex {
			c.lru.Remove(elem)
			delete(c.index, ck)
		}
	}
}
