// Package engine implements the per-shard LSM-tree storage engine: memtable,
// write-ahead log, SSTables, and crash-safe compaction, atop a shared page
// cache.
package engine

import "github.com/dd0wney/shardkv/pkg/engine/record"

// Entry is a single (key, value, timestamp) record, shared with the WAL,
// SSTable, and compaction layers via the record package.
type Entry = record.Entry

// EntryOffset is the fixed-width index record pointing at one serialized
// Entry within a data file.
type EntryOffset = record.EntryOffset

// Tombstone is the reserved empty-value marker for a logical delete.
var Tombstone = record.Tombstone

// EntryOffsetSize is sizeof(EntryOffset) on disk.
const EntryOffsetSize = record.EntryOffsetSize
