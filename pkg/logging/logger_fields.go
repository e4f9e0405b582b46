package logging

import (
	"time"
)

// Common field constructors
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

func Uint64(key string, value uint64) Field {
	return Field{Key: key, Value: value}
}

func Float64(key string, value float64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Component names the package emitting the log line (engine, wire, client,
// coldstore, ...).
func Component(name string) Field {
	return String("component", name)
}

// Collection names the tree a log line concerns, matching the partition
// name a collection was opened under.
func Collection(name string) Field {
	return String("collection", name)
}

// ShardID names the shard a log line concerns, for processes hosting more
// than one.
func ShardID(id string) Field {
	return String("shard_id", id)
}

// TableIndex names the on-disk SSTable a log line concerns.
func TableIndex(i uint64) Field {
	return Uint64("table_index", i)
}

func Operation(op string) Field {
	return String("operation", op)
}

func Latency(d time.Duration) Field {
	return Duration("latency", d)
}

func Count(n int) Field {
	return Int("count", n)
}

func Path(p string) Field {
	return String("path", p)
}
