package engine

import "errors"

// Sentinel error kinds surfaced to callers, per the engine's error taxonomy.
// I/O and Serialization failures are wrapped ad hoc with fmt.Errorf("%w", ...)
// at the point they occur; these are the kinds worth branching on with
// errors.Is.
var (
	// ErrNotFound is returned by Get (not GetEntry) when a key has no
	// live value: either it was never written, or its most recent write
	// was a tombstone.
	ErrNotFound = errors.New("engine: key not found")

	// ErrCorruption marks on-disk state that violates an invariant this
	// package depends on: more than two WAL files at rest, or an index
	// file whose size is not an exact multiple of EntryOffsetSize.
	ErrCorruption = errors.New("engine: corrupt tree state")

	// ErrCapacityExceeded is returned if a memtable insert is attempted
	// against a full table without first waiting for a flush to drain
	// it. Set never returns this in normal operation since it waits
	// before inserting; it surfaces only if that invariant is broken.
	ErrCapacityExceeded = errors.New("engine: memtable capacity exceeded")
)
