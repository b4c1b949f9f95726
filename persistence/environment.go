package persistence

import "context"

// Entry is one key/value pair returned from a range scan, in key order.
type Entry struct {
	Key   string
	Value []byte
}

// Table is a logical, named view over a shared Environment. Several
// Tables live inside one Environment so that writes across them commit
// atomically via a single Batch — this is why the queue's job table and
// index table always come from the same Adapter-cached Environment.
type Table interface {
	// Get performs a point read. ok is false if the key is absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Put performs a point write outside of any batch.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes a key outside of any batch. Deleting an absent key
	// is not an error.
	Delete(ctx context.Context, key string) error

	// Scan returns up to limit entries with key >= start, in ascending
	// key order. limit <= 0 means unbounded.
	Scan(ctx context.Context, start string, limit int) ([]Entry, error)
}

// Batch accumulates operations across one or more named tables sharing
// an Environment, for atomic group writes.
type Batch interface {
	// Put queues a write against the named table.
	Put(table, key string, value []byte)

	// Delete queues a delete against the named table.
	Delete(table, key string)

	// Commit applies every queued operation atomically: all or none
	// become visible.
	Commit(ctx context.Context) error

	// Close releases batch resources. Safe after Commit, and safe
	// without ever having committed (discards the batch).
	Close() error
}

// Environment is one opened store handle — one Pebble DB, or one
// in-memory map set — shared by every Table opened from it.
type Environment interface {
	// Table returns the named logical table, creating it on first use.
	Table(name string) Table

	// NewBatch starts a group write spanning any of this environment's
	// tables.
	NewBatch() Batch

	// Close releases the environment's resources.
	Close() error
}

// Opener opens a new Environment at path. Implementations: the Pebble
// backend (persistence/pebblestore) and the in-memory backend used by
// tests (NewMemoryEnvironment in this package).
type Opener func(path string) (Environment, error)
