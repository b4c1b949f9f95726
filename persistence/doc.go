// Package persistence provides the adapter over an embedded ordered
// key-value store that the queue and observer packages build on: a
// path-keyed handle cache, typed tables sharing one environment, ordered
// range scans, and atomic multi-table group writes.
//
// # Backends
//
//   - persistence/pebblestore — github.com/cockroachdb/pebble backend,
//     used in production.
//   - in-process memtable (memtable.go) — safe for concurrent use,
//     intended for tests; avoids touching disk.
package persistence
