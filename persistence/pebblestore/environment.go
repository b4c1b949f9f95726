// Package pebblestore implements persistence.Environment over
// github.com/cockroachdb/pebble, an embedded ordered log-structured-merge
// key-value store. It is the production backend for the queue's job and
// index tables and the observer's event log.
//
// Physical keys are "<table>\x00<logical key>" so several logical tables
// can share one Pebble DB and commit across each other atomically via one
// Batch — the property the queue's Submit and Claim depend on.
package pebblestore

import (
	"context"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/xraph/birdwatch/persistence"
)

// Open opens (creating if absent) a Pebble environment at path. It
// satisfies persistence.Opener and is the function to pass to
// persistence.NewAdapter in production.
func Open(path string) (persistence.Environment, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebblestore: open %q: %w", path, err)
	}
	return &environment{db: db}, nil
}

type environment struct {
	db *pebble.DB
}

func (e *environment) Table(name string) persistence.Table {
	return &table{db: e.db, name: name}
}

func (e *environment) NewBatch() persistence.Batch {
	return &batch{db: e.db, b: e.db.NewBatch()}
}

func (e *environment) Close() error {
	if err := e.db.Close(); err != nil {
		return fmt.Errorf("pebblestore: close: %w", err)
	}
	return nil
}

// physKey prefixes a logical key with its table name so tables sharing
// one Pebble DB don't collide, while keeping keys within a table in the
// same relative order as the logical keys (the separator 0x00 sorts
// before every ASCII character used by our key encodings).
func physKey(table, key string) []byte {
	buf := make([]byte, 0, len(table)+1+len(key))
	buf = append(buf, table...)
	buf = append(buf, 0)
	buf = append(buf, key...)
	return buf
}

// tableUpperBound returns the exclusive upper bound for an iteration
// confined to one table's keys.
func tableUpperBound(table string) []byte {
	buf := make([]byte, 0, len(table)+1)
	buf = append(buf, table...)
	buf = append(buf, 1)
	return buf
}

type table struct {
	db   *pebble.DB
	name string
}

func (t *table) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, closer, err := t.db.Get(physKey(t.name, key))
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("pebblestore: get %s/%s: %w", t.name, key, err)
	}
	defer closer.Close()
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (t *table) Put(_ context.Context, key string, value []byte) error {
	if err := t.db.Set(physKey(t.name, key), value, pebble.Sync); err != nil {
		return fmt.Errorf("pebblestore: put %s/%s: %w", t.name, key, err)
	}
	return nil
}

func (t *table) Delete(_ context.Context, key string) error {
	if err := t.db.Delete(physKey(t.name, key), pebble.Sync); err != nil {
		return fmt.Errorf("pebblestore: delete %s/%s: %w", t.name, key, err)
	}
	return nil
}

func (t *table) Scan(_ context.Context, start string, limit int) ([]persistence.Entry, error) {
	lower := physKey(t.name, start)
	upper := tableUpperBound(t.name)
	iter, err := t.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("pebblestore: scan %s: %w", t.name, err)
	}
	defer iter.Close()

	prefixLen := len(t.name) + 1
	var entries []persistence.Entry
	for iter.First(); iter.Valid(); iter.Next() {
		if limit > 0 && len(entries) >= limit {
			break
		}
		k := iter.Key()
		v, err := iter.ValueAndErr()
		if err != nil {
			return nil, fmt.Errorf("pebblestore: scan %s: value: %w", t.name, err)
		}
		key := string(k[prefixLen:])
		val := make([]byte, len(v))
		copy(val, v)
		entries = append(entries, persistence.Entry{Key: key, Value: val})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("pebblestore: scan %s: iterate: %w", t.name, err)
	}
	return entries, nil
}

type batch struct {
	db *pebble.DB
	b  *pebble.Batch
}

func (b *batch) Put(table, key string, value []byte) {
	_ = b.b.Set(physKey(table, key), value, nil)
}

func (b *batch) Delete(table, key string) {
	_ = b.b.Delete(physKey(table, key), nil)
}

func (b *batch) Commit(_ context.Context) error {
	if err := b.b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("pebblestore: batch commit: %w", err)
	}
	return nil
}

func (b *batch) Close() error {
	if err := b.b.Close(); err != nil {
		return fmt.Errorf("pebblestore: batch close: %w", err)
	}
	return nil
}
