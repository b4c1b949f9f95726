package persistence

import (
	"context"
	"sort"
	"sync"
)

// memoryEnvironment is a fully in-memory Environment. Safe for
// concurrent access. Intended for unit tests so they don't touch disk —
// generalized from a bespoke job map into a generic ordered
// string-keyed table per named table.
type memoryEnvironment struct {
	mu     sync.RWMutex
	tables map[string]map[string][]byte
}

// NewMemoryEnvironment is an Opener-compatible constructor for an
// in-memory Environment. The path argument is ignored; each call
// produces an independent environment.
func NewMemoryEnvironment(_ string) (Environment, error) {
	return &memoryEnvironment{tables: make(map[string]map[string][]byte)}, nil
}

func (m *memoryEnvironment) Table(name string) Table {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[name]; !ok {
		m.tables[name] = make(map[string][]byte)
	}
	return &memoryTable{env: m, name: name}
}

func (m *memoryEnvironment) NewBatch() Batch {
	return &memoryBatch{env: m}
}

func (m *memoryEnvironment) Close() error { return nil }

type memoryTable struct {
	env  *memoryEnvironment
	name string
}

func (t *memoryTable) Get(_ context.Context, key string) ([]byte, bool, error) {
	t.env.mu.RLock()
	defer t.env.mu.RUnlock()
	v, ok := t.env.tables[t.name][key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (t *memoryTable) Put(_ context.Context, key string, value []byte) error {
	t.env.mu.Lock()
	defer t.env.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	t.env.tables[t.name][key] = cp
	return nil
}

func (t *memoryTable) Delete(_ context.Context, key string) error {
	t.env.mu.Lock()
	defer t.env.mu.Unlock()
	delete(t.env.tables[t.name], key)
	return nil
}

func (t *memoryTable) Scan(_ context.Context, start string, limit int) ([]Entry, error) {
	t.env.mu.RLock()
	defer t.env.mu.RUnlock()

	tbl := t.env.tables[t.name]
	keys := make([]string, 0, len(tbl))
	for k := range tbl {
		if k >= start {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	entries := make([]Entry, len(keys))
	for i, k := range keys {
		v := tbl[k]
		cp := make([]byte, len(v))
		copy(cp, v)
		entries[i] = Entry{Key: k, Value: cp}
	}
	return entries, nil
}

// memoryBatch queues operations under the environment's single mutex so
// Commit can apply them all as one atomic step.
type memoryBatch struct {
	env *memoryEnvironment
	ops []memoryOp
}

type memoryOp struct {
	table  string
	key    string
	value  []byte
	delete bool
}

func (b *memoryBatch) Put(table, key string, value []byte) {
	cp := make([]byte, len(value))
	copy(cp, value)
	b.ops = append(b.ops, memoryOp{table: table, key: key, value: cp})
}

func (b *memoryBatch) Delete(table, key string) {
	b.ops = append(b.ops, memoryOp{table: table, key: key, delete: true})
}

func (b *memoryBatch) Commit(_ context.Context) error {
	b.env.mu.Lock()
	defer b.env.mu.Unlock()

	for _, op := range b.ops {
		tbl, ok := b.env.tables[op.table]
		if !ok {
			tbl = make(map[string][]byte)
			b.env.tables[op.table] = tbl
		}
		if op.delete {
			delete(tbl, op.key)
			continue
		}
		tbl[op.key] = op.value
	}
	b.ops = nil
	return nil
}

func (b *memoryBatch) Close() error {
	b.ops = nil
	return nil
}
