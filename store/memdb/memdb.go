// Package memdb is an ephemeral, in-process key-value store implementing
// store.KVStore, adapted from the teacher's accdb/memorydb (a map guarded by
// a sync.RWMutex) and extended with the ordered range scans the tree
// requires, which the teacher's own memorydb never needed to support.
package memdb

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/larry0x/mttree/store"
)

// DB is an in-memory store.KVStore backed by a plain map. Range scans sort
// matching keys on demand; this is the right tradeoff for a test/reference
// backend at the scale this repository targets, not a production index.
type DB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New returns an empty in-memory store.
func New() *DB {
	return &DB{data: make(map[string][]byte)}
}

func (d *DB) Get(_ context.Context, key []byte) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.data[string(key)]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (d *DB) Put(_ context.Context, key, value []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (d *DB) Delete(_ context.Context, key []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.data, string(key))
	return nil
}

func (d *DB) Range(_ context.Context, minExclusive, maxExclusive []byte, order store.Order) (store.Iterator, error) {
	return d.scan(nil, minExclusive, maxExclusive, order), nil
}

func (d *DB) PrefixRange(_ context.Context, prefix, minExclusive, maxExclusive []byte, order store.Order) (store.Iterator, error) {
	return d.scan(prefix, minExclusive, maxExclusive, order), nil
}

func (d *DB) scan(prefix, minExclusive, maxExclusive []byte, order store.Order) store.Iterator {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var keys []string
	for k := range d.data {
		if prefix != nil && !bytesHasPrefix(k, prefix) {
			continue
		}
		rem := []byte(k)[len(prefix):]
		if minExclusive != nil && bytes.Compare(rem, minExclusive) <= 0 {
			continue
		}
		if maxExclusive != nil && bytes.Compare(rem, maxExclusive) >= 0 {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if order == store.Desc {
		for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
			keys[i], keys[j] = keys[j], keys[i]
		}
	}

	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = d.data[k]
	}
	return &sliceIterator{keys: keys, values: values, pos: -1}
}

func bytesHasPrefix(s string, prefix []byte) bool {
	return len(s) >= len(prefix) && string([]byte(s)[:len(prefix)]) == string(prefix)
}

type sliceIterator struct {
	keys   []string
	values [][]byte
	pos    int
}

func (it *sliceIterator) Next() bool {
	it.pos++
	return it.pos < len(it.keys)
}

func (it *sliceIterator) Key() []byte   { return []byte(it.keys[it.pos]) }
func (it *sliceIterator) Value() []byte { return it.values[it.pos] }
func (it *sliceIterator) Error() error  { return nil }
func (it *sliceIterator) Close() error  { return nil }

// NewBatch returns a buffered batch that commits atomically against d on
// Write, mirroring the teacher's accdb.Batch/Batcher pair.
func (d *DB) NewBatch() store.Batch {
	return &batch{db: d}
}

type op struct {
	key    []byte
	value  []byte
	delete bool
}

type batch struct {
	db   *DB
	ops  []op
	size int
}

func (b *batch) Put(_ context.Context, key, value []byte) error {
	b.ops = append(b.ops, op{key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
	b.size += len(key) + len(value)
	return nil
}

func (b *batch) Delete(_ context.Context, key []byte) error {
	b.ops = append(b.ops, op{key: append([]byte(nil), key...), delete: true})
	b.size += len(key)
	return nil
}

func (b *batch) ValueSize() int {
	return b.size
}

func (b *batch) Write(ctx context.Context) error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	for _, o := range b.ops {
		if o.delete {
			delete(b.db.data, string(o.key))
		} else {
			b.db.data[string(o.key)] = o.value
		}
	}
	return nil
}

func (b *batch) Reset() {
	b.ops = nil
	b.size = 0
}
