// Package store defines the ordered byte-KV contract the tree requires from
// its persistence substrate, along with the logical namespacing scheme
// layered on top of it. The interface shapes are adapted from the teacher's
// accdb package (KeyValueReader/KeyValueWriter/KeyValueStore/Batch/Batcher),
// generalized with the ordered range scans the tree additionally needs.
package store

import "context"

// Order selects ascending or descending iteration.
type Order int

const (
	Asc Order = iota
	Desc
)

// Reader wraps the point-read half of a backing key-value store.
type Reader interface {
	// Get retrieves the value for key, or (nil, nil) if absent.
	Get(ctx context.Context, key []byte) ([]byte, error)
}

// Writer wraps the point-write half of a backing key-value store.
type Writer interface {
	Put(ctx context.Context, key, value []byte) error
	Delete(ctx context.Context, key []byte) error
}

// Iterator walks a range of keys in the order it was constructed with.
type Iterator interface {
	// Next advances to the next entry, returning false when exhausted or on
	// error (check Error() to distinguish the two).
	Next() bool
	Key() []byte
	Value() []byte
	Error() error
	Close() error
}

// KVStore is the full ordered byte-KV contract required by §6: point
// get/put/delete, exclusive-bound range scans in both directions, and
// inclusive prefix-bound scans.
type KVStore interface {
	Reader
	Writer

	// Range scans keys strictly between minExclusive and maxExclusive (open
	// on both ends), in the given order. A nil bound is unbounded on that
	// side.
	Range(ctx context.Context, minExclusive, maxExclusive []byte, order Order) (Iterator, error)

	// PrefixRange scans keys sharing prefix, with inner bounds minExclusive/
	// maxExclusive applied to the remainder after the prefix.
	PrefixRange(ctx context.Context, prefix, minExclusive, maxExclusive []byte, order Order) (Iterator, error)

	// NewBatch returns a write-only buffer that commits atomically on Write.
	NewBatch() Batch
}

// Batch buffers writes for a single atomic commit, mirroring the teacher's
// accdb.Batch.
type Batch interface {
	Writer

	// ValueSize reports the amount of data queued for writing.
	ValueSize() int

	// Write flushes the buffered writes to the underlying store.
	Write(ctx context.Context) error

	// Reset clears the batch for reuse.
	Reset()
}
