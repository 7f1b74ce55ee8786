// Package kv defines the ordered key/value collaborator the core
// consumes: point gets, atomic multi-key batches, and prefix
// iteration. The core never implements a storage engine itself — it only
// depends on this interface, which real backends (bbolt, an in-memory map
// for tests) satisfy.
package kv

import "context"

// Store is an ordered byte-key/byte-value store with atomic batched
// writes and prefix iteration. Keys sort bytewise.
type Store interface {
	// Get returns the value for key, or ok=false if absent.
	Get(ctx context.Context, key []byte) (value []byte, ok bool, err error)
	// Iterate calls fn for every key with the given prefix, in ascending
	// key order, until fn returns false or an error, or keys are
	// exhausted.
	Iterate(ctx context.Context, prefix []byte, fn func(key, value []byte) (more bool, err error)) error
	// NewBatch starts a batch of writes to be applied atomically by Commit.
	NewBatch() Batch
	// Commit applies every operation staged in b atomically: a reader
	// observes either none of b's writes or all of them.
	Commit(ctx context.Context, b Batch) error
}

// Batch stages a set of writes for atomic application via Store.Commit.
type Batch interface {
	Put(key, value []byte)
	Delete(key []byte)
}
