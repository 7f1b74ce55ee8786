package kv

import (
	"bytes"
	"context"
	"sort"
	"sync"
)

// Memory is an in-memory reference Store, used in tests and as the
// default store for a from-scratch local development instance. It holds
// every key sorted so Iterate can walk a prefix in order without
// building an index.
type Memory struct {
	mu   sync.RWMutex
	keys [][]byte
	vals map[string][]byte
}

// NewMemory constructs an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{vals: make(map[string][]byte)}
}

func (m *Memory) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vals[string(key)]
	return v, ok, nil
}

func (m *Memory) Iterate(ctx context.Context, prefix []byte, fn func(key, value []byte) (bool, error)) error {
	m.mu.RLock()
	keys := make([][]byte, len(m.keys))
	copy(keys, m.keys)
	m.mu.RUnlock()

	for _, k := range keys {
		if !bytes.HasPrefix(k, prefix) {
			continue
		}
		m.mu.RLock()
		v, ok := m.vals[string(k)]
		m.mu.RUnlock()
		if !ok {
			continue
		}
		more, err := fn(k, v)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

func (m *Memory) NewBatch() Batch { return &memoryBatch{} }

func (m *Memory) Commit(ctx context.Context, b Batch) error {
	batch, ok := b.(*memoryBatch)
	if !ok {
		return errInvalidBatch
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range batch.ops {
		key := string(op.key)
		if op.delete {
			if _, exists := m.vals[key]; exists {
				delete(m.vals, key)
				m.removeKeyLocked(op.key)
			}
			continue
		}
		if _, exists := m.vals[key]; !exists {
			m.insertKeyLocked(op.key)
		}
		m.vals[key] = op.value
	}
	return nil
}

func (m *Memory) insertKeyLocked(key []byte) {
	i := sort.Search(len(m.keys), func(i int) bool { return bytes.Compare(m.keys[i], key) >= 0 })
	m.keys = append(m.keys, nil)
	copy(m.keys[i+1:], m.keys[i:])
	m.keys[i] = append([]byte(nil), key...)
}

func (m *Memory) removeKeyLocked(key []byte) {
	i := sort.Search(len(m.keys), func(i int) bool { return bytes.Compare(m.keys[i], key) >= 0 })
	if i < len(m.keys) && bytes.Equal(m.keys[i], key) {
		m.keys = append(m.keys[:i], m.keys[i+1:]...)
	}
}

type memoryOp struct {
	key, value []byte
	delete     bool
}

type memoryBatch struct {
	ops []memoryOp
}

func (b *memoryBatch) Put(key, value []byte) {
	b.ops = append(b.ops, memoryOp{key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
}

func (b *memoryBatch) Delete(key []byte) {
	b.ops = append(b.ops, memoryOp{key: append([]byte(nil), key...), delete: true})
}

type invalidBatchError struct{}

func (invalidBatchError) Error() string { return "kv: batch was not created by this store" }

var errInvalidBatch error = invalidBatchError{}
