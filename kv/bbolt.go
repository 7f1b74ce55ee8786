package kv

import (
	"bytes"
	"context"

	bolt "go.etcd.io/bbolt"
)

var rootBucket = []byte("construct")

// BoltStore adapts a bbolt database to the Store interface. bbolt already
// gives us exactly what the core needs from its KV collaborator: an ordered
// key/value store with atomic batched writes (one bolt.Tx per Commit) and
// prefix iteration (via a bucket cursor seeked to the prefix).
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (creating if necessary) a bbolt-backed Store at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rootBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

// Close releases the underlying bbolt file handle.
func (s *BoltStore) Close() error { return s.db.Close() }

func (s *BoltStore) Get(ctx context.Context, key []byte) (value []byte, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(rootBucket).Get(key)
		if v != nil {
			value = append([]byte(nil), v...)
			ok = true
		}
		return nil
	})
	return value, ok, err
}

func (s *BoltStore) Iterate(ctx context.Context, prefix []byte, fn func(key, value []byte) (bool, error)) error {
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(rootBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			more, err := fn(k, v)
			if err != nil {
				return err
			}
			if !more {
				return nil
			}
		}
		return nil
	})
}

func (s *BoltStore) NewBatch() Batch { return &boltBatch{} }

func (s *BoltStore) Commit(ctx context.Context, b Batch) error {
	batch, ok := b.(*boltBatch)
	if !ok {
		return errInvalidBatch
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(rootBucket)
		for _, op := range batch.ops {
			if op.delete {
				if err := bucket.Delete(op.key); err != nil {
					return err
				}
				continue
			}
			if err := bucket.Put(op.key, op.value); err != nil {
				return err
			}
		}
		return nil
	})
}

type boltBatch struct {
	ops []memoryOp
}

func (b *boltBatch) Put(key, value []byte) {
	b.ops = append(b.ops, memoryOp{key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
}

func (b *boltBatch) Delete(key []byte) {
	b.ops = append(b.ops, memoryOp{key: append([]byte(nil), key...), delete: true})
}
