package kv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGetPut(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	b := m.NewBatch()
	b.Put([]byte("a"), []byte("1"))
	b.Put([]byte("b"), []byte("2"))
	require.NoError(t, m.Commit(ctx, b))

	v, ok, err := m.Get(ctx, []byte("a"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", string(v))

	_, ok, err = m.Get(ctx, []byte("missing"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryIteratePrefixOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	b := m.NewBatch()
	b.Put([]byte("room/2"), []byte("b"))
	b.Put([]byte("room/1"), []byte("a"))
	b.Put([]byte("other/1"), []byte("z"))
	require.NoError(t, m.Commit(ctx, b))

	var got []string
	err := m.Iterate(ctx, []byte("room/"), func(k, v []byte) (bool, error) {
		got = append(got, string(k))
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"room/1", "room/2"}, got)
}

func TestMemoryDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	b := m.NewBatch()
	b.Put([]byte("a"), []byte("1"))
	require.NoError(t, m.Commit(ctx, b))

	b = m.NewBatch()
	b.Delete([]byte("a"))
	require.NoError(t, m.Commit(ctx, b))

	_, ok, err := m.Get(ctx, []byte("a"))
	require.NoError(t, err)
	assert.False(t, ok)
}
