package eventindex

import (
	"context"
	"testing"

	"github.com/TurBoss/construct/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupUnknownIsZero(t *testing.T) {
	ctx := context.Background()
	idx := New(kv.NewMemory())

	got, err := idx.Lookup(ctx, "$nothing:example.org")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), got)
}

func TestAssignNextIdxIsMonotonicAndIdempotent(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	idx := New(store)

	batch := store.NewBatch()
	first, assigned, err := idx.AssignNextIdx(ctx, batch, "$a:example.org")
	require.NoError(t, err)
	assert.True(t, assigned)
	assert.Equal(t, uint64(1), first)
	require.NoError(t, store.Commit(ctx, batch))

	batch = store.NewBatch()
	second, assigned, err := idx.AssignNextIdx(ctx, batch, "$b:example.org")
	require.NoError(t, err)
	assert.True(t, assigned)
	assert.Equal(t, uint64(2), second)
	require.NoError(t, store.Commit(ctx, batch))

	batch = store.NewBatch()
	again, assigned, err := idx.AssignNextIdx(ctx, batch, "$a:example.org")
	require.NoError(t, err)
	assert.False(t, assigned)
	assert.Equal(t, uint64(1), again)

	looked, err := idx.Lookup(ctx, "$a:example.org")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), looked)
}

func TestPutColumnsAndSeek(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	idx := New(store)

	batch := store.NewBatch()
	id, _, err := idx.AssignNextIdx(ctx, batch, "$a:example.org")
	require.NoError(t, err)
	idx.PutColumns(batch, id, Row{
		ColType:   []byte(`"m.room.member"`),
		ColRoomID: []byte(`"!room:example.org"`),
		ColSender: []byte(`"@alice:example.org"`),
	})
	require.NoError(t, store.Commit(ctx, batch))

	row, err := idx.Seek(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, `"m.room.member"`, string(row[ColType]))
	assert.Equal(t, `"!room:example.org"`, string(row[ColRoomID]))
	_, hasStateKey := row[ColStateKey]
	assert.False(t, hasStateKey)
}

func TestPrefetchMultipleRows(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	idx := New(store)

	var ids []uint64
	for _, eventID := range []string{"$a:x", "$b:x", "$c:x"} {
		batch := store.NewBatch()
		id, _, err := idx.AssignNextIdx(ctx, batch, eventID)
		require.NoError(t, err)
		idx.PutColumns(batch, id, Row{ColType: []byte(`"m.room.message"`)})
		require.NoError(t, store.Commit(ctx, batch))
		ids = append(ids, id)
	}

	rows, err := idx.Prefetch(ctx, ids, []Column{ColType})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for _, row := range rows {
		assert.Equal(t, `"m.room.message"`, string(row[ColType]))
	}
}
