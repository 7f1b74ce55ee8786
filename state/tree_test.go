package state

import (
	"context"
	"testing"

	"github.com/TurBoss/construct/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTreeSingleLeafCreateRoom(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	tr := New(store)

	batch := store.NewBatch()
	root, err := tr.Insert(ctx, batch, "", MakeKey("m.room.create", ""), "$create:example.org")
	require.NoError(t, err)
	require.NoError(t, store.Commit(ctx, batch))

	got, err := tr.Get(ctx, root, MakeKey("m.room.create", ""))
	require.NoError(t, err)
	assert.Equal(t, "$create:example.org", got)

	count, err := tr.Count(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestTreeManyInsertsCountAndOrder(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	tr := New(store)

	root := ""
	members := make([]string, 0, 33)
	for i := 0; i < 33; i++ {
		sk := string(rune('a' + i%26))
		if i >= 26 {
			sk = sk + string(rune('a'+i-26))
		}
		members = append(members, sk)

		batch := store.NewBatch()
		var err error
		root, err = tr.Insert(ctx, batch, root, MakeKey("m.room.member", sk), "$ev"+sk+":example.org")
		require.NoError(t, err)
		require.NoError(t, store.Commit(ctx, batch))
	}

	count, err := tr.Count(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, 33, count)

	var lastKey *Key
	err = tr.ForEach(ctx, root, nil, func(k Key, v string) (bool, error) {
		if lastKey != nil {
			assert.True(t, lastKey.Compare(k) < 0, "keys must be strictly ascending")
		}
		kk := k
		lastKey = &kk
		return true, nil
	})
	require.NoError(t, err)

	for _, sk := range members {
		v, err := tr.Get(ctx, root, MakeKey("m.room.member", sk))
		require.NoError(t, err)
		assert.Equal(t, "$ev"+sk+":example.org", v)
	}
}

func TestTreeSplitAndPromoteSmallFanout(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	tr := NewWithMaxKey(store, 3)

	root := ""
	for _, sk := range []string{"A", "B", "C", "D", "E"} {
		batch := store.NewBatch()
		var err error
		root, err = tr.Insert(ctx, batch, root, MakeKey("m.room.member", sk), "$"+sk)
		require.NoError(t, err)
		require.NoError(t, store.Commit(ctx, batch))
	}

	count, err := tr.Count(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	rootNode, err := tr.loadNode(ctx, root)
	require.NoError(t, err)
	assert.False(t, rootNode.isLeaf(), "5 keys at maxKey=3 must have split the original leaf and grown a root")

	var keys []string
	err = tr.ForEach(ctx, root, nil, func(k Key, v string) (bool, error) {
		keys = append(keys, k.StateKey)
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C", "D", "E"}, keys)
}

func TestTreeOverwriteExistingKey(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	tr := New(store)

	batch := store.NewBatch()
	root, err := tr.Insert(ctx, batch, "", MakeKey("m.room.name", ""), "$first:example.org")
	require.NoError(t, err)
	require.NoError(t, store.Commit(ctx, batch))

	batch = store.NewBatch()
	root, err = tr.Insert(ctx, batch, root, MakeKey("m.room.name", ""), "$second:example.org")
	require.NoError(t, err)
	require.NoError(t, store.Commit(ctx, batch))

	v, err := tr.Get(ctx, root, MakeKey("m.room.name", ""))
	require.NoError(t, err)
	assert.Equal(t, "$second:example.org", v)

	count, err := tr.Count(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestTreeForEachTypeFilter(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	tr := New(store)

	root := ""
	inserts := []struct{ typ, sk, val string }{
		{"m.room.create", "", "$create"},
		{"m.room.member", "@a:example.org", "$a"},
		{"m.room.member", "@b:example.org", "$b"},
		{"m.room.power_levels", "", "$pl"},
	}
	for _, in := range inserts {
		batch := store.NewBatch()
		var err error
		root, err = tr.Insert(ctx, batch, root, MakeKey(in.typ, in.sk), in.val)
		require.NoError(t, err)
		require.NoError(t, store.Commit(ctx, batch))
	}

	filter := "m.room.member"
	var vals []string
	err := tr.ForEach(ctx, root, &filter, func(k Key, v string) (bool, error) {
		vals = append(vals, v)
		return true, nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"$a", "$b"}, vals)
}

func TestTreeGetMissingKey(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	tr := New(store)

	batch := store.NewBatch()
	root, err := tr.Insert(ctx, batch, "", MakeKey("m.room.create", ""), "$create")
	require.NoError(t, err)
	require.NoError(t, store.Commit(ctx, batch))

	_, err = tr.Get(ctx, root, MakeKey("m.room.topic", ""))
	assert.Error(t, err)
}
