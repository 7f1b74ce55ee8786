package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/TurBoss/construct"
	"github.com/TurBoss/construct/kv"
)

// DefaultNodeMaxKey is the fan-out upper bound (NODE_MAX_KEY) used when a
// Tree is constructed with New rather than NewWithMaxKey. Kept small
// relative to a disk B-tree's usual few hundred because state tree
// values are short (event ids) and the dominant cost is node hashing and
// round trips, not key comparisons.
const DefaultNodeMaxKey = 64

// MaxHeight bounds recursion depth; exceeding it indicates tree
// corruption rather than a legitimate deep room, and is a hard fault (a
// panic), not a recoverable error.
const MaxHeight = 64

var nodeKeyPrefix = []byte("state/node/")

func nodeStoreKey(id string) []byte {
	return append(append([]byte(nil), nodeKeyPrefix...), id...)
}

// Tree is a functional, content-addressed B-tree over a kv.Store. A Tree
// value carries no root of its own — every operation takes the root
// node-id explicitly, so the same Tree serves every room and every
// historical generation of every room's state simultaneously.
type Tree struct {
	store  kv.Store
	maxKey int
}

// New constructs a Tree with DefaultNodeMaxKey fan-out.
func New(store kv.Store) *Tree {
	return &Tree{store: store, maxKey: DefaultNodeMaxKey}
}

// NewWithMaxKey constructs a Tree with an explicit fan-out bound, chiefly
// for tests that need to force splits with a small number of insertions
// (small fanouts are useful in tests, e.g. NODE_MAX_KEY=3).
func NewWithMaxKey(store kv.Store, maxKey int) *Tree {
	if maxKey < 1 {
		panic("state: maxKey must be >= 1")
	}
	return &Tree{store: store, maxKey: maxKey}
}

func (t *Tree) loadNode(ctx context.Context, id string) (*node, error) {
	raw, ok, err := t.store.Get(ctx, nodeStoreKey(id))
	if err != nil {
		return nil, construct.StorageError{Err: err}
	}
	if !ok {
		return nil, construct.NotFoundError{What: fmt.Sprintf("state node %q", id)}
	}
	var w wireNode
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, construct.SchemaError{Err: err}
	}
	return nodeFromWire(w), nil
}

func (t *Tree) writeNode(batch kv.Batch, n *node) (string, error) {
	if err := n.validate(t.maxKey); err != nil {
		return "", err
	}
	id, canonical, err := nodeID(n)
	if err != nil {
		return "", err
	}
	batch.Put(nodeStoreKey(id), canonical)
	return id, nil
}

// lowerBound returns the first index i such that key <= n.keys[i], or
// len(n.keys) if key is greater than every key in the node.
func lowerBound(n *node, key Key) int {
	return sort.Search(len(n.keys), func(i int) bool { return key.Compare(n.keys[i]) <= 0 })
}

// Get performs a recursive descent from root for key, returning its
// value (an event_id) or a NotFoundError.
func (t *Tree) Get(ctx context.Context, root string, key Key) (string, error) {
	return t.get(ctx, root, key, 0)
}

func (t *Tree) get(ctx context.Context, id string, key Key, depth int) (string, error) {
	if depth > MaxHeight {
		panic("state: MAX_HEIGHT exceeded during get")
	}
	if id == "" {
		return "", construct.NotFoundError{What: "state key (empty tree)"}
	}
	n, err := t.loadNode(ctx, id)
	if err != nil {
		return "", err
	}
	pos := lowerBound(n, key)
	if pos < len(n.keys) && key.Compare(n.keys[pos]) == 0 {
		return n.vals[pos], nil
	}
	if n.isLeaf() {
		return "", construct.NotFoundError{What: "state key"}
	}
	childIdx := pos
	if childIdx >= len(n.chld) {
		childIdx = len(n.chld) - 1
	}
	return t.get(ctx, n.chld[childIdx], key, depth+1)
}

// pushUp is the promoted (key, value) and the two node-ids either side
// of it, returned by a child that just split.
type pushUp struct {
	key        Key
	value      string
	left, right string
}

// Insert produces a new root reflecting key -> value on top of rootIn,
// staging every newly-created node into batch. The caller commits batch
// (and typically, in the same commit, the event's column-store row and
// any event_idx/room-head bookkeeping) atomically.
func (t *Tree) Insert(ctx context.Context, batch kv.Batch, rootIn string, key Key, value string) (rootOut string, err error) {
	newRoot, push, err := t.insert(ctx, batch, rootIn, key, value, 0)
	if err != nil {
		return "", err
	}
	if push == nil {
		return newRoot, nil
	}
	// The recursion reached the root and still has a promotion to place:
	// the tree grows one level.
	root := &node{
		keys: []Key{push.key},
		vals: []string{push.value},
		chld: []string{push.left, push.right},
	}
	return t.writeNode(batch, root)
}

func (t *Tree) insert(ctx context.Context, batch kv.Batch, id string, key Key, value string, depth int) (string, *pushUp, error) {
	if depth > MaxHeight {
		panic("state: MAX_HEIGHT exceeded during insert")
	}

	if id == "" {
		leaf := &node{keys: []Key{key}, vals: []string{value}}
		newID, err := t.writeNode(batch, leaf)
		return newID, nil, err
	}

	n, err := t.loadNode(ctx, id)
	if err != nil {
		return "", nil, err
	}

	pos := lowerBound(n, key)

	if pos < len(n.keys) && key.Compare(n.keys[pos]) == 0 {
		n.vals[pos] = value
		newID, err := t.writeNode(batch, n)
		return newID, nil, err
	}

	if n.isLeaf() {
		if len(n.keys) < t.maxKey {
			n.keys = insertKeyAt(n.keys, pos, key)
			n.vals = insertStringAt(n.vals, pos, value)
			newID, err := t.writeNode(batch, n)
			return newID, nil, err
		}
		// Full leaf: shift-insert then split at the midpoint, returning
		// the promoted key to the caller rather than writing this node.
		keys := insertKeyAt(n.keys, pos, key)
		vals := insertStringAt(n.vals, pos, value)
		mid := (len(keys)) / 2

		leftID, err := t.writeNode(batch, &node{keys: keys[:mid], vals: vals[:mid]})
		if err != nil {
			return "", nil, err
		}
		rightID, err := t.writeNode(batch, &node{keys: keys[mid+1:], vals: vals[mid+1:]})
		if err != nil {
			return "", nil, err
		}
		return "", &pushUp{key: keys[mid], value: vals[mid], left: leftID, right: rightID}, nil
	}

	// Branch: recurse into the appropriate child.
	childIdx := pos
	if childIdx >= len(n.chld) {
		childIdx = len(n.chld) - 1
	}
	newChildID, childPush, err := t.insert(ctx, batch, n.chld[childIdx], key, value, depth+1)
	if err != nil {
		return "", nil, err
	}

	if childPush == nil {
		n.chld[childIdx] = newChildID
		newID, err := t.writeNode(batch, n)
		return newID, nil, err
	}

	// Merge the child's promotion into this node at childIdx.
	keys := insertKeyAt(n.keys, childIdx, childPush.key)
	vals := insertStringAt(n.vals, childIdx, childPush.value)
	chld := append([]string(nil), n.chld...)
	chld[childIdx] = childPush.left
	chld = insertStringAt(chld, childIdx+1, childPush.right)

	if len(keys) <= t.maxKey {
		newID, err := t.writeNode(batch, &node{keys: keys, vals: vals, chld: chld})
		return newID, nil, err
	}

	// Full branch: split keys, vals and children around the midpoint.
	mid := len(keys) / 2
	leftID, err := t.writeNode(batch, &node{keys: keys[:mid], vals: vals[:mid], chld: chld[:mid+1]})
	if err != nil {
		return "", nil, err
	}
	rightID, err := t.writeNode(batch, &node{keys: keys[mid+1:], vals: vals[mid+1:], chld: chld[mid+1:]})
	if err != nil {
		return "", nil, err
	}
	return "", &pushUp{key: keys[mid], value: vals[mid], left: leftID, right: rightID}, nil
}

func insertKeyAt(s []Key, i int, v Key) []Key {
	out := make([]Key, len(s)+1)
	copy(out, s[:i])
	out[i] = v
	copy(out[i+1:], s[i:])
	return out
}

func insertStringAt(s []string, i int, v string) []string {
	out := make([]string, len(s)+1)
	copy(out, s[:i])
	out[i] = v
	copy(out[i+1:], s[i:])
	return out
}

// ForEach performs an in-order DFS from root, calling fn for every
// (key, event_id) pair in ascending key order. If typeFilter is non-nil,
// only keys with a matching Type are visited, and the walk stops as soon
// as a subtree is known to be entirely past the filtered range
// (a key whose type sorts after the filter ends the walk; keys whose
// type sorts before it are skipped).
func (t *Tree) ForEach(ctx context.Context, root string, typeFilter *string, fn func(Key, string) (bool, error)) error {
	if root == "" {
		return nil
	}
	_, err := t.forEach(ctx, root, typeFilter, fn, 0)
	return err
}

// forEach returns (more, err): more is false once fn has asked to stop,
// so callers up the recursion can unwind without visiting the rest of
// the tree.
func (t *Tree) forEach(ctx context.Context, id string, typeFilter *string, fn func(Key, string) (bool, error), depth int) (bool, error) {
	if depth > MaxHeight {
		panic("state: MAX_HEIGHT exceeded during for_each")
	}
	n, err := t.loadNode(ctx, id)
	if err != nil {
		return false, err
	}
	for i, k := range n.keys {
		if !n.isLeaf() {
			more, err := t.forEach(ctx, n.chld[i], typeFilter, fn, depth+1)
			if err != nil || !more {
				return more, err
			}
		}
		if typeFilter == nil || k.Type == *typeFilter {
			more, err := fn(k, n.vals[i])
			if err != nil || !more {
				return more, err
			}
		} else if typeFilter != nil && k.Type > *typeFilter {
			// Keys only increase from here on; nothing further can match.
			return false, nil
		}
	}
	if !n.isLeaf() {
		return t.forEach(ctx, n.chld[len(n.chld)-1], typeFilter, fn, depth+1)
	}
	return true, nil
}

// Count walks the entire tree rooted at root and returns the number of
// keys it holds.
func (t *Tree) Count(ctx context.Context, root string) (int, error) {
	if root == "" {
		return 0, nil
	}
	count := 0
	err := t.ForEach(ctx, root, nil, func(Key, string) (bool, error) {
		count++
		return true, nil
	})
	return count, err
}
