package state

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/TurBoss/construct"
)

// node is the in-memory working representation of a tree node: parallel
// keys/vals slices plus an optional chld slice. len(chld) is 0 for a pure
// leaf or len(keys)+1 for a full-arity branch — there is no partial
// branch shape.
type node struct {
	keys []Key
	vals []string
	chld []string
}

func (n *node) isLeaf() bool { return len(n.chld) == 0 }

// wireKey is a key's JSON wire shape: a 2-element array [type, state_key].
type wireKey [2]string

func (k Key) toWire() wireKey { return wireKey{k.Type, k.StateKey} }

func keyFromWire(w wireKey) Key { return Key{Type: w[0], StateKey: w[1]} }

// wireNode is a node's persisted JSON shape: {k, v, c}.
type wireNode struct {
	K []wireKey `json:"k"`
	V []string  `json:"v"`
	C []string  `json:"c,omitempty"`
}

func (n *node) toWire() wireNode {
	w := wireNode{K: make([]wireKey, len(n.keys)), V: n.vals}
	for i, k := range n.keys {
		w.K[i] = k.toWire()
	}
	if len(n.chld) > 0 {
		w.C = n.chld
	}
	return w
}

func nodeFromWire(w wireNode) *node {
	n := &node{keys: make([]Key, len(w.K)), vals: w.V, chld: w.C}
	for i, k := range w.K {
		n.keys[i] = keyFromWire(k)
	}
	return n
}

// nodeID computes a node's content address: base64-unpadded(sha256(node))
// over its canonical JSON form. Any mutation of keys/vals/chld
// necessarily changes this id.
func nodeID(n *node) (string, []byte, error) {
	raw, err := json.Marshal(n.toWire())
	if err != nil {
		return "", nil, err
	}
	canonical, err := construct.CanonicalJSON(raw)
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(canonical)
	id := construct.Base64String(sum[:]).String()
	return id, canonical, nil
}

// validate checks the node-rep invariants the original enforces at
// rewrite time: kn==vn is structural here (parallel slices), cn is 0 or
// kn+1, no duplicate children, keys strictly ordered.
func (n *node) validate(maxKey int) error {
	if len(n.keys) != len(n.vals) {
		return fmt.Errorf("state: node key/value count mismatch: %d != %d", len(n.keys), len(n.vals))
	}
	if len(n.keys) == 0 || len(n.keys) > maxKey {
		return fmt.Errorf("state: node key count %d out of range [1,%d]", len(n.keys), maxKey)
	}
	if len(n.chld) != 0 && len(n.chld) != len(n.keys)+1 {
		return fmt.Errorf("state: node child count %d != 0 and != %d", len(n.chld), len(n.keys)+1)
	}
	seen := make(map[string]bool, len(n.chld))
	for _, c := range n.chld {
		if seen[c] {
			return fmt.Errorf("state: duplicate child id %q", c)
		}
		seen[c] = true
	}
	for i := 1; i < len(n.keys); i++ {
		if n.keys[i-1].Compare(n.keys[i]) >= 0 {
			return fmt.Errorf("state: node keys not strictly ordered at index %d", i)
		}
	}
	return nil
}
