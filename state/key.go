// Package state implements the C5 persistent state B-tree: a
// content-addressed, copy-on-write map from (type, state_key) to
// event_id, keyed per room. Every insert produces a new root without
// mutating any node reachable from an older root, so historical roots
// remain valid keys into the same store forever.
package state

// Key is a state tree key: a (type, state_key) pair. The empty
// string is a legitimate state_key ("" is the room's own m.room.create,
// m.room.power_levels, etc. state_key), so Key is a plain struct rather
// than a single delimited string.
type Key struct {
	Type     string
	StateKey string
}

// MakeKey builds a Key from an event type and state key, mirroring the
// original's make_key(type, state_key).
func MakeKey(eventType, stateKey string) Key {
	return Key{Type: eventType, StateKey: stateKey}
}

// Compare returns -1, 0, or 1 as k is lexicographically less than, equal
// to, or greater than other, ordering first by Type then by StateKey.
func (k Key) Compare(other Key) int {
	if k.Type != other.Type {
		if k.Type < other.Type {
			return -1
		}
		return 1
	}
	if k.StateKey != other.StateKey {
		if k.StateKey < other.StateKey {
			return -1
		}
		return 1
	}
	return 0
}

// PrefixEq reports whether a and b share the same Type — the bound
// for_each uses to iterate every state_key under one event type.
func PrefixEq(a, b Key) bool { return a.Type == b.Type }
