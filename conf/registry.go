// Package conf implements the config-item registry described by
// modules/s_conf.cc: named, typed configuration values that live as
// "ircd.conf.item" state events in a well-known "!conf" room, with a
// YAML file supplying bootstrap defaults before that room has ever been
// read (e.g. on a brand-new server with an empty state tree).
package conf

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"sync"

	"github.com/TurBoss/construct"
	"github.com/TurBoss/construct/eval"
	"github.com/TurBoss/construct/eventindex"
	"github.com/TurBoss/construct/state"
	"gopkg.in/yaml.v3"
)

// ItemType constrains the value a conf item can hold. Matching the
// original's conf::item<> template, a Registry is homogeneous per item
// name but heterogeneous across names.
type ItemType int

const (
	TypeString ItemType = iota
	TypeInt
	TypeBool
)

// itemTypeName is the event type this registry persists every item
// under, mirroring modules/s_conf.cc's literal "ircd.conf.item".
const itemTypeName = "ircd.conf.item"

// Item is one named, typed configuration value along with its current
// resolved value (room state if present, else bootstrap default).
type Item struct {
	Name    string
	Type    ItemType
	Default string
	Value   string
}

// Registry holds every registered conf item and resolves their live
// values against the !conf room's current state tree, following
// set_conf_item/get_conf_item/rehash_conf from modules/s_conf.cc.
type Registry struct {
	mu      sync.RWMutex
	items   map[string]*Item
	roomID  string
	tree    *state.Tree
	pipe    *eval.Pipeline
	onInit  []func(*Item)
}

// New constructs a Registry bound to roomID, the server's !conf room
// (conf_room_id in the original: room id "conf" on the local host).
func New(roomID string, tree *state.Tree, pipe *eval.Pipeline) *Registry {
	return &Registry{items: make(map[string]*Item), roomID: roomID, tree: tree, pipe: pipe}
}

// Register adds a named conf item with its default; it is a no-op to
// call twice with the same name and default (idempotent module reload,
// matching conf::on_init's re-entrant init_conf_item).
func (r *Registry) Register(name string, typ ItemType, def string) *Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.items[name]; ok {
		return existing
	}
	item := &Item{Name: name, Type: typ, Default: def, Value: def}
	r.items[name] = item
	for _, fn := range r.onInit {
		fn(item)
	}
	return item
}

// OnInit arms fn to run against every item already registered, and every
// item registered from now on — the Go equivalent of conf::on_init.
func (r *Registry) OnInit(fn func(*Item)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onInit = append(r.onInit, fn)
	for _, item := range r.items {
		fn(item)
	}
}

// LoadYAML layers bootstrap overrides from a YAML file on top of
// registered defaults, for items the !conf room has not yet recorded a
// value for. It is not an error for path to not exist: a fresh server has
// no bootstrap file.
func (r *Registry) LoadYAML(path string) error {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var overrides map[string]string
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, val := range overrides {
		if item, ok := r.items[name]; ok {
			item.Value = val
		}
	}
	return nil
}

// Rehash re-reads every registered item's value from the !conf room's
// current state, falling back to the bootstrap/registered default for
// any item the room has no event for yet (rehash_conf in the original).
func (r *Registry) Rehash(ctx context.Context) error {
	root, err := r.pipe.RoomHead(ctx, r.roomID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, item := range r.items {
		eventID, err := r.tree.Get(ctx, root, state.MakeKey(itemTypeName, name))
		if err != nil {
			if _, notFound := err.(construct.NotFoundError); notFound {
				continue
			}
			return err
		}
		row, found, err := r.resolve(ctx, eventID)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		var content struct {
			Value string `json:"value"`
		}
		if err := json.Unmarshal(row, &content); err != nil {
			continue
		}
		item.Value = content.Value
	}
	return nil
}

func (r *Registry) resolve(ctx context.Context, eventID string) ([]byte, bool, error) {
	idx, err := r.pipe.Index.Lookup(ctx, eventID)
	if err != nil {
		return nil, false, err
	}
	if idx == 0 {
		return nil, false, nil
	}
	row, err := r.pipe.Index.Seek(ctx, idx)
	if err != nil {
		return nil, false, err
	}
	content := row[eventindex.ColContent]
	return content, len(content) > 0, nil
}

// Get returns the current resolved value of name and whether it is
// registered at all.
func (r *Registry) Get(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[name]
	if !ok {
		return "", false
	}
	return item.Value, true
}

// Names returns every registered item name, sorted, for diagnostics.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.items))
	for name := range r.items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildSetEvent constructs the builder for an "ircd.conf.item" event that
// would set name to val, mirroring set_conf_item; the caller signs and
// runs it through the eval pipeline like any other state event.
func BuildSetEvent(roomID, sender, name, val string) construct.EventBuilder {
	eb := construct.EventBuilder{
		Sender:   sender,
		RoomID:   roomID,
		Type:     itemTypeName,
		StateKey: &name,
	}
	_ = eb.SetContent(map[string]string{"value": val})
	return eb
}
