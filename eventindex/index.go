// Package eventindex implements C4, the event index and column store: the
// bijection between an event_id and a dense, monotonically-assigned
// event_idx, plus per-field columns keyed by event_idx so a reader can
// fetch selected fields of many events with one batched read rather than
// re-parsing full event JSON.
package eventindex

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"sync"

	"github.com/TurBoss/construct"
	"github.com/TurBoss/construct/kv"
)

// Column names the per-field tables a row can be seeked against. Both
// PutColumns and Seek work over allColumns: a column not listed there is
// neither written nor read.
type Column string

const (
	ColType           Column = "type"
	ColRoomID         Column = "room_id"
	ColSender         Column = "sender"
	ColContent        Column = "content"
	ColStateKey       Column = "state_key"
	ColOriginServerTS Column = "origin_server_ts"
)

var allColumns = []Column{ColType, ColRoomID, ColSender, ColContent, ColStateKey, ColOriginServerTS}

var (
	idxKeyPrefix    = []byte("eventindex/idx/")   // event_id -> event_idx (8 bytes LE)
	nextIdxStoreKey = []byte("eventindex/counter")
)

func idxKey(eventID string) []byte {
	return append(append([]byte(nil), idxKeyPrefix...), eventID...)
}

func columnKey(col Column, idx uint64) []byte {
	k := make([]byte, 0, len(col)+1+8)
	k = append(k, []byte(col)...)
	k = append(k, '/')
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], idx)
	return append(k, buf[:]...)
}

func encodeIdx(idx uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], idx)
	return buf[:]
}

func decodeIdx(b []byte) uint64 {
	return binary.LittleEndian.Uint64(b)
}

// Row is the set of column values fetched by Seek, keyed by Column.
// Missing columns (not present for that event) are simply absent from
// the map — per the admission guarantee, a reader either observes no
// fields or all expected fields for an event_idx, never a partial row.
type Row map[Column]construct.RawJSON

// Index is the event_id <-> event_idx bijection and column store, backed
// by a kv.Store. The in-memory counter mutex only serializes the
// allocation of the next event_idx within this process; the actual
// counter value is persisted in the same KV store so a restart resumes
// from the correct point.
type Index struct {
	store kv.Store
	mu    sync.Mutex
}

// New wraps store as an Index.
func New(store kv.Store) *Index {
	return &Index{store: store}
}

// Lookup returns the event_idx assigned to eventID, or 0 if it has never
// been admitted (I3's "0 means absent").
func (x *Index) Lookup(ctx context.Context, eventID string) (uint64, error) {
	raw, ok, err := x.store.Get(ctx, idxKey(eventID))
	if err != nil {
		return 0, construct.StorageError{Err: err}
	}
	if !ok {
		return 0, nil
	}
	return decodeIdx(raw), nil
}

// AssignNextIdx returns the event_idx for eventID, allocating a fresh one
// via batch if this is the first admission. Idempotent for duplicates:
// calling it twice for the same event_id returns the same idx both
// times and only stages a counter increment on the first call.
func (x *Index) AssignNextIdx(ctx context.Context, batch kv.Batch, eventID string) (idx uint64, assigned bool, err error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if existing, err := x.Lookup(ctx, eventID); err != nil {
		return 0, false, err
	} else if existing != 0 {
		return existing, false, nil
	}

	counterRaw, ok, err := x.store.Get(ctx, nextIdxStoreKey)
	if err != nil {
		return 0, false, construct.StorageError{Err: err}
	}
	var next uint64 = 1
	if ok {
		next = decodeIdx(counterRaw) + 1
	}

	batch.Put(nextIdxStoreKey, encodeIdx(next))
	batch.Put(idxKey(eventID), encodeIdx(next))
	return next, true, nil
}

// PutColumns stages every column of row for idx into batch. Called once
// per admission so that, per the atomicity guarantee, every column for
// an event_idx lands in the same KV batch as its event_idx assignment
// and state tree advance.
func (x *Index) PutColumns(batch kv.Batch, idx uint64, row Row) {
	for _, col := range allColumns {
		v, ok := row[col]
		if !ok {
			continue
		}
		batch.Put(columnKey(col, idx), v)
	}
}

// RowFromEvent builds the column Row for an admitted event. Unset string
// fields (e.g. a non-state event's state_key) are simply omitted.
func RowFromEvent(ev *construct.Event) Row {
	row := Row{
		ColType:           jsonRaw(ev.Type()),
		ColRoomID:         jsonRaw(ev.RoomID()),
		ColSender:         jsonRaw(ev.Sender()),
		ColOriginServerTS: jsonRaw(int64(ev.OriginServerTS())),
	}
	if ev.Content() != nil {
		row[ColContent] = construct.RawJSON(ev.Content())
	}
	if sk := ev.StateKey(); sk != nil {
		row[ColStateKey] = jsonRaw(*sk)
	}
	return row
}

func jsonRaw(v interface{}) construct.RawJSON {
	b, err := json.Marshal(v)
	if err != nil {
		return construct.RawJSON("null")
	}
	return construct.RawJSON(b)
}

// Seek fills a Row of every known column for idx from one batched set of
// point reads. A column absent from the returned Row means that event
// never had it set (e.g. ColStateKey on a non-state event), not a
// storage fault.
func (x *Index) Seek(ctx context.Context, idx uint64) (Row, error) {
	row := make(Row, len(allColumns))
	for _, col := range allColumns {
		v, ok, err := x.store.Get(ctx, columnKey(col, idx))
		if err != nil {
			return nil, construct.StorageError{Err: err}
		}
		if ok {
			row[col] = construct.RawJSON(v)
		}
	}
	return row, nil
}

// Prefetch issues a batched read-ahead of the given columns across every
// idx in idxs, returning the assembled rows in the same order. Real
// suspending prefetch (faulting through the scheduler while the KV
// collaborator serves the reads asynchronously) is modeled here by
// sched.Future-returning callers wrapping this call; Prefetch itself is
// synchronous because kv.Store's Get is synchronous, the same
// simplification the state tree makes over its KV collaborator.
func (x *Index) Prefetch(ctx context.Context, idxs []uint64, cols []Column) ([]Row, error) {
	rows := make([]Row, len(idxs))
	for i, idx := range idxs {
		row := make(Row, len(cols))
		for _, col := range cols {
			v, ok, err := x.store.Get(ctx, columnKey(col, idx))
			if err != nil {
				return nil, construct.StorageError{Err: err}
			}
			if ok {
				row[col] = construct.RawJSON(v)
			}
		}
		rows[i] = row
	}
	return rows, nil
}
