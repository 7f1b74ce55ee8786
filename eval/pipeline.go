// Package eval implements C6, the admission pipeline that composes
// conformance checking, hash and signature verification, duplicate
// detection, authorization and the atomic commit that indexes an event
// and advances its room's state root.
package eval

import (
	"context"
	"encoding/binary"

	"github.com/TurBoss/construct"
	"github.com/TurBoss/construct/eventindex"
	"github.com/TurBoss/construct/kv"
	"github.com/TurBoss/construct/state"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	roomHeadPrefix = []byte("eval/room_head/")
	idxHeadPrefix  = []byte("eval/idx_head/")
)

func roomHeadKey(roomID string) []byte {
	return append(append([]byte(nil), roomHeadPrefix...), roomID...)
}

func idxHeadKey(idx uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], idx)
	return append(append([]byte(nil), idxHeadPrefix...), buf[:]...)
}

// Outcome is the terminal result of a successful Eval call; rejection is
// reported as an error instead; see CheckFields/ConformanceError/
// HashMismatchError/SignatureError/AuthFailedError.
type Outcome int

const (
	// Accepted means the event was newly admitted and the room's state
	// root (if it is a state event) has advanced.
	Accepted Outcome = iota
	// AlreadyPresent means the event_id was already indexed; admission
	// is idempotent, so this is not an error.
	AlreadyPresent
)

func (o Outcome) String() string {
	if o == AlreadyPresent {
		return "already_present"
	}
	return "accepted"
}

// Options tunes a single Eval call.
type Options struct {
	// SkipConformance is ORed into CheckConforms' skip mask, e.g. to
	// admit a send_join event that legitimately omits prev_state and
	// membership per the federation send_join contract.
	SkipConformance construct.Conforms
}

// Pipeline is the C6 admission pipeline: one instance is shared by every
// room, serializing nothing itself — callers are responsible for the
// per-room write serialization this requires (a per-room logical mutex
// taken before Eval and held until it returns, since Eval reads the room
// head and later commits a new one).
type Pipeline struct {
	Store      kv.Store
	Index      *eventindex.Index
	Tree       *state.Tree
	Verifier   construct.JSONVerifier
	Authorizer Authorizer
	Log        *logrus.Entry
}

// New builds a Pipeline with a DefaultAuthorizer. If log is nil it uses
// a fresh logrus logger, which writes to stderr at info level.
func New(store kv.Store, index *eventindex.Index, tree *state.Tree, verifier construct.JSONVerifier, log *logrus.Entry) *Pipeline {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	return &Pipeline{
		Store:      store,
		Index:      index,
		Tree:       tree,
		Verifier:   verifier,
		Authorizer: DefaultAuthorizer{},
		Log:        log,
	}
}

// RoomHead returns the current state root for roomID, or "" if the room
// has no accepted state events yet.
func (p *Pipeline) RoomHead(ctx context.Context, roomID string) (string, error) {
	raw, ok, err := p.Store.Get(ctx, roomHeadKey(roomID))
	if err != nil {
		return "", construct.StorageError{Err: err}
	}
	if !ok {
		return "", nil
	}
	return string(raw), nil
}

func (p *Pipeline) resolve(ctx context.Context) AuthEventResolver {
	return func(ctx context.Context, eventID string) (eventindex.Row, bool, error) {
		idx, err := p.Index.Lookup(ctx, eventID)
		if err != nil {
			return nil, false, err
		}
		if idx == 0 {
			return nil, false, nil
		}
		row, err := p.Index.Seek(ctx, idx)
		if err != nil {
			return nil, false, err
		}
		return row, true, nil
	}
}

// Eval runs the full admission pipeline against an already-parsed,
// already-signed event.
func (p *Pipeline) Eval(ctx context.Context, ev *construct.Event, opts Options) (Outcome, error) {
	eventID := ev.EventID()
	// tx_id correlates every log line for this admission with the single
	// KV batch it commits through: each admission commits exactly one
	// transaction.
	log := p.Log.WithFields(logrus.Fields{"event_id": eventID, "tx_id": uuid.New().String()})

	if conforms := construct.CheckConforms(ev, opts.SkipConformance); conforms != 0 {
		log.WithField("conforms", conforms.String()).Warn("event failed conformance")
		return 0, construct.ConformanceError{EventID: eventID, Conforms: conforms}
	}

	if err := construct.CheckEventHash(ev); err != nil {
		log.WithError(err).Warn("event failed hash check")
		return 0, err
	}

	if p.Verifier != nil {
		errs, err := construct.VerifyEventSignatures(ctx, []construct.Event{*ev}, p.Verifier)
		if err != nil {
			return 0, err
		}
		if errs[0] != nil {
			log.WithError(errs[0]).Warn("event failed signature check")
			return 0, errs[0]
		}
	}

	existingIdx, err := p.Index.Lookup(ctx, eventID)
	if err != nil {
		return 0, err
	}
	if existingIdx != 0 {
		log.Debug("event already indexed")
		return AlreadyPresent, nil
	}

	root, err := p.RoomHead(ctx, ev.RoomID())
	if err != nil {
		return 0, err
	}

	if p.Authorizer != nil {
		authState, err := p.resolveAuthState(ctx, root, ev)
		if err != nil {
			return 0, err
		}
		if err := p.Authorizer.Authorize(ctx, ev, p.resolve(ctx), authState); err != nil {
			log.WithError(err).Warn("event failed authorization")
			return 0, err
		}
	}

	batch := p.Store.NewBatch()
	idx, _, err := p.Index.AssignNextIdx(ctx, batch, eventID)
	if err != nil {
		return 0, err
	}
	p.Index.PutColumns(batch, idx, eventindex.RowFromEvent(ev))

	newRoot := root
	if sk := ev.StateKey(); sk != nil {
		newRoot, err = p.Tree.Insert(ctx, batch, root, state.MakeKey(ev.Type(), *sk), eventID)
		if err != nil {
			return 0, err
		}
		batch.Put(roomHeadKey(ev.RoomID()), []byte(newRoot))
	}
	batch.Put(idxHeadKey(idx), []byte(newRoot))

	if err := p.Store.Commit(ctx, batch); err != nil {
		return 0, construct.StorageError{Err: err}
	}

	log.WithFields(logrus.Fields{"event_idx": idx, "room_head": newRoot}).Info("event admitted")
	return Accepted, nil
}

// resolveAuthState looks up, within the room's current state tree, every
// auth event AuthEventsRequired names for ev, returning the subset that
// actually exists in state.
func (p *Pipeline) resolveAuthState(ctx context.Context, root string, ev *construct.Event) (map[state.Key]string, error) {
	authState := make(map[state.Key]string)
	for _, key := range AuthEventsRequired(ev) {
		id, err := p.Tree.Get(ctx, root, key)
		if err != nil {
			if _, notFound := err.(construct.NotFoundError); notFound {
				continue
			}
			return nil, err
		}
		authState[key] = id
	}
	return authState, nil
}
