package federation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/TurBoss/construct"
	"golang.org/x/sync/errgroup"
)

// BackfillRequester contains the necessary functions to perform backfill
// requests from one server to another.
type BackfillRequester interface {
	// ServersAtEvent is called when trying to determine which server to request from.
	// It returns a list of servers which can be queried for backfill requests. These servers
	// will be servers that are in the room already. The entries at the beginning are preferred servers
	// and will be tried first. An empty list will fail the request.
	ServersAtEvent(ctx context.Context, roomID, eventID string) []construct.ServerName
	// Backfill performs a backfill request to the given server.
	Backfill(ctx context.Context, server construct.ServerName, roomID string, fromEventIDs []string, limit int) (*Transaction, error)
	// StateIDs performs a state IDs request to the given server.
	StateIDs(ctx context.Context, server construct.ServerName, roomID, eventID string) (*RespStateIDs, error)
	// EventAuth performs an event auth request to the given server.
	EventAuth(ctx context.Context, server construct.ServerName, roomID, eventID string) (*RespEventAuth, error)
}

// RequestBackfill implements the server logic for making backfill requests
// to other servers. This handles server selection, fetching up to the
// request limit and verifying the received events. Event validation also
// includes hash and signature checks; authorization is left to the
// caller's eval pipeline once the events reach it.
//
// The returned events are safe to be inserted into a database for later
// retrieval. It's possible for the number of returned events to be less
// than the limit, even if there exist more events. It's also possible for
// the number of returned events to be greater than the limit, if
// fromEventIDs > 1 and we need to ask multiple servers; events greater
// than the limit are not dropped since the work to verify them is already
// done.
func RequestBackfill(ctx context.Context, b BackfillRequester, keyRing construct.JSONVerifier,
	roomID string, ver construct.RoomVersion, fromEventIDs []string, limit int) ([]construct.HeaderedEvent, error) {

	if len(fromEventIDs) == 0 {
		return nil, nil
	}

	servers := b.ServersAtEvent(ctx, roomID, fromEventIDs[0])

	var mu sync.Mutex
	haveEventIDs := make(map[string]bool)
	var result []construct.HeaderedEvent

	// Try servers one at a time, stopping once the limit is satisfied;
	// this is a sequential fallback collective rather than a parallel
	// fan-out, since each server is tried only to make up a shortfall
	// left by the one before it.
	for _, s := range servers {
		mu.Lock()
		haveEnough := len(result) >= limit
		mu.Unlock()
		if haveEnough {
			break
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("federation: RequestBackfill context cancelled %w", ctx.Err())
		}

		txn, err := b.Backfill(ctx, s, roomID, fromEventIDs, limit)
		if err != nil {
			continue // try the next server
		}
		headered, err := verifiedEventsFromTransaction(ctx, txn, ver, keyRing)
		if err != nil {
			continue // try the next server
		}
		for _, h := range headered {
			id := h.EventID()
			mu.Lock()
			already := haveEventIDs[id]
			if !already {
				haveEventIDs[id] = true
				result = append(result, h)
			}
			mu.Unlock()
		}
	}

	return result, nil
}

// verifiedEventsFromTransaction returns only the verified events from the
// provided transaction, dropping the rest.
func verifiedEventsFromTransaction(ctx context.Context, txn *Transaction, ver construct.RoomVersion, keyRing construct.JSONVerifier) ([]construct.HeaderedEvent, error) {
	var events []construct.Event
	for _, p := range txn.PDUs {
		event, err := construct.NewEventFromUntrustedJSON(p, ver)
		if err != nil {
			continue // skip over bad events
		}
		events = append(events, event)
	}
	failures, err := construct.VerifyEventSignatures(ctx, events, keyRing)
	if err != nil {
		return nil, err
	}
	if len(failures) != len(events) {
		return nil, fmt.Errorf("federation: bulk event signature verification length mismatch: %d != %d", len(failures), len(events))
	}
	var headered []construct.HeaderedEvent
	for i := range events {
		if eventErr := failures[i]; eventErr != nil {
			continue // skip over bad events, we'll fetch them from somewhere else
		}
		headered = append(headered, events[i].Headered(ver))
	}

	return headered, nil
}

// Collective is the C8 fan-out primitive: given the origins the caller
// has enumerated for a room, it issues the same request against each
// concurrently with a per-request timeout, and aggregates every result
// (or error) once all have returned. It generalizes
// the sequential server-at-a-time pattern in RequestBackfill to the case
// where the caller wants every origin's answer rather than the first
// that succeeds (e.g. polling for join readiness, or a best-effort
// broadcast).
type Collective struct {
	// PerRequestTimeout bounds a single origin's request.
	PerRequestTimeout time.Duration
	// AggregateTimeout bounds the whole fan-out: once it expires, the
	// context of every outstanding request is cancelled. Stragglers are
	// not abandoned; Fetch still waits for each call to return and keeps
	// its result, so a call that ignores its context delays Fetch.
	AggregateTimeout time.Duration
}

// CollectiveResult pairs one origin with the outcome of calling it.
type CollectiveResult struct {
	Origin construct.ServerName
	Value  interface{}
	Err    error
}

// Fetch runs fn once per origin in origins, concurrently, each under
// PerRequestTimeout, and returns once every call has returned. Calls
// still running when AggregateTimeout elapses see their context
// cancelled.
func (c Collective) Fetch(
	ctx context.Context,
	origins []construct.ServerName,
	fn func(ctx context.Context, origin construct.ServerName) (interface{}, error),
) []CollectiveResult {
	aggCtx := ctx
	var cancel context.CancelFunc
	if c.AggregateTimeout > 0 {
		aggCtx, cancel = context.WithTimeout(ctx, c.AggregateTimeout)
		defer cancel()
	}

	results := make([]CollectiveResult, len(origins))
	g, gctx := errgroup.WithContext(aggCtx)
	// errgroup's WithContext cancels gctx on the first error; the
	// collective wants every result, errors included, so each goroutine
	// derives its own per-request timeout from aggCtx directly instead
	// of gctx, and always returns nil to errgroup so siblings keep
	// running to completion or aggregate-deadline, whichever is first.
	_ = gctx
	for i, origin := range origins {
		i, origin := i, origin
		g.Go(func() error {
			reqCtx := aggCtx
			var reqCancel context.CancelFunc
			if c.PerRequestTimeout > 0 {
				reqCtx, reqCancel = context.WithTimeout(aggCtx, c.PerRequestTimeout)
				defer reqCancel()
			}
			value, err := fn(reqCtx, origin)
			results[i] = CollectiveResult{Origin: origin, Value: value, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
