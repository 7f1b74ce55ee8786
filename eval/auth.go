package eval

import (
	"context"
	"encoding/json"

	"github.com/TurBoss/construct"
	"github.com/TurBoss/construct/eventindex"
	"github.com/TurBoss/construct/state"
	"github.com/tidwall/gjson"
)

// AuthEventResolver fetches the indexed column row of a previously
// admitted event by id, for use while authorizing a new one. false is
// returned for an id the index has never seen.
type AuthEventResolver func(ctx context.Context, eventID string) (eventindex.Row, bool, error)

// Authorizer applies room-version authorization predicates to an event
// given the resolved state it depends on. The predicates themselves are
// opaque to the core, delegated to an auth module; the
// pipeline's only obligation is to call one.
type Authorizer interface {
	Authorize(ctx context.Context, ev *construct.Event, resolve AuthEventResolver, authState map[state.Key]string) error
}

// AuthEventsRequired lists the (type, state_key) auth events the room
// version's rules need resolved before ev can be authorized, following
// the standard Matrix auth-events rule: create, power_levels, join_rules
// for every non-create event, plus the membership events of the sender
// and (for m.room.member events) the target.
func AuthEventsRequired(ev *construct.Event) []state.Key {
	if ev.Type() == construct.MRoomCreate {
		return nil
	}
	keys := []state.Key{
		state.MakeKey(construct.MRoomCreate, ""),
		state.MakeKey(construct.MRoomPowerLevels, ""),
		state.MakeKey(construct.MRoomJoinRules, ""),
		state.MakeKey(construct.MRoomMember, ev.Sender()),
	}
	if ev.Type() == construct.MRoomMember {
		if sk := ev.StateKey(); sk != nil && *sk != ev.Sender() {
			keys = append(keys, state.MakeKey(construct.MRoomMember, *sk))
		}
	}
	return keys
}

// DefaultAuthorizer is a minimal, self-contained implementation of the
// Matrix membership/power-level rules sufficient to admit a room's
// lifecycle (create, join, invite, leave, ban, state changes gated by
// power level). It is intentionally the simplest predicate set that
// satisfies the invariants named in the spec, not a full reimplementation
// of every room-version auth rule; callers with stricter requirements
// supply their own Authorizer.
type DefaultAuthorizer struct{}

type powerLevelsContent struct {
	Ban           *int64           `json:"ban"`
	Kick          *int64           `json:"kick"`
	Redact        *int64           `json:"redact"`
	StateDefault  *int64           `json:"state_default"`
	EventsDefault *int64           `json:"events_default"`
	UsersDefault  *int64           `json:"users_default"`
	Events        map[string]int64 `json:"events"`
	Users         map[string]int64 `json:"users"`
}

func defaultPowerLevels() powerLevelsContent {
	zero := int64(0)
	fifty := int64(50)
	return powerLevelsContent{
		Ban: &fifty, Kick: &fifty, Redact: &fifty,
		StateDefault: &fifty, EventsDefault: &zero, UsersDefault: &zero,
	}
}

func (DefaultAuthorizer) Authorize(ctx context.Context, ev *construct.Event, resolve AuthEventResolver, authState map[state.Key]string) error {
	if ev.Type() == construct.MRoomCreate {
		if _, exists := authState[state.MakeKey(construct.MRoomCreate, "")]; exists {
			return construct.AuthFailedError{Reason: "room already has a create event"}
		}
		return nil
	}

	createID, ok := authState[state.MakeKey(construct.MRoomCreate, "")]
	if !ok {
		return construct.AuthFailedError{Reason: "no m.room.create in room state"}
	}
	createRow, found, err := resolve(ctx, createID)
	if err != nil {
		return err
	}
	if !found {
		return construct.AuthFailedError{Reason: "room create event not indexed"}
	}
	creator := gjson.GetBytes(createRow[eventindex.ColContent], "creator").String()

	pl := defaultPowerLevels()
	if plID, exists := authState[state.MakeKey(construct.MRoomPowerLevels, "")]; exists {
		if row, found, err := resolve(ctx, plID); err != nil {
			return err
		} else if found && len(row[eventindex.ColContent]) > 0 {
			_ = json.Unmarshal(row[eventindex.ColContent], &pl)
		}
	}

	senderLevel := levelOf(pl, ev.Sender())

	if ev.Type() == construct.MRoomMember {
		return authorizeMembership(ctx, ev, resolve, authState, creator, pl, senderLevel)
	}

	required := *pl.StateDefault
	if ev.StateKey() == nil {
		required = *pl.EventsDefault
	}
	if lvl, ok := pl.Events[ev.Type()]; ok {
		required = lvl
	}
	if senderLevel < required {
		return construct.AuthFailedError{Reason: "sender power level too low for " + ev.Type()}
	}
	return nil
}

func authorizeMembership(ctx context.Context, ev *construct.Event, resolve AuthEventResolver, authState map[state.Key]string, creator string, pl powerLevelsContent, senderLevel int64) error {
	target := ""
	if sk := ev.StateKey(); sk != nil {
		target = *sk
	}
	membership, err := ev.Membership()
	if err != nil {
		return construct.AuthFailedError{Reason: "invalid membership content"}
	}

	priorTargetMembership := membershipOf(ctx, resolve, authState, target)
	joinRule := "invite"
	if jrID, exists := authState[state.MakeKey(construct.MRoomJoinRules, "")]; exists {
		if row, found, err := resolve(ctx, jrID); err == nil && found {
			if jr := gjson.GetBytes(row[eventindex.ColContent], "join_rule").String(); jr != "" {
				joinRule = jr
			}
		}
	}

	switch membership {
	case "join":
		if ev.Sender() != target {
			return construct.AuthFailedError{Reason: "join event sender must equal target"}
		}
		if target == creator && priorTargetMembership == "" {
			return nil
		}
		if joinRule == "public" {
			return nil
		}
		if priorTargetMembership == "invite" || priorTargetMembership == "join" {
			return nil
		}
		return construct.AuthFailedError{Reason: "join not permitted by join_rule"}
	case "invite":
		senderMembership := membershipOf(ctx, resolve, authState, ev.Sender())
		if senderMembership != "join" {
			return construct.AuthFailedError{Reason: "inviter is not joined"}
		}
		if priorTargetMembership == "join" || priorTargetMembership == "ban" {
			return construct.AuthFailedError{Reason: "cannot invite an already-joined or banned user"}
		}
		return nil
	case "leave":
		if ev.Sender() == target {
			return nil
		}
		if senderLevel < *pl.Kick {
			return construct.AuthFailedError{Reason: "sender power level too low to kick"}
		}
		return nil
	case "ban":
		if senderLevel < *pl.Ban {
			return construct.AuthFailedError{Reason: "sender power level too low to ban"}
		}
		return nil
	default:
		return construct.AuthFailedError{Reason: "unrecognised membership value " + membership}
	}
}

func membershipOf(ctx context.Context, resolve AuthEventResolver, authState map[state.Key]string, user string) string {
	id, exists := authState[state.MakeKey(construct.MRoomMember, user)]
	if !exists {
		return ""
	}
	row, found, err := resolve(ctx, id)
	if err != nil || !found {
		return ""
	}
	return gjson.GetBytes(row[eventindex.ColContent], "membership").String()
}

func levelOf(pl powerLevelsContent, user string) int64 {
	if lvl, ok := pl.Users[user]; ok {
		return lvl
	}
	return *pl.UsersDefault
}
