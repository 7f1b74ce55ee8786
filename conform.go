package construct

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// Conforms is a bitset over the closed enumeration of structural defects
// C3 checks for. A zero Conforms (after any skip mask is applied) means
// the event is clean.
type Conforms uint32

// The closed enumeration of conformance defects. Bit order matches the
// enumeration order so a skip mask built from these constants composes
// by OR.
const (
	InvalidOrMissingEventID Conforms = 1 << iota
	InvalidOrMissingRoomID
	InvalidOrMissingSenderID
	MissingType
	MissingOrigin
	InvalidOrigin
	InvalidOrMissingRedactsID
	MissingMembership
	InvalidMembership
	MissingContentMembership
	InvalidContentMembership
	MissingPrevEvents
	MissingPrevState
	DepthNegative
	DepthZero
	MissingSignatures
	MissingOriginSignature
	MismatchOriginSender
	MismatchOriginEventID
	SelfRedacts
	SelfPrevEvent
	SelfPrevState
	DupPrevEvent
	DupPrevState
)

var conformsNames = map[Conforms]string{
	InvalidOrMissingEventID:  "INVALID_OR_MISSING_EVENT_ID",
	InvalidOrMissingRoomID:   "INVALID_OR_MISSING_ROOM_ID",
	InvalidOrMissingSenderID: "INVALID_OR_MISSING_SENDER_ID",
	MissingType:              "MISSING_TYPE",
	MissingOrigin:            "MISSING_ORIGIN",
	InvalidOrigin:            "INVALID_ORIGIN",
	InvalidOrMissingRedactsID: "INVALID_OR_MISSING_REDACTS_ID",
	MissingMembership:         "MISSING_MEMBERSHIP",
	InvalidMembership:         "INVALID_MEMBERSHIP",
	MissingContentMembership:  "MISSING_CONTENT_MEMBERSHIP",
	InvalidContentMembership:  "INVALID_CONTENT_MEMBERSHIP",
	MissingPrevEvents:         "MISSING_PREV_EVENTS",
	MissingPrevState:          "MISSING_PREV_STATE",
	DepthNegative:             "DEPTH_NEGATIVE",
	DepthZero:                 "DEPTH_ZERO",
	MissingSignatures:         "MISSING_SIGNATURES",
	MissingOriginSignature:    "MISSING_ORIGIN_SIGNATURE",
	MismatchOriginSender:      "MISMATCH_ORIGIN_SENDER",
	MismatchOriginEventID:     "MISMATCH_ORIGIN_EVENT_ID",
	SelfRedacts:               "SELF_REDACTS",
	SelfPrevEvent:             "SELF_PREV_EVENT",
	SelfPrevState:             "SELF_PREV_STATE",
	DupPrevEvent:              "DUP_PREV_EVENT",
	DupPrevState:              "DUP_PREV_STATE",
}

// String renders the set bits as a '|'-joined list of defect names, for
// logging and M_* error translation.
func (c Conforms) String() string {
	if c == 0 {
		return "CLEAN"
	}
	var names []string
	for bit := Conforms(1); bit != 0 && bit <= DupPrevState; bit <<= 1 {
		if c&bit != 0 {
			names = append(names, conformsNames[bit])
		}
	}
	return strings.Join(names, "|")
}

// Has reports whether every bit in mask is set in c.
func (c Conforms) Has(mask Conforms) bool { return c&mask == mask }

// Clean reports whether no defects remain.
func (c Conforms) Clean() bool { return c == 0 }

// CheckConforms evaluates every defect in the C3 enumeration against the
// event and returns the residual bitset after applying skip. Pass skip=0
// to check everything.
func CheckConforms(e *Event, skip Conforms) Conforms {
	var c Conforms

	eventID := safeEventID(e)
	if !validSigilID(eventID, '$') {
		c |= InvalidOrMissingEventID
	}

	roomID := safeRoomID(e)
	if !validSigilID(roomID, '!') {
		c |= InvalidOrMissingRoomID
	}

	sender := safeSender(e)
	if !validSigilID(sender, '@') {
		c |= InvalidOrMissingSenderID
	}

	eventType := e.Type()
	if eventType == "" {
		c |= MissingType
	}

	origin := string(e.Origin())
	if origin == "" {
		c |= MissingOrigin
	} else if _, err := domainFromID("x:" + origin); err != nil || strings.Contains(origin, "/") {
		c |= InvalidOrigin
	}

	isCreate := eventType == MRoomCreate

	if eventType == MRoomRedaction {
		redacts := e.Redacts()
		if !validSigilID(redacts, '$') {
			c |= InvalidOrMissingRedactsID
		} else if redacts == eventID {
			c |= SelfRedacts
		}
	}

	if eventType == MRoomMember {
		membership, err := e.Membership()
		if err != nil || membership == "" {
			c |= MissingMembership
		} else if !lowerAlpha(membership) {
			c |= InvalidMembership
		}
		if !hasContentField(e, "membership") {
			c |= MissingContentMembership
		} else if m, _ := e.Membership(); m != "" && !lowerAlpha(m) {
			c |= InvalidContentMembership
		}
	}

	prevEvents := e.PrevEventIDs()
	if !isCreate && len(prevEvents) == 0 {
		c |= MissingPrevEvents
	}
	if seenDuplicate(prevEvents) {
		c |= DupPrevEvent
	}
	for _, id := range prevEvents {
		if id == eventID {
			c |= SelfPrevEvent
			break
		}
	}

	if stateKey := e.StateKey(); stateKey != nil && !isCreate {
		prevState := prevStateIDs(e)
		if prevState == nil {
			c |= MissingPrevState
		} else {
			if seenDuplicate(prevState) {
				c |= DupPrevState
			}
			for _, id := range prevState {
				if id == eventID {
					c |= SelfPrevState
					break
				}
			}
		}
	}

	depth := e.Depth()
	if depth < 0 {
		c |= DepthNegative
	} else if depth == 0 && !isCreate {
		c |= DepthZero
	}

	keyIDs := e.KeyIDs(origin)
	if len(keyIDs) == 0 && !hasAnySignature(e) {
		c |= MissingSignatures
	} else if len(keyIDs) == 0 {
		c |= MissingOriginSignature
	}

	if sender != "" && origin != "" {
		if _, senderDomain, err := SplitID('@', sender); err == nil && string(senderDomain) != origin && eventType != MRoomMember {
			c |= MismatchOriginSender
		}
	}
	if eventID != "" && origin != "" {
		if domain, err := domainFromID(eventID); err == nil && string(domain) != origin {
			c |= MismatchOriginEventID
		}
	}

	return c &^ skip
}

func safeEventID(e *Event) (id string) {
	defer func() { recover() }()
	return e.EventID()
}

func safeRoomID(e *Event) (id string) {
	defer func() { recover() }()
	return e.RoomID()
}

func safeSender(e *Event) (id string) {
	defer func() { recover() }()
	return e.Sender()
}

func validSigilID(id string, sigil byte) bool {
	if len(id) < 2 || id[0] != sigil {
		return false
	}
	_, _, err := SplitID(sigil, id)
	return err == nil
}

func lowerAlpha(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}

func hasContentField(e *Event, field string) bool {
	return gjsonHas(e.Content(), field)
}

func seenDuplicate(ids []string) bool {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return true
		}
		seen[id] = true
	}
	return false
}

// prevStateIDs extracts the legacy prev_state key's event IDs, if present,
// regardless of event format.
func prevStateIDs(e *Event) []string {
	raw := gjsonRaw(e.JSON(), "prev_state")
	if raw == "" || raw == "null" {
		return nil
	}
	var refs []EventReference
	if err := jsonUnmarshalTolerant(raw, &refs); err == nil {
		ids := make([]string, 0, len(refs))
		for _, r := range refs {
			ids = append(ids, r.EventID)
		}
		return ids
	}
	var ids []string
	if err := jsonUnmarshalTolerant(raw, &ids); err == nil {
		return ids
	}
	return nil
}

func hasAnySignature(e *Event) bool {
	sigs := gjson.GetBytes(e.JSON(), "signatures")
	if !sigs.Exists() || !sigs.IsObject() {
		return false
	}
	any := false
	sigs.ForEach(func(_, _ gjson.Result) bool {
		any = true
		return false
	})
	return any
}

// gjsonHas reports whether field is present (and non-null) in raw JSON.
func gjsonHas(raw []byte, field string) bool {
	res := gjson.GetBytes(raw, field)
	return res.Exists() && res.Type != gjson.Null
}

// gjsonRaw returns the raw JSON text at path, or "" if absent.
func gjsonRaw(raw []byte, path string) string {
	res := gjson.GetBytes(raw, path)
	if !res.Exists() {
		return ""
	}
	return res.Raw
}

// jsonUnmarshalTolerant unmarshals raw (a JSON fragment's literal text)
// into v, returning an error rather than panicking on a shape mismatch.
func jsonUnmarshalTolerant(raw string, v interface{}) error {
	return json.Unmarshal([]byte(raw), v)
}
