package construct

import "encoding/json"

// EssentialProjection computes the type-specific minimal view of an event
// used for signing and signature verification. It strips "hashes"
// and "signatures" and replaces "content" with a whitelist of the fields
// that affect authorization; all other content is discarded. The
// whitelist is a closed per-type table — this is deliberately narrower
// than a general-purpose client redaction algorithm because this core
// has no client-facing redaction display concern, only the
// signing/authorization one the spec names.
func EssentialProjection(eventJSON []byte, eventType string) ([]byte, error) {
	type createContent struct {
		Creator RawJSON `json:"creator,omitempty"`
	}
	type joinRulesContent struct {
		JoinRule RawJSON `json:"join_rule,omitempty"`
	}
	type powerLevelContent struct {
		Users         RawJSON `json:"users,omitempty"`
		UsersDefault  RawJSON `json:"users_default,omitempty"`
		Events        RawJSON `json:"events,omitempty"`
		EventsDefault RawJSON `json:"events_default,omitempty"`
		StateDefault  RawJSON `json:"state_default,omitempty"`
		Ban           RawJSON `json:"ban,omitempty"`
		Kick          RawJSON `json:"kick,omitempty"`
		Redact        RawJSON `json:"redact,omitempty"`
	}
	type memberContent struct {
		Membership RawJSON `json:"membership,omitempty"`
	}
	type aliasesContent struct {
		Aliases RawJSON `json:"aliases,omitempty"`
	}
	type historyVisibilityContent struct {
		HistoryVisibility RawJSON `json:"history_visibility,omitempty"`
	}
	type allContent struct {
		createContent
		joinRulesContent
		powerLevelContent
		memberContent
		aliasesContent
		historyVisibilityContent
	}
	type eventFields struct {
		EventID        RawJSON    `json:"event_id,omitempty"`
		Sender         RawJSON    `json:"sender,omitempty"`
		RoomID         RawJSON    `json:"room_id,omitempty"`
		Content        allContent `json:"content"`
		Type           string     `json:"type"`
		StateKey       RawJSON    `json:"state_key,omitempty"`
		Depth          RawJSON    `json:"depth,omitempty"`
		PrevEvents     RawJSON    `json:"prev_events,omitempty"`
		PrevState      RawJSON    `json:"prev_state,omitempty"`
		AuthEvents     RawJSON    `json:"auth_events,omitempty"`
		Origin         RawJSON    `json:"origin,omitempty"`
		OriginServerTS RawJSON    `json:"origin_server_ts,omitempty"`
	}

	var event eventFields
	if err := json.Unmarshal(eventJSON, &event); err != nil {
		return nil, SchemaError{Err: err}
	}

	var newContent allContent
	switch eventType {
	case MRoomCreate:
		newContent.createContent = event.Content.createContent
	case MRoomMember:
		newContent.memberContent = event.Content.memberContent
	case MRoomJoinRules:
		newContent.joinRulesContent = event.Content.joinRulesContent
	case MRoomPowerLevels:
		newContent.powerLevelContent = event.Content.powerLevelContent
	case MRoomHistoryVisibility:
		newContent.historyVisibilityContent = event.Content.historyVisibilityContent
	case MRoomAliases:
		newContent.aliasesContent = event.Content.aliasesContent
	case MRoomRedaction:
		// content -> {} and "redacts" is dropped entirely (it is not in
		// eventFields above, so omitting it here is automatic).
	default:
		// content -> {}
	}
	event.Content = newContent

	out, err := json.Marshal(&event)
	if err != nil {
		return nil, err
	}
	return CanonicalJSON(out)
}
