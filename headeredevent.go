package construct

import (
	"encoding/json"
)

// EventHeader carries the out-of-band room version that tells a receiver
// how to interpret an event's prev_events/auth_events wire shape.
type EventHeader struct {
	RoomVersion RoomVersion `json:"room_version"`
}

// HeaderedEvent pairs an Event with the room version needed to parse and
// re-derive it, for contexts (storage, federation transactions) where the
// two would otherwise travel separately.
type HeaderedEvent struct {
	EventHeader
	Event
}

// UnmarshalJSON implements json.Unmarshaler. The room version is read
// first so the embedded Event can be parsed with the correct
// prev_events/auth_events shape.
func (e *HeaderedEvent) UnmarshalJSON(data []byte) error {
	var header EventHeader
	if err := json.Unmarshal(data, &header); err != nil {
		return err
	}
	if _, err := header.RoomVersion.EventFormat(); err != nil {
		return err
	}
	event, err := NewEventFromTrustedJSON(data, false, header.RoomVersion)
	if err != nil {
		return err
	}
	e.EventHeader = header
	e.Event = event
	return nil
}

// MarshalJSON implements json.Marshaler, emitting the event's own JSON
// unchanged (room_version is carried out of band by callers that need it,
// matching how the event's own bytes never include it).
func (e HeaderedEvent) MarshalJSON() ([]byte, error) {
	return e.Event.MarshalJSON()
}
