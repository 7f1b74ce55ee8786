// Package construct implements the event model, canonical serialization and
// conformance rules of a Matrix homeserver core: the parts of the system
// shared by every other component (state tree, event index, evaluation
// pipeline, scheduler, federation collectives) regardless of transport.
package construct

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ServerName is the DNS name (plus optional port) of a homeserver, as it
// appears after the ':' in any Matrix identifier.
type ServerName string

// KeyID names one of a server's signing keys, e.g. "ed25519:a_1".
type KeyID string

// Timestamp is a unix time in milliseconds, as used by origin_server_ts.
type Timestamp int64

// AsTimestamp converts a time.Time to a millisecond-resolution Timestamp.
func AsTimestamp(t time.Time) Timestamp {
	return Timestamp(t.UnixNano() / int64(time.Millisecond))
}

// Time converts a Timestamp back to a time.Time.
func (t Timestamp) Time() time.Time {
	return time.Unix(0, int64(t)*int64(time.Millisecond))
}

// RawJSON is a byte slice that marshals and unmarshals as a literal,
// unprocessed JSON fragment. It is a value-type reimplementation of
// json.RawMessage so it can be embedded in structs without becoming a
// pointer receiver requirement.
type RawJSON []byte

// MarshalJSON implements json.Marshaler using a value receiver so that
// RawJSON embedded by value still encodes correctly.
func (r RawJSON) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return []byte(r), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *RawJSON) UnmarshalJSON(data []byte) error {
	*r = append((*r)[0:0], data...)
	return nil
}

// Base64String is a byte slice that is serialized as unpadded
// standard-alphabet base64, the encoding Matrix uses for hashes and
// signatures.
type Base64String []byte

// MarshalJSON implements json.Marshaler.
func (s Base64String) MarshalJSON() ([]byte, error) {
	return json.Marshal(base64.RawStdEncoding.EncodeToString(s))
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Base64String) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	// Matrix servers disagree on padding; accept both.
	str = strings.TrimRight(str, "=")
	decoded, err := base64.RawStdEncoding.DecodeString(str)
	if err != nil {
		return err
	}
	*s = decoded
	return nil
}

func (s Base64String) String() string {
	return base64.RawStdEncoding.EncodeToString(s)
}

// MemberContent is the typed view of the content of an m.room.member event.
type MemberContent struct {
	Membership  string  `json:"membership"`
	DisplayName *string `json:"displayname,omitempty"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
	Reason      *string `json:"reason,omitempty"`
}

// Well-known event types referenced by the conformance checker, the state
// tree construction rules and the essential-projection whitelist.
const (
	MRoomCreate            = "m.room.create"
	MRoomMember            = "m.room.member"
	MRoomAliases           = "m.room.aliases"
	MRoomJoinRules         = "m.room.join_rules"
	MRoomPowerLevels       = "m.room.power_levels"
	MRoomHistoryVisibility = "m.room.history_visibility"
	MRoomRedaction         = "m.room.redaction"
)

// SplitID splits a sigil-prefixed matrix ID ("@user:example.org") into its
// local part and domain. Returns an error if the sigil or separator is
// missing.
func SplitID(sigil byte, id string) (local string, domain ServerName, err error) {
	if len(id) == 0 || id[0] != sigil {
		return "", "", fmt.Errorf("construct: invalid ID %q doesn't start with %q", id, sigil)
	}
	parts := strings.SplitN(id, ":", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("construct: invalid ID %q missing ':'", id)
	}
	return parts[0][1:], ServerName(parts[1]), nil
}

// domainFromID returns the domain component of any sigil-prefixed ID
// without validating the sigil.
func domainFromID(id string) (ServerName, error) {
	parts := strings.SplitN(id, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("construct: invalid ID %q missing ':'", id)
	}
	return ServerName(parts[1]), nil
}
