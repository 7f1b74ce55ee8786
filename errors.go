package construct

import "fmt"

// SchemaError indicates malformed JSON or a missing required field.
type SchemaError struct {
	Err error
}

func (e SchemaError) Error() string { return fmt.Sprintf("construct: schema error: %v", e.Err) }
func (e SchemaError) Unwrap() error { return e.Err }

// ConformanceError indicates CheckConforms returned a non-empty bitset
// after the caller's skip mask was applied.
type ConformanceError struct {
	EventID  string
	Conforms Conforms
}

func (e ConformanceError) Error() string {
	return fmt.Sprintf("construct: event %q failed conformance: %s", e.EventID, e.Conforms)
}

// HashMismatchError indicates the content hash check failed: the recomputed content
// hash does not match the event's stored hashes.sha256.
type HashMismatchError struct {
	EventID string
}

func (e HashMismatchError) Error() string {
	return fmt.Sprintf("construct: hash mismatch for event %q", e.EventID)
}

// SignatureError indicates no signature from the event's origin verified.
type SignatureError struct {
	Origin ServerName
	Reason string
}

func (e SignatureError) Error() string {
	return fmt.Sprintf("construct: no valid signature from %q: %s", e.Origin, e.Reason)
}

// NotFoundError indicates an event, event_idx, state key or node was
// absent.
type NotFoundError struct {
	What string
}

func (e NotFoundError) Error() string { return fmt.Sprintf("construct: not found: %s", e.What) }

// AlreadyExistsError is the benign, idempotent outcome of re-admitting an
// event that already has an event_idx.
type AlreadyExistsError struct {
	EventID string
}

func (e AlreadyExistsError) Error() string {
	return fmt.Sprintf("construct: event %q already indexed", e.EventID)
}

// StorageError wraps a transient failure from the KV collaborator.
type StorageError struct {
	Err error
}

func (e StorageError) Error() string { return fmt.Sprintf("construct: storage error: %v", e.Err) }
func (e StorageError) Unwrap() error { return e.Err }

// AuthFailedError indicates the room-version authorization predicates
// rejected the event.
type AuthFailedError struct {
	Reason string
}

func (e AuthFailedError) Error() string { return fmt.Sprintf("construct: auth failed: %s", e.Reason) }
