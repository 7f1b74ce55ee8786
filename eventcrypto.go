package construct

import (
	"crypto/sha256"
	"encoding/json"

	"github.com/mr-tron/base58"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// contentHash computes the SHA-256 digest of an event's canonical form
// with "hashes", "signatures" and "unsigned" removed. Build calls it
// twice: once before "event_id" is set, to derive the event_id
// (base58-encoded), and once after, for the digest stored (base64) under
// hashes.sha256. The stored digest therefore covers the event_id and
// differs from the one encoded in it.
func contentHash(eventJSON []byte) ([32]byte, error) {
	stripped, err := sjson.DeleteBytes(eventJSON, "hashes")
	if err != nil {
		return [32]byte{}, err
	}
	stripped, err = sjson.DeleteBytes(stripped, "signatures")
	if err != nil {
		return [32]byte{}, err
	}
	stripped, err = sjson.DeleteBytes(stripped, "unsigned")
	if err != nil {
		return [32]byte{}, err
	}
	canonical, err := CanonicalJSON(stripped)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(canonical), nil
}

// addContentHashToEvent sets the "hashes" key of the event to the
// base64-unpadded SHA-256 of its own canonical content.
func addContentHashToEvent(eventJSON []byte) ([]byte, error) {
	hash, err := contentHash(eventJSON)
	if err != nil {
		return nil, err
	}
	hashesJSON, err := json.Marshal(struct {
		Sha256 Base64String `json:"sha256"`
	}{hash[:]})
	if err != nil {
		return nil, err
	}
	return sjson.SetRawBytes(eventJSON, "hashes", hashesJSON)
}

// checkEventContentHash verifies the event's stored hashes.sha256
// equals the digest recomputed over its own canonical content.
func checkEventContentHash(eventJSON []byte, eventID string) error {
	var stored struct {
		Hashes struct {
			Sha256 Base64String `json:"sha256"`
		} `json:"hashes"`
	}
	if err := json.Unmarshal(eventJSON, &stored); err != nil {
		return SchemaError{Err: err}
	}
	hash, err := contentHash(eventJSON)
	if err != nil {
		return err
	}
	if string(stored.Hashes.Sha256) != string(Base64String(hash[:])) {
		return HashMismatchError{EventID: eventID}
	}
	return nil
}

// CheckEventHash verifies the content hash for an already-parsed event: its stored
// hashes.sha256 must equal the digest recomputed over its own canonical
// content. This is the exported entry point evaluation pipelines outside
// this package use for C6 step 3.
func CheckEventHash(e *Event) error {
	return checkEventContentHash(e.eventJSON, e.EventID())
}

// eventIDFromContentHash renders the sigil-prefixed, base58-encoded event
// identifier: "$<base58(sha256(event_without_hashes_and_
// signatures))>:<origin>".
func eventIDFromContentHash(hash [32]byte, origin ServerName) string {
	return "$" + base58.Encode(hash[:]) + ":" + string(origin)
}

// signEvent adds an ed25519 signature over the event's essential
// projection, so the signature remains valid even if non-essential
// content is later stripped.
func signEvent(signingName string, keyID KeyID, privateKey []byte, eventJSON []byte, eventType string) ([]byte, error) {
	essential, err := EssentialProjection(eventJSON, eventType)
	if err != nil {
		return nil, err
	}
	signedEssential, err := SignJSON(signingName, keyID, privateKey, essential)
	if err != nil {
		return nil, err
	}

	// Copy only the new signature across so that signatures already on
	// the event are kept.
	path := "signatures." + gjsonEscape(signingName) + "." + gjsonEscape(string(keyID))
	return sjson.SetBytes(eventJSON, path, gjson.GetBytes(signedEssential, path).String())
}

// withEventSignatures copies the event's "signatures" object onto its
// essential projection, which drops it, so that VerifyJSON can find the
// signatures to check.
func withEventSignatures(essential, eventJSON []byte) ([]byte, error) {
	sigs := gjson.GetBytes(eventJSON, "signatures")
	if !sigs.Exists() {
		return essential, nil
	}
	return sjson.SetRawBytes(essential, "signatures", []byte(sigs.Raw))
}

// verifyEventSignature checks a single ed25519 signature over the
// event's essential projection.
func verifyEventSignature(signingName string, keyID KeyID, publicKey []byte, eventJSON []byte, eventType string) error {
	essential, err := EssentialProjection(eventJSON, eventType)
	if err != nil {
		return err
	}
	if essential, err = withEventSignatures(essential, eventJSON); err != nil {
		return err
	}
	return VerifyJSON(signingName, keyID, publicKey, essential)
}
