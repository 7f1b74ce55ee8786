package construct

import (
	"bytes"
	"encoding/json"
)

// CanonicalJSON re-encodes a JSON object with sorted keys and no
// insignificant whitespace, as required before hashing or signing an
// event (C1). It validates the input is well-formed JSON and returns a
// SchemaError if not.
//
// Go's encoding/json already marshals map keys in sorted order and emits
// minimal whitespace, so canonicalization is "decode into a
// order-preserving-safe representation, then re-encode". The one thing
// the naive round trip gets wrong is numbers: unmarshaling into
// interface{} turns every number into float64, which can both lose
// integer precision above 2^53 and reformat with an exponent. We decode
// with UseNumber so that json.Number (the original decimal text) is
// preserved, then re-encode it byte-for-byte via a thin Marshaler.
func CanonicalJSON(input []byte) ([]byte, error) {
	decoded, err := decodeCanonical(input)
	if err != nil {
		return nil, SchemaError{Err: err}
	}
	return encodeCanonical(decoded)
}

// CanonicalJSONAssumeValid behaves like CanonicalJSON but panics on
// malformed input instead of returning an error. Used on internal data
// that has already round-tripped through the JSON decoder at least once,
// e.g. immediately after sjson/gjson mutation of a value we built
// ourselves.
func CanonicalJSONAssumeValid(input []byte) []byte {
	out, err := CanonicalJSON(input)
	if err != nil {
		panic("construct: CanonicalJSONAssumeValid given invalid JSON: " + err.Error())
	}
	return out
}

func decodeCanonical(input []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(input))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func encodeCanonical(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(canonicalValue(v)); err != nil {
		return nil, err
	}
	// json.Encoder.Encode always appends a trailing newline; strip it to
	// get the minimal form.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// canonicalValue wraps json.Number so the standard encoder reproduces its
// original decimal text instead of reformatting through float64, and
// leaves maps/slices alone (encoding/json already sorts map[string]any
// keys on encode).
func canonicalValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = canonicalValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = canonicalValue(val)
		}
		return out
	case json.Number:
		return jsonNumber(t)
	default:
		return v
	}
}

// jsonNumber marshals as the exact text the decoder saw, which is already
// the minimal decimal/integer representation for any well-formed JSON
// document without a forced exponent.
type jsonNumber json.Number

func (n jsonNumber) MarshalJSON() ([]byte, error) {
	return []byte(n), nil
}
