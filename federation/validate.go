package federation

import (
	"bytes"
	"encoding/json"
)

// IsWellFormed reports whether a payload looks like a JSON document: after
// trimming whitespace it must be non-empty and enclosed in a matching
// {...} or [...] pair. Deep parsing is left to the solver.
func IsWellFormed(payload []byte) bool {
	p := bytes.TrimSpace(payload)
	if len(p) < 2 {
		return false
	}
	first, last := p[0], p[len(p)-1]
	return (first == '{' && last == '}') || (first == '[' && last == ']')
}

// IsErrorEnvelope reports whether a payload is a status envelope flagged
// as an error, e.g. {"error":true,"statusCode":404,...}.
func IsErrorEnvelope(payload []byte) bool {
	var head struct {
		Error *bool `json:"error"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return false
	}
	return head.Error != nil && *head.Error
}

// unwrapData returns the value of a top-level "data" field when the payload
// is an object carrying one, and the payload itself otherwise.
func unwrapData(payload json.RawMessage) json.RawMessage {
	p := bytes.TrimSpace(payload)
	if len(p) == 0 || p[0] != '{' {
		return payload
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(p, &fields); err != nil {
		return payload
	}
	if data, ok := fields["data"]; ok {
		return data
	}
	return payload
}
