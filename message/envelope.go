// Package message defines the status envelope shared by every gateway
// response, local or relayed from a neighbour:
//
//	{"error":false,"message":[{...},{...}]}
//	{"error":true,"statusCode":503,"statusCodeReason":"Service unavailable. ...","message":[]}
package message

import (
	"encoding/json"
	"fmt"

	"github.com/vicinityh2020/vicinity-gateway-api-sub001/errors"
)

// Envelope is the status message wrapping every response body
type Envelope struct {
	Error            bool              `json:"error"`
	StatusCode       int               `json:"statusCode,omitempty"`
	StatusCodeReason string            `json:"statusCodeReason,omitempty"`
	Message          []json.RawMessage `json:"message"`
}

// NewSuccess builds the success envelope for a list of result rows.
// A nil or empty list yields "message":[].
func NewSuccess[M ~map[string]string](rows []M) *Envelope {
	items := make([]json.RawMessage, 0, len(rows))
	for _, row := range rows {
		// map[string]string always marshals
		data, _ := json.Marshal(map[string]string(row))
		items = append(items, data)
	}
	return &Envelope{Message: items}
}

// NewValue builds a success envelope carrying a single raw JSON value
func NewValue(value json.RawMessage) *Envelope {
	return &Envelope{Message: []json.RawMessage{value}}
}

// NewError builds an error envelope. The detail is appended to the reason
// phrase registered for the code.
func NewError(code int, detail string) *Envelope {
	return &Envelope{
		Error:            true,
		StatusCode:       code,
		StatusCodeReason: Reason(code) + detail,
		Message:          []json.RawMessage{},
	}
}

// ServiceUnavailable builds the 503 envelope returned when the local node
// cannot serve a request at all.
func ServiceUnavailable(detail string) *Envelope {
	return NewError(CodeServiceUnavailable, detail)
}

// First returns the first message item
func (e *Envelope) First() (json.RawMessage, bool) {
	if e == nil || len(e.Message) == 0 {
		return nil, false
	}
	return e.Message[0], true
}

// MarshalJSON always renders the message key as an array
func (e Envelope) MarshalJSON() ([]byte, error) {
	type plain Envelope
	if e.Message == nil {
		e.Message = []json.RawMessage{}
	}
	return json.Marshal(plain(e))
}

// Bytes serializes the envelope. A corrupt raw item falls back to a 503
// envelope.
func (e *Envelope) Bytes() []byte {
	data, err := json.Marshal(e)
	if err != nil {
		data, _ = json.Marshal(ServiceUnavailable("malformed response item"))
	}
	return data
}

// Parse decodes a status envelope. Both the error and message keys must be
// present.
func Parse(data []byte) (*Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
			"Envelope", "Parse", "decode status message")
	}
	for _, key := range []string{"error", "message"} {
		if _, ok := fields[key]; !ok {
			return nil, errors.WrapInvalid(errors.ErrInvalidData, "Envelope", "Parse",
				fmt.Sprintf("missing key %q", key))
		}
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
			"Envelope", "Parse", "decode status message")
	}
	return &env, nil
}
