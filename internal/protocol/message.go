// Package protocol defines the request, response, and notification messages
// exchanged with the host, and the envelope that frames them on the wire.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Action is the verb of a request.
type Action string

const (
	ActionGet    Action = "get"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionNotify Action = "notify"
)

// Request is one action on one resource.
type Request struct {
	Action   Action          `json:"action"`
	Resource string          `json:"resource"`
	Values   json.RawMessage `json:"values,omitempty"`
}

// Response answers exactly one request.
type Response struct {
	Success bool            `json:"success"`
	Values  json.RawMessage `json:"values,omitempty"`
}

// EnvelopeType identifies the framing of a wire message.
type EnvelopeType string

const (
	EnvelopeCall   EnvelopeType = "call"
	EnvelopeReply  EnvelopeType = "reply"
	EnvelopeNotify EnvelopeType = "notify"
)

// Envelope frames calls, replies and notifications on a connection.
// Calls carry []Request, replies []Response in the same order, and
// notifications a single Request with action "notify".
type Envelope struct {
	Type  EnvelopeType    `json:"type"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

// ErrorValues is the values payload of a failed response.
type ErrorValues struct {
	Error string `json:"error"`
}

// NewRequest builds a request, marshaling values when present.
func NewRequest(action Action, resource string, values any) (Request, error) {
	req := Request{Action: action, Resource: resource}
	if values != nil {
		raw, err := json.Marshal(values)
		if err != nil {
			return req, fmt.Errorf("encode %s %s: %w", action, resource, err)
		}
		req.Values = raw
	}
	return req, nil
}

// MustRequest is NewRequest for values that always marshal.
func MustRequest(action Action, resource string, values any) Request {
	req, err := NewRequest(action, resource, values)
	if err != nil {
		panic(err)
	}
	return req
}

// Success builds a successful response.
func Success(values any) Response {
	resp := Response{Success: true}
	if values != nil {
		if raw, err := json.Marshal(values); err == nil {
			resp.Values = raw
		}
	}
	return resp
}

// Failure builds a failed response carrying a message.
func Failure(format string, args ...any) Response {
	raw, _ := json.Marshal(ErrorValues{Error: fmt.Sprintf(format, args...)})
	return Response{Success: false, Values: raw}
}

// ErrorMessage returns the error message of a failed response, if any.
func (r *Response) ErrorMessage() string {
	if r.Success || len(r.Values) == 0 {
		return ""
	}
	var ev ErrorValues
	if err := json.Unmarshal(r.Values, &ev); err != nil {
		return ""
	}
	return ev.Error
}

// Decode unmarshals the response values into v.
func (r *Response) Decode(v any) error {
	if len(r.Values) == 0 {
		return fmt.Errorf("response has no values")
	}
	return json.Unmarshal(r.Values, v)
}

// ParseRequests parses raw JSON that may be a single request or an array.
func ParseRequests(data []byte) ([]Request, bool, error) {
	data = trimLeft(data)
	if len(data) == 0 {
		return nil, false, nil
	}

	switch data[0] {
	case '[':
		var reqs []Request
		if err := json.Unmarshal(data, &reqs); err != nil {
			return nil, true, err
		}
		return reqs, true, nil
	case '{':
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, false, err
		}
		return []Request{req}, false, nil
	default:
		return nil, false, fmt.Errorf("unexpected request payload starting with %q", data[0])
	}
}

// ParseEnvelope parses one wire message.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	switch env.Type {
	case EnvelopeCall, EnvelopeReply, EnvelopeNotify:
	default:
		return nil, fmt.Errorf("unknown envelope type %q", env.Type)
	}
	return &env, nil
}

// NewEnvelope creates an envelope with the given type and data.
func NewEnvelope(t EnvelopeType, id string, data any) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: t, ID: id, Data: raw}, nil
}

// Encode serializes an envelope to JSON.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func trimLeft(data []byte) []byte {
	for len(data) > 0 {
		switch data[0] {
		case ' ', '\t', '\r', '\n':
			data = data[1:]
		default:
			return data
		}
	}
	return data
}
