// Package protocol provides the wire-level frame types and event names for
// the RelayDesk chat socket.
package protocol

import (
	"encoding/json"
	"time"
)

// Frame is the envelope for every message on the chat socket. Frames are
// JSON objects on a single bidirectional channel; Event names are
// case-sensitive.
type Frame struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
}

// NewFrame creates a frame for the given event with a marshaled payload.
func NewFrame(event string, payload interface{}) (*Frame, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = b
	}
	return &Frame{
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// MustFrame creates a frame and panics on marshal failure. Reserved for
// payload types that are known to marshal (struct literals, maps of
// primitives).
func MustFrame(event string, payload interface{}) *Frame {
	f, err := NewFrame(event, payload)
	if err != nil {
		panic(err)
	}
	return f
}

// ParseData parses the frame payload into the given struct.
func (f *Frame) ParseData(v interface{}) error {
	if f.Data == nil {
		return nil
	}
	return json.Unmarshal(f.Data, v)
}

// ErrorData is the payload of a session_error or auth_error frame.
type ErrorData struct {
	Code    string `json:"code,omitempty"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// NewErrorFrame creates a session_error frame with a structured payload.
func NewErrorFrame(event, code, message string) *Frame {
	return MustFrame(event, ErrorData{Code: code, Error: message})
}
