package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformedEnvelope is returned for frames that are not a valid envelope
var ErrMalformedEnvelope = errors.New("malformed envelope")

var emptyObject = json.RawMessage(`{}`)

// Envelope is the wire message in both directions
type Envelope struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope marshals payload once and stamps the envelope with the current time
func NewEnvelope(msgType MessageType, payload any) (Envelope, error) {
	data := emptyObject
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
		}
		data = raw
	}
	return Envelope{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Encode marshals the envelope to JSON
func (e Envelope) Encode() ([]byte, error) {
	if len(e.Data) == 0 {
		e.Data = emptyObject
	}
	return json.Marshal(e)
}

// Decode unmarshals the payload into v
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return json.Unmarshal(emptyObject, v)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// ParseEnvelope unmarshals a frame. A frame without a type is malformed.
func ParseEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	}
	if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		env.Data = emptyObject
	}
	return env, nil
}

// Encode builds and marshals an envelope in one step
func Encode(msgType MessageType, payload any) ([]byte, error) {
	env, err := NewEnvelope(msgType, payload)
	if err != nil {
		return nil, err
	}
	return env.Encode()
}
