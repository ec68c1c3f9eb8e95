package protocol

import (
	"encoding/json"
	"fmt"
)

// Envelope is the wire shape shared by every B2M/M2B frame: a "type" tag
// discriminating the payload, and a "payload" object carrying the typed
// fields. Client payloads (C2B, after Auth) are relayed verbatim and never
// re-wrapped in an Envelope.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Encode wraps a typed payload in an Envelope and marshals it to JSON.
func Encode(typ string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for %q: %w", typ, err)
	}
	return json.Marshal(Envelope{Type: typ, Payload: raw})
}

// DecodeEnvelope unwraps the type tag and raw payload from a frame. The
// caller then decodes Payload into the struct matching Type.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// Into decodes the envelope's payload into dst.
func (e Envelope) Into(dst any) error {
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("decode payload for %q: %w", e.Type, err)
	}
	return nil
}
