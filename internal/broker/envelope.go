// Package broker publishes envelopes on subjects and fans them out to
// in-process subscribers, with an optional best-effort forward to an external
// NATS bus. Every cross-player and cross-process event in the game flows
// through this facade; subjects are minted and validated by the subject
// registry.
package broker

import (
	"encoding/json"
	"time"
)

// EventKind classifies an envelope's payload for consumers.
type EventKind string

const (
	KindChat       EventKind = "chat"
	KindEvent      EventKind = "event"
	KindCombat     EventKind = "combat"
	KindSystem     EventKind = "system"
	KindCommand    EventKind = "command_result"
	KindSuperseded EventKind = "superseded"
)

// Envelope is the structured record carried on a subject. Sequence and
// Timestamp are stamped at publish; callers fill the rest.
type Envelope struct {
	Subject   string          `json:"subject"`
	Kind      EventKind       `json:"kind"`
	Sequence  uint64          `json:"sequence"`
	Timestamp time.Time       `json:"timestamp"`
	PlayerID  string          `json:"player_id,omitempty"`
	RoomID    string          `json:"room_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope builds an envelope of the given kind with a JSON-encoded
// payload. Marshal failures are programming errors on the payload type and
// surface as an error rather than a panic.
func NewEnvelope(kind EventKind, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Kind: kind, Payload: raw}, nil
}
