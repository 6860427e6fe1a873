// Package envelope defines the JSON envelope exchanged over WebSocket
// connections (spec §4.4, glossary "Envelope").
package envelope

import "encoding/json"

// Envelope is the wire shape of every WebSocket text frame:
// {"event": string, "payload": object, "ackid": string?}.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	AckID   string          `json:"ackid,omitempty"`
}

// New builds an Envelope by marshalling payload into the payload field.
func New(event string, payload any, ackID string) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Payload: raw, AckID: ackID}, nil
}

// Built-in event names (spec §4.4).
const (
	EventConnect    = "connect"
	EventPing       = "ping"
	EventPong       = "pong"
	EventAck        = "ack"
	EventEcho       = "echo"
	EventError      = "event_error"
	EventIMKeyboard = "im.message.keyboard"
)

// ErrorPayload is the payload of an EventError envelope.
type ErrorPayload struct {
	ErrorCode int    `json:"error_code"`
	Message   string `json:"message,omitempty"`
}

// ConnectPayload is the payload of the welcome envelope sent right after
// a successful upgrade.
type ConnectPayload struct {
	UID      uint64 `json:"uid"`
	Platform string `json:"platform"`
	Ts       int64  `json:"ts"`
}

// PongPayload is the payload of a pong reply.
type PongPayload struct {
	Ts int64 `json:"ts"`
}

// KeyboardPayload is the payload of an im.message.keyboard event, both
// inbound (from-id stamped by the server) and outbound (forwarded as-is
// to the recipient).
type KeyboardPayload struct {
	TalkMode int             `json:"talk_mode"`
	ToFromID uint64          `json:"to_from_id"`
	FromID   uint64          `json:"from_id,omitempty"`
	Body     json.RawMessage `json:"body"`
}
