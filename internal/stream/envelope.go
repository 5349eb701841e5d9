package stream

import "encoding/json"

// Control message types carried on the "control" data channel.
const (
	TypePhaseLock = "control.phaselock"
	TypePing      = "control.ping"
	TypePong      = "control.pong"
	TypeState     = "control.state"
	TypeError     = "error"
)

// Envelope is the top-level wrapper for all control channel messages.
type Envelope struct {
	Type      string          `json:"type"`
	StreamID  string          `json:"streamId"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ControlPhaseLock is the payload for control.phaselock messages.
type ControlPhaseLock struct {
	Enabled bool `json:"enabled"`
}

// ControlPing is the payload for control.ping messages.
type ControlPing struct {
	Nonce string `json:"nonce,omitempty"`
}

// EventPong answers a ping.
type EventPong struct {
	Nonce     string `json:"nonce,omitempty"`
	PhaseLock bool   `json:"phaseLock"`
}

// EventState is sent when the control channel opens and after every
// accepted control.phaselock.
type EventState struct {
	PhaseLock bool `json:"phaseLock"`
	MaxFPS    int  `json:"maxFps"`
}

// EventError is the payload for error events.
type EventError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
