package stream

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrUnknownType is returned by Dispatch for unregistered message types.
var ErrUnknownType = errors.New("unknown message type")

// Handler processes a specific control message type.
type Handler func(streamID string, payload json.RawMessage) error

// Router dispatches incoming control channel messages to registered handlers.
type Router struct {
	handlers map[string]Handler
	logger   *zap.Logger
}

// NewRouter creates a new message router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{handlers: make(map[string]Handler), logger: logger}
}

// Register adds a handler for a specific message type.
func (r *Router) Register(msgType string, h Handler) {
	r.handlers[msgType] = h
}

// Dispatch parses a raw control message and routes it to the appropriate handler.
func (r *Router) Dispatch(raw []byte) error {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("unmarshal envelope: %w", err)
	}

	h, ok := r.handlers[env.Type]
	if !ok {
		r.logger.Debug("unknown message type", zap.String("type", env.Type))
		return fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	return h(env.StreamID, env.Payload)
}
