package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
)

// Event is one frame of the socket protocol.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (e Event) String() string {
	return fmt.Sprintf("Event{Type: %s, Payload.Size: %d}", e.Type, len(e.Payload))
}

// NewEvent marshals payload into an event of type t.
func NewEvent(t string, payload any) (*Event, error) {
	e := &Event{Type: t}
	if payload == nil {
		return e, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	e.Payload = b
	return e, nil
}

func EncodeEvent(w io.Writer, e *Event) error {
	if err := json.NewEncoder(w).Encode(e); err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return nil
}

func DecodeEvent(r io.Reader, e *Event) error {
	if err := json.NewDecoder(r).Decode(e); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	return nil
}

// Decode unmarshals the payload of e into v.
func (e *Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return ValidationError("Missing event payload", nil)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return ValidationError("Invalid event payload", nil)
	}
	return nil
}

// EventHandler handles an inbound event of a connection.
// A returned error is reported to that connection only.
type EventHandler func(ctx context.Context, conn *Conn, e *Event) error

type EventRouter struct {
	listeners map[string]EventHandler
	logger    *slog.Logger
}

func NewEventRouter(logger *slog.Logger) *EventRouter {
	return &EventRouter{
		listeners: make(map[string]EventHandler),
		logger:    logger,
	}
}

// On registers the handler of an event type. It panics if the type already
// has a handler.
func (em *EventRouter) On(eventType string, handler EventHandler) {
	if _, ok := em.listeners[eventType]; ok {
		panic(fmt.Sprintf("handler for event %q already registered", eventType))
	}
	em.listeners[eventType] = handler
}

// Dispatch runs the handler of e. Handler errors and panics are turned into
// an error event sent to conn.
func (em *EventRouter) Dispatch(ctx context.Context, conn *Conn, e *Event) {
	handler, ok := em.listeners[e.Type]
	if !ok {
		em.logger.Debug(fmt.Sprintf("no handler for %s", e.Type))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			em.logger.Error(fmt.Sprintf("%s handler panicked: %v", e.Type, r), slog.String("stack", string(debug.Stack())))
			conn.SendError(ErrorEventMessage(e.Type, nil))
		}
	}()

	if err := handler(ctx, conn, e); err != nil {
		if KindOf(err) == KindInternal {
			em.logger.Error(fmt.Sprintf("%s handler: %s", e.Type, err))
		} else {
			em.logger.Debug(fmt.Sprintf("%s handler: %s", e.Type, err))
		}
		conn.SendError(ErrorEventMessage(e.Type, err))
	}
}
