package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"loudfits/pkg/protocol"
)

var (
	ErrUnknownEvent = errors.New("unknown event type")
	ErrInvalidEvent = errors.New("invalid event")
)

// Kind names a domain event produced by the order, payment and inventory services
type Kind string

const (
	KindOrderPlaced    Kind = "order.placed"
	KindOrderUpdated   Kind = "order.updated"
	KindPaymentUpdated Kind = "payment.updated"
	KindStockLow       Kind = "stock.low"
	KindNotification   Kind = "notification"
)

// Event is what collaborators publish on the events channel
type Event struct {
	Type       Kind            `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurredAt,omitempty"`
}

// NotificationEvent is the payload of a notification event.
// No users and no admins means a broadcast to everyone.
type NotificationEvent struct {
	UserIDs      []protocol.FlexibleID `json:"userIds,omitempty"`
	Admins       bool                  `json:"admins,omitempty"`
	Notification protocol.Notification `json:"notification"`
}

// ParseEvent decodes one message from the events channel
func ParseEvent(b []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(b, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrInvalidEvent)
	}
	return ev, nil
}

// NewEvent marshals payload into an Event stamped now
func NewEvent(kind Kind, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return Event{Type: kind, Payload: raw, OccurredAt: time.Now().UTC()}, nil
}

// MarshalJSON stamps a missing OccurredAt
func (e Event) MarshalJSON() ([]byte, error) {
	type alias Event
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	return json.Marshal(alias(e))
}
