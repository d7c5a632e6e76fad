package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// NotificationType is the category a notification is filed under
type NotificationType string

const (
	NotificationOrder   NotificationType = "order"
	NotificationPayment NotificationType = "payment"
	NotificationUser    NotificationType = "user"
	NotificationProduct NotificationType = "product"
	NotificationAdmin   NotificationType = "admin"
	NotificationSystem  NotificationType = "system"
)

// Valid reports whether t is one of the known categories
func (t NotificationType) Valid() bool {
	switch t {
	case NotificationOrder, NotificationPayment, NotificationUser,
		NotificationProduct, NotificationAdmin, NotificationSystem:
		return true
	}
	return false
}

// Priority drives how loudly a notification is surfaced
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether p is one of the known priorities
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Loud is true for priorities rendered with the destructive toast style
func (p Priority) Loud() bool {
	return p == PriorityHigh || p == PriorityUrgent
}

// Notification is the record surfaced to a user.
// The id is what clients dedup on.
type Notification struct {
	ID             string           `json:"id"`
	Type           NotificationType `json:"type"`
	Title          string           `json:"title"`
	Message        string           `json:"message"`
	Read           bool             `json:"read"`
	CreatedAt      time.Time        `json:"createdAt"`
	Priority       Priority         `json:"priority,omitempty"`
	ActionRequired bool             `json:"actionRequired,omitempty"`
	EntityID       string           `json:"entityId,omitempty"`
	EntityType     string           `json:"entityType,omitempty"`
}

// UnmarshalJSON coerces createdAt from any of the accepted timestamp formats
// and normalises unknown categories to system.
func (n *Notification) UnmarshalJSON(b []byte) error {
	type alias Notification
	aux := struct {
		*alias
		ID        FlexibleID      `json:"id"`
		EntityID  FlexibleID      `json:"entityId"`
		CreatedAt json.RawMessage `json:"createdAt"`
	}{alias: (*alias)(n)}

	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	created, err := ParseTime(aux.CreatedAt)
	if err != nil {
		return fmt.Errorf("notification %s: %w", aux.ID, err)
	}
	n.ID = aux.ID.String()
	n.EntityID = aux.EntityID.String()
	n.CreatedAt = created
	if !n.Type.Valid() {
		n.Type = NotificationSystem
	}
	if n.Priority != "" && !n.Priority.Valid() {
		n.Priority = PriorityMedium
	}
	return nil
}

// DecodeNotifications reads either a single notification or an array of them
func DecodeNotifications(data json.RawMessage) ([]Notification, error) {
	var list []Notification
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var single Notification
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("decode notifications: %w", err)
	}
	return []Notification{single}, nil
}
