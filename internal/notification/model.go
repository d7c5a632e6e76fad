package notification

import (
	"time"

	"loudfits/pkg/protocol"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Audience decides who can see a stored notification
type Audience string

const (
	AudienceUser  Audience = "user"  // the owning user only
	AudienceAdmin Audience = "admin" // every admin, read state shared
)

type Notification struct {
	ID             string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID         string    `gorm:"type:varchar(64);index" json:"user_id,omitempty"`
	Audience       Audience  `gorm:"type:varchar(16);not null;index" json:"audience"`
	Type           string    `gorm:"type:varchar(32);not null" json:"type"`
	Title          string    `gorm:"not null" json:"title"`
	Message        string    `json:"message"`
	Priority       string    `gorm:"type:varchar(16);not null;default:medium" json:"priority"`
	ActionRequired bool      `gorm:"not null;default:false" json:"action_required"`
	EntityID       string    `gorm:"type:varchar(64)" json:"entity_id,omitempty"`
	EntityType     string    `gorm:"type:varchar(32)" json:"entity_type,omitempty"`
	Read           bool      `gorm:"not null;default:false;index" json:"read"`
	CreatedAt      time.Time `gorm:"not null;index" json:"created_at"`
}

func (Notification) TableName() string {
	return "notifications"
}

// BeforeCreate fills the id and defaults the store cannot infer
func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Audience == "" {
		n.Audience = AudienceUser
	}
	if n.Priority == "" {
		n.Priority = string(protocol.PriorityMedium)
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	return nil
}

// ToProtocol converts the row to its wire form
func (n Notification) ToProtocol() protocol.Notification {
	typ := protocol.NotificationType(n.Type)
	if !typ.Valid() {
		typ = protocol.NotificationSystem
	}
	priority := protocol.Priority(n.Priority)
	if !priority.Valid() {
		priority = protocol.PriorityMedium
	}
	return protocol.Notification{
		ID:             n.ID,
		Type:           typ,
		Title:          n.Title,
		Message:        n.Message,
		Read:           n.Read,
		CreatedAt:      n.CreatedAt,
		Priority:       priority,
		ActionRequired: n.ActionRequired,
		EntityID:       n.EntityID,
		EntityType:     n.EntityType,
	}
}

// FromProtocol builds a row for the given audience from a wire notification
func FromProtocol(p protocol.Notification, audience Audience, userID string) Notification {
	return Notification{
		ID:             p.ID,
		UserID:         userID,
		Audience:       audience,
		Type:           string(p.Type),
		Title:          p.Title,
		Message:        p.Message,
		Priority:       string(p.Priority),
		ActionRequired: p.ActionRequired,
		EntityID:       p.EntityID,
		EntityType:     p.EntityType,
		Read:           p.Read,
		CreatedAt:      p.CreatedAt,
	}
}

func toProtocol(rows []Notification) []protocol.Notification {
	out := make([]protocol.Notification, 0, len(rows))
	for _, n := range rows {
		out = append(out, n.ToProtocol())
	}
	return out
}
