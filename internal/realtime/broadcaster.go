package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"loudfits/pkg/protocol"

	"github.com/rs/zerolog"
)

type recipientKind int

const (
	recipientsAll recipientKind = iota
	recipientsAdmins
	recipientsUsers
)

// Recipients selects who a broadcast is delivered to
type Recipients struct {
	kind    recipientKind
	userIDs []string
}

// AllRecipients targets every live connection, anonymous ones included
func AllRecipients() Recipients { return Recipients{kind: recipientsAll} }

// Admins targets connections registered with the admin flag
func Admins() Recipients { return Recipients{kind: recipientsAdmins} }

// Users targets every connection owned by the given users
func Users(userIDs ...string) Recipients {
	return Recipients{kind: recipientsUsers, userIDs: userIDs}
}

func (r Recipients) String() string {
	switch r.kind {
	case recipientsAdmins:
		return "admins"
	case recipientsUsers:
		return "users:" + strings.Join(r.userIDs, ",")
	default:
		return "all"
	}
}

// UserIDs returns the targeted users for a Users selection
func (r Recipients) UserIDs() []string {
	return r.userIDs
}

// IsAdmins reports whether the selection is the admin audience
func (r Recipients) IsAdmins() bool { return r.kind == recipientsAdmins }

// IsAll reports whether the selection is everyone
func (r Recipients) IsAll() bool { return r.kind == recipientsAll }

// ParseRecipients reads the JSON form used by the admin API:
// absent/null/"all", "admins", or an array of user ids (strings or numbers).
func ParseRecipients(raw json.RawMessage) (Recipients, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return AllRecipients(), nil
	}
	var keyword string
	if err := json.Unmarshal(raw, &keyword); err == nil {
		switch strings.ToLower(keyword) {
		case "", "all":
			return AllRecipients(), nil
		case "admins", "admin":
			return Admins(), nil
		}
		return Recipients{}, fmt.Errorf("unknown recipients %q", keyword)
	}
	var ids []protocol.FlexibleID
	if err := json.Unmarshal(raw, &ids); err != nil {
		return Recipients{}, fmt.Errorf("recipients must be \"all\", \"admins\" or a list of user ids: %w", err)
	}
	userIDs := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			userIDs = append(userIDs, id.String())
		}
	}
	return Users(userIDs...), nil
}

// Result counts what happened during one fan-out
type Result struct {
	Targeted  int `json:"targeted"`
	Delivered int `json:"delivered"`
	Skipped   int `json:"skipped"` // not open
	Failed    int `json:"failed"`
}

// Broadcaster fans an event out to the right subset of the registry.
// Delivery is fire-and-forget: at most once per currently open connection.
type Broadcaster struct {
	registry *Registry
	metrics  *Metrics
	log      zerolog.Logger
}

// NewBroadcaster creates a broadcaster over the registry
func NewBroadcaster(registry *Registry, metrics *Metrics, log zerolog.Logger) *Broadcaster {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Broadcaster{registry: registry, metrics: metrics, log: log}
}

// Broadcast serialises the envelope once and queues it on every targeted connection.
// A failing recipient never stops the loop; the only error is a payload that cannot be encoded.
func (b *Broadcaster) Broadcast(ctx context.Context, msgType protocol.MessageType, payload any, to Recipients) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	frame, err := protocol.Encode(msgType, payload)
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal %s: %w", msgType, err)
	}

	targets := b.resolve(to)
	result := Result{Targeted: len(targets)}

	for _, c := range targets {
		if !c.IsOpen() {
			result.Skipped++
			continue
		}
		if err := c.Send(frame); err != nil {
			if errors.Is(err, ErrConnectionClosed) {
				// closed between the check and the send
				result.Skipped++
				continue
			}
			result.Failed++
			b.metrics.SendFailures.WithLabelValues(failureReason(err)).Inc()
			b.log.Warn().
				Str("client_id", c.ID).
				Str("type", msgType.String()).
				Err(err).
				Msg("failed_to_send_broadcast")
			continue
		}
		result.Delivered++
		b.metrics.MessagesSent.WithLabelValues(msgType.String()).Inc()
	}

	b.metrics.Broadcasts.WithLabelValues(msgType.String()).Inc()
	b.log.Info().
		Str("type", msgType.String()).
		Str("recipients", to.String()).
		Int("targeted", result.Targeted).
		Int("delivered", result.Delivered).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Msg("broadcast_sent")

	return result, nil
}

// SendTo queues one envelope on a single connection (handshake replies, sync, echo)
func (b *Broadcaster) SendTo(c *Connection, msgType protocol.MessageType, payload any) error {
	frame, err := protocol.Encode(msgType, payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", msgType, err)
	}
	if err := c.Send(frame); err != nil {
		b.metrics.SendFailures.WithLabelValues(failureReason(err)).Inc()
		return err
	}
	b.metrics.MessagesSent.WithLabelValues(msgType.String()).Inc()
	return nil
}

// resolve returns the target set, each connection at most once
func (b *Broadcaster) resolve(to Recipients) []*Connection {
	switch to.kind {
	case recipientsAdmins:
		return b.registry.ListByRole(RoleAdmin)
	case recipientsUsers:
		seen := make(map[string]struct{})
		var conns []*Connection
		for _, userID := range to.userIDs {
			for _, c := range b.registry.FindByUserID(userID) {
				if _, dup := seen[c.ID]; dup {
					continue
				}
				seen[c.ID] = struct{}{}
				conns = append(conns, c)
			}
		}
		return conns
	default:
		return b.registry.ListByRole(RoleAny)
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrSendBufferFull):
		return "buffer_full"
	case errors.Is(err, ErrConnectionClosed):
		return "closed"
	default:
		return "other"
	}
}
