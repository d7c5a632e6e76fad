package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"loudfits/internal/realtime"
	"loudfits/pkg/protocol"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Broadcaster is the fan-out the publisher drives
type Broadcaster interface {
	Broadcast(ctx context.Context, msgType protocol.MessageType, payload any, to realtime.Recipients) (realtime.Result, error)
}

// NotificationSink persists notifications so offline users get them on register
type NotificationSink interface {
	SaveForUser(ctx context.Context, userID string, n protocol.Notification) (protocol.Notification, error)
	SaveForAdmins(ctx context.Context, n protocol.Notification) (protocol.Notification, error)
}

// Recorder keeps the admin-visible event history
type Recorder interface {
	Append(ctx context.Context, entry HistoryEntry) error
}

// Publisher maps domain events to envelopes and recipients.
// Persistence and history are best-effort; live delivery always goes ahead.
type Publisher struct {
	broadcaster Broadcaster
	sink        NotificationSink
	history     Recorder
	now         func() time.Time
	log         zerolog.Logger
}

// NewPublisher creates a publisher. sink and history may be nil.
func NewPublisher(broadcaster Broadcaster, sink NotificationSink, history Recorder, log zerolog.Logger) *Publisher {
	return &Publisher{
		broadcaster: broadcaster,
		sink:        sink,
		history:     history,
		now:         func() time.Time { return time.Now().UTC() },
		log:         log,
	}
}

type audience int

const (
	audienceNone audience = iota
	audienceOwner
	audienceAdmins
)

// Publish routes one domain event
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	at := ev.OccurredAt
	if at.IsZero() {
		at = p.now()
	}

	var err error
	switch ev.Type {
	case KindOrderPlaced, KindOrderUpdated:
		err = p.publishOrder(ctx, ev.Payload, at)
	case KindPaymentUpdated:
		err = p.publishPayment(ctx, ev.Payload, at)
	case KindStockLow:
		err = p.publishStock(ctx, ev.Payload, at)
	case KindNotification:
		err = p.publishNotification(ctx, ev.Payload, at)
	default:
		err = fmt.Errorf("%w: %s", ErrUnknownEvent, ev.Type)
	}
	if err != nil {
		return err
	}

	p.log.Debug().Str("event", string(ev.Type)).Msg("event_published")
	return nil
}

func (p *Publisher) publishOrder(ctx context.Context, raw json.RawMessage, at time.Time) error {
	var payload protocol.OrderPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Order.ID == "" {
		// collaborators also send the bare order
		var order protocol.Order
		if err := json.Unmarshal(raw, &order); err != nil || order.ID == "" {
			return fmt.Errorf("%w: order payload needs an id", ErrInvalidEvent)
		}
		payload.Order = order
	}
	if payload.Order.UpdatedAt == nil {
		payload.Order.UpdatedAt = &at
	}

	if owner := payload.Order.UserID.String(); owner != "" {
		p.emit(ctx, protocol.TypeOrderUpdated, payload, realtime.Users(owner), audienceOwner, owner, at)
	}
	p.emit(ctx, protocol.TypeAdminOrderUpdated, payload, realtime.Admins(), audienceAdmins, "", at)
	return nil
}

func (p *Publisher) publishPayment(ctx context.Context, raw json.RawMessage, at time.Time) error {
	var payload protocol.PaymentPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Payment.ID == "" {
		var payment protocol.Payment
		if err := json.Unmarshal(raw, &payment); err != nil || payment.ID == "" {
			return fmt.Errorf("%w: payment payload needs an id", ErrInvalidEvent)
		}
		payload.Payment = payment
	}
	if payload.Payment.UpdatedAt == nil {
		payload.Payment.UpdatedAt = &at
	}

	if owner := payload.Payment.UserID.String(); owner != "" {
		p.emit(ctx, protocol.TypePaymentUpdated, payload, realtime.Users(owner), audienceOwner, owner, at)
	}
	p.emit(ctx, protocol.TypeAdminPaymentUpdated, payload, realtime.Admins(), audienceAdmins, "", at)
	return nil
}

func (p *Publisher) publishStock(ctx context.Context, raw json.RawMessage, at time.Time) error {
	var payload protocol.StockAlertPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.ProductID == "" {
		return fmt.Errorf("%w: stock alert needs a productId", ErrInvalidEvent)
	}
	if payload.DetectedAt == nil {
		payload.DetectedAt = &at
	}
	p.emit(ctx, protocol.TypeStockAlert, payload, realtime.Admins(), audienceAdmins, "", at)
	return nil
}

func (p *Publisher) publishNotification(ctx context.Context, raw json.RawMessage, at time.Time) error {
	var ne NotificationEvent
	if err := json.Unmarshal(raw, &ne); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	n := ne.Notification
	if n.Title == "" {
		return fmt.Errorf("%w: notification needs a title", ErrInvalidEvent)
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = at
	}

	if len(ne.UserIDs) == 0 && !ne.Admins {
		_, err := p.Broadcast(ctx, protocol.TypeBroadcast, n, realtime.AllRecipients())
		return err
	}

	if ne.Admins {
		p.deliver(ctx, n, realtime.Admins(), audienceAdmins, "")
	}

	seen := make(map[string]struct{}, len(ne.UserIDs))
	for _, id := range ne.UserIDs {
		userID := id.String()
		if _, dup := seen[userID]; dup || userID == "" {
			continue
		}
		seen[userID] = struct{}{}

		personal := n
		if len(ne.UserIDs) > 1 || ne.Admins {
			// one stored row per user, ids must not collide
			personal.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(n.ID+":"+userID)).String()
		}
		p.deliver(ctx, personal, realtime.Users(userID), audienceOwner, userID)
	}
	return nil
}

// deliver persists then sends a ready-made notification
func (p *Publisher) deliver(ctx context.Context, n protocol.Notification, to realtime.Recipients, aud audience, owner string) {
	if saved, ok := p.persist(ctx, n, aud, owner); ok {
		n = saved
	}
	if _, err := p.Broadcast(ctx, protocol.TypeNotification, n, to); err != nil {
		p.log.Error().Err(err).Str("recipients", to.String()).Msg("notification_broadcast_failed")
	}
}

// emit persists the notification derived from a domain envelope, then broadcasts the envelope
func (p *Publisher) emit(ctx context.Context, msgType protocol.MessageType, payload any, to realtime.Recipients, aud audience, owner string, at time.Time) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Error().Err(err).Str("type", msgType.String()).Msg("failed_to_marshal_event")
		return
	}
	if n, ok := protocol.Synthesize(msgType, data, at); ok {
		p.persist(ctx, n, aud, owner)
	}
	if _, err := p.Broadcast(ctx, msgType, json.RawMessage(data), to); err != nil {
		p.log.Error().Err(err).Str("type", msgType.String()).Msg("event_broadcast_failed")
	}
}

func (p *Publisher) persist(ctx context.Context, n protocol.Notification, aud audience, owner string) (protocol.Notification, bool) {
	if p.sink == nil || aud == audienceNone {
		return n, false
	}
	var (
		saved protocol.Notification
		err   error
	)
	if aud == audienceAdmins {
		saved, err = p.sink.SaveForAdmins(ctx, n)
	} else {
		saved, err = p.sink.SaveForUser(ctx, owner, n)
	}
	if err != nil {
		p.log.Error().Err(err).Str("notification_id", n.ID).Msg("notification_persist_failed")
		return n, false
	}
	return saved, true
}

// Broadcast sends an envelope and records it in the history
func (p *Publisher) Broadcast(ctx context.Context, msgType protocol.MessageType, payload any, to realtime.Recipients) (realtime.Result, error) {
	result, err := p.broadcaster.Broadcast(ctx, msgType, payload, to)
	if err != nil {
		return result, err
	}
	p.record(ctx, msgType, payload, to, result)
	return result, nil
}

func (p *Publisher) record(ctx context.Context, msgType protocol.MessageType, payload any, to realtime.Recipients, result realtime.Result) {
	if p.history == nil {
		return
	}
	data, ok := payload.(json.RawMessage)
	if !ok {
		raw, err := json.Marshal(payload)
		if err != nil {
			return
		}
		data = raw
	}
	entry := HistoryEntry{
		Type:       msgType,
		Data:       data,
		Recipients: to.String(),
		Timestamp:  p.now(),
		Result:     result,
	}
	if err := p.history.Append(ctx, entry); err != nil {
		p.log.Warn().Err(err).Str("type", msgType.String()).Msg("history_append_failed")
	}
}
