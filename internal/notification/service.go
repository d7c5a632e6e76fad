package notification

import (
	"context"
	"fmt"

	"loudfits/internal/realtime"
	"loudfits/pkg/protocol"

	"github.com/rs/zerolog"
)

// MaxRecent bounds the page-load fetch, same as the client cap
const MaxRecent = 100

// Service is the store of record for notifications. The websocket hub uses it
// for read receipts and the unread sync after register.
type Service interface {
	realtime.ReceiptHandler
	realtime.UnreadSource

	Recent(ctx context.Context, identity realtime.Identity, limit int) ([]protocol.Notification, error)
	SaveForUser(ctx context.Context, userID string, n protocol.Notification) (protocol.Notification, error)
	SaveForAdmins(ctx context.Context, n protocol.Notification) (protocol.Notification, error)
}

type service struct {
	repo Repository
	log  zerolog.Logger
}

func NewService(repo Repository, log zerolog.Logger) Service {
	return &service{repo: repo, log: log}
}

func (s *service) Unread(ctx context.Context, identity realtime.Identity) ([]protocol.Notification, error) {
	rows, err := s.repo.GetUnread(ctx, identity.UserID, identity.IsAdmin)
	if err != nil {
		return nil, fmt.Errorf("failed to load unread notifications: %w", err)
	}
	return toProtocol(rows), nil
}

func (s *service) Recent(ctx context.Context, identity realtime.Identity, limit int) ([]protocol.Notification, error) {
	if limit <= 0 || limit > MaxRecent {
		limit = MaxRecent
	}
	rows, err := s.repo.ListRecent(ctx, identity.UserID, identity.IsAdmin, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load notifications: %w", err)
	}
	return toProtocol(rows), nil
}

func (s *service) MarkRead(ctx context.Context, identity realtime.Identity, notificationID string) error {
	if err := s.repo.MarkAsRead(ctx, identity.UserID, identity.IsAdmin, notificationID); err != nil {
		return err
	}
	s.log.Debug().Str("user_id", identity.UserID).Str("notification_id", notificationID).Msg("notification_marked_read")
	return nil
}

func (s *service) MarkAllRead(ctx context.Context, identity realtime.Identity) error {
	n, err := s.repo.MarkAllAsRead(ctx, identity.UserID, identity.IsAdmin)
	if err != nil {
		return err
	}
	s.log.Debug().Str("user_id", identity.UserID).Int64("count", n).Msg("notifications_marked_read")
	return nil
}

func (s *service) SaveForUser(ctx context.Context, userID string, n protocol.Notification) (protocol.Notification, error) {
	if userID == "" {
		return protocol.Notification{}, fmt.Errorf("user notification needs a user id")
	}
	return s.save(ctx, FromProtocol(n, AudienceUser, userID))
}

func (s *service) SaveForAdmins(ctx context.Context, n protocol.Notification) (protocol.Notification, error) {
	return s.save(ctx, FromProtocol(n, AudienceAdmin, ""))
}

func (s *service) save(ctx context.Context, row Notification) (protocol.Notification, error) {
	if row.Title == "" {
		return protocol.Notification{}, fmt.Errorf("notification title is required")
	}
	if err := s.repo.Create(ctx, &row); err != nil {
		return protocol.Notification{}, fmt.Errorf("failed to save notification: %w", err)
	}
	return row.ToProtocol(), nil
}
