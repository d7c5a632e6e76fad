package notification

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

var ErrNotFound = errors.New("notification not found")

type Repository interface {
	Create(ctx context.Context, n *Notification) error
	ListRecent(ctx context.Context, userID string, admin bool, limit int) ([]Notification, error)
	GetUnread(ctx context.Context, userID string, admin bool) ([]Notification, error)
	MarkAsRead(ctx context.Context, userID string, admin bool, id string) error
	MarkAllAsRead(ctx context.Context, userID string, admin bool) (int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// visibleTo limits a query to the rows the user may see:
// their own, plus the admin feed for admins.
func visibleTo(userID string, admin bool) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if admin {
			return db.Where("(audience = ? AND user_id = ?) OR audience = ?", AudienceUser, userID, AudienceAdmin)
		}
		return db.Where("audience = ? AND user_id = ?", AudienceUser, userID)
	}
}

func (r *repository) Create(ctx context.Context, n *Notification) error {
	return r.db.WithContext(ctx).Create(n).Error
}

func (r *repository) ListRecent(ctx context.Context, userID string, admin bool, limit int) ([]Notification, error) {
	var notifications []Notification
	err := r.db.WithContext(ctx).
		Scopes(visibleTo(userID, admin)).
		Order("created_at DESC").
		Limit(limit).
		Find(&notifications).Error
	return notifications, err
}

func (r *repository) GetUnread(ctx context.Context, userID string, admin bool) ([]Notification, error) {
	var notifications []Notification
	err := r.db.WithContext(ctx).
		Scopes(visibleTo(userID, admin)).
		Where("read = ?", false).
		Order("created_at DESC").
		Find(&notifications).Error
	return notifications, err
}

// MarkAsRead is idempotent; only rows outside the user's view are an error
func (r *repository) MarkAsRead(ctx context.Context, userID string, admin bool, id string) error {
	var n Notification
	err := r.db.WithContext(ctx).
		Scopes(visibleTo(userID, admin)).
		Where("id = ?", id).
		First(&n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if n.Read {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&Notification{}).
		Where("id = ?", id).
		Update("read", true).Error
}

func (r *repository) MarkAllAsRead(ctx context.Context, userID string, admin bool) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&Notification{}).
		Scopes(visibleTo(userID, admin)).
		Where("read = ?", false).
		Update("read", true)
	return res.RowsAffected, res.Error
}
