package repository

import (
	"context"

	"github.com/davet/prodsync/internal/domain"
	"gorm.io/gorm"
)

// NotificationRepository persists user-facing notifications.
type NotificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository creates a new NotificationRepository.
func NewNotificationRepository(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create inserts a new notification.
func (r *NotificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	return r.db.WithContext(ctx).Create(n).Error
}

// ListByUser retrieves notifications for a user, newest first.
func (r *NotificationRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	var out []domain.Notification
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// MarkRead marks a notification as read.
func (r *NotificationRepository) MarkRead(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&domain.Notification{}).
		Where("id = ?", id).
		Update("read", true).Error
}
