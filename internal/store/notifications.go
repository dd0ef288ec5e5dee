package store

import (
	"context"
	"fmt"

	"github.com/begonlabs/unified-agent-pro-sub001/internal/models"
)

// CreateNotificationOnce inserts n unless an unread notification of the same
// type and action link already exists for the owner. It reports whether a row was inserted.
func (s *Store) CreateNotificationOnce(ctx context.Context, n *models.Notification) (bool, error) {
	var existing int64
	err := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND type = ? AND action_url = ? AND is_read = ?", n.UserID, n.Type, n.ActionURL, false).
		Count(&existing).Error
	if err != nil {
		return false, fmt.Errorf("count notifications: %w", err)
	}
	if existing > 0 {
		return false, nil
	}

	if n.ID == "" {
		n.ID = newID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		return false, fmt.Errorf("create notification: %w", err)
	}
	return true, nil
}

// ListNotifications returns an owner's notifications, newest first.
func (s *Store) ListNotifications(ctx context.Context, ownerID string) ([]models.Notification, error) {
	var out []models.Notification
	err := s.db.WithContext(ctx).Where("user_id = ?", ownerID).Order("created_at DESC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return out, nil
}
