package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/begonlabs/unified-agent-pro-sub001/internal/models"
)

// FindConversation looks a conversation up by its thread key.
func (s *Store) FindConversation(ctx context.Context, ownerID, clientID, channel, threadID string) (*models.Conversation, error) {
	var c models.Conversation
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND client_id = ? AND channel = ? AND channel_thread_id = ?", ownerID, clientID, channel, threadID).
		First(&c).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// GetConversation loads a conversation by primary key.
func (s *Store) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var c models.Conversation
	if err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// CreateConversation inserts a conversation. A concurrent insert of the same
// thread key yields ErrDuplicate.
func (s *Store) CreateConversation(ctx context.Context, c *models.Conversation) error {
	if c.ID == "" {
		c.ID = newID()
	}
	now := s.now()
	c.CreatedAt, c.UpdatedAt = now, now
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

// SetAIEnabled toggles automatic replies for a conversation.
func (s *Store) SetAIEnabled(ctx context.Context, id string, enabled bool) error {
	res := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", id).
		Updates(map[string]any{"ai_enabled": enabled, "updated_at": s.now()})
	if res.Error != nil {
		return fmt.Errorf("set ai_enabled: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchConversation bumps last_message_at and, for customer messages, unread_count.
func (s *Store) TouchConversation(ctx context.Context, id string, at time.Time, incrementUnread bool) error {
	updates := map[string]any{
		"last_message_at": at,
		"updated_at":      s.now(),
	}
	if incrementUnread {
		updates["unread_count"] = gorm.Expr("unread_count + ?", 1)
	}
	res := s.db.WithContext(ctx).Model(&models.Conversation{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("touch conversation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
