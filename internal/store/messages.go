package store

import (
	"context"
	"fmt"
	"time"

	"github.com/begonlabs/unified-agent-pro-sub001/internal/models"
)

// MessageExists reports whether a message with the platform id is stored.
func (s *Store) MessageExists(ctx context.Context, platformMessageID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("platform_message_id = ?", platformMessageID).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("count messages by platform id: %w", err)
	}
	return n > 0, nil
}

// RecentOutboundWithContent reports whether the owner's conversation on
// (channel, threadID) holds an ia or agent message with exactly this content
// created at or after since.
func (s *Store) RecentOutboundWithContent(ctx context.Context, ownerID, channel, threadID, content string, since time.Time) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Message{}).
		Joins("JOIN conversations ON conversations.id = messages.conversation_id").
		Where("conversations.user_id = ? AND conversations.channel = ? AND conversations.channel_thread_id = ?",
			ownerID, channel, threadID).
		Where("messages.sender_type IN ?", []string{models.SenderIA, models.SenderAgent}).
		Where("messages.content = ? AND messages.created_at >= ?", content, since).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("count recent outbound messages: %w", err)
	}
	return n > 0, nil
}

// AppendMessage inserts a message. A repeated platform id yields ErrDuplicate.
func (s *Store) AppendMessage(ctx context.Context, m *models.Message) error {
	if m.ID == "" {
		m.ID = newID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	if m.PlatformMessageID != nil && *m.PlatformMessageID == "" {
		m.PlatformMessageID = nil
	}
	if m.Metadata == nil {
		m.Metadata = map[string]any{}
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// HasClientMessagesAfter reports whether the customer wrote again after the
// given instant, ignoring the message excludeID.
func (s *Store) HasClientMessagesAfter(ctx context.Context, conversationID string, after time.Time, excludeID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ? AND sender_type = ? AND created_at > ? AND id <> ?",
			conversationID, models.SenderClient, after, excludeID).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("count newer client messages: %w", err)
	}
	return n > 0, nil
}

// RecentMessages returns the last limit messages of a conversation, oldest first.
func (s *Store) RecentMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	var msgs []models.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("load recent messages: %w", err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// HasMessageSince reports whether the conversation holds a message of the
// given sender type created at or after since.
func (s *Store) HasMessageSince(ctx context.Context, conversationID, senderType string, since time.Time) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ? AND sender_type = ? AND created_at >= ?", conversationID, senderType, since).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("count messages since: %w", err)
	}
	return n > 0, nil
}
