package store

import (
	"context"
	"fmt"
	"maps"

	"github.com/rs/zerolog/log"

	"github.com/begonlabs/unified-agent-pro-sub001/internal/models"
)

func channelKey(channelType, accountID string) string {
	return channelType + ":" + accountID
}

// FindChannel returns the connected channel routed by (type, external account id).
func (s *Store) FindChannel(ctx context.Context, channelType, accountID string) (*models.CommunicationChannel, error) {
	key := channelKey(channelType, accountID)
	if s.channels != nil {
		if v, ok := s.channels.Get(key); ok {
			return cloneChannel(v.(*models.CommunicationChannel)), nil
		}
	}

	var ch models.CommunicationChannel
	err := s.db.WithContext(ctx).
		Where("channel_type = ? AND external_account_id = ? AND is_connected = ?", channelType, accountID, true).
		Order("updated_at DESC").
		First(&ch).Error
	if err != nil {
		return nil, notFound(err)
	}

	if s.channels != nil {
		s.channels.SetDefault(key, cloneChannel(&ch))
	}
	log.Debug().Str("channelType", channelType).Str("accountID", accountID).Str("ownerID", ch.UserID).Msg("Channel resolved")
	return &ch, nil
}

// cloneChannel copies ch so callers never share the cached config map.
func cloneChannel(ch *models.CommunicationChannel) *models.CommunicationChannel {
	out := *ch
	out.ChannelConfig = maps.Clone(ch.ChannelConfig)
	return &out
}

// InvalidateChannel drops a cached routing entry.
func (s *Store) InvalidateChannel(channelType, accountID string) {
	if s.channels != nil {
		s.channels.Delete(channelKey(channelType, accountID))
	}
}

// CreateChannel inserts a linked channel. Linking happens outside the pipeline;
// this is used by seeding and tests.
func (s *Store) CreateChannel(ctx context.Context, ch *models.CommunicationChannel) error {
	if ch.ID == "" {
		ch.ID = newID()
	}
	now := s.now()
	ch.CreatedAt, ch.UpdatedAt = now, now
	if err := s.db.WithContext(ctx).Create(ch).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create channel: %w", err)
	}
	return nil
}
