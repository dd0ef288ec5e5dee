package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/begonlabs/unified-agent-pro-sub001/internal/models"
)

// GetProfile loads the owner's profile and quota counters.
func (s *Store) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	var p models.Profile
	if err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// CreateProfile is used by seeding and tests; profiles are owned by the dashboard.
func (s *Store) CreateProfile(ctx context.Context, p *models.Profile) error {
	if p.ID == "" {
		p.ID = newID()
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

// IncrementMessagesSent adds one to messages_sent_this_month in a single statement.
func (s *Store) IncrementMessagesSent(ctx context.Context, ownerID string) error {
	res := s.db.WithContext(ctx).Model(&models.Profile{}).
		Where("id = ?", ownerID).
		UpdateColumn("messages_sent_this_month", gorm.Expr("messages_sent_this_month + ?", 1))
	if res.Error != nil {
		return fmt.Errorf("increment messages sent: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetMessagesSent overwrites the monthly counter.
func (s *Store) SetMessagesSent(ctx context.Context, ownerID string, n int) error {
	res := s.db.WithContext(ctx).Model(&models.Profile{}).
		Where("id = ?", ownerID).
		UpdateColumn("messages_sent_this_month", n)
	if res.Error != nil {
		return fmt.Errorf("set messages sent: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetMonthlyUsage zeroes every profile's counter and returns how many changed.
func (s *Store) ResetMonthlyUsage(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Profile{}).
		Where("messages_sent_this_month <> ?", 0).
		UpdateColumn("messages_sent_this_month", 0)
	if res.Error != nil {
		return 0, fmt.Errorf("reset monthly usage: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// GetAIConfiguration loads the owner's agent configuration.
func (s *Store) GetAIConfiguration(ctx context.Context, ownerID string) (*models.AIConfiguration, error) {
	var c models.AIConfiguration
	if err := s.db.WithContext(ctx).First(&c, "user_id = ?", ownerID).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// SaveAIConfiguration is used by seeding and tests.
func (s *Store) SaveAIConfiguration(ctx context.Context, c *models.AIConfiguration) error {
	if c.ID == "" {
		c.ID = newID()
	}
	if err := s.db.WithContext(ctx).Save(c).Error; err != nil {
		return fmt.Errorf("save ai configuration: %w", err)
	}
	return nil
}
