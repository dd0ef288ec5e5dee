package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/begonlabs/unified-agent-pro-sub001/internal/models"
)

// FindClient looks a contact up by (owner, external id).
func (s *Store) FindClient(ctx context.Context, ownerID, externalID string) (*models.Client, error) {
	var c models.Client
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND phone = ?", ownerID, externalID).
		First(&c).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// GetClient loads a contact by primary key.
func (s *Store) GetClient(ctx context.Context, id string) (*models.Client, error) {
	var c models.Client
	if err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// CreateClient inserts a contact. A concurrent insert of the same
// (owner, external id) yields ErrDuplicate.
func (s *Store) CreateClient(ctx context.Context, c *models.Client) error {
	if c.ID == "" {
		c.ID = newID()
	}
	now := s.now()
	c.CreatedAt, c.UpdatedAt = now, now
	if c.Tags == nil {
		c.Tags = []string{}
	}
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create client: %w", err)
	}
	return nil
}

// UpdateClientProfile backfills name and avatar. Empty values are left untouched.
func (s *Store) UpdateClientProfile(ctx context.Context, id, name, avatarURL string) error {
	updates := map[string]any{"updated_at": s.now()}
	if name != "" {
		updates["name"] = name
	}
	if avatarURL != "" {
		updates["avatar_url"] = avatarURL
	}
	if len(updates) == 1 {
		return nil
	}
	res := s.db.WithContext(ctx).Model(&models.Client{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update client profile: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AddClientTag appends tag unless already present. It reports whether the tag was added.
func (s *Store) AddClientTag(ctx context.Context, clientID, tag string) (bool, error) {
	added := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c models.Client
		if err := tx.First(&c, "id = ?", clientID).Error; err != nil {
			return notFound(err)
		}
		if c.HasTag(tag) {
			return nil
		}
		tags := append(append([]string{}, c.Tags...), tag)
		if err := tx.Model(&c).Select("Tags", "UpdatedAt").Updates(&models.Client{Tags: tags, UpdatedAt: s.now()}).Error; err != nil {
			return fmt.Errorf("update client tags: %w", err)
		}
		added = true
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return false, err
	}
	return added, err
}
