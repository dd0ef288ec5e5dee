// Package storetest opens migrated throwaway databases for tests.
package storetest

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/begonlabs/unified-agent-pro-sub001/internal/db"
	"github.com/begonlabs/unified-agent-pro-sub001/internal/models"
	"github.com/begonlabs/unified-agent-pro-sub001/internal/store"
)

// New returns a Store backed by a migrated sqlite file in t.TempDir().
func New(t testing.TB, opts ...store.Option) *store.Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db") + "?_pragma=busy_timeout(5000)&_time_format=sqlite"
	gdb, err := db.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(gdb) })
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return store.New(gdb, append([]store.Option{store.WithChannelCacheTTL(0)}, opts...)...)
}

// Clock is a manually advanced time source.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

// NewClock starts a clock at a fixed UTC instant.
func NewClock() *Clock {
	return &Clock{t: time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// Owner seeds a profile, a connected channel and an active configuration.
type Owner struct {
	Profile *models.Profile
	Channel *models.CommunicationChannel
	Config  *models.AIConfiguration
}

// SeedOwner creates an owner with a connected channel of the given type.
func SeedOwner(t testing.TB, s *store.Store, channelType, accountID string) *Owner {
	t.Helper()
	ctx := context.Background()
	p := &models.Profile{
		Email:         "owner@example.com",
		FullName:      "Owner",
		MessagesLimit: 100,
		PaymentStatus: "active",
	}
	if err := s.CreateProfile(ctx, p); err != nil {
		t.Fatalf("seed profile: %v", err)
	}
	ch := &models.CommunicationChannel{
		UserID:            p.ID,
		ChannelType:       channelType,
		ExternalAccountID: accountID,
		AccessToken:       "token-" + accountID,
		IsConnected:       true,
	}
	if err := s.CreateChannel(ctx, ch); err != nil {
		t.Fatalf("seed channel: %v", err)
	}
	cfg := &models.AIConfiguration{
		UserID:       p.ID,
		IsActive:     true,
		AlwaysActive: true,
		Timezone:     "UTC",
	}
	if err := s.SaveAIConfiguration(ctx, cfg); err != nil {
		t.Fatalf("seed ai configuration: %v", err)
	}
	return &Owner{Profile: p, Channel: ch, Config: cfg}
}
