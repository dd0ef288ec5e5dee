package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/begonlabs/unified-agent-pro-sub001/internal/inbound"
)

var (
	// ErrDuplicateEvent marks a redelivery of an already stored message.
	ErrDuplicateEvent = errors.New("duplicate event")
	// ErrEchoEvent marks a self-originated message delivered back to us.
	ErrEchoEvent = errors.New("echo event")
)

// GuardStore is the persistence the guard consults.
type GuardStore interface {
	MessageExists(ctx context.Context, platformMessageID string) (bool, error)
	RecentOutboundWithContent(ctx context.Context, ownerID, channel, threadID, content string, since time.Time) (bool, error)
}

// Guard suppresses redeliveries and echoes before anything is persisted.
// Both checks hit the store; the unique index on platform_message_id is the
// backstop for concurrent deliveries that pass both.
type Guard struct {
	store  GuardStore
	window time.Duration
	now    func() time.Time
}

// NewGuard creates a guard with the heuristic echo window.
func NewGuard(store GuardStore, window time.Duration, now func() time.Time) (*Guard, error) {
	if store == nil {
		return nil, errors.New("guard store cannot be nil")
	}
	if window <= 0 {
		return nil, errors.New("echo window must be positive")
	}
	if now == nil {
		now = utcNow
	}
	return &Guard{store: store, window: window, now: now}, nil
}

// CheckRedelivery drops events whose platform id is already stored.
func (g *Guard) CheckRedelivery(ctx context.Context, ev inbound.Event) error {
	if ev.MessageID == "" {
		return nil
	}
	exists, err := g.store.MessageExists(ctx, ev.MessageID)
	if err != nil {
		return fmt.Errorf("redelivery check: %w", err)
	}
	if exists {
		return ErrDuplicateEvent
	}
	return nil
}

// CheckEcho drops events whose text matches an ia or agent message stored in
// the same thread within the window. It applies to gateway events, which have no
// reliable echo flag, and to flagged or id-less events elsewhere.
func (g *Guard) CheckEcho(ctx context.Context, ownerID string, ev inbound.Event) error {
	if ev.Channel != inbound.WhatsApp && !ev.IsEcho && ev.MessageID != "" {
		return nil
	}
	since := g.now().Add(-g.window)
	found, err := g.store.RecentOutboundWithContent(ctx, ownerID, string(ev.Channel), ev.ThreadID, ev.Text, since)
	if err != nil {
		return fmt.Errorf("echo check: %w", err)
	}
	if found {
		return ErrEchoEvent
	}
	return nil
}

func utcNow() time.Time {
	return time.Now().UTC()
}
