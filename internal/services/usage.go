package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/rs/zerolog/log"

	"github.com/begonlabs/unified-agent-pro-sub001/internal/models"
)

// UsageStore is the persistence the accountant needs.
type UsageStore interface {
	IncrementMessagesSent(ctx context.Context, ownerID string) error
	GetProfile(ctx context.Context, id string) (*models.Profile, error)
	SetMessagesSent(ctx context.Context, ownerID string, n int) error
}

// UsageAccountant counts automatically sent replies against the monthly quota.
type UsageAccountant struct {
	store UsageStore
}

// NewUsageAccountant creates an accountant.
func NewUsageAccountant(store UsageStore) (*UsageAccountant, error) {
	if store == nil {
		return nil, errors.New("usage store cannot be nil")
	}
	return &UsageAccountant{store: store}, nil
}

// IncrementUsage adds one sent message. The atomic increment is preferred;
// if it fails, a read-modify-write is attempted, accepting a small race
// over losing the increment.
func (u *UsageAccountant) IncrementUsage(ctx context.Context, ownerID string) error {
	err := u.store.IncrementMessagesSent(ctx, ownerID)
	if err == nil {
		return nil
	}
	log.Warn().Err(err).Str("ownerID", ownerID).Msg("Atomic usage increment failed, falling back to read-modify-write")

	p, getErr := u.store.GetProfile(ctx, ownerID)
	if getErr != nil {
		return fmt.Errorf("usage fallback read: %w", errors.Join(err, getErr))
	}
	if setErr := u.store.SetMessagesSent(ctx, ownerID, p.MessagesSentThisMonth+1); setErr != nil {
		return fmt.Errorf("usage fallback write: %w", errors.Join(err, setErr))
	}
	return nil
}

// UsageResetter zeroes monthly counters.
type UsageResetter interface {
	ResetMonthlyUsage(ctx context.Context) (int64, error)
}

// UsageResetScheduler resets monthly counters on a cron schedule.
type UsageResetScheduler struct {
	store UsageResetter
	cron  string
	now   func() time.Time
	sleep Sleeper
}

// NewUsageResetScheduler validates the cron expression.
func NewUsageResetScheduler(store UsageResetter, cronExpr string) (*UsageResetScheduler, error) {
	if store == nil {
		return nil, errors.New("usage reset store cannot be nil")
	}
	if !gronx.IsValid(cronExpr) {
		return nil, fmt.Errorf("invalid usage reset cron expression: %s", cronExpr)
	}
	return &UsageResetScheduler{store: store, cron: cronExpr, now: utcNow, sleep: SleepContext}, nil
}

// Next returns the next reset after t.
func (s *UsageResetScheduler) Next(t time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.cron, t, false)
}

// Run sleeps until each tick and resets counters until ctx is cancelled.
func (s *UsageResetScheduler) Run(ctx context.Context) error {
	log.Info().Str("cron", s.cron).Msg("Usage reset scheduler started")
	for {
		next, err := s.Next(s.now())
		if err != nil {
			return fmt.Errorf("compute next usage reset: %w", err)
		}
		log.Debug().Time("next", next).Msg("Next usage reset scheduled")
		if err := s.sleep(ctx, next.Sub(s.now())); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.Info().Msg("Usage reset scheduler stopping")
				return nil
			}
			return err
		}
		s.RunOnce(ctx)
	}
}

// RunOnce performs one reset and logs the outcome.
func (s *UsageResetScheduler) RunOnce(ctx context.Context) {
	n, err := s.store.ResetMonthlyUsage(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Monthly usage reset failed")
		return
	}
	log.Info().Int64("profiles", n).Msg("Monthly usage counters reset")
}
