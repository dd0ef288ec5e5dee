package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/begonlabs/unified-agent-pro-sub001/internal/models"
)

// History bounds for the reply context.
const (
	MinHistory = 10
	MaxHistory = 150
)

// DebounceStore is the persistence the debouncer re-queries after waiting.
type DebounceStore interface {
	HasClientMessagesAfter(ctx context.Context, conversationID string, after time.Time, excludeID string) (bool, error)
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the production Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Debouncer waits out message bursts. After a randomized wait it checks for
// newer customer messages; if any exist this invocation yields to the newer
// message's own invocation.
type Debouncer struct {
	store        DebounceStore
	min, max     time.Duration
	historyLimit int
	sleep        Sleeper
	jitter       func(n int64) int64
}

// DebouncerOption customizes a Debouncer.
type DebouncerOption func(*Debouncer)

// WithSleeper replaces the blocking sleep.
func WithSleeper(s Sleeper) DebouncerOption {
	return func(d *Debouncer) { d.sleep = s }
}

// WithJitter replaces the random source; it must return a value in [0, n).
func WithJitter(f func(n int64) int64) DebouncerOption {
	return func(d *Debouncer) { d.jitter = f }
}

// NewDebouncer creates a debouncer waiting between min and max. The history
// limit is clamped to [MinHistory, MaxHistory].
func NewDebouncer(store DebounceStore, min, max time.Duration, historyLimit int, opts ...DebouncerOption) (*Debouncer, error) {
	if store == nil {
		return nil, errors.New("debounce store cannot be nil")
	}
	if min < 0 || max < min {
		return nil, fmt.Errorf("invalid debounce range %s..%s", min, max)
	}
	d := &Debouncer{
		store:        store,
		min:          min,
		max:          max,
		historyLimit: clamp(historyLimit, MinHistory, MaxHistory),
		sleep:        SleepContext,
		jitter:       rand.Int63n,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Delay picks the wait. floor (the owner's configured response delay) raises
// the lower bound, and the upper bound when it exceeds it.
func (d *Debouncer) Delay(floor time.Duration) time.Duration {
	lo, hi := d.min, d.max
	if floor > lo {
		lo = floor
	}
	if hi < lo {
		hi = lo
	}
	if hi == lo {
		return lo
	}
	return lo + time.Duration(d.jitter(int64(hi-lo)+1))
}

// Settle waits, then returns the reply context oldest-first, or ok=false when
// the customer wrote again after trigger.
func (d *Debouncer) Settle(ctx context.Context, trigger *models.Message, floor time.Duration) (history []models.Message, ok bool, err error) {
	wait := d.Delay(floor)
	log.Debug().Str("conversationID", trigger.ConversationID).Dur("wait", wait).Msg("Debouncing before reply")
	if err := d.sleep(ctx, wait); err != nil {
		return nil, false, fmt.Errorf("debounce wait: %w", err)
	}

	newer, err := d.store.HasClientMessagesAfter(ctx, trigger.ConversationID, trigger.CreatedAt, trigger.ID)
	if err != nil {
		return nil, false, err
	}
	if newer {
		log.Info().Str("conversationID", trigger.ConversationID).Str("messageID", trigger.ID).Msg("Newer customer message arrived, deferring reply")
		return nil, false, nil
	}

	history, err = d.store.RecentMessages(ctx, trigger.ConversationID, d.historyLimit)
	if err != nil {
		return nil, false, err
	}
	return history, true, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
