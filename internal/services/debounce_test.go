package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/begonlabs/unified-agent-pro-sub001/internal/models"
)

type fakeDebounceStore struct {
	newer   bool
	history []models.Message
	limit   int
}

func (f *fakeDebounceStore) HasClientMessagesAfter(context.Context, string, time.Time, string) (bool, error) {
	return f.newer, nil
}

func (f *fakeDebounceStore) RecentMessages(_ context.Context, _ string, limit int) ([]models.Message, error) {
	f.limit = limit
	return f.history, nil
}

func TestDebouncerDelay(t *testing.T) {
	fs := &fakeDebounceStore{}
	tests := []struct {
		name   string
		jitter int64
		floor  time.Duration
		want   time.Duration
	}{
		{"lower bound", 0, 0, 7 * time.Second},
		{"upper bound", int64(13 * time.Second), 0, 20 * time.Second},
		{"floor raises lower bound", 0, 10 * time.Second, 10 * time.Second},
		{"floor above upper bound", int64(time.Second), 30 * time.Second, 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDebouncer(fs, 7*time.Second, 20*time.Second, 20,
				WithJitter(func(n int64) int64 {
					if tt.jitter >= n {
						t.Fatalf("jitter %d out of range [0, %d)", tt.jitter, n)
					}
					return tt.jitter
				}))
			if err != nil {
				t.Fatal(err)
			}
			if got := d.Delay(tt.floor); got != tt.want {
				t.Errorf("Delay = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDebouncerSettle(t *testing.T) {
	history := []models.Message{{Content: "Hola"}, {Content: "necesito ayuda"}}
	trigger := &models.Message{ID: "m1", ConversationID: "c1"}

	tests := []struct {
		name   string
		newer  bool
		wantOK bool
	}{
		{"burst settled", false, true},
		{"newer message arrived", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := &fakeDebounceStore{newer: tt.newer, history: history}
			var slept time.Duration
			d, err := NewDebouncer(fs, time.Second, time.Second, 500,
				WithSleeper(func(_ context.Context, dur time.Duration) error { slept = dur; return nil }))
			if err != nil {
				t.Fatal(err)
			}
			got, ok, err := d.Settle(context.Background(), trigger, 0)
			if err != nil {
				t.Fatal(err)
			}
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if slept != time.Second {
				t.Errorf("slept %s, want 1s", slept)
			}
			if ok && (len(got) != 2 || fs.limit != MaxHistory) {
				t.Errorf("history = %v with limit %d, want 2 messages and limit %d", got, fs.limit, MaxHistory)
			}
		})
	}
}

func TestDebouncerSettleCancelled(t *testing.T) {
	d, err := NewDebouncer(&fakeDebounceStore{}, time.Hour, time.Hour, 20)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok, err := d.Settle(ctx, &models.Message{ConversationID: "c1"}, 0)
	if ok || !errors.Is(err, context.Canceled) {
		t.Errorf("Settle = %v, %v; want cancellation", ok, err)
	}
}

func TestNewDebouncerRejectsInvertedRange(t *testing.T) {
	if _, err := NewDebouncer(&fakeDebounceStore{}, 20*time.Second, 7*time.Second, 20); err == nil {
		t.Error("expected error for inverted range")
	}
}

func TestClampHistory(t *testing.T) {
	tests := []struct{ in, want int }{{0, MinHistory}, {10, 10}, {75, 75}, {1000, MaxHistory}}
	for _, tt := range tests {
		if got := clamp(tt.in, MinHistory, MaxHistory); got != tt.want {
			t.Errorf("clamp(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
