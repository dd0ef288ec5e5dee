package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/begonlabs/unified-agent-pro-sub001/internal/inbound"
	"github.com/begonlabs/unified-agent-pro-sub001/internal/models"
	"github.com/begonlabs/unified-agent-pro-sub001/internal/policy"
	"github.com/begonlabs/unified-agent-pro-sub001/internal/reply"
	"github.com/begonlabs/unified-agent-pro-sub001/internal/store"
	"github.com/begonlabs/unified-agent-pro-sub001/internal/store/storetest"
)

type sentMessage struct {
	ChannelID string
	ThreadID  string
	Text      string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeSender) Send(_ context.Context, ch *models.CommunicationChannel, threadID, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, sentMessage{ChannelID: ch.ID, ThreadID: threadID, Text: text})
	return fmt.Sprintf("out-%d", len(f.sent)), nil
}

func (f *fakeSender) Sent() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type fakeMailer struct {
	mu  sync.Mutex
	to  []string
	err error
}

func (f *fakeMailer) Send(_ context.Context, to, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.to = append(f.to, to)
	return f.err
}

// recordingGenerator captures what the pipeline passes to the heuristic.
type recordingGenerator struct {
	mu      sync.Mutex
	inner   reply.Generator
	calls   int
	message string
	history []reply.Turn
}

func (g *recordingGenerator) Generate(ctx context.Context, message string, history []reply.Turn, cfg *models.AIConfiguration) (reply.Result, error) {
	g.mu.Lock()
	g.calls++
	g.message = message
	g.history = history
	g.mu.Unlock()
	return g.inner.Generate(ctx, message, history, cfg)
}

type harness struct {
	store     *store.Store
	clock     *storetest.Clock
	owner     *storetest.Owner
	sender    *fakeSender
	mailer    *fakeMailer
	generator *recordingGenerator
	pipeline  *Pipeline

	// onSleep runs inside each debounce wait, after the clock advances.
	onSleep func()
}

// newHarness wires a pipeline on a temp database with a WhatsApp channel.
// Debounce waits advance the fake clock instead of sleeping.
func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := storetest.NewClock()
	s := storetest.New(t, store.WithClock(clock.Now))
	owner := storetest.SeedOwner(t, s, string(inbound.WhatsApp), "7103000001")

	h := &harness{
		store:     s,
		clock:     clock,
		owner:     owner,
		sender:    &fakeSender{},
		mailer:    &fakeMailer{},
		generator: &recordingGenerator{inner: reply.NewHeuristic()},
	}

	guard, err := NewGuard(s, time.Minute, clock.Now)
	if err != nil {
		t.Fatal(err)
	}
	identity, err := NewIdentityResolver(s, nil)
	if err != nil {
		t.Fatal(err)
	}
	debouncer, err := NewDebouncer(s, 7*time.Second, 20*time.Second, 20,
		WithSleeper(func(_ context.Context, d time.Duration) error {
			clock.Advance(d)
			if h.onSleep != nil {
				h.onSleep()
			}
			return nil
		}),
		WithJitter(func(int64) int64 { return 0 }),
	)
	if err != nil {
		t.Fatal(err)
	}
	escalator, err := NewEscalator(s, h.mailer, "https://app.example.com")
	if err != nil {
		t.Fatal(err)
	}
	usage, err := NewUsageAccountant(s)
	if err != nil {
		t.Fatal(err)
	}
	h.pipeline, err = NewPipeline(PipelineDeps{
		Store:      s,
		Guard:      guard,
		Identity:   identity,
		Debouncer:  debouncer,
		Escalator:  escalator,
		Dispatcher: h.sender,
		Usage:      usage,
		Generator:  h.generator,
		Policy:     policy.Engine{MinLength: 2},
		Now:        clock.Now,
		Spawn:      func(f func()) { f() },
	})
	if err != nil {
		t.Fatal(err)
	}
	return h
}

var eventSeq int

func (h *harness) inbound(text string) inbound.Event {
	eventSeq++
	return inbound.Event{
		Channel:   inbound.WhatsApp,
		AccountID: h.owner.Channel.ExternalAccountID,
		SenderID:  "5215550001@c.us",
		ThreadID:  "5215550001@c.us",
		MessageID: fmt.Sprintf("in-%d", eventSeq),
		Text:      text,
		Timestamp: h.clock.Now(),
	}
}

func (h *harness) ingest(t *testing.T, ev inbound.Event) *Ingested {
	t.Helper()
	in, err := h.pipeline.Ingest(context.Background(), ev)
	if err != nil {
		t.Fatalf("Ingest(%q): %v", ev.Text, err)
	}
	return in
}

func (h *harness) messages(t *testing.T, conversationID string) []models.Message {
	t.Helper()
	msgs, err := h.store.RecentMessages(context.Background(), conversationID, 100)
	if err != nil {
		t.Fatal(err)
	}
	return msgs
}
