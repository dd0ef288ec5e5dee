package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/begonlabs/unified-agent-pro-sub001/internal/events"
	"github.com/begonlabs/unified-agent-pro-sub001/internal/inbound"
	"github.com/begonlabs/unified-agent-pro-sub001/internal/metrics"
	"github.com/begonlabs/unified-agent-pro-sub001/internal/models"
	"github.com/begonlabs/unified-agent-pro-sub001/internal/policy"
	"github.com/begonlabs/unified-agent-pro-sub001/internal/reply"
	"github.com/begonlabs/unified-agent-pro-sub001/internal/store"
)

var (
	// ErrUnknownChannel is returned when no connected channel matches the event's account id.
	ErrUnknownChannel = errors.New("no connected channel for account")
)

// NoticeCooldown limits the outside-hours notice to one per conversation per period.
const NoticeCooldown = time.Hour

// Outcome summarizes what Respond did.
type Outcome string

const (
	OutcomeSkipped    Outcome = "skipped"
	OutcomeNotice     Outcome = "outside_hours_notice"
	OutcomeDeferred   Outcome = "deferred"
	OutcomeSent       Outcome = "sent"
	OutcomeSendFailed Outcome = "send_failed"
)

// Ingested is a persisted inbound message and everything resolved for it.
type Ingested struct {
	Event        inbound.Event
	Channel      *models.CommunicationChannel
	Client       *models.Client
	Conversation *models.Conversation
	Message      *models.Message
}

// PipelineDeps wires the pipeline. Publisher defaults to a no-op and Now to UTC wall time.
type PipelineDeps struct {
	Store      *store.Store
	Guard      *Guard
	Identity   *IdentityResolver
	Debouncer  *Debouncer
	Escalator  *Escalator
	Dispatcher Sender
	Usage      *UsageAccountant
	Generator  reply.Generator
	Policy     policy.Engine
	Publisher  events.Publisher
	Now        func() time.Time

	// ReplyTimeout bounds one background Respond.
	ReplyTimeout time.Duration
	// Spawn runs background work; defaults to a tracked goroutine.
	Spawn func(func())
}

// Pipeline turns normalized inbound events into stored messages and replies.
type Pipeline struct {
	store      *store.Store
	guard      *Guard
	identity   *IdentityResolver
	debouncer  *Debouncer
	escalator  *Escalator
	dispatcher Sender
	usage      *UsageAccountant
	generator  reply.Generator
	policy     policy.Engine
	publisher  events.Publisher
	now        func() time.Time

	replyTimeout time.Duration
	spawn        func(func())
	wg           sync.WaitGroup
}

// NewPipeline validates deps and builds a pipeline.
func NewPipeline(d PipelineDeps) (*Pipeline, error) {
	var missing []string
	if d.Store == nil {
		missing = append(missing, "store")
	}
	if d.Guard == nil {
		missing = append(missing, "guard")
	}
	if d.Identity == nil {
		missing = append(missing, "identity resolver")
	}
	if d.Debouncer == nil {
		missing = append(missing, "debouncer")
	}
	if d.Escalator == nil {
		missing = append(missing, "escalator")
	}
	if d.Dispatcher == nil {
		missing = append(missing, "dispatcher")
	}
	if d.Usage == nil {
		missing = append(missing, "usage accountant")
	}
	if d.Generator == nil {
		missing = append(missing, "reply generator")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("pipeline missing dependencies: %v", missing)
	}

	p := &Pipeline{
		store:        d.Store,
		guard:        d.Guard,
		identity:     d.Identity,
		debouncer:    d.Debouncer,
		escalator:    d.Escalator,
		dispatcher:   d.Dispatcher,
		usage:        d.Usage,
		generator:    d.Generator,
		policy:       d.Policy,
		publisher:    d.Publisher,
		now:          d.Now,
		replyTimeout: d.ReplyTimeout,
		spawn:        d.Spawn,
	}
	if p.publisher == nil {
		p.publisher = events.Noop{}
	}
	if p.now == nil {
		p.now = utcNow
	}
	if p.replyTimeout <= 0 {
		p.replyTimeout = 2 * time.Minute
	}
	if p.spawn == nil {
		p.spawn = p.goTracked
	}
	return p, nil
}

func (p *Pipeline) goTracked(f func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		f()
	}()
}

// Wait blocks until every background reply started by Process has finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Process ingests each event synchronously and schedules its reply in the
// background. Drops and errors are logged; the returned error is the first
// persistence failure, if any.
func (p *Pipeline) Process(ctx context.Context, evs []inbound.Event) error {
	var firstErr error
	for _, ev := range evs {
		in, err := p.Ingest(ctx, ev)
		switch {
		case errors.Is(err, ErrDuplicateEvent), errors.Is(err, ErrEchoEvent), errors.Is(err, ErrUnknownChannel):
			log.Info().Err(err).Str("channel", string(ev.Channel)).Str("accountID", ev.AccountID).Str("messageID", ev.MessageID).Msg("Event dropped")
			continue
		case err != nil:
			log.Error().Err(err).Str("channel", string(ev.Channel)).Str("accountID", ev.AccountID).Msg("Failed to ingest event")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		if in.Event.IsEcho {
			continue
		}
		// Detached from the request so the reply outlives the webhook response.
		p.spawn(func() {
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.replyTimeout)
			defer cancel()
			outcome, err := p.Respond(rctx, in)
			if err != nil {
				log.Error().Err(err).Str("conversationID", in.Conversation.ID).Msg("Reply phase failed")
				return
			}
			log.Debug().Str("conversationID", in.Conversation.ID).Str("outcome", string(outcome)).Msg("Reply phase finished")
		})
	}
	return firstErr
}

// Ingest guards, routes, resolves and persists one event. It never replies.
func (p *Pipeline) Ingest(ctx context.Context, ev inbound.Event) (*Ingested, error) {
	if err := p.guard.CheckRedelivery(ctx, ev); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			metrics.Dropped("duplicate")
		}
		return nil, err
	}

	ch, err := p.store.FindChannel(ctx, string(ev.Channel), ev.AccountID)
	if errors.Is(err, store.ErrNotFound) {
		metrics.Dropped("unknown_channel")
		return nil, fmt.Errorf("%w: %s %s", ErrUnknownChannel, ev.Channel, ev.AccountID)
	}
	if err != nil {
		return nil, fmt.Errorf("find channel: %w", err)
	}
	if !ch.IsConnected {
		metrics.Dropped("channel_disconnected")
		return nil, fmt.Errorf("%w: %s %s is disconnected", ErrUnknownChannel, ev.Channel, ev.AccountID)
	}

	if err := p.guard.CheckEcho(ctx, ch.UserID, ev); err != nil {
		if errors.Is(err, ErrEchoEvent) {
			metrics.Dropped("echo")
		}
		return nil, err
	}

	client, conv, err := p.identity.Resolve(ctx, ch, ev)
	if err != nil {
		return nil, fmt.Errorf("resolve identity: %w", err)
	}

	sender := models.SenderClient
	if ev.IsEcho {
		sender = models.SenderAgent
	}
	msg := &models.Message{
		ConversationID:    conv.ID,
		Content:           ev.Text,
		SenderType:        sender,
		PlatformMessageID: optional(ev.MessageID),
		Metadata:          eventMetadata(ev),
	}
	if err := p.store.AppendMessage(ctx, msg); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			metrics.Dropped("duplicate")
			return nil, ErrDuplicateEvent
		}
		return nil, err
	}

	if err := p.store.TouchConversation(ctx, conv.ID, msg.CreatedAt, !ev.IsEcho); err != nil {
		log.Warn().Err(err).Str("conversationID", conv.ID).Msg("Failed to update conversation activity")
	}

	log.Info().
		Str("channel", string(ev.Channel)).
		Str("conversationID", conv.ID).
		Str("messageID", msg.ID).
		Str("sender", sender).
		Msg("Message stored")

	p.publish(ctx, events.Event{
		Event:          events.MessageReceived,
		OwnerID:        ch.UserID,
		Channel:        string(ev.Channel),
		ConversationID: conv.ID,
		MessageID:      msg.ID,
		Payload:        map[string]any{"sender_type": sender, "content": ev.Text},
	})

	return &Ingested{Event: ev, Channel: ch, Client: client, Conversation: conv, Message: msg}, nil
}

// Respond decides whether to answer in, waits out the burst, and sends one
// reply for it. The returned error is reserved for persistence failures and
// generator errors; send failures are recorded on the stored reply.
func (p *Pipeline) Respond(ctx context.Context, in *Ingested) (Outcome, error) {
	if in.Event.IsEcho {
		return OutcomeSkipped, nil
	}
	logger := log.With().Str("conversationID", in.Conversation.ID).Str("channel", string(in.Event.Channel)).Logger()

	conv, err := p.store.GetConversation(ctx, in.Conversation.ID)
	if err != nil {
		return "", fmt.Errorf("reload conversation: %w", err)
	}
	if !conv.AIEnabled {
		metrics.Dropped("ai_disabled")
		logger.Debug().Msg("Automatic replies disabled for conversation")
		return OutcomeSkipped, nil
	}

	cfg, err := p.store.GetAIConfiguration(ctx, in.Channel.UserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("load ai configuration: %w", err)
	}
	owner, err := p.store.GetProfile(ctx, in.Channel.UserID)
	if err != nil {
		return "", fmt.Errorf("load owner profile: %w", err)
	}

	decision := p.policy.Decide(cfg, policy.QuotaFromProfile(owner), in.Message.Content, p.now())
	if !decision.Respond {
		metrics.Dropped(string(decision.Reason))
		logger.Info().Str("reason", string(decision.Reason)).Msg("Reply suppressed by policy")
		if decision.Reason == policy.ReasonOutsideHours {
			return p.sendOutsideHoursNotice(ctx, in, conv, cfg)
		}
		return OutcomeSkipped, nil
	}

	floor := time.Duration(cfg.ResponseDelay) * time.Second
	history, settled, err := p.debouncer.Settle(ctx, in.Message, floor)
	if err != nil {
		return "", err
	}
	if !settled {
		metrics.Dropped("superseded")
		return OutcomeDeferred, nil
	}

	// A human may have taken over during the wait.
	conv, err = p.store.GetConversation(ctx, conv.ID)
	if err != nil {
		return "", fmt.Errorf("reload conversation: %w", err)
	}
	if !conv.AIEnabled {
		metrics.Dropped("ai_disabled")
		return OutcomeSkipped, nil
	}
	// Replies in other conversations may have used up the plan during the wait.
	owner, err = p.store.GetProfile(ctx, owner.ID)
	if err != nil {
		return "", fmt.Errorf("reload owner profile: %w", err)
	}
	if reason := policy.QuotaFromProfile(owner).Check(); reason != policy.ReasonNone {
		metrics.Dropped(string(reason))
		logger.Info().Str("reason", string(reason)).Msg("Reply suppressed after debounce")
		return OutcomeSkipped, nil
	}

	turns := reply.TurnsFromMessages(history)
	message := reply.PendingText(turns, in.Message.Content)
	res, err := p.generator.Generate(ctx, message, turns, cfg)
	if err != nil {
		metrics.Dropped("generator_error")
		return "", fmt.Errorf("generate reply: %w", err)
	}
	text := reply.WithFAQHint(res.Text, res.Confidence)

	if res.Escalate {
		p.escalator.Escalate(ctx, owner, in.Client, conv, message)
		metrics.EscalationsTotal.Inc()
		p.publish(ctx, events.Event{
			Event:          events.AdvisorEscalated,
			OwnerID:        owner.ID,
			Channel:        conv.Channel,
			ConversationID: conv.ID,
			Payload:        map[string]any{"client_id": in.Client.ID, "trigger": message},
		})
	}

	platformID, sendErr := p.dispatcher.Send(ctx, in.Channel, conv.ChannelThreadID, text)
	sent := sendErr == nil
	if !sent {
		logger.Error().Err(sendErr).Msg("Failed to send reply")
	}

	meta := map[string]any{
		"confidence":        res.Confidence,
		"sent_successfully": sent,
		"escalated":         res.Escalate,
	}
	if sendErr != nil {
		meta["error"] = sendErr.Error()
	}
	stored := &models.Message{
		ConversationID:    conv.ID,
		Content:           text,
		SenderType:        models.SenderIA,
		PlatformMessageID: optional(platformID),
		Metadata:          meta,
	}
	switch err := p.store.AppendMessage(ctx, stored); {
	case errors.Is(err, store.ErrDuplicate):
		// The provider's echo of this send was stored first.
		logger.Warn().Str("platformMessageID", platformID).Msg("Reply already stored, skipping insert")
	case err != nil:
		logger.Error().Err(err).Msg("Failed to store reply")
	default:
		if err := p.store.TouchConversation(ctx, conv.ID, stored.CreatedAt, false); err != nil {
			logger.Warn().Err(err).Msg("Failed to update conversation activity")
		}
	}

	metrics.Reply(conv.Channel, sent, in.Message.CreatedAt)
	p.afterSend(ctx, owner.ID, conv, stored, sent)

	if !sent {
		return OutcomeSendFailed, nil
	}
	logger.Info().Str("messageID", stored.ID).Float64("confidence", res.Confidence).Bool("escalated", res.Escalate).Msg("Reply sent")
	return OutcomeSent, nil
}

// afterSend counts usage for delivered replies and publishes the outcome.
func (p *Pipeline) afterSend(ctx context.Context, ownerID string, conv *models.Conversation, stored *models.Message, sent bool) {
	name := events.ReplyFailed
	if sent {
		name = events.ReplySent
	}
	steps := []Step{{Name: "publish", Run: func(ctx context.Context) error {
		return p.publisher.Publish(ctx, events.Event{
			Event:          name,
			OwnerID:        ownerID,
			Channel:        conv.Channel,
			ConversationID: conv.ID,
			MessageID:      stored.ID,
			Payload:        stored.Metadata,
			OccurredAt:     p.now(),
		})
	}}}
	if sent {
		steps = append(steps, Step{Name: "increment_usage", Run: func(ctx context.Context) error {
			return p.usage.IncrementUsage(ctx, ownerID)
		}})
	}
	RunSideEffects(ctx, steps...)
}

func (p *Pipeline) sendOutsideHoursNotice(ctx context.Context, in *Ingested, conv *models.Conversation, cfg *models.AIConfiguration) (Outcome, error) {
	recent, err := p.store.HasMessageSince(ctx, conv.ID, models.SenderSystem, p.now().Add(-NoticeCooldown))
	if err != nil {
		return "", err
	}
	if recent {
		return OutcomeSkipped, nil
	}

	text := policy.OutsideHoursNotice(cfg)
	platformID, sendErr := p.dispatcher.Send(ctx, in.Channel, conv.ChannelThreadID, text)
	meta := map[string]any{"kind": "outside_hours", "sent_successfully": sendErr == nil}
	if sendErr != nil {
		meta["error"] = sendErr.Error()
		log.Error().Err(sendErr).Str("conversationID", conv.ID).Msg("Failed to send outside-hours notice")
	}
	notice := &models.Message{
		ConversationID:    conv.ID,
		Content:           text,
		SenderType:        models.SenderSystem,
		PlatformMessageID: optional(platformID),
		Metadata:          meta,
	}
	if err := p.store.AppendMessage(ctx, notice); err != nil && !errors.Is(err, store.ErrDuplicate) {
		return "", fmt.Errorf("store outside-hours notice: %w", err)
	}
	return OutcomeNotice, nil
}

func (p *Pipeline) publish(ctx context.Context, ev events.Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = p.now()
	}
	if err := p.publisher.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("event", ev.Event).Str("conversationID", ev.ConversationID).Msg("Failed to publish event")
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func eventMetadata(ev inbound.Event) map[string]any {
	meta := make(map[string]any, len(ev.Raw)+3)
	for k, v := range ev.Raw {
		meta[k] = v
	}
	meta["channel"] = string(ev.Channel)
	meta["sender_id"] = ev.SenderID
	meta["is_echo"] = ev.IsEcho
	if !ev.Timestamp.IsZero() {
		meta["platform_timestamp"] = ev.Timestamp.UTC().Format(time.RFC3339)
	}
	return meta
}
