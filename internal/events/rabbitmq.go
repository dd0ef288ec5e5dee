// Package events publishes pipeline events to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// Event names. Each is published to its own queue.
const (
	MessageReceived  = "message.received"
	ReplySent        = "reply.sent"
	ReplyFailed      = "reply.failed"
	AdvisorEscalated = "advisor.escalated"
)

// Event is the JSON envelope consumers receive.
type Event struct {
	Event          string         `json:"event"`
	OwnerID        string         `json:"ownerId"`
	Channel        string         `json:"channel"`
	ConversationID string         `json:"conversationId"`
	MessageID      string         `json:"messageId,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Noop discards every event; used when RabbitMQ is not configured.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }

// QueueName maps an event name to its queue: "<prefix>_<event>" with dots
// replaced by underscores.
func QueueName(prefix, event string) string {
	return prefix + "_" + strings.ReplaceAll(strings.ToLower(event), ".", "_")
}

// amqpChannel is the subset of *amqp091.Channel the publisher uses.
type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// RabbitPublisher publishes to durable queues on the default exchange.
type RabbitPublisher struct {
	conn   *amqp091.Connection
	prefix string

	mu       sync.Mutex
	ch       amqpChannel
	declared map[string]bool
}

// Dial connects to RabbitMQ and opens a channel.
func Dial(url, prefix string) (*RabbitPublisher, error) {
	if url == "" {
		return nil, errors.New("rabbitmq url cannot be empty")
	}
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	p := newRabbitPublisher(ch, prefix)
	p.conn = conn
	log.Info().Str("prefix", prefix).Msg("RabbitMQ connection established")
	return p, nil
}

func newRabbitPublisher(ch amqpChannel, prefix string) *RabbitPublisher {
	return &RabbitPublisher{ch: ch, prefix: prefix, declared: make(map[string]bool)}
}

// Publish declares the event's queue once, then publishes the envelope.
func (p *RabbitPublisher) Publish(ctx context.Context, ev Event) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	queue := QueueName(p.prefix, ev.Event)

	// amqp channels are not safe for concurrent publishing.
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.declared[queue] {
		if _, err := p.ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}
		p.declared[queue] = true
	}
	err = p.ch.PublishWithContext(ctx, "", queue, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    ev.OccurredAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	log.Debug().Str("queue", queue).Str("conversationID", ev.ConversationID).Msg("Published event to RabbitMQ")
	return nil
}

// Close releases the channel and connection.
func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}
