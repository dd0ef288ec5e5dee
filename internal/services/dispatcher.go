package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/begonlabs/unified-agent-pro-sub001/internal/inbound"
	"github.com/begonlabs/unified-agent-pro-sub001/internal/models"
)

// Sender delivers text on one channel and returns the platform message id.
// Each implementation owns its host selection and request shape.
type Sender interface {
	Send(ctx context.Context, ch *models.CommunicationChannel, threadID, text string) (string, error)
}

// Dispatcher routes outbound replies to the sender of the originating channel,
// throttled per linked account.
type Dispatcher struct {
	senders map[inbound.Channel]Sender
	limit   rate.Limit
	burst   int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewDispatcher creates a dispatcher allowing perSecond sends per account.
func NewDispatcher(senders map[inbound.Channel]Sender, perSecond float64) (*Dispatcher, error) {
	if len(senders) == 0 {
		return nil, errors.New("dispatcher needs at least one sender")
	}
	if perSecond <= 0 {
		return nil, errors.New("dispatcher rate must be positive")
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &Dispatcher{
		senders:  senders,
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}, nil
}

func (d *Dispatcher) limiter(channelID string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[channelID]
	if !ok {
		l = rate.NewLimiter(d.limit, d.burst)
		d.limiters[channelID] = l
	}
	return l
}

// Send delivers text to threadID through ch.
func (d *Dispatcher) Send(ctx context.Context, ch *models.CommunicationChannel, threadID, text string) (string, error) {
	channel := inbound.Channel(ch.ChannelType)
	sender, ok := d.senders[channel]
	if !ok {
		return "", fmt.Errorf("no sender registered for channel %q", ch.ChannelType)
	}
	if err := d.limiter(ch.ID).Wait(ctx); err != nil {
		return "", fmt.Errorf("outbound throttle: %w", err)
	}
	return sender.Send(ctx, ch, threadID, text)
}
