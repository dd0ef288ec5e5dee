package meta

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/begonlabs/unified-agent-pro-sub001/internal/inbound"
)

// Parser decodes deliveries for one Meta channel.
type Parser struct {
	channel inbound.Channel
	object  string
}

// NewParser returns a parser for Messenger or Instagram.
func NewParser(channel inbound.Channel) (*Parser, error) {
	switch channel {
	case inbound.Messenger:
		return &Parser{channel: channel, object: "page"}, nil
	case inbound.Instagram:
		return &Parser{channel: channel, object: "instagram"}, nil
	}
	return nil, fmt.Errorf("meta parser does not support channel %q", channel)
}

// Channel returns the channel this parser serves.
func (p *Parser) Channel() inbound.Channel {
	return p.channel
}

// Parse decodes a delivery into zero or more text events. A single delivery
// may batch several entries and messaging items.
func (p *Parser) Parse(body []byte) ([]inbound.Event, error) {
	var wh Webhook
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&wh); err != nil {
		return nil, fmt.Errorf("decode %s webhook: %w", p.channel, err)
	}
	if wh.Object != p.object {
		log.Warn().Str("channel", string(p.channel)).Str("object", wh.Object).Msg("Webhook object does not match channel, skipping")
		return nil, nil
	}

	var events []inbound.Event
	for _, entry := range wh.Entry {
		for _, m := range entry.Messaging {
			ev, ok := p.event(entry, m)
			if ok {
				events = append(events, ev)
			}
		}
	}
	return events, nil
}

func (p *Parser) event(entry Entry, m Messaging) (inbound.Event, bool) {
	if m.Message == nil {
		// delivery, read, postback and reaction events
		return inbound.Event{}, false
	}
	if m.Message.IsDeleted {
		return inbound.Event{}, false
	}
	text := strings.TrimSpace(m.Message.Text)
	if text == "" {
		log.Debug().Str("channel", string(p.channel)).Str("mid", m.Message.MID).Msg("Non-text message acknowledged")
		return inbound.Event{}, false
	}

	ev := inbound.Event{
		Channel:   p.channel,
		SenderID:  m.Sender.ID,
		MessageID: m.Message.MID,
		Text:      text,
		IsEcho:    m.Message.IsEcho,
		Raw: map[string]any{
			"entry_id": entry.ID,
		},
	}
	if m.Message.IsEcho {
		// The business account sent this; the customer is the recipient.
		ev.AccountID = m.Sender.ID
		ev.ThreadID = m.Recipient.ID
		if id := m.Message.AppID.String(); id != "" {
			ev.Raw["app_id"] = id
		}
	} else {
		ev.AccountID = m.Recipient.ID
		ev.ThreadID = m.Sender.ID
	}
	if ev.AccountID == "" {
		ev.AccountID = entry.ID
	}
	if ev.AccountID == "" || ev.ThreadID == "" {
		log.Warn().Str("channel", string(p.channel)).Str("mid", m.Message.MID).Msg("Message without routing ids, skipping")
		return inbound.Event{}, false
	}
	if m.Timestamp > 0 {
		ev.Timestamp = time.UnixMilli(m.Timestamp).UTC()
		ev.Raw["platform_timestamp"] = m.Timestamp
	}
	return ev, true
}
