// Package inbound defines the channel-neutral shape every webhook adapter produces.
package inbound

import (
	"regexp"
	"strings"
	"time"
)

// Channel identifies a messaging channel. Values match communication_channels.channel_type.
type Channel string

const (
	WhatsApp  Channel = "whatsapp"
	Messenger Channel = "messenger"
	Instagram Channel = "instagram"
)

// Platform is the human-readable channel name used in placeholder contact names.
func (c Channel) Platform() string {
	switch c {
	case WhatsApp:
		return "WhatsApp"
	case Messenger:
		return "Messenger"
	case Instagram:
		return "Instagram"
	}
	return string(c)
}

// Valid reports whether c is a supported channel.
func (c Channel) Valid() bool {
	return c == WhatsApp || c == Messenger || c == Instagram
}

// Event is one normalized inbound message.
type Event struct {
	Channel Channel
	// AccountID routes the event to a communication channel.
	AccountID string
	// SenderID authored this event; the business account itself for echoes.
	SenderID string
	// ThreadID is always the customer's external id.
	ThreadID   string
	SenderName string
	// MessageID is the platform message id, empty when the payload carries none.
	MessageID string
	Text      string
	IsEcho    bool
	Timestamp time.Time
	Raw       map[string]any
}

// Profile is contact data fetched from a channel's profile API.
type Profile struct {
	Name      string
	AvatarURL string
}

// PlaceholderName builds "<Platform> User <last4>" for contacts without a known name.
func PlaceholderName(c Channel, externalID string) string {
	id := externalID
	if len(id) > 4 {
		id = id[len(id)-4:]
	}
	return c.Platform() + " User " + id
}

var (
	placeholderPattern = regexp.MustCompile(`^(WhatsApp|Messenger|Instagram|Facebook) User \S{1,4}$`)
	numericPattern     = regexp.MustCompile(`^\+?[0-9\s\-]+$`)
)

// LooksLikePlaceholder reports whether name is synthetic or just a number,
// meaning a better value should replace it when one is found.
func LooksLikePlaceholder(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return true
	}
	return placeholderPattern.MatchString(name) || numericPattern.MatchString(name)
}
