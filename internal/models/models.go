package models

import (
	"time"
)

// Sender types stored on messages.sender_type.
const (
	SenderClient = "client"
	SenderAgent  = "agent"
	SenderIA     = "ia"
	SenderSystem = "system"
)

// Conversation statuses.
const (
	ConversationOpen   = "open"
	ConversationClosed = "closed"
)

// Profile carries the owner's quota counters. Only the columns the pipeline
// reads or writes are mapped.
type Profile struct {
	ID                    string `gorm:"primaryKey;type:varchar(36)"`
	Email                 string
	FullName              string
	MessagesSentThisMonth int    `gorm:"not null;default:0"`
	MessagesLimit         int    `gorm:"not null;default:0"`
	IsTrial               bool   `gorm:"not null"`
	PaymentStatus         string `gorm:"type:varchar(32)"`
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (Profile) TableName() string { return "profiles" }

// CommunicationChannel is a linked messaging account. ExternalAccountID is the
// gateway instance id, the Facebook page id or the Instagram business id.
type CommunicationChannel struct {
	ID                string         `gorm:"primaryKey;type:varchar(36)"`
	UserID            string         `gorm:"not null;uniqueIndex:idx_channel_owner_type_account"`
	ChannelType       string         `gorm:"not null;type:varchar(32);uniqueIndex:idx_channel_owner_type_account;index:idx_channel_routing"`
	ExternalAccountID string         `gorm:"not null;uniqueIndex:idx_channel_owner_type_account;index:idx_channel_routing"`
	AccessToken       string         `gorm:"type:text"`
	APIURL            string
	IsConnected       bool           `gorm:"not null"`
	ChannelConfig     map[string]any `gorm:"serializer:json"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (CommunicationChannel) TableName() string { return "communication_channels" }

// Client is a CRM contact. Phone holds the channel-scoped external id.
type Client struct {
	ID        string   `gorm:"primaryKey;type:varchar(36)"`
	UserID    string   `gorm:"not null;uniqueIndex:idx_client_owner_phone"`
	Phone     string   `gorm:"not null;uniqueIndex:idx_client_owner_phone"`
	Name      string
	AvatarURL string
	Source    string   `gorm:"type:varchar(32)"`
	Status    string   `gorm:"type:varchar(32)"`
	Tags      []string `gorm:"serializer:json"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Client) TableName() string { return "crm_clients" }

// HasTag reports whether the client already carries tag.
func (c *Client) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

type Conversation struct {
	ID              string `gorm:"primaryKey;type:varchar(36)"`
	UserID          string `gorm:"not null;uniqueIndex:idx_conversation_thread"`
	ClientID        string `gorm:"not null;uniqueIndex:idx_conversation_thread"`
	Channel         string `gorm:"not null;type:varchar(32);uniqueIndex:idx_conversation_thread"`
	ChannelThreadID string `gorm:"not null;uniqueIndex:idx_conversation_thread"`
	Status          string `gorm:"type:varchar(32)"`
	AIEnabled       bool   `gorm:"not null"`
	LastMessageAt   *time.Time
	UnreadCount     int `gorm:"not null;default:0"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (Conversation) TableName() string { return "conversations" }

// Message rows are append-only. PlatformMessageID is nil when the channel
// supplied no id, so the unique index only binds real ids.
type Message struct {
	ID                string         `gorm:"primaryKey;type:varchar(36)"`
	ConversationID    string         `gorm:"not null;index:idx_message_conversation_created"`
	Content           string         `gorm:"type:text"`
	SenderType        string         `gorm:"not null;type:varchar(16)"`
	PlatformMessageID *string        `gorm:"uniqueIndex"`
	Metadata          map[string]any `gorm:"serializer:json"`
	CreatedAt         time.Time      `gorm:"index:idx_message_conversation_created"`
}

func (Message) TableName() string { return "messages" }

// DayHours is one weekday's opening window in "15:04" form.
type DayHours struct {
	Enabled bool   `json:"enabled"`
	Open    string `json:"open"`
	Close   string `json:"close"`
}

// AIConfiguration is edited from the dashboard; the pipeline only reads it.
// OperatingHours is keyed by lower-case English weekday ("monday").
type AIConfiguration struct {
	ID                string              `gorm:"primaryKey;type:varchar(36)"`
	UserID            string              `gorm:"not null;uniqueIndex"`
	Goals             string              `gorm:"type:text"`
	Restrictions      string              `gorm:"type:text"`
	KnowledgeBase     string              `gorm:"type:text"`
	IsActive          bool                `gorm:"not null"`
	AlwaysActive      bool                `gorm:"not null"`
	OperatingHours    map[string]DayHours `gorm:"serializer:json"`
	Timezone          string
	ResponseDelay     int    // seconds
	OutOfHoursMessage string `gorm:"type:text"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (AIConfiguration) TableName() string { return "ai_configurations" }

type Notification struct {
	ID        string         `gorm:"primaryKey;type:varchar(36)"`
	UserID    string         `gorm:"not null;index"`
	Type      string         `gorm:"type:varchar(64)"`
	Priority  string         `gorm:"type:varchar(16)"`
	Title     string
	Message   string         `gorm:"type:text"`
	Metadata  map[string]any `gorm:"serializer:json"`
	ActionURL string
	IsRead    bool `gorm:"not null"`
	CreatedAt time.Time
}

func (Notification) TableName() string { return "notifications" }

// All lists every model for AutoMigrate.
func All() []any {
	return []any{
		&Profile{},
		&CommunicationChannel{},
		&Client{},
		&Conversation{},
		&Message{},
		&AIConfiguration{},
		&Notification{},
	}
}
