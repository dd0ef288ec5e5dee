package meta

import "encoding/json"

// Webhook is a Messenger or Instagram delivery. Object is "page" for
// Messenger and "instagram" for Instagram.
type Webhook struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID        string      `json:"id"`
	Time      int64       `json:"time"`
	Messaging []Messaging `json:"messaging"`
}

// Messaging is one event. Exactly one of Message, Delivery, Read, Postback
// or Reaction is normally set.
type Messaging struct {
	Sender    Party           `json:"sender"`
	Recipient Party           `json:"recipient"`
	Timestamp int64           `json:"timestamp"`
	Message   *Message        `json:"message"`
	Delivery  json.RawMessage `json:"delivery"`
	Read      json.RawMessage `json:"read"`
	Postback  json.RawMessage `json:"postback"`
	Reaction  json.RawMessage `json:"reaction"`
}

type Party struct {
	ID string `json:"id"`
}

type Message struct {
	MID         string          `json:"mid"`
	Text        string          `json:"text"`
	IsEcho      bool            `json:"is_echo"`
	IsDeleted   bool            `json:"is_deleted"`
	AppID       json.Number     `json:"app_id"`
	Attachments json.RawMessage `json:"attachments"`
}

type sendRequest struct {
	Recipient     Party       `json:"recipient"`
	Message       sendMessage `json:"message"`
	MessagingType string      `json:"messaging_type,omitempty"`
}

type sendMessage struct {
	Text string `json:"text"`
}

type sendResponse struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
}

type graphError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

type profileResponse struct {
	Name       string `json:"name"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Username   string `json:"username"`
	ProfilePic string `json:"profile_pic"`
}
