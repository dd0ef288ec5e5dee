package gateway

import "encoding/json"

// Webhook is the envelope of every gateway delivery. Only the blocks
// relevant to typeWebhook are present.
type Webhook struct {
	TypeWebhook   string        `json:"typeWebhook"`
	InstanceData  *InstanceData `json:"instanceData"`
	Timestamp     int64         `json:"timestamp"`
	IDMessage     string        `json:"idMessage"`
	SenderData    *SenderData   `json:"senderData"`
	MessageData   *MessageData  `json:"messageData"`
	Status        string        `json:"status"`
	StateInstance string        `json:"stateInstance"`
}

// InstanceData identifies the gateway instance. The id arrives as a number
// or a string depending on gateway version.
type InstanceData struct {
	IDInstance   json.Number `json:"idInstance"`
	WID          string      `json:"wid"`
	TypeInstance string      `json:"typeInstance"`
}

type SenderData struct {
	ChatID            string `json:"chatId"`
	ChatName          string `json:"chatName"`
	Sender            string `json:"sender"`
	SenderName        string `json:"senderName"`
	SenderContactName string `json:"senderContactName"`
}

type MessageData struct {
	TypeMessage             string                   `json:"typeMessage"`
	TextMessageData         *TextMessageData         `json:"textMessageData"`
	ExtendedTextMessageData *ExtendedTextMessageData `json:"extendedTextMessageData"`
}

type TextMessageData struct {
	TextMessage string `json:"textMessage"`
}

type ExtendedTextMessageData struct {
	Text        string `json:"text"`
	Description string `json:"description"`
	Title       string `json:"title"`
	StanzaID    string `json:"stanzaId"`
	Participant string `json:"participant"`
}

// text returns the body of a text-bearing message, or "" for anything else.
func (m *MessageData) text() string {
	if m == nil {
		return ""
	}
	switch m.TypeMessage {
	case MessageText:
		if m.TextMessageData != nil {
			return m.TextMessageData.TextMessage
		}
	case MessageExtendedText, MessageQuoted:
		if m.ExtendedTextMessageData != nil {
			return m.ExtendedTextMessageData.Text
		}
	}
	return ""
}

type sendMessageRequest struct {
	ChatID  string `json:"chatId"`
	Message string `json:"message"`
}

type sendMessageResponse struct {
	IDMessage string `json:"idMessage"`
}

type contactInfoRequest struct {
	ChatID string `json:"chatId"`
}

type contactInfoResponse struct {
	Avatar      string `json:"avatar"`
	Name        string `json:"name"`
	ContactName string `json:"contactName"`
}
