package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/begonlabs/unified-agent-pro-sub001/internal/inbound"
)

// Parse decodes a gateway delivery. Malformed JSON is an error; receipts,
// state changes, group chats and non-text messages yield no events.
func Parse(body []byte) ([]inbound.Event, error) {
	var wh Webhook
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&wh); err != nil {
		return nil, fmt.Errorf("decode gateway webhook: %w", err)
	}

	if !isValidWebhookType(wh.TypeWebhook) {
		log.Warn().Str("typeWebhook", wh.TypeWebhook).Msg("Received unknown gateway webhook type")
		return nil, nil
	}

	var isEcho bool
	switch wh.TypeWebhook {
	case TypeIncomingMessage:
	case TypeOutgoingMessage, TypeOutgoingAPIMessage:
		isEcho = true
	default:
		log.Debug().Str("typeWebhook", wh.TypeWebhook).Msg("Gateway webhook acknowledged without processing")
		return nil, nil
	}

	if wh.InstanceData == nil || wh.InstanceData.IDInstance.String() == "" {
		log.Warn().Str("typeWebhook", wh.TypeWebhook).Msg("Gateway message without instance id, skipping")
		return nil, nil
	}
	if wh.SenderData == nil || wh.SenderData.ChatID == "" {
		log.Warn().Str("idMessage", wh.IDMessage).Msg("Gateway message without chat id, skipping")
		return nil, nil
	}
	if strings.HasSuffix(wh.SenderData.ChatID, groupChatSuffix) {
		log.Debug().Str("chatId", wh.SenderData.ChatID).Msg("Group chat message ignored")
		return nil, nil
	}

	text := strings.TrimSpace(wh.MessageData.text())
	if text == "" {
		typ := ""
		if wh.MessageData != nil {
			typ = wh.MessageData.TypeMessage
		}
		log.Debug().Str("idMessage", wh.IDMessage).Str("typeMessage", typ).Msg("Non-text gateway message acknowledged")
		return nil, nil
	}

	thread := chatIDToPhone(wh.SenderData.ChatID)
	ev := inbound.Event{
		Channel:   inbound.WhatsApp,
		AccountID: wh.InstanceData.IDInstance.String(),
		SenderID:  thread,
		ThreadID:  thread,
		MessageID: wh.IDMessage,
		Text:      text,
		IsEcho:    isEcho,
		Timestamp: unixOrZero(wh.Timestamp),
		Raw: map[string]any{
			"type_webhook": wh.TypeWebhook,
			"type_message": wh.MessageData.TypeMessage,
			"chat_id":      wh.SenderData.ChatID,
		},
	}
	if isEcho {
		ev.SenderID = chatIDToPhone(wh.SenderData.Sender)
	} else {
		ev.SenderName = firstNonEmpty(wh.SenderData.SenderName, wh.SenderData.SenderContactName, wh.SenderData.ChatName)
	}
	if wh.Timestamp > 0 {
		ev.Raw["gateway_timestamp"] = wh.Timestamp
	}
	return []inbound.Event{ev}, nil
}

// chatIDToPhone strips the personal chat suffix: "5215550001@c.us" -> "5215550001".
func chatIDToPhone(chatID string) string {
	return strings.TrimSuffix(chatID, personalChatSuffix)
}

// PhoneToChatID is the inverse of chatIDToPhone.
func PhoneToChatID(phone string) string {
	if strings.Contains(phone, "@") {
		return phone
	}
	return phone + personalChatSuffix
}

func unixOrZero(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
