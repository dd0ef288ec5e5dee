package gateway

// Webhook types delivered by the gateway.
const (
	TypeIncomingMessage    = "incomingMessageReceived"
	TypeOutgoingMessage    = "outgoingMessageReceived"
	TypeOutgoingAPIMessage = "outgoingAPIMessageReceived"
	TypeOutgoingStatus     = "outgoingMessageStatus"
	TypeStateInstance      = "stateInstanceChanged"
	TypeDeviceInfo         = "deviceInfo"
	TypeIncomingCall       = "incomingCall"
	TypeIncomingBlock      = "incomingBlock"
	TypeStatusInstance     = "statusInstanceChanged"
)

// List of supported webhook types
var supportedWebhookTypes = []string{
	// Messages
	TypeIncomingMessage,
	TypeOutgoingMessage,
	TypeOutgoingAPIMessage,

	// Delivery receipts
	TypeOutgoingStatus,

	// Instance and session
	TypeStateInstance,
	TypeStatusInstance,
	TypeDeviceInfo,

	// Calls and contacts
	TypeIncomingCall,
	TypeIncomingBlock,
}

// Map for quick validation
var webhookTypeMap map[string]bool

func init() {
	webhookTypeMap = make(map[string]bool, len(supportedWebhookTypes))
	for _, t := range supportedWebhookTypes {
		webhookTypeMap[t] = true
	}
}

// isValidWebhookType reports whether the gateway documents this webhook type.
func isValidWebhookType(t string) bool {
	return webhookTypeMap[t]
}

// Message types that carry text.
const (
	MessageText         = "textMessage"
	MessageExtendedText = "extendedTextMessage"
	MessageQuoted       = "quotedMessage"
)

const (
	personalChatSuffix = "@c.us"
	groupChatSuffix    = "@g.us"
)

// Instance id prefixes that pin the API host.
const (
	altHostPrefix     = "77"
	defaultHostPrefix = "71"
)
