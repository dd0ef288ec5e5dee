// Package reply holds the pluggable reply generator and its heuristic implementation.
package reply

import (
	"context"
	"strings"
	"time"

	"github.com/begonlabs/unified-agent-pro-sub001/internal/models"
)

// LowConfidence is the threshold below which an FAQ hint is appended.
const LowConfidence = 0.5

const faqHint = "\n\nTambién puedes revisar nuestras preguntas frecuentes o escribir \"asesor\" para hablar con una persona de nuestro equipo."

// Turn is one message of the reply context.
type Turn struct {
	Sender  string
	Content string
	At      time.Time
}

// Result is a generated reply. Confidence is advisory metadata.
type Result struct {
	Text       string
	Confidence float64
	Escalate   bool
}

// Generator produces a reply for the latest customer message given the
// conversation so far, oldest first.
type Generator interface {
	Generate(ctx context.Context, message string, history []Turn, cfg *models.AIConfiguration) (Result, error)
}

// TurnsFromMessages converts stored messages into generator turns.
func TurnsFromMessages(msgs []models.Message) []Turn {
	turns := make([]Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, Turn{Sender: m.SenderType, Content: m.Content, At: m.CreatedAt})
	}
	return turns
}

// PendingText joins the customer turns after the last non-customer turn,
// i.e. the burst still awaiting an answer. It falls back to message.
func PendingText(history []Turn, message string) string {
	var parts []string
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Sender != models.SenderClient {
			break
		}
		parts = append(parts, history[i].Content)
	}
	if len(parts) == 0 {
		return message
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " ")
}

// WithFAQHint appends the FAQ fallback hint when confidence is low.
func WithFAQHint(text string, confidence float64) string {
	if confidence >= LowConfidence {
		return text
	}
	return text + faqHint
}
