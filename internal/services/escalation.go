package services

import (
	"context"
	"errors"
	"fmt"
	"html"

	"github.com/rs/zerolog/log"

	"github.com/begonlabs/unified-agent-pro-sub001/internal/models"
	"github.com/begonlabs/unified-agent-pro-sub001/internal/store"
)

// AdvisorTag marks clients waiting for a human.
const AdvisorTag = "Asesor Requerido"

const (
	notificationAdvisor = "advisor_required"
	priorityHigh        = "high"
)

// Mailer sends an email to the owner.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// Escalator hands a conversation over to a human advisor.
type Escalator struct {
	store        *store.Store
	mailer       Mailer
	dashboardURL string
}

// NewEscalator creates an escalator. mailer may be nil when email is not configured.
func NewEscalator(s *store.Store, mailer Mailer, dashboardURL string) (*Escalator, error) {
	if s == nil {
		return nil, errors.New("store cannot be nil for Escalator")
	}
	return &Escalator{store: s, mailer: mailer, dashboardURL: dashboardURL}, nil
}

// Escalate tags the client, notifies the owner in-app and by email, and
// disables automatic replies. Every step is independent; failures are logged
// and returned in the results, never propagated.
func (e *Escalator) Escalate(ctx context.Context, owner *models.Profile, client *models.Client, conv *models.Conversation, trigger string) []StepResult {
	actionURL := e.dashboardURL + "/conversations/" + conv.ID
	clientName := client.Name

	results := RunSideEffects(ctx,
		Step{Name: "tag_client", Run: func(ctx context.Context) error {
			added, err := e.store.AddClientTag(ctx, client.ID, AdvisorTag)
			if err != nil {
				return err
			}
			if !added {
				log.Debug().Str("clientID", client.ID).Msg("Client already tagged for advisor")
			}
			return nil
		}},
		Step{Name: "notification", Run: func(ctx context.Context) error {
			_, err := e.store.CreateNotificationOnce(ctx, &models.Notification{
				UserID:   owner.ID,
				Type:     notificationAdvisor,
				Priority: priorityHigh,
				Title:    "Asesor requerido",
				Message:  fmt.Sprintf("%s solicitó hablar con un asesor: %q", clientName, trigger),
				Metadata: map[string]any{
					"client_id":       client.ID,
					"conversation_id": conv.ID,
					"channel":         conv.Channel,
				},
				ActionURL: actionURL,
			})
			return err
		}},
		Step{Name: "email", Run: func(ctx context.Context) error {
			if e.mailer == nil {
				return errors.New("email notifier not configured")
			}
			if owner.Email == "" {
				return errors.New("owner has no email address")
			}
			subject := "Un cliente necesita atención: " + clientName
			body := fmt.Sprintf(
				"<p><strong>%s</strong> pidió hablar con un asesor por %s.</p><p>Último mensaje: %s</p><p><a href=\"%s\">Abrir conversación</a></p>",
				html.EscapeString(clientName), html.EscapeString(conv.Channel), html.EscapeString(trigger), actionURL)
			return e.mailer.Send(ctx, owner.Email, subject, body)
		}},
		Step{Name: "disable_ai", Run: func(ctx context.Context) error {
			return e.store.SetAIEnabled(ctx, conv.ID, false)
		}},
	)

	if results[3].Success {
		conv.AIEnabled = false
	}
	log.Info().
		Str("conversationID", conv.ID).
		Str("clientID", client.ID).
		Strs("failedSteps", Failed(results)).
		Msg("Conversation escalated to advisor")
	return results
}
