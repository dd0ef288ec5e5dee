// Package notify delivers owner notifications outside the dashboard.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

type emailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// EmailSender posts transactional emails to an HTTP email API.
type EmailSender struct {
	httpClient *resty.Client
	url        string
	apiKey     string
	from       string
}

// NewEmailSender creates a sender. url and apiKey are required.
func NewEmailSender(httpClient *resty.Client, url, apiKey, from string) (*EmailSender, error) {
	if httpClient == nil {
		return nil, errors.New("email http client cannot be nil")
	}
	if url == "" || apiKey == "" {
		return nil, errors.New("email api url and key must be configured")
	}
	return &EmailSender{httpClient: httpClient, url: url, apiKey: apiKey, from: from}, nil
}

// Send delivers one HTML email.
func (e *EmailSender) Send(ctx context.Context, to, subject, html string) error {
	resp, err := e.httpClient.R().
		SetContext(ctx).
		SetAuthToken(e.apiKey).
		SetBody(emailRequest{From: e.from, To: []string{to}, Subject: subject, HTML: html}).
		Post(e.url)
	if err != nil {
		return fmt.Errorf("email request failed: %w", err)
	}
	if resp.IsError() {
		log.Error().Int("statusCode", resp.StatusCode()).Str("responseBody", resp.String()).Msg("Email API returned an error")
		return fmt.Errorf("email api error: status %s", resp.Status())
	}
	log.Info().Str("to", to).Str("subject", subject).Msg("Notification email sent")
	return nil
}
