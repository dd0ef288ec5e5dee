package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/begonlabs/unified-agent-pro-sub001/internal/adapters/gateway"
	"github.com/begonlabs/unified-agent-pro-sub001/internal/adapters/meta"
	"github.com/begonlabs/unified-agent-pro-sub001/internal/archive"
	"github.com/begonlabs/unified-agent-pro-sub001/internal/inbound"
	"github.com/begonlabs/unified-agent-pro-sub001/internal/metrics"
	"github.com/begonlabs/unified-agent-pro-sub001/pkg/httputil"
)

const maxBodyBytes = 1 << 20

const archiveTimeout = 30 * time.Second

// Processor persists events and schedules their replies.
type Processor interface {
	Process(ctx context.Context, evs []inbound.Event) error
}

// WebhookDeps wires the webhook handlers. Archiver is optional.
type WebhookDeps struct {
	Processor       Processor
	Archiver        archive.Archiver
	GatewaySecret   string
	MetaAppSecret   string
	MetaVerifyToken string
}

// Webhooks serves the channel webhook endpoints.
type Webhooks struct {
	processor   Processor
	archiver    archive.Archiver
	gwSecret    string
	appSecret   string
	verifyToken string
	parsers     map[inbound.Channel]*meta.Parser

	wg sync.WaitGroup
}

// NewWebhooks validates deps and builds the handlers.
func NewWebhooks(d WebhookDeps) (*Webhooks, error) {
	if d.Processor == nil {
		return nil, errors.New("processor cannot be nil for Webhooks")
	}
	h := &Webhooks{
		processor:   d.Processor,
		archiver:    d.Archiver,
		gwSecret:    d.GatewaySecret,
		appSecret:   d.MetaAppSecret,
		verifyToken: d.MetaVerifyToken,
		parsers:     map[inbound.Channel]*meta.Parser{},
	}
	if h.archiver == nil {
		h.archiver = archive.Noop{}
	}
	for _, ch := range []inbound.Channel{inbound.Messenger, inbound.Instagram} {
		p, err := meta.NewParser(ch)
		if err != nil {
			return nil, err
		}
		h.parsers[ch] = p
	}
	if h.gwSecret == "" {
		log.Warn().Msg("GATEWAY_WEBHOOK_SECRET is not set, gateway signature validation is disabled")
	}
	if h.appSecret == "" {
		log.Warn().Msg("META_APP_SECRET is not set, Meta signature validation is disabled")
	}
	return h, nil
}

// Wait blocks until pending archive uploads finish.
func (h *Webhooks) Wait() {
	h.wg.Wait()
}

// Gateway handles WhatsApp gateway deliveries. A configured secret is
// accepted either as an HMAC signature or as a bearer token.
func (h *Webhooks) Gateway(w http.ResponseWriter, r *http.Request) {
	channel := string(inbound.WhatsApp)
	body, ok := h.readBody(w, r, channel)
	if !ok {
		return
	}

	if h.gwSecret != "" &&
		!ValidSignature(h.gwSecret, body, r.Header.Get("X-Webhook-Signature")) &&
		!validBearer(h.gwSecret, r.Header.Get("Authorization")) {
		hlog.FromRequest(r).Warn().Msg("Invalid gateway webhook signature")
		metrics.Webhook(channel, "unauthorized")
		httputil.RespondError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	evs, err := gateway.Parse(body)
	h.handle(w, r, channel, body, evs, err)
}

// MetaVerify answers the subscription handshake for Messenger and Instagram.
func (h *Webhooks) MetaVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode, token, challenge := q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge")

	if mode != "subscribe" || h.verifyToken == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(h.verifyToken)) != 1 {
		hlog.FromRequest(r).Warn().Str("mode", mode).Msg("Webhook verification failed")
		httputil.RespondError(w, http.StatusForbidden, "verification failed")
		return
	}
	hlog.FromRequest(r).Info().Msg("Webhook verified")
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, challenge)
}

// Meta returns the delivery handler for a Meta channel.
func (h *Webhooks) Meta(ch inbound.Channel) http.HandlerFunc {
	parser := h.parsers[ch]
	channel := string(ch)
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := h.readBody(w, r, channel)
		if !ok {
			return
		}
		if h.appSecret != "" && !ValidSignature(h.appSecret, body, r.Header.Get("X-Hub-Signature-256")) {
			hlog.FromRequest(r).Warn().Str("channel", channel).Msg("Invalid Meta webhook signature")
			metrics.Webhook(channel, "unauthorized")
			httputil.RespondError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
		evs, err := parser.Parse(body)
		h.handle(w, r, channel, body, evs, err)
	}
}

func (h *Webhooks) readBody(w http.ResponseWriter, r *http.Request, channel string) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("channel", channel).Msg("Failed to read webhook body")
		metrics.Webhook(channel, "unreadable")
		httputil.RespondError(w, http.StatusInternalServerError, "failed to read request body")
		return nil, false
	}
	return body, true
}

// handle acknowledges every structurally valid delivery with 200, even when
// processing fails, so providers do not retry.
func (h *Webhooks) handle(w http.ResponseWriter, r *http.Request, channel string, body []byte, evs []inbound.Event, parseErr error) {
	logger := hlog.FromRequest(r)
	if parseErr != nil {
		logger.Error().Err(parseErr).Str("channel", channel).Msg("Malformed webhook payload")
		metrics.Webhook(channel, "malformed")
		httputil.RespondError(w, http.StatusInternalServerError, "invalid payload")
		return
	}

	h.archive(channel, body)

	if len(evs) == 0 {
		logger.Debug().Str("channel", channel).Msg("Webhook carried no text messages")
		metrics.Webhook(channel, "ignored")
		httputil.RespondWithJSON(w, http.StatusOK, map[string]any{"success": true, "processed": 0})
		return
	}

	outcome := "processed"
	if err := h.processor.Process(r.Context(), evs); err != nil {
		logger.Error().Err(err).Str("channel", channel).Msg("Failed to process webhook events")
		outcome = "failed"
	}
	metrics.Webhook(channel, outcome)
	httputil.RespondWithJSON(w, http.StatusOK, map[string]any{"success": true, "processed": len(evs)})
}

func (h *Webhooks) archive(channel string, body []byte) {
	if _, ok := h.archiver.(archive.Noop); ok {
		return
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		if _, err := h.archiver.Archive(ctx, channel, body); err != nil {
			log.Warn().Err(err).Str("channel", channel).Msg("Failed to archive webhook payload")
		}
	}()
}
