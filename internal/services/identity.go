package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/begonlabs/unified-agent-pro-sub001/internal/inbound"
	"github.com/begonlabs/unified-agent-pro-sub001/internal/models"
	"github.com/begonlabs/unified-agent-pro-sub001/internal/store"
)

// ProfileFetcher loads contact details from a channel's profile API.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, ch *models.CommunicationChannel, externalID string) (*inbound.Profile, error)
}

// IdentityResolver maps a channel sender to a Client and Conversation,
// creating either on first contact.
type IdentityResolver struct {
	store         *store.Store
	fetchers      map[inbound.Channel]ProfileFetcher
	enrichTimeout time.Duration
}

// NewIdentityResolver creates a resolver. Fetchers are optional per channel.
func NewIdentityResolver(s *store.Store, fetchers map[inbound.Channel]ProfileFetcher) (*IdentityResolver, error) {
	if s == nil {
		return nil, errors.New("store cannot be nil for IdentityResolver")
	}
	if fetchers == nil {
		fetchers = map[inbound.Channel]ProfileFetcher{}
	}
	return &IdentityResolver{store: s, fetchers: fetchers, enrichTimeout: 5 * time.Second}, nil
}

// Resolve returns the client and conversation for ev. The conversation is
// keyed by the customer's id, so echoes and inbound messages share it.
func (r *IdentityResolver) Resolve(ctx context.Context, ch *models.CommunicationChannel, ev inbound.Event) (*models.Client, *models.Conversation, error) {
	client, err := r.resolveClient(ctx, ch, ev)
	if err != nil {
		return nil, nil, err
	}
	conv, err := r.resolveConversation(ctx, ch, client, ev)
	if err != nil {
		return nil, nil, err
	}
	return client, conv, nil
}

func (r *IdentityResolver) resolveClient(ctx context.Context, ch *models.CommunicationChannel, ev inbound.Event) (*models.Client, error) {
	externalID := ev.ThreadID
	client, err := r.store.FindClient(ctx, ch.UserID, externalID)
	switch {
	case err == nil:
		r.backfill(ctx, ch, client, ev)
		return client, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("find client: %w", err)
	}

	client = &models.Client{
		UserID: ch.UserID,
		Phone:  externalID,
		Name:   inbound.PlaceholderName(ev.Channel, externalID),
		Source: string(ev.Channel),
		Status: "active",
	}
	if name := customerName(ev); name != "" {
		client.Name = name
	}
	if profile := r.enrich(ctx, ch, ev.Channel, externalID); profile != nil {
		if inbound.LooksLikePlaceholder(client.Name) && !inbound.LooksLikePlaceholder(profile.Name) {
			client.Name = profile.Name
		}
		client.AvatarURL = profile.AvatarURL
	}

	err = r.store.CreateClient(ctx, client)
	if errors.Is(err, store.ErrDuplicate) {
		// A concurrent delivery created it first.
		return r.store.FindClient(ctx, ch.UserID, externalID)
	}
	if err != nil {
		return nil, err
	}
	log.Info().Str("clientID", client.ID).Str("ownerID", ch.UserID).Str("channel", string(ev.Channel)).Msg("Created client")
	return client, nil
}

// backfill replaces a placeholder name once a better value is known,
// picking up the avatar from the same lookup.
func (r *IdentityResolver) backfill(ctx context.Context, ch *models.CommunicationChannel, client *models.Client, ev inbound.Event) {
	if !inbound.LooksLikePlaceholder(client.Name) {
		return
	}

	name, avatar := customerName(ev), ""
	if name == "" || client.AvatarURL == "" {
		if profile := r.enrich(ctx, ch, ev.Channel, client.Phone); profile != nil {
			if name == "" && !inbound.LooksLikePlaceholder(profile.Name) {
				name = profile.Name
			}
			if client.AvatarURL == "" {
				avatar = profile.AvatarURL
			}
		}
	}
	if name == "" && avatar == "" {
		return
	}

	if err := r.store.UpdateClientProfile(ctx, client.ID, name, avatar); err != nil {
		log.Warn().Err(err).Str("clientID", client.ID).Msg("Failed to backfill client profile")
		return
	}
	if name != "" {
		client.Name = name
	}
	if avatar != "" {
		client.AvatarURL = avatar
	}
	log.Info().Str("clientID", client.ID).Bool("name", name != "").Bool("avatar", avatar != "").Msg("Backfilled client profile")
}

// enrich is best-effort; failures are logged and never block persistence.
func (r *IdentityResolver) enrich(ctx context.Context, ch *models.CommunicationChannel, channel inbound.Channel, externalID string) *inbound.Profile {
	fetcher, ok := r.fetchers[channel]
	if !ok || fetcher == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.enrichTimeout)
	defer cancel()

	profile, err := fetcher.FetchProfile(ctx, ch, externalID)
	if err != nil {
		log.Warn().Err(err).Str("channel", string(channel)).Str("externalID", externalID).Msg("Profile enrichment failed")
		return nil
	}
	return profile
}

func (r *IdentityResolver) resolveConversation(ctx context.Context, ch *models.CommunicationChannel, client *models.Client, ev inbound.Event) (*models.Conversation, error) {
	channel := string(ev.Channel)
	conv, err := r.store.FindConversation(ctx, ch.UserID, client.ID, channel, ev.ThreadID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("find conversation: %w", err)
	}

	conv = &models.Conversation{
		UserID:          ch.UserID,
		ClientID:        client.ID,
		Channel:         channel,
		ChannelThreadID: ev.ThreadID,
		Status:          models.ConversationOpen,
		AIEnabled:       true,
	}
	err = r.store.CreateConversation(ctx, conv)
	if errors.Is(err, store.ErrDuplicate) {
		return r.store.FindConversation(ctx, ch.UserID, client.ID, channel, ev.ThreadID)
	}
	if err != nil {
		return nil, err
	}
	log.Info().Str("conversationID", conv.ID).Str("clientID", client.ID).Str("channel", channel).Msg("Created conversation")
	return conv, nil
}

// customerName is the payload's display name when it describes the customer.
func customerName(ev inbound.Event) string {
	if ev.IsEcho || inbound.LooksLikePlaceholder(ev.SenderName) {
		return ""
	}
	return ev.SenderName
}
