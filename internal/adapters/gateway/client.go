package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/begonlabs/unified-agent-pro-sub001/internal/inbound"
	"github.com/begonlabs/unified-agent-pro-sub001/internal/models"
)

// Client sends messages and fetches contact info through the gateway REST API.
type Client struct {
	httpClient *resty.Client
	hosts      Hosts
}

// NewClient creates a gateway client.
func NewClient(httpClient *resty.Client, hosts Hosts) (*Client, error) {
	if httpClient == nil {
		return nil, errors.New("gateway http client cannot be nil")
	}
	if hosts.Default == "" || hosts.Alt == "" {
		return nil, errors.New("gateway default and alt hosts must be configured")
	}
	return &Client{httpClient: httpClient, hosts: hosts}, nil
}

func (c *Client) endpoint(ch *models.CommunicationChannel, method string) (string, error) {
	if ch.ExternalAccountID == "" || ch.AccessToken == "" {
		return "", errors.New("gateway channel is missing instance id or token")
	}
	host, err := c.hosts.Resolve(ch.ExternalAccountID, ch.APIURL)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/waInstance%s/%s/%s", host, ch.ExternalAccountID, method, ch.AccessToken), nil
}

// Send delivers text to the customer thread and returns the gateway message id.
func (c *Client) Send(ctx context.Context, ch *models.CommunicationChannel, threadID, text string) (string, error) {
	url, err := c.endpoint(ch, "sendMessage")
	if err != nil {
		return "", err
	}

	var result sendMessageResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(sendMessageRequest{ChatID: PhoneToChatID(threadID), Message: text}).
		SetResult(&result).
		Post(url)
	if err != nil {
		log.Error().Err(err).Str("instanceID", ch.ExternalAccountID).Msg("Gateway API: sendMessage request failed")
		return "", fmt.Errorf("gateway sendMessage request failed: %w", err)
	}
	if resp.IsError() {
		log.Error().Str("instanceID", ch.ExternalAccountID).Int("statusCode", resp.StatusCode()).Str("responseBody", resp.String()).Msg("Gateway API: sendMessage returned an error")
		return "", fmt.Errorf("gateway sendMessage error: status %s, body: %s", resp.Status(), resp.String())
	}
	if result.IDMessage == "" {
		return "", errors.New("gateway sendMessage returned no idMessage")
	}

	log.Info().Str("instanceID", ch.ExternalAccountID).Str("idMessage", result.IDMessage).Msg("Gateway message sent")
	return result.IDMessage, nil
}

// FetchProfile returns the contact's display name and avatar.
func (c *Client) FetchProfile(ctx context.Context, ch *models.CommunicationChannel, externalID string) (*inbound.Profile, error) {
	url, err := c.endpoint(ch, "getContactInfo")
	if err != nil {
		return nil, err
	}

	var result contactInfoResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(contactInfoRequest{ChatID: PhoneToChatID(externalID)}).
		SetResult(&result).
		Post(url)
	if err != nil {
		return nil, fmt.Errorf("gateway getContactInfo request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("gateway getContactInfo error: status %s", resp.Status())
	}
	return &inbound.Profile{
		Name:      firstNonEmpty(result.ContactName, result.Name),
		AvatarURL: result.Avatar,
	}, nil
}
