package meta

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/begonlabs/unified-agent-pro-sub001/internal/inbound"
	"github.com/begonlabs/unified-agent-pro-sub001/internal/models"
)

// ErrUnknownHost is returned when an Instagram token matches no Graph host.
var ErrUnknownHost = errors.New("graph host cannot be resolved for token")

// Hosts are the Graph API base URLs.
type Hosts struct {
	Facebook  string
	Instagram string
}

// Client talks to the Graph API for one Meta channel.
type Client struct {
	httpClient *resty.Client
	channel    inbound.Channel
	hosts      Hosts
	version    string
}

// NewClient creates a Graph API client for Messenger or Instagram.
func NewClient(httpClient *resty.Client, channel inbound.Channel, hosts Hosts, version string) (*Client, error) {
	if httpClient == nil {
		return nil, errors.New("graph http client cannot be nil")
	}
	if channel != inbound.Messenger && channel != inbound.Instagram {
		return nil, fmt.Errorf("graph client does not support channel %q", channel)
	}
	if hosts.Facebook == "" || hosts.Instagram == "" {
		return nil, errors.New("graph hosts must be configured")
	}
	if version == "" {
		return nil, errors.New("graph API version cannot be empty")
	}
	return &Client{
		httpClient: httpClient,
		channel:    channel,
		hosts:      Hosts{Facebook: strings.TrimRight(hosts.Facebook, "/"), Instagram: strings.TrimRight(hosts.Instagram, "/")},
		version:    version,
	}, nil
}

// host picks the Graph host. Messenger always uses the Facebook host;
// Instagram tokens select by prefix: "IG" for Instagram Login tokens and
// "EAA" for page tokens. Anything else fails closed.
func (c *Client) host(token string) (string, error) {
	if c.channel == inbound.Messenger {
		return c.hosts.Facebook, nil
	}
	switch {
	case strings.HasPrefix(token, "IG"):
		return c.hosts.Instagram, nil
	case strings.HasPrefix(token, "EAA"):
		return c.hosts.Facebook, nil
	}
	return "", ErrUnknownHost
}

// Send delivers text to the customer and returns the Graph message id.
func (c *Client) Send(ctx context.Context, ch *models.CommunicationChannel, threadID, text string) (string, error) {
	if ch.AccessToken == "" {
		return "", errors.New("graph channel has no access token")
	}
	host, err := c.host(ch.AccessToken)
	if err != nil {
		return "", err
	}

	req := sendRequest{Recipient: Party{ID: threadID}, Message: sendMessage{Text: text}}
	var url string
	if c.channel == inbound.Messenger {
		req.MessagingType = "RESPONSE"
		url = fmt.Sprintf("%s/%s/me/messages", host, c.version)
	} else {
		url = fmt.Sprintf("%s/%s/%s/messages", host, c.version, ch.ExternalAccountID)
	}

	var result sendResponse
	var apiErr graphError
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetAuthToken(ch.AccessToken).
		SetBody(req).
		SetResult(&result).
		SetError(&apiErr).
		Post(url)
	if err != nil {
		log.Error().Err(err).Str("channel", string(c.channel)).Str("accountID", ch.ExternalAccountID).Msg("Graph API: send request failed")
		return "", fmt.Errorf("graph send request failed: %w", err)
	}
	if resp.IsError() {
		log.Error().Str("channel", string(c.channel)).Str("accountID", ch.ExternalAccountID).
			Int("statusCode", resp.StatusCode()).Int("graphCode", apiErr.Error.Code).Str("graphMessage", apiErr.Error.Message).
			Msg("Graph API: send returned an error")
		return "", fmt.Errorf("graph send error: status %s, code %d: %s", resp.Status(), apiErr.Error.Code, apiErr.Error.Message)
	}
	if result.MessageID == "" {
		return "", errors.New("graph send returned no message_id")
	}

	log.Info().Str("channel", string(c.channel)).Str("accountID", ch.ExternalAccountID).Str("messageID", result.MessageID).Msg("Graph message sent")
	return result.MessageID, nil
}

// FetchProfile loads the customer's name and picture.
func (c *Client) FetchProfile(ctx context.Context, ch *models.CommunicationChannel, externalID string) (*inbound.Profile, error) {
	host, err := c.host(ch.AccessToken)
	if err != nil {
		return nil, err
	}
	fields := "first_name,last_name,profile_pic"
	if c.channel == inbound.Instagram {
		fields = "name,username,profile_pic"
	}

	var result profileResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetAuthToken(ch.AccessToken).
		SetQueryParam("fields", fields).
		SetResult(&result).
		Get(fmt.Sprintf("%s/%s/%s", host, c.version, externalID))
	if err != nil {
		return nil, fmt.Errorf("graph profile request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("graph profile error: status %s", resp.Status())
	}

	name := strings.TrimSpace(result.Name)
	if name == "" {
		name = strings.TrimSpace(result.FirstName + " " + result.LastName)
	}
	if name == "" {
		name = result.Username
	}
	return &inbound.Profile{Name: name, AvatarURL: result.ProfilePic}, nil
}
