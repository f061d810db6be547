// ABOUTME: Social publish connector for the Meta Graph API using resty
// ABOUTME: Facebook posts go to the page feed/photos edge; Instagram uses the two-step container flow

package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/go-resty/resty/v2"
)

const defaultGraphBaseURL = "https://graph.facebook.com/v19.0"

// GraphPublisher implements Publisher against the Meta Graph API.
type GraphPublisher struct {
	client  *resty.Client
	baseURL string
	logger  *slog.Logger
}

// NewGraphPublisher creates a publisher for the Meta Graph API.
// baseURL overrides the production endpoint, mainly for tests.
func NewGraphPublisher(baseURL string) *GraphPublisher {
	if baseURL == "" {
		baseURL = defaultGraphBaseURL
	}
	return &GraphPublisher{
		client:  resty.New(),
		baseURL: baseURL,
		logger:  slog.Default().With("component", "publish"),
	}
}

// graphResponse is the envelope the Graph API returns for publish calls.
type graphResponse struct {
	ID    string `json:"id"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Publish posts to the given platform and returns the remote post id.
// Exactly one attempt is made; the caller owns any retry as a new attempt.
func (p *GraphPublisher) Publish(ctx context.Context, cred Credential, platform, caption, mediaURL string) (string, error) {
	switch platform {
	case "facebook":
		return p.publishFacebook(ctx, cred, caption, mediaURL)
	case "instagram":
		return p.publishInstagram(ctx, cred, caption, mediaURL)
	default:
		return "", fmt.Errorf("%w: unsupported platform %q", ErrPublishFailed, platform)
	}
}

// publishFacebook posts to the page feed, or the photos edge when media is
// attached.
func (p *GraphPublisher) publishFacebook(ctx context.Context, cred Credential, caption, mediaURL string) (string, error) {
	endpoint := fmt.Sprintf("%s/%s/feed", p.baseURL, cred.PageID)
	params := map[string]string{
		"message":      caption,
		"access_token": cred.AccessToken,
	}
	if mediaURL != "" {
		endpoint = fmt.Sprintf("%s/%s/photos", p.baseURL, cred.PageID)
		params = map[string]string{
			"url":          mediaURL,
			"caption":      caption,
			"access_token": cred.AccessToken,
		}
	}

	result, err := p.call(ctx, endpoint, params)
	if err != nil {
		return "", err
	}

	p.logger.Debug("published to facebook", "post_id", result.ID)
	return result.ID, nil
}

// publishInstagram runs the two-step flow: create a media container, then
// publish it. Instagram requires media, so mediaURL is mandatory here.
func (p *GraphPublisher) publishInstagram(ctx context.Context, cred Credential, caption, mediaURL string) (string, error) {
	if mediaURL == "" {
		return "", fmt.Errorf("%w: instagram requires media", ErrPublishFailed)
	}

	container, err := p.call(ctx, fmt.Sprintf("%s/%s/media", p.baseURL, cred.IGUserID), map[string]string{
		"image_url":    mediaURL,
		"caption":      caption,
		"access_token": cred.AccessToken,
	})
	if err != nil {
		return "", err
	}

	result, err := p.call(ctx, fmt.Sprintf("%s/%s/media_publish", p.baseURL, cred.IGUserID), map[string]string{
		"creation_id":  container.ID,
		"access_token": cred.AccessToken,
	})
	if err != nil {
		return "", err
	}

	p.logger.Debug("published to instagram", "post_id", result.ID)
	return result.ID, nil
}

// call performs one Graph API POST and decodes the envelope.
// Transport failures map to ErrUpstreamUnavailable, API errors to ErrPublishFailed.
func (p *GraphPublisher) call(ctx context.Context, endpoint string, params map[string]string) (*graphResponse, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		Post(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	var result graphResponse
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrUpstreamUnavailable, err)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("%w: %s (code %d)", ErrPublishFailed, result.Error.Message, result.Error.Code)
	}
	if result.ID == "" {
		return nil, fmt.Errorf("%w: response missing post id", ErrPublishFailed)
	}
	return &result, nil
}
