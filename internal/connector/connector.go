// ABOUTME: Side-effect connector interfaces and their failure domains
// ABOUTME: Each connector performs exactly one external call per invocation, never retried

package connector

import (
	"context"
	"errors"
)

var (
	// ErrGenerationFailed means the image backend could not produce an
	// image for the prompt. Callers must not retry automatically.
	ErrGenerationFailed = errors.New("image generation failed")

	// ErrPublishFailed means the platform rejected the publish request.
	ErrPublishFailed = errors.New("publish rejected by platform")

	// ErrUpstreamUnavailable means the platform could not be reached.
	ErrUpstreamUnavailable = errors.New("platform unavailable")
)

// ImageGenerator turns a prompt into a hosted image URL.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (url string, err error)
}

// Credential carries the stored social-platform identity needed to publish.
// How it was obtained and refreshed is out of scope here.
type Credential struct {
	AccessToken string
	PageID      string
	IGUserID    string
}

// Publisher posts a caption (and optional media) to a social platform and
// returns the remote post id. Exactly one attempt is made per call.
type Publisher interface {
	Publish(ctx context.Context, cred Credential, platform, caption, mediaURL string) (remotePostID string, err error)
}
