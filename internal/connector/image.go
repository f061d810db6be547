// ABOUTME: Image generation connector backed by the OpenAI images API
// ABOUTME: One prompt in, one hosted URL out; failures map to ErrGenerationFailed

package connector

import (
	"context"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"
)

// imageClient is the slice of the OpenAI client the connector needs.
type imageClient interface {
	CreateImage(ctx context.Context, req openai.ImageRequest) (openai.ImageResponse, error)
}

// OpenAIImageGenerator implements ImageGenerator against the OpenAI images API.
type OpenAIImageGenerator struct {
	client imageClient
	model  string
	logger *slog.Logger
}

// NewOpenAIImageGenerator creates an image connector using the given API key.
func NewOpenAIImageGenerator(apiKey string) *OpenAIImageGenerator {
	return &OpenAIImageGenerator{
		client: openai.NewClient(apiKey),
		model:  openai.CreateImageModelDallE3,
		logger: slog.Default().With("component", "image"),
	}
}

// Generate produces a single image for the prompt and returns its URL.
func (g *OpenAIImageGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          g.model,
		N:              1,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", fmt.Errorf("%w: empty response", ErrGenerationFailed)
	}

	g.logger.Debug("image generated", "prompt_len", len(prompt))
	return resp.Data[0].URL, nil
}
