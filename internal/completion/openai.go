// ABOUTME: OpenAI-backed Completer with system prompt assembly from account context
// ABOUTME: Classifies provider failures into the unavailable/rejected error classes

package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const systemPrompt = `You are a CMO-level marketing assistant for small businesses.

Your role:
- Help define the brand's marketing strategy and tone
- Write engaging content for Instagram and Facebook
- Explain performance in plain, actionable language

Style:
- Professional but approachable
- Direct and concise
- Creative and strategic`

// chatClient is the slice of the OpenAI client the completer needs.
// Narrowed for test injection.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAICompleter implements Completer against the OpenAI chat API.
type OpenAICompleter struct {
	client chatClient
	model  string
	logger *slog.Logger
}

// NewOpenAICompleter creates a completer using the given API key and model.
// An empty model falls back to gpt-4o-mini.
func NewOpenAICompleter(apiKey, model string) *OpenAICompleter {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAICompleter{
		client: openai.NewClient(apiKey),
		model:  model,
		logger: slog.Default().With("component", "completion"),
	}
}

// Complete sends the full ordered history to the backend and returns the
// assistant reply. The onboarding sentinel is answered from the fixed script
// without any network call.
func (c *OpenAICompleter) Complete(ctx context.Context, history []ChatMessage, acct AccountContext) (string, error) {
	if IsOnboarding(history) {
		c.logger.Debug("onboarding sentinel, returning scripted reply")
		return OnboardingReply(), nil
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: buildSystemPrompt(acct),
	})
	// History order is meaningful to the model; append as given.
	for _, m := range history {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		return "", classifyError(err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", ErrUpstreamUnavailable)
	}

	reply := resp.Choices[0].Message.Content
	c.logger.Debug("completion returned",
		"history_len", len(history),
		"reply_len", len(reply))
	return reply, nil
}

// buildSystemPrompt appends the account facts to the base persona prompt.
func buildSystemPrompt(acct AccountContext) string {
	var b strings.Builder
	b.WriteString(systemPrompt)

	var facts []string
	if acct.Name != "" {
		facts = append(facts, "User: "+acct.Name)
	}
	if acct.Company != "" {
		facts = append(facts, "Business: "+acct.Company)
	}
	if acct.Connected {
		connected := "Social account connected: yes"
		if acct.PlatformHandle != "" {
			connected += " (@" + acct.PlatformHandle + ")"
		}
		facts = append(facts, connected)
	}

	if len(facts) > 0 {
		b.WriteString("\n\nCurrent context:\n")
		for _, f := range facts {
			b.WriteString("- ")
			b.WriteString(f)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// classifyError maps provider errors onto the gateway's two failure classes.
// 4xx request/content errors are permanent; everything else is treated as a
// transient outage the caller can surface.
func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity:
			return fmt.Errorf("%w: %v", ErrUpstreamRejected, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
}
