// ABOUTME: Completion gateway capability interface consumed by the orchestrator
// ABOUTME: Defines the history types, error classes and the onboarding sentinel flow

package completion

import (
	"context"
	"errors"
)

// Error classes the orchestrator surfaces to callers. No retries happen here;
// a retry, if any, is an explicit new user action.
var (
	// ErrUpstreamUnavailable means the completion backend could not be
	// reached or answered with a transient failure class.
	ErrUpstreamUnavailable = errors.New("completion backend unavailable")

	// ErrUpstreamRejected means the backend rejected the request
	// permanently (content policy or malformed-request class).
	ErrUpstreamRejected = errors.New("completion backend rejected request")
)

// OnboardingSentinel is the reserved message value that triggers the scripted
// first-session flow instead of a live model call.
const OnboardingSentinel = "ONBOARDING_START"

// ChatMessage is one entry of the ordered history handed to the backend.
// Order carries meaning for the model and must be preserved exactly.
type ChatMessage struct {
	Role    string
	Content string
}

// AccountContext carries the read-only account facts woven into the system
// prompt: who the user is and whether their social account is connected.
type AccountContext struct {
	Name           string
	Company        string
	Connected      bool
	PlatformHandle string
}

// Completer generates a single assistant reply for an ordered history.
type Completer interface {
	Complete(ctx context.Context, history []ChatMessage, acct AccountContext) (string, error)
}

// OnboardingReply returns the fixed scripted first reply for a new account.
// It is deterministic and side-effect-free: no provider is contacted before
// the real conversation begins.
func OnboardingReply() string {
	return "Hey, welcome! I'm your marketing copilot. I help small teams plan " +
		"their social presence, write posts that sound like them, and get " +
		"content out the door.\n\n" +
		"To get us started, tell me a little about your business: what do you " +
		"sell, and who are you trying to reach? Once I have the picture, we " +
		"can sketch your first week of content together."
}

// IsOnboarding reports whether a history ends in the onboarding sentinel.
func IsOnboarding(history []ChatMessage) bool {
	if len(history) == 0 {
		return false
	}
	last := history[len(history)-1]
	return last.Role == "user" && last.Content == OnboardingSentinel
}
