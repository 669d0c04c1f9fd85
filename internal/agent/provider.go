// Package agent implements the AI request lifecycle: a single active
// request at a time, memory-grounded prompts, transient-error retry,
// optional token-by-token streaming, and tool-action proposals taken
// from the ToolCalls of the provider's one response; no second provider
// call is made for proposals.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ChatMessage is one turn in a provider conversation.
type ChatMessage struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// ChatRequest is what Provider.Complete sends upstream.
type ChatRequest struct {
	Model    string
	Messages []ChatMessage
	Stream   bool
}

// ChatResponse is a provider's final, non-streaming answer.
type ChatResponse struct {
	Text       string
	ToolCalls  []ToolCallProposal
	FinishedOK bool
}

// ToolCallProposal is one tool invocation the model requested.
type ToolCallProposal struct {
	ToolName string
	Args     map[string]any
}

// StreamChunk is one piece of a streamed response.
type StreamChunk struct {
	Delta string
	Done  bool
}

// Provider abstracts one upstream AI backend (OpenAI, Anthropic, a
// local model server, ...). Complete blocks until the full response
// (or error) is available; onToken, if non-nil, is invoked with each
// incremental delta as it streams in, but only the final text in the
// returned ChatResponse is ever persisted.
type Provider interface {
	Complete(ctx context.Context, req ChatRequest, onToken func(StreamChunk)) (ChatResponse, error)
}

// TransientError wraps an upstream failure considered safe to retry
// exactly once (timeouts, connection resets, 5xx-class responses).
type TransientError struct {
	Err error
}

func (e TransientError) Error() string { return e.Err.Error() }
func (e TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried once before giving
// up and surfacing a translated message to the user.
func IsTransient(err error) bool {
	var t TransientError
	return errors.As(err, &t)
}

// TranslateError maps a provider error into a short, user-facing
// message. Unrecognized errors fall back to a generic description
// rather than leaking raw transport detail into the chat room.
func TranslateError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized"):
		return "AI provider rejected the API key (401 unauthorized)."
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		return "AI provider rate-limited this request (429); try again shortly."
	case strings.Contains(msg, "max_tokens") || strings.Contains(msg, "context length"):
		return "The request exceeded the model's context window."
	case strings.Contains(msg, "model_not_found") || strings.Contains(msg, "model not found"):
		return "The configured model was not found by the provider."
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return "The AI provider timed out."
	case strings.Contains(msg, "connection refused"):
		return "Could not reach the AI provider (connection refused)."
	case strings.Contains(msg, "insufficient") && strings.Contains(msg, "balance"):
		return "AI provider account has insufficient balance."
	case strings.Contains(msg, "500") || strings.Contains(msg, "internal server error"):
		return "AI provider returned an internal server error (500)."
	default:
		return fmt.Sprintf("AI request failed: %v", err)
	}
}
