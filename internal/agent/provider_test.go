package agent

import (
	"errors"
	"strings"
	"testing"
)

func TestTranslateError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantSub string
	}{
		{"unauthorized", errors.New("401 Unauthorized"), "API key"},
		{"rate limited", errors.New("429 Too Many Requests"), "rate-limited"},
		{"context length", errors.New("max_tokens exceeded"), "context window"},
		{"model not found", errors.New("model_not_found: gpt-9"), "not found"},
		{"timeout", errors.New("context deadline exceeded"), "timed out"},
		{"connection refused", errors.New("dial tcp: connection refused"), "connection refused"},
		{"insufficient balance", errors.New("insufficient account balance"), "insufficient balance"},
		{"server error", errors.New("500 internal server error"), "internal server error"},
		{"unknown", errors.New("something weird happened"), "AI request failed"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := TranslateError(tc.err)
			if !strings.Contains(got, tc.wantSub) {
				t.Errorf("TranslateError(%v) = %q, want substring %q", tc.err, got, tc.wantSub)
			}
		})
	}
}

func TestIsTransientWrapsCorrectly(t *testing.T) {
	base := errors.New("connection reset")
	wrapped := TransientError{Err: base}
	if !IsTransient(wrapped) {
		t.Error("expected wrapped error to be transient")
	}
	if IsTransient(base) {
		t.Error("expected unwrapped error to not be transient")
	}
}
