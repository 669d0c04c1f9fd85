package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/huddle-chat/huddle/internal/actions"
	"github.com/huddle-chat/huddle/internal/agentprofile"
	"github.com/huddle-chat/huddle/internal/config"
	"github.com/huddle-chat/huddle/internal/memory"
	"github.com/huddle-chat/huddle/internal/storage"
	"github.com/huddle-chat/huddle/internal/toolcontract"
)

type fakeProvider struct {
	resp       ChatResponse
	err        error
	failFirst  bool
	calls      int
	onTokenArg []string
}

func (f *fakeProvider) Complete(ctx context.Context, req ChatRequest, onToken func(StreamChunk)) (ChatResponse, error) {
	f.calls++
	if onToken != nil {
		onToken(StreamChunk{Delta: "partial"})
		f.onTokenArg = append(f.onTokenArg, "partial")
	}
	if f.failFirst && f.calls == 1 {
		return ChatResponse{}, TransientError{Err: errors.New("connection reset")}
	}
	if f.err != nil {
		return ChatResponse{}, f.err
	}
	return f.resp, nil
}

func testDeps(t *testing.T, provider Provider) Deps {
	t.Helper()
	dir := t.TempDir()
	st, err := storage.New(dir)
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	st.EnsureRoomPaths("general")
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	cfg.UpdateAI(func(c *config.AIConfig) {
		c.Default.Provider = "openai"
		c.Default.Model = "gpt-4o-mini"
		c.Default.APIKey = "sk-test"
	})
	reg := toolcontract.NewRegistry()
	am := actions.NewManager(reg, actions.CommandRunner{}, nil, "", dir)
	return Deps{
		Store:    st,
		Memory:   memory.New(dir),
		Profiles: agentprofile.New(dir, nil),
		Config:   cfg,
		Actions:  am,
	}
}

func TestRunHappyPathPersistsResponse(t *testing.T) {
	provider := &fakeProvider{resp: ChatResponse{Text: "hello there"}}
	deps := testDeps(t, provider)
	deps.Provider = provider
	state := NewState()

	result := Run(context.Background(), state, deps, "req1", "general", "alice", "hi", time.Now())
	if result.DisplayedError != "" {
		t.Fatalf("unexpected error: %s", result.DisplayedError)
	}
	if result.Text != "hello there" {
		t.Errorf("Text = %q, want hello there", result.Text)
	}

	events := deps.Store.ReadRecent("general", 5)
	found := false
	for _, e := range events {
		if e.Type == "ai_response" && e.Text == "hello there" {
			found = true
		}
	}
	if !found {
		t.Error("expected ai_response event to be persisted")
	}

	if state.Snapshot().Status != StatusDone {
		t.Errorf("Status = %v, want done", state.Snapshot().Status)
	}
}

func TestRunRejectsConcurrentRequest(t *testing.T) {
	provider := &fakeProvider{resp: ChatResponse{Text: "ok"}}
	deps := testDeps(t, provider)
	deps.Provider = provider
	state := NewState()

	ctx, cancel := context.WithCancel(context.Background())
	state.begin(ctx, "req1")

	result := Run(context.Background(), state, deps, "req2", "general", "alice", "hi", time.Now())
	if result.DisplayedError == "" {
		t.Fatal("expected error when a request is already running")
	}
	cancel()
}

func TestRunRetriesOnceOnTransientError(t *testing.T) {
	provider := &fakeProvider{resp: ChatResponse{Text: "recovered"}, failFirst: true}
	deps := testDeps(t, provider)
	deps.Provider = provider
	state := NewState()

	result := Run(context.Background(), state, deps, "req1", "general", "alice", "hi", time.Now())
	if result.DisplayedError != "" {
		t.Fatalf("unexpected error after retry: %s", result.DisplayedError)
	}
	if provider.calls != 2 {
		t.Errorf("calls = %d, want 2 (one retry)", provider.calls)
	}
}

func TestRunCancelStopsBeforeProviderCall(t *testing.T) {
	provider := &fakeProvider{resp: ChatResponse{Text: "should not run"}}
	deps := testDeps(t, provider)
	deps.Provider = provider
	state := NewState()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := Run(ctx, state, deps, "req1", "general", "alice", "hi", time.Now())
	if !result.Canceled {
		t.Errorf("expected Canceled result, got %+v", result)
	}
	if provider.calls != 0 {
		t.Errorf("provider should not have been called, got %d calls", provider.calls)
	}

	events := deps.Store.ReadRecent("general", 10)
	var systemRows, responseRows int
	for _, e := range events {
		switch e.Type {
		case "system":
			systemRows++
			if !strings.Contains(e.Text, "cancelled") {
				t.Errorf("system row text = %q, want it to contain \"cancelled\"", e.Text)
			}
		case "ai_response":
			responseRows++
		}
	}
	if systemRows != 1 {
		t.Errorf("system rows = %d, want exactly 1", systemRows)
	}
	if responseRows != 0 {
		t.Errorf("ai_response rows = %d, want 0 on cancel", responseRows)
	}
}

func TestRunAppendsMemoryUsedSystemRowAfterResponse(t *testing.T) {
	provider := &fakeProvider{resp: ChatResponse{Text: "hello there"}}
	deps := testDeps(t, provider)
	deps.Provider = provider
	deps.Memory.Commit(memory.ScopePrivate, "alice", "deploys happen tuesday mornings", "deploys", nil, "chat", memory.ConfidenceHigh, "general", "")
	state := NewState()

	result := Run(context.Background(), state, deps, "req1", "general", "alice", "when are deploys", time.Now())
	if result.DisplayedError != "" {
		t.Fatalf("unexpected error: %s", result.DisplayedError)
	}
	if len(result.MemoryIDsUsed) == 0 {
		t.Fatal("expected at least one memory id used")
	}

	events := deps.Store.ReadRecent("general", 10)
	found := false
	for _, e := range events {
		if e.Type == "system" && strings.HasPrefix(e.Text, "Memory used: ") {
			found = true
		}
	}
	if !found {
		t.Error("expected a system row announcing the memories used")
	}
}

func TestTrimToTokenBudgetDropsOldestFirst(t *testing.T) {
	messages := []ChatMessage{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "old message"},
		{Role: "user", Content: "newer message"},
	}
	trimmed := trimToTokenBudget(messages, 1)
	if len(trimmed) < 1 {
		t.Fatal("expected at least the system message to survive")
	}
	if trimmed[0].Role != "system" {
		t.Error("system message should never be dropped")
	}
}
