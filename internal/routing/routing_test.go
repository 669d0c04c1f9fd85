package routing

import (
	"strings"
	"testing"

	"github.com/huddle-chat/huddle/internal/agentprofile"
	"github.com/huddle-chat/huddle/internal/config"
)

func TestClassifyTask(t *testing.T) {
	tests := []struct {
		prompt string
		want   TaskClass
	}{
		{"can you review this function for a bug", TaskClassCodeAnalysis},
		{"here's the traceback from my python test", TaskClassCodeAnalysis},
		{"please refactor this class ", TaskClassCodeAnalysis},
		{"hey what's up", TaskClassChatGeneral},
		{"let's make a plan for next week", TaskClassChatGeneral},
	}
	for _, tc := range tests {
		if got := ClassifyTask(tc.prompt); got != tc.want {
			t.Errorf("ClassifyTask(%q) = %v, want %v", tc.prompt, got, tc.want)
		}
	}
}

func newConfigWithKey(t *testing.T) *config.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := config.Load(dir)
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	s.UpdateAI(func(c *config.AIConfig) {
		c.Default.Provider = "openai"
		c.Default.Model = "gpt-4o-mini"
		c.Default.APIKey = "sk-test"
	})
	return s
}

func TestResolveUsesConfigDefaultWhenNoOverrides(t *testing.T) {
	cfg := newConfigWithKey(t)
	d, err := Resolve(TaskClassChatGeneral, nil, cfg, Override{})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if d.Provider != "openai" || d.Model != "gpt-4o-mini" {
		t.Errorf("Decision = %+v, want config defaults", d)
	}
	if d.Reason != "task=chat_general,profile=default" {
		t.Errorf("Reason = %q, want canonical task=/profile= form with no policy tags", d.Reason)
	}
}

func TestResolveProfileOverridesConfig(t *testing.T) {
	cfg := newConfigWithKey(t)
	profile := &agentprofile.Profile{
		ID: "reviewer",
		RoutingByTask: map[string]agentprofile.RoutingPolicy{
			string(TaskClassCodeAnalysis): {Model: "gpt-4o"},
		},
	}
	d, err := Resolve(TaskClassCodeAnalysis, profile, cfg, Override{})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if d.Model != "gpt-4o" {
		t.Errorf("Model = %q, want profile override gpt-4o", d.Model)
	}
	if d.Provider != "openai" {
		t.Errorf("Provider = %q, want config default since profile did not override it", d.Provider)
	}
	if d.Reason != "task=code_analysis,profile=reviewer,model=policy" {
		t.Errorf("Reason = %q, want task=code_analysis,profile=reviewer,model=policy", d.Reason)
	}
}

func TestResolveExplicitOverrideWinsOverProfile(t *testing.T) {
	cfg := newConfigWithKey(t)
	profile := &agentprofile.Profile{
		ID: "reviewer",
		RoutingByTask: map[string]agentprofile.RoutingPolicy{
			string(TaskClassChatGeneral): {Provider: "anthropic", Model: "claude-profile"},
		},
	}
	d, err := Resolve(TaskClassChatGeneral, profile, cfg, Override{Model: "gpt-4o-explicit"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if d.Model != "gpt-4o-explicit" {
		t.Errorf("Model = %q, want explicit override to win", d.Model)
	}
	if d.Provider != "anthropic" {
		t.Errorf("Provider = %q, want profile override since request did not set one", d.Provider)
	}
	if d.Reason != "task=chat_general,profile=reviewer,provider=policy" {
		t.Errorf("Reason = %q, want only provider tagged as policy-sourced (model came from the explicit override)", d.Reason)
	}
}

func TestResolveErrorsOnMissingAPIKey(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	cfg.UpdateAI(func(c *config.AIConfig) {
		c.Default.Provider = "openai"
		c.Default.Model = "gpt-4o-mini"
		c.Default.APIKey = ""
	})

	_, err = Resolve(TaskClassChatGeneral, nil, cfg, Override{})
	if err == nil {
		t.Fatal("expected error for missing API key")
	}
	if !strings.Contains(err.Error(), "Problem:") {
		t.Errorf("error should be a guided triad, got %q", err.Error())
	}
}
