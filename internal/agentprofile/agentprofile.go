// Package agentprofile persists named AI agent profiles: per-profile
// system prompt, routing overrides, and tool allowlist, each as its
// own JSON file under agents/profiles/<id>.json with a version counter
// and an append-only audit trail of edits.
package agentprofile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/huddle-chat/huddle/internal/applog"
	"github.com/huddle-chat/huddle/internal/memory"
)

// RoutingPolicy overrides provider/model selection for the task
// classes this profile cares about. An empty Provider/Model means
// "defer to the global config default" for that field.
type RoutingPolicy struct {
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

// ToolPolicy mode names.
const (
	ToolPolicyModeApproveAll = "approve_all"
	ToolPolicyModeAutoRun    = "auto_run"
)

// ToolPolicy governs whether this profile's allowed tools run freely or
// sit pending for human approval first.
type ToolPolicy struct {
	Mode            string   `json:"mode"`
	RequireApproval bool     `json:"require_approval"`
	AllowedTools    []string `json:"allowed_tools"`
}

// MemoryPolicy names the memory scopes this profile's requests draw
// retrieval context from.
type MemoryPolicy struct {
	Scopes []memory.Scope `json:"scopes,omitempty"`
}

// Profile is one agent persona: its system prompt, which tools it may
// call, which memory scopes it draws on, and any per-task-class
// routing overrides.
type Profile struct {
	ID            string                   `json:"id"`
	DisplayName   string                   `json:"display_name"`
	Description   string                   `json:"description,omitempty"`
	SystemPrompt  string                   `json:"system_prompt"`
	ToolPolicy    ToolPolicy               `json:"tool_policy"`
	MemoryPolicy  MemoryPolicy             `json:"memory_policy"`
	RoutingByTask map[string]RoutingPolicy `json:"routing_by_task,omitempty"`
	Version       int                      `json:"version"`
	UpdatedAt     string                   `json:"updated_at"`
}

// AuditEntry records one mutation to a profile for later inspection.
type AuditEntry struct {
	ProfileID string `json:"profile_id"`
	Version   int    `json:"version"`
	Action    string `json:"action"`
	Timestamp string `json:"timestamp"`
}

// jsonAppender is the minimal storage surface agentprofile needs for
// its audit trail.
type jsonAppender interface {
	AppendJSONL(path string, row any) bool
}

// Store manages on-disk profiles under baseDir/agents/profiles.
type Store struct {
	mu      sync.Mutex
	dir     string
	auditor jsonAppender
	auditLg string
	log     *applog.Logger
	cache   map[string]Profile
}

// New creates a Store rooted at baseDir, with an audit log appended
// via auditor (typically the shared *storage.Store).
func New(baseDir string, auditor jsonAppender) *Store {
	return &Store{
		dir:     filepath.Join(baseDir, "agents", "profiles"),
		auditor: auditor,
		auditLg: filepath.Join(baseDir, "agents", "profile_audit.jsonl"),
		log:     applog.New("agentprofile"),
		cache:   map[string]Profile{},
	}
}

// DefaultProfile is what EnsureDefault writes when no profile with id
// "default" exists.
func DefaultProfile() Profile {
	return Profile{
		ID:           "default",
		DisplayName:  "Assistant",
		Description:  "General-purpose chat participant with read-only filesystem access.",
		SystemPrompt: "You are a helpful participant in this chat room.",
		ToolPolicy: ToolPolicy{
			Mode:            ToolPolicyModeApproveAll,
			RequireApproval: true,
			AllowedTools:    []string{"read_file", "list_dir"},
		},
		MemoryPolicy: MemoryPolicy{Scopes: []memory.Scope{memory.ScopePrivate, memory.ScopeRepo, memory.ScopeTeam}},
		Version:      1,
	}
}

// EnsureDefault writes DefaultProfile if no profile named "default"
// exists yet.
func (s *Store) EnsureDefault() error {
	if _, err := s.Get("default"); err == nil {
		return nil
	}
	return s.Save(DefaultProfile(), "materialized_default")
}

// Get loads a profile by id, reading through to disk on cache miss.
func (s *Store) Get(id string) (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.cache[id]; ok {
		return p, nil
	}
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return Profile{}, err
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return Profile{}, err
	}
	s.cache[id] = p
	return p, nil
}

// List returns every persisted profile id.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			ids = append(ids, e.Name()[:len(e.Name())-len(".json")])
		}
	}
	return ids, nil
}

// Save persists p, bumping its version past the stored one (or starting
// at 1), stamping UpdatedAt with the current time, and writing an audit
// row.
func (s *Store) Save(p Profile, action string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.cache[p.ID]; ok {
		p.Version = existing.Version + 1
	} else if data, err := os.ReadFile(s.path(p.ID)); err == nil {
		var onDisk Profile
		if json.Unmarshal(data, &onDisk) == nil {
			p.Version = onDisk.Version + 1
		}
	} else if p.Version == 0 {
		p.Version = 1
	}
	p.UpdatedAt = time.Now().UTC().Format(time.RFC3339)

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path(p.ID), data, 0o644); err != nil {
		return err
	}
	s.cache[p.ID] = p

	if s.auditor != nil {
		entry := AuditEntry{ProfileID: p.ID, Version: p.Version, Action: action, Timestamp: p.UpdatedAt}
		if !s.auditor.AppendJSONL(s.auditLg, entry) {
			s.log.Warn("failed to append audit row for profile %s", p.ID)
		}
	}
	return nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s.json", id))
}
