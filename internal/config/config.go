// Package config persists the two JSON configuration files a peer
// reads at startup: ai_config.json (provider/model/key defaults and
// per-task-class overrides) and chat_config.json (display name, default
// room, and local preferences).
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// ProviderSettings names the default AI backend and credentials for a
// task class absent a more specific override.
type ProviderSettings struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	APIKey   string `json:"api_key,omitempty"`
}

// AIConfig is the persisted shape of ai_config.json.
type AIConfig struct {
	Default      ProviderSettings            `json:"default"`
	ByTaskClass  map[string]ProviderSettings `json:"by_task_class,omitempty"`
	RerankEnable bool                        `json:"rerank_enabled"`
}

// ChatConfig is the persisted shape of chat_config.json.
type ChatConfig struct {
	DisplayName string   `json:"display_name"`
	DefaultRoom string   `json:"default_room"`
	ToolPaths   []string `json:"tool_paths,omitempty"`
}

func defaultAIConfig() AIConfig {
	return AIConfig{
		Default: ProviderSettings{
			Provider: "openai",
			Model:    "gpt-4o-mini",
		},
		ByTaskClass:  map[string]ProviderSettings{},
		RerankEnable: true,
	}
}

func defaultChatConfig() ChatConfig {
	return ChatConfig{DisplayName: "", DefaultRoom: "general"}
}

// Store guards both config files with one mutex and persists on every
// mutation, mirroring the reference agent runtime's settings store.
type Store struct {
	mu sync.Mutex

	aiPath   string
	chatPath string

	ai   AIConfig
	chat ChatConfig
}

// Load reads ai_config.json and chat_config.json from dir, creating
// both with defaults if missing. Environment variables
// HUDDLE_AI_PROVIDER / HUDDLE_AI_MODEL / HUDDLE_AI_API_KEY, when set,
// override the loaded default provider settings for the lifetime of
// the process (but are never written back to disk).
func Load(dir string) (*Store, error) {
	s := &Store{
		aiPath:   filepath.Join(dir, "ai_config.json"),
		chatPath: filepath.Join(dir, "chat_config.json"),
	}

	ai, err := loadOrInit(s.aiPath, defaultAIConfig())
	if err != nil {
		return nil, err
	}
	s.ai = ai

	chat, err := loadOrInit(s.chatPath, defaultChatConfig())
	if err != nil {
		return nil, err
	}
	s.chat = chat

	if v := os.Getenv("HUDDLE_AI_PROVIDER"); v != "" {
		s.ai.Default.Provider = v
	}
	if v := os.Getenv("HUDDLE_AI_MODEL"); v != "" {
		s.ai.Default.Model = v
	}
	if v := os.Getenv("HUDDLE_AI_API_KEY"); v != "" {
		s.ai.Default.APIKey = v
	}

	return s, nil
}

func loadOrInit[T any](path string, fallback T) (T, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if err := writeJSON(path, fallback); err != nil {
			return fallback, err
		}
		return fallback, nil
	}
	if err != nil {
		return fallback, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return fallback, err
	}
	return v, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// AI returns a copy of the current AI configuration.
func (s *Store) AI() AIConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ai
}

// Chat returns a copy of the current chat configuration.
func (s *Store) Chat() ChatConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chat
}

// UpdateAI applies mutate to the in-memory AI config and persists it.
func (s *Store) UpdateAI(mutate func(*AIConfig)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mutate(&s.ai)
	return writeJSON(s.aiPath, s.ai)
}

// UpdateChat applies mutate to the in-memory chat config and persists it.
func (s *Store) UpdateChat(mutate func(*ChatConfig)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mutate(&s.chat)
	return writeJSON(s.chatPath, s.chat)
}

// AddToolPath appends path to the persisted tool_paths allowlist if it
// is not already registered, backing the /toolpaths add command.
func (s *Store) AddToolPath(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.chat.ToolPaths {
		if p == path {
			return nil
		}
	}
	s.chat.ToolPaths = append(s.chat.ToolPaths, path)
	return writeJSON(s.chatPath, s.chat)
}

// ResolveProvider returns the provider settings for taskClass, falling
// back to Default when no task-class-specific override exists.
func (s *Store) ResolveProvider(taskClass string) ProviderSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ov, ok := s.ai.ByTaskClass[taskClass]; ok {
		merged := s.ai.Default
		if ov.Provider != "" {
			merged.Provider = ov.Provider
		}
		if ov.Model != "" {
			merged.Model = ov.Model
		}
		if ov.APIKey != "" {
			merged.APIKey = ov.APIKey
		}
		return merged
	}
	return s.ai.Default
}
