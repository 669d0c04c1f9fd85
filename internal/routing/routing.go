// Package routing decides, for one AI request, which provider, model
// and API key to use and records a human-readable reason for that
// choice. Precedence is: an explicit per-request override, then the
// active agent profile's routing policy for the request's task class,
// then the global configuration default.
package routing

import (
	"fmt"
	"strings"

	"github.com/huddle-chat/huddle/internal/agentprofile"
	"github.com/huddle-chat/huddle/internal/config"
	"github.com/huddle-chat/huddle/internal/guidederr"
)

// TaskClass buckets a request so routing and memory retrieval can
// specialize by kind of work.
type TaskClass string

const (
	TaskClassCodeAnalysis TaskClass = "code_analysis"
	TaskClassChatGeneral  TaskClass = "chat_general"
)

// codeMarkers are substrings whose presence in a prompt (case-insensitive)
// marks it as code-related work rather than general chat.
var codeMarkers = []string{
	"code",
	"python",
	"traceback",
	"bug",
	"test",
	"refactor",
	"function",
	"class ",
}

// ClassifyTask inspects prompt text and returns TaskClassCodeAnalysis if
// any codeMarkers substring is present, else TaskClassChatGeneral.
func ClassifyTask(prompt string) TaskClass {
	lower := strings.ToLower(prompt)
	for _, marker := range codeMarkers {
		if strings.Contains(lower, marker) {
			return TaskClassCodeAnalysis
		}
	}
	return TaskClassChatGeneral
}

// Override lets a caller (e.g. a "/ai --provider=... --model=..."
// command) pin specific values ahead of profile and config resolution.
type Override struct {
	Provider string
	Model    string
	APIKey   string
}

// Decision is the resolved provider/model/key plus why it was chosen.
type Decision struct {
	Provider string
	Model    string
	APIKey   string
	Reason   string
}

// defaultProfileID names the profile in Reason when none is active,
// matching the reference agent runtime's DEFAULT_AGENT_PROFILE_ID.
const defaultProfileID = "default"

// Resolve picks provider/model/key for a request of the given task
// class: an explicit override wins outright; otherwise the active
// profile's routing_policy.routes[class] supplies provider and/or
// model; whatever is still unset falls through to cfg's default.
// Reason is the comma-joined key=value trail the policy actually
// contributed, e.g. "task=code_analysis,profile=default,provider=policy,model=policy".
func Resolve(class TaskClass, profile *agentprofile.Profile, cfg *config.Store, override Override) (Decision, error) {
	profileID := defaultProfileID
	if profile != nil && profile.ID != "" {
		profileID = profile.ID
	}
	reasons := []string{fmt.Sprintf("task=%s", class), fmt.Sprintf("profile=%s", profileID)}

	provider, model := override.Provider, override.Model
	if profile != nil {
		if pol, ok := profile.RoutingByTask[string(class)]; ok {
			if provider == "" && pol.Provider != "" {
				provider = pol.Provider
				reasons = append(reasons, "provider=policy")
			}
			if model == "" && pol.Model != "" {
				model = pol.Model
				reasons = append(reasons, "model=policy")
			}
		}
	}

	base := cfg.ResolveProvider(string(class))
	if provider == "" {
		provider = base.Provider
	}
	if model == "" {
		model = base.Model
	}
	key := override.APIKey
	if key == "" {
		key = base.APIKey
	}

	if provider == "" {
		return Decision{}, guidederr.New(
			"no AI provider configured",
			"neither the request, the active profile, nor ai_config.json named a provider",
			"set a default provider with /ai config provider <name> or pass --provider on the request",
		)
	}
	if model == "" {
		return Decision{}, guidederr.New(
			"no AI model configured",
			fmt.Sprintf("provider %q was selected but no model is set for it", provider),
			"set a default model with /ai config model <name> or pass --model on the request",
		)
	}
	if key == "" {
		return Decision{}, guidederr.New(
			"no API key configured",
			fmt.Sprintf("provider %q requires an API key and none was found", provider),
			fmt.Sprintf("set one via the HUDDLE_AI_API_KEY environment variable or /ai config key for %s", provider),
		)
	}

	return Decision{
		Provider: provider,
		Model:    model,
		APIKey:   key,
		Reason:   strings.Join(reasons, ","),
	}, nil
}
