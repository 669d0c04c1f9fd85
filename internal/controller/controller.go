// Package controller wires together storage, presence, memory,
// routing, actions, and the AI lifecycle behind one command-dispatch
// surface. cmd/huddle builds the components itself and sends every line
// of user input through Controller.HandleMessage.
package controller

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/huddle-chat/huddle/internal/actions"
	"github.com/huddle-chat/huddle/internal/agent"
	"github.com/huddle-chat/huddle/internal/agentprofile"
	"github.com/huddle-chat/huddle/internal/config"
	"github.com/huddle-chat/huddle/internal/eventbus"
	"github.com/huddle-chat/huddle/internal/memory"
	"github.com/huddle-chat/huddle/internal/presence"
	"github.com/huddle-chat/huddle/internal/storage"
)

// Topic names published on the event bus.
const (
	TopicChatEvent   = "chat_event"
	TopicAIResponse  = "ai_response"
	TopicActionState = "action_state"
)

// ModalState names a pending multi-step confirmation the controller is
// waiting on a follow-up message to resolve, such as a memory-commit
// draft awaiting /memory confirm.
type ModalState string

const (
	ModalNone            ModalState = ""
	ModalMemoryDraft     ModalState = "memory_draft_confirm"
	ModalPlaybookConfirm ModalState = "playbook_confirm"
)

// pendingDraft holds the one outstanding draft a user can confirm or
// discard, keyed by (room, user).
type pendingDraft struct {
	state   ModalState
	payload memoryDraft
}

type memoryDraft struct {
	scope          memory.Scope
	summary        string
	topic          string
	tags           []string
	source         string
	confidence     memory.Confidence
	room           string
	originEventRef string
}

// Controller is the command/event dispatch hub for one peer process.
type Controller struct {
	Store     *storage.Store
	Presence  *presence.Tracker
	Memory    *memory.Store
	Profiles  *agentprofile.Store
	Config    *config.Store
	Actions   *actions.Manager
	AIState   *agent.State
	AIDeps    agent.Deps
	Bus       *eventbus.Bus

	drafts map[string]pendingDraft
}

// New wires a Controller from its component dependencies. The
// Controller publishes to bus; it registers no handlers on it.
func New(store *storage.Store, pres *presence.Tracker, mem *memory.Store, profiles *agentprofile.Store, cfg *config.Store, am *actions.Manager, aiState *agent.State, aiDeps agent.Deps, bus *eventbus.Bus) *Controller {
	c := &Controller{
		Store:    store,
		Presence: pres,
		Memory:   mem,
		Profiles: profiles,
		Config:   cfg,
		Actions:  am,
		AIState:  aiState,
		AIDeps:   aiDeps,
		Bus:      bus,
		drafts:   map[string]pendingDraft{},
	}
	return c
}

func draftKey(room, user string) string { return room + "\x00" + user }

// HandleMessage is the single entry point for an incoming room
// message: it intercepts any modal confirmation in progress, then
// dispatches slash commands, and otherwise treats the text as a plain
// chat message to append.
func (c *Controller) HandleMessage(ctx context.Context, room, user, text string, now time.Time) string {
	key := draftKey(room, user)
	if draft, ok := c.drafts[key]; ok {
		if reply, handled := c.handleModalReply(draft, room, user, text, now); handled {
			delete(c.drafts, key)
			return reply
		}
	}

	if strings.HasPrefix(strings.TrimSpace(text), "/") {
		return c.dispatchCommand(ctx, room, user, text, now)
	}

	c.Store.AppendEvent(room, storage.Event{Type: "chat", Author: user, Text: text})
	c.Bus.Publish(eventbus.Event{Topic: TopicChatEvent, Payload: storage.Event{Type: "chat", Author: user, Text: text}})
	return ""
}

func (c *Controller) handleModalReply(draft pendingDraft, room, user, text string, now time.Time) (string, bool) {
	switch draft.state {
	case ModalMemoryDraft:
		switch strings.ToLower(strings.TrimSpace(text)) {
		case "/memory confirm", "confirm", "yes":
			d := draft.payload
			entry, err := c.Memory.Commit(d.scope, user, d.summary, d.topic, d.tags, d.source, d.confidence, d.room, d.originEventRef)
			if err != nil {
				return fmt.Sprintf("failed to commit memory: %v", err), true
			}
			return fmt.Sprintf("memory committed (%s)", entry.ID), true
		case "/memory discard", "discard", "no":
			return "memory draft discarded", true
		default:
			return "", false
		}
	default:
		return "", false
	}
}

func (c *Controller) dispatchCommand(ctx context.Context, room, user, text string, now time.Time) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	switch fields[0] {
	case "/ai":
		return c.handleAI(ctx, room, user, strings.TrimSpace(strings.TrimPrefix(text, "/ai")), now)
	case "/ai-cancel":
		c.AIState.Cancel()
		return "cancellation requested"
	case "/memory":
		return c.handleMemory(room, user, fields[1:], now)
	case "/who":
		return c.handleWho(room, now)
	case "/toolpaths":
		return c.handleToolPaths(fields[1:])
	default:
		return fmt.Sprintf("unknown command %q", fields[0])
	}
}

func (c *Controller) handleAI(ctx context.Context, room, user, prompt string, now time.Time) string {
	if prompt == "" {
		return "usage: /ai <prompt>"
	}
	c.Store.AppendEvent(room, storage.Event{Type: "ai_prompt", Author: user, Text: prompt})

	requestID := strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
	result := agent.Run(ctx, c.AIState, c.AIDeps, requestID, room, user, prompt, now)

	if result.Canceled {
		return "AI request canceled"
	}
	if result.DisplayedError != "" {
		return result.DisplayedError
	}

	c.Bus.Publish(eventbus.Event{
		Topic:    TopicAIResponse,
		Payload:  result,
		Critical: true,
	})
	return result.Text
}

func (c *Controller) handleMemory(room, user string, args []string, now time.Time) string {
	if len(args) == 0 {
		entries := c.Memory.List(memory.ScopePrivate)
		if len(entries) == 0 {
			return "no private memories yet"
		}
		var b strings.Builder
		for _, e := range entries {
			b.WriteString("- " + e.Summary + "\n")
		}
		return strings.TrimRight(b.String(), "\n")
	}

	switch args[0] {
	case "add":
		if len(args) < 2 {
			return "usage: /memory add <summary>"
		}
		summary := strings.Join(args[1:], " ")
		draft := memoryDraft{
			scope:      memory.ScopePrivate,
			summary:    summary,
			confidence: memory.ConfidenceMed,
			source:     fmt.Sprintf("room:%s ts:%s", room, now.UTC().Format(time.RFC3339)),
			room:       room,
		}
		if dup, ok := c.Memory.DuplicateOf(memory.ScopePrivate, memory.Entry{Summary: summary}); ok {
			c.drafts[draftKey(room, user)] = pendingDraft{state: ModalMemoryDraft, payload: draft}
			return fmt.Sprintf("this looks similar to an existing memory (%q) - reply /memory confirm to add anyway or /memory discard to cancel", dup.Summary)
		}
		entry, err := c.Memory.Commit(draft.scope, user, draft.summary, draft.topic, draft.tags, draft.source, draft.confidence, draft.room, draft.originEventRef)
		if err != nil {
			return fmt.Sprintf("failed to commit memory: %v", err)
		}
		return fmt.Sprintf("memory committed (%s)", entry.ID)
	default:
		return fmt.Sprintf("unknown /memory subcommand %q", args[0])
	}
}

// handleToolPaths implements /toolpaths (list current allowed roots)
// and /toolpaths add <path> (widen the containment check permanently).
func (c *Controller) handleToolPaths(args []string) string {
	if len(args) == 0 {
		roots := c.Actions.AllowedRoots()
		if len(roots) == 0 {
			return "no tool paths registered"
		}
		return "allowed roots:\n- " + strings.Join(roots, "\n- ")
	}
	switch args[0] {
	case "add":
		if len(args) < 2 {
			return "usage: /toolpaths add <path>"
		}
		path := args[1]
		if err := c.Config.AddToolPath(path); err != nil {
			return fmt.Sprintf("failed to persist tool path: %v", err)
		}
		if err := c.Actions.AddAllowedRoot(path); err != nil {
			return fmt.Sprintf("failed to register tool path: %v", err)
		}
		return fmt.Sprintf("registered tool path %s", path)
	default:
		return fmt.Sprintf("unknown /toolpaths subcommand %q", args[0])
	}
}

func (c *Controller) handleWho(room string, now time.Time) string {
	users := c.Presence.OnlineUsers(room, now)
	if len(users) == 0 {
		return "nobody else is online in this room"
	}
	return "online: " + strings.Join(users, ", ")
}
