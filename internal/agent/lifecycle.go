package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/huddle-chat/huddle/internal/actions"
	"github.com/huddle-chat/huddle/internal/agentprofile"
	"github.com/huddle-chat/huddle/internal/applog"
	"github.com/huddle-chat/huddle/internal/config"
	"github.com/huddle-chat/huddle/internal/memory"
	"github.com/huddle-chat/huddle/internal/routing"
	"github.com/huddle-chat/huddle/internal/storage"
)

// retryBackoff is how long completeWithRetry waits before its one
// retry attempt after a transient provider error.
const retryBackoff = 1200 * time.Millisecond

// RequestStatus is where the single active AI request sits.
type RequestStatus string

const (
	StatusIdle     RequestStatus = "idle"
	StatusRunning  RequestStatus = "running"
	StatusCanceled RequestStatus = "canceled"
	StatusDone     RequestStatus = "done"
	StatusError    RequestStatus = "error"
)

// PromptTokenBudget bounds how many tokens of prompt (system + memory
// context + user text) are sent upstream; the request is trimmed from
// the oldest content first once this is exceeded.
const PromptTokenBudget = 6000

// MemoryContextCharBudget bounds the memory context block's size
// before token trimming is applied to the whole prompt.
const MemoryContextCharBudget = 2400

// tiktokenEncoding is the encoding used to count and trim prompt
// tokens; cl100k_base covers the GPT-3.5/4 family and is a reasonable
// proxy for other providers' tokenizers.
const tiktokenEncoding = "cl100k_base"

// Snapshot is a read-only view of the state machine at one instant.
type Snapshot struct {
	Status    RequestStatus
	RequestID string
	Preview   string
	Err       string
}

// State is the process-wide singleton guarding the single active AI
// request. Only one request may run at a time; starting a new one
// while another is running is rejected.
type State struct {
	mu        sync.Mutex
	status    RequestStatus
	requestID string
	preview   string
	lastErr   string
	cancel    context.CancelFunc
}

// NewState creates an idle State.
func NewState() *State {
	return &State{status: StatusIdle}
}

// Snapshot returns the current state without mutating it.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Status: s.status, RequestID: s.requestID, Preview: s.preview, Err: s.lastErr}
}

// begin transitions Idle/Done/Canceled/Error -> Running, returning a
// cancelable context for the new request. It fails if a request is
// already running.
func (s *State) begin(ctx context.Context, requestID string) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusRunning {
		return nil, fmt.Errorf("an AI request (%s) is already running", s.requestID)
	}
	childCtx, cancel := context.WithCancel(ctx)
	s.status = StatusRunning
	s.requestID = requestID
	s.preview = ""
	s.lastErr = ""
	s.cancel = cancel
	return childCtx, nil
}

func (s *State) setPreview(text string) {
	s.mu.Lock()
	s.preview = text
	s.mu.Unlock()
}

func (s *State) finish(status RequestStatus, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.lastErr = errMsg
	s.cancel = nil
}

// Cancel requests cancellation of the currently running request, if
// any. It is a no-op if nothing is running.
func (s *State) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusRunning && s.cancel != nil {
		s.cancel()
	}
}

// Clear resets a finished (Done/Canceled/Error) state back to Idle so
// a new request can reuse this State's bookkeeping fields.
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusRunning {
		s.status = StatusIdle
		s.requestID = ""
		s.preview = ""
		s.lastErr = ""
	}
}

// Deps bundles everything Run needs to execute one request.
type Deps struct {
	Store     *storage.Store
	Memory    *memory.Store
	Profiles  *agentprofile.Store
	Config    *config.Store
	Actions   *actions.Manager
	Provider  Provider
	Reranker  memory.Reranker
	ProfileID string
}

// Result is what Run reports back to the controller once a request
// finishes (successfully, canceled, or with an error already
// translated for display).
type Result struct {
	RequestID      string
	Text           string
	MemoryIDsUsed  []string
	TopicsUsed     []string
	ProposedIDs    []string
	Canceled       bool
	DisplayedError string
}

// Run executes one full AI request: resolve routing, retrieve memory
// context, call the provider (retrying once on a transient error),
// propose any requested tool actions, and persist the final response
// event. It returns promptly with a Canceled result if ctx or the
// state machine's own cancellation flag fires before completion.
func Run(ctx context.Context, state *State, deps Deps, requestID, room, author, prompt string, now time.Time) Result {
	runCtx, err := state.begin(ctx, requestID)
	if err != nil {
		return Result{RequestID: requestID, DisplayedError: err.Error()}
	}

	result := runRequest(runCtx, state, deps, requestID, room, author, prompt, now)

	switch {
	case result.Canceled:
		state.finish(StatusCanceled, "")
	case result.DisplayedError != "":
		state.finish(StatusError, result.DisplayedError)
	default:
		state.finish(StatusDone, "")
	}
	return result
}

func runRequest(ctx context.Context, state *State, deps Deps, requestID, room, author, prompt string, now time.Time) Result {
	if checkCanceled(ctx) {
		return cancelResult(deps, room, requestID)
	}

	taskClass := routing.ClassifyTask(prompt)

	var profile *agentprofile.Profile
	if deps.Profiles != nil && deps.ProfileID != "" {
		if p, err := deps.Profiles.Get(deps.ProfileID); err == nil {
			profile = &p
		}
	}

	decision, err := routing.Resolve(taskClass, profile, deps.Config, routing.Override{})
	if err != nil {
		return Result{RequestID: requestID, DisplayedError: err.Error()}
	}

	scoredMemories, memWarning := memory.Retrieve(deps.Memory, prompt, memoryScopes(profile), 8, now, deps.Reranker)
	contextBlock := memory.BuildContextBlock(scoredMemories, MemoryContextCharBudget)

	memIDs := make([]string, 0, len(scoredMemories))
	topics := make([]string, 0, len(scoredMemories))
	seenTopics := map[string]bool{}
	for _, m := range scoredMemories {
		memIDs = append(memIDs, m.Entry.ID)
		if m.Entry.Topic != "" && !seenTopics[m.Entry.Topic] {
			seenTopics[m.Entry.Topic] = true
			topics = append(topics, m.Entry.Topic)
		}
	}

	systemPrompt := "You are a helpful participant in this chat room."
	if profile != nil && profile.SystemPrompt != "" {
		systemPrompt = profile.SystemPrompt
	}
	if contextBlock != "" {
		systemPrompt += "\n\nRelevant memory:\n" + contextBlock
	}

	messages := []ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt},
	}
	messages = trimToTokenBudget(messages, PromptTokenBudget)

	if checkCanceled(ctx) {
		return cancelResult(deps, room, requestID)
	}

	resp, err := completeWithRetry(ctx, deps.Provider, ChatRequest{Model: decision.Model, Messages: messages, Stream: true}, state.setPreview)
	if err != nil {
		if checkCanceled(ctx) {
			return cancelResult(deps, room, requestID)
		}
		return Result{RequestID: requestID, DisplayedError: TranslateError(err)}
	}

	var proposedIDs []string
	if deps.Actions != nil {
		for _, call := range resp.ToolCalls {
			if checkCanceled(ctx) {
				return cancelResult(deps, room, requestID)
			}
			a, err := deps.Actions.CreateFromProposal(room, requestID, "assistant", call.ToolName, call.Args, now)
			if err != nil {
				continue
			}
			proposedIDs = append(proposedIDs, a.ID)
		}
	}

	if checkCanceled(ctx) {
		return cancelResult(deps, room, requestID)
	}

	if deps.Store != nil {
		deps.Store.AppendEvent(room, storage.Event{
			Type:             "ai_response",
			Author:           "assistant",
			Text:             resp.Text,
			Provider:         decision.Provider,
			Model:            decision.Model,
			RequestID:        requestID,
			MemoryIDsUsed:    memIDs,
			MemoryTopicsUsed: topics,
		})
		if line := memoryUsedLine(memIDs); line != "" {
			deps.Store.AppendEvent(room, storage.Event{
				Type:      "system",
				Author:    "system",
				Text:      line,
				RequestID: requestID,
			})
		}
	}

	result := Result{
		RequestID:     requestID,
		Text:          resp.Text,
		MemoryIDsUsed: memIDs,
		TopicsUsed:    topics,
		ProposedIDs:   proposedIDs,
	}
	if memWarning != "" {
		result.Text = result.Text + "\n\n(" + memWarning + ")"
	}
	return result
}

// completeWithRetry calls provider.Complete, retrying exactly once
// after retryBackoff if the first attempt fails with a TransientError,
// honoring cancellation during that wait.
func completeWithRetry(ctx context.Context, provider Provider, req ChatRequest, onToken func(string)) (ChatResponse, error) {
	resp, err := provider.Complete(ctx, req, func(c StreamChunk) { onToken(c.Delta) })
	if err == nil {
		return resp, nil
	}
	if !IsTransient(err) {
		return ChatResponse{}, err
	}
	select {
	case <-ctx.Done():
		return ChatResponse{}, ctx.Err()
	case <-time.After(retryBackoff):
	}
	return provider.Complete(ctx, req, func(c StreamChunk) { onToken(c.Delta) })
}

func checkCanceled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// cancelResult records the canonical "AI request cancelled." system
// row (at most once per request, since every early-return path in
// runRequest funnels through here) and returns the Canceled result.
func cancelResult(deps Deps, room, requestID string) Result {
	if deps.Store != nil {
		deps.Store.AppendEvent(room, storage.Event{
			Type:      "system",
			Author:    "system",
			Text:      "AI request cancelled.",
			RequestID: requestID,
		})
	}
	return Result{RequestID: requestID, Canceled: true}
}

// memoryScopes returns the memory scopes a request should retrieve
// from: the active profile's memory_policy.scopes if it sets any,
// else every scope.
func memoryScopes(profile *agentprofile.Profile) []memory.Scope {
	if profile != nil && len(profile.MemoryPolicy.Scopes) > 0 {
		return profile.MemoryPolicy.Scopes
	}
	return []memory.Scope{memory.ScopePrivate, memory.ScopeRepo, memory.ScopeTeam}
}

// memoryUsedLine renders the system-row text that follows a
// successful ai_response naming which memories informed it, or "" if
// none were used.
func memoryUsedLine(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	return "Memory used: " + strings.Join(ids, ", ")
}

// trimToTokenBudget drops content from the oldest non-system messages
// first until the conversation fits within budget tokens, counted via
// tiktoken's cl100k_base encoding.
func trimToTokenBudget(messages []ChatMessage, budget int) []ChatMessage {
	enc, err := tiktoken.GetEncoding(tiktokenEncoding)
	if err != nil {
		return messages
	}

	count := func(msgs []ChatMessage) int {
		total := 0
		for _, m := range msgs {
			total += len(enc.Encode(m.Content, nil, nil))
		}
		return total
	}

	trimmed := append([]ChatMessage(nil), messages...)
	for count(trimmed) > budget && len(trimmed) > 1 {
		// Drop the oldest non-system message (index 1, since index 0
		// is the system prompt carrying the memory context).
		cut := 1
		if len(trimmed) <= cut {
			break
		}
		trimmed = append(trimmed[:cut], trimmed[cut+1:]...)
	}
	return trimmed
}
