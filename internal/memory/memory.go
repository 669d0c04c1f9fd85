// Package memory implements Huddle's grounding store: short structured
// facts a user explicitly commits to a private, repo, or team scope,
// retrieved later by lexical prefiltering (optionally refined by an AI
// rerank) and assembled into a character-budgeted context block for the AI
// request pipeline.
package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/huddle-chat/huddle/internal/applog"
)

// Scope partitions memory entries by who can see them.
type Scope string

const (
	ScopePrivate Scope = "private"
	ScopeRepo    Scope = "repo"
	ScopeTeam    Scope = "team"
)

// Confidence is how strongly an entry's author vouches for it. It also
// weighs into lexical retrieval scoring.
type Confidence string

const (
	ConfidenceLow  Confidence = "low"
	ConfidenceMed  Confidence = "med"
	ConfidenceHigh Confidence = "high"
)

// ValidConfidence reports whether c is one of the three allowed levels.
func ValidConfidence(c Confidence) bool {
	switch c {
	case ConfidenceLow, ConfidenceMed, ConfidenceHigh:
		return true
	default:
		return false
	}
}

// Entry is one committed memory.
type Entry struct {
	ID             string     `json:"id"`
	Ts             time.Time  `json:"ts"`
	Author         string     `json:"author"`
	Summary        string     `json:"summary"`
	Topic          string     `json:"topic"`
	Confidence     Confidence `json:"confidence"`
	Source         string     `json:"source,omitempty"`
	Room           string     `json:"room,omitempty"`
	OriginEventRef string     `json:"origin_event_ref,omitempty"`
	Tags           []string   `json:"tags,omitempty"`
	Scope          Scope      `json:"scope"`
}

// Scoring weights and limits, matching the reference implementation's
// lexical prefilter exactly so retrieved context stays stable across
// ports.
const (
	weightSummary = 2.2
	weightTopic   = 1.6
	weightTags    = 1.1
	weightSource  = 0.4

	confidenceBoostHigh = 0.4
	confidenceBoostMed  = 0.15
	recencyBoostFlat    = 0.05

	// PrefilterLimit is how many candidates the lexical pass keeps
	// before an optional rerank narrows further.
	PrefilterLimit = 25
	// FinalLimit is how many entries ultimately reach the context block.
	FinalLimit = 5

	// SummaryCharLimit and SourceCharLimit bound the fields rendered
	// into a context-block line, independent of the line's own
	// char budget.
	SummaryCharLimit = 220
	SourceCharLimit  = 80

	// DuplicateThreshold is the similarity score above which a new
	// memory is considered a near-duplicate of an existing one.
	DuplicateThreshold = 0.80
	// duplicateTopicBonus nudges the similarity score when both
	// entries share a topic.
	duplicateTopicBonus = 0.08
)

// Store persists entries as append-only JSONL files, one per scope,
// under baseDir/memory/<scope>.jsonl.
type Store struct {
	mu      sync.Mutex
	baseDir string
	log     *applog.Logger
	cache   map[Scope][]Entry
}

// New creates a Store rooted at baseDir (the same root as room logs
// and profiles).
func New(baseDir string) *Store {
	return &Store{baseDir: baseDir, log: applog.New("memory"), cache: map[Scope][]Entry{}}
}

func (s *Store) path(scope Scope) string {
	return filepath.Join(s.baseDir, "memory", string(scope)+".jsonl")
}

// load reads scope's JSONL file fresh, skipping malformed rows.
func (s *Store) load(scope Scope) []Entry {
	data, err := os.ReadFile(s.path(scope))
	if err != nil {
		return nil
	}
	var out []Entry
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (s *Store) persist(scope Scope, entries []Entry) error {
	if err := os.MkdirAll(filepath.Dir(s.path(scope)), 0o755); err != nil {
		return err
	}
	var b strings.Builder
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		b.Write(data)
		b.WriteByte('\n')
	}
	return os.WriteFile(s.path(scope), []byte(b.String()), 0o644)
}

// List returns every entry in scope, most recent first.
func (s *Store) List(scope Scope) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.load(scope)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Ts.After(entries[j].Ts) })
	return entries
}

// DuplicateOf reports the most similar existing entry in scope, if its
// similarity to candidate meets DuplicateThreshold.
func (s *Store) DuplicateOf(scope Scope, candidate Entry) (Entry, bool) {
	s.mu.Lock()
	existing := s.load(scope)
	s.mu.Unlock()

	var best Entry
	bestScore := 0.0
	for _, e := range existing {
		score := similarity(e, candidate)
		if score > bestScore {
			bestScore = score
			best = e
		}
	}
	return best, bestScore >= DuplicateThreshold
}

// similarity blends token overlap on the summary with a flat bonus for
// a matching topic, mirroring the reference implementation's
// difflib.ratio-plus-topic-bonus duplicate check (approximated here by
// token-overlap ratio, since Go has no difflib equivalent in the
// examples' dependency surface).
func similarity(a, b Entry) float64 {
	ratio := tokenOverlapRatio(a.Summary, b.Summary)
	if a.Topic != "" && strings.EqualFold(a.Topic, b.Topic) {
		ratio += duplicateTopicBonus
	}
	if ratio > 1.0 {
		ratio = 1.0
	}
	return ratio
}

func tokenOverlapRatio(a, b string) float64 {
	ta := tokenize(a)
	tb := tokenize(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	setB := map[string]bool{}
	for _, t := range tb {
		setB[t] = true
	}
	overlap := 0
	for _, t := range ta {
		if setB[t] {
			overlap++
		}
	}
	union := len(ta) + len(tb) - overlap
	if union == 0 {
		return 0
	}
	return float64(overlap) / float64(union)
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	return fields
}

func tokenSet(s string) map[string]bool {
	set := map[string]bool{}
	for _, t := range tokenize(s) {
		if len(t) >= 2 {
			set[t] = true
		}
	}
	return set
}

func intersectSize(a, b map[string]bool) int {
	n := 0
	for t := range a {
		if b[t] {
			n++
		}
	}
	return n
}

// newEntryID produces a mem_<unix>_<rand6> id, matching the reference
// implementation's f"mem_{int(time.time())}_{uuid4().hex[:6]}".
func newEntryID(now time.Time) string {
	rand6 := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("mem_%d_%s", now.Unix(), rand6)
}

// Commit validates, stamps, and appends a new entry to its scope's
// store. Callers are expected to have already resolved any duplicate
// warning via DuplicateOf before calling Commit. summary and source
// must be non-empty and confidence must be one of low/med/high, per
// the draft-confirm contract.
func (s *Store) Commit(scope Scope, author, summary, topic string, tags []string, source string, confidence Confidence, room, originEventRef string) (Entry, error) {
	if strings.TrimSpace(summary) == "" {
		return Entry{}, fmt.Errorf("memory summary must not be empty")
	}
	if strings.TrimSpace(source) == "" {
		return Entry{}, fmt.Errorf("memory source must not be empty")
	}
	if !ValidConfidence(confidence) {
		return Entry{}, fmt.Errorf("confidence must be low, med, or high")
	}
	if topic == "" {
		topic = "general"
	}

	now := time.Now().UTC()
	e := Entry{
		ID:             newEntryID(now),
		Ts:             now,
		Author:         author,
		Summary:        summary,
		Topic:          topic,
		Confidence:     confidence,
		Source:         source,
		Room:           room,
		OriginEventRef: originEventRef,
		Tags:           tags,
		Scope:          scope,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.load(scope)
	entries = append(entries, e)
	if err := s.persist(scope, entries); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// Scored pairs an Entry with its lexical retrieval score.
type Scored struct {
	Entry Entry
	Score float64
}

// Prefilter scores every entry across scopes against query using the
// reference weighting scheme, returning the top n (capped at
// PrefilterLimit) by (score, confidence=high first, ts) descending.
func (s *Store) Prefilter(query string, scopes []Scope, n int, now time.Time) []Scored {
	promptTokens := tokenSet(query)
	var all []Entry
	for _, scope := range scopes {
		all = append(all, s.List(scope)...)
	}

	scored := make([]Scored, 0, len(all))
	for _, e := range all {
		score := lexicalScore(e, promptTokens)
		if score <= 0 {
			continue
		}
		scored = append(scored, Scored{Entry: e, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		aHigh := a.Entry.Confidence == ConfidenceHigh
		bHigh := b.Entry.Confidence == ConfidenceHigh
		if aHigh != bHigh {
			return aHigh
		}
		return a.Entry.Ts.After(b.Entry.Ts)
	})

	limit := PrefilterLimit
	if n > 0 && n < limit {
		limit = n
	}
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

// lexicalScore is the raw-intersection-count formula: 2.2*|P∩summary|
// + 1.6*|P∩topic| + 1.1*|P∩tags| + 0.4*|P∩source|, plus a discrete
// confidence boost and a flat recency boost when the entry has a
// timestamp.
func lexicalScore(e Entry, promptTokens map[string]bool) float64 {
	if len(promptTokens) == 0 {
		return 0
	}

	score := float64(intersectSize(promptTokens, tokenSet(e.Summary)))*weightSummary +
		float64(intersectSize(promptTokens, tokenSet(e.Topic)))*weightTopic +
		float64(intersectSize(promptTokens, tokenSet(strings.Join(e.Tags, " "))))*weightTags +
		float64(intersectSize(promptTokens, tokenSet(e.Source)))*weightSource

	if score <= 0 {
		return 0
	}

	switch e.Confidence {
	case ConfidenceHigh:
		score += confidenceBoostHigh
	case ConfidenceMed:
		score += confidenceBoostMed
	}

	if !e.Ts.IsZero() {
		score += recencyBoostFlat
	}

	return score
}

// Reranker optionally re-scores the lexical prefilter's candidates
// with a model call. A failure falls back to the lexical order rather
// than failing the whole memory lookup.
type Reranker interface {
	Rerank(query string, candidates []Scored) ([]Scored, error)
}

// rerankFallbackWarning is the canonical, user-facing string emitted
// when a rerank call fails or returns nothing usable.
const rerankFallbackWarning = "Memory rerank unavailable; using lexical memory selection."

// Retrieve runs Prefilter then, if rerank is non-nil, attempts to
// refine the ordering, finally truncating to FinalLimit. On rerank
// failure it returns the lexical results plus the canonical fallback
// warning.
func Retrieve(s *Store, query string, scopes []Scope, n int, now time.Time, rerank Reranker) ([]Scored, string) {
	lexical := s.Prefilter(query, scopes, n, now)
	if len(lexical) == 0 {
		return lexical, ""
	}

	final := lexical
	warning := ""
	if rerank != nil {
		reranked, err := rerank.Rerank(query, lexical)
		if err != nil || len(reranked) == 0 {
			warning = rerankFallbackWarning
		} else {
			final = reranked
		}
	}

	if len(final) > FinalLimit {
		final = final[:FinalLimit]
	}
	return final, warning
}

// BuildContextBlock renders scored entries into a single prompt-ready
// block, stopping once adding the next entry would exceed maxChars (a
// character budget the caller scales to its model's token budget).
func BuildContextBlock(scored []Scored, maxChars int) string {
	var b strings.Builder
	for _, s := range scored {
		line := formatEntryLine(s.Entry)
		if b.Len()+len(line)+1 > maxChars {
			break
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatEntryLine(e Entry) string {
	summary := truncateField(e.Summary, SummaryCharLimit)
	source := truncateField(e.Source, SourceCharLimit)
	topic := e.Topic
	if topic == "" {
		topic = "general"
	}
	confidence := e.Confidence
	if confidence == "" {
		confidence = ConfidenceMed
	}
	return fmt.Sprintf("- %s | topic=%s | confidence=%s | summary=%s | source=%s", e.ID, topic, confidence, summary, source)
}

func truncateField(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
