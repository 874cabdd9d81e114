// Package session implements chat session state for the bridge: the message
// log per conversation, draft mentions/skills staged for the next turn, and
// the normalization pass that makes persisted data trustworthy again.
//
// Nothing loaded from disk is used without going through Normalize first.
package session

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// MaxChatHistory is the maximum number of sessions kept in the store.
	MaxChatHistory = 10

	// MaxSessionMessages is the per-session message cap. Older entries are
	// evicted from the front.
	MaxSessionMessages = 80

	// MaxCompactSummaryChars caps the accumulated compaction summary.
	MaxCompactSummaryChars = 12000

	// MaxSkillsPerSession caps the draft skill selection.
	MaxSkillsPerSession = 8
)

// DefaultTitle is the label of a session before the first user message.
const DefaultTitle = "新对话"

// Placeholder contents written by the UI while a turn is in flight. Messages
// still carrying them on load belong to a crashed or interrupted run and are
// dropped during normalization.
const (
	pendingPlaceholder     = "(处理中...)"
	interruptedPlaceholder = "（上次会话未完成，已中断）"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn entry in a session log.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// Reasoning transcript captured while streaming. Assistant-only.
	Thought           string `json:"thought,omitempty"`
	ThoughtDurationMS int64  `json:"thoughtDurationMs,omitempty"`
	ThoughtLabel      string `json:"thoughtLabel,omitempty"`
	ThoughtExpanded   bool   `json:"thoughtExpanded,omitempty"`

	// Pending marks an in-flight placeholder. Never true after Normalize.
	Pending bool `json:"pending,omitempty"`
}

// MentionType distinguishes file and folder references.
type MentionType string

const (
	MentionFile   MentionType = "file"
	MentionFolder MentionType = "folder"
)

// Mention is a staged document or folder reference. Resolved content is
// attached at prompt-build time and never persisted.
type Mention struct {
	Type MentionType `json:"type"`
	Path string      `json:"path"`
	Name string      `json:"name"`
	Auto bool        `json:"auto,omitempty"`
}

// Key returns the dedup key for a mention.
func (m Mention) Key() string {
	return string(m.Type) + ":" + m.Path
}

// Session is one conversation thread.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Messages is ordered oldest first and bounded by MaxSessionMessages.
	Messages []Message `json:"messages"`

	// AgentSessionID is the legacy exec-path session handle, AgentThreadID
	// the app-server thread handle. Both empty until the first successful
	// turn.
	AgentSessionID string `json:"agentSessionId"`
	AgentThreadID  string `json:"agentThreadId"`

	DraftMentions []Mention `json:"draftMentions"`
	DraftSkills   []string  `json:"draftSkills"`

	// CompactedContext accumulates summaries of pruned history, capped at
	// MaxCompactSummaryChars with the oldest content truncated off the front.
	CompactedContext string `json:"compactedContext"`

	// LastPromptTokens is the estimate of the most recently sent prompt,
	// used as a floor by the budget manager.
	LastPromptTokens int `json:"lastPromptTokens"`

	AutoDocMentionDisabled bool `json:"autoDocMentionDisabled"`
	AutoDocMentionSeeded   bool `json:"autoDocMentionSeeded"`
}

// New returns an empty session with a fresh id and default title.
func New() *Session {
	now := time.Now()
	return &Session{
		ID:            uuid.NewString(),
		Title:         DefaultTitle,
		CreatedAt:     now,
		UpdatedAt:     now,
		Messages:      []Message{},
		DraftMentions: []Mention{},
		DraftSkills:   []string{},
	}
}

// Touch bumps the session's update timestamp.
func (s *Session) Touch() {
	s.UpdatedAt = time.Now()
}

// AppendMessage appends a message, bumps UpdatedAt and enforces the message
// cap.
func (s *Session) AppendMessage(msg Message) {
	s.Messages = append(s.Messages, msg)
	s.Touch()
	TrimMessages(s)
}

// DeriveTitle sets the title from the first user text if it is still the
// default, clipped to 24 runes.
func (s *Session) DeriveTitle(userText string) {
	if s.Title != "" && s.Title != DefaultTitle {
		return
	}
	text := strings.TrimSpace(userText)
	if text == "" {
		return
	}
	runes := []rune(text)
	if len(runes) > 24 {
		runes = runes[:24]
	}
	s.Title = string(runes)
}

// StageSkill adds a skill id to the draft selection for the next turn.
// Returns false when the id is empty, already staged, or the selection is
// full.
func (s *Session) StageSkill(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	for _, existing := range s.DraftSkills {
		if existing == id {
			return false
		}
	}
	if len(s.DraftSkills) >= MaxSkillsPerSession {
		return false
	}
	s.DraftSkills = append(s.DraftSkills, id)
	s.Touch()
	return true
}

// UnstageSkill removes a skill id from the draft selection.
func (s *Session) UnstageSkill(id string) bool {
	id = strings.TrimSpace(id)
	for i, existing := range s.DraftSkills {
		if existing == id {
			s.DraftSkills = append(s.DraftSkills[:i], s.DraftSkills[i+1:]...)
			s.Touch()
			return true
		}
	}
	return false
}

// StageMention adds a mention to the draft set, deduplicated by (type, path).
func (s *Session) StageMention(m Mention) bool {
	clean, ok := normalizeMention(m)
	if !ok {
		return false
	}
	for _, existing := range s.DraftMentions {
		if existing.Key() == clean.Key() {
			return false
		}
	}
	s.DraftMentions = append(s.DraftMentions, clean)
	s.Touch()
	return true
}

// RemoveMention drops the staged mention with the given type and path.
// Removing an auto-seeded mention disables auto seeding for this session.
func (s *Session) RemoveMention(typ MentionType, path string) bool {
	clean, ok := normalizeMention(Mention{Type: typ, Path: path})
	if !ok {
		return false
	}
	for i, m := range s.DraftMentions {
		if m.Key() != clean.Key() {
			continue
		}
		if m.Auto {
			s.AutoDocMentionDisabled = true
		}
		s.DraftMentions = append(s.DraftMentions[:i], s.DraftMentions[i+1:]...)
		s.Touch()
		return true
	}
	return false
}

// ClearMentions drops all staged mentions, as happens after a send. It does
// not disable auto seeding; only an explicit RemoveMention of an auto
// mention does that.
func (s *Session) ClearMentions() {
	if len(s.DraftMentions) == 0 {
		return
	}
	s.DraftMentions = []Mention{}
	s.Touch()
}

// SeedAutoMention stages the given document as an automatic file mention.
// Seeding only happens on a pristine session: no prior messages, nothing
// already staged, and auto seeding not disabled by an earlier removal.
func (s *Session) SeedAutoMention(path, name string) bool {
	if s.AutoDocMentionDisabled || len(s.DraftMentions) > 0 || len(s.Messages) > 0 {
		return false
	}
	clean, ok := normalizeMention(Mention{Type: MentionFile, Path: path, Name: name, Auto: true})
	if !ok {
		return false
	}
	s.DraftMentions = []Mention{clean}
	s.AutoDocMentionSeeded = true
	s.Touch()
	return true
}

// TrimMessages drops the oldest messages beyond MaxSessionMessages.
func TrimMessages(s *Session) {
	if s == nil || len(s.Messages) <= MaxSessionMessages {
		return
	}
	s.Messages = append([]Message(nil), s.Messages[len(s.Messages)-MaxSessionMessages:]...)
}

// Normalize is the trust boundary for loaded session data: invalid messages
// are filtered, stale pending placeholders dropped, mention and skill sets
// deduplicated, oversized fields clamped, and missing identity fields
// generated. Normalize(Normalize(x)) == Normalize(x).
func Normalize(raw *Session) *Session {
	if raw == nil {
		return nil
	}
	now := time.Now()
	s := &Session{
		ID:                     raw.ID,
		Title:                  raw.Title,
		CreatedAt:              raw.CreatedAt,
		UpdatedAt:              raw.UpdatedAt,
		AgentSessionID:         raw.AgentSessionID,
		AgentThreadID:          raw.AgentThreadID,
		DraftMentions:          NormalizeMentions(raw.DraftMentions),
		DraftSkills:            NormalizeSkillIDs(raw.DraftSkills),
		CompactedContext:       clampRight(raw.CompactedContext, MaxCompactSummaryChars),
		LastPromptTokens:       raw.LastPromptTokens,
		AutoDocMentionDisabled: raw.AutoDocMentionDisabled,
		AutoDocMentionSeeded:   raw.AutoDocMentionSeeded,
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Title == "" {
		s.Title = DefaultTitle
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = now
	}
	if s.LastPromptTokens < 0 {
		s.LastPromptTokens = 0
	}

	s.Messages = make([]Message, 0, len(raw.Messages))
	for _, m := range raw.Messages {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			continue
		}
		trimmed := strings.TrimSpace(m.Content)
		if trimmed == "" {
			continue
		}
		if m.Pending && (trimmed == pendingPlaceholder || trimmed == interruptedPlaceholder) {
			continue
		}
		if m.Role == RoleAssistant && trimmed == interruptedPlaceholder {
			continue
		}
		label := m.ThoughtLabel
		if label == "" && m.Pending {
			label = "Interrupted"
		}
		duration := m.ThoughtDurationMS
		if duration < 0 {
			duration = 0
		}
		s.Messages = append(s.Messages, Message{
			Role:              m.Role,
			Content:           m.Content,
			Thought:           m.Thought,
			ThoughtDurationMS: duration,
			ThoughtLabel:      label,
			ThoughtExpanded:   m.ThoughtExpanded,
		})
	}
	TrimMessages(s)
	return s
}

// NormalizeMentions deduplicates mentions by (type, path), preserving first
// appearance order, and drops entries without a path.
func NormalizeMentions(list []Mention) []Mention {
	out := make([]Mention, 0, len(list))
	seen := make(map[string]bool, len(list))
	for _, raw := range list {
		m, ok := normalizeMention(raw)
		if !ok || seen[m.Key()] {
			continue
		}
		seen[m.Key()] = true
		out = append(out, m)
	}
	return out
}

func normalizeMention(raw Mention) (Mention, bool) {
	typ := MentionFile
	if raw.Type == MentionFolder {
		typ = MentionFolder
	}
	path := strings.TrimSpace(raw.Path)
	path = strings.TrimRight(path, "/")
	if path == "" {
		return Mention{}, false
	}
	name := strings.TrimSpace(raw.Name)
	if name == "" {
		if typ == MentionFolder {
			parts := strings.Split(path, "/")
			name = parts[len(parts)-1]
		}
		if name == "" {
			name = path
		}
	}
	return Mention{Type: typ, Path: path, Name: name, Auto: raw.Auto}, true
}

// NormalizeSkillIDs deduplicates skill ids preserving order and caps the
// result at MaxSkillsPerSession.
func NormalizeSkillIDs(list []string) []string {
	out := make([]string, 0, len(list))
	seen := make(map[string]bool, len(list))
	for _, raw := range list {
		id := strings.TrimSpace(raw)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
		if len(out) >= MaxSkillsPerSession {
			break
		}
	}
	return out
}

// clampRight truncates s to at most max bytes keeping the tail, so the most
// recent summary content survives the cap.
func clampRight(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[len(s)-max:]
	// Avoid splitting a multi-byte rune at the cut point.
	for len(cut) > 0 && !utf8RuneStart(cut[0]) {
		cut = cut[1:]
	}
	return cut
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
