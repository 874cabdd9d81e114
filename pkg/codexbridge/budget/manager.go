package budget

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/hollisner/codexbridge/pkg/codexbridge/session"
)

const (
	// Compaction thresholds against the context window ratio.
	SoftCompactRatio = 0.8
	HardCompactRatio = 0.9

	// KeepRecentMessages is how many trailing messages survive compaction
	// verbatim.
	KeepRecentMessages = 12

	// maxTranscriptChars bounds the transcript handed to the summarizer.
	maxTranscriptChars = 90000

	// Fixed token weights for context that is attached by reference and
	// only materialized at prompt-build time.
	folderMentionWeight = 1800
	fileMentionWeight   = 700
	skillWeight         = 420
	imageWeight         = 1200

	// compactedOverhead covers the framing around the compacted summary.
	compactedOverhead = 80

	noteClampChars      = 4000
	selectionClampChars = 2000
)

// Usage is a context window estimate for one session.
type Usage struct {
	Used  int
	Max   int
	Ratio float64
}

// Options carries the not-yet-persisted state that contributes to the
// estimate alongside the session itself.
type Options struct {
	DraftInput    string
	Mentions      []session.Mention
	SkillIDs      []string
	ImageCount    int
	NoteText      string
	SelectionText string
}

// SummarizeFunc produces a summary for a compaction prompt. The budget
// manager stays decoupled from the agent runner through this hook.
type SummarizeFunc func(ctx context.Context, prompt string) (string, error)

// Manager estimates context usage and compacts session history when the
// window fills up.
type Manager struct {
	window    int
	summarize SummarizeFunc
	logger    *slog.Logger

	mu       sync.Mutex
	inflight map[string]bool
}

// NewManager creates a manager against the given context window size.
// summarize may be nil, in which case compaction always uses the naive
// fallback summary.
func NewManager(window int, summarize SummarizeFunc, logger *slog.Logger) *Manager {
	if window <= 0 {
		window = ContextWindowStandard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		window:    window,
		summarize: summarize,
		logger:    logger,
		inflight:  map[string]bool{},
	}
}

// SetWindow changes the context window size for subsequent estimates.
func (m *Manager) SetWindow(window int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if window > 0 {
		m.window = window
	}
}

// Window returns the current context window size.
func (m *Manager) Window() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.window
}

// EstimateUsage computes the usage estimate for a session plus draft state.
// Mentions and skills use fixed weights since their content is attached at
// prompt-build time. The estimate never drops below the last reported real
// prompt token count, and the ratio is clamped to [0, 1.2].
func (m *Manager) EstimateUsage(s *session.Session, opts Options) Usage {
	max := m.Window()
	if s == nil {
		return Usage{Max: max}
	}

	used := 0
	recentN := session.MaxSessionMessages * 7 / 10
	if recentN < 20 {
		recentN = 20
	}
	msgs := s.Messages
	if len(msgs) > recentN {
		msgs = msgs[len(msgs)-recentN:]
	}
	for _, msg := range msgs {
		role := string(msg.Role)
		if role == "" {
			role = string(session.RoleUser)
		}
		used += EstimateTokens(role + "\n" + msg.Content)
	}
	if strings.TrimSpace(s.CompactedContext) != "" {
		used += EstimateTokens(s.CompactedContext) + compactedOverhead
	}
	if opts.NoteText != "" {
		used += EstimateTokens(Clamp(opts.NoteText, noteClampChars))
	}
	if opts.SelectionText != "" {
		used += EstimateTokens(Clamp(opts.SelectionText, selectionClampChars))
	}
	for _, mention := range opts.Mentions {
		if mention.Type == session.MentionFolder {
			used += folderMentionWeight
		} else {
			used += fileMentionWeight
		}
	}
	used += len(opts.SkillIDs) * skillWeight
	if opts.ImageCount > 0 {
		used += opts.ImageCount * imageWeight
	}
	if opts.DraftInput != "" {
		used += EstimateTokens(opts.DraftInput)
	}
	if s.LastPromptTokens > used {
		used = s.LastPromptTokens
	}

	ratio := 0.0
	if max > 0 {
		ratio = float64(used) / float64(max)
		if ratio < 0 {
			ratio = 0
		}
		if ratio > 1.2 {
			ratio = 1.2
		}
	}
	return Usage{Used: used, Max: max, Ratio: ratio}
}

// CompactResult reports what a compaction attempt did.
type CompactResult struct {
	Performed       bool
	SummarizedCount int
	Usage           Usage
}

// MaybeAutoCompact compacts the session when the estimated usage crosses
// the soft threshold. Crossing the hard threshold is recorded in the
// compaction notice as a distinct reason.
func (m *Manager) MaybeAutoCompact(ctx context.Context, s *session.Session, opts Options) (CompactResult, error) {
	if s == nil {
		return CompactResult{}, nil
	}
	usage := m.EstimateUsage(s, opts)
	if usage.Ratio < SoftCompactRatio {
		return CompactResult{Usage: usage}, nil
	}
	reason := "auto-soft"
	if usage.Ratio >= HardCompactRatio {
		reason = "auto-hard"
	}
	res, err := m.Compact(ctx, s, reason)
	res.Usage = usage
	return res, err
}

// Compact summarizes the older portion of the session history into the
// session's compacted context and keeps only the most recent messages
// verbatim. Concurrent compactions of the same session are coalesced into
// a no-op for the latecomer.
func (m *Manager) Compact(ctx context.Context, s *session.Session, reason string) (CompactResult, error) {
	if s == nil {
		return CompactResult{}, nil
	}
	if len(s.Messages) <= KeepRecentMessages+1 {
		return CompactResult{}, nil
	}

	m.mu.Lock()
	if m.inflight[s.ID] {
		m.mu.Unlock()
		return CompactResult{}, nil
	}
	m.inflight[s.ID] = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.inflight, s.ID)
		m.mu.Unlock()
	}()

	older := s.Messages[:len(s.Messages)-KeepRecentMessages]
	summary := m.summarizeMessages(ctx, older)

	merged := s.CompactedContext
	if strings.TrimSpace(merged) == "" {
		merged = summary
	} else {
		merged = strings.TrimSpace(merged) + "\n\n" + summary
	}
	s.CompactedContext = merged

	kept := make([]session.Message, 0, KeepRecentMessages+1)
	if reason == "" {
		reason = "manual"
	}
	kept = append(kept, session.Message{
		Role:    session.RoleAssistant,
		Content: fmt.Sprintf("（上下文已压缩：%d 条历史消息，原因：%s）", len(older), reason),
	})
	kept = append(kept, s.Messages[len(s.Messages)-KeepRecentMessages:]...)
	s.Messages = kept
	s.LastPromptTokens = 0
	s.Touch()
	session.TrimMessages(s)

	// Normalize re-applies the compacted context cap.
	*s = *session.Normalize(s)

	m.logger.Info("compacted session context",
		"session", s.ID, "summarized", len(older), "reason", reason)
	return CompactResult{Performed: true, SummarizedCount: len(older)}, nil
}

func (m *Manager) summarizeMessages(ctx context.Context, msgs []session.Message) string {
	transcript := buildTranscript(msgs)
	if m.summarize != nil {
		prompt := strings.Join([]string{
			"请把下面这段多轮对话压缩为“可继续对话的上下文记忆”。",
			"要求：",
			"1) 用中文，简洁且信息完整。",
			"2) 保留用户目标、约束、偏好、已完成事项、未完成事项、关键结论。",
			"3) 输出 Markdown，使用小标题和要点列表。",
			"4) 不要杜撰未出现的事实。",
			"",
			"对话内容：",
			transcript,
		}, "\n")
		text, err := m.summarize(ctx, prompt)
		text = strings.TrimSpace(text)
		if err == nil && text != "" {
			return text
		}
		if err != nil {
			m.logger.Warn("summary turn failed, using fallback", "error", err)
		}
	}
	return fallbackSummary(msgs)
}

func buildTranscript(msgs []session.Message) string {
	parts := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		parts = append(parts, roleLabel(msg.Role)+":\n"+strings.TrimSpace(msg.Content))
	}
	return clip(strings.Join(parts, "\n\n"), maxTranscriptChars)
}

// clip is a marker-less truncation used where the text feeds another model
// rather than a human.
func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && s[max]&0xC0 == 0x80 {
		max--
	}
	return s[:max]
}

// fallbackSummary builds a crude summary from the tail of the discarded
// messages when no summarizer is available or the summary turn failed.
func fallbackSummary(msgs []session.Message) string {
	tail := msgs
	if len(tail) > 6 {
		tail = tail[len(tail)-6:]
	}
	lines := make([]string, 0, len(tail))
	for _, msg := range tail {
		lines = append(lines, roleLabel(msg.Role)+": "+clip(msg.Content, 260))
	}
	return strings.TrimSpace("## 历史上下文摘要（自动回退）\n" + strings.Join(lines, "\n"))
}

func roleLabel(role session.Role) string {
	if role == session.RoleAssistant {
		return "助手"
	}
	return "用户"
}
