// Package prompt assembles the final agent prompt: history formatting,
// lightweight intent classification, and the block-based builder.
package prompt

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hollisner/codexbridge/pkg/codexbridge/budget"
	"github.com/hollisner/codexbridge/pkg/codexbridge/session"
)

// filterHistory drops non-conversation messages and, when the trailing
// message is the user's current input already appended to the session,
// drops that too so it is not echoed twice in the prompt.
func filterHistory(msgs []session.Message, currentInput string) []session.Message {
	current := strings.TrimSpace(currentInput)
	out := make([]session.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role != session.RoleUser && m.Role != session.RoleAssistant {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, m)
	}
	if n := len(out); n > 0 {
		last := out[n-1]
		if last.Role == session.RoleUser && strings.TrimSpace(last.Content) == current {
			out = out[:n-1]
		}
	}
	return out
}

func historyRole(r session.Role) string {
	if r == session.RoleAssistant {
		return "助手"
	}
	return "用户"
}

var trailingSpaceBeforeNewline = regexp.MustCompile(`\s+\n`)

// FormatConversationHistory renders the last six turns chronologically with
// a 700 character per-message clip.
func FormatConversationHistory(s *session.Session, currentInput string) string {
	if s == nil {
		return ""
	}
	msgs := filterHistory(s.Messages, currentInput)
	if len(msgs) == 0 {
		return ""
	}
	if len(msgs) > 6 {
		msgs = msgs[len(msgs)-6:]
	}
	blocks := make([]string, 0, len(msgs))
	for _, m := range msgs {
		text := trailingSpaceBeforeNewline.ReplaceAllString(strings.TrimSpace(m.Content), "\n")
		if len(text) > 700 {
			text = clipRunes(text, 700) + "\n...(已截断)"
		}
		blocks = append(blocks, historyRole(m.Role)+":\n"+text)
	}
	return "最近对话历史（按时间顺序）:\n" + strings.Join(blocks, "\n\n")
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// FormatCompactHistory renders recent turns as single lines under a small
// character budget, for places where the history is a reminder rather than
// working context.
func FormatCompactHistory(s *session.Session, currentInput string, maxTurns, maxChars int) string {
	if s == nil {
		return ""
	}
	msgs := filterHistory(s.Messages, currentInput)
	if len(msgs) == 0 {
		return ""
	}
	if maxTurns < 1 {
		maxTurns = 1
	}
	if maxChars < 80 {
		maxChars = 80
	}
	if len(msgs) > maxTurns {
		msgs = msgs[len(msgs)-maxTurns:]
	}
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		text := whitespaceRun.ReplaceAllString(strings.TrimSpace(m.Content), " ")
		if len(text) > maxChars {
			text = clipRunes(text, maxChars) + "..."
		}
		lines = append(lines, historyRole(m.Role)+": "+text)
	}
	return "会话记忆:\n" + strings.Join(lines, "\n")
}

// FormatHistory renders as much recent history as fits the total character
// budget, accumulating newest-first and emitting chronologically. The newest
// message is always included even when it alone blows the budget.
func FormatHistory(s *session.Session, currentInput string, maxTurns, maxTotalChars, maxPerMessageChars int) string {
	if s == nil {
		return ""
	}
	msgs := filterHistory(s.Messages, currentInput)
	if len(msgs) == 0 {
		return ""
	}
	if maxTurns < 1 {
		maxTurns = 1
	}
	if maxTotalChars < 2000 {
		maxTotalChars = 2000
	}
	if maxPerMessageChars < 300 {
		maxPerMessageChars = 300
	}

	var picked []string
	total := 0
	for i := len(msgs) - 1; i >= 0 && len(picked) < maxTurns; i-- {
		raw := strings.TrimSpace(msgs[i].Content)
		if len(raw) > maxPerMessageChars {
			raw = clipRunes(raw, maxPerMessageChars) + "\n...(已截断)"
		}
		block := historyRole(msgs[i].Role) + ":\n" + raw
		next := total + len(block) + 2
		if len(picked) > 0 && next > maxTotalChars {
			break
		}
		picked = append(picked, block)
		total = next
	}
	if len(picked) == 0 {
		return ""
	}
	for i, j := 0, len(picked)-1; i < j; i, j = i+1, j-1 {
		picked[i], picked[j] = picked[j], picked[i]
	}
	return fmt.Sprintf("会话记忆（最近优先，预算%d字符）:\n%s", maxTotalChars, strings.Join(picked, "\n\n"))
}

// LastAssistantAnswer returns the most recent assistant message, clamped,
// skipping the user's own just-sent input.
func LastAssistantAnswer(s *session.Session, currentInput string, maxChars int) string {
	if s == nil {
		return ""
	}
	if maxChars < 400 {
		maxChars = 400
	}
	msgs := filterHistory(s.Messages, currentInput)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == session.RoleAssistant {
			return budget.Clamp(strings.TrimSpace(msgs[i].Content), maxChars)
		}
	}
	return ""
}

// clipRunes cuts at a byte limit without splitting a UTF-8 sequence.
func clipRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && s[max]&0xC0 == 0x80 {
		max--
	}
	return s[:max]
}
