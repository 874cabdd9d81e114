package budget

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hollisner/codexbridge/pkg/codexbridge/session"
)

func sessionWithMessages(n int) *session.Session {
	s := session.New()
	for i := 0; i < n; i++ {
		role := session.RoleUser
		if i%2 == 1 {
			role = session.RoleAssistant
		}
		s.Messages = append(s.Messages, session.Message{Role: role, Content: strings.Repeat("m", 40)})
	}
	return s
}

func TestEstimateUsageNilSession(t *testing.T) {
	t.Parallel()

	m := NewManager(ContextWindowStandard, nil, nil)
	u := m.EstimateUsage(nil, Options{})
	if u.Used != 0 || u.Max != ContextWindowStandard || u.Ratio != 0 {
		t.Fatalf("usage = %+v, want empty against the standard window", u)
	}
}

func TestEstimateUsageWeights(t *testing.T) {
	t.Parallel()

	m := NewManager(ContextWindowStandard, nil, nil)
	s := session.New()

	base := m.EstimateUsage(s, Options{}).Used

	withFolder := m.EstimateUsage(s, Options{
		Mentions: []session.Mention{{Type: session.MentionFolder, Path: "notes"}},
	}).Used
	if withFolder-base != 1800 {
		t.Errorf("folder mention weight = %d, want 1800", withFolder-base)
	}

	withFile := m.EstimateUsage(s, Options{
		Mentions: []session.Mention{{Type: session.MentionFile, Path: "notes/a.md"}},
	}).Used
	if withFile-base != 700 {
		t.Errorf("file mention weight = %d, want 700", withFile-base)
	}

	withSkills := m.EstimateUsage(s, Options{SkillIDs: []string{"a", "b"}}).Used
	if withSkills-base != 840 {
		t.Errorf("two skills weight = %d, want 840", withSkills-base)
	}

	withImages := m.EstimateUsage(s, Options{ImageCount: 2}).Used
	if withImages-base != 2400 {
		t.Errorf("two images weight = %d, want 2400", withImages-base)
	}
}

func TestEstimateUsageLastPromptTokensFloor(t *testing.T) {
	t.Parallel()

	m := NewManager(ContextWindowStandard, nil, nil)
	s := session.New()
	s.LastPromptTokens = 5000

	u := m.EstimateUsage(s, Options{DraftInput: "hi"})
	if u.Used < 5000 {
		t.Fatalf("Used = %d, want at least the last real prompt count", u.Used)
	}
}

func TestEstimateUsageRatioClamped(t *testing.T) {
	t.Parallel()

	m := NewManager(100, nil, nil)
	s := session.New()
	s.LastPromptTokens = 10000

	u := m.EstimateUsage(s, Options{})
	if u.Ratio != 1.2 {
		t.Fatalf("Ratio = %v, want clamp at 1.2", u.Ratio)
	}
}

func TestMaybeAutoCompactBelowSoftIsNoop(t *testing.T) {
	t.Parallel()

	called := false
	m := NewManager(ContextWindowStandard, func(ctx context.Context, prompt string) (string, error) {
		called = true
		return "summary", nil
	}, nil)

	s := sessionWithMessages(30)
	res, err := m.MaybeAutoCompact(context.Background(), s, Options{})
	if err != nil {
		t.Fatalf("MaybeAutoCompact: %v", err)
	}
	if res.Performed {
		t.Fatal("compaction ran below the soft threshold")
	}
	if called {
		t.Fatal("summarizer ran below the soft threshold")
	}
	if len(s.Messages) != 30 {
		t.Fatalf("messages = %d, want untouched history", len(s.Messages))
	}
}

func TestMaybeAutoCompactAboveSoftRuns(t *testing.T) {
	t.Parallel()

	m := NewManager(100, func(ctx context.Context, prompt string) (string, error) {
		return "记忆摘要", nil
	}, nil)

	s := sessionWithMessages(30)

	res, err := m.MaybeAutoCompact(context.Background(), s, Options{})
	if err != nil {
		t.Fatalf("MaybeAutoCompact: %v", err)
	}
	if !res.Performed {
		t.Fatal("compaction should run at the hard threshold")
	}
	if res.SummarizedCount != 18 {
		t.Fatalf("SummarizedCount = %d, want 18", res.SummarizedCount)
	}
}

func TestCompactTooShortIsNoop(t *testing.T) {
	t.Parallel()

	m := NewManager(ContextWindowStandard, nil, nil)
	for _, n := range []int{KeepRecentMessages, KeepRecentMessages + 1} {
		s := sessionWithMessages(n)
		res, err := m.Compact(context.Background(), s, "manual")
		if err != nil {
			t.Fatalf("Compact(%d msgs): %v", n, err)
		}
		if res.Performed {
			t.Fatalf("compaction ran on %d messages", n)
		}
		if len(s.Messages) != n {
			t.Fatalf("messages = %d, want untouched %d", len(s.Messages), n)
		}
	}

	// One past the floor is enough to compact.
	s := sessionWithMessages(KeepRecentMessages + 2)
	res, err := m.Compact(context.Background(), s, "manual")
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if !res.Performed || res.SummarizedCount != 2 {
		t.Fatalf("result = %+v, want 2 summarized", res)
	}
}

func TestCompactKeepsRecentAndPrependsNotice(t *testing.T) {
	t.Parallel()

	var gotPrompt string
	m := NewManager(ContextWindowStandard, func(ctx context.Context, prompt string) (string, error) {
		gotPrompt = prompt
		return "## 记忆\n- 用户在整理笔记", nil
	}, nil)

	s := sessionWithMessages(20)
	s.Messages[0].Content = "最早的一条消息"
	s.LastPromptTokens = 777

	res, err := m.Compact(context.Background(), s, "manual")
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if !res.Performed || res.SummarizedCount != 8 {
		t.Fatalf("result = %+v, want 8 summarized", res)
	}

	if len(s.Messages) != KeepRecentMessages+1 {
		t.Fatalf("messages = %d, want notice plus %d recent", len(s.Messages), KeepRecentMessages)
	}
	notice := s.Messages[0]
	if notice.Role != session.RoleAssistant {
		t.Fatalf("notice role = %q", notice.Role)
	}
	if !strings.Contains(notice.Content, "上下文已压缩：8 条历史消息") || !strings.Contains(notice.Content, "manual") {
		t.Fatalf("notice = %q", notice.Content)
	}

	if !strings.Contains(s.CompactedContext, "用户在整理笔记") {
		t.Fatalf("CompactedContext = %q, want the summary merged in", s.CompactedContext)
	}
	if !strings.Contains(gotPrompt, "最早的一条消息") {
		t.Fatal("summarizer prompt should contain the discarded transcript")
	}
	if s.LastPromptTokens != 0 {
		t.Fatalf("LastPromptTokens = %d, want reset", s.LastPromptTokens)
	}
}

func TestCompactFallbackOnSummarizerFailure(t *testing.T) {
	t.Parallel()

	m := NewManager(ContextWindowStandard, func(ctx context.Context, prompt string) (string, error) {
		return "", errors.New("agent unavailable")
	}, nil)

	s := sessionWithMessages(20)
	res, err := m.Compact(context.Background(), s, "")
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if !res.Performed {
		t.Fatal("compaction should still run with the fallback summary")
	}
	if !strings.Contains(s.CompactedContext, "历史上下文摘要（自动回退）") {
		t.Fatalf("CompactedContext = %q, want fallback heading", s.CompactedContext)
	}
	if !strings.Contains(s.Messages[0].Content, "原因：manual") {
		t.Fatalf("empty reason should default to manual, got %q", s.Messages[0].Content)
	}
}

func TestCompactRecapsAccumulatedSummary(t *testing.T) {
	t.Parallel()

	m := NewManager(ContextWindowStandard, func(ctx context.Context, prompt string) (string, error) {
		return "NEWEST-SUMMARY", nil
	}, nil)

	s := sessionWithMessages(20)
	s.CompactedContext = strings.Repeat("旧", session.MaxCompactSummaryChars/3*2)

	if _, err := m.Compact(context.Background(), s, "manual"); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if len(s.CompactedContext) > session.MaxCompactSummaryChars {
		t.Fatalf("CompactedContext is %d bytes, want at most %d",
			len(s.CompactedContext), session.MaxCompactSummaryChars)
	}
	// The cap keeps the tail, so the newest summary survives.
	if !strings.Contains(s.CompactedContext, "NEWEST-SUMMARY") {
		t.Fatal("newest summary should survive the cap")
	}
}

func TestFallbackSummaryTakesTail(t *testing.T) {
	t.Parallel()

	msgs := make([]session.Message, 0, 10)
	for i := 0; i < 10; i++ {
		msgs = append(msgs, session.Message{Role: session.RoleUser, Content: strings.Repeat("a", i+1)})
	}
	out := fallbackSummary(msgs)
	lines := strings.Split(out, "\n")
	// Heading plus the last six messages.
	if len(lines) != 7 {
		t.Fatalf("fallback summary has %d lines, want 7:\n%s", len(lines), out)
	}
}
