package session

import (
	"strings"
	"testing"
	"time"
)

func TestDeriveTitle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		title string
		input string
		want  string
	}{
		{"from default", DefaultTitle, "帮我总结这篇文档", "帮我总结这篇文档"},
		{"trims space", DefaultTitle, "  hello  ", "hello"},
		{"clips to 24 runes", DefaultTitle, strings.Repeat("字", 30), strings.Repeat("字", 24)},
		{"keeps custom title", "我的会话", "new text", "我的会话"},
		{"ignores empty input", DefaultTitle, "   ", DefaultTitle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			s.Title = tt.title
			s.DeriveTitle(tt.input)
			if s.Title != tt.want {
				t.Errorf("title = %q, want %q", s.Title, tt.want)
			}
		})
	}
}

func TestAppendMessageEnforcesCap(t *testing.T) {
	t.Parallel()

	s := New()
	for i := 0; i < MaxSessionMessages+5; i++ {
		s.AppendMessage(Message{Role: RoleUser, Content: "m"})
	}
	if len(s.Messages) != MaxSessionMessages {
		t.Fatalf("messages = %d, want capped at %d", len(s.Messages), MaxSessionMessages)
	}
}

func TestStageSkill(t *testing.T) {
	t.Parallel()

	s := New()
	if !s.StageSkill("vault:review") {
		t.Fatal("first stage should succeed")
	}
	if s.StageSkill("vault:review") {
		t.Error("duplicate stage should be rejected")
	}
	if s.StageSkill("  ") {
		t.Error("blank id should be rejected")
	}
	for i := 0; len(s.DraftSkills) < MaxSkillsPerSession; i++ {
		s.StageSkill(strings.Repeat("x", i+1))
	}
	if s.StageSkill("one-too-many") {
		t.Errorf("stage beyond %d skills should be rejected", MaxSkillsPerSession)
	}

	if !s.UnstageSkill("vault:review") {
		t.Fatal("unstage of a staged id should succeed")
	}
	if s.UnstageSkill("vault:review") {
		t.Error("second unstage should report not found")
	}
}

func TestStageAndRemoveMention(t *testing.T) {
	t.Parallel()

	s := New()
	if !s.StageMention(Mention{Type: MentionFile, Path: "notes/plan.md"}) {
		t.Fatal("staging a file mention should succeed")
	}
	if s.StageMention(Mention{Type: MentionFile, Path: "notes/plan.md"}) {
		t.Error("same (type, path) should not stage twice")
	}
	if !s.StageMention(Mention{Type: MentionFolder, Path: "notes/plan.md"}) {
		t.Error("same path as a folder is a distinct mention")
	}

	if !s.RemoveMention(MentionFile, "notes/plan.md") {
		t.Fatal("removing a staged mention should succeed")
	}
	if s.AutoDocMentionDisabled {
		t.Error("removing a manual mention must not disable auto seeding")
	}
	if len(s.DraftMentions) != 1 {
		t.Fatalf("mentions = %d, want the folder entry left", len(s.DraftMentions))
	}

	s.ClearMentions()
	if len(s.DraftMentions) != 0 {
		t.Error("clear should drop all staged mentions")
	}
	if s.AutoDocMentionDisabled {
		t.Error("clear must not disable auto seeding")
	}
}

func TestSeedAutoMention(t *testing.T) {
	t.Parallel()

	s := New()
	if !s.SeedAutoMention("daily/today.md", "today") {
		t.Fatal("seeding a pristine session should succeed")
	}
	if !s.AutoDocMentionSeeded {
		t.Error("seeded flag not set")
	}
	if len(s.DraftMentions) != 1 || !s.DraftMentions[0].Auto {
		t.Fatalf("mentions = %+v, want one auto file mention", s.DraftMentions)
	}

	// Removing the auto mention records the opt-out and blocks reseeding.
	if !s.RemoveMention(MentionFile, "daily/today.md") {
		t.Fatal("removing the auto mention failed")
	}
	if !s.AutoDocMentionDisabled {
		t.Error("removing an auto mention must disable seeding")
	}
	if s.SeedAutoMention("daily/today.md", "today") {
		t.Error("seeding after opt-out should be refused")
	}

	// Sessions with history or staged mentions are never seeded.
	withHistory := New()
	withHistory.AppendMessage(Message{Role: RoleUser, Content: "hi"})
	if withHistory.SeedAutoMention("a.md", "a") {
		t.Error("seeding with prior messages should be refused")
	}
	withStaged := New()
	withStaged.StageMention(Mention{Type: MentionFile, Path: "b.md"})
	if withStaged.SeedAutoMention("a.md", "a") {
		t.Error("seeding over staged mentions should be refused")
	}
}

func TestNormalizeDropsInvalidMessages(t *testing.T) {
	t.Parallel()

	raw := &Session{
		ID: "s1",
		Messages: []Message{
			{Role: RoleUser, Content: "keep me"},
			{Role: "system", Content: "bad role"},
			{Role: RoleAssistant, Content: "   "},
			{Role: RoleAssistant, Content: "(处理中...)", Pending: true},
			{Role: RoleAssistant, Content: "（上次会话未完成，已中断）"},
			{Role: RoleAssistant, Content: "real answer"},
		},
	}
	s := Normalize(raw)
	if len(s.Messages) != 2 {
		t.Fatalf("messages = %d, want 2 survivors", len(s.Messages))
	}
	if s.Messages[0].Content != "keep me" || s.Messages[1].Content != "real answer" {
		t.Fatalf("survivors = %+v", s.Messages)
	}
}

func TestNormalizeFillsIdentity(t *testing.T) {
	t.Parallel()

	s := Normalize(&Session{LastPromptTokens: -5})
	if s.ID == "" {
		t.Error("ID should be generated")
	}
	if s.Title != DefaultTitle {
		t.Errorf("Title = %q, want default", s.Title)
	}
	if s.CreatedAt.IsZero() || s.UpdatedAt.IsZero() {
		t.Error("timestamps should be filled")
	}
	if s.LastPromptTokens != 0 {
		t.Errorf("LastPromptTokens = %d, want 0", s.LastPromptTokens)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	t.Parallel()

	raw := &Session{
		ID:        "s1",
		Title:     "t",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		Messages: []Message{
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, Content: "hello", Pending: true},
		},
		DraftMentions:    []Mention{{Path: "a.md"}, {Path: "a.md"}},
		DraftSkills:      []string{"x", "x", "y"},
		CompactedContext: strings.Repeat("s", MaxCompactSummaryChars+100),
	}
	once := Normalize(raw)
	twice := Normalize(once)

	if len(once.Messages) != len(twice.Messages) {
		t.Fatalf("message count changed on second pass: %d vs %d", len(once.Messages), len(twice.Messages))
	}
	if len(once.DraftMentions) != len(twice.DraftMentions) || len(once.DraftSkills) != len(twice.DraftSkills) {
		t.Fatal("draft sets changed on second pass")
	}
	if once.CompactedContext != twice.CompactedContext {
		t.Fatal("compacted context changed on second pass")
	}
	if len(once.CompactedContext) > MaxCompactSummaryChars {
		t.Fatalf("compacted context = %d bytes, want capped", len(once.CompactedContext))
	}
}

func TestNormalizeMentions(t *testing.T) {
	t.Parallel()

	in := []Mention{
		{Type: MentionFile, Path: "notes/a.md"},
		{Type: MentionFile, Path: "notes/a.md"}, // duplicate
		{Type: MentionFolder, Path: "notes/a.md"},
		{Type: "bogus", Path: "b.md"},
		{Type: MentionFolder, Path: "projects/"},
		{Path: "  "},
	}
	out := NormalizeMentions(in)
	if len(out) != 4 {
		t.Fatalf("mentions = %d, want 4: %+v", len(out), out)
	}
	if out[0].Key() != "file:notes/a.md" {
		t.Errorf("out[0] = %q", out[0].Key())
	}
	// Same path with a different type is a distinct mention.
	if out[1].Key() != "folder:notes/a.md" {
		t.Errorf("out[1] = %q", out[1].Key())
	}
	// Unknown types collapse to file.
	if out[2].Type != MentionFile {
		t.Errorf("out[2].Type = %q", out[2].Type)
	}
	// Trailing slash is stripped and the folder name derived.
	if out[3].Path != "projects" || out[3].Name != "projects" {
		t.Errorf("out[3] = %+v", out[3])
	}
}

func TestNormalizeSkillIDs(t *testing.T) {
	t.Parallel()

	var in []string
	for i := 0; i < MaxSkillsPerSession+4; i++ {
		in = append(in, strings.Repeat("s", i+1))
	}
	in = append(in, "s", " ", "")
	out := NormalizeSkillIDs(in)
	if len(out) != MaxSkillsPerSession {
		t.Fatalf("skills = %d, want capped at %d", len(out), MaxSkillsPerSession)
	}
	seen := map[string]bool{}
	for _, id := range out {
		if seen[id] {
			t.Fatalf("duplicate skill id %q", id)
		}
		seen[id] = true
	}
}
