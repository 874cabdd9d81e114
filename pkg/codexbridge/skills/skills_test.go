package skills

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeSkill creates dir/SKILL.md under root with the given content.
func writeSkill(t *testing.T, root, dir, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(dir))
	if err := os.MkdirAll(full, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(full, "SKILL.md"), []byte(content), 0o644); err != nil {
		t.Fatalf("write skill: %v", err)
	}
}

func TestCatalogDiscovery(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeSkill(t, root, "summarize", "# Summarize\n\n把长文档压缩为要点。\n")
	writeSkill(t, root, "deep/review", "Review code changes.")
	writeSkill(t, root, ".system/hidden-ok", "System skill.")
	writeSkill(t, root, ".secret/nope", "should be skipped")
	writeSkill(t, root, "node_modules/dep", "should be skipped")

	c := NewCatalog([]Root{{Label: "vault", Dir: root}}, nil)
	list := c.List()

	ids := make([]string, 0, len(list))
	for _, s := range list {
		ids = append(ids, s.ID)
	}
	want := map[string]bool{
		"vault:summarize":         true,
		"vault:deep/review":       true,
		"vault:.system/hidden-ok": true,
	}
	if len(list) != len(want) {
		t.Fatalf("skills = %v, want %d entries", ids, len(want))
	}
	for _, id := range ids {
		if !want[id] {
			t.Errorf("unexpected skill id %q", id)
		}
	}
}

func TestCatalogDescriptionSkipsHeadings(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeSkill(t, root, "fmt", "# Title\n\n```\ncode fence\n```\n\nActual description line.\nsecond line\n")

	c := NewCatalog([]Root{{Label: "r", Dir: root}}, nil)
	skill, ok := c.Get("r:fmt")
	if !ok {
		t.Fatal("skill not found")
	}
	if skill.Description != "Actual description line." {
		t.Errorf("description = %q", skill.Description)
	}
}

func TestCatalogLeafStopsDescent(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeSkill(t, root, "outer", "outer skill")
	writeSkill(t, root, "outer/inner", "inner must not be discovered")

	c := NewCatalog([]Root{{Label: "r", Dir: root}}, nil)
	if _, ok := c.Get("r:outer"); !ok {
		t.Fatal("outer skill not found")
	}
	if _, ok := c.Get("r:outer/inner"); ok {
		t.Fatal("descent should stop at a SKILL.md directory")
	}
}

func TestCatalogSortedByName(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeSkill(t, root, "zeta", "z")
	writeSkill(t, root, "Alpha", "a")
	writeSkill(t, root, "mid", "m")

	c := NewCatalog([]Root{{Label: "r", Dir: root}}, nil)
	list := c.List()
	if len(list) != 3 {
		t.Fatalf("skills = %d, want 3", len(list))
	}
	names := []string{list[0].Name, list[1].Name, list[2].Name}
	if names[0] != "Alpha" || names[1] != "mid" || names[2] != "zeta" {
		t.Fatalf("order = %v", names)
	}
}

func TestCatalogIDsStableAcrossRescans(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeSkill(t, root, "alpha", "a")
	writeSkill(t, root, "nested/beta", "b")

	c := NewCatalog([]Root{{Label: "r", Dir: root}}, nil)
	first := c.List()
	c.Refresh()
	second := c.List()

	if len(first) != len(second) {
		t.Fatalf("catalog size changed: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("id changed across rescans: %q vs %q", first[i].ID, second[i].ID)
		}
	}
}

func TestCatalogRefresh(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	c := NewCatalog([]Root{{Label: "r", Dir: root}}, nil)
	if got := len(c.List()); got != 0 {
		t.Fatalf("skills = %d, want 0", got)
	}

	writeSkill(t, root, "late", "added after first scan")
	// The cache still answers until a refresh drops it.
	c.Refresh()
	if _, ok := c.Get("r:late"); !ok {
		t.Fatal("skill added after refresh not found")
	}
}

func TestResolveSelected(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeSkill(t, root, "big", strings.Repeat("b", MaxSkillBodyChars+1000))
	writeSkill(t, root, "small", "small body")

	c := NewCatalog([]Root{{Label: "r", Dir: root}}, nil)
	out := c.ResolveSelected([]string{"r:big", "r:small", "r:missing"})
	if len(out) != 2 {
		t.Fatalf("selected = %d, want 2", len(out))
	}
	if len(out[0].Body) > MaxSkillBodyChars+len("\n...(truncated)") {
		t.Errorf("body = %d bytes, want clamped to %d", len(out[0].Body), MaxSkillBodyChars)
	}
	if out[1].Body != "small body" {
		t.Errorf("body = %q", out[1].Body)
	}
}

func TestFormatForPrompt(t *testing.T) {
	t.Parallel()

	got := FormatForPrompt([]Selected{
		{
			Skill: Skill{ID: "r:summarize", Name: "summarize", Description: "压缩文档"},
			Body:  "line one\nline two",
		},
		{
			Skill: Skill{ID: "r:deep/review"},
		},
	})

	if !strings.HasPrefix(got, "已启用 Skills（按以下技能规则执行）:") {
		t.Fatalf("missing heading:\n%s", got)
	}
	for _, want := range []string{
		"1. summarize (r:summarize)",
		"   描述: 压缩文档",
		"   SKILL.md 摘要:\n   line one\n   line two",
		"2. review (r:deep/review)",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in:\n%s", want, got)
		}
	}

	if FormatForPrompt(nil) != "" {
		t.Error("empty selection should format to empty string")
	}
}
