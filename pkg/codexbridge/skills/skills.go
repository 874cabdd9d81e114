// Package skills discovers SKILL.md instruction packs under one or more
// roots and formats the selected ones into a prompt block.
package skills

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hollisner/codexbridge/pkg/codexbridge/budget"
)

const (
	// MaxSkillBodyChars caps the text taken from one SKILL.md file.
	MaxSkillBodyChars = 2400

	// MaxSelectedTotalChars caps the combined body text of the selected
	// skills. The first selected skill is always kept even if its body
	// alone exceeds the cap.
	MaxSelectedTotalChars = 24000

	// MaxDescriptionChars caps the one-line description shown in lists.
	MaxDescriptionChars = 140

	// cacheTTL bounds how stale a scan may be before the next lookup
	// rescans the roots.
	cacheTTL = 10 * time.Second
)

// skipDirs are well-known build and VCS directories never scanned.
var skipDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	".hg":          true,
	".svn":         true,
	"dist":         true,
	"build":        true,
	"target":       true,
	"__pycache__":  true,
}

// Root is a labeled directory tree to scan for skills. Labels keep ids
// stable across machines even when the absolute paths differ.
type Root struct {
	Label string
	Dir   string
}

// Skill is one discovered SKILL.md instruction pack.
type Skill struct {
	// ID is "<root label>:<relative dir>" with forward slashes, "." for
	// a skill at the root itself.
	ID string

	// Name is the skill directory's basename.
	Name string

	// Description is the first content line of the SKILL.md file.
	Description string

	// Path is the absolute path to the SKILL.md file.
	Path string
}

// Catalog scans skill roots with a short-lived cache.
type Catalog struct {
	roots  []Root
	logger *slog.Logger

	mu        sync.Mutex
	skills    []Skill
	scannedAt time.Time
}

// NewCatalog creates a catalog over roots. A nil logger falls back to
// slog.Default.
func NewCatalog(roots []Root, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{roots: roots, logger: logger}
}

// DefaultRoots builds the conventional root set: the user-level
// ~/.codex/skills tree, the vault-level .codex/skills tree, and the legacy
// Skills folder inside the vault.
func DefaultRoots(vaultRoot string) []Root {
	var roots []Root
	if home, err := os.UserHomeDir(); err == nil {
		roots = append(roots, Root{Label: "home", Dir: filepath.Join(home, ".codex", "skills")})
	}
	if vaultRoot != "" {
		roots = append(roots,
			Root{Label: "vault", Dir: filepath.Join(vaultRoot, ".codex", "skills")},
			Root{Label: "legacy", Dir: filepath.Join(vaultRoot, "Skills")},
		)
	}
	return roots
}

// List returns all discovered skills, sorted by name then id,
// case-insensitive. Results are cached briefly.
func (c *Catalog) List() []Skill {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.scannedAt) < cacheTTL && c.skills != nil {
		return c.skills
	}
	c.skills = c.scanLocked()
	c.scannedAt = time.Now()
	return c.skills
}

// Refresh drops the cache so the next List rescans.
func (c *Catalog) Refresh() {
	c.mu.Lock()
	c.scannedAt = time.Time{}
	c.mu.Unlock()
}

// Get returns the skill with the given id, if currently discovered.
func (c *Catalog) Get(id string) (Skill, bool) {
	for _, s := range c.List() {
		if s.ID == id {
			return s, true
		}
	}
	return Skill{}, false
}

func (c *Catalog) scanLocked() []Skill {
	var out []Skill
	for _, root := range c.roots {
		info, err := os.Stat(root.Dir)
		if err != nil || !info.IsDir() {
			continue
		}
		out = append(out, c.scanRoot(root)...)
	}
	sort.Slice(out, func(i, j int) bool {
		ni, nj := strings.ToLower(out[i].Name), strings.ToLower(out[j].Name)
		if ni != nj {
			return ni < nj
		}
		return strings.ToLower(out[i].ID) < strings.ToLower(out[j].ID)
	})
	return out
}

// scanRoot walks one root iteratively. A directory containing a SKILL.md
// becomes a skill and is not descended into further.
func (c *Catalog) scanRoot(root Root) []Skill {
	var out []Skill
	stack := []string{root.Dir}
	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(dir)
		if err != nil {
			c.logger.Debug("skill scan skip", "dir", dir, "error", err)
			continue
		}

		marker := ""
		for _, e := range entries {
			if !e.IsDir() && strings.EqualFold(e.Name(), "SKILL.md") {
				marker = filepath.Join(dir, e.Name())
				break
			}
		}
		if marker != "" {
			rel, err := filepath.Rel(root.Dir, dir)
			if err != nil {
				continue
			}
			rel = filepath.ToSlash(rel)
			out = append(out, Skill{
				ID:          root.Label + ":" + rel,
				Name:        filepath.Base(dir),
				Description: readDescription(marker),
				Path:        marker,
			})
			continue
		}

		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			name := e.Name()
			if skipDirs[name] {
				continue
			}
			if strings.HasPrefix(name, ".") && name != ".system" {
				continue
			}
			stack = append(stack, filepath.Join(dir, name))
		}
	}
	return out
}

// readDescription returns the first line of the file that is not a heading,
// a code fence, or blank, clipped to MaxDescriptionChars.
func readDescription(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "```") {
			continue
		}
		runes := []rune(trimmed)
		if len(runes) > MaxDescriptionChars {
			return string(runes[:MaxDescriptionChars])
		}
		return trimmed
	}
	return ""
}

// Selected is a skill with its body text loaded, ready for the prompt.
type Selected struct {
	Skill Skill
	Body  string
}

// ResolveSelected loads the bodies for the given skill ids. Ids that no
// longer resolve are dropped. The combined body text is capped at
// MaxSelectedTotalChars, but the first resolved skill is always included.
func (c *Catalog) ResolveSelected(ids []string) []Selected {
	var out []Selected
	total := 0
	for _, id := range ids {
		skill, ok := c.Get(id)
		if !ok {
			continue
		}
		data, err := os.ReadFile(skill.Path)
		if err != nil {
			c.logger.Warn("skill read failed", "id", id, "error", err)
			continue
		}
		body := budget.Clamp(strings.TrimSpace(string(data)), MaxSkillBodyChars)
		if len(out) > 0 && total+len(body) > MaxSelectedTotalChars {
			break
		}
		out = append(out, Selected{Skill: skill, Body: body})
		total += len(body)
	}
	return out
}

// FormatForPrompt renders selected skills as a numbered instruction block.
// Empty input yields an empty string.
func FormatForPrompt(selected []Selected) string {
	if len(selected) == 0 {
		return ""
	}
	lines := []string{"已启用 Skills（按以下技能规则执行）:"}
	for i, s := range selected {
		name := s.Skill.Name
		if name == "" {
			name = shortNameFromID(s.Skill.ID)
		}
		id := s.Skill.ID
		if id == "" {
			id = "unknown"
		}
		lines = append(lines, fmt.Sprintf("%d. %s (%s)", i+1, name, id))
		if s.Skill.Description != "" {
			lines = append(lines, "   描述: "+s.Skill.Description)
		}
		if s.Body != "" {
			lines = append(lines, "   SKILL.md 摘要:\n"+indent(s.Body, 3))
		}
	}
	return strings.Join(lines, "\n")
}

func shortNameFromID(id string) string {
	if id == "" {
		return "skill"
	}
	if i := strings.Index(id, ":"); i >= 0 {
		id = id[i+1:]
	}
	parts := strings.Split(id, "/")
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] != "" {
			return parts[i]
		}
	}
	return id
}

func indent(text string, spaces int) string {
	pad := strings.Repeat(" ", spaces)
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = pad + line
	}
	return strings.Join(lines, "\n")
}
