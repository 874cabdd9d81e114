// Package config loads bridge settings and wires the application context.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// LegacyModelOptions is the obsolete default option list. Configs
	// still carrying it are upgraded to RecommendedModelOptions.
	LegacyModelOptions = "gpt-5,gpt-5-mini,gpt-4.1"

	// RecommendedModelOptions is the current default option list.
	RecommendedModelOptions = "gpt-5.2-codex,gpt-5.3-codex,gpt-5.1-codex-max,gpt-5.2,gpt-5.1-codex-mini"
)

// DefaultChatSystemPrompt seeds the thread-level system prompt.
const DefaultChatSystemPrompt = "你是知识库中的 AI 助手。默认使用中文回答，直接回答问题，不要只反问用户。若用户提到“这个文档/本文/这篇”，默认指当前打开文档并直接基于文档内容完成任务。"

// Settings holds all bridge configuration loaded from settings.yaml.
type Settings struct {
	// Command is the agent binary name or path.
	Command string `yaml:"command"`

	// Args are extra arguments forwarded to the exec path, shell-quoted.
	Args string `yaml:"args"`

	// Model is the selected model name.
	Model string `yaml:"model"`

	// ModelOptions is the comma-separated model choice list.
	ModelOptions string `yaml:"model_options"`

	// AgentMode enables file operations (workspace-write sandbox).
	AgentMode *bool `yaml:"agent_mode"`

	// NativeContextMode sends the leaner prompt shape and relies on the
	// agent's own thread memory.
	NativeContextMode *bool `yaml:"native_context_mode"`

	// ChatSystemPrompt is prepended to the fixed base instructions.
	ChatSystemPrompt string `yaml:"chat_system_prompt"`

	// IncludeNoteContext attaches the focused document to chat turns.
	IncludeNoteContext *bool `yaml:"include_note_context"`

	// Show1MContext budgets against the extended context window.
	Show1MContext bool `yaml:"show_1m_context"`

	// VaultDir is the markdown root the bridge works against. Defaults to
	// the working directory.
	VaultDir string `yaml:"vault_dir"`

	// StatePath locates the session store. A .db suffix selects the
	// SQLite backend, anything else the JSON file backend.
	StatePath string `yaml:"state_path"`

	// SkillDirs are extra skill roots scanned in addition to the
	// conventional ones.
	SkillDirs []string `yaml:"skill_dirs"`

	// MaintenanceSpec is the cron spec for background maintenance
	// (skill cache refresh, periodic persist).
	MaintenanceSpec string `yaml:"maintenance_spec"`
}

// DefaultSettings returns the default configuration.
func DefaultSettings() *Settings {
	t := true
	agentMode, nativeMode, includeNote := t, t, t
	return &Settings{
		Command:            "codex",
		Args:               "--full-auto",
		Model:              "gpt-5.2-codex",
		ModelOptions:       RecommendedModelOptions,
		AgentMode:          &agentMode,
		NativeContextMode:  &nativeMode,
		ChatSystemPrompt:   DefaultChatSystemPrompt,
		IncludeNoteContext: &includeNote,
		MaintenanceSpec:    "@every 5m",
	}
}

// Load reads settings from path, overlaying defaults. A missing file yields
// the defaults. Environment variables from a .env next to the settings file
// are loaded first so ${VAR} style expectations hold for the agent binary.
func Load(path string) (*Settings, error) {
	settings := DefaultSettings()
	if path == "" {
		path = DefaultSettingsPath()
	}

	// Best effort: the agent binary reads its API key from the
	// environment, not from us.
	godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	if settings.Command == "" {
		settings.Command = "codex"
	}
	return settings, nil
}

// Save writes the settings back to path, creating parent directories.
func (s *Settings) Save(path string) error {
	if path == "" {
		path = DefaultSettingsPath()
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// DefaultSettingsPath is ~/.codexbridge/settings.yaml.
func DefaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "settings.yaml"
	}
	return filepath.Join(home, ".codexbridge", "settings.yaml")
}

// DefaultStatePath is ~/.codexbridge/sessions.json.
func DefaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "sessions.json"
	}
	return filepath.Join(home, ".codexbridge", "sessions.json")
}

// IsAgentMode reports the effective agent-mode flag.
func (s *Settings) IsAgentMode() bool {
	return s.AgentMode == nil || *s.AgentMode
}

// IsNativeContextMode reports the effective native-context flag.
func (s *Settings) IsNativeContextMode() bool {
	return s.NativeContextMode == nil || *s.NativeContextMode
}

// IncludesNoteContext reports whether chat turns attach the focused
// document.
func (s *Settings) IncludesNoteContext() bool {
	return s.IncludeNoteContext == nil || *s.IncludeNoteContext
}

// ModelChoices returns the normalized model option list: the legacy default
// is silently upgraded, entries are trimmed and deduplicated.
func (s *Settings) ModelChoices() []string {
	raw := s.ModelOptions
	if strings.ReplaceAll(raw, " ", "") == "" || strings.ReplaceAll(raw, " ", "") == LegacyModelOptions {
		raw = RecommendedModelOptions
	}
	seen := map[string]bool{}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	if len(out) == 0 {
		return strings.Split(RecommendedModelOptions, ",")
	}
	return out
}
