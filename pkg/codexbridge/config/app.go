package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hollisner/codexbridge/pkg/codexbridge/agent"
	"github.com/hollisner/codexbridge/pkg/codexbridge/budget"
	"github.com/hollisner/codexbridge/pkg/codexbridge/prompt"
	"github.com/hollisner/codexbridge/pkg/codexbridge/session"
	"github.com/hollisner/codexbridge/pkg/codexbridge/skills"
	"github.com/hollisner/codexbridge/pkg/codexbridge/vault"
)

// App is the assembled application context. Components are constructed in
// dependency order: store, vault, skills, runner, budget manager, builder,
// then the maintenance scheduler.
type App struct {
	Settings *Settings
	Logger   *slog.Logger

	Store    *session.Store
	Vault    vault.Vault
	Resolver *vault.Resolver
	Catalog  *skills.Catalog
	Runner   *agent.Runner
	Budget   *budget.Manager
	Builder  *prompt.Builder

	// StoreLoadErr carries a one-time load failure notice. The store
	// itself starts fresh in that case.
	StoreLoadErr error

	scheduler *cron.Cron
}

// NewApp wires the application from settings.
func NewApp(settings *Settings, logger *slog.Logger) (*App, error) {
	if settings == nil {
		settings = DefaultSettings()
	}
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{Settings: settings, Logger: logger}

	statePath := settings.StatePath
	if statePath == "" {
		statePath = DefaultStatePath()
	}
	backend, err := openStateBackend(statePath, logger)
	if err != nil {
		return nil, err
	}
	app.Store, app.StoreLoadErr = session.NewStore(backend, logger)

	vaultDir := settings.VaultDir
	if vaultDir == "" {
		vaultDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
	}
	v, err := vault.NewDirVault(vaultDir)
	if err != nil {
		return nil, fmt.Errorf("open vault: %w", err)
	}
	app.Vault = v
	app.Resolver = vault.NewResolver(v, logger)

	roots := skills.DefaultRoots(v.Root())
	for _, dir := range settings.SkillDirs {
		if dir != "" {
			roots = append(roots, skills.Root{Label: "extra", Dir: dir})
		}
	}
	app.Catalog = skills.NewCatalog(roots, logger)

	apiKey, err := LookupAPIKey()
	if err != nil {
		logger.Warn("api key lookup failed, running without one", "error", err)
		apiKey = ""
	}
	app.Runner = &agent.Runner{
		Command:      settings.Command,
		ExtraArgs:    agent.SplitArgs(settings.Args),
		Model:        settings.Model,
		AgentMode:    settings.IsAgentMode(),
		SystemPrompt: settings.ChatSystemPrompt,
		Cwd:          v.Root(),
		APIKey:       apiKey,
		Logger:       logger,
	}

	window := budget.ContextWindowStandard
	if settings.Show1MContext {
		window = budget.ContextWindow1M
	}
	app.Budget = budget.NewManager(window, app.summarize, logger)

	app.Builder = &prompt.Builder{
		Resolver:           app.Resolver,
		Catalog:            app.Catalog,
		VaultRoot:          v.Root(),
		AgentMode:          settings.IsAgentMode(),
		NativeContextMode:  settings.IsNativeContextMode(),
		IncludeNoteContext: settings.IncludesNoteContext(),
		ContextWindow:      window,
		Logger:             logger,
	}

	if spec := settings.MaintenanceSpec; spec != "" {
		app.scheduler = cron.New()
		if _, err := app.scheduler.AddFunc(spec, app.maintain); err != nil {
			return nil, fmt.Errorf("schedule maintenance %q: %w", spec, err)
		}
		app.scheduler.Start()
	}

	return app, nil
}

func openStateBackend(path string, logger *slog.Logger) (session.StateStore, error) {
	if strings.HasSuffix(path, ".db") || strings.HasSuffix(path, ".sqlite") {
		backend, err := session.NewSQLiteStore(path, logger)
		if err != nil {
			return nil, fmt.Errorf("open session database: %w", err)
		}
		return backend, nil
	}
	backend, err := session.NewFileStore(path)
	if err != nil {
		return nil, fmt.Errorf("open session file: %w", err)
	}
	return backend, nil
}

// summarize feeds the budget manager's compaction through a standalone
// exec turn, outside any chat session.
func (a *App) summarize(ctx context.Context, prompt string) (string, error) {
	res, err := a.Runner.Run(ctx, agent.Turn{Prompt: prompt}, nil)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// RunTurn executes a chat turn. Session-less turns go straight to the exec
// path; session turns stream and record the returned handles.
func (a *App) RunTurn(ctx context.Context, s *session.Session, promptText string, images []string, onProgress agent.ProgressFunc) (agent.Result, error) {
	if s == nil {
		return a.Runner.Run(ctx, agent.Turn{Prompt: promptText, ImagePaths: images}, onProgress)
	}
	res, err := a.Runner.Run(ctx, agent.Turn{
		Prompt:     promptText,
		ThreadID:   s.AgentThreadID,
		SessionID:  s.AgentSessionID,
		ImagePaths: images,
		Streaming:  true,
	}, onProgress)
	if err != nil {
		return res, err
	}
	if res.ThreadID != "" {
		s.AgentThreadID = res.ThreadID
	}
	if res.SessionID != "" {
		s.AgentSessionID = res.SessionID
	}
	return res, nil
}

func (a *App) maintain() {
	a.Catalog.Refresh()
	a.Catalog.List()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Store.Persist(ctx); err != nil {
		a.Logger.Warn("periodic persist failed", "error", err)
	}
}

// Close interrupts any active run, stops the scheduler, and flushes the
// session store.
func (a *App) Close() error {
	a.Runner.Interrupt()
	if a.scheduler != nil {
		<-a.scheduler.Stop().Done()
	}
	return a.Store.Close()
}
