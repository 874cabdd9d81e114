package agent

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// DefaultTurnTimeout bounds how long a streaming turn may run before the
// wait gives up.
const DefaultTurnTimeout = 120 * time.Second

// APIKeyEnvVar is the environment variable the agent binary reads its API
// key from.
const APIKeyEnvVar = "CODEX_API_KEY"

// Turn is one request against the agent binary.
type Turn struct {
	// Prompt is the fully built prompt text, sent as the turn's text block
	// (streaming) or on stdin (exec).
	Prompt string

	// ThreadID resumes an existing app-server thread when set.
	ThreadID string

	// SessionID resumes an existing exec session when set.
	SessionID string

	// ImagePaths are local image files attached to the turn.
	ImagePaths []string

	// Streaming selects the app-server path. When false the turn goes
	// straight to the exec fallback.
	Streaming bool
}

// Runner executes turns against the codex binary. A Runner is safe for
// concurrent use, but runs one interruptible turn slot: Interrupt cancels
// the most recently started turn.
type Runner struct {
	// Command is the binary name or path, typically "codex".
	Command string

	// ExtraArgs are user-configured arguments forwarded to the exec path.
	ExtraArgs []string

	// Model overrides the model baked into ExtraArgs.
	Model string

	// AgentMode selects the workspace-write sandbox; otherwise read-only.
	AgentMode bool

	// SystemPrompt is prepended to the fixed base instructions.
	SystemPrompt string

	// Cwd is the working directory the agent operates in.
	Cwd string

	// APIKey, when set, is exported to the child process as APIKeyEnvVar.
	// Empty means the child inherits the parent environment untouched.
	APIKey string

	// Timeout bounds the streaming turn wait. Zero means
	// DefaultTurnTimeout.
	Timeout time.Duration

	Logger *slog.Logger

	mu          sync.Mutex
	cancel      context.CancelFunc
	interrupted bool
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func (r *Runner) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return DefaultTurnTimeout
}

// selectedModel resolves the effective model name.
func (r *Runner) selectedModel() string {
	if r.Model != "" {
		return r.Model
	}
	if m := PickModelFromArgs(r.ExtraArgs); m != "" {
		return m
	}
	return "gpt-5"
}

// childEnv returns the environment for a spawned agent process. A nil
// return keeps os/exec's inherit-everything default.
func (r *Runner) childEnv() []string {
	if r.APIKey == "" {
		return nil
	}
	return append(os.Environ(), APIKeyEnvVar+"="+r.APIKey)
}

func (r *Runner) sandboxMode() string {
	if r.AgentMode {
		return "workspace-write"
	}
	return "read-only"
}

// baseInstructions composes the thread-level instructions: the configured
// system prompt plus fixed behavioral rules.
func (r *Runner) baseInstructions() string {
	lines := []string{
		r.SystemPrompt,
		"你是知识库内的对话助手。",
		"请直接回答用户消息，不要把正常对话改写成“你想在 vault 做什么”。",
		"除非用户明确要求，否则不要输出技能分流或安装指引。",
		"默认使用中文回答。",
	}
	out := lines[:0]
	for _, l := range lines {
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

// Run executes one turn. Streaming turns prefer the app-server path and
// fall back to exec once on any non-interruption failure.
func (r *Runner) Run(ctx context.Context, turn Turn, onProgress ProgressFunc) (Result, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	r.cancel = cancel
	r.interrupted = false
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		if r.cancel != nil {
			r.cancel = nil
		}
		r.mu.Unlock()
	}()

	res, err := r.dispatch(runCtx, turn, onProgress)
	if err != nil && r.wasInterrupted() {
		return Result{}, ErrInterrupted
	}
	return res, err
}

func (r *Runner) dispatch(ctx context.Context, turn Turn, onProgress ProgressFunc) (Result, error) {
	if !turn.Streaming {
		return r.runExec(ctx, turn, onProgress)
	}
	res, err := r.runAppServer(ctx, turn, onProgress)
	if err == nil || IsInterrupted(err) || ctx.Err() != nil {
		return res, err
	}
	r.logger().Warn("app-server path failed, falling back to exec", "error", err)
	emit(onProgress, ProgressStatus, "app-server 不可用，回退兼容模式...")
	return r.runExec(ctx, turn, onProgress)
}

// Interrupt cancels the most recently started turn. Returns false when no
// turn is running.
func (r *Runner) Interrupt() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel == nil {
		return false
	}
	r.interrupted = true
	r.cancel()
	r.cancel = nil
	return true
}

func (r *Runner) wasInterrupted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interrupted
}
