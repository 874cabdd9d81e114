package agent

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// runExec runs one turn through `codex exec`, one process per turn. Resumed
// sessions read the answer from stdout; fresh sessions write it to a temp
// file so banner output on stdout cannot pollute the answer.
func (r *Runner) runExec(ctx context.Context, turn Turn, onProgress ProgressFunc) (Result, error) {
	emit(onProgress, ProgressStatus, "使用兼容模式执行中...")

	extraArgs := filterExecArgs(r.ExtraArgs)
	extraArgs = append(extraArgs, "-m", r.selectedModel())

	var imageArgs []string
	for _, path := range turn.ImagePaths {
		if path != "" {
			imageArgs = append(imageArgs, "-i", path)
		}
	}

	var args []string
	var outputFile string
	if turn.SessionID != "" {
		args = append(args, "exec", "resume", "--skip-git-repo-check")
		args = append(args, extraArgs...)
		args = append(args, imageArgs...)
		args = append(args, turn.SessionID, "-")
	} else {
		tmp, err := os.CreateTemp("", "codexbridge-*.txt")
		if err != nil {
			return Result{}, fmt.Errorf("create output file: %w", err)
		}
		outputFile = tmp.Name()
		tmp.Close()
		defer os.Remove(outputFile)

		args = append(args, "exec", "--skip-git-repo-check", "--color", "never", "--sandbox", r.sandboxMode())
		args = append(args, extraArgs...)
		args = append(args, imageArgs...)
		args = append(args, "-o", outputFile)
	}

	cmd := exec.CommandContext(ctx, r.Command, args...)
	cmd.Dir = r.Cwd
	cmd.Env = r.childEnv()
	cmd.Stdin = strings.NewReader(turn.Prompt)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	parsedSessionID := ExtractSessionID(stderr.String() + "\n" + stdout.String())
	if runErr != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return Result{}, fmt.Errorf("%s exec: %s", r.Command, msg)
		}
		return Result{}, fmt.Errorf("%s exec: %w", r.Command, runErr)
	}

	var text string
	if turn.SessionID != "" {
		text = strings.TrimSpace(stdout.String())
	} else {
		content, err := os.ReadFile(outputFile)
		if err == nil {
			text = strings.TrimSpace(string(content))
		}
		if text == "" {
			text = strings.TrimSpace(stdout.String())
		}
	}

	sessionID := parsedSessionID
	if sessionID == "" {
		sessionID = turn.SessionID
	}
	return Result{Text: text, SessionID: sessionID}, nil
}
