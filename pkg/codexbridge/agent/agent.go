// Package agent drives the external codex binary: a streaming JSON-RPC
// app-server client for session turns and a one-shot exec fallback.
package agent

import (
	"errors"
	"strings"
)

// ProgressKind labels the progress callback categories.
type ProgressKind string

const (
	ProgressStatus    ProgressKind = "status"
	ProgressDelta     ProgressKind = "delta"
	ProgressReasoning ProgressKind = "reasoning"
	ProgressTool      ProgressKind = "tool"
)

// ProgressEvent is one streamed update forwarded to the caller while a
// turn is running.
type ProgressEvent struct {
	Kind ProgressKind
	Text string
}

// ProgressFunc receives progress events. May be nil.
type ProgressFunc func(ProgressEvent)

func emit(fn ProgressFunc, kind ProgressKind, text string) {
	if fn != nil && text != "" {
		fn(ProgressEvent{Kind: kind, Text: text})
	}
}

// Result is a completed turn.
type Result struct {
	// Text is the final answer.
	Text string

	// SessionID is the exec-path session identifier, when one was
	// reported or already known.
	SessionID string

	// ThreadID is the app-server thread handle used for this turn.
	ThreadID string
}

// ErrInterrupted marks a turn the user cancelled.
var ErrInterrupted = errors.New("已中断")

// IsInterrupted reports whether err stems from a user interruption.
func IsInterrupted(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrInterrupted) || strings.Contains(err.Error(), "已中断")
}
