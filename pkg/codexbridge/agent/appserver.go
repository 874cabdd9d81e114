package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
)

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeParams struct {
	ClientInfo   clientInfo `json:"clientInfo"`
	Capabilities any        `json:"capabilities"`
}

type threadResumeParams struct {
	ThreadID string `json:"threadId"`
}

type threadStartParams struct {
	Cwd                   string `json:"cwd"`
	Model                 string `json:"model"`
	ApprovalPolicy        string `json:"approvalPolicy"`
	Sandbox               string `json:"sandbox"`
	BaseInstructions      string `json:"baseInstructions"`
	DeveloperInstructions any    `json:"developerInstructions"`
}

type threadResult struct {
	Thread struct {
		ID string `json:"id"`
	} `json:"thread"`
}

type listenerParams struct {
	ConversationID        string `json:"conversationId"`
	ExperimentalRawEvents bool   `json:"experimentalRawEvents"`
}

type listenerResult struct {
	SubscriptionID string `json:"subscriptionId"`
}

type removeListenerParams struct {
	SubscriptionID string `json:"subscriptionId"`
}

type textInput struct {
	Type         string `json:"type"`
	Text         string `json:"text"`
	TextElements []any  `json:"text_elements"`
}

type imageInput struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

type turnStartParams struct {
	ThreadID string `json:"threadId"`
	Input    []any  `json:"input"`
}

type turnItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type completedTurn struct {
	ID    string     `json:"id"`
	Items []turnItem `json:"items"`
}

type turnStartResult struct {
	Turn completedTurn `json:"turn"`
}

type deltaNotification struct {
	ThreadID string `json:"threadId"`
	TurnID   string `json:"turnId"`
	Delta    string `json:"delta"`
}

type itemStartedNotification struct {
	ThreadID string `json:"threadId"`
	Item     struct {
		Type string `json:"type"`
	} `json:"item"`
}

type turnCompletedNotification struct {
	ThreadID string        `json:"threadId"`
	Turn     completedTurn `json:"turn"`
}

type errorNotification struct {
	ThreadID string `json:"threadId"`
	TurnID   string `json:"turnId"`
	Error    struct {
		Message string `json:"message"`
	} `json:"error"`
}

type turnOutcome struct {
	turn completedTurn
	err  error
}

// turnWatch routes asynchronous notifications for the one active turn.
// Events for other threads or turns are dropped.
type turnWatch struct {
	mu       sync.Mutex
	threadID string
	turnID   string
	streamed strings.Builder
	done     chan turnOutcome
	settled  bool
}

func newTurnWatch() *turnWatch {
	return &turnWatch{done: make(chan turnOutcome, 1)}
}

func (w *turnWatch) setThread(id string) {
	w.mu.Lock()
	w.threadID = id
	w.mu.Unlock()
}

func (w *turnWatch) setTurn(id string) {
	w.mu.Lock()
	w.turnID = id
	w.mu.Unlock()
}

// matches reports whether a notification for (threadID, turnID) targets
// the active turn. An empty active turn id matches any turn: deltas can
// arrive before turn/start returns.
func (w *turnWatch) matches(threadID, turnID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return threadID == w.threadID && (w.turnID == "" || turnID == "" || turnID == w.turnID)
}

func (w *turnWatch) appendDelta(delta string) {
	w.mu.Lock()
	w.streamed.WriteString(delta)
	w.mu.Unlock()
}

func (w *turnWatch) streamedText() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return strings.TrimSpace(w.streamed.String())
}

func (w *turnWatch) settle(out turnOutcome) {
	w.mu.Lock()
	if w.settled {
		w.mu.Unlock()
		return
	}
	w.settled = true
	w.mu.Unlock()
	w.done <- out
}

func (w *turnWatch) handle(onProgress ProgressFunc) notifyFunc {
	return func(method string, params json.RawMessage) {
		switch method {
		case "item/agentMessage/delta":
			var n deltaNotification
			if json.Unmarshal(params, &n) != nil || !w.matches(n.ThreadID, n.TurnID) {
				return
			}
			if n.Delta != "" {
				w.appendDelta(n.Delta)
				emit(onProgress, ProgressDelta, n.Delta)
			}
		case "item/reasoning/textDelta", "item/reasoning/summaryTextDelta":
			var n deltaNotification
			if json.Unmarshal(params, &n) != nil || !w.matches(n.ThreadID, n.TurnID) {
				return
			}
			emit(onProgress, ProgressReasoning, n.Delta)
		case "turn/started":
			var n deltaNotification
			if json.Unmarshal(params, &n) != nil || !w.matches(n.ThreadID, "") {
				return
			}
			emit(onProgress, ProgressStatus, "已发送，模型思考中...")
		case "item/started":
			var n itemStartedNotification
			if json.Unmarshal(params, &n) != nil || !w.matches(n.ThreadID, "") {
				return
			}
			switch n.Item.Type {
			case "reasoning":
				emit(onProgress, ProgressStatus, "模型正在推理...")
			case "commandExecution", "mcpToolCall":
				emit(onProgress, ProgressTool, "正在调用工具...")
			}
		case "turn/completed":
			var n turnCompletedNotification
			if json.Unmarshal(params, &n) != nil || !w.matches(n.ThreadID, n.Turn.ID) {
				return
			}
			emit(onProgress, ProgressStatus, "生成完成，正在整理...")
			w.settle(turnOutcome{turn: n.Turn})
		case "error":
			var n errorNotification
			if json.Unmarshal(params, &n) != nil || !w.matches(n.ThreadID, n.TurnID) {
				return
			}
			msg := n.Error.Message
			if msg == "" {
				msg = "turn failed"
			}
			w.settle(turnOutcome{err: errors.New(msg)})
		}
	}
}

// runAppServer runs one turn over the streaming JSON-RPC path.
func (r *Runner) runAppServer(ctx context.Context, turn Turn, onProgress ProgressFunc) (Result, error) {
	cmd := exec.CommandContext(ctx, r.Command, "app-server")
	cmd.Dir = r.Cwd
	cmd.Env = r.childEnv()
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Result{}, fmt.Errorf("open stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("open stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start %s app-server: %w", r.Command, err)
	}
	defer func() {
		stdin.Close()
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		cmd.Wait()
	}()

	watch := newTurnWatch()
	client := newRPCClient(stdin, watch.handle(onProgress), r.logger())
	go client.readLoop(stdout)

	res, err := r.converse(ctx, client, watch, turn, onProgress)
	if err != nil {
		return Result{}, wrapStderr(err, &stderr)
	}
	return res, nil
}

// converse runs the JSON-RPC session against an already-connected client.
// Split from the process plumbing so the protocol can be exercised over
// in-memory pipes.
func (r *Runner) converse(ctx context.Context, client *rpcClient, watch *turnWatch, turn Turn, onProgress ProgressFunc) (Result, error) {
	if _, err := client.call(ctx, "initialize", initializeParams{
		ClientInfo: clientInfo{Name: "codexbridge", Version: "0.1.0"},
	}); err != nil {
		return Result{}, err
	}
	if err := client.post("initialized", struct{}{}); err != nil {
		return Result{}, err
	}
	emit(onProgress, ProgressStatus, "已连接 Codex，会话初始化中...")

	threadID := turn.ThreadID
	if threadID != "" {
		raw, err := client.call(ctx, "thread/resume", threadResumeParams{ThreadID: threadID})
		if err != nil {
			r.logger().Warn("thread resume failed, starting fresh", "thread", threadID, "error", err)
			emit(onProgress, ProgressStatus, "会话恢复失败，已自动回退到历史拼接模式...")
			threadID = ""
		} else {
			var res threadResult
			if json.Unmarshal(raw, &res) == nil && res.Thread.ID != "" {
				threadID = res.Thread.ID
			}
		}
	}

	if threadID == "" {
		raw, err := client.call(ctx, "thread/start", threadStartParams{
			Cwd:              r.Cwd,
			Model:            r.selectedModel(),
			ApprovalPolicy:   "never",
			Sandbox:          r.sandboxMode(),
			BaseInstructions: r.baseInstructions(),
		})
		if err != nil {
			return Result{}, err
		}
		var res threadResult
		if json.Unmarshal(raw, &res) != nil || res.Thread.ID == "" {
			return Result{}, errors.New("thread/start 未返回 threadId")
		}
		threadID = res.Thread.ID
	}
	watch.setThread(threadID)

	rawListener, err := client.call(ctx, "addConversationListener", listenerParams{
		ConversationID: threadID,
	})
	if err != nil {
		return Result{}, err
	}
	var listener listenerResult
	json.Unmarshal(rawListener, &listener)
	emit(onProgress, ProgressStatus, "已建立流式监听，准备生成...")

	input := []any{textInput{Type: "text", Text: turn.Prompt, TextElements: []any{}}}
	for _, path := range turn.ImagePaths {
		if path != "" {
			input = append(input, imageInput{Type: "localImage", Path: path})
		}
	}
	rawTurn, err := client.call(ctx, "turn/start", turnStartParams{ThreadID: threadID, Input: input})
	if err != nil {
		return Result{}, err
	}
	var started turnStartResult
	json.Unmarshal(rawTurn, &started)
	watch.setTurn(started.Turn.ID)

	timer := time.NewTimer(r.timeout())
	defer timer.Stop()
	var completed completedTurn
	select {
	case out := <-watch.done:
		if out.err != nil {
			return Result{}, out.err
		}
		completed = out.turn
	case <-timer.C:
		return Result{}, errors.New("turn timeout")
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	finalText := watch.streamedText()
	if finalText == "" {
		var parts []string
		for _, item := range completed.Items {
			if item.Type == "agentMessage" && item.Text != "" {
				parts = append(parts, item.Text)
			}
		}
		finalText = strings.TrimSpace(strings.Join(parts, "\n"))
	}

	if listener.SubscriptionID != "" {
		removeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		client.call(removeCtx, "removeConversationListener", removeListenerParams{
			SubscriptionID: listener.SubscriptionID,
		})
		cancel()
	}

	return Result{Text: finalText, SessionID: turn.SessionID, ThreadID: threadID}, nil
}

func wrapStderr(err error, stderr *bytes.Buffer) error {
	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		return fmt.Errorf("%w (%s)", err, msg)
	}
	return err
}
