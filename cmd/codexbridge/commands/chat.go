package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/hollisner/codexbridge/pkg/codexbridge/agent"
	"github.com/hollisner/codexbridge/pkg/codexbridge/budget"
	"github.com/hollisner/codexbridge/pkg/codexbridge/config"
	"github.com/hollisner/codexbridge/pkg/codexbridge/prompt"
	"github.com/hollisner/codexbridge/pkg/codexbridge/session"
)

var (
	statusStyle    = lipgloss.NewStyle().Faint(true)
	reasoningStyle = lipgloss.NewStyle().Faint(true).Italic(true)
	titleStyle     = lipgloss.NewStyle().Bold(true)
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	noticeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

// newChatCmd creates the `codexbridge chat` command.
func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Chat with the agent, one-shot or interactive",
		Long: `Sends one message, or starts an interactive REPL when no message is
given. Messages may reference documents with @[[path]].

Examples:
  codexbridge chat "总结 @[[notes/plan]]"
  codexbridge chat -i diagram.png "这张图讲了什么？"
  codexbridge chat`,
		Args: cobra.MaximumNArgs(1),
		RunE: runChat,
	}

	cmd.Flags().StringArrayP("image", "i", nil, "attach a local image file (repeatable)")
	cmd.Flags().StringP("session", "s", "", "session id to use instead of the active one")
	cmd.Flags().StringP("note", "n", "", "vault document to treat as the focused note")
	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
	app, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	if app.StoreLoadErr != nil {
		fmt.Println(noticeStyle.Render("会话存档读取失败，已重置为新的空会话。"))
	}

	sess := app.Store.Active()
	if id, _ := cmd.Flags().GetString("session"); id != "" {
		if !app.Store.SetActive(id) {
			return fmt.Errorf("unknown session %q", id)
		}
		sess = app.Store.Active()
	}

	images, _ := cmd.Flags().GetStringArray("image")
	ctx := cmd.Context()

	env := prompt.Env{}
	if notePath, _ := cmd.Flags().GetString("note"); notePath != "" {
		env, err = noteEnv(ctx, app, notePath)
		if err != nil {
			return err
		}
	}

	if len(args) > 0 {
		return sendTurn(ctx, app, sess, args[0], images, env)
	}
	return runREPL(ctx, app, env)
}

// noteEnv resolves a vault document into the ambient prompt context.
func noteEnv(ctx context.Context, app *config.App, notePath string) (prompt.Env, error) {
	doc, ok := app.Vault.ResolveFile(notePath)
	if !ok {
		return prompt.Env{}, fmt.Errorf("未在 vault 中找到文档: %s", notePath)
	}
	text, err := app.Vault.Read(ctx, doc.Path)
	if err != nil {
		return prompt.Env{}, err
	}
	return prompt.Env{NotePath: doc.Path, NoteText: text}, nil
}

func runREPL(ctx context.Context, app *config.App, env prompt.Env) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("interactive mode needs a terminal; pass a message argument instead")
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "你> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("open terminal: %w", err)
	}
	defer rl.Close()

	sess := app.Store.Active()
	fmt.Println(titleStyle.Render("Codex Bridge") + statusStyle.Render("  /new /sessions /use <id> /skill /mention /compact /exit"))
	fmt.Println(statusStyle.Render("当前会话: " + sess.Title))

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch {
		case line == "/exit" || line == "/quit":
			return nil
		case line == "/new":
			sess := app.Store.Create()
			fmt.Println(statusStyle.Render("已创建新会话: " + sess.ID))
			continue
		case line == "/sessions":
			printSessions(app)
			continue
		case strings.HasPrefix(line, "/use "):
			id := strings.TrimSpace(strings.TrimPrefix(line, "/use "))
			if !app.Store.SetActive(id) {
				fmt.Println(errorStyle.Render("未找到会话: " + id))
			} else {
				fmt.Println(statusStyle.Render("已切换到会话: " + app.Store.Active().Title))
			}
			continue
		case line == "/skill" || strings.HasPrefix(line, "/skill "):
			handleSkillCommand(app, strings.TrimSpace(strings.TrimPrefix(line, "/skill")))
			continue
		case line == "/mention" || strings.HasPrefix(line, "/mention "):
			handleMentionCommand(app, strings.TrimSpace(strings.TrimPrefix(line, "/mention")))
			continue
		case line == "/compact":
			res, err := app.Budget.Compact(ctx, app.Store.Active(), "manual")
			switch {
			case err != nil:
				fmt.Println(errorStyle.Render("上下文压缩失败: " + err.Error()))
			case res.Performed:
				fmt.Println(noticeStyle.Render(fmt.Sprintf("已压缩会话上下文（%d 条历史消息）", res.SummarizedCount)))
			default:
				fmt.Println(statusStyle.Render("当前上下文占用较低，无需压缩"))
			}
			continue
		}

		if err := sendTurn(ctx, app, app.Store.Active(), line, nil, env); err != nil {
			fmt.Println(errorStyle.Render(err.Error()))
		}
	}
}

// handleSkillCommand stages skills on the active session:
// /skill            list the catalog with staged skills marked
// /skill add <id>   stage a skill for the next turns
// /skill rm <id>    unstage a skill
// /skill clear      drop the whole selection
func handleSkillCommand(app *config.App, args string) {
	sess := app.Store.Active()
	verb, rest, _ := strings.Cut(args, " ")
	rest = strings.TrimSpace(rest)

	switch verb {
	case "", "list":
		staged := map[string]bool{}
		for _, id := range sess.DraftSkills {
			staged[id] = true
		}
		list := app.Catalog.List()
		if len(list) == 0 {
			fmt.Println(statusStyle.Render("未发现任何 skill"))
			return
		}
		for _, s := range list {
			marker := "  "
			if staged[s.ID] {
				marker = "* "
			}
			fmt.Printf("%s%s  %s\n", marker, s.ID, s.Description)
		}
	case "add":
		if _, ok := app.Catalog.Get(rest); !ok {
			fmt.Println(errorStyle.Render("未找到 skill: " + rest))
			return
		}
		if !sess.StageSkill(rest) {
			fmt.Println(statusStyle.Render("该 skill 已启用，或已达到数量上限"))
			return
		}
		fmt.Println(statusStyle.Render("已启用 skill: " + rest))
	case "rm":
		if !sess.UnstageSkill(rest) {
			fmt.Println(errorStyle.Render("该 skill 未启用: " + rest))
			return
		}
		fmt.Println(statusStyle.Render("已停用 skill: " + rest))
	case "clear":
		sess.DraftSkills = []string{}
		sess.Touch()
		fmt.Println(statusStyle.Render("已清空 skill 选择"))
	default:
		fmt.Println(errorStyle.Render("用法: /skill [list|add <id>|rm <id>|clear]"))
	}
}

// handleMentionCommand stages document mentions on the active session:
// /mention              list staged mentions
// /mention add <path>   stage a vault document or folder
// /mention rm <path>    remove a staged mention
// /mention clear        drop all staged mentions
func handleMentionCommand(app *config.App, args string) {
	sess := app.Store.Active()
	verb, rest, _ := strings.Cut(args, " ")
	rest = strings.TrimSpace(rest)

	switch verb {
	case "", "list":
		if len(sess.DraftMentions) == 0 {
			fmt.Println(statusStyle.Render("没有待发送的引用"))
			return
		}
		for _, m := range sess.DraftMentions {
			suffix := ""
			if m.Auto {
				suffix = "  (auto)"
			}
			fmt.Printf("  [%s] %s%s\n", m.Type, m.Path, suffix)
		}
	case "add":
		m, ok := resolveMentionArg(app, rest)
		if !ok {
			fmt.Println(errorStyle.Render("未在 vault 中找到文档或文件夹: " + rest))
			return
		}
		if !sess.StageMention(m) {
			fmt.Println(statusStyle.Render("该引用已存在"))
			return
		}
		fmt.Println(statusStyle.Render(fmt.Sprintf("已加入引用: [%s] %s", m.Type, m.Path)))
	case "rm":
		m, ok := resolveMentionArg(app, rest)
		if !ok {
			m = session.Mention{Type: session.MentionFile, Path: rest}
		}
		if !sess.RemoveMention(m.Type, m.Path) && !sess.RemoveMention(session.MentionFolder, rest) {
			fmt.Println(errorStyle.Render("未找到该引用: " + rest))
			return
		}
		fmt.Println(statusStyle.Render("已移除引用: " + rest))
	case "clear":
		sess.ClearMentions()
		fmt.Println(statusStyle.Render("已清空引用"))
	default:
		fmt.Println(errorStyle.Render("用法: /mention [list|add <path>|rm <path>|clear]"))
	}
}

// resolveMentionArg maps a loose user path to a typed mention, documents
// first, folders second.
func resolveMentionArg(app *config.App, loose string) (session.Mention, bool) {
	if doc, ok := app.Vault.ResolveFile(loose); ok {
		return session.Mention{Type: session.MentionFile, Path: doc.Path, Name: doc.Basename}, true
	}
	if folder, ok := app.Vault.ResolveFolder(loose); ok {
		return session.Mention{Type: session.MentionFolder, Path: folder}, true
	}
	return session.Mention{}, false
}

func printSessions(app *config.App) {
	active := app.Store.Active()
	for _, s := range app.Store.List() {
		marker := "  "
		if active != nil && s.ID == active.ID {
			marker = "* "
		}
		fmt.Printf("%s%s  %s  (%d messages)\n", marker, s.ID, s.Title, len(s.Messages))
	}
}

// sendTurn runs one full chat turn: auto-compaction, prompt build, agent
// run, and persistence. A failed turn still appends a terminal assistant
// message so the transcript never ends on a dangling user message.
func sendTurn(ctx context.Context, app *config.App, sess *session.Session, text string, images []string, env prompt.Env) error {
	text = strings.TrimSpace(text)
	if text == "" && len(images) == 0 {
		return nil
	}

	// A focused note on a pristine session becomes an automatic mention.
	if env.NotePath != "" {
		sess.SeedAutoMention(env.NotePath, "")
	}

	display := text
	if display == "" {
		display = "(图片)"
	}
	sess.AppendMessage(session.Message{Role: session.RoleUser, Content: display})
	sess.DeriveTitle(text)

	compacted, err := app.Budget.MaybeAutoCompact(ctx, sess, budget.Options{
		DraftInput: text,
		Mentions:   sess.DraftMentions,
		SkillIDs:   sess.DraftSkills,
		ImageCount: len(images),
	})
	if err != nil {
		app.Logger.Warn("auto compact failed", "error", err)
	}
	if compacted.Performed {
		fmt.Println(noticeStyle.Render("上下文占用较高，已自动压缩历史上下文"))
	}

	promptInput := text
	if len(images) > 0 {
		names := make([]string, 0, len(images))
		for _, img := range images {
			names = append(names, filepath.Base(img))
		}
		promptInput = strings.TrimSpace(text + "\n附图: " + strings.Join(names, ", "))
	}
	promptText := app.Builder.Build(ctx, promptInput, sess, env)
	sess.LastPromptTokens = budget.EstimateTokens(promptText)
	// Staged mentions apply to the turn they were staged for; skills stay
	// selected until removed.
	sess.ClearMentions()

	started := time.Now()
	var answer, reasoning strings.Builder
	streaming := false
	onProgress := func(ev agent.ProgressEvent) {
		switch ev.Kind {
		case agent.ProgressStatus, agent.ProgressTool:
			fmt.Println(statusStyle.Render(ev.Text))
		case agent.ProgressDelta:
			if !streaming {
				streaming = true
				fmt.Print(titleStyle.Render("助手> "))
			}
			answer.WriteString(ev.Text)
			fmt.Print(ev.Text)
		case agent.ProgressReasoning:
			reasoning.WriteString(ev.Text)
		}
	}

	// Ctrl-C during generation interrupts the run instead of killing the
	// process.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	stopSig := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			app.Runner.Interrupt()
		case <-stopSig:
		}
	}()

	result, runErr := app.RunTurn(ctx, sess, promptText, images, onProgress)
	signal.Stop(sigCh)
	close(stopSig)
	if streaming {
		fmt.Println()
	}

	elapsed := time.Since(started)
	thoughtLabel := fmt.Sprintf("Thought for %ds", int(elapsed.Seconds()))
	thought := strings.TrimSpace(reasoning.String())
	if len(thought) > 6000 {
		cut := 6000
		for cut > 0 && thought[cut]&0xC0 == 0x80 {
			cut--
		}
		thought = thought[:cut]
	}

	if runErr != nil {
		assistantText := strings.TrimSpace(answer.String())
		switch {
		case assistantText != "":
		case agent.IsInterrupted(runErr):
			assistantText = "已中断本次生成。"
		default:
			assistantText = "执行失败：" + runErr.Error()
		}
		sess.AppendMessage(session.Message{
			Role:              session.RoleAssistant,
			Content:           assistantText,
			Thought:           thought,
			ThoughtDurationMS: elapsed.Milliseconds(),
			ThoughtLabel:      thoughtLabel,
		})
		persist(ctx, app)
		fmt.Println(errorStyle.Render(assistantText))
		return nil
	}

	assistantText := strings.TrimSpace(result.Text)
	if assistantText == "" {
		assistantText = "(空响应)"
	}
	sess.AppendMessage(session.Message{
		Role:              session.RoleAssistant,
		Content:           assistantText,
		Thought:           thought,
		ThoughtDurationMS: elapsed.Milliseconds(),
		ThoughtLabel:      thoughtLabel,
	})
	persist(ctx, app)

	// The streamed deltas already rendered the answer; only print it when
	// the exec path returned it in one piece.
	if !streaming {
		fmt.Println(titleStyle.Render("助手> ") + assistantText)
	}
	fmt.Println(statusStyle.Render(thoughtLabel))
	return nil
}

func persist(ctx context.Context, app *config.App) {
	if err := app.Store.Persist(ctx); err != nil {
		app.Logger.Warn("persist failed", "error", err)
	}
}
