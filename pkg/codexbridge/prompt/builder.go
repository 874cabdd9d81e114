package prompt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hollisner/codexbridge/pkg/codexbridge/budget"
	"github.com/hollisner/codexbridge/pkg/codexbridge/session"
	"github.com/hollisner/codexbridge/pkg/codexbridge/skills"
	"github.com/hollisner/codexbridge/pkg/codexbridge/vault"
)

// Env carries the caller-provided ambient context for one turn: the
// document currently in focus and any active text selection.
type Env struct {
	NotePath       string
	NoteText       string
	SelectionPath  string
	SelectionText  string
	SelectionLines int
}

// Builder assembles the outgoing prompt from the user input, the session,
// and the ambient Env.
type Builder struct {
	Resolver *vault.Resolver
	Catalog  *skills.Catalog

	// VaultRoot, when set, is announced to the agent as its working scope.
	VaultRoot string

	// AgentMode selects the execute-vs-ask instruction set.
	AgentMode bool

	// NativeContextMode assumes the agent process keeps its own thread
	// memory and sends the leaner prompt shape.
	NativeContextMode bool

	// IncludeNoteContext attaches the focused document when no explicit
	// mentions resolve.
	IncludeNoteContext bool

	// ContextWindow sizes the history budget.
	ContextWindow int

	Logger *slog.Logger
}

func (b *Builder) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

func (b *Builder) window() int {
	if b.ContextWindow > 0 {
		return b.ContextWindow
	}
	return budget.ContextWindowStandard
}

// Build returns the prompt text for one turn. It never fails: unresolvable
// context is simply omitted, and guard conditions yield a short
// self-contained prompt instead of an error.
func (b *Builder) Build(ctx context.Context, userInput string, s *session.Session, env Env) string {
	trimmed := strings.TrimSpace(userInput)
	window := b.window()

	answerBudget := window * 12 / 100
	if answerBudget < 12000 {
		answerBudget = 12000
	}
	if answerBudget > 50000 {
		answerBudget = 50000
	}
	lastAnswer := LastAssistantAnswer(s, trimmed, answerBudget)
	carryAnswer := ShouldCarryForwardLastAssistant(trimmed)

	var selected []skills.Selected
	if b.Catalog != nil && s != nil {
		selected = b.Catalog.ResolveSelected(s.DraftSkills)
	}

	// Staged draft mentions come first, then mentions typed into the
	// message itself, deduplicated by (type, path).
	var refs []vault.Ref
	if b.Resolver != nil {
		seen := map[string]bool{}
		if s != nil && len(s.DraftMentions) > 0 {
			for _, ref := range b.Resolver.ResolveMentions(ctx, s.DraftMentions) {
				if seen[ref.Mention.Key()] {
					continue
				}
				seen[ref.Mention.Key()] = true
				refs = append(refs, ref)
			}
		}
		for _, ref := range b.Resolver.Resolve(ctx, vault.ParseMentionPaths(userInput)) {
			if seen[ref.Mention.Key()] {
				continue
			}
			seen[ref.Mention.Key()] = true
			refs = append(refs, ref)
		}
	}

	if b.NativeContextMode {
		return b.buildNative(trimmed, s, env, selected, refs, lastAnswer, carryAnswer)
	}
	return b.buildManual(userInput, trimmed, s, env, selected, refs, lastAnswer, carryAnswer)
}

func (b *Builder) buildNative(trimmed string, s *session.Session, env Env, selected []skills.Selected, refs []vault.Ref, lastAnswer string, carryAnswer bool) string {
	window := b.window()
	var blocks []string
	blocks = append(blocks,
		"你是知识库对话助手。直接回答用户问题，不要把对话路由成“在 vault 里做什么”。",
		"默认使用中文回答，除非用户明确要求其他语言。",
		"如果用户提到“上文/刚才/继续/用中文回答我”，默认指当前会话上一轮上下文，不要丢失话题。",
	)
	if h := FormatHistory(s, trimmed, 40, window*8/10, 12000); h != "" {
		blocks = append(blocks, h)
	}
	if s != nil && strings.TrimSpace(s.CompactedContext) != "" {
		blocks = append(blocks, "压缩后的长期会话记忆:\n"+strings.TrimSpace(s.CompactedContext))
	}
	if sb := skills.FormatForPrompt(selected); sb != "" {
		blocks = append(blocks, sb)
	}
	if carryAnswer && lastAnswer != "" {
		blocks = append(blocks, "上轮助手结果（本轮可直接引用）:\n"+lastAnswer)
	}
	if sel := selectionBlock(env); sel != "" {
		blocks = append(blocks, sel)
	}
	if len(refs) > 0 {
		blocks = append(blocks, "引用文档:\n"+formatRefs(refs, false))
	} else if b.IncludeNoteContext && env.NotePath != "" && strings.TrimSpace(env.NoteText) != "" {
		blocks = append(blocks, fmt.Sprintf("当前文档:\n路径: %s\n内容:\n%s", env.NotePath, env.NoteText))
	}
	if b.AgentMode {
		blocks = append(blocks, "请直接完成用户请求；若请求涉及文件操作，请在当前 vault 内实际执行并给出结果。")
	} else {
		blocks = append(blocks, "当前为 Ask 模式：仅对话回答，不执行文件修改。")
	}
	if WantsChinese(trimmed) {
		blocks = append(blocks, "请用中文回答。")
	}
	blocks = append(blocks, "用户消息:\n"+trimmed)
	return joinBlocks(blocks)
}

func (b *Builder) buildManual(rawInput, trimmed string, s *session.Session, env Env, selected []skills.Selected, refs []vault.Ref, lastAnswer string, carryAnswer bool) string {
	historyCount := 0
	if s != nil {
		historyCount = len(s.Messages)
	}
	if historyCount <= 1 {
		if canned := RewriteShortChatIntent(trimmed); canned != "" {
			return canned
		}
	}

	scopeLine := ""
	if b.VaultRoot != "" {
		scopeLine = "当前 Vault 根目录: " + b.VaultRoot
	}
	selBlock := selectionBlock(env)
	historyBlock := FormatConversationHistory(s, trimmed)

	switch DetectDocIntent(trimmed) {
	case IntentDocSummary:
		docs, hasText := b.docSections(refs, env)
		if !hasText {
			return "请用中文回答：未获取到文档内容，请先打开目标文档或使用 @[[文档路径]] 引用后再总结。"
		}
		return joinBlocks([]string{
			"你是文档总结助手。请直接完成任务，不要反问用户。",
			scopeLine,
			historyBlock,
			"用户请求:\n" + rawInput,
			selBlock,
			"输出格式:\n1) 三行摘要\n2) 关键要点（3-6条）\n3) 可执行建议（2-4条）",
			strings.Join(docs, "\n\n"),
			"只输出最终总结正文。",
		})
	case IntentDocRewrite:
		docs, hasText := b.docSections(refs, env)
		if !hasText {
			return "请用中文回答：未获取到文档内容，请先打开目标文档或使用 @[[文档路径]] 引用后再改写。"
		}
		return joinBlocks([]string{
			"你是文档改写助手。请直接完成改写，不要反问用户。",
			scopeLine,
			historyBlock,
			"用户请求:\n" + rawInput,
			selBlock,
			"要求:\n- 保持原意\n- 语言更清晰\n- 保留 Markdown 结构",
			strings.Join(docs, "\n\n"),
			"只输出改写后的最终文本。",
		})
	case IntentDocTask:
		docs, hasText := b.docSections(refs, env)
		if !hasText {
			return "请用中文回答：未获取到文档内容，请先打开目标文档或使用 @[[文档路径]] 引用后再执行任务。"
		}
		return joinBlocks([]string{
			"你是文档任务助手。请直接执行用户任务，不要反问用户。",
			scopeLine,
			historyBlock,
			"用户任务:\n" + rawInput,
			selBlock,
			"执行规则:\n- 以提供的文档内容为主\n- 若用户要求总结/提炼/分析/问答/翻译/改写，直接给结果\n- 仅当文档内容为空时才提示补充上下文",
			strings.Join(docs, "\n\n"),
			"请直接输出最终结果。",
		})
	}

	var contextBlocks []string
	if sb := skills.FormatForPrompt(selected); sb != "" {
		contextBlocks = append(contextBlocks, sb)
	}
	if s != nil && strings.TrimSpace(s.CompactedContext) != "" {
		contextBlocks = append(contextBlocks, "压缩后的长期会话记忆:\n"+strings.TrimSpace(s.CompactedContext))
	}
	if carryAnswer && lastAnswer != "" {
		contextBlocks = append(contextBlocks, "上轮助手结果（本轮可直接引用）:\n"+lastAnswer)
	}
	if selBlock != "" {
		contextBlocks = append(contextBlocks, selBlock)
	}
	if ShouldAttachDocContext(rawInput, len(refs) > 0) {
		if len(refs) > 0 {
			contextBlocks = append(contextBlocks, "引用文档:\n"+formatRefs(refs, false))
		} else if env.NotePath != "" && strings.TrimSpace(env.NoteText) != "" {
			contextBlocks = append(contextBlocks, fmt.Sprintf("当前文档路径: %s\n当前文档内容:\n%s", env.NotePath, env.NoteText))
		}
	}

	modeBlock := "当前为 Ask 模式：仅文字对话，不执行文件创建/修改/删除，也不执行命令。"
	if b.AgentMode {
		modeBlock = strings.Join([]string{
			"当前为 Agent 模式：你必须优先使用可用工具在当前 vault（cwd）内直接执行文件操作。",
			"当用户要求创建/修改/删除/写入文档时，禁止只给建议或示例路径，必须实际执行并完成。",
			"若用户未指定路径，默认使用当前文档所在目录；若当前文档不可用，则使用 vault 根目录。",
			"执行后必须再次读取目标文件进行校验，并在回复中给出“已执行”的文件路径与校验结果。",
		}, " ")
	}

	blocks := []string{
		"你是知识库中的 Codex 助手。",
		"请直接回答用户问题，不要把输入判定为误触字符，不要把对话转成技能或安装步骤。",
		"除非用户明确要求执行命令行操作，否则不要让用户去终端执行步骤。",
		modeBlock,
		"默认使用中文，答案简洁且可执行。",
		scopeLine,
		historyBlock,
	}
	blocks = append(blocks, contextBlocks...)
	blocks = append(blocks, "用户问题:\n"+trimmed, "请直接输出最终答复正文。")
	return joinBlocks(blocks)
}

// docSections renders the resolved mentions, or falls back to the focused
// document when nothing was mentioned. The bool reports whether any section
// actually carries document text.
func (b *Builder) docSections(refs []vault.Ref, env Env) ([]string, bool) {
	if len(refs) > 0 {
		sections := make([]string, 0, len(refs))
		hasText := false
		for i, r := range refs {
			sections = append(sections, formatOneRef(r, i, true))
			if strings.TrimSpace(r.Text) != "" {
				hasText = true
			}
		}
		return sections, hasText
	}
	path := env.NotePath
	if path == "" {
		path = "unknown"
	}
	return []string{fmt.Sprintf("文档路径: %s\n文档内容:\n%s", path, env.NoteText)},
		strings.TrimSpace(env.NoteText) != ""
}

func selectionBlock(env Env) string {
	if env.SelectionLines <= 0 || strings.TrimSpace(env.SelectionText) == "" {
		return ""
	}
	path := env.SelectionPath
	if path == "" {
		path = "unknown"
	}
	return fmt.Sprintf("当前选中文本（%d 行）:\n路径: %s\n内容:\n%s", env.SelectionLines, path, env.SelectionText)
}

func formatOneRef(r vault.Ref, index int, keepEmpty bool) string {
	text := r.Text
	if text == "" && !keepEmpty {
		text = "(空)"
	}
	if r.Mention.Type == session.MentionFolder {
		return fmt.Sprintf("文件夹%d路径: %s\n文件夹%d内容:\n%s", index+1, r.Mention.Path, index+1, text)
	}
	return fmt.Sprintf("文档%d路径: %s\n文档%d内容:\n%s", index+1, r.Mention.Path, index+1, text)
}

func formatRefs(refs []vault.Ref, keepEmpty bool) string {
	parts := make([]string, 0, len(refs))
	for i, r := range refs {
		parts = append(parts, formatOneRef(r, i, keepEmpty))
	}
	return strings.Join(parts, "\n\n")
}

func joinBlocks(blocks []string) string {
	kept := blocks[:0]
	for _, b := range blocks {
		if b != "" {
			kept = append(kept, b)
		}
	}
	return strings.Join(kept, "\n\n")
}
