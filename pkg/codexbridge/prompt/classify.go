package prompt

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Intent labels the document-oriented task classes the builder templates
// handle specially.
type Intent string

const (
	IntentNone       Intent = ""
	IntentDocSummary Intent = "文档总结"
	IntentDocRewrite Intent = "文档改写"
	IntentDocTask    Intent = "文档任务"
)

var (
	summaryWords = []string{"总结", "概述", "提炼", "摘要", "总结一下", "summarize", "summary"}
	rewriteWords = []string{"改写", "润色", "重写", "优化", "rewrite", "polish"}
	docWords     = []string{
		"文档", "本文", "这篇", "这份", "当前文档", "当前笔记", "笔记",
		"article", "note", "this doc", "this note",
	}
	docTaskWords = []string{
		"分析", "解释", "问答", "回答", "翻译", "提取", "抽取", "对比", "比较",
		"结构化", "整理", "优化", "改成", "生成",
		"qa", "analyze", "explain", "translate", "extract", "compare",
	}
	attachTaskWords = []string{
		"总结", "概述", "提炼", "摘要", "改写", "润色", "重写", "分析", "解释",
		"翻译", "提取", "抽取", "对比", "比较", "整理", "生成",
		"summarize", "summary", "rewrite", "polish", "analyze", "explain",
		"translate", "extract", "compare",
	}
)

// canon folds width and compatibility variants before keyword matching so
// full-width input still classifies.
func canon(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKC.String(s)))
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// DetectDocIntent classifies the user input into one of the document task
// intents, or IntentNone for plain conversation.
func DetectDocIntent(input string) Intent {
	text := canon(input)
	if text == "" {
		return IntentNone
	}
	isSummary := containsAny(text, summaryWords)
	isRewrite := containsAny(text, rewriteWords)
	mentionsDoc := containsAny(text, docWords)
	isDocTask := containsAny(text, docTaskWords)

	switch {
	case isSummary && mentionsDoc:
		return IntentDocSummary
	case isRewrite && mentionsDoc:
		return IntentDocRewrite
	case mentionsDoc || isDocTask:
		return IntentDocTask
	default:
		return IntentNone
	}
}

// ShouldAttachDocContext reports whether the current document should ride
// along as context even without an explicit mention.
func ShouldAttachDocContext(input string, hasRefs bool) bool {
	if hasRefs {
		return true
	}
	text := canon(input)
	if text == "" {
		return false
	}
	return containsAny(text, docWords) || containsAny(text, attachTaskWords)
}

var (
	greetingPattern   = regexp.MustCompile(`^(你好|您好|嗨|哈喽|hello|hi|hey)[!！,.。 ]*$`)
	whoPattern        = regexp.MustCompile(`^(你是谁|你是什么模型|what are you|who are you)[?？!！ ]*$`)
	capabilityPattern = regexp.MustCompile(`^(你能做什么|你可以做什么|help|帮助|能帮我什么)[?？!！ ]*$`)
)

// RewriteShortChatIntent maps short conversational openers to canned
// prompts that keep the agent from routing the turn into tool or skill
// selection. Returns "" when the input is not such an opener.
func RewriteShortChatIntent(input string) string {
	text := strings.TrimSpace(input)
	if text == "" {
		return ""
	}
	normalized := canon(text)

	if greetingPattern.MatchString(normalized) {
		return strings.Join([]string{
			"你是知识库里的中文助手。",
			"用户在打招呼，请直接用中文友好回复一句，并简要说明你可以做的三件事：",
			"1) 总结当前文档",
			"2) 基于 @[[文档路径]] 回答",
			"3) 改写/提炼当前文档",
			"不要说误触按键，不要转成技能分流。",
			"用户原话: " + text,
		}, "\n")
	}

	if whoPattern.MatchString(normalized) {
		return strings.Join([]string{
			"你是知识库里的 Codex 助手。",
			"请直接用中文回答你是谁，并说明你在当前工具中的作用。",
			"不要说误触按键，不要转成技能分流。",
			"用户原话: " + text,
		}, "\n")
	}

	if capabilityPattern.MatchString(normalized) {
		return strings.Join([]string{
			"请用中文直接列出你能帮用户做的事项（3-6条），结合当前文档工作流。",
			"不要说误触按键，不要转成技能分流。",
			"用户原话: " + text,
		}, "\n")
	}

	return ""
}

var (
	referWords = []string{
		"上文", "上一条", "刚才", "前面", "上述", "之前", "刚刚", "总结的内容", "上一步",
		"that summary", "previous answer", "last answer", "previous result", "above",
	}
	actionWords = []string{
		"覆盖", "写入", "替换", "保存", "放到", "写到", "粘贴到",
		"apply", "overwrite", "replace", "write",
	}
)

// ShouldCarryForwardLastAssistant reports whether the input refers back to
// the previous assistant answer, so that answer should be re-attached.
func ShouldCarryForwardLastAssistant(input string) bool {
	text := canon(input)
	if text == "" {
		return false
	}
	if containsAny(text, referWords) {
		return true
	}
	return strings.Contains(text, "总结") && containsAny(text, actionWords)
}

var (
	chineseRequest = regexp.MustCompile(`(中文|汉语)`)
	cjkRange       = regexp.MustCompile(`[\x{4e00}-\x{9fa5}]`)
)

// WantsChinese reports whether the reply should be forced to Chinese.
func WantsChinese(input string) bool {
	return chineseRequest.MatchString(input) || cjkRange.MatchString(input)
}

// LooksLikeRoutingReply detects answers where the agent misread the chat
// turn as a host-environment routing question. Such replies are retried
// with a more explicit prompt.
func LooksLikeRoutingReply(text string) bool {
	source := strings.ToLower(text)
	if source == "" {
		return false
	}
	return strings.Contains(source, "stray key") ||
		strings.Contains(source, "stray keystroke") ||
		strings.Contains(source, "skill-creator") ||
		strings.Contains(source, "skill-installer") ||
		(strings.Contains(source, "what do you want to do in") && strings.Contains(source, "vault"))
}
