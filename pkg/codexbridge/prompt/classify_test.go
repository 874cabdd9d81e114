package prompt

import (
	"strings"
	"testing"
)

func TestDetectDocIntent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  Intent
	}{
		{"", IntentNone},
		{"你好", IntentNone},
		{"总结一下这篇文档", IntentDocSummary},
		{"帮我概述当前笔记", IntentDocSummary},
		{"summarize this doc", IntentDocSummary},
		{"润色这份文档", IntentDocRewrite},
		{"rewrite this note", IntentDocRewrite},
		{"翻译这篇文章的第一段", IntentDocTask},
		{"分析一下", IntentDocTask},
		{"今天天气怎么样", IntentNone},
		// Full-width input normalizes before matching.
		{"ｓｕｍｍａｒｉｚｅ this doc", IntentDocSummary},
	}
	for _, tt := range tests {
		if got := DetectDocIntent(tt.input); got != tt.want {
			t.Errorf("DetectDocIntent(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestShouldAttachDocContext(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		hasRefs bool
		want    bool
	}{
		{"随便聊聊", true, true}, // refs force attachment
		{"总结要点", false, true},
		{"analyze the numbers", false, true},
		{"你好", false, false},
		{"", false, false},
	}
	for _, tt := range tests {
		if got := ShouldAttachDocContext(tt.input, tt.hasRefs); got != tt.want {
			t.Errorf("ShouldAttachDocContext(%q, %v) = %v, want %v", tt.input, tt.hasRefs, got, tt.want)
		}
	}
}

func TestRewriteShortChatIntent(t *testing.T) {
	t.Parallel()

	got := RewriteShortChatIntent("你好")
	if got == "" {
		t.Fatal("greeting should rewrite")
	}
	if !strings.Contains(got, "用户原话: 你好") {
		t.Errorf("canned prompt missing the original text:\n%s", got)
	}
	if !strings.Contains(got, "不要转成技能分流") {
		t.Errorf("canned prompt missing the routing guard:\n%s", got)
	}

	if got := RewriteShortChatIntent("你是谁？"); got == "" || !strings.Contains(got, "用户原话: 你是谁？") {
		t.Errorf("who-question rewrite = %q", got)
	}
	if got := RewriteShortChatIntent("你能做什么"); got == "" {
		t.Error("capability question should rewrite")
	}

	// Substantive input passes through untouched.
	for _, input := range []string{"", "你好，帮我总结这篇文档", "how do I configure the agent"} {
		if got := RewriteShortChatIntent(input); got != "" {
			t.Errorf("RewriteShortChatIntent(%q) = %q, want passthrough", input, got)
		}
	}
}

func TestShouldCarryForwardLastAssistant(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  bool
	}{
		{"把刚才的内容放到新文件", true},
		{"上一条再展开说说", true},
		{"把总结写入 today.md", true},
		{"总结这篇文档", false},
		{"你好", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ShouldCarryForwardLastAssistant(tt.input); got != tt.want {
			t.Errorf("ShouldCarryForwardLastAssistant(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestWantsChinese(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  bool
	}{
		{"请用中文回答", true},
		{"帮我看看", true}, // CJK content implies Chinese
		{"answer in english please", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := WantsChinese(tt.input); got != tt.want {
			t.Errorf("WantsChinese(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestLooksLikeRoutingReply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want bool
	}{
		{"Looks like a stray keystroke. What do you want to do?", true},
		{"You may want the skill-creator to set that up.", true},
		{"What do you want to do in your vault today?", true},
		{"这是正常的回答。", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := LooksLikeRoutingReply(tt.text); got != tt.want {
			t.Errorf("LooksLikeRoutingReply(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
