package vault

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/hollisner/codexbridge/pkg/codexbridge/budget"
	"github.com/hollisner/codexbridge/pkg/codexbridge/session"
)

const (
	// MaxMentionsPerMessage caps how many distinct @[[...]] references a
	// single message can pull in.
	MaxMentionsPerMessage = 8

	// MaxFileContextChars caps the text taken from one file mention.
	MaxFileContextChars = 12000

	// Folder mentions are bounded harder: a folder expands to at most
	// MaxFolderDocs documents, each clipped to MaxFolderDocChars, with
	// the whole folder block clipped to MaxFolderTotalChars.
	MaxFolderDocs       = 15
	MaxFolderDocChars   = 3000
	MaxFolderTotalChars = 30000
)

var mentionPattern = regexp.MustCompile(`@\[\[([^\]]+)\]\]`)

// ParseMentionPaths extracts the @[[path]] references from a message in
// order of first appearance, deduplicated, capped at MaxMentionsPerMessage.
func ParseMentionPaths(text string) []string {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, m := range matches {
		raw := strings.TrimSpace(m[1])
		if raw == "" || seen[raw] {
			continue
		}
		seen[raw] = true
		out = append(out, raw)
		if len(out) >= MaxMentionsPerMessage {
			break
		}
	}
	return out
}

// Ref is a resolved mention with its document text, ready for prompt
// assembly.
type Ref struct {
	Mention session.Mention
	Text    string
}

// Resolver turns loose mention paths into Refs against a Vault.
type Resolver struct {
	vault  Vault
	logger *slog.Logger
}

// NewResolver creates a resolver. A nil logger falls back to slog.Default.
func NewResolver(v Vault, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{vault: v, logger: logger}
}

// Resolve maps loose paths to refs. Paths that match a document resolve as
// file refs, paths that match a directory resolve as folder refs, and
// anything unresolvable is skipped silently (logged at debug only).
func (r *Resolver) Resolve(ctx context.Context, loosePaths []string) []Ref {
	var refs []Ref
	for _, loose := range loosePaths {
		if doc, ok := r.vault.ResolveFile(loose); ok {
			text, err := r.vault.Read(ctx, doc.Path)
			if err != nil {
				r.logger.Warn("mention read failed", "path", doc.Path, "error", err)
				continue
			}
			refs = append(refs, Ref{
				Mention: session.Mention{Type: session.MentionFile, Path: doc.Path},
				Text:    budget.Clamp(text, MaxFileContextChars),
			})
			continue
		}
		if folder, ok := r.vault.ResolveFolder(loose); ok {
			refs = append(refs, Ref{
				Mention: session.Mention{Type: session.MentionFolder, Path: folder},
				Text:    r.folderText(ctx, folder),
			})
			continue
		}
		r.logger.Debug("mention unresolved", "path", loose)
	}
	return refs
}

// ResolveMentions resolves already-typed mentions, used for a session's
// persisted draft mentions.
func (r *Resolver) ResolveMentions(ctx context.Context, mentions []session.Mention) []Ref {
	var refs []Ref
	for _, m := range mentions {
		switch m.Type {
		case session.MentionFile:
			doc, ok := r.vault.ResolveFile(m.Path)
			if !ok {
				continue
			}
			text, err := r.vault.Read(ctx, doc.Path)
			if err != nil {
				continue
			}
			refs = append(refs, Ref{
				Mention: session.Mention{Type: session.MentionFile, Path: doc.Path},
				Text:    budget.Clamp(text, MaxFileContextChars),
			})
		case session.MentionFolder:
			folder, ok := r.vault.ResolveFolder(m.Path)
			if !ok {
				continue
			}
			refs = append(refs, Ref{
				Mention: session.Mention{Type: session.MentionFolder, Path: folder},
				Text:    r.folderText(ctx, folder),
			})
		}
	}
	return refs
}

func (r *Resolver) folderText(ctx context.Context, folder string) string {
	docs := r.vault.DocsUnder(folder)
	if len(docs) == 0 {
		return "(该文件夹下没有 Markdown 文档)"
	}

	picked := docs
	if len(picked) > MaxFolderDocs {
		picked = picked[:MaxFolderDocs]
	}
	var chunks []string
	total := 0
	for _, doc := range picked {
		if total >= MaxFolderTotalChars {
			break
		}
		text, err := r.vault.Read(ctx, doc.Path)
		if err != nil {
			r.logger.Warn("folder doc read failed", "path", doc.Path, "error", err)
			continue
		}
		block := "### " + doc.Path + "\n" + budget.Clamp(text, MaxFolderDocChars)
		next := total + len(block) + 2
		if next > MaxFolderTotalChars && len(chunks) > 0 {
			break
		}
		chunks = append(chunks, block)
		total = next
	}
	header := fmt.Sprintf("文件夹: %s\n已纳入 %d/%d 个文档（有截断）", folder, len(chunks), len(docs))
	return strings.TrimSpace(header + "\n\n" + strings.Join(chunks, "\n\n"))
}
