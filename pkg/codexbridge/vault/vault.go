// Package vault provides read access to the markdown documents the bridge
// can pull into a prompt: a document index over the vault root plus the
// @[[path]] mention resolver.
package vault

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Doc identifies one markdown document in the vault.
type Doc struct {
	// Path is vault-relative with forward slashes.
	Path string

	// Basename is the file name without the .md extension.
	Basename string
}

// Vault is the document index the resolver and prompt builder work against.
type Vault interface {
	// ResolveFile resolves a loose path: exact match, then the same path
	// with ".md" appended, then a basename match.
	ResolveFile(loose string) (Doc, bool)

	// ResolveFolder resolves a loose folder path (exact, then by name)
	// and returns its vault-relative path.
	ResolveFolder(loose string) (string, bool)

	// DocsUnder lists documents below the folder, lexicographically by
	// path, case-insensitive.
	DocsUnder(folder string) []Doc

	// Read returns a document's text.
	Read(ctx context.Context, path string) (string, error)

	// Root is the absolute vault root directory.
	Root() string
}

// DirVault indexes markdown files under a directory. The index is rebuilt
// lazily with a short TTL so repeated prompt builds do not rescan the tree.
type DirVault struct {
	root string
	ttl  time.Duration

	mu        sync.Mutex
	docs      []Doc
	folders   map[string]bool
	scannedAt time.Time
}

// NewDirVault creates a vault over root. The root must exist.
func NewDirVault(root string) (*DirVault, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve vault root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat vault root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("vault root %q is not a directory", abs)
	}
	return &DirVault{root: abs, ttl: 5 * time.Second}, nil
}

// Root returns the absolute vault root.
func (v *DirVault) Root() string { return v.root }

func (v *DirVault) index() ([]Doc, map[string]bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if time.Since(v.scannedAt) < v.ttl && v.docs != nil {
		return v.docs, v.folders
	}

	var docs []Doc
	folders := map[string]bool{}
	filepath.WalkDir(v.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(v.root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			folders[rel] = true
			return nil
		}
		if strings.EqualFold(filepath.Ext(d.Name()), ".md") {
			docs = append(docs, Doc{
				Path:     rel,
				Basename: strings.TrimSuffix(d.Name(), filepath.Ext(d.Name())),
			})
		}
		return nil
	})
	sort.Slice(docs, func(i, j int) bool {
		return strings.ToLower(docs[i].Path) < strings.ToLower(docs[j].Path)
	})

	v.docs = docs
	v.folders = folders
	v.scannedAt = time.Now()
	return docs, folders
}

// ResolveFile implements Vault.
func (v *DirVault) ResolveFile(loose string) (Doc, bool) {
	raw := strings.TrimSpace(loose)
	if raw == "" {
		return Doc{}, false
	}
	docs, _ := v.index()
	mdPath := raw
	if !strings.HasSuffix(strings.ToLower(raw), ".md") {
		mdPath = raw + ".md"
	}
	for _, d := range docs {
		if d.Path == raw || d.Path == mdPath {
			return d, true
		}
	}
	for _, d := range docs {
		if d.Basename == raw {
			return d, true
		}
	}
	return Doc{}, false
}

// ResolveFolder implements Vault.
func (v *DirVault) ResolveFolder(loose string) (string, bool) {
	raw := strings.TrimRight(strings.TrimSpace(loose), "/")
	if raw == "" {
		return "", false
	}
	_, folders := v.index()
	if folders[raw] {
		return raw, true
	}
	for folder := range folders {
		if filepath.Base(folder) == raw {
			return folder, true
		}
	}
	return "", false
}

// DocsUnder implements Vault.
func (v *DirVault) DocsUnder(folder string) []Doc {
	prefix := strings.TrimRight(folder, "/") + "/"
	docs, _ := v.index()
	var out []Doc
	for _, d := range docs {
		if strings.HasPrefix(d.Path, prefix) {
			out = append(out, d)
		}
	}
	return out
}

// Read implements Vault.
func (v *DirVault) Read(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(v.root, filepath.FromSlash(path)))
	if err != nil {
		return "", fmt.Errorf("read document %q: %w", path, err)
	}
	return string(data), nil
}
