package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/seanblong/repochat/internal/edit"
	"github.com/seanblong/repochat/internal/loader"
	"github.com/seanblong/repochat/pkg/models"
)

// parseFileArg accepts a GitHub blob link with a line anchor,
// "path:start-end", "path:line" or a bare path (whole file, End == 0).
func parseFileArg(arg string) (edit.Target, error) {
	arg = strings.TrimSpace(arg)
	if strings.HasPrefix(arg, "https://") {
		ts := edit.ParseTargets(arg)
		if len(ts) == 0 {
			return edit.Target{}, fmt.Errorf("not a GitHub blob link with a line anchor: %s", arg)
		}
		return ts[0], nil
	}

	p, span, ok := strings.Cut(arg, ":")
	if !ok {
		return edit.Target{Path: arg}, nil
	}
	a, b, ranged := strings.Cut(span, "-")
	start, err := strconv.Atoi(strings.TrimPrefix(a, "L"))
	if err != nil || start < 1 {
		return edit.Target{}, fmt.Errorf("invalid line span %q", span)
	}
	end := start
	if ranged {
		if end, err = strconv.Atoi(strings.TrimPrefix(b, "L")); err != nil || end < start {
			return edit.Target{}, fmt.Errorf("invalid line span %q", span)
		}
	}
	return edit.Target{Path: p, Start: start, End: end}, nil
}

// buildBundle reads each --file argument below root. It returns nil when
// args is empty so the session falls back to retrieval.
func buildBundle(root, repository string, args []string) (*models.ContextBundle, error) {
	if len(args) == 0 {
		return nil, nil
	}
	b := &models.ContextBundle{}
	for _, arg := range args {
		t, err := parseFileArg(arg)
		if err != nil {
			return nil, err
		}
		if err := edit.ValidPath(filepath.ToSlash(t.Path)); err != nil {
			return nil, err
		}
		raw, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(t.Path)))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", t.Path, err)
		}
		content := string(raw)

		var s models.Snippet
		if t.End == 0 {
			s = models.Snippet{Path: t.Path, LineStart: 1, LineEnd: strings.Count(content, "\n") + 1, Content: content}
		} else {
			s = t.Snippet(content)
		}
		s.Repository = repository
		s.Language = loader.GuessLang(t.Path)
		b.Snippets = append(b.Snippets, s)
	}
	return b, nil
}

// applyFiles writes edited files below root.
func applyFiles(root string, files []edit.File) error {
	for _, f := range files {
		dst := filepath.Join(root, filepath.FromSlash(f.Path))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(dst, []byte(f.Content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", f.Path, err)
		}
	}
	return nil
}
