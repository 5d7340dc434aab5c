// Package loader reads the files of a repository checkout, cloning it from
// GitHub when needed, and keeps a short-lived on-disk copy of the result.
package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"
)

// maxFileSize skips generated blobs and data dumps.
const maxFileSize = 1 << 20

// Document is one text file of a repository.
type Document struct {
	Path     string `yaml:"path"`
	Language string `yaml:"language"`
	Content  string `yaml:"content"`
}

// FileSystemWalker defines the interface for walking directories
type FileSystemWalker interface {
	Walk(root string, options *godirwalk.Options) error
}

// FileReader defines the interface for reading files
type FileReader interface {
	ReadFile(filename string) ([]byte, error)
}

// DefaultFileSystemWalker implements FileSystemWalker using godirwalk
type DefaultFileSystemWalker struct{}

func (d *DefaultFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	return godirwalk.Walk(root, options)
}

// DefaultFileReader implements FileReader using os
type DefaultFileReader struct{}

func (d *DefaultFileReader) ReadFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

type Loader struct {
	Walker     FileSystemWalker
	FileReader FileReader
	Cloner     Cloner
	Now        func() time.Time
}

func New() *Loader {
	return &Loader{
		Walker:     &DefaultFileSystemWalker{},
		FileReader: &DefaultFileReader{},
		Cloner:     &GitCloner{},
		Now:        time.Now,
	}
}

// Load returns the documents of a GitHub repository, from cache when it is
// fresh enough, otherwise from a temporary shallow clone.
func (l *Loader) Load(ctx context.Context, repo RepoOptions, cache CacheOptions) ([]Document, error) {
	path, err := cachePath(repo, cache)
	if err != nil {
		return nil, err
	}

	if docs, ok := l.readCache(path, cache); ok {
		log.Info().Str("repository", repo.Name()).Str("ref", repo.Ref()).Int("documents", len(docs)).Msg("loaded documents from cache")
		return docs, nil
	}

	dir, err := l.Cloner.Clone(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("clone %s: %w", repo.Name(), err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("failed to remove clone")
		}
	}()

	docs, err := l.LoadDir(ctx, dir, repo)
	if err != nil {
		return nil, err
	}

	if err := writeCache(path, repo, docs, l.Now()); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("failed to write document cache")
	}
	return docs, nil
}

// LoadDir reads every allowed text file below root. Paths in the result are
// relative to root and slash separated.
func (l *Loader) LoadDir(ctx context.Context, root string, repo RepoOptions) ([]Document, error) {
	var docs []Document
	err := l.Walker.Walk(root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rel := relPath(root, path)
			if de != nil && de.IsDir() {
				if !repo.allowsDir(rel) {
					return godirwalk.SkipThis
				}
				return nil
			}
			if !repo.allowsFile(rel) {
				return nil
			}

			b, err := l.FileReader.ReadFile(path)
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("failed to read file")
				return nil
			}
			if len(b) > maxFileSize || !utf8.Valid(b) {
				log.Debug().Str("path", rel).Int("bytes", len(b)).Msg("skipping non-text or oversized file")
				return nil
			}

			docs = append(docs, Document{Path: rel, Language: GuessLang(rel), Content: string(b)})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	log.Info().Str("root", root).Int("documents", len(docs)).Msg("loaded documents")
	return docs, nil
}

func relPath(root, p string) string {
	r, err := filepath.Rel(root, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(r)
}

// GuessLang maps a file extension to the language label stored with chunks.
func GuessLang(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".sh":
		return "shell"
	case ".py":
		return "python"
	case ".go":
		return "go"
	case ".md":
		return "markdown"
	case ".tf":
		return "terraform"
	case ".js":
		return "javascript"
	case ".ts":
		return "typescript"
	case ".java":
		return "java"
	case ".rb":
		return "ruby"
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	}
	if strings.EqualFold(filepath.Base(path), "Dockerfile") {
		return "dockerfile"
	}
	return strings.TrimPrefix(ext, ".")
}
