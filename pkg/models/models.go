package models

import "time"

type Chunk struct {
	ID         string    `json:"id"`
	Repository string    `json:"repository"`
	Ref        string    `json:"ref"`
	Path       string    `json:"path"`
	Language   string    `json:"language"`
	Summary    string    `json:"summary"`
	Content    string    `json:"content"`
	LineStart  int       `json:"line_start"`
	LineEnd    int       `json:"line_end"`
	CreatedAt  time.Time `json:"created_at"`
}

type SearchResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// Snippet is a piece of repository material attached to a chat query.
type Snippet struct {
	Repository string `json:"repository,omitempty"`
	Ref        string `json:"ref,omitempty"`
	Path       string `json:"path"`
	Language   string `json:"language,omitempty"`
	LineStart  int    `json:"line_start,omitempty"`
	LineEnd    int    `json:"line_end,omitempty"`
	Content    string `json:"content"`
}

// ContextBundle is the repository context sent along with a single query.
// It is built per call and never stored.
type ContextBundle struct {
	Snippets []Snippet `json:"snippets"`
}

// Empty reports whether the bundle carries no snippets.
func (b *ContextBundle) Empty() bool {
	return b == nil || len(b.Snippets) == 0
}

// SnippetFromChunk converts an indexed chunk into a context snippet.
func SnippetFromChunk(c Chunk) Snippet {
	return Snippet{
		Repository: c.Repository,
		Ref:        c.Ref,
		Path:       c.Path,
		Language:   c.Language,
		LineStart:  c.LineStart,
		LineEnd:    c.LineEnd,
		Content:    c.Content,
	}
}
