package chat

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/seanblong/repochat/pkg/models"
)

const defaultMaxContextChars = 24000

// buildPrompt renders the context snippets followed by the query. Without
// context the query is sent as is.
func buildPrompt(query string, bundle *models.ContextBundle, budget int) string {
	if bundle.Empty() {
		return query
	}

	var sb strings.Builder
	sb.WriteString("Use the following repository context to answer the question.\n\n")

	remaining := budget
	for _, s := range bundle.Snippets {
		content := s.Content
		if budget > 0 {
			if remaining <= 0 {
				break
			}
			if len(content) > remaining {
				cut := remaining
				for cut > 0 && !utf8.RuneStart(content[cut]) {
					cut--
				}
				content = content[:cut]
				if content == "" {
					break
				}
			}
			remaining -= len(content)
		}
		sb.WriteString(snippetHeader(s))
		sb.WriteString("\n```")
		sb.WriteString(s.Language)
		sb.WriteString("\n")
		sb.WriteString(content)
		if !strings.HasSuffix(content, "\n") {
			sb.WriteString("\n")
		}
		sb.WriteString("```\n\n")
	}

	sb.WriteString("Question:\n")
	sb.WriteString(query)
	return sb.String()
}

func snippetHeader(s models.Snippet) string {
	h := "--- " + s.Path
	if s.LineStart > 0 && s.LineEnd > 0 {
		h += fmt.Sprintf(" (lines %d-%d)", s.LineStart, s.LineEnd)
	}
	switch {
	case s.Repository != "" && s.Ref != "":
		h += " [" + s.Repository + "@" + s.Ref + "]"
	case s.Repository != "":
		h += " [" + s.Repository + "]"
	}
	return h
}
