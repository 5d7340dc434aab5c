// Package edit implements the plain-text protocol used when a model is asked
// to change files: targets are GitHub blob links with line anchors, and the
// model answers with whole files, each introduced by a "%%% <path>" line.
package edit

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/seanblong/repochat/pkg/models"
)

// PathPrefix marks the start of a file in an edit response.
const PathPrefix = "%%%"

// Preamble is the system prompt sent with edit requests.
const Preamble = `You are a software developer helping to refactor, improve, and maintain a codebase. When prompted to
perform an update, you must return the entire updated files. Format your responses as plaintext without
markdown, as if you were editing the file directly, and prefix each file with '` + PathPrefix + `' followed
by a space and the filename. eg: '` + PathPrefix + ` relative/path/to/file.py'`

var ErrNoFiles = errors.New("edit: response contains no files")

var targetRE = regexp.MustCompile(`^https://github\.com/[^/]+/[^/]+/blob/(?P<commit>[^/]+)/(?P<path>[^#]+)#L(?P<start>\d+)(?:-L(?P<end>\d+))?`)

// Target is a block of lines in a file at a given commit.
type Target struct {
	Path   string `json:"path"`
	Commit string `json:"commit"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
}

func (t Target) String() string {
	return fmt.Sprintf("%s@%s#L%d-L%d", t.Path, t.Commit, t.Start, t.End)
}

// Snippet cuts the target's lines out of the file content. Line numbers are
// 1-based and inclusive; out of range spans are clamped.
func (t Target) Snippet(content string) models.Snippet {
	lines := strings.Split(content, "\n")
	start := max(t.Start, 1)
	end := min(t.End, len(lines))
	s := models.Snippet{Ref: t.Commit, Path: t.Path, LineStart: start, LineEnd: end}
	if start <= end {
		s.Content = strings.Join(lines[start-1:end], "\n")
	}
	return s
}

// ParseTargets returns a Target for every line of body that starts with a
// GitHub blob link. A link without an end line covers two lines.
func ParseTargets(body string) []Target {
	var out []Target
	for _, line := range strings.Split(body, "\n") {
		m := targetRE.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		start, err := strconv.Atoi(m[3])
		if err != nil {
			continue
		}
		end := start + 1
		if m[4] != "" {
			if end, err = strconv.Atoi(m[4]); err != nil {
				continue
			}
		}
		out = append(out, Target{Path: m[2], Commit: m[1], Start: start, End: end})
	}
	return out
}

// File is a whole file returned by the model.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// ParseFiles splits an edit response into files. Text before the first
// marker is ignored. Paths must be relative and stay inside the repository.
func ParseFiles(resp string) ([]File, error) {
	var out []File
	for _, line := range strings.SplitAfter(resp, "\n") {
		if strings.HasPrefix(line, PathPrefix) {
			p := strings.TrimSpace(strings.TrimPrefix(line, PathPrefix))
			if err := ValidPath(p); err != nil {
				return nil, err
			}
			out = append(out, File{Path: p})
			continue
		}
		if len(out) == 0 {
			continue
		}
		last := &out[len(out)-1]
		if !strings.HasSuffix(line, "\n") && line != "" {
			line += "\n"
		}
		last.Content += line
	}
	if len(out) == 0 {
		return nil, ErrNoFiles
	}
	return out, nil
}

// ValidPath rejects empty, absolute and parent-escaping slash paths.
func ValidPath(p string) error {
	if p == "" {
		return errors.New("edit: file marker without a path")
	}
	if strings.HasPrefix(p, "/") {
		return fmt.Errorf("edit: absolute path %q", p)
	}
	clean := path.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("edit: path %q escapes the repository", p)
	}
	return nil
}
