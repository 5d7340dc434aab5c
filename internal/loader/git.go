package loader

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"
)

// Cloner fetches a repository snapshot into a new directory that the caller removes.
type Cloner interface {
	Clone(ctx context.Context, repo RepoOptions) (string, error)
}

// GitCloner shells out to git for a depth-1 checkout.
type GitCloner struct{}

func (g *GitCloner) Clone(ctx context.Context, repo RepoOptions) (string, error) {
	dir, err := os.MkdirTemp("", "repochat-*")
	if err != nil {
		return "", err
	}

	url := authURL(repo.URL(), repo.Token)
	var steps [][]string
	if repo.CommitSHA != "" {
		steps = [][]string{
			{"init", "--quiet", dir},
			{"-C", dir, "fetch", "--quiet", "--depth", "1", url, repo.CommitSHA},
			{"-C", dir, "checkout", "--quiet", "FETCH_HEAD"},
		}
	} else {
		steps = [][]string{{"clone", "--quiet", "--depth", "1", "--branch", repo.Branch, url, dir}}
	}

	for _, args := range steps {
		cmd := exec.CommandContext(ctx, "git", args...)
		if out, err := cmd.CombinedOutput(); err != nil {
			if rmErr := os.RemoveAll(dir); rmErr != nil {
				log.Warn().Err(rmErr).Str("dir", dir).Msg("failed to remove temp directory")
			}
			return "", fmt.Errorf("%s: %w: %s", redact("git "+strings.Join(args, " "), repo.Token), err,
				redact(strings.TrimSpace(string(out)), repo.Token))
		}
	}

	log.Info().Str("repository", repo.Name()).Str("ref", repo.Ref()).Str("dir", dir).Msg("cloned repository")
	return dir, nil
}

func authURL(url, token string) string {
	if token != "" && strings.HasPrefix(url, "https://") {
		return "https://" + token + ":x-oauth-basic@" + strings.TrimPrefix(url, "https://")
	}
	return url
}

func redact(s, token string) string {
	if token == "" {
		return s
	}
	return strings.ReplaceAll(s, token, "***")
}
