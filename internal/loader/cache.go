package loader

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type cacheFile struct {
	Repository string     `yaml:"repository"`
	Ref        string     `yaml:"ref"`
	LoadedAt   time.Time  `yaml:"loadedAt"`
	Documents  []Document `yaml:"documents"`
}

// CacheName is "<owner>-<repo>-<commit or branch>", suffixed with a short
// hash of the filters when they differ from the defaults.
func CacheName(repo RepoOptions) string {
	name := repo.Owner + "-" + repo.Repo + "-" + repo.Ref()
	if key := filterKey(repo); key != "" {
		name += "-" + key
	}
	return strings.ReplaceAll(name, "/", "_")
}

func filterKey(repo RepoOptions) string {
	if sameFilter(repo.Dirs, DefaultDirFilter) && sameFilter(repo.Exts, DefaultExtFilter) {
		return ""
	}
	h := sha1.New()
	for _, f := range []Filter{repo.Dirs, repo.Exts} {
		fmt.Fprintf(h, "%s:%s;", f.Mode, strings.Join(f.Values, ","))
	}
	return hex.EncodeToString(h.Sum(nil))[:8]
}

func sameFilter(a, b Filter) bool {
	return a.Mode == b.Mode && slices.Equal(a.Values, b.Values)
}

func cachePath(repo RepoOptions, cache CacheOptions) (string, error) {
	dir, err := expandHome(cache.Dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, CacheName(repo)+".docs.yaml"), nil
}

func expandHome(p string) (string, error) {
	if p == "" {
		p = DefaultCacheOptions().Dir
	}
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve cache dir: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}

// usable reports whether a cache entry written at mtime may be served.
// A MaxAge of zero or less never expires.
func usable(mtime, now time.Time, cache CacheOptions) bool {
	if cache.ForceUpdate {
		return false
	}
	if cache.MaxAge <= 0 {
		return true
	}
	return now.Sub(mtime) < cache.MaxAge
}

func (l *Loader) readCache(path string, cache CacheOptions) ([]Document, bool) {
	fi, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", path).Msg("failed to stat document cache")
		}
		return nil, false
	}
	if !usable(fi.ModTime(), l.Now(), cache) {
		return nil, false
	}

	b, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("failed to read document cache")
		return nil, false
	}
	var cf cacheFile
	if err := yaml.Unmarshal(b, &cf); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("ignoring corrupt document cache")
		return nil, false
	}
	return cf.Documents, true
}

func writeCache(path string, repo RepoOptions, docs []Document, now time.Time) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(cacheFile{
		Repository: repo.Name(),
		Ref:        repo.Ref(),
		LoadedAt:   now.UTC(),
		Documents:  docs,
	})
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
