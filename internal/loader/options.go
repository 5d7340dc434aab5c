package loader

import (
	"path/filepath"
	"strings"
	"time"
)

// FilterMode decides whether a Filter's values are kept or dropped.
type FilterMode string

const (
	Exclude FilterMode = "exclude"
	Include FilterMode = "include"
)

// Filter matches directories or file extensions.
type Filter struct {
	Values []string   `yaml:"values"`
	Mode   FilterMode `yaml:"mode"`
}

var (
	DefaultDirFilter = Filter{Mode: Exclude, Values: []string{
		".git", ".yarn", "node_modules",
		"vendor", ".terraform", "target", "build", "dist", "out", "bin", "obj",
		".venv", "venv", "__pycache__", ".pytest_cache", ".gradle", ".m2", ".idea",
		"coverage", ".cache",
	}}
	DefaultExtFilter = Filter{Mode: Exclude, Values: []string{
		".zip", ".png", ".jpg", ".jpeg", ".gif", ".pdf", ".webp", ".svg",
		".exe", ".dll", ".so", ".lock", ".sum",
	}}
)

// RepoOptions identifies a GitHub repository snapshot and what to read from it.
type RepoOptions struct {
	Owner     string
	Repo      string
	Branch    string
	CommitSHA string
	Token     string
	Dirs      Filter
	Exts      Filter
}

// NewRepoOptions returns options for owner/repo on main with the default filters.
func NewRepoOptions(owner, repo string) RepoOptions {
	return RepoOptions{
		Owner:  owner,
		Repo:   repo,
		Branch: "main",
		Dirs:   DefaultDirFilter,
		Exts:   DefaultExtFilter,
	}
}

// Name is the "owner/repo" form used as the repository key in the index.
func (o RepoOptions) Name() string {
	if o.Owner == "" {
		return o.Repo
	}
	return o.Owner + "/" + o.Repo
}

// Ref is the commit when pinned, otherwise the branch.
func (o RepoOptions) Ref() string {
	if o.CommitSHA != "" {
		return o.CommitSHA
	}
	return o.Branch
}

func (o RepoOptions) URL() string {
	return "https://github.com/" + o.Owner + "/" + o.Repo + ".git"
}

// allowsDir reports whether files under the slash separated relative
// directory rel should be read.
func (o RepoOptions) allowsDir(rel string) bool {
	if rel == "" || rel == "." {
		return true
	}
	parts := strings.Split(rel, "/")
	switch o.Dirs.Mode {
	case Include:
		if len(o.Dirs.Values) == 0 {
			return true
		}
		for _, v := range o.Dirs.Values {
			v = strings.Trim(v, "/")
			if rel == v || strings.HasPrefix(rel, v+"/") || strings.HasPrefix(v, rel+"/") {
				return true
			}
		}
		return false
	default:
		for _, v := range o.Dirs.Values {
			v = strings.Trim(v, "/")
			if rel == v || strings.HasPrefix(rel, v+"/") {
				return false
			}
			for _, p := range parts {
				if p == v {
					return false
				}
			}
		}
		return true
	}
}

// allowsFile checks the file's directory and extension.
func (o RepoOptions) allowsFile(rel string) bool {
	dir := filepath.ToSlash(filepath.Dir(rel))
	if o.Dirs.Mode == Include {
		if !o.insideIncluded(dir) {
			return false
		}
	} else if !o.allowsDir(dir) {
		return false
	}
	ext := strings.ToLower(filepath.Ext(rel))
	listed := false
	for _, v := range o.Exts.Values {
		if strings.EqualFold(v, ext) {
			listed = true
			break
		}
	}
	if o.Exts.Mode == Include && len(o.Exts.Values) > 0 {
		return listed
	}
	return !listed
}

// insideIncluded is stricter than allowsDir: parents of an included
// directory are walked but their own files are not read.
func (o RepoOptions) insideIncluded(dir string) bool {
	if len(o.Dirs.Values) == 0 {
		return true
	}
	for _, v := range o.Dirs.Values {
		v = strings.Trim(v, "/")
		if dir == v || strings.HasPrefix(dir, v+"/") {
			return true
		}
	}
	return false
}

// CacheOptions controls the on-disk document cache.
type CacheOptions struct {
	Dir         string
	ForceUpdate bool
	MaxAge      time.Duration
}

func DefaultCacheOptions() CacheOptions {
	return CacheOptions{Dir: "~/.repochat", MaxAge: 60 * time.Second}
}
