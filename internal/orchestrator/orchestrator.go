// Package orchestrator dispatches actions onto backends, expands repo
// selectors and scopes the per-repo lock around each mutation.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"

	"github.com/ralt/repomirror/internal/backend"
	"github.com/ralt/repomirror/internal/config"
	"github.com/ralt/repomirror/internal/lockfile"
	"github.com/ralt/repomirror/internal/models"
	"github.com/ralt/repomirror/internal/paths"
	"github.com/ralt/repomirror/internal/tagger"
	"github.com/sirupsen/logrus"

	// register the backends
	_ "github.com/ralt/repomirror/internal/backend/apt"
	_ "github.com/ralt/repomirror/internal/backend/plain"
	_ "github.com/ralt/repomirror/internal/backend/yum"
)

// AllRepos is the selector expanding to every configured repo
const AllRepos = "all"

// Runner executes actions against a validated catalog
type Runner struct {
	cfg   *config.Config
	locks *lockfile.Manager
	opts  backend.Options
}

// New creates a runner
func New(cfg *config.Config, locks *lockfile.Manager, opts backend.Options) *Runner {
	return &Runner{cfg: cfg, locks: locks, opts: opts}
}

// expand resolves a repo selector into repo names: "all" iterates
// every configured repo in sorted order, the regex mode matches
// configured names, otherwise the selector must name one repo.
func (r *Runner) expand(selector string, regex bool) ([]string, error) {
	if selector == AllRepos {
		return r.cfg.RepoNames, nil
	}
	if regex {
		re, err := regexp.Compile(selector)
		if err != nil {
			return nil, &models.Error{Type: models.ErrConfig, Err: fmt.Errorf("repo regex: %w", err)}
		}
		var names []string
		for _, name := range r.cfg.RepoNames {
			if re.MatchString(name) {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		return names, nil
	}
	if _, ok := r.cfg.Repo[selector]; !ok {
		return nil, &models.Error{Type: models.ErrConfig,
			Err: fmt.Errorf("unknown repo %q", selector)}
	}
	return []string{selector}, nil
}

// withRepoLock runs fn on a backend for one repo while holding that
// repo's lock. The head directory is created first so a fresh repo can
// be bootstrapped; the lock is released on every exit path.
func (r *Runner) withRepoLock(name string, fn func(b backend.Backend) error) error {
	repo := r.cfg.Repo[name]
	head := paths.HeadDir(r.cfg, repo)
	if err := os.MkdirAll(head, 0755); err != nil {
		return &models.Error{Type: models.ErrFileOp, Repo: name, Err: err}
	}

	lock, err := r.locks.Acquire(head, name)
	if err != nil {
		return err
	}
	defer lock.Release()

	b, err := backend.New(backend.Env{Name: name, Repo: repo, Config: r.cfg, Options: r.opts})
	if err != nil {
		return err
	}
	return fn(b)
}

// fanOut runs fn per repo, locking each individually. Unless
// ignore-errors is set the first failure aborts the fan-out.
func (r *Runner) fanOut(selector string, regex bool, fn func(b backend.Backend) error) error {
	names, err := r.expand(selector, regex)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		logrus.Warnf("no repos match %q", selector)
		return nil
	}
	for _, name := range names {
		if err := r.withRepoLock(name, fn); err != nil {
			if r.opts.IgnoreErrors {
				logrus.Errorf("%v", err)
				continue
			}
			return err
		}
	}
	return nil
}

// Mirror updates the head tag of the selected repos
func (r *Runner) Mirror(ctx context.Context, selector, arch string, regex bool) error {
	return r.fanOut(selector, regex, func(b backend.Backend) error {
		return b.Mirror(ctx, arch)
	})
}

// Clean removes unreferenced files from the selected repos
func (r *Runner) Clean(ctx context.Context, selector, arch string, regex bool) error {
	return r.fanOut(selector, regex, func(b backend.Backend) error {
		return b.Clean(ctx, arch)
	})
}

// Init generates fresh metadata for a local repo
func (r *Runner) Init(ctx context.Context, name, arch string) error {
	names, err := r.expand(name, false)
	if err != nil {
		return err
	}
	return r.withRepoLock(names[0], func(b backend.Backend) error {
		return b.Init(ctx, arch)
	})
}

// AddFile copies files into a local repo's arch and reindexes it
func (r *Runner) AddFile(ctx context.Context, name, arch string, files []string) error {
	names, err := r.expand(name, false)
	if err != nil {
		return err
	}
	return r.withRepoLock(names[0], func(b backend.Backend) error {
		return b.AddFile(ctx, arch, files)
	})
}

// DelFile removes files from a local repo's arch and reindexes it
func (r *Runner) DelFile(ctx context.Context, name, arch string, files []string) error {
	names, err := r.expand(name, false)
	if err != nil {
		return err
	}
	return r.withRepoLock(names[0], func(b backend.Backend) error {
		return b.DelFile(ctx, arch, files)
	})
}

// Tag promotes srcTag into a new tag for one repo
func (r *Runner) Tag(name, tag, srcTag string, symlink bool) error {
	names, err := r.expand(name, false)
	if err != nil {
		return err
	}
	name = names[0]
	if !tagger.ValidName(tag) || !tagger.ValidName(srcTag) {
		return &models.Error{Type: models.ErrConfig, Repo: name,
			Err: fmt.Errorf("tag names must match ^[A-Za-z0-9_-]+$")}
	}
	if tag == config.HeadTag {
		return &models.Error{Type: models.ErrOperationNotValid, Repo: name,
			Err: fmt.Errorf("head is the writable tag and cannot be a tag target")}
	}

	repo := r.cfg.Repo[name]
	return r.withRepoLock(name, func(b backend.Backend) error {
		src := paths.Dir(r.cfg, repo, srcTag)
		dest := paths.Dir(r.cfg, repo, tag)
		return b.Tag(src, srcTag, dest, tag, symlink, r.cfg.HardTagPattern(repo))
	})
}

// Diff writes the symmetric difference between two tags of a repo.
// Read-only, so no lock is taken.
func (r *Runner) Diff(w io.Writer, name, tag, arch, srcTag, format string) error {
	names, err := r.expand(name, false)
	if err != nil {
		return err
	}
	name = names[0]
	if !tagger.ValidName(tag) || !tagger.ValidName(srcTag) {
		return &models.Error{Type: models.ErrConfig, Repo: name,
			Err: fmt.Errorf("tag names must match ^[A-Za-z0-9_-]+$")}
	}
	repo := r.cfg.Repo[name]

	b, err := backend.New(backend.Env{Name: name, Repo: repo, Config: r.cfg, Options: r.opts})
	if err != nil {
		return err
	}
	res, err := b.Diff(arch, paths.Dir(r.cfg, repo, srcTag), srcTag, paths.Dir(r.cfg, repo, tag), tag)
	if err != nil {
		return err
	}
	return tagger.RenderDiff(w, res, format)
}
