// Package plain manages unindexed local file trees. Plain repos carry
// no metadata and no upstream; they exist for tagging and file
// management alongside the indexed types.
package plain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/ralt/repomirror/internal/backend"
	"github.com/ralt/repomirror/internal/config"
	"github.com/ralt/repomirror/internal/models"
	"github.com/ralt/repomirror/internal/paths"
	"github.com/ralt/repomirror/internal/scanner"
	"github.com/ralt/repomirror/internal/tagger"
	"github.com/ralt/repomirror/internal/utils"
	"github.com/sirupsen/logrus"
)

func init() {
	backend.Register(config.TypePlain, New)
}

// Backend implements the backend.Backend interface for plain trees
type Backend struct {
	name string
	repo *config.Repo
	cfg  *config.Config
	opts backend.Options
}

// New creates a Plain backend for one repo
func New(env backend.Env) backend.Backend {
	return &Backend{
		name: env.Name,
		repo: env.Repo,
		cfg:  env.Config,
		opts: env.Options,
	}
}

// Type implements the Backend interface
func (b *Backend) Type() string { return config.TypePlain }

// MakeDir implements the Backend interface
func (b *Backend) MakeDir(path string) error {
	return utils.EnsureDir(path)
}

func (b *Backend) archDir(arch string) string {
	return filepath.Join(paths.HeadDir(b.cfg, b.repo), arch)
}

func (b *Backend) requireArch(arch string) error {
	if !b.repo.HasArch(arch) {
		return &models.Error{Type: models.ErrArchNotConfigured, Repo: b.name,
			Err: fmt.Errorf("arch %s is not configured", arch)}
	}
	return nil
}

// Mirror implements the Backend interface. A bare file tree exposes no
// index to plan a mirror from, so plain repos are local-only.
func (b *Backend) Mirror(ctx context.Context, arch string) error {
	return &models.Error{Type: models.ErrOperationNotValid, Repo: b.name,
		Err: fmt.Errorf("Plain repos cannot be mirrored")}
}

// Clean implements the Backend interface. With no metadata, nothing is
// unreferenced.
func (b *Backend) Clean(ctx context.Context, arch string) error {
	logrus.Infof("%s: nothing to clean in a plain tree", b.name)
	return nil
}

// Init implements the Backend interface
func (b *Backend) Init(ctx context.Context, arch string) error {
	arches := b.repo.Arch
	if arch != "" {
		if err := b.requireArch(arch); err != nil {
			return err
		}
		arches = config.StringList{arch}
	}
	for _, a := range arches {
		if err := b.MakeDir(b.archDir(a)); err != nil {
			return &models.Error{Type: models.ErrFileOp, Repo: b.name, Err: err}
		}
	}
	return nil
}

// AddFile implements the Backend interface
func (b *Backend) AddFile(ctx context.Context, arch string, files []string) error {
	if err := b.requireArch(arch); err != nil {
		return err
	}
	dir := b.archDir(arch)
	for _, f := range files {
		dst := filepath.Join(dir, filepath.Base(f))
		if _, err := os.Stat(dst); err == nil && !b.opts.Force {
			return &models.Error{Type: models.ErrFileOp, Repo: b.name,
				Err: fmt.Errorf("%s already exists, use force to overwrite", dst)}
		}
		if err := utils.CopyFile(f, dst); err != nil {
			return &models.Error{Type: models.ErrFileOp, Repo: b.name, Err: err}
		}
		logrus.Infof("%s: added %s to %s", b.name, filepath.Base(f), arch)
	}
	return nil
}

// DelFile implements the Backend interface
func (b *Backend) DelFile(ctx context.Context, arch string, files []string) error {
	if err := b.requireArch(arch); err != nil {
		return err
	}
	dir := b.archDir(arch)
	for _, f := range files {
		if err := os.Remove(filepath.Join(dir, filepath.Base(f))); err != nil {
			return &models.Error{Type: models.ErrFileOp, Repo: b.name, Err: err}
		}
		logrus.Infof("%s: removed %s from %s", b.name, filepath.Base(f), arch)
	}
	return nil
}

// Tag implements the Backend interface
func (b *Backend) Tag(srcDir, srcTag, destDir, destTag string, symlink bool, hardTag *regexp.Regexp) error {
	return tagger.Create(b.name, srcDir, destDir, destTag, symlink, hardTag, b.opts.Force)
}

// Diff implements the Backend interface: the symmetric difference of
// relative paths present in each tree.
func (b *Backend) Diff(arch, srcDir, srcTag, destDir, destTag string) (models.DiffResult, error) {
	res := models.DiffResult{SrcTag: srcTag, DestTag: destTag}
	if err := b.requireArch(arch); err != nil {
		return res, err
	}

	srcFiles, err := scanner.RelativeFiles(filepath.Join(srcDir, arch))
	if err != nil {
		return res, &models.Error{Type: models.ErrFileOp, Repo: b.name, Err: err}
	}
	destFiles, err := scanner.RelativeFiles(filepath.Join(destDir, arch))
	if err != nil {
		return res, &models.Error{Type: models.ErrFileOp, Repo: b.name, Err: err}
	}

	counts := map[string]int{}
	for _, f := range destFiles {
		counts[f]++
	}
	for _, f := range srcFiles {
		counts[f]--
	}
	for f, n := range counts {
		switch {
		case n < 0:
			res.SrcOnly = append(res.SrcOnly, f)
		case n > 0:
			res.DestOnly = append(res.DestOnly, f)
		}
	}
	sort.Strings(res.SrcOnly)
	sort.Strings(res.DestOnly)
	return res, nil
}
