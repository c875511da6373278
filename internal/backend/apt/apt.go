// Package apt mirrors flat Debian-style repositories: a Packages index
// per architecture names every .deb with its size and digests.
package apt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ralt/repomirror/internal/backend"
	"github.com/ralt/repomirror/internal/config"
	"github.com/ralt/repomirror/internal/fetch"
	"github.com/ralt/repomirror/internal/models"
	"github.com/ralt/repomirror/internal/paths"
	"github.com/ralt/repomirror/internal/scanner"
	"github.com/ralt/repomirror/internal/tagger"
	"github.com/ralt/repomirror/internal/utils"
	"github.com/sirupsen/logrus"
)

func init() {
	backend.Register(config.TypeApt, New)
}

// Backend implements the backend.Backend interface for Apt repos
type Backend struct {
	name string
	repo *config.Repo
	cfg  *config.Config
	opts backend.Options

	okURL string
}

// New creates an Apt backend for one repo
func New(env backend.Env) backend.Backend {
	return &Backend{
		name: env.Name,
		repo: env.Repo,
		cfg:  env.Config,
		opts: env.Options,
	}
}

// Type implements the Backend interface
func (b *Backend) Type() string { return config.TypeApt }

// MakeDir implements the Backend interface
func (b *Backend) MakeDir(path string) error {
	return utils.EnsureDir(path)
}

func (b *Backend) archDir(arch string) string {
	return filepath.Join(paths.HeadDir(b.cfg, b.repo), arch)
}

func (b *Backend) arches(arch string) ([]string, error) {
	if arch == "" {
		return b.repo.Arch, nil
	}
	if !b.repo.HasArch(arch) {
		return nil, &models.Error{Type: models.ErrArchNotConfigured, Repo: b.name,
			Err: fmt.Errorf("arch %s is not configured", arch)}
	}
	return []string{arch}, nil
}

// Mirror implements the Backend interface
func (b *Backend) Mirror(ctx context.Context, arch string) error {
	if !b.repo.Mirrored() {
		return &models.Error{Type: models.ErrOperationNotValid, Repo: b.name,
			Err: fmt.Errorf("repo has no url to mirror from")}
	}
	client, err := fetch.NewClient(b.name, b.repo)
	if err != nil {
		return err
	}
	arches, err := b.arches(arch)
	if err != nil {
		return err
	}

	for _, a := range arches {
		logrus.Infof("%s: mirroring %s", b.name, a)
		pkgs, err := b.getMetadata(ctx, client, a)
		if err != nil {
			if b.opts.IgnoreErrors {
				logrus.Debugf("%s: skipping %s: %v", b.name, a, err)
				continue
			}
			return err
		}
		if err := b.getPackages(ctx, client, a, pkgs); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) getMetadata(ctx context.Context, client *fetch.Client, arch string) ([]models.Package, error) {
	candidates := b.repo.URL
	if b.okURL != "" {
		candidates = config.StringList{b.okURL}
	}

	var lastErr error
	for _, base := range candidates {
		pkgs, err := b.fetchMetadataFrom(ctx, client, base, arch)
		if err != nil {
			lastErr = err
			logrus.Warnf("%s: metadata from %s failed: %v", b.name, base, err)
			continue
		}
		b.okURL = base
		return pkgs, nil
	}
	return nil, &models.Error{Type: models.ErrFetch, Repo: b.name,
		Err: fmt.Errorf("no upstream served metadata for %s: %w", arch, lastErr)}
}

func (b *Backend) fetchMetadataFrom(ctx context.Context, client *fetch.Client, base, arch string) ([]models.Package, error) {
	archURL := fetch.ExpandArch(base, arch)
	dir := b.archDir(arch)
	if err := b.MakeDir(dir); err != nil {
		return nil, err
	}

	// Release is informational for a flat repo; its absence is not an
	// error.
	if _, err := client.DownloadBinaryFile(ctx, fetch.JoinURL(archURL, "Release"), filepath.Join(dir, "Release")); err != nil {
		logrus.Debugf("%s: no Release file at %s: %v", b.name, archURL, err)
	}

	// The Packages index is the root of trust and always re-fetched.
	index := filepath.Join(dir, "Packages.gz")
	if _, err := client.DownloadBinaryFile(ctx, fetch.JoinURL(archURL, "Packages.gz"), index); err != nil {
		index = filepath.Join(dir, "Packages")
		if _, err := client.DownloadBinaryFile(ctx, fetch.JoinURL(archURL, "Packages"), index); err != nil {
			return nil, err
		}
	}

	data, err := utils.ReadCompressed(index)
	if err != nil {
		return nil, err
	}
	pkgs, err := ParsePackagesIndex(data)
	if err != nil {
		return nil, err
	}
	for i := range pkgs {
		pkgs[i].Validate = b.validateCheckFor(&pkgs[i])
	}
	return pkgs, nil
}

func (b *Backend) validateCheckFor(p *models.Package) models.Check {
	if !b.opts.Checksums && p.Size > 0 {
		return models.Check{Type: utils.CheckSize, Value: strconv.FormatInt(p.Size, 10)}
	}
	return p.Checksum
}

func (b *Backend) getPackages(ctx context.Context, client *fetch.Client, arch string, pkgs []models.Package) error {
	dir := b.archDir(arch)
	base := fetch.ExpandArch(b.okURL, arch)
	count := 0

	for i := range pkgs {
		p := &pkgs[i]
		if !b.filterKeep(p) {
			logrus.Debugf("%s: filtered out %s", b.name, p.Name)
			continue
		}
		if !filepath.IsLocal(filepath.FromSlash(p.Location)) {
			return &models.Error{Type: models.ErrValidation, Repo: b.name,
				Err: fmt.Errorf("package location %q escapes the repo", p.Location)}
		}
		local := filepath.Join(dir, filepath.FromSlash(p.Location))
		if !b.opts.Force && utils.ValidateFile(local, p.Validate.Type, p.Validate.Value) {
			continue
		}
		if err := b.MakeDir(filepath.Dir(local)); err != nil {
			return err
		}
		if _, err := client.DownloadBinaryFile(ctx, fetch.JoinURL(base, p.Location), local); err != nil {
			if b.opts.IgnoreErrors {
				logrus.Debugf("%s: %v", b.name, err)
				continue
			}
			return err
		}
		if !utils.ValidateFile(local, p.Validate.Type, p.Validate.Value) {
			err := &models.Error{Type: models.ErrValidation, Repo: b.name,
				Err: fmt.Errorf("%s failed %s check after download", p.Location, p.Validate.Type)}
			if b.opts.IgnoreErrors {
				logrus.Debugf("%s: %v", b.name, err)
				continue
			}
			return err
		}
		count++
	}
	logrus.Infof("%s: %s up to date, %d packages downloaded", b.name, arch, count)
	return nil
}

func (b *Backend) filterKeep(p *models.Package) bool {
	kind, re := b.repo.Filter()
	if re == nil {
		return true
	}
	switch kind {
	case "include_filename":
		return re.MatchString(filepath.Base(p.Location))
	case "exclude_filename":
		return !re.MatchString(filepath.Base(p.Location))
	case "include_package":
		return re.MatchString(p.Name)
	case "exclude_package":
		return !re.MatchString(p.Name)
	}
	return true
}

// Clean implements the Backend interface
func (b *Backend) Clean(ctx context.Context, arch string) error {
	arches, err := b.arches(arch)
	if err != nil {
		return err
	}
	for _, a := range arches {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := b.cleanArch(a); err != nil {
			if b.opts.IgnoreErrors {
				logrus.Debugf("%s: clean %s: %v", b.name, a, err)
				continue
			}
			return err
		}
	}
	return nil
}

func (b *Backend) cleanArch(arch string) error {
	dir := b.archDir(arch)
	pkgs, err := readIndex(dir)
	if err != nil {
		return &models.Error{Type: models.ErrFileOp, Repo: b.name,
			Err: fmt.Errorf("read metadata for %s: %w", arch, err)}
	}

	referenced := map[string]bool{
		"Release":     true,
		"Packages":    true,
		"Packages.gz": true,
	}
	for _, p := range pkgs {
		referenced[p.Location] = true
	}

	files, err := scanner.RelativeFiles(dir)
	if err != nil {
		return &models.Error{Type: models.ErrFileOp, Repo: b.name, Err: err}
	}
	removed := 0
	for _, f := range files {
		if referenced[f] || strings.HasSuffix(f, ".lock") {
			continue
		}
		if err := os.Remove(filepath.Join(dir, filepath.FromSlash(f))); err != nil {
			return &models.Error{Type: models.ErrFileOp, Repo: b.name, Err: err}
		}
		logrus.Infof("%s: removed %s/%s", b.name, arch, f)
		removed++
	}
	logrus.Infof("%s: clean %s removed %d files", b.name, arch, removed)
	return nil
}

// readIndex parses the on-disk Packages index without network I/O
func readIndex(dir string) ([]models.Package, error) {
	for _, name := range []string{"Packages.gz", "Packages"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		data, err := utils.ReadCompressed(path)
		if err != nil {
			return nil, err
		}
		return ParsePackagesIndex(data)
	}
	return nil, fmt.Errorf("no Packages index in %s", dir)
}

// Init implements the Backend interface
func (b *Backend) Init(ctx context.Context, arch string) error {
	return b.notSupported("init")
}

// AddFile implements the Backend interface
func (b *Backend) AddFile(ctx context.Context, arch string, files []string) error {
	return b.notSupported("add-file")
}

// DelFile implements the Backend interface
func (b *Backend) DelFile(ctx context.Context, arch string, files []string) error {
	return b.notSupported("del-file")
}

func (b *Backend) notSupported(action string) error {
	return &models.Error{Type: models.ErrOperationNotValid, Repo: b.name,
		Err: fmt.Errorf("%s is not supported for Apt repos", action)}
}

// Tag implements the Backend interface
func (b *Backend) Tag(srcDir, srcTag, destDir, destTag string, symlink bool, hardTag *regexp.Regexp) error {
	return tagger.Create(b.name, srcDir, destDir, destTag, symlink, hardTag, b.opts.Force)
}

// Diff implements the Backend interface
func (b *Backend) Diff(arch, srcDir, srcTag, destDir, destTag string) (models.DiffResult, error) {
	res := models.DiffResult{SrcTag: srcTag, DestTag: destTag}
	if !b.repo.HasArch(arch) {
		return res, &models.Error{Type: models.ErrArchNotConfigured, Repo: b.name,
			Err: fmt.Errorf("arch %s is not configured", arch)}
	}

	srcPkgs, err := readIndex(filepath.Join(srcDir, arch))
	if err != nil {
		return res, &models.Error{Type: models.ErrFileOp, Repo: b.name, Err: err}
	}
	destPkgs, err := readIndex(filepath.Join(destDir, arch))
	if err != nil {
		return res, &models.Error{Type: models.ErrFileOp, Repo: b.name, Err: err}
	}

	counts := map[string]int{}
	for _, p := range destPkgs {
		if base := debBase(p.Location); base != "" {
			counts[base]++
		}
	}
	for _, p := range srcPkgs {
		if base := debBase(p.Location); base != "" {
			counts[base]--
		}
	}
	for base, n := range counts {
		switch {
		case n < 0:
			res.SrcOnly = append(res.SrcOnly, base)
		case n > 0:
			res.DestOnly = append(res.DestOnly, base)
		}
	}
	sort.Strings(res.SrcOnly)
	sort.Strings(res.DestOnly)
	return res, nil
}

func debBase(location string) string {
	base := filepath.Base(filepath.FromSlash(location))
	if !strings.HasSuffix(base, ".deb") {
		return ""
	}
	return base
}
