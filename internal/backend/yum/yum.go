// Package yum mirrors Yum/RPM repositories: repomd.xml is fetched as
// the root of trust, child metadata and packages are validated by size
// or digest and downloaded on drift.
package yum

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
	backend.Register(config.TypeYum, New)
}

// Backend implements the backend.Backend interface for Yum repos
type Backend struct {
	name string
	repo *config.Repo
	cfg  *config.Config
	opts backend.Options

	// okURL pins the first upstream that served metadata without
	// error; all later downloads in the run use only it.
	okURL string
}

// New creates a Yum backend for one repo
func New(env backend.Env) backend.Backend {
	return &Backend{
		name: env.Name,
		repo: env.Repo,
		cfg:  env.Config,
		opts: env.Options,
	}
}

// Type implements the Backend interface
func (b *Backend) Type() string { return config.TypeYum }

// MakeDir implements the Backend interface
func (b *Backend) MakeDir(path string) error {
	return utils.EnsureDir(path)
}

func (b *Backend) headDir() string {
	return paths.HeadDir(b.cfg, b.repo)
}

func (b *Backend) archDir(arch string) string {
	return filepath.Join(b.headDir(), arch)
}

// arches resolves the arch argument: empty means every configured
// architecture, anything else must be configured.
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

// getMetadata refreshes the metadata for one arch, trying upstream
// URLs in failover order until one completes, and returns the parsed
// package records.
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
	if err := b.MakeDir(filepath.Join(dir, "repodata")); err != nil {
		return nil, err
	}

	// repomd.xml decides what else to fetch, so it is always
	// re-downloaded and never short-circuited by local state.
	repomdPath := filepath.Join(dir, "repodata", "repomd.xml")
	if _, err := client.DownloadBinaryFile(ctx, fetch.JoinURL(archURL, "repodata/repomd.xml"), repomdPath); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(repomdPath)
	if err != nil {
		return nil, err
	}
	md, err := ParseRepoMD(raw)
	if err != nil {
		return nil, fmt.Errorf("parse repomd.xml: %w", err)
	}

	var primary *RepoData
	for i := range md.Data {
		d := &md.Data[i]
		check, err := d.ValidateCheck(b.opts.Checksums)
		if err != nil {
			return nil, err
		}
		if !filepath.IsLocal(filepath.FromSlash(d.Location.Href)) {
			return nil, fmt.Errorf("metadata href %q escapes the repo", d.Location.Href)
		}
		local := filepath.Join(dir, filepath.FromSlash(d.Location.Href))
		if b.opts.Force || !utils.ValidateFile(local, check.Type, check.Value) {
			if err := b.MakeDir(filepath.Dir(local)); err != nil {
				return nil, err
			}
			if _, err := client.DownloadBinaryFile(ctx, fetch.JoinURL(archURL, d.Location.Href), local); err != nil {
				return nil, err
			}
		}
		if d.Type == "primary" {
			primary = d
		}
	}
	if primary == nil {
		return nil, fmt.Errorf("repomd.xml lists no primary metadata")
	}

	return b.parsePrimaryFile(dir, primary)
}

func (b *Backend) parsePrimaryFile(dir string, primary *RepoData) ([]models.Package, error) {
	data, err := utils.ReadCompressed(filepath.Join(dir, filepath.FromSlash(primary.Location.Href)))
	if err != nil {
		return nil, err
	}
	pkgs, err := ParsePrimary(data)
	if err != nil {
		return nil, err
	}
	for i := range pkgs {
		pkgs[i].Validate = b.validateCheckFor(&pkgs[i])
	}
	return pkgs, nil
}

// validateCheckFor prefers the size record when the checksums flag is
// off: digests are orders of magnitude slower on large packages.
func (b *Backend) validateCheckFor(p *models.Package) models.Check {
	if !b.opts.Checksums && p.Size > 0 {
		return models.Check{Type: utils.CheckSize, Value: strconv.FormatInt(p.Size, 10)}
	}
	return p.Checksum
}

// getPackages plans and downloads the packages for one arch
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

// filterKeep applies the repo's single active filter option
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

// readMetadata parses what is on disk for an arch directory without
// any network I/O.
func readMetadata(dir string) (RepoMD, []models.Package, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "repodata", "repomd.xml"))
	if err != nil {
		return RepoMD{}, nil, err
	}
	md, err := ParseRepoMD(raw)
	if err != nil {
		return RepoMD{}, nil, err
	}
	for i := range md.Data {
		if md.Data[i].Type != "primary" {
			continue
		}
		data, err := utils.ReadCompressed(filepath.Join(dir, filepath.FromSlash(md.Data[i].Location.Href)))
		if err != nil {
			return RepoMD{}, nil, err
		}
		pkgs, err := ParsePrimary(data)
		if err != nil {
			return RepoMD{}, nil, err
		}
		return md, pkgs, nil
	}
	return md, nil, fmt.Errorf("repomd.xml lists no primary metadata")
}

// Clean implements the Backend interface: every regular file under the
// arch directory that current metadata does not reference is unlinked.
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
	md, pkgs, err := readMetadata(dir)
	if err != nil {
		return &models.Error{Type: models.ErrFileOp, Repo: b.name,
			Err: fmt.Errorf("read metadata for %s: %w", arch, err)}
	}

	referenced := map[string]bool{"repodata/repomd.xml": true}
	for _, d := range md.Data {
		referenced[d.Location.Href] = true
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

// Init implements the Backend interface
func (b *Backend) Init(ctx context.Context, arch string) error {
	if b.repo.Mirrored() {
		return &models.Error{Type: models.ErrOperationNotValid, Repo: b.name,
			Err: fmt.Errorf("init is only valid for repos without a url")}
	}
	arches, err := b.arches(arch)
	if err != nil {
		return err
	}
	for _, a := range arches {
		if err := b.initArch(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

// AddFile implements the Backend interface
func (b *Backend) AddFile(ctx context.Context, arch string, files []string) error {
	if err := b.requireLocalArch(arch); err != nil {
		return err
	}
	pkgDir := filepath.Join(b.archDir(arch), "Packages")
	for _, f := range files {
		dst := filepath.Join(pkgDir, filepath.Base(f))
		if _, err := os.Stat(dst); err == nil && !b.opts.Force {
			return &models.Error{Type: models.ErrFileOp, Repo: b.name,
				Err: fmt.Errorf("%s already exists, use force to overwrite", dst)}
		}
		if err := utils.CopyFile(f, dst); err != nil {
			return &models.Error{Type: models.ErrFileOp, Repo: b.name, Err: err}
		}
		logrus.Infof("%s: added %s to %s", b.name, filepath.Base(f), arch)
	}
	return b.initArch(ctx, arch)
}

// DelFile implements the Backend interface
func (b *Backend) DelFile(ctx context.Context, arch string, files []string) error {
	if err := b.requireLocalArch(arch); err != nil {
		return err
	}
	pkgDir := filepath.Join(b.archDir(arch), "Packages")
	for _, f := range files {
		path := filepath.Join(pkgDir, filepath.Base(f))
		if err := os.Remove(path); err != nil {
			return &models.Error{Type: models.ErrFileOp, Repo: b.name, Err: err}
		}
		logrus.Infof("%s: removed %s from %s", b.name, filepath.Base(f), arch)
	}
	return b.initArch(ctx, arch)
}

func (b *Backend) requireLocalArch(arch string) error {
	if b.repo.Mirrored() {
		return &models.Error{Type: models.ErrOperationNotValid, Repo: b.name,
			Err: fmt.Errorf("file management is only valid for repos without a url")}
	}
	if !b.repo.HasArch(arch) {
		return &models.Error{Type: models.ErrArchNotConfigured, Repo: b.name,
			Err: fmt.Errorf("arch %s is not configured", arch)}
	}
	return nil
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

	_, srcPkgs, err := readMetadata(filepath.Join(srcDir, arch))
	if err != nil {
		return res, &models.Error{Type: models.ErrFileOp, Repo: b.name, Err: err}
	}
	_, destPkgs, err := readMetadata(filepath.Join(destDir, arch))
	if err != nil {
		return res, &models.Error{Type: models.ErrFileOp, Repo: b.name, Err: err}
	}

	counts := map[string]int{}
	for _, p := range destPkgs {
		if base := rpmBase(p.Location); base != "" {
			counts[base]++
		}
	}
	for _, p := range srcPkgs {
		if base := rpmBase(p.Location); base != "" {
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

func rpmBase(location string) string {
	base := filepath.Base(filepath.FromSlash(location))
	if !strings.HasSuffix(base, ".rpm") {
		return ""
	}
	return base
}
