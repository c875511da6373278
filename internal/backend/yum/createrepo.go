package yum

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ralt/repomirror/internal/models"
	"github.com/ralt/repomirror/internal/scanner"
	"github.com/ralt/repomirror/internal/utils"
	"github.com/sirupsen/logrus"
)

const createrepoBin = "createrepo"

// initArch regenerates the metadata of one arch directory. The
// external createrepo tool is the reference implementation; when it is
// not on PATH the metadata is built natively from the RPM headers.
func (b *Backend) initArch(ctx context.Context, arch string) error {
	dir := b.archDir(arch)
	if err := utils.EnsureDir(filepath.Join(dir, "Packages")); err != nil {
		return &models.Error{Type: models.ErrFileOp, Repo: b.name, Err: err}
	}

	bin, err := exec.LookPath(createrepoBin)
	if err != nil {
		logrus.Debugf("%s: createrepo not found, building metadata natively", b.name)
		return b.nativeCreateRepo(ctx, arch, dir)
	}

	args := []string{"--basedir", dir, "--outputdir", dir}
	repomd := filepath.Join(dir, "repodata", "repomd.xml")
	if _, err := os.Stat(repomd); err == nil && !b.opts.Force {
		// reuse valid digests from the previous run
		args = append(args, "--update")
	}
	args = append(args, dir)

	logrus.Debugf("%s: running %s %s", b.name, bin, strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, bin, args...)
	out, err := cmd.CombinedOutput()
	if len(out) > 0 {
		logrus.Debugf("%s: createrepo: %s", b.name, strings.TrimSpace(string(out)))
	}
	if err != nil {
		return &models.Error{Type: models.ErrSubprocess, Repo: b.name,
			Err: fmt.Errorf("createrepo %s: %w", arch, err)}
	}
	logrus.Infof("%s: metadata for %s regenerated", b.name, arch)
	return nil
}

// nativeCreateRepo scans the arch tree for RPMs, reads their headers
// and writes primary.xml.gz plus repomd.xml.
func (b *Backend) nativeCreateRepo(ctx context.Context, arch, dir string) error {
	scanned, err := scanner.Scan(ctx, dir)
	if err != nil {
		return &models.Error{Type: models.ErrFileOp, Repo: b.name, Err: err}
	}

	var pkgs []primaryPackage
	for _, s := range scanned {
		if s.Type != scanner.TypeRpm {
			continue
		}
		rel, err := filepath.Rel(dir, s.Path)
		if err != nil {
			return &models.Error{Type: models.ErrFileOp, Repo: b.name, Err: err}
		}
		pkg, err := readRPMHeader(s.Path, filepath.ToSlash(rel))
		if err != nil {
			logrus.Warnf("%s: skipping %s: %v", b.name, rel, err)
			continue
		}
		pkgs = append(pkgs, pkg)
	}

	primaryXML, err := marshalPrimary(pkgs)
	if err != nil {
		return &models.Error{Type: models.ErrFileOp, Repo: b.name, Err: err}
	}
	primaryGz, err := utils.GzipCompress(primaryXML)
	if err != nil {
		return &models.Error{Type: models.ErrFileOp, Repo: b.name, Err: err}
	}

	sum := utils.DigestBytes(primaryGz, "sha256")
	openSum := utils.DigestBytes(primaryXML, "sha256")
	now := time.Now().Unix()

	href := fmt.Sprintf("repodata/%s-primary.xml.gz", sum)
	if err := utils.WriteFile(filepath.Join(dir, filepath.FromSlash(href)), primaryGz, 0644); err != nil {
		return &models.Error{Type: models.ErrFileOp, Repo: b.name, Err: err}
	}

	md := RepoMD{
		Xmlns:    RepoNamespace,
		Revision: fmt.Sprintf("%d", now),
		Data: []RepoData{{
			Type:         "primary",
			Checksum:     Checksum{Type: "sha256", Value: sum},
			OpenChecksum: &Checksum{Type: "sha256", Value: openSum},
			Location:     Location{Href: href},
			Timestamp:    now,
			Size:         int64(len(primaryGz)),
			OpenSize:     int64(len(primaryXML)),
		}},
	}
	out, err := MarshalRepoMD(md)
	if err != nil {
		return &models.Error{Type: models.ErrFileOp, Repo: b.name, Err: err}
	}
	if err := utils.WriteFile(filepath.Join(dir, "repodata", "repomd.xml"), out, 0644); err != nil {
		return &models.Error{Type: models.ErrFileOp, Repo: b.name, Err: err}
	}

	// drop primary files from earlier runs
	old, _ := filepath.Glob(filepath.Join(dir, "repodata", "*-primary.xml.gz"))
	for _, f := range old {
		if filepath.Base(f) != filepath.Base(href) {
			_ = os.Remove(f)
		}
	}

	logrus.Infof("%s: metadata for %s rebuilt (%d packages)", b.name, arch, len(pkgs))
	return nil
}
