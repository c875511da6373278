// Package tagger materializes named snapshots of a repository tree,
// either as a symbolic link (pointer semantics) or a hardlink tree
// (snapshot semantics).
package tagger

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/ralt/repomirror/internal/models"
	"github.com/sirupsen/logrus"
)

var tagNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidName reports whether a tag name is acceptable
func ValidName(tag string) bool {
	return tagNameRe.MatchString(tag)
}

// Create builds destDir from srcDir. A true symlink flag yields a
// symbolic link unless destTag matches hardTag, which forces a
// hardlink tree regardless. A non-empty existing dest requires force.
func Create(repo, srcDir, destDir, destTag string, symlink bool, hardTag *regexp.Regexp, force bool) error {
	st, err := os.Stat(srcDir)
	if err != nil || !st.IsDir() {
		return &models.Error{Type: models.ErrFileOp, Repo: repo,
			Err: fmt.Errorf("source %s does not exist", srcDir)}
	}

	if fi, err := os.Lstat(destDir); err == nil {
		empty := fi.Mode()&os.ModeSymlink == 0 && fi.IsDir() && isEmptyDir(destDir)
		if !empty && !force {
			return &models.Error{Type: models.ErrFileOp, Repo: repo,
				Err: fmt.Errorf("%s already exists, use force to overwrite", destDir)}
		}
		if err := os.RemoveAll(destDir); err != nil {
			return &models.Error{Type: models.ErrFileOp, Repo: repo, Err: err}
		}
	}

	if err := os.MkdirAll(filepath.Dir(destDir), 0755); err != nil {
		return &models.Error{Type: models.ErrFileOp, Repo: repo, Err: err}
	}

	if symlink && (hardTag == nil || !hardTag.MatchString(destTag)) {
		if err := os.Symlink(srcDir, destDir); err != nil {
			return &models.Error{Type: models.ErrFileOp, Repo: repo, Err: err}
		}
		logrus.Infof("%s: tagged %s -> %s (symlink)", repo, destDir, srcDir)
		return nil
	}

	if err := linkTree(srcDir, destDir); err != nil {
		return &models.Error{Type: models.ErrFileOp, Repo: repo, Err: err}
	}
	logrus.Infof("%s: tagged %s -> %s (hardlinks)", repo, destDir, srcDir)
	return nil
}

// linkTree replicates src at dest, hardlinking every regular file so
// both trees share inodes. Symlinks inside src are recreated as
// symlinks.
func linkTree(src, dest string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)

		switch {
		case d.IsDir():
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(target, info.Mode().Perm())
		case d.Type()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.Type().IsRegular():
			// lock files belong to the live head, not to snapshots
			if filepath.Ext(path) == ".lock" {
				return nil
			}
			return os.Link(path, target)
		default:
			logrus.Debugf("skipping special file %s", path)
			return nil
		}
	})
}

func isEmptyDir(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) == 0
}
