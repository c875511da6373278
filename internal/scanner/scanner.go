// Package scanner walks repository trees collecting package files and
// their types.
package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// PackageType represents the type of package
type PackageType int

const (
	TypeUnknown PackageType = iota
	TypeRpm
	TypeDeb
)

// String returns the string representation of PackageType
func (pt PackageType) String() string {
	switch pt {
	case TypeRpm:
		return "rpm"
	case TypeDeb:
		return "deb"
	default:
		return "unknown"
	}
}

// ScannedPackage represents a package file found during scanning
type ScannedPackage struct {
	Path string
	Type PackageType
	Size int64
}

// Scan recursively scans a directory for package files
func Scan(ctx context.Context, dir string) ([]ScannedPackage, error) {
	var packages []ScannedPackage

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if info.IsDir() || !info.Mode().IsRegular() {
			return nil
		}

		pkgType, err := DetectPackageType(path)
		if err != nil {
			logrus.Warnf("Failed to detect type for %s: %v", path, err)
			return nil
		}
		if pkgType == TypeUnknown {
			return nil
		}

		logrus.Debugf("Found %s package: %s", pkgType, path)
		packages = append(packages, ScannedPackage{
			Path: path,
			Type: pkgType,
			Size: info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan directory: %w", err)
	}

	sort.Slice(packages, func(i, j int) bool { return packages[i].Path < packages[j].Path })
	return packages, nil
}

// RelativeFiles returns the slash-separated relative paths of every
// regular file under dir, sorted. Symlinks are not followed.
func RelativeFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// HasSuffixFold reports whether s ends with suffix, ignoring case
func HasSuffixFold(s, suffix string) bool {
	return strings.HasSuffix(strings.ToLower(s), strings.ToLower(suffix))
}
