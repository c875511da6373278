// Package paths computes on-disk repository directories. It never
// creates anything.
package paths

import (
	"path/filepath"

	"github.com/ralt/repomirror/internal/config"
)

// Dir returns the directory of a repo's tag under the configured
// layout: topdir puts the tag above the repo's local path, bottomdir
// below it.
func Dir(cfg *config.Config, repo *config.Repo, tag string) string {
	if cfg.TagStyle == config.TagStyleBottomdir {
		return filepath.Join(cfg.DataDir, repo.Local, tag)
	}
	return filepath.Join(cfg.DataDir, tag, repo.Local)
}

// HeadDir returns the directory of the writable head tag
func HeadDir(cfg *config.Config, repo *config.Repo) string {
	return Dir(cfg, repo, config.HeadTag)
}
