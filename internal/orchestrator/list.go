package orchestrator

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/ralt/repomirror/internal/config"
	"github.com/ralt/repomirror/internal/models"
	"github.com/ralt/repomirror/internal/paths"
	"github.com/ralt/repomirror/internal/tagger"
	"github.com/sirupsen/logrus"
)

type repoRow struct {
	Type     string `json:"type"`
	Mirrored bool   `json:"mirrored"`
	Name     string `json:"name"`
}

type tagRow struct {
	Tag  string   `json:"tag"`
	Soft []string `json:"soft tag"`
}

// List writes the repo catalog, or the tag listing of one repo when
// name is non-empty.
func (r *Runner) List(w io.Writer, name, format string) error {
	if name == "" {
		return r.listRepos(w, format)
	}
	if _, ok := r.cfg.Repo[name]; !ok {
		return &models.Error{Type: models.ErrConfig, Err: fmt.Errorf("unknown repo %q", name)}
	}
	return r.listTags(w, name, format)
}

func (r *Runner) listRepos(w io.Writer, format string) error {
	rows := make([]repoRow, 0, len(r.cfg.RepoNames))
	for _, name := range r.cfg.RepoNames {
		repo := r.cfg.Repo[name]
		rows = append(rows, repoRow{Type: repo.Type, Mirrored: repo.Mirrored(), Name: name})
	}

	switch format {
	case tagger.FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string][]repoRow{"repos": rows})
	case tagger.FormatCSV:
		cw := csv.NewWriter(w)
		for _, row := range rows {
			cw.Write([]string{row.Name, row.Type, strconv.FormatBool(row.Mirrored)})
		}
		cw.Flush()
		return cw.Error()
	case tagger.FormatDefault, "":
		for _, row := range rows {
			fmt.Fprintf(w, "%s|%s|%t\n", row.Name, row.Type, row.Mirrored)
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

// listTags enumerates a repo's tag directories. Symlinked tags are
// reported as soft tags of the tag they resolve to.
func (r *Runner) listTags(w io.Writer, name, format string) error {
	repo := r.cfg.Repo[name]
	found, err := r.tagDirs(repo)
	if err != nil {
		return &models.Error{Type: models.ErrFileOp, Repo: name, Err: err}
	}

	soft := map[string][]string{}
	var hard []string
	for tag, dir := range found {
		fi, err := os.Lstat(dir)
		if err != nil {
			continue
		}
		if fi.Mode()&os.ModeSymlink == 0 {
			hard = append(hard, tag)
			continue
		}
		target, err := filepath.EvalSymlinks(dir)
		if err != nil {
			logrus.Warnf("%s: dangling tag link %s", name, dir)
			continue
		}
		resolved := r.tagOf(repo, found, target)
		if resolved == "" {
			logrus.Warnf("%s: %s points outside the repo", name, dir)
			continue
		}
		soft[resolved] = append(soft[resolved], tag)
	}
	sort.Strings(hard)

	rows := make([]tagRow, 0, len(hard))
	for _, tag := range hard {
		names := soft[tag]
		sort.Strings(names)
		if names == nil {
			names = []string{}
		}
		rows = append(rows, tagRow{Tag: tag, Soft: names})
	}

	switch format {
	case tagger.FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Repo string   `json:"repo"`
			Tags []tagRow `json:"tags"`
		}{Repo: name, Tags: rows})
	case tagger.FormatCSV:
		cw := csv.NewWriter(w)
		for _, row := range rows {
			record := append([]string{row.Tag}, row.Soft...)
			cw.Write(record)
		}
		cw.Flush()
		return cw.Error()
	case tagger.FormatDefault, "":
		for _, row := range rows {
			fmt.Fprintf(w, "%s", row.Tag)
			for _, s := range row.Soft {
				fmt.Fprintf(w, "|%s", s)
			}
			fmt.Fprintln(w)
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

// tagDirs maps tag name to tag directory for every tag of a repo
func (r *Runner) tagDirs(repo *config.Repo) (map[string]string, error) {
	found := map[string]string{}
	if r.cfg.TagStyle == config.TagStyleBottomdir {
		entries, err := os.ReadDir(filepath.Join(r.cfg.DataDir, repo.Local))
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			found[e.Name()] = filepath.Join(r.cfg.DataDir, repo.Local, e.Name())
		}
		return found, nil
	}

	entries, err := os.ReadDir(r.cfg.DataDir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		dir := paths.Dir(r.cfg, repo, e.Name())
		if _, err := os.Lstat(dir); err == nil {
			found[e.Name()] = dir
		}
	}
	return found, nil
}

// tagOf finds which tag a resolved directory belongs to
func (r *Runner) tagOf(repo *config.Repo, found map[string]string, target string) string {
	for tag, dir := range found {
		resolved, err := filepath.EvalSymlinks(dir)
		if err != nil {
			continue
		}
		if resolved == target && !isSymlink(dir) {
			return tag
		}
	}
	return ""
}

func isSymlink(path string) bool {
	fi, err := os.Lstat(path)
	return err == nil && fi.Mode()&os.ModeSymlink != 0
}
