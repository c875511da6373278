package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/ralt/repomirror/internal/models"
	"gopkg.in/yaml.v3"
)

// Tag styles decide where the tag segment sits in the on-disk layout.
const (
	TagStyleTopdir    = "topdir"
	TagStyleBottomdir = "bottomdir"
)

// HeadTag is the writable tag mutated by mirror.
const HeadTag = "head"

var tagStyleRe = regexp.MustCompile(`^(top|bottom)dir$`)

// Repo types dispatchable to a backend.
const (
	TypeYum   = "Yum"
	TypeApt   = "Apt"
	TypePlain = "Plain"
)

// StringList unmarshals from either a YAML scalar or a sequence, so a
// config may write `arch: x86_64` as well as `arch: [x86_64, noarch]`.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler
func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*l = StringList{s}
		return nil
	case yaml.SequenceNode:
		var ss []string
		if err := node.Decode(&ss); err != nil {
			return err
		}
		*l = StringList(ss)
		return nil
	default:
		return fmt.Errorf("line %d: expected scalar or sequence", node.Line)
	}
}

// Repo describes one named repository in the catalog
type Repo struct {
	Type            string     `yaml:"type"`
	Local           string     `yaml:"local"`
	Arch            StringList `yaml:"arch"`
	URL             StringList `yaml:"url"`
	CA              string     `yaml:"ca"`
	Cert            string     `yaml:"cert"`
	Key             string     `yaml:"key"`
	IncludeFilename string     `yaml:"include_filename"`
	IncludePackage  string     `yaml:"include_package"`
	ExcludeFilename string     `yaml:"exclude_filename"`
	ExcludePackage  string     `yaml:"exclude_package"`
	Proxy           string     `yaml:"proxy"`
	HardTagRegex    string     `yaml:"hard_tag_regex"`

	filterKind string
	filterRe   *regexp.Regexp
}

// Mirrored reports whether the repo has upstream URLs configured
func (r *Repo) Mirrored() bool {
	return len(r.URL) > 0
}

// Filter returns the active filter option and its compiled regex, or
// ("", nil) when no filter is configured. Only valid after Validate.
func (r *Repo) Filter() (string, *regexp.Regexp) {
	return r.filterKind, r.filterRe
}

// HasArch reports whether arch is in the repo's configured arch list
func (r *Repo) HasArch(arch string) bool {
	for _, a := range r.Arch {
		if a == arch {
			return true
		}
	}
	return false
}

func (r *Repo) filters() map[string]string {
	return map[string]string{
		"include_filename": r.IncludeFilename,
		"include_package":  r.IncludePackage,
		"exclude_filename": r.ExcludeFilename,
		"exclude_package":  r.ExcludePackage,
	}
}

// Config is the process-wide repository catalog. It is mutated only by
// Validate and read-only afterwards.
type Config struct {
	DataDir      string           `yaml:"data_dir"`
	TagStyle     string           `yaml:"tag_style"`
	Proxy        string           `yaml:"proxy"`
	HardTagRegex string           `yaml:"hard_tag_regex"`
	Repo         map[string]*Repo `yaml:"repo"`

	// RepoNames is the sorted list of configured repo names, populated
	// by Validate for fan-out expansion.
	RepoNames []string `yaml:"-"`
}

// Load reads and validates a YAML catalog from path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &models.Error{Type: models.ErrConfig, Err: fmt.Errorf("read config: %w", err)}
	}
	return Parse(data)
}

// Parse unmarshals and validates a YAML catalog
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &models.Error{Type: models.ErrConfig, Err: fmt.Errorf("parse config: %w", err)}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate normalizes the catalog in place and checks its invariants.
// After a successful call the config must be treated as immutable.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return configErr("", "data_dir is required")
	}
	abs, err := filepath.Abs(c.DataDir)
	if err != nil {
		return configErr("", "data_dir: %v", err)
	}
	c.DataDir = abs
	if st, err := os.Stat(c.DataDir); err != nil || !st.IsDir() {
		return configErr("", "data_dir %s is not a directory", c.DataDir)
	}

	if c.TagStyle == "" {
		c.TagStyle = TagStyleTopdir
	}
	if !tagStyleRe.MatchString(c.TagStyle) {
		return configErr("", "tag_style %q must be topdir or bottomdir", c.TagStyle)
	}

	if c.HardTagRegex != "" {
		if _, err := regexp.Compile(c.HardTagRegex); err != nil {
			return configErr("", "hard_tag_regex: %v", err)
		}
	}

	c.RepoNames = c.RepoNames[:0]
	for name, repo := range c.Repo {
		if err := c.validateRepo(name, repo); err != nil {
			return err
		}
		c.RepoNames = append(c.RepoNames, name)
	}
	sort.Strings(c.RepoNames)
	return nil
}

func (c *Config) validateRepo(name string, r *Repo) error {
	if r == nil {
		return configErr(name, "repo is empty")
	}
	if r.Type == "" || r.Local == "" || len(r.Arch) == 0 {
		return configErr(name, "type, local and arch are required")
	}
	switch r.Type {
	case TypeYum, TypeApt, TypePlain:
	default:
		return configErr(name, "unknown type %q", r.Type)
	}
	for _, a := range r.Arch {
		if a == "" {
			return configErr(name, "empty arch entry")
		}
	}

	if r.Mirrored() {
		if r.Type == TypePlain {
			return configErr(name, "Plain repos cannot have a url")
		}
		set := 0
		for _, p := range []string{r.CA, r.Cert, r.Key} {
			if p == "" {
				continue
			}
			set++
			if st, err := os.Stat(p); err != nil || !st.Mode().IsRegular() {
				return configErr(name, "ssl file %s is not a regular file", p)
			}
		}
		if set != 0 && set != 3 {
			return configErr(name, "ca, cert and key must be set together")
		}
	} else if r.CA != "" || r.Cert != "" || r.Key != "" {
		return configErr(name, "ca/cert/key are only valid with a url")
	}

	active := 0
	for kind, expr := range r.filters() {
		if expr == "" {
			continue
		}
		active++
		re, err := regexp.Compile(expr)
		if err != nil {
			return configErr(name, "%s: %v", kind, err)
		}
		r.filterKind, r.filterRe = kind, re
	}
	if active > 1 {
		return configErr(name, "at most one of include/exclude filename/package may be set")
	}

	if r.HardTagRegex != "" {
		if _, err := regexp.Compile(r.HardTagRegex); err != nil {
			return configErr(name, "hard_tag_regex: %v", err)
		}
	}

	if r.Proxy == "" {
		r.Proxy = c.Proxy
	}
	return nil
}

// HardTagPattern returns the compiled hard-tag regex for a repo: the
// repo's own hard_tag_regex when set, else the global one, else nil.
func (c *Config) HardTagPattern(r *Repo) *regexp.Regexp {
	expr := c.HardTagRegex
	if r != nil && r.HardTagRegex != "" {
		expr = r.HardTagRegex
	}
	if expr == "" {
		return nil
	}
	// compiles by construction, Validate already checked it
	return regexp.MustCompile(expr)
}

func configErr(repo, format string, args ...interface{}) error {
	return &models.Error{Type: models.ErrConfig, Repo: repo, Err: fmt.Errorf(format, args...)}
}
