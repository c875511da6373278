package yum

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ralt/repomirror/internal/backend"
	"github.com/ralt/repomirror/internal/config"
	"github.com/ralt/repomirror/internal/models"
	"github.com/ralt/repomirror/internal/utils"
)

type testPkg struct {
	name     string
	location string
	content  []byte
}

func pkgContent(marker string, size int) []byte {
	return append([]byte(marker), bytes.Repeat([]byte{'x'}, size-len(marker))...)
}

// buildRepodata renders primary.xml.gz and repomd.xml for a package set
func buildRepodata(t *testing.T, pkgs []testPkg) (repomd, primaryGz []byte, primaryHref string) {
	t.Helper()
	var buf bytes.Buffer
	fmt.Fprintf(&buf, `<?xml version="1.0" encoding="UTF-8"?>
<metadata xmlns="%s" xmlns:rpm="%s" packages="%d">`, CommonNamespace, RpmNamespace, len(pkgs))
	for _, p := range pkgs {
		fmt.Fprintf(&buf, `
  <package type="rpm">
    <name>%s</name>
    <arch>x86_64</arch>
    <version epoch="0" ver="1.0" rel="1"/>
    <checksum type="sha256" pkgid="YES">%s</checksum>
    <summary>%s</summary>
    <description>%s</description>
    <time file="1" build="1"/>
    <size package="%d"/>
    <location href="%s"/>
  </package>`, p.name, utils.DigestBytes(p.content, "sha256"), p.name, p.name, len(p.content), p.location)
	}
	buf.WriteString("\n</metadata>\n")

	gz, err := utils.GzipCompress(buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	sum := utils.DigestBytes(gz, "sha256")
	href := fmt.Sprintf("repodata/%s-primary.xml.gz", sum)

	md := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<repomd xmlns="%s">
  <revision>1</revision>
  <data type="primary">
    <checksum type="sha256">%s</checksum>
    <location href="%s"/>
    <timestamp>1</timestamp>
    <size>%d</size>
  </data>
</repomd>
`, RepoNamespace, sum, href, len(gz))

	return []byte(md), gz, href
}

// writeRepodata lays a metadata tree on disk, replacing whatever
// primary files were there before.
func writeRepodata(t *testing.T, dir string, pkgs []testPkg) {
	t.Helper()
	repomd, gz, href := buildRepodata(t, pkgs)
	old, _ := filepath.Glob(filepath.Join(dir, "repodata", "*-primary.xml.gz"))
	for _, f := range old {
		os.Remove(f)
	}
	if err := utils.WriteFile(filepath.Join(dir, filepath.FromSlash(href)), gz, 0644); err != nil {
		t.Fatal(err)
	}
	if err := utils.WriteFile(filepath.Join(dir, "repodata", "repomd.xml"), repomd, 0644); err != nil {
		t.Fatal(err)
	}
}

// yumServer serves a yum repo under /x86_64/os/ and counts requests
// per path.
type yumServer struct {
	*httptest.Server
	mu    sync.Mutex
	hits  map[string]int
	files map[string][]byte
}

func newYumServer(t *testing.T, pkgs []testPkg) *yumServer {
	t.Helper()
	repomd, gz, href := buildRepodata(t, pkgs)
	files := map[string][]byte{
		"repodata/repomd.xml": repomd,
		href:                  gz,
	}
	for _, p := range pkgs {
		files[p.location] = p.content
	}

	s := &yumServer{hits: map[string]int{}, files: files}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rel := ""
		for _, arch := range []string{"x86_64", "noarch"} {
			prefix := "/" + arch + "/os/"
			if len(r.URL.Path) > len(prefix) && r.URL.Path[:len(prefix)] == prefix {
				rel = r.URL.Path[len(prefix):]
			}
		}
		s.mu.Lock()
		s.hits[rel]++
		s.mu.Unlock()

		data, ok := s.files[rel]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(data)
	}))
	t.Cleanup(s.Server.Close)
	return s
}

func (s *yumServer) hitCount(rel string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[rel]
}

func testConfig(t *testing.T, url string, arches ...string) *config.Config {
	t.Helper()
	if len(arches) == 0 {
		arches = []string{"x86_64"}
	}
	cfg := &config.Config{
		DataDir:  t.TempDir(),
		TagStyle: config.TagStyleTopdir,
		Repo: map[string]*config.Repo{
			"centos-base": {
				Type:  config.TypeYum,
				Local: "centos-base",
				Arch:  config.StringList(arches),
			},
		},
	}
	if url != "" {
		cfg.Repo["centos-base"].URL = config.StringList{url}
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func yumBackend(cfg *config.Config, opts backend.Options) backend.Backend {
	return New(backend.Env{
		Name:    "centos-base",
		Repo:    cfg.Repo["centos-base"],
		Config:  cfg,
		Options: opts,
	})
}

func archDirOf(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir, "head", "centos-base", "x86_64")
}

func TestMirrorFresh(t *testing.T) {
	pkgs := []testPkg{
		{name: "foo", location: "Packages/foo-1.0.rpm", content: pkgContent("foo", 100)},
		{name: "bar", location: "Packages/bar-2.0.rpm", content: pkgContent("bar", 200)},
	}
	srv := newYumServer(t, pkgs)
	cfg := testConfig(t, srv.URL+"/%ARCH%/os/")

	b := yumBackend(cfg, backend.Options{})
	if err := b.Mirror(context.Background(), ""); err != nil {
		t.Fatalf("mirror failed: %v", err)
	}

	dir := archDirOf(cfg)
	if _, err := os.Stat(filepath.Join(dir, "repodata", "repomd.xml")); err != nil {
		t.Errorf("repomd.xml missing: %v", err)
	}
	for _, p := range pkgs {
		st, err := os.Stat(filepath.Join(dir, filepath.FromSlash(p.location)))
		if err != nil {
			t.Fatalf("%s missing: %v", p.location, err)
		}
		if st.Size() != int64(len(p.content)) {
			t.Errorf("%s size = %d, want %d", p.location, st.Size(), len(p.content))
		}
	}
}

func TestMirrorResumesPartialDownload(t *testing.T) {
	pkgs := []testPkg{
		{name: "foo", location: "Packages/foo-1.0.rpm", content: pkgContent("foo", 100)},
		{name: "bar", location: "Packages/bar-2.0.rpm", content: pkgContent("bar", 200)},
	}
	srv := newYumServer(t, pkgs)
	cfg := testConfig(t, srv.URL+"/%ARCH%/os/")

	b := yumBackend(cfg, backend.Options{})
	if err := b.Mirror(context.Background(), ""); err != nil {
		t.Fatalf("mirror failed: %v", err)
	}

	bar := filepath.Join(archDirOf(cfg), "Packages", "bar-2.0.rpm")
	if err := os.Truncate(bar, 50); err != nil {
		t.Fatal(err)
	}

	// fresh backend, as a second invocation would be
	b = yumBackend(cfg, backend.Options{})
	if err := b.Mirror(context.Background(), ""); err != nil {
		t.Fatalf("second mirror failed: %v", err)
	}

	st, err := os.Stat(bar)
	if err != nil {
		t.Fatal(err)
	}
	if st.Size() != 200 {
		t.Errorf("bar size after resume = %d, want 200", st.Size())
	}
	if n := srv.hitCount("Packages/foo-1.0.rpm"); n != 1 {
		t.Errorf("foo downloaded %d times, want 1 (skipped as up to date)", n)
	}
	if n := srv.hitCount("Packages/bar-2.0.rpm"); n != 2 {
		t.Errorf("bar downloaded %d times, want 2", n)
	}
	if n := srv.hitCount("repodata/repomd.xml"); n != 2 {
		t.Errorf("repomd.xml fetched %d times, want 2 (always re-downloaded)", n)
	}
}

func TestMirrorFailsOverAndPins(t *testing.T) {
	var badHits int
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		badHits++
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer bad.Close()

	pkgs := []testPkg{
		{name: "foo", location: "Packages/foo-1.0.rpm", content: pkgContent("foo", 100)},
	}
	good := newYumServer(t, pkgs)

	cfg := testConfig(t, "", "x86_64", "noarch")
	cfg.Repo["centos-base"].URL = config.StringList{
		bad.URL + "/%ARCH%/os/",
		good.URL + "/%ARCH%/os/",
	}

	b := yumBackend(cfg, backend.Options{})
	if err := b.Mirror(context.Background(), ""); err != nil {
		t.Fatalf("mirror failed: %v", err)
	}

	// the first arch tries the bad upstream once; after pinning, the
	// second arch never goes near it
	if badHits != 1 {
		t.Errorf("bad upstream hit %d times, want 1", badHits)
	}
}

func TestMirrorAllURLsFailing(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer bad.Close()

	cfg := testConfig(t, bad.URL+"/%ARCH%/os/")
	b := yumBackend(cfg, backend.Options{})
	err := b.Mirror(context.Background(), "")
	if !models.IsType(err, models.ErrFetch) {
		t.Fatalf("expected fetch error, got %v", err)
	}
}

func TestMirrorAppliesFilter(t *testing.T) {
	pkgs := []testPkg{
		{name: "foo", location: "Packages/foo-1.0.rpm", content: pkgContent("foo", 100)},
		{name: "kernel-debug", location: "Packages/kernel-debug-1.0.rpm", content: pkgContent("kd", 150)},
	}
	srv := newYumServer(t, pkgs)
	cfg := testConfig(t, srv.URL+"/%ARCH%/os/")
	cfg.Repo["centos-base"].ExcludePackage = "^kernel-debug"
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	b := yumBackend(cfg, backend.Options{})
	if err := b.Mirror(context.Background(), ""); err != nil {
		t.Fatalf("mirror failed: %v", err)
	}

	dir := archDirOf(cfg)
	if _, err := os.Stat(filepath.Join(dir, "Packages", "foo-1.0.rpm")); err != nil {
		t.Errorf("foo missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "Packages", "kernel-debug-1.0.rpm")); !os.IsNotExist(err) {
		t.Error("excluded package was downloaded")
	}
}

func TestMirrorIgnoreErrors(t *testing.T) {
	pkgs := []testPkg{
		{name: "foo", location: "Packages/foo-1.0.rpm", content: pkgContent("foo", 100)},
		{name: "gone", location: "Packages/gone-1.0.rpm", content: pkgContent("gone", 50)},
	}
	srv := newYumServer(t, pkgs)
	delete(srv.files, "Packages/gone-1.0.rpm")

	cfg := testConfig(t, srv.URL+"/%ARCH%/os/")

	b := yumBackend(cfg, backend.Options{})
	if err := b.Mirror(context.Background(), ""); err == nil {
		t.Fatal("mirror should fail on a missing package")
	}

	b = yumBackend(cfg, backend.Options{IgnoreErrors: true})
	if err := b.Mirror(context.Background(), ""); err != nil {
		t.Fatalf("mirror with ignore-errors failed: %v", err)
	}
}

func TestMirrorUnknownArch(t *testing.T) {
	cfg := testConfig(t, "http://unused.example/%ARCH%/os/")
	b := yumBackend(cfg, backend.Options{})
	err := b.Mirror(context.Background(), "s390x")
	if !models.IsType(err, models.ErrArchNotConfigured) {
		t.Fatalf("expected arch error, got %v", err)
	}
}

func TestCleanRemovesUnreferenced(t *testing.T) {
	pkgs := []testPkg{
		{name: "foo", location: "Packages/foo-1.0.rpm", content: pkgContent("foo", 100)},
		{name: "bar", location: "Packages/bar-2.0.rpm", content: pkgContent("bar", 200)},
	}
	srv := newYumServer(t, pkgs)
	cfg := testConfig(t, srv.URL+"/%ARCH%/os/")

	b := yumBackend(cfg, backend.Options{})
	if err := b.Mirror(context.Background(), ""); err != nil {
		t.Fatalf("mirror failed: %v", err)
	}

	// upstream dropped bar: rewrite the local metadata without it
	dir := archDirOf(cfg)
	writeRepodata(t, dir, pkgs[:1])

	if err := b.Clean(context.Background(), ""); err != nil {
		t.Fatalf("clean failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "Packages", "foo-1.0.rpm")); err != nil {
		t.Errorf("foo should survive clean: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "Packages", "bar-2.0.rpm")); !os.IsNotExist(err) {
		t.Error("bar should be removed by clean")
	}
	if _, err := os.Stat(filepath.Join(dir, "repodata", "repomd.xml")); err != nil {
		t.Errorf("repomd.xml should survive clean: %v", err)
	}
}

func TestCleanWithoutMetadata(t *testing.T) {
	cfg := testConfig(t, "http://unused.example/%ARCH%/os/")
	b := yumBackend(cfg, backend.Options{})
	if err := b.Clean(context.Background(), ""); !models.IsType(err, models.ErrFileOp) {
		t.Fatalf("expected file error, got %v", err)
	}
}

func TestDiff(t *testing.T) {
	cfg := testConfig(t, "")
	srcDir := filepath.Join(cfg.DataDir, "head", "centos-base")
	destDir := filepath.Join(cfg.DataDir, "prod", "centos-base")

	both := testPkg{name: "foo", location: "Packages/foo-1.0.rpm", content: pkgContent("foo", 10)}
	onlySrc := testPkg{name: "bar", location: "Packages/bar-2.0.rpm", content: pkgContent("bar", 10)}
	onlyDest := testPkg{name: "baz", location: "Packages/baz-3.0.rpm", content: pkgContent("baz", 10)}

	writeRepodata(t, filepath.Join(srcDir, "x86_64"), []testPkg{both, onlySrc})
	writeRepodata(t, filepath.Join(destDir, "x86_64"), []testPkg{both, onlyDest})

	b := yumBackend(cfg, backend.Options{})
	res, err := b.Diff("x86_64", srcDir, "head", destDir, "prod")
	if err != nil {
		t.Fatalf("diff failed: %v", err)
	}

	if len(res.SrcOnly) != 1 || res.SrcOnly[0] != "bar-2.0.rpm" {
		t.Errorf("SrcOnly = %v", res.SrcOnly)
	}
	if len(res.DestOnly) != 1 || res.DestOnly[0] != "baz-3.0.rpm" {
		t.Errorf("DestOnly = %v", res.DestOnly)
	}

	// same tree on both sides is empty both ways
	res, err = b.Diff("x86_64", srcDir, "head", srcDir, "head")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.SrcOnly) != 0 || len(res.DestOnly) != 0 {
		t.Errorf("self diff = %+v", res)
	}

	// swapping sides swaps the labels
	res, err = b.Diff("x86_64", destDir, "prod", srcDir, "head")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.SrcOnly) != 1 || res.SrcOnly[0] != "baz-3.0.rpm" {
		t.Errorf("swapped SrcOnly = %v", res.SrcOnly)
	}
	if len(res.DestOnly) != 1 || res.DestOnly[0] != "bar-2.0.rpm" {
		t.Errorf("swapped DestOnly = %v", res.DestOnly)
	}
}

func TestInitRefusedForMirroredRepo(t *testing.T) {
	cfg := testConfig(t, "http://unused.example/%ARCH%/os/")
	b := yumBackend(cfg, backend.Options{})
	if err := b.Init(context.Background(), ""); !models.IsType(err, models.ErrOperationNotValid) {
		t.Fatalf("expected operation error, got %v", err)
	}
	if err := b.AddFile(context.Background(), "x86_64", []string{"x"}); !models.IsType(err, models.ErrOperationNotValid) {
		t.Fatalf("expected operation error, got %v", err)
	}
}

func TestInitLocalRepoWritesMetadata(t *testing.T) {
	if _, err := exec.LookPath(createrepoBin); err == nil {
		t.Skip("createrepo present, native path not exercised")
	}

	cfg := testConfig(t, "")
	b := yumBackend(cfg, backend.Options{})
	if err := b.Init(context.Background(), ""); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	dir := archDirOf(cfg)
	if _, err := os.Stat(filepath.Join(dir, "Packages")); err != nil {
		t.Errorf("Packages dir missing: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "repodata", "repomd.xml"))
	if err != nil {
		t.Fatalf("repomd.xml missing: %v", err)
	}
	md, err := ParseRepoMD(raw)
	if err != nil {
		t.Fatalf("generated repomd.xml does not parse: %v", err)
	}
	if len(md.Data) != 1 || md.Data[0].Type != "primary" {
		t.Errorf("generated data entries = %+v", md.Data)
	}
}

func TestAddDelFileRoundTrip(t *testing.T) {
	if _, err := exec.LookPath(createrepoBin); err == nil {
		t.Skip("createrepo present, native path not exercised")
	}

	cfg := testConfig(t, "")
	src := filepath.Join(t.TempDir(), "pkg-1.0.rpm")
	if err := os.WriteFile(src, pkgContent("pkg", 64), 0644); err != nil {
		t.Fatal(err)
	}

	b := yumBackend(cfg, backend.Options{})
	if err := b.AddFile(context.Background(), "x86_64", []string{src}); err != nil {
		t.Fatalf("add-file failed: %v", err)
	}

	dst := filepath.Join(archDirOf(cfg), "Packages", "pkg-1.0.rpm")
	if _, err := os.Stat(dst); err != nil {
		t.Fatalf("file not copied: %v", err)
	}

	// refusing to overwrite without force
	if err := b.AddFile(context.Background(), "x86_64", []string{src}); !models.IsType(err, models.ErrFileOp) {
		t.Fatalf("expected overwrite refusal, got %v", err)
	}
	forced := yumBackend(cfg, backend.Options{Force: true})
	if err := forced.AddFile(context.Background(), "x86_64", []string{src}); err != nil {
		t.Fatalf("forced add-file failed: %v", err)
	}

	if err := b.DelFile(context.Background(), "x86_64", []string{"pkg-1.0.rpm"}); err != nil {
		t.Fatalf("del-file failed: %v", err)
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Error("file should be removed")
	}

	if err := b.AddFile(context.Background(), "s390x", []string{src}); !models.IsType(err, models.ErrArchNotConfigured) {
		t.Fatalf("expected arch error, got %v", err)
	}
}
