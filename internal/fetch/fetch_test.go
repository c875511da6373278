package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ralt/repomirror/internal/config"
	"github.com/ralt/repomirror/internal/models"
)

func TestExpandArch(t *testing.T) {
	got := ExpandArch("http://mirror.example/%ARCH%/os/", "x86_64")
	if got != "http://mirror.example/x86_64/os/" {
		t.Errorf("ExpandArch = %q", got)
	}
	if got := ExpandArch("http://mirror.example/os/", "x86_64"); got != "http://mirror.example/os/" {
		t.Errorf("ExpandArch without token = %q", got)
	}
}

func TestJoinURL(t *testing.T) {
	if got := JoinURL("http://a/os/", "/repodata/repomd.xml"); got != "http://a/os/repodata/repomd.xml" {
		t.Errorf("JoinURL = %q", got)
	}
	if got := JoinURL("http://a/os", "repodata/repomd.xml"); got != "http://a/os/repodata/repomd.xml" {
		t.Errorf("JoinURL = %q", got)
	}
}

func TestDownloadBinaryFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("package payload"))
	}))
	defer srv.Close()

	client, err := NewClient("r", &config.Repo{})
	if err != nil {
		t.Fatal(err)
	}

	dest := filepath.Join(t.TempDir(), "pkg.rpm")
	n, err := client.DownloadBinaryFile(context.Background(), srv.URL+"/pkg.rpm", dest)
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if n != int64(len("package payload")) {
		t.Errorf("bytes written = %d", n)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "package payload" {
		t.Errorf("dest contents = %q", data)
	}
	if _, err := os.Stat(dest + ".part"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
}

func TestDownloadReplacesExisting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fresh"))
	}))
	defer srv.Close()

	client, err := NewClient("r", &config.Repo{})
	if err != nil {
		t.Fatal(err)
	}

	dest := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(dest, []byte("stale contents"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := client.DownloadBinaryFile(context.Background(), srv.URL, dest); err != nil {
		t.Fatalf("download failed: %v", err)
	}
	data, _ := os.ReadFile(dest)
	if string(data) != "fresh" {
		t.Errorf("dest contents = %q", data)
	}
}

func TestDownloadHTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client, err := NewClient("r", &config.Repo{})
	if err != nil {
		t.Fatal(err)
	}

	dest := filepath.Join(t.TempDir(), "missing.rpm")
	if _, err := client.DownloadBinaryFile(context.Background(), srv.URL+"/missing.rpm", dest); !models.IsType(err, models.ErrFetch) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("failed download should not leave a destination file")
	}
}

func TestNewClientBadProxy(t *testing.T) {
	_, err := NewClient("r", &config.Repo{Proxy: "://bad"})
	if !models.IsType(err, models.ErrConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}
