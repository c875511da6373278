// Package fetch performs all network I/O: streamed downloads with
// proxy support, mutual TLS and redirect following.
package fetch

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cavaliergopher/grab/v3"
	"github.com/ralt/repomirror/internal/config"
	"github.com/ralt/repomirror/internal/models"
	"github.com/sirupsen/logrus"
)

// ArchToken is expanded to the architecture in upstream URL templates.
const ArchToken = "%ARCH%"

// Client downloads files for a single repo
type Client struct {
	repo string
	grab *grab.Client
}

// NewClient builds a download client honoring the repo's proxy and SSL
// client-auth trio.
func NewClient(name string, repo *config.Repo) (*Client, error) {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
	}
	if repo.Proxy != "" {
		proxyURL, err := url.Parse(repo.Proxy)
		if err != nil {
			return nil, &models.Error{Type: models.ErrConfig, Repo: name,
				Err: fmt.Errorf("proxy: %w", err)}
		}
		tr.Proxy = http.ProxyURL(proxyURL)
	}
	if repo.CA != "" {
		pem, err := os.ReadFile(repo.CA)
		if err != nil {
			return nil, &models.Error{Type: models.ErrConfig, Repo: name, Err: err}
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, &models.Error{Type: models.ErrConfig, Repo: name,
				Err: fmt.Errorf("no certificates in %s", repo.CA)}
		}
		cert, err := tls.LoadX509KeyPair(repo.Cert, repo.Key)
		if err != nil {
			return nil, &models.Error{Type: models.ErrConfig, Repo: name, Err: err}
		}
		tr.TLSClientConfig = &tls.Config{
			RootCAs:      pool,
			Certificates: []tls.Certificate{cert},
		}
	}

	client := grab.NewClient()
	client.UserAgent = "repomirror"
	client.HTTPClient = &http.Client{Transport: tr}
	return &Client{repo: name, grab: client}, nil
}

// DownloadBinaryFile streams url into dest and returns the bytes
// written. The download lands in a .part sibling and is renamed over
// dest on success, so an interrupted transfer never leaves a malformed
// file at the final path. The parent directory must exist.
func (c *Client) DownloadBinaryFile(ctx context.Context, rawURL, dest string) (int64, error) {
	start := time.Now()
	part := dest + ".part"
	_ = os.Remove(part)

	req, err := grab.NewRequest(part, rawURL)
	if err != nil {
		return 0, &models.Error{Type: models.ErrFetch, Repo: c.repo, Err: err}
	}
	req.NoResume = true
	req = req.WithContext(ctx)

	resp := c.grab.Do(req)
	if err := resp.Err(); err != nil {
		_ = os.Remove(part)
		return 0, &models.Error{Type: models.ErrFetch, Repo: c.repo,
			Err: fmt.Errorf("download %s: %w", rawURL, err)}
	}
	written := resp.BytesComplete()

	// Rename over dest rather than writing in place: hardlinked tag
	// trees share inodes and must never see a file mutated under them.
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		_ = os.Remove(part)
		return 0, &models.Error{Type: models.ErrFileOp, Repo: c.repo, Err: err}
	}
	if err := os.Rename(part, dest); err != nil {
		_ = os.Remove(part)
		return 0, &models.Error{Type: models.ErrFileOp, Repo: c.repo, Err: err}
	}

	logrus.Debugf("downloaded %s (%d bytes) in %s", rawURL, written, time.Since(start))
	return written, nil
}

// ExpandArch replaces the %ARCH% token in an upstream URL template
func ExpandArch(rawURL, arch string) string {
	return strings.ReplaceAll(rawURL, ArchToken, arch)
}

// JoinURL appends a repo-relative path to a base URL
func JoinURL(base, rel string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(rel, "/")
}
