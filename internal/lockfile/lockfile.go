// Package lockfile serializes mutating actions on a repository across
// processes with an advisory file lock.
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/ralt/repomirror/internal/models"
	"github.com/sirupsen/logrus"
)

// Manager hands out at most one active lock per process. Acquiring a
// second lock before releasing the first is a programming error.
type Manager struct {
	mu      sync.Mutex
	current *Lock
}

// Lock is a held repository lock
type Lock struct {
	m        *Manager
	fl       *flock.Flock
	repo     string
	released bool
}

// NewManager creates an empty lock manager
func NewManager() *Manager {
	return &Manager{}
}

// Acquire takes the exclusive lock {dir}/{repo}.lock without blocking.
// The directory must already exist. A lock held by another process
// fails immediately with a Lock error.
func (m *Manager) Acquire(dir, repo string) (*Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return nil, &models.Error{Type: models.ErrLock, Repo: repo,
			Err: fmt.Errorf("lock for %s still held", m.current.repo)}
	}
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		return nil, &models.Error{Type: models.ErrLock, Repo: repo,
			Err: fmt.Errorf("repo directory %s does not exist", dir)}
	}

	fl := flock.New(filepath.Join(dir, repo+".lock"))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, &models.Error{Type: models.ErrLock, Repo: repo, Err: err}
	}
	if !ok {
		return nil, &models.Error{Type: models.ErrLock, Repo: repo,
			Err: fmt.Errorf("%s is locked by another process", fl.Path())}
	}

	l := &Lock{m: m, fl: fl, repo: repo}
	m.current = l
	logrus.Debugf("acquired lock %s", fl.Path())
	return l, nil
}

// Release unlocks and best-effort unlinks the lock file. It is safe to
// call more than once.
func (l *Lock) Release() {
	if l == nil {
		return
	}
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	if l.released {
		return
	}
	l.released = true
	if l.m.current == l {
		l.m.current = nil
	}
	if err := l.fl.Unlock(); err != nil {
		logrus.Warnf("unlock %s: %v", l.fl.Path(), err)
	}
	if err := os.Remove(l.fl.Path()); err != nil && !os.IsNotExist(err) {
		logrus.Debugf("remove %s: %v", l.fl.Path(), err)
	}
	logrus.Debugf("released lock %s", l.fl.Path())
}

// ReleaseCurrent releases whatever lock is still held. Used as a
// process-exit hook so a signal never leaves a stale lock file behind.
func (m *Manager) ReleaseCurrent() {
	m.mu.Lock()
	l := m.current
	m.mu.Unlock()
	l.Release()
}
