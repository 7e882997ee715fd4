// Package lock provides per-identity mutual exclusion across processes.
//
// Each identity token maps to locks/<token>.lock under the state root. The
// lock is an flock(2) on that file: acquisition is a single atomic syscall,
// and the kernel drops it when the holder exits for any reason, SIGKILL
// included, so a crashed wrapper never leaves a lock that needs clearing.
package lock

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mattjoyce/once/internal/log"
)

// ErrBusy is returned when another live process holds the lock.
var ErrBusy = errors.New("lock is held by another invocation")

const (
	locksDir = "locks"
	suffix   = ".lock"

	dirPerm  = 0o700
	filePerm = 0o600

	// maxOpenAttempts bounds retries when a releasing holder unlinks the
	// lock file between our open and our flock.
	maxOpenAttempts = 8
)

// Manager hands out identity-scoped locks below a state root.
type Manager struct {
	dir    string
	now    func() time.Time
	logger *slog.Logger
}

// NewManager returns a manager storing lock files in <stateRoot>/locks.
func NewManager(stateRoot string) *Manager {
	return &Manager{
		dir:    filepath.Join(stateRoot, locksDir),
		now:    time.Now,
		logger: log.WithComponent("lock"),
	}
}

// Path returns the lock file for token.
func (m *Manager) Path(token string) string {
	return filepath.Join(m.dir, token+suffix)
}

// Lock is a held identity lock. Keep it alive by not releasing it.
type Lock struct {
	path string
	f    *os.File

	once sync.Once
	err  error
}

// Acquire takes the lock for token without blocking. It returns ErrBusy when
// another process holds it; any other error is a filesystem failure.
func (m *Manager) Acquire(token string) (*Lock, error) {
	if token == "" {
		return nil, fmt.Errorf("lock token is empty")
	}
	if err := os.MkdirAll(m.dir, dirPerm); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	path := m.Path(token)
	for attempt := 1; attempt <= maxOpenAttempts; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, filePerm)
		if err != nil {
			return nil, fmt.Errorf("open lock file: %w", err)
		}

		if err := tryLock(f); err != nil {
			_ = f.Close()
			return nil, err
		}

		current, err := isCurrent(f, path)
		if err != nil {
			_ = unlock(f)
			_ = f.Close()
			return nil, err
		}
		if !current {
			// We locked an inode a previous holder already unlinked.
			m.logger.Debug("lock file replaced during acquire, retrying", "path", path, "attempt", attempt)
			_ = unlock(f)
			_ = f.Close()
			continue
		}

		if err := writeHolder(f, os.Getpid(), m.now()); err != nil {
			_ = unlock(f)
			_ = f.Close()
			return nil, err
		}
		return &Lock{path: path, f: f}, nil
	}
	return nil, fmt.Errorf("%w: lock file kept changing", ErrBusy)
}

// Release removes the lock file, then unlocks and closes it. Removing first
// means the next acquirer creates a fresh file instead of reusing ours.
// It is safe to call more than once; later calls return the first result.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	l.once.Do(func() {
		if l.f == nil {
			return
		}
		var errs []error
		if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove lock file: %w", err))
		}
		if err := unlock(l.f); err != nil {
			errs = append(errs, fmt.Errorf("unlock: %w", err))
		}
		if err := l.f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close lock file: %w", err))
		}
		l.f = nil
		l.err = errors.Join(errs...)
	})
	return l.err
}

func isCurrent(f *os.File, path string) (bool, error) {
	held, err := f.Stat()
	if err != nil {
		return false, fmt.Errorf("stat locked file: %w", err)
	}
	onDisk, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat lock path: %w", err)
	}
	return os.SameFile(held, onDisk), nil
}

func writeHolder(f *os.File, pid int, started time.Time) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return fmt.Errorf("seek lock file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n%s\n", pid, started.UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("write pid: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync lock file: %w", err)
	}
	return nil
}

// Holder describes the process that wrote a lock file.
type Holder struct {
	PID     int
	Started time.Time
}

// Holder reads the diagnostic PID and start time from token's lock file.
// ok is false when there is no lock file or it has not been written yet.
func (m *Manager) Holder(token string) (h Holder, ok bool, err error) {
	f, err := os.Open(m.Path(token))
	if errors.Is(err, os.ErrNotExist) {
		return Holder{}, false, nil
	}
	if err != nil {
		return Holder{}, false, fmt.Errorf("open lock file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return Holder{}, false, sc.Err()
	}
	pid, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
	if err != nil {
		return Holder{}, false, nil
	}
	h.PID = pid
	if sc.Scan() {
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(sc.Text())); err == nil {
			h.Started = t
		}
	}
	return h, true, nil
}
