package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FilesystemError reports why the lock directory is unsuitable for flock, or
// nil when it is on a local filesystem or the type cannot be determined.
func (m *Manager) FilesystemError() error {
	err := validateLockFilesystem(m.dir)
	var nfs *networkFSError
	if errors.As(err, &nfs) {
		return err
	}
	return nil
}

// Entry is a lock file found on disk.
type Entry struct {
	Token string
	Path  string

	// Held is true unless the recorded holder process is known to be gone.
	Held   bool
	Holder Holder
}

// List reports every lock file without locking, removing or writing any of
// them, so it never makes a concurrent Acquire fail. Liveness comes from the
// holder PID recorded in the file: a file whose process no longer exists was
// left by a wrapper that died before releasing, and Acquire reuses it.
// A file with no PID yet is mid-acquire and counts as held. A recycled PID
// can make a leftover file look held; it is never the other way round.
func (m *Manager) List() ([]Entry, error) {
	matches, err := filepath.Glob(filepath.Join(m.dir, "*"+suffix))
	if err != nil {
		return nil, fmt.Errorf("list lock files: %w", err)
	}
	sort.Strings(matches)

	entries := make([]Entry, 0, len(matches))
	for _, path := range matches {
		token := strings.TrimSuffix(filepath.Base(path), suffix)
		h, ok, err := m.Holder(token)
		if err != nil {
			return nil, err
		}
		if !ok {
			if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
				continue
			}
		}
		entries = append(entries, Entry{
			Token:  token,
			Path:   path,
			Held:   !ok || processAlive(h.PID),
			Holder: h,
		})
	}
	return entries, nil
}
