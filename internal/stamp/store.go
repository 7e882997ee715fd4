// Package stamp persists the marker files that record successful runs.
//
// Layout under the state root:
//
//	periods/<bucket>/<token>.stamp   one marker per calendar slot
//	windows/<token>.stamp            mtime is the last successful run
//
// Markers are never deleted here; a new period bucket simply has no marker yet.
package stamp

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/mattjoyce/once/internal/mode"
)

const (
	periodsDir = "periods"
	windowsDir = "windows"
	suffix     = ".stamp"

	// DirPerm is applied to every directory the store creates.
	DirPerm  fs.FileMode = 0o700
	filePerm fs.FileMode = 0o600
)

// Store reads and writes stamps below Root.
type Store struct {
	root string
	now  func() time.Time
}

// NewStore returns a store rooted at root. now defaults to time.Now.
func NewStore(root string, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{root: root, now: now}
}

// Root returns the state root directory.
func (s *Store) Root() string { return s.root }

// Path returns the marker path for m. bucket is ignored in window mode.
func (s *Store) Path(m mode.Mode, token, bucket string) string {
	if m.Kind == mode.KindWindow {
		return filepath.Join(s.root, windowsDir, token+suffix)
	}
	return filepath.Join(s.root, periodsDir, bucket, token+suffix)
}

// Exists reports whether a marker exists. Stat errors other than
// "not exist" are returned rather than read as either answer.
func (s *Store) Exists(m mode.Mode, token, bucket string) (bool, error) {
	if err := validate(m, token, bucket); err != nil {
		return false, err
	}
	_, err := os.Stat(s.Path(m, token, bucket))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat stamp: %w", err)
}

// LastModified returns the marker's mtime in window mode. ok is false when no
// marker exists.
func (s *Store) LastModified(m mode.Mode, token string) (t time.Time, ok bool, err error) {
	if m.Kind != mode.KindWindow {
		return time.Time{}, false, fmt.Errorf("last modified is only tracked in window mode")
	}
	if err := validate(m, token, ""); err != nil {
		return time.Time{}, false, err
	}
	info, err := os.Stat(s.Path(m, token, ""))
	if errors.Is(err, fs.ErrNotExist) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("stat stamp: %w", err)
	}
	return info.ModTime(), true, nil
}

// MarkNow writes an empty marker whose mtime is the store clock's now.
// The marker is built as a temp file and renamed into place, so readers
// never see a half-written stamp. Calling it again just moves the mtime.
func (s *Store) MarkNow(m mode.Mode, token, bucket string) error {
	if err := validate(m, token, bucket); err != nil {
		return err
	}
	path := s.Path(m, token, bucket)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerm); err != nil {
		return fmt.Errorf("create stamp directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return fmt.Errorf("create stamp: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if err := tmpFile.Chmod(filePerm); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("chmod stamp: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close stamp: %w", err)
	}
	now := s.now()
	if err := os.Chtimes(tmpPath, now, now); err != nil {
		return fmt.Errorf("set stamp time: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("write stamp: %w", err)
	}
	return nil
}

func validate(m mode.Mode, token, bucket string) error {
	if token == "" {
		return fmt.Errorf("stamp token is empty")
	}
	if m.Kind == mode.KindPeriod && bucket == "" {
		return fmt.Errorf("period stamp needs a bucket")
	}
	return nil
}
