package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var networkFilesystems = map[string]struct{}{
	"afpfs":  {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// CheckFilesystem logs a warning when the lock directory lives on a network
// filesystem, where flock(2) may be emulated or per-host only. It never fails
// the caller; detection errors are logged at debug level.
func (m *Manager) CheckFilesystem() {
	if err := validateLockFilesystem(m.dir); err != nil {
		var nfs *networkFSError
		if errors.As(err, &nfs) {
			m.logger.Warn("lock directory is on a network filesystem; mutual exclusion is only reliable on one host",
				"path", m.dir, "fs_type", nfs.fsType)
			return
		}
		m.logger.Debug("could not detect lock filesystem", "path", m.dir, "error", err)
	}
}

type networkFSError struct {
	path   string
	fsType string
}

func (e *networkFSError) Error() string {
	return fmt.Sprintf("lock path %q is on network filesystem %q; flock requires a local filesystem for reliable locking, set --state-dir to a local path", e.path, e.fsType)
}

func validateLockFilesystem(path string) error {
	return validateLockFilesystemWithDetector(path, detectFilesystemType)
}

func validateLockFilesystemWithDetector(path string, detector func(string) (string, error)) error {
	if path == "" {
		return fmt.Errorf("lock path is empty")
	}

	inspectPath, err := nearestExistingPath(path)
	if err != nil {
		return fmt.Errorf("resolve lock path %q: %w", path, err)
	}

	fsType, err := detector(inspectPath)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", inspectPath, err)
	}

	if isNetworkFilesystem(fsType) {
		return &networkFSError{path: path, fsType: fsType}
	}
	return nil
}

func nearestExistingPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}

	candidate := absPath
	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}

		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", absPath)
		}
		candidate = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	normalized := strings.TrimSpace(strings.ToLower(fsType))
	_, found := networkFilesystems[normalized]
	return found
}
