package lock

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateLockFilesystemWithDetector_AllowsLocalFS(t *testing.T) {
	t.Parallel()

	lockDir := filepath.Join(t.TempDir(), "locks")
	err := validateLockFilesystemWithDetector(lockDir, func(path string) (string, error) {
		return "apfs", nil
	})
	if err != nil {
		t.Fatalf("expected local filesystem to pass, got: %v", err)
	}
}

func TestValidateLockFilesystemWithDetector_RejectsNetworkFS(t *testing.T) {
	t.Parallel()

	lockDir := filepath.Join(t.TempDir(), "locks")
	err := validateLockFilesystemWithDetector(lockDir, func(path string) (string, error) {
		return "nfs", nil
	})
	var nfs *networkFSError
	if !errors.As(err, &nfs) {
		t.Fatalf("expected networkFSError, got %v", err)
	}

	msg := err.Error()
	for _, want := range []string{"nfs", "local filesystem", "--state-dir"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected error to contain %q, got %q", want, msg)
		}
	}
}

func TestValidateLockFilesystemWithDetector_UsesNearestExistingPath(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	lockDir := filepath.Join(root, "state", "locks")

	var inspectedPath string
	err := validateLockFilesystemWithDetector(lockDir, func(path string) (string, error) {
		inspectedPath = path
		return "ext4", nil
	})
	if err != nil {
		t.Fatalf("expected local filesystem to pass, got: %v", err)
	}
	if inspectedPath != root {
		t.Fatalf("expected detector to inspect nearest existing path %q, got %q", root, inspectedPath)
	}
}

func TestIsNetworkFilesystem(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		fs   string
		want bool
	}{
		{name: "nfs", fs: "nfs", want: true},
		{name: "cifs uppercase", fs: "CIFS", want: true},
		{name: "local apfs", fs: "apfs", want: false},
		{name: "hex linux magic", fs: "0xef53", want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := isNetworkFilesystem(tc.fs)
			if got != tc.want {
				t.Fatalf("isNetworkFilesystem(%q)=%v, want %v", tc.fs, got, tc.want)
			}
		})
	}
}

func TestCheckFilesystemDoesNotFail(t *testing.T) {
	t.Parallel()

	NewManager(t.TempDir()).CheckFilesystem()
}
