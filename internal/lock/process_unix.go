//go:build unix

package lock

import (
	"errors"

	"golang.org/x/sys/unix"
)

// processAlive reports whether pid names an existing process. Signal 0 only
// checks for existence; EPERM means it exists under another user.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
