//go:build unix

package executor

import (
	"os"

	"golang.org/x/sys/unix"
)

var forwardedSignals = []os.Signal{unix.SIGINT, unix.SIGTERM, unix.SIGHUP, unix.SIGQUIT}

func terminate(p *os.Process) error {
	return p.Signal(unix.SIGTERM)
}
