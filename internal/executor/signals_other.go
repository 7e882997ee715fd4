//go:build !unix

package executor

import "os"

var forwardedSignals = []os.Signal{os.Interrupt}

func terminate(p *os.Process) error {
	return p.Kill()
}
