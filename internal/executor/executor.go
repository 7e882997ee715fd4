// Package executor runs the wrapped command with the wrapper's own stdio.
//
// Key behaviour:
//   - stdin/stdout/stderr are passed through unmodified
//   - the environment and working directory are inherited unless set
//   - no timeout is imposed on the child
//   - signals received while the child runs are forwarded to it, and the
//     wrapper waits for the child instead of dying first
//   - context cancellation sends SIGTERM, then SIGKILL after a grace period
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"time"

	"github.com/mattjoyce/once/internal/log"
)

//go:generate mockgen -destination=mocks/mock_executor.go -package=mocks github.com/mattjoyce/once/internal/executor Executor

// DefaultGracePeriod is how long a cancelled child gets between SIGTERM and SIGKILL.
const DefaultGracePeriod = 5 * time.Second

// Command is one invocation of the wrapped program.
type Command struct {
	// Path is the resolved executable.
	Path string

	// Argv0 is what the child sees as its name; defaults to Path.
	Argv0 string
	Args  []string

	// Dir and Env default to the wrapper's own when empty / nil.
	Dir string
	Env []string
}

// Executor runs a command to completion and reports its exit status.
// A non-nil error means the command could not be run at all; a command that
// ran and failed returns its non-zero status (or -1 if killed by a signal).
type Executor interface {
	Run(ctx context.Context, c Command) (int, error)
}

// Process executes commands as child processes.
type Process struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	GracePeriod time.Duration

	logger *slog.Logger
}

// NewProcess returns an executor wired to the wrapper's stdio.
func NewProcess() *Process {
	return &Process{
		Stdin:       os.Stdin,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
		GracePeriod: DefaultGracePeriod,
		logger:      log.WithComponent("executor"),
	}
}

// Run starts c and blocks until it exits.
func (p *Process) Run(ctx context.Context, c Command) (int, error) {
	logger := p.logger
	if logger == nil {
		logger = log.WithComponent("executor")
	}

	// Don't use CommandContext - termination is managed below.
	cmd := exec.Command(c.Path, c.Args...)
	if c.Argv0 != "" {
		cmd.Args[0] = c.Argv0
	}
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	cmd.Stdin = p.Stdin
	cmd.Stdout = p.Stdout
	cmd.Stderr = p.Stderr

	grace := p.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	// Stops Wait hanging on grandchildren that inherited a stdio pipe.
	cmd.WaitDelay = grace

	// Register before Start so nothing arrives unhandled in between.
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, forwardedSignals...)
	defer signal.Stop(sigCh)

	logger.Debug("starting command", "path", c.Path, "args", c.Args, "dir", c.Dir)
	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("start %s: %w", c.Path, err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	var killTimer <-chan time.Time
	done := ctx.Done()

	for {
		select {
		case sig := <-sigCh:
			logger.Info("forwarding signal to command", "signal", sig.String(), "pid", cmd.Process.Pid)
			if err := cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
				logger.Error("failed to forward signal", "signal", sig.String(), "error", err)
			}

		case <-done:
			logger.Warn("context cancelled, terminating command", "pid", cmd.Process.Pid)
			if err := terminate(cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
				logger.Error("failed to send SIGTERM", "error", err)
			}
			done = nil
			t := time.NewTimer(grace)
			defer t.Stop()
			killTimer = t.C

		case <-killTimer:
			logger.Warn("command did not exit after SIGTERM, sending SIGKILL", "pid", cmd.Process.Pid)
			if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				logger.Error("failed to send SIGKILL", "error", err)
			}
			killTimer = nil

		case err := <-waitErr:
			return exitStatus(err)
		}
	}
}

func exitStatus(err error) (int, error) {
	if err == nil || errors.Is(err, exec.ErrWaitDelay) {
		// ErrWaitDelay: the command itself exited 0, only pipe copying was cut short.
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// ExitCode is -1 when the child was terminated by a signal.
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("wait for command: %w", err)
}
