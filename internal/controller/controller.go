// Package controller makes the run/skip decision for one invocation and
// carries it out under the identity lock.
//
// State machine:
//
//	Start -> LockAcquired -> Decided{Run|Skip} -> Finished{Success|Failure}
//
// The lock is released on every path out of LockAcquired. A stamp is written
// only after the command exits 0; skips, dry runs and failures never touch it.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattjoyce/once/internal/bucket"
	"github.com/mattjoyce/once/internal/executor"
	"github.com/mattjoyce/once/internal/identity"
	"github.com/mattjoyce/once/internal/lock"
	"github.com/mattjoyce/once/internal/log"
	"github.com/mattjoyce/once/internal/mode"
)

// Locker hands out identity locks.
type Locker interface {
	Acquire(token string) (*lock.Lock, error)
	Holder(token string) (lock.Holder, bool, error)
	Path(token string) string
}

// Stamps is the stamp store.
type Stamps interface {
	Path(m mode.Mode, token, bucket string) string
	Exists(m mode.Mode, token, bucket string) (bool, error)
	LastModified(m mode.Mode, token string) (time.Time, bool, error)
	MarkNow(m mode.Mode, token, bucket string) error
}

// Request is one protected invocation.
type Request struct {
	Identity *identity.Resolved

	// Argv0 is the command as typed, passed to the child as its name.
	Argv0 string
	Mode  mode.Mode

	// Force runs regardless of stamps; DryRun reports without running.
	Force  bool
	DryRun bool
}

// Result describes what happened and why.
type Result struct {
	Outcome Outcome
	Reason  string

	Identity identity.Identity
	Token    string
	Hash     string
	Mode     mode.Mode
	Forced   bool
	DryRun   bool

	Bucket    string
	StampPath string
	LockPath  string

	// HasLastRun is false when there is no usable window stamp.
	LastRun        time.Time
	HasLastRun     bool
	ElapsedSeconds int64

	// ExitCode is the child's exit status when it ran.
	ExitCode int

	// Holder is set for OutcomeBusy when the lock file names its owner.
	Holder *lock.Holder
}

// Controller wires the lock manager, stamp store and executor together.
type Controller struct {
	locks  Locker
	stamps Stamps
	exec   executor.Executor
	now    func() time.Time
	logger *slog.Logger
}

// New creates a Controller. now defaults to time.Now; logger to the
// "controller" component logger.
func New(locks Locker, stamps Stamps, exec executor.Executor, now func() time.Time, logger *slog.Logger) *Controller {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = log.WithComponent("controller")
	}
	return &Controller{
		locks:  locks,
		stamps: stamps,
		exec:   exec,
		now:    now,
		logger: logger,
	}
}

// Run executes req. A non-nil error means an infrastructure failure (lock or
// stamp I/O, command could not be started) and always maps to exit 1.
func (c *Controller) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Identity == nil {
		return nil, fmt.Errorf("request has no identity")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := req.Identity
	res := &Result{
		Identity: id.Identity,
		Token:    id.Token,
		Hash:     id.Hash,
		Mode:     req.Mode,
		Forced:   req.Force,
		DryRun:   req.DryRun,
		LockPath: c.locks.Path(id.Token),
		ExitCode: -1,
	}
	logger := c.logger.With("token", shortToken(id.Token), "mode", req.Mode.String())

	// Start -> LockAcquired
	lk, err := c.locks.Acquire(id.Token)
	if errors.Is(err, lock.ErrBusy) {
		res.Outcome = OutcomeBusy
		res.Reason = "another invocation holds the lock"
		if h, ok, herr := c.locks.Holder(id.Token); herr == nil && ok {
			res.Holder = &h
			res.Reason = fmt.Sprintf("pid %d holds the lock", h.PID)
		}
		logger.Info("lock busy", "lock", res.LockPath)
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	defer func() {
		if rerr := lk.Release(); rerr != nil {
			logger.Warn("failed to release lock cleanly", "lock", res.LockPath, "error", rerr)
		}
	}()
	logger.Debug("lock acquired", "lock", res.LockPath)

	// LockAcquired -> Decided
	run, err := c.decide(req, res)
	if err != nil {
		return nil, err
	}
	if !run {
		res.Outcome = OutcomeSkipped
		logger.Info("skipping command", "reason", res.Reason)
		return res, nil
	}

	if req.DryRun {
		res.Outcome = OutcomeDryRun
		logger.Info("dry run, not executing", "reason", res.Reason)
		return res, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Decided{Run} -> Finished
	logger.Info("running command", "exe", id.ExecutablePath, "reason", res.Reason)
	code, err := c.exec.Run(ctx, executor.Command{
		Path:  id.ExecutablePath,
		Argv0: req.Argv0,
		Args:  id.Args,
		Dir:   id.WorkingDir,
	})
	if err != nil {
		return nil, fmt.Errorf("run command: %w", err)
	}
	res.ExitCode = code

	if code != 0 {
		res.Outcome = OutcomeFailed
		res.Reason = fmt.Sprintf("command exited with status %d", code)
		if code < 0 {
			res.Reason = "command was terminated by a signal"
		}
		logger.Warn("command failed, stamp left untouched", "exit_code", code)
		return res, nil
	}

	if err := c.stamps.MarkNow(req.Mode, id.Token, res.Bucket); err != nil {
		return nil, fmt.Errorf("record stamp: %w", err)
	}
	res.Outcome = OutcomeRan
	logger.Info("command succeeded, stamp recorded", "stamp", res.StampPath)
	return res, nil
}

// decide fills the bucket/stamp fields of res and reports whether to run.
func (c *Controller) decide(req Request, res *Result) (bool, error) {
	now := c.now()
	token := req.Identity.Token

	switch req.Mode.Kind {
	case mode.KindPeriod:
		label, err := bucket.Label(req.Mode.Granularity, now)
		if err != nil {
			return false, err
		}
		res.Bucket = label
		res.StampPath = c.stamps.Path(req.Mode, token, label)

		if req.Force {
			res.Reason = "forced"
			return true, nil
		}
		exists, err := c.stamps.Exists(req.Mode, token, label)
		if err != nil {
			return false, fmt.Errorf("check stamp: %w", err)
		}
		if exists {
			res.Reason = fmt.Sprintf("already ran in %s %s", req.Mode.Granularity, label)
			return false, nil
		}
		res.Reason = fmt.Sprintf("no run yet in %s %s", req.Mode.Granularity, label)
		return true, nil

	case mode.KindWindow:
		res.StampPath = c.stamps.Path(req.Mode, token, "")

		last, ok, err := c.stamps.LastModified(req.Mode, token)
		if err != nil {
			return false, fmt.Errorf("check stamp: %w", err)
		}
		elapsed, known := bucket.Elapsed(last, ok, now)
		res.LastRun, res.HasLastRun, res.ElapsedSeconds = last, known, elapsed

		if req.Force {
			res.Reason = "forced"
			return true, nil
		}
		switch {
		case !ok:
			res.Reason = "no previous successful run"
			return true, nil
		case !known:
			res.Reason = "stamp time is unusable; treating as never run"
			return true, nil
		case elapsed < req.Mode.WindowSeconds:
			res.Reason = fmt.Sprintf("ran %ds ago; window %s", elapsed, req.Mode.WindowToken)
			return false, nil
		}
		res.Reason = fmt.Sprintf("last run %ds ago is outside window %s", elapsed, req.Mode.WindowToken)
		return true, nil
	}
	return false, fmt.Errorf("unknown mode kind %d", req.Mode.Kind)
}

func shortToken(token string) string {
	if len(token) <= 12 {
		return token
	}
	return token[:12]
}
