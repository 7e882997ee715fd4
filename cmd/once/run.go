package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mattjoyce/once/internal/config"
	"github.com/mattjoyce/once/internal/controller"
	"github.com/mattjoyce/once/internal/executor"
	"github.com/mattjoyce/once/internal/explain"
	"github.com/mattjoyce/once/internal/identity"
	"github.com/mattjoyce/once/internal/lock"
	"github.com/mattjoyce/once/internal/log"
	"github.com/mattjoyce/once/internal/mode"
	"github.com/mattjoyce/once/internal/stamp"
)

func (c *cli) runProtected(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: no command given", ErrUsage)
	}

	cfg, err := config.LoadWithEnv(c.opts.configPath, c.configEnviron())
	if err != nil {
		return err
	}
	log.Setup(cfg.LogLevel, cfg.LogFormat, c.stderr)
	logger := log.WithRun(uuid.NewString())

	fallback, err := cfg.DefaultMode()
	if err != nil {
		return err
	}
	m, err := mode.FromFlags(c.opts.period, c.opts.window, fallback)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUsage, err)
	}

	provider, err := cfg.Digest()
	if err != nil {
		return err
	}
	resolved, err := identity.NewResolver(provider).Resolve(args[0], args[1:], c.opts.keyExtra)
	if err != nil {
		return err
	}
	logger.Debug("resolved command",
		"exe", resolved.ExecutablePath,
		"cwd", resolved.WorkingDir,
		"token", resolved.Token,
		"hash", resolved.Hash,
		"config", cfg.SourceFile,
		"state_dir", cfg.StateDir,
	)

	locks := lock.NewManager(cfg.StateDir)
	locks.CheckFilesystem()

	proc := executor.NewProcess()
	proc.Stdin, proc.Stdout, proc.Stderr = c.stdin, c.stdout, c.stderr

	ctrl := controller.New(locks, stamp.NewStore(cfg.StateDir, c.now), proc, c.now, logger.With("component", "controller"))
	res, err := ctrl.Run(ctx, controller.Request{
		Identity: resolved,
		Argv0:    args[0],
		Mode:     m,
		Force:    c.opts.force,
		DryRun:   c.opts.dryRun,
	})
	if err != nil {
		return err
	}

	if c.opts.explain {
		rep := explain.FromResult(res, args[0], c.now())
		render := explain.Render
		if cfg.LogFormat == "json" {
			render = explain.RenderJSON
		}
		if err := render(c.stderr, rep); err != nil {
			logger.Warn("failed to render explain report", "error", err)
		}
	}

	switch res.Outcome {
	case controller.OutcomeSkipped:
		fmt.Fprintf(c.stderr, "Skipped: %s.\n", res.Reason)
	case controller.OutcomeBusy:
		fmt.Fprintln(c.stderr, "Busy: another invocation is running this command.")
	case controller.OutcomeDryRun:
		fmt.Fprintf(c.stderr, "Dry run: would run %s.\n", explain.CommandLine(args[0], args[1:]))
	}

	c.exitCode = res.Outcome.ExitCode()
	return nil
}
