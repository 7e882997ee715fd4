// Command once runs a command at most once per calendar period or sliding
// time window, keyed by what is being run and where.
//
//	once [--period hour|day|week|month | --window 1h] [flags] -- command [args...]
package main

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"

	"github.com/mattjoyce/once/internal/bucket"
	"github.com/mattjoyce/once/internal/controller"
)

// ErrUsage marks bad or missing flags. Nothing on disk is touched.
var ErrUsage = errors.New("usage error")

type options struct {
	period     string
	window     string
	keyExtra   string
	stateDir   string
	logLevel   string
	configPath string
	force      bool
	dryRun     bool
	explain    bool
}

type cli struct {
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
	environ map[string]string
	now     func() time.Time

	opts     options
	exitCode int
}

func main() {
	os.Exit(runCLI(os.Args[1:], os.Stdout, os.Stderr))
}

func runCLI(args []string, stdout, stderr io.Writer) int {
	return newCLI(os.Stdin, stdout, stderr, env.ToMap(os.Environ())).run(args)
}

func newCLI(stdin io.Reader, stdout, stderr io.Writer, environ map[string]string) *cli {
	return &cli{
		stdin:   stdin,
		stdout:  stdout,
		stderr:  stderr,
		environ: environ,
		now:     time.Now,
	}
}

func (c *cli) run(args []string) int {
	root := c.newRootCmd()
	root.SetArgs(args)
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(c.stderr, "once: %v\n", err)
		if errors.Is(err, ErrUsage) {
			fmt.Fprintln(c.stderr, "Run 'once --help' for usage.")
		}
		return controller.ExitFailure
	}
	return c.exitCode
}

func (c *cli) newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "once [flags] -- command [args...]",
		Short: "Run a command at most once per period or time window",
		Long: `once wraps a command and runs it only if it has not already succeeded in the
current calendar period (--period) or within a sliding window (--window).

A command is identified by its resolved executable, its arguments, the working
directory and an optional --key-extra string. Concurrent invocations of the
same command are serialised by a lock; the loser exits immediately.

Exit codes:
  0  command ran and succeeded (or would run, with --dry-run)
  1  command failed, usage error or internal error
  3  skipped: already ran in this period or window
  4  busy: another invocation of the same command is running`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runProtected(cmd.Context(), args)
		},
	}

	flags := root.Flags()
	flags.SetInterspersed(false)
	periods := make([]string, 0, len(bucket.Granularities()))
	for _, g := range bucket.Granularities() {
		periods = append(periods, string(g))
	}
	flags.StringVar(&c.opts.period, "period", "", "calendar bucket: "+strings.Join(periods, "|")+" (default from config, usually day)")
	flags.StringVar(&c.opts.window, "window", "", "sliding window, e.g. 90s, 15m, 1h, 2d, 1w")
	flags.StringVar(&c.opts.keyExtra, "key-extra", "", "extra string mixed into the command identity")
	flags.BoolVar(&c.opts.force, "force", false, "run even if already run in this period/window")
	flags.BoolVar(&c.opts.dryRun, "dry-run", false, "report the decision without running or stamping")
	flags.BoolVar(&c.opts.explain, "explain", false, "print how the command was identified and why it ran or not")

	persistent := root.PersistentFlags()
	persistent.StringVar(&c.opts.stateDir, "state-dir", "", "directory for stamps and locks (env ONCE_STATE_DIR)")
	persistent.StringVar(&c.opts.logLevel, "log-level", "", "log level: debug, info, warn, error (env ONCE_LOG_LEVEL)")
	persistent.StringVar(&c.opts.configPath, "config", "", "config file (env ONCE_CONFIG)")

	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	})

	root.AddCommand(c.newVersionCmd(), c.newDoctorCmd())
	return root
}

// configEnviron layers flag values over the process environment so they take
// precedence over the config file and ONCE_* variables.
func (c *cli) configEnviron() map[string]string {
	environ := maps.Clone(c.environ)
	if environ == nil {
		environ = map[string]string{}
	}
	if c.opts.stateDir != "" {
		environ["ONCE_STATE_DIR"] = c.opts.stateDir
	}
	if c.opts.logLevel != "" {
		environ["ONCE_LOG_LEVEL"] = c.opts.logLevel
	}
	return environ
}
