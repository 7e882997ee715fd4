// Package explain renders the --explain report: how an invocation was
// identified and why it ran or was skipped.
package explain

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/mattjoyce/once/internal/controller"
	"github.com/mattjoyce/once/internal/mode"
)

// Report is the structured form of an explain report.
type Report struct {
	Command    string   `json:"command"`
	Executable string   `json:"executable"`
	Args       []string `json:"args"`
	WorkingDir string   `json:"cwd"`
	ExtraKey   string   `json:"extra_key,omitempty"`
	Token      string   `json:"token"`
	Hash       string   `json:"hash"`
	Mode       string   `json:"mode"`
	Bucket     string   `json:"bucket,omitempty"`
	Window     string   `json:"window,omitempty"`
	StampPath  string   `json:"stamp_path,omitempty"`
	LockPath   string   `json:"lock_path"`
	LastRun    string   `json:"last_run,omitempty"`
	Elapsed    *int64   `json:"elapsed_seconds,omitempty"`
	Decision   string   `json:"decision"`
	Reason     string   `json:"reason"`
	Forced     bool     `json:"forced,omitempty"`
	DryRun     bool     `json:"dry_run,omitempty"`
	HolderPID  int      `json:"holder_pid,omitempty"`
	ExitCode   *int     `json:"exit_code,omitempty"`

	lastRun time.Time
	now     time.Time
}

// FromResult builds a report for res. argv0 is the command as typed.
func FromResult(res *controller.Result, argv0 string, now time.Time) Report {
	id := res.Identity
	rep := Report{
		Command:    CommandLine(argv0, id.Args),
		Executable: id.ExecutablePath,
		Args:       id.Args,
		WorkingDir: id.WorkingDir,
		ExtraKey:   id.ExtraKey,
		Token:      res.Token,
		Hash:       res.Hash,
		Mode:       res.Mode.String(),
		StampPath:  res.StampPath,
		LockPath:   res.LockPath,
		Decision:   res.Outcome.String(),
		Reason:     res.Reason,
		Forced:     res.Forced,
		DryRun:     res.DryRun,
		now:        now,
	}
	if rep.Args == nil {
		rep.Args = []string{}
	}

	switch res.Mode.Kind {
	case mode.KindPeriod:
		rep.Bucket = res.Bucket
	case mode.KindWindow:
		rep.Window = res.Mode.WindowToken
		if res.HasLastRun {
			rep.lastRun = res.LastRun
			rep.LastRun = res.LastRun.Format(time.RFC3339)
			elapsed := res.ElapsedSeconds
			rep.Elapsed = &elapsed
		}
	}
	if res.Holder != nil {
		rep.HolderPID = res.Holder.PID
	}
	if res.Outcome == controller.OutcomeRan || res.Outcome == controller.OutcomeFailed {
		code := res.ExitCode
		rep.ExitCode = &code
	}
	return rep
}

// Render writes rep as an aligned key/value listing.
func Render(w io.Writer, rep Report) error {
	r := lipgloss.NewRenderer(w)
	theme := NewTheme(r)

	var out strings.Builder
	out.WriteString(theme.Title.Render("once: "+rep.Command) + "\n")

	field := func(key, value string) {
		if value == "" {
			return
		}
		fmt.Fprintf(&out, "  %s %s\n", theme.Key.Render(fmt.Sprintf("%-10s:", key)), theme.Value.Render(value))
	}

	field("exe", rep.Executable)
	field("args", renderArgs(rep.Args))
	field("cwd", rep.WorkingDir)
	field("extra", rep.ExtraKey)
	field("token", rep.Token)
	field("hash", rep.Hash)
	field("mode", rep.Mode)
	field("bucket", rep.Bucket)
	field("window", rep.Window)
	field("stamp", rep.StampPath)
	field("lock", rep.LockPath)
	if rep.LastRun != "" {
		field("last run", rep.LastRun+" "+theme.Dim.Render("("+humanize.RelTime(rep.lastRun, rep.now, "ago", "from now")+")"))
	}
	if rep.Elapsed != nil {
		field("elapsed", strconv.FormatInt(*rep.Elapsed, 10)+"s")
	}
	if rep.HolderPID > 0 {
		field("holder", "pid "+strconv.Itoa(rep.HolderPID))
	}
	if rep.ExitCode != nil {
		field("exit code", strconv.Itoa(*rep.ExitCode))
	}

	decision := rep.Decision
	if rep.Forced {
		decision += " (forced)"
	}
	field("decision", decisionStyle(theme, rep.Decision).Render(decision))
	field("reason", rep.Reason)

	_, err := io.WriteString(w, out.String())
	return err
}

// RenderJSON writes rep as indented JSON.
func RenderJSON(w io.Writer, rep Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

func decisionStyle(theme Theme, decision string) lipgloss.Style {
	switch decision {
	case controller.OutcomeRan.String(), controller.OutcomeDryRun.String():
		return theme.Run
	case controller.OutcomeSkipped.String():
		return theme.Skip
	case controller.OutcomeBusy.String():
		return theme.Busy
	}
	return theme.Failure
}

func renderArgs(args []string) string {
	if len(args) == 0 {
		return "<none>"
	}
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = strconv.Quote(a)
	}
	return strings.Join(quoted, " ")
}

// CommandLine joins argv0 and args for display, quoting words that would
// not survive a shell round trip.
func CommandLine(argv0 string, args []string) string {
	words := make([]string, 0, len(args)+1)
	for _, w := range append([]string{argv0}, args...) {
		words = append(words, quoteWord(w))
	}
	return strings.Join(words, " ")
}

func quoteWord(w string) string {
	if w == "" {
		return "''"
	}
	if strings.IndexFunc(w, needsQuote) < 0 {
		return w
	}
	return "'" + strings.ReplaceAll(w, "'", `'\''`) + "'"
}

func needsQuote(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	return !strings.ContainsRune("-_./=:,@%+", r)
}
