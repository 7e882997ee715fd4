package controller

// Exit codes of the wrapper.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitSkipped = 3
	ExitBusy    = 4
)

// Outcome is the terminal state of one protected invocation.
type Outcome int

const (
	// OutcomeRan: the command ran, exited 0 and was stamped.
	OutcomeRan Outcome = iota
	// OutcomeDryRun: the command would have run.
	OutcomeDryRun
	// OutcomeSkipped: a stamp for the current period/window exists.
	OutcomeSkipped
	// OutcomeBusy: another invocation holds the identity lock.
	OutcomeBusy
	// OutcomeFailed: the command exited non-zero or was killed.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRan:
		return "ran"
	case OutcomeDryRun:
		return "dry-run"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeBusy:
		return "busy"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// ExitCode maps the outcome to the wrapper's exit status.
func (o Outcome) ExitCode() int {
	switch o {
	case OutcomeRan, OutcomeDryRun:
		return ExitOK
	case OutcomeSkipped:
		return ExitSkipped
	case OutcomeBusy:
		return ExitBusy
	}
	return ExitFailure
}
