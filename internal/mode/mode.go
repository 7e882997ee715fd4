// Package mode describes when a command is eligible to run again.
package mode

import (
	"errors"
	"fmt"

	"github.com/mattjoyce/once/internal/bucket"
	"github.com/mattjoyce/once/internal/duration"
)

// ErrConflict is returned when both a period and a window are requested.
var ErrConflict = errors.New("--period and --window are mutually exclusive")

// Kind distinguishes calendar periods from rolling windows.
type Kind int

const (
	KindPeriod Kind = iota
	KindWindow
)

func (k Kind) String() string {
	if k == KindWindow {
		return "window"
	}
	return "period"
}

// Mode is either Period(granularity) or Window(seconds).
type Mode struct {
	Kind        Kind
	Granularity bucket.Granularity

	// WindowSeconds and WindowToken are only set for KindWindow. The token is
	// kept as typed so messages can echo it back.
	WindowSeconds int64
	WindowToken   string
}

// Period returns a calendar-period mode.
func Period(g bucket.Granularity) Mode {
	return Mode{Kind: KindPeriod, Granularity: g}
}

// Window returns a rolling-window mode.
func Window(seconds int64, token string) Mode {
	if token == "" {
		token = duration.Format(seconds)
	}
	return Mode{Kind: KindWindow, WindowSeconds: seconds, WindowToken: token}
}

// Default is Period(day).
func Default() Mode {
	return Period(bucket.Day)
}

// FromFlags builds a Mode from the raw --period / --window values. Empty
// strings mean "not given"; fallback applies when neither is.
func FromFlags(period, window string, fallback Mode) (Mode, error) {
	switch {
	case period != "" && window != "":
		return Mode{}, ErrConflict
	case period != "":
		g, err := bucket.ParseGranularity(period)
		if err != nil {
			return Mode{}, err
		}
		return Period(g), nil
	case window != "":
		secs, err := duration.Parse(window)
		if err != nil {
			return Mode{}, err
		}
		return Window(secs, window), nil
	}
	return fallback, nil
}

func (m Mode) String() string {
	if m.Kind == KindWindow {
		return fmt.Sprintf("window %s", m.WindowToken)
	}
	return fmt.Sprintf("period %s", m.Granularity)
}
