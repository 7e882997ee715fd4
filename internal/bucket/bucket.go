// Package bucket computes calendar-slot labels for period mode and elapsed
// time for window mode.
//
// Week labels follow ISO 8601 week numbering, so the last days of December
// can land in week 01 of the following ISO year (and the first days of
// January in week 52/53 of the previous one). That is intended.
package bucket

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnsupportedClock is returned for a granularity this package cannot label.
var ErrUnsupportedClock = errors.New("unsupported clock granularity")

// ErrInvalidGranularity is returned for a period name that is not one of
// Granularities.
var ErrInvalidGranularity = errors.New("invalid period")

// Granularity is a calendar period size.
type Granularity string

const (
	Hour  Granularity = "hour"
	Day   Granularity = "day"
	Week  Granularity = "week"
	Month Granularity = "month"
)

// Granularities lists the supported values in ascending size.
func Granularities() []Granularity {
	return []Granularity{Hour, Day, Week, Month}
}

// ParseGranularity accepts hour, day, week or month (case-insensitive).
func ParseGranularity(s string) (Granularity, error) {
	g := Granularity(strings.ToLower(strings.TrimSpace(s)))
	switch g {
	case Hour, Day, Week, Month:
		return g, nil
	}
	names := make([]string, 0, len(Granularities()))
	for _, known := range Granularities() {
		names = append(names, string(known))
	}
	return "", fmt.Errorf("%w %q (want one of %s)", ErrInvalidGranularity, s, strings.Join(names, ", "))
}

// Label returns the bucket for now at granularity g, using now's location.
func Label(g Granularity, now time.Time) (string, error) {
	switch g {
	case Hour:
		return now.Format("2006-01-02T15"), nil
	case Day:
		return now.Format("2006-01-02"), nil
	case Month:
		return now.Format("2006-01"), nil
	case Week:
		year, week := now.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedClock, string(g))
}

// Elapsed returns whole seconds between the last run and now. known is false
// when there is no usable last-run time: none recorded, zero, or in the
// future. Callers treat that as "never ran" so a bad timestamp cannot block
// execution.
func Elapsed(last time.Time, ok bool, now time.Time) (seconds int64, known bool) {
	if !ok || last.IsZero() {
		return 0, false
	}
	d := now.Sub(last)
	if d < 0 {
		return 0, false
	}
	return int64(d / time.Second), true
}
