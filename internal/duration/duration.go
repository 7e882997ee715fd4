// Package duration parses the compact duration tokens accepted by --window.
package duration

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidDuration is returned when a token's numeric prefix is not a
// non-negative integer or the result does not fit in int64 seconds.
var ErrInvalidDuration = errors.New("invalid duration")

var unitSeconds = map[byte]int64{
	's': 1,
	'm': 60,
	'h': 3600,
	'd': 86400,
	'w': 604800,
}

// Parse converts a token such as "90m", "6h", "2d" or "3600" into seconds.
// A token without a unit suffix is already in seconds.
func Parse(token string) (int64, error) {
	raw := strings.TrimSpace(token)
	if raw == "" {
		return 0, fmt.Errorf("%w: empty value", ErrInvalidDuration)
	}

	mult := int64(1)
	if unit, ok := unitSeconds[raw[len(raw)-1]]; ok {
		mult = unit
		raw = raw[:len(raw)-1]
	}

	// ParseUint alone would accept "+5"; only plain digits are allowed.
	if raw == "" || strings.TrimLeft(raw, "0123456789") != "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, token)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, token)
	}
	if n > math.MaxInt64/mult {
		return 0, fmt.Errorf("%w: %q overflows", ErrInvalidDuration, token)
	}
	return n * mult, nil
}

// Format renders seconds using the largest unit that divides it evenly,
// e.g. 3600 -> "1h", 90 -> "90s".
func Format(seconds int64) string {
	for _, u := range []struct {
		suffix string
		size   int64
	}{
		{"w", 604800},
		{"d", 86400},
		{"h", 3600},
		{"m", 60},
	} {
		if seconds > 0 && seconds%u.size == 0 {
			return strconv.FormatInt(seconds/u.size, 10) + u.suffix
		}
	}
	return strconv.FormatInt(seconds, 10) + "s"
}
