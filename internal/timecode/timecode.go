// Package timecode converts between "M:SS" / "H:MM:SS" strings and seconds.
package timecode

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrMalformed is returned by ParseStrict for input that is not a timecode.
var ErrMalformed = errors.New("malformed timecode")

// Parse returns the number of seconds in s. Empty or malformed input yields 0,
// so callers cannot tell "0:00" apart from garbage; use ParseStrict when that matters.
func Parse(s string) float64 {
	secs, err := ParseStrict(s)
	if err != nil {
		return 0
	}
	return secs
}

// ParseStrict is Parse with an error for malformed input. Empty input is 0.
func ParseStrict(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("%w: %q", ErrMalformed, s)
	}

	vals := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("%w: %q", ErrMalformed, s)
		}
		vals[i] = v
	}

	if len(vals) == 2 {
		return vals[0]*60 + vals[1], nil
	}
	return vals[0]*3600 + vals[1]*60 + vals[2], nil
}

// Format renders t as "M:SS". Hours are folded into minutes.
func Format(t float64) string {
	if math.IsNaN(t) || math.IsInf(t, 0) || t == 0 {
		return "0:00"
	}
	minutes := math.Floor(t / 60)
	seconds := math.Floor(math.Mod(t, 60))
	return fmt.Sprintf("%d:%02d", int64(minutes), int64(seconds))
}
