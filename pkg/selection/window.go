package selection

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// windowUnits maps resampling unit suffixes to their width. T is minutes.
var windowUnits = map[string]time.Duration{
	"S":   time.Second,
	"s":   time.Second,
	"sec": time.Second,
	"T":   time.Minute,
	"min": time.Minute,
	"m":   time.Minute,
	"H":   time.Hour,
	"h":   time.Hour,
	"D":   24 * time.Hour,
	"d":   24 * time.Hour,
}

// ParseWindow parses a time window such as "30min", "100s", "30T", "1H" or "2D".
// Go duration strings ("1h30m") are accepted as well.
func ParseWindow(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidWindow)
	}

	split := strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' })
	if split > 0 {
		if unit, ok := windowUnits[s[split:]]; ok {
			n, err := strconv.Atoi(s[:split])
			if err != nil || n <= 0 {
				return 0, fmt.Errorf("%w: %q", ErrInvalidWindow, s)
			}
			return time.Duration(n) * unit, nil
		}
	}

	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: %q (use N followed by S, T/min, H or D)", ErrInvalidWindow, s)
	}
	return d, nil
}
