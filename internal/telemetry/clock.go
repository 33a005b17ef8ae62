package telemetry

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseClock converts the clock token of a MAIN frame into a time.
//
// The probe formats its local time tuple joined by '/':
// year/month/day/hour/minute/second[/weekday/yearday]. The trailing weekday
// and yearday are ignored. The probe has no timezone, so loc decides how the
// wall-clock values are interpreted; nil means UTC.
func ParseClock(token string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}

	parts := strings.Split(strings.TrimSpace(token), "/")
	if len(parts) < 6 {
		return time.Time{}, fmt.Errorf("clock %q: want at least 6 components, got %d", token, len(parts))
	}

	var v [6]int
	for i := range v {
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			return time.Time{}, fmt.Errorf("clock %q: component %d: %w", token, i, err)
		}
		v[i] = n
	}

	if v[0] < 1 || v[1] < 1 || v[1] > 12 || v[2] < 1 || v[2] > 31 ||
		v[3] < 0 || v[3] > 23 || v[4] < 0 || v[4] > 59 || v[5] < 0 || v[5] > 59 {
		return time.Time{}, fmt.Errorf("clock %q: component out of range", token)
	}

	t := time.Date(v[0], time.Month(v[1]), v[2], v[3], v[4], v[5], 0, loc)
	if t.Day() != v[2] || int(t.Month()) != v[1] {
		return time.Time{}, fmt.Errorf("clock %q: no such date", token)
	}
	return t, nil
}
