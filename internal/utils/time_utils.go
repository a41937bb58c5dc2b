package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var unitDurations = map[string]time.Duration{
	"ms": time.Millisecond,
	"s":  time.Second,
	"m":  time.Minute,
	"h":  time.Hour,
	"d":  24 * time.Hour,
}

// ParseStringTime parses durations like "500ms", "10s", "20M", "48h" or "2d".
// An empty string yields zero. Anything else falls back to time.ParseDuration.
func ParseStringTime(timeString string) (time.Duration, error) {
	timeString = strings.ToLower(strings.TrimSpace(timeString))
	if timeString == "" {
		return 0, nil
	}

	// "ms" must be checked before "m" and "s"
	for _, unit := range []string{"ms", "s", "m", "h", "d"} {
		cutString, found := strings.CutSuffix(timeString, unit)
		if !found {
			continue
		}
		number, err := strconv.Atoi(cutString)
		if err != nil {
			break
		}
		if number < 0 {
			return 0, fmt.Errorf("negative duration: %s", timeString)
		}
		return time.Duration(number) * unitDurations[unit], nil
	}

	duration, err := time.ParseDuration(timeString)
	if err != nil {
		return 0, fmt.Errorf("invalid time format: %s", timeString)
	}
	if duration < 0 {
		return 0, fmt.Errorf("negative duration: %s", timeString)
	}
	return duration, nil
}

// MustParseStringTime is ParseStringTime for values already validated, falling back to def.
func MustParseStringTime(timeString string, def time.Duration) time.Duration {
	duration, err := ParseStringTime(timeString)
	if err != nil || duration == 0 {
		return def
	}
	return duration
}
