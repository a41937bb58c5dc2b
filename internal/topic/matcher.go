// Package topic matches published topics against subscription patterns.
package topic

import (
	"strings"
)

const (
	Separator      = "/"
	SingleLevel    = "*"
	MultiLevel     = ">"
	sharePrefix    = "#share"
	noExportPrefix = "#noexport"
)

// Split splits a topic or pattern into its segments.
func Split(topic string) []string {
	if topic == "" {
		return nil
	}
	return strings.Split(topic, Separator)
}

// StripPrefixes drops leading "#share/<name>" and "#noexport" segments, in either order.
func StripPrefixes(segments []string) []string {
	for i := 0; i < 2; i++ {
		switch {
		case len(segments) > 0 && segments[0] == noExportPrefix:
			segments = segments[1:]
		case len(segments) > 1 && segments[0] == sharePrefix:
			segments = segments[2:]
		}
	}
	return segments
}

// Match reports whether topic matches the pattern segments.
//   - ">" as the last segment matches one or more remaining levels
//   - "*" matches exactly one level
//   - "abc*" matches one level starting with "abc"
//   - anything else must be equal
func Match(pattern []string, topic string) bool {
	if topic == "" {
		return false
	}
	pattern = StripPrefixes(pattern)
	levels := strings.Split(topic, Separator)

	for i, segment := range pattern {
		if segment == MultiLevel && i == len(pattern)-1 {
			return i < len(levels)
		}
		if i >= len(levels) {
			return false
		}
		if !matchSegment(segment, levels[i]) {
			return false
		}
	}
	return len(pattern) == len(levels)
}

// Matches is Match for an unsplit pattern.
func Matches(pattern string, topic string) bool {
	return Match(Split(pattern), topic)
}

func matchSegment(segment string, level string) bool {
	if segment == SingleLevel {
		return true
	}
	if len(segment) > 1 && strings.HasSuffix(segment, SingleLevel) {
		return strings.HasPrefix(level, segment[:len(segment)-1])
	}
	return segment == level
}
