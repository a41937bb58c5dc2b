package utils

import (
	"testing"
	"time"
)

func TestParseStringTime(t *testing.T) {
	tests := []struct {
		timeString string
		expected   time.Duration
	}{
		{"", 0},
		{"500ms", 500 * time.Millisecond},
		{"10s", 10 * time.Second},
		{"20M", 20 * time.Minute},
		{"48h", 48 * time.Hour},
		{"2d", 2 * time.Hour * 24},
		{"1m30s", 90 * time.Second},
	}

	for _, test := range tests {
		result, err := ParseStringTime(test.timeString)
		if err != nil {
			t.Errorf("ParseStringTime(%s): unexpected error %v", test.timeString, err)
			continue
		}
		if result != test.expected {
			t.Errorf("ParseStringTime(%s): expected %v, got %v", test.timeString, test.expected, result)
		}
	}
}

func TestParseStringTimeInvalid(t *testing.T) {
	for _, timeString := range []string{"abc", "-5s", "10x"} {
		if _, err := ParseStringTime(timeString); err == nil {
			t.Errorf("ParseStringTime(%s): expected error", timeString)
		}
	}
}

func TestMustParseStringTime(t *testing.T) {
	if got := MustParseStringTime("bogus", time.Second); got != time.Second {
		t.Errorf("expected fallback, got %v", got)
	}
	if got := MustParseStringTime("", 3*time.Second); got != 3*time.Second {
		t.Errorf("expected fallback for empty string, got %v", got)
	}
	if got := MustParseStringTime("2s", time.Second); got != 2*time.Second {
		t.Errorf("expected 2s, got %v", got)
	}
}
