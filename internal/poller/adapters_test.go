package poller

import (
	"testing"
	"time"
)

func TestParseOrZeroAcceptsKnownLayouts(t *testing.T) {
	cases := map[string]time.Time{
		"2025-10-15T12:30:00Z": time.Date(2025, 10, 15, 12, 30, 0, 0, time.UTC),
		"20251015T123000Z":     time.Date(2025, 10, 15, 12, 30, 0, 0, time.UTC),
		"2025-10-15":           time.Date(2025, 10, 15, 0, 0, 0, 0, time.UTC),
	}
	for in, want := range cases {
		if got := parseOrZero(in); !got.Equal(want) {
			t.Errorf("parseOrZero(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseOrZeroEmptyAndGarbage(t *testing.T) {
	if got := parseOrZero(""); !got.IsZero() {
		t.Fatalf("expected zero time for empty string, got %v", got)
	}
	if got := parseOrZero("not-a-timestamp"); !got.IsZero() {
		t.Fatalf("expected zero time for garbage input, got %v", got)
	}
}
