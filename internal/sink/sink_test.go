package sink

import (
	"testing"
	"time"
)

func TestMarshalArrayNilBecomesEmptyJSONArray(t *testing.T) {
	got, err := marshalArray(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "[]" {
		t.Fatalf("expected empty JSON array for nil input, got %q", got)
	}
}

func TestMarshalArrayRoundTrip(t *testing.T) {
	got, err := marshalArray([]string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `["a","b"]` {
		t.Fatalf("unexpected json: %q", got)
	}
}

func TestNullableTimeNilPointer(t *testing.T) {
	if got := nullableTime(nil); got != nil {
		t.Fatalf("expected nil for nil pointer, got %v", got)
	}
}

func TestNullableTimeZeroValue(t *testing.T) {
	var zero time.Time
	if got := nullableTime(&zero); got != nil {
		t.Fatalf("expected nil for zero-value time, got %v", got)
	}
}

func TestNullableTimeNonZero(t *testing.T) {
	now := time.Date(2025, 10, 15, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	got := nullableTime(&now)
	ts, ok := got.(time.Time)
	if !ok {
		t.Fatalf("expected time.Time, got %T", got)
	}
	if ts.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", ts.Location())
	}
	if !ts.Equal(now) {
		t.Fatalf("expected equal instant, got %v want %v", ts, now)
	}
}
