package handlers

import (
	"errors"
	"testing"
	"time"

	cerrors "github.com/Jorineg/TeamworkMissiveConnector/internal/support/errors"
)

func TestCanonicalizeAddress(t *testing.T) {
	cases := map[string]string{
		"Alice <ALICE@Example.com>": "alice@example.com",
		"BOB@EXAMPLE.COM":           "bob@example.com",
		"":                          "",
		"  ":                        "",
		"not an address at all !!":  "not an address at all !!",
	}
	for in, want := range cases {
		if got := canonicalizeAddress(in); got != want {
			t.Errorf("canonicalizeAddress(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCanonicalizeAddresses(t *testing.T) {
	got := canonicalizeAddresses([]string{"Alice <a@Example.com>", "", "B@EXAMPLE.COM"})
	want := []string{"a@example.com", "b@example.com"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestBeforeProcessAfterBoundary(t *testing.T) {
	threshold := time.Date(2025, 10, 15, 0, 0, 0, 0, time.UTC)
	oneSecBefore := threshold.Add(-time.Second)
	oneSecAfter := threshold.Add(time.Second)

	if !beforeProcessAfter(oneSecBefore, &threshold) {
		t.Fatal("expected created_at one second before threshold to be filtered")
	}
	if beforeProcessAfter(oneSecAfter, &threshold) {
		t.Fatal("expected created_at one second after threshold to not be filtered")
	}
	if beforeProcessAfter(threshold, &threshold) {
		t.Fatal("expected created_at exactly at threshold to not be filtered (inclusive)")
	}
}

func TestBeforeProcessAfterNilThreshold(t *testing.T) {
	if beforeProcessAfter(time.Now(), nil) {
		t.Fatal("expected nil threshold to never filter")
	}
}

func TestStripEmpty(t *testing.T) {
	got := stripEmpty([]string{"a", "", "  ", "b"})
	want := []string{"a", "b"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestClassifyFetchErr(t *testing.T) {
	gone, propagate := classifyFetchErr(cerrors.Gone(errors.New("404")))
	if !gone || propagate != nil {
		t.Fatalf("expected gone=true, propagate=nil; got gone=%v propagate=%v", gone, propagate)
	}

	other := errors.New("boom")
	gone, propagate = classifyFetchErr(other)
	if gone || propagate != other {
		t.Fatalf("expected gone=false, propagate=original error; got gone=%v propagate=%v", gone, propagate)
	}
}
