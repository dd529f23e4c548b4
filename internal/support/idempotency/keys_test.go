package idempotency

import "testing"

func TestEnvelopeIDShape(t *testing.T) {
	id, err := EnvelopeID("T", "T42", "create_or_update")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "T:T42:create_or_update" {
		t.Fatalf("unexpected id: %q", id)
	}
}

func TestEnvelopeIDRejectsEmptyParts(t *testing.T) {
	cases := [][3]string{
		{"", "T42", "create_or_update"},
		{"T", "", "create_or_update"},
		{"T", "T42", ""},
	}
	for _, c := range cases {
		if _, err := EnvelopeID(c[0], c[1], c[2]); err == nil {
			t.Fatalf("expected error for parts %v", c)
		}
	}
}

func TestEnvelopeIDRejectsColonInParts(t *testing.T) {
	if _, err := EnvelopeID("T", "bad:id", "create_or_update"); err == nil {
		t.Fatal("expected error for colon in external id")
	}
}

func TestDedupKeyIsOrderSensitiveAndDeterministic(t *testing.T) {
	a := DedupKey("conversation", "123")
	b := DedupKey("conversation", "123")
	c := DedupKey("123", "conversation")
	if a != b {
		t.Fatal("expected identical inputs to produce identical dedup keys")
	}
	if a == c {
		t.Fatal("expected order of parts to affect the dedup key")
	}
}

func TestDedupKeyIsHexSHA256Length(t *testing.T) {
	k := DedupKey("x")
	if len(k) != 64 {
		t.Fatalf("expected 64 hex chars (sha256), got %d", len(k))
	}
}
