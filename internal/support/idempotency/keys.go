// Package idempotency builds the deterministic envelope identifiers the
// durable queue relies on for at-least-once, exactly-once-in-effect
// delivery.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidPart = errors.New("idempotency: invalid key part")

// EnvelopeID builds the stable envelope id
// "<source>:<external_id>:<kind>". Re-enqueuing the same logical event
// (same source, external id, and kind) always produces the same id,
// which is what makes queue.Enqueue idempotent.
func EnvelopeID(source, externalID, kind string) (string, error) {
	source = strings.TrimSpace(source)
	externalID = strings.TrimSpace(externalID)
	kind = strings.TrimSpace(kind)
	if source == "" {
		return "", fmt.Errorf("%w: source required", ErrInvalidPart)
	}
	if externalID == "" {
		return "", fmt.Errorf("%w: external_id required", ErrInvalidPart)
	}
	if kind == "" {
		return "", fmt.Errorf("%w: kind required", ErrInvalidPart)
	}
	if strings.ContainsRune(source, ':') || strings.ContainsRune(externalID, ':') || strings.ContainsRune(kind, ':') {
		return "", fmt.Errorf("%w: parts must not contain ':'", ErrInvalidPart)
	}
	return source + ":" + externalID + ":" + kind, nil
}

// DedupKey computes a deterministic hash over arbitrary ordered parts,
// useful for collapsing duplicate webhook deliveries that carry different
// wrapper metadata but describe the same logical change.
func DedupKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		_, _ = h.Write([]byte(strings.TrimSpace(p)))
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
