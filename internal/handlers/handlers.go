// Package handlers implements the per-source normalization routines:
// given an envelope, fetch/interpret the full upstream object, resolve
// ids via the identity cache, normalize timestamps and addresses, and
// emit canonical records. Each source gets its own handler rather than a
// generic multi-stage engine, since each source's quirks are specific
// enough that a shared pipeline abstraction would only add indirection.
package handlers

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/Jorineg/TeamworkMissiveConnector/internal/canonical"
	"github.com/Jorineg/TeamworkMissiveConnector/internal/queue"
	cerrors "github.com/Jorineg/TeamworkMissiveConnector/internal/support/errors"
)

// Result is what a handler returns to the dispatcher: either a batch of
// canonical records, or Handled=true with an empty batch when the
// PROCESS_AFTER filter short-circuits the envelope.
type Result struct {
	Batch   canonical.Batch
	Handled bool
}

// Handler is implemented once per source.
type Handler interface {
	Handle(ctx context.Context, env queue.Envelope) (Result, error)
}

// PollerDescriptor is the minimal envelope payload the poller constructs
// for page items.
type PollerDescriptor struct {
	ExternalID string    `json:"external_id"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// canonicalizeAddress coerces an address to lowercase "user@host" form
// via net/mail rather than a hand-rolled RFC 5322 parser.
func canonicalizeAddress(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return strings.ToLower(raw)
	}
	return strings.ToLower(addr.Address)
}

func canonicalizeAddresses(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if a := canonicalizeAddress(r); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// beforeProcessAfter applies the creation-time lower bound: entities
// created strictly before the configured threshold are "handled, not
// stored". created_at equal to the threshold is NOT filtered — the
// threshold instant itself is inclusive of storage.
func beforeProcessAfter(createdAt time.Time, threshold *time.Time) bool {
	if threshold == nil {
		return false
	}
	return createdAt.Before(*threshold)
}

// stripEmpty drops zero-value strings from a slice, used for the "strip
// null fields" step of normalization on id/name lists.
func stripEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// classifyFetchErr maps an upstream fetch error to the handler-level
// decision: Gone means "treat as deletion", anything else propagates
// unchanged for the dispatcher to classify.
func classifyFetchErr(err error) (gone bool, propagate error) {
	if cerrors.IsGone(err) {
		return true, nil
	}
	return false, err
}
