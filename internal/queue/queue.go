// Package queue implements the durable unit-of-work queue:
// persist, lease, retry, and retire envelopes with at-least-once delivery.
// Producer/Consumer interfaces sit over a fixed (source, kind,
// external_id) Envelope type, backed by a relational store so a single
// transaction can span queue retire and sink upsert.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Jorineg/TeamworkMissiveConnector/internal/support/idempotency"
)

// Source identifies one of the upstream services being mirrored.
type Source string

const (
	SourceT Source = "T"
	SourceM Source = "M"
	SourceC Source = "C"
)

func (s Source) Valid() bool {
	switch s {
	case SourceT, SourceM, SourceC:
		return true
	default:
		return false
	}
}

// Kind is the event kind carried by an envelope.
type Kind string

const (
	KindCreateOrUpdate Kind = "create_or_update"
	KindDelete         Kind = "delete"
	KindPageItem       Kind = "page_item"
)

func (k Kind) Valid() bool {
	switch k {
	case KindCreateOrUpdate, KindDelete, KindPageItem:
		return true
	default:
		return false
	}
}

// State is the lifecycle state of an envelope.
type State string

const (
	StatePending   State = "pending"
	StateLeased    State = "leased"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

const (
	// DefaultMaxAttempts is the default attempt budget before an envelope
	// is marked permanently failed.
	DefaultMaxAttempts = 3
	// DefaultRetryDelay is the default re-lease delay after a transient
	// failure.
	DefaultRetryDelay = 60 * time.Second
	// MaxBatchSize bounds a single lease call.
	MaxBatchSize = 100
)

var (
	ErrInvalid  = errors.New("queue: invalid")
	ErrNotFound = errors.New("queue: not found")
	ErrClosed   = errors.New("queue: closed")
)

// Envelope is the unit of work carried by the queue.
type Envelope struct {
	ID         string
	Source     Source
	Kind       Kind
	ExternalID string
	Payload    []byte

	Attempts int
	State    State

	EnqueuedAt  time.Time
	LeasedUntil *time.Time
	LastError   string
}

// BuildID derives the envelope identity from source + external id + event
// kind, delegating to idempotency.EnvelopeID so the id format has exactly
// one owner. Invalid parts yield the empty string; Normalize is the
// validating entry point.
func BuildID(source Source, externalID string, kind Kind) string {
	id, err := idempotency.EnvelopeID(string(source), externalID, string(kind))
	if err != nil {
		return ""
	}
	return id
}

// Normalize validates the envelope and fills its derived fields (ID,
// EnqueuedAt).
func Normalize(env Envelope) (Envelope, error) {
	env.ExternalID = strings.TrimSpace(env.ExternalID)
	if !env.Source.Valid() {
		return Envelope{}, fmt.Errorf("%w: unknown source %q", ErrInvalid, env.Source)
	}
	if !env.Kind.Valid() {
		return Envelope{}, fmt.Errorf("%w: unknown kind %q", ErrInvalid, env.Kind)
	}
	if env.ExternalID == "" {
		return Envelope{}, fmt.Errorf("%w: external_id required", ErrInvalid)
	}
	if env.Attempts < 0 {
		return Envelope{}, fmt.Errorf("%w: attempts cannot be negative", ErrInvalid)
	}
	id, err := idempotency.EnvelopeID(string(env.Source), env.ExternalID, string(env.Kind))
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if env.ID != "" && env.ID != id {
		return Envelope{}, fmt.Errorf("%w: id does not match source:external_id:kind", ErrInvalid)
	}
	env.ID = id
	if env.State == "" {
		env.State = StatePending
	}
	if env.EnqueuedAt.IsZero() {
		env.EnqueuedAt = time.Now().UTC()
	}
	return env, nil
}

// EnqueueOutcome reports whether an enqueue inserted a new row or hit the
// (source, id) uniqueness invariant.
type EnqueueOutcome string

const (
	Inserted  EnqueueOutcome = "inserted"
	Duplicate EnqueueOutcome = "duplicate"
)

// Producer is the enqueue-side contract used by the ingress endpoint
// and the poller.
type Producer interface {
	Enqueue(ctx context.Context, env Envelope) (EnqueueOutcome, error)
}

// Consumer is the lease-side contract used by the dispatcher.
type Consumer interface {
	// Lease claims up to batchSize pending (or lease-expired) envelopes for
	// one source, making them invisible to other leasers until
	// leaseDuration elapses.
	Lease(ctx context.Context, source Source, batchSize int, leaseDuration time.Duration) ([]Envelope, error)

	// Complete retires an envelope. Callers that also need to write sink
	// records atomically should use a Queue that exposes a *sql.Tx (see
	// CompleteTx on the concrete store) instead.
	Complete(ctx context.Context, id string) error

	// Fail records a failed attempt. If the resulting attempt count meets
	// maxAttempts the envelope moves to failed; otherwise it becomes
	// eligible for re-lease after retryDelay.
	Fail(ctx context.Context, id string, cause error, maxAttempts int, retryDelay time.Duration) (attempts int, err error)

	// FailPermanent moves an envelope directly to failed, bypassing the
	// retry budget.
	FailPermanent(ctx context.Context, id string, cause error) error

	List(ctx context.Context, state State, source Source) ([]Envelope, error)
}

// Queue combines Producer and Consumer, the full contract the durable
// queue exposes to the rest of the core.
type Queue interface {
	Producer
	Consumer

	// Depths reports per-source counts for pending+leased envelopes and
	// the total failed count, feeding the /health endpoint.
	Depths(ctx context.Context) (bySource map[Source]int64, failed int64, err error)
}
