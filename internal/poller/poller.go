// Package poller implements a per-source ticker loop
// that lists everything updated since the last checkpoint, enqueues a
// page_item envelope per item, and advances the checkpoint only once a
// full page has been durably enqueued. It is a ticker + context-cancellation
// shutdown loop generalized to a source-agnostic engine parameterized by
// a ListFunc per upstream.
package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Jorineg/TeamworkMissiveConnector/internal/checkpoint"
	"github.com/Jorineg/TeamworkMissiveConnector/internal/handlers"
	"github.com/Jorineg/TeamworkMissiveConnector/internal/queue"
	cerrors "github.com/Jorineg/TeamworkMissiveConnector/internal/support/errors"
	"github.com/Jorineg/TeamworkMissiveConnector/internal/support/telemetry"
)

// Item is the minimal shape a source's list_updated_since must yield.
type Item struct {
	ExternalID string
	UpdatedAt  time.Time
}

// ListFunc fetches one page of items updated since `since`, continuing
// from `cursor` (empty on the first call of a cycle). exhausted reports
// whether this was the last page.
type ListFunc func(ctx context.Context, since time.Time, cursor string) (items []Item, nextCursor string, exhausted bool, err error)

// SourcePoller runs the polling algorithm for a single source.
type SourcePoller struct {
	Source      queue.Source
	List        ListFunc
	Queue       queue.Producer
	Checkpoints checkpoint.Store
	Interval    time.Duration
	Overlap     time.Duration

	// InitialSince seeds the checkpoint when none exists yet, normally the
	// source's configured PROCESS_AFTER.
	InitialSince time.Time

	Logger *telemetry.Logger
	Meter  telemetry.Meter
}

func (p *SourcePoller) logger() *telemetry.Logger {
	if p.Logger == nil {
		return telemetry.Nop
	}
	return p.Logger
}

func (p *SourcePoller) meter() telemetry.Meter {
	if p.Meter == nil {
		return telemetry.NopMeter{}
	}
	return p.Meter
}

// Run ticks every Interval until ctx is cancelled, running one cycle
// immediately on start so a fresh deployment doesn't wait a full interval
// before its first backfill.
func (p *SourcePoller) Run(ctx context.Context) {
	if err := p.Cycle(ctx); err != nil {
		p.logger().Warn("poll cycle failed", map[string]any{"source": string(p.Source), "error": err.Error()})
	}
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Cycle(ctx); err != nil {
				p.logger().Warn("poll cycle failed", map[string]any{"source": string(p.Source), "error": err.Error()})
			}
		}
	}
}

// Cycle runs one poll pass: compute the effective since-time (checkpoint
// minus overlap, or the seed value), page through list_updated_since,
// enqueue each item as a page_item envelope, and advance the checkpoint
// after each fully-enqueued page. A transient error aborts the cycle
// without advancing past the in-flight page.
func (p *SourcePoller) Cycle(ctx context.Context) error {
	ckpt, err := p.Checkpoints.Get(ctx, p.Source)
	if err != nil {
		return fmt.Errorf("poller: %s: load checkpoint: %w", p.Source, err)
	}

	since := p.seedSince()
	cursor := ""
	if ckpt != nil {
		since = ckpt.LastEventTime.Add(-p.Overlap)
		cursor = ckpt.LastCursor
	}
	resumedCursor := cursor != ""

	for {
		items, next, exhausted, err := p.List(ctx, since, cursor)
		if err != nil {
			if cerrors.IsTransient(err) {
				return fmt.Errorf("poller: %s: transient list failure, checkpoint unchanged: %w", p.Source, err)
			}
			return fmt.Errorf("poller: %s: list failure: %w", p.Source, err)
		}

		var maxSeen time.Time
		for _, it := range items {
			desc := handlers.PollerDescriptor{ExternalID: it.ExternalID, UpdatedAt: it.UpdatedAt}
			payload, err := json.Marshal(desc)
			if err != nil {
				return fmt.Errorf("poller: %s: encode descriptor: %w", p.Source, err)
			}
			env, err := queue.Normalize(queue.Envelope{
				Source:     p.Source,
				Kind:       queue.KindPageItem,
				ExternalID: it.ExternalID,
				Payload:    payload,
			})
			if err != nil {
				p.logger().Warn("poller: skipping invalid item", map[string]any{"source": string(p.Source), "external_id": it.ExternalID, "error": err.Error()})
				continue
			}
			if _, err := p.Queue.Enqueue(ctx, env); err != nil {
				return fmt.Errorf("poller: %s: enqueue failed, checkpoint unchanged: %w", p.Source, err)
			}
			if it.UpdatedAt.After(maxSeen) {
				maxSeen = it.UpdatedAt
			}
		}

		if len(items) > 0 {
			p.meter().IncCounter(ctx, "poll_items_enqueued", int64(len(items)), map[string]string{"source": string(p.Source)})
		}

		cursor = next
		if exhausted {
			// The persisted cursor resets once a cycle drains; the next
			// cycle starts a fresh pagination run from its own since-time.
			cursor = ""
		}
		if len(items) > 0 || (exhausted && resumedCursor) {
			if err := checkpoint.Advance(ctx, p.Checkpoints, p.Source, maxSeen, cursor); err != nil {
				return fmt.Errorf("poller: %s: advance checkpoint: %w", p.Source, err)
			}
		}
		if exhausted {
			return nil
		}
	}
}

func (p *SourcePoller) seedSince() time.Time {
	if p.InitialSince.IsZero() {
		return time.Unix(0, 0).UTC()
	}
	return p.InitialSince.UTC()
}
