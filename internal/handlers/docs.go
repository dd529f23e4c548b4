package handlers

import (
	"context"
	"time"

	"github.com/Jorineg/TeamworkMissiveConnector/internal/canonical"
	"github.com/Jorineg/TeamworkMissiveConnector/internal/clients"
	"github.com/Jorineg/TeamworkMissiveConnector/internal/queue"
)

// DocsHandler normalizes events for the optional document source: no
// webhook events, only poller-originated descriptors. A delete envelope
// becomes a deletion record without a fetch; every other envelope fetches
// the full document.
type DocsHandler struct {
	Client       *clients.DocsClient
	ProcessAfter *time.Time
}

func (h *DocsHandler) Handle(ctx context.Context, env queue.Envelope) (Result, error) {
	if env.Kind == queue.KindDelete {
		return Result{Batch: canonical.Batch{Docs: []canonical.Doc{{
			DocID:     env.ExternalID,
			Deleted:   true,
			DeletedAt: ptrTime(time.Now().UTC()),
			UpdatedAt: time.Now().UTC(),
		}}}}, nil
	}

	rec, err := h.Client.Get(ctx, env.ExternalID)
	gone, propagate := classifyFetchErr(err)
	if propagate != nil {
		return Result{}, propagate
	}
	if gone {
		return Result{Batch: canonical.Batch{Docs: []canonical.Doc{{
			DocID:     env.ExternalID,
			Deleted:   true,
			DeletedAt: ptrTime(time.Now().UTC()),
			UpdatedAt: time.Now().UTC(),
		}}}}, nil
	}

	createdAt := parseDocsTime(rec.CreatedAt)
	if beforeProcessAfter(createdAt, h.ProcessAfter) {
		return Result{Handled: true}, nil
	}

	return Result{Batch: canonical.Batch{Docs: []canonical.Doc{{
		DocID:     rec.ID,
		Title:     rec.Title,
		BodyText:  rec.Body,
		MimeType:  rec.MimeType,
		SourceURL: rec.URL,
		UpdatedAt: parseDocsTime(rec.UpdatedAt).UTC(),
		CreatedAt: createdAt.UTC(),
		Deleted:   false,
	}}}}, nil
}

func parseDocsTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
