package poller

import (
	"context"
	"time"

	"github.com/Jorineg/TeamworkMissiveConnector/internal/clients"
)

// TeamworkList adapts clients.TeamworkClient to a ListFunc. includeCompleted
// is fixed per the configured INCLUDE_COMPLETED_TASKS_ON_INITIAL_SYNC flag
// for the lifetime of the poller.
func TeamworkList(c *clients.TeamworkClient, includeCompleted bool) ListFunc {
	return func(ctx context.Context, since time.Time, cursor string) ([]Item, string, bool, error) {
		tasks, next, exhausted, err := c.ListUpdatedSince(ctx, since, cursor, includeCompleted)
		if err != nil {
			return nil, cursor, false, err
		}
		items := make([]Item, 0, len(tasks))
		for _, t := range tasks {
			items = append(items, Item{ExternalID: t.ID, UpdatedAt: parseOrZero(t.UpdatedAt)})
		}
		return items, next, exhausted, nil
	}
}

// MissiveList adapts clients.MissiveClient to a ListFunc, exposing one
// poller Item per conversation; the handler fans a conversation out into
// per-message canonical records itself.
func MissiveList(c *clients.MissiveClient) ListFunc {
	return func(ctx context.Context, since time.Time, cursor string) ([]Item, string, bool, error) {
		convs, next, exhausted, err := c.ListUpdatedSince(ctx, since, cursor)
		if err != nil {
			return nil, cursor, false, err
		}
		items := make([]Item, 0, len(convs))
		for _, cv := range convs {
			var latest time.Time
			for _, m := range cv.Messages {
				t := time.Unix(m.SentAt, 0).UTC()
				if t.After(latest) {
					latest = t
				}
			}
			items = append(items, Item{ExternalID: cv.ID, UpdatedAt: latest})
		}
		return items, next, exhausted, nil
	}
}

// DocsList adapts clients.DocsClient to a ListFunc for the optional source C.
func DocsList(c *clients.DocsClient) ListFunc {
	return func(ctx context.Context, since time.Time, cursor string) ([]Item, string, bool, error) {
		docs, next, exhausted, err := c.ListUpdatedSince(ctx, since, cursor)
		if err != nil {
			return nil, cursor, false, err
		}
		items := make([]Item, 0, len(docs))
		for _, d := range docs {
			items = append(items, Item{ExternalID: d.ID, UpdatedAt: parseOrZero(d.UpdatedAt)})
		}
		return items, next, exhausted, nil
	}
}

func parseOrZero(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	layouts := []string{time.RFC3339, "20060102T150405Z", "2006-01-02"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
