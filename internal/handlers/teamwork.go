package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Jorineg/TeamworkMissiveConnector/internal/canonical"
	"github.com/Jorineg/TeamworkMissiveConnector/internal/clients"
	"github.com/Jorineg/TeamworkMissiveConnector/internal/identity"
	"github.com/Jorineg/TeamworkMissiveConnector/internal/queue"
)

// TeamworkHandler normalizes source T events. A "completed" task is
// explicitly NOT treated as deleted — only an explicit delete event or a
// 404 on fetch flips the deleted flag.
type TeamworkHandler struct {
	Client       *clients.TeamworkClient
	Identity     *identity.Cache
	ProcessAfter *time.Time
}

// webhookTaskBody is the minimal shape of T's webhook payload this
// connector interprets: either a full task snapshot or just an id,
// depending on what the tenant's webhook delivers.
type webhookTaskBody struct {
	Task *clients.TaskRecord `json:"todo-item"`
	ID   string              `json:"id"`
}

func (h *TeamworkHandler) Handle(ctx context.Context, env queue.Envelope) (Result, error) {
	externalID := env.ExternalID

	var rec *clients.TaskRecord
	if len(env.Payload) > 0 {
		var body webhookTaskBody
		if err := json.Unmarshal(env.Payload, &body); err == nil && body.Task != nil && body.Task.ID != "" {
			rec = body.Task
		}
	}

	if env.Kind == queue.KindDelete {
		return Result{Batch: canonical.Batch{Tasks: []canonical.Task{{
			TaskID:    externalID,
			Deleted:   true,
			DeletedAt: ptrTime(time.Now().UTC()),
			UpdatedAt: time.Now().UTC(),
		}}}}, nil
	}

	if rec == nil {
		fetched, err := h.Client.Get(ctx, externalID)
		gone, propagate := classifyFetchErr(err)
		if propagate != nil {
			return Result{}, propagate
		}
		if gone {
			return Result{Batch: canonical.Batch{Tasks: []canonical.Task{{
				TaskID:    externalID,
				Deleted:   true,
				DeletedAt: ptrTime(time.Now().UTC()),
				UpdatedAt: time.Now().UTC(),
			}}}}, nil
		}
		rec = fetched
	}

	createdAt := parseTWTime(rec.CreatedAt)
	if beforeProcessAfter(createdAt, h.ProcessAfter) {
		return Result{Handled: true}, nil
	}

	task := h.normalize(rec, createdAt)
	return Result{Batch: canonical.Batch{Tasks: []canonical.Task{task}}}, nil
}

func (h *TeamworkHandler) normalize(rec *clients.TaskRecord, createdAt time.Time) canonical.Task {
	tagIDs := stripEmpty(rec.TagIDs)
	assigneeIDs := stripEmpty(rec.ResponsiblePartyIDs)

	var tagNames, assigneeNames []string
	if h.Identity != nil {
		tagNames = h.Identity.ResolveMany(tagIDs)
		assigneeNames = h.Identity.ResolveMany(assigneeIDs)
	} else {
		tagNames = tagIDs
		assigneeNames = assigneeIDs
	}

	creatorName, updaterName := rec.CreatorID, rec.UpdaterID
	if h.Identity != nil {
		creatorName = h.Identity.Resolve(rec.CreatorID)
		updaterName = h.Identity.Resolve(rec.UpdaterID)
	}

	var dueAt *time.Time
	if rec.DueDate != "" {
		if t := parseTWTime(rec.DueDate); !t.IsZero() {
			dueAt = &t
		}
	}

	return canonical.Task{
		TaskID:        rec.ID,
		ProjectID:     rec.ProjectID,
		Title:         rec.Content,
		Description:   rec.Description,
		Status:        rec.Status,
		TagIDs:        tagIDs,
		TagNames:      tagNames,
		AssigneeIDs:   assigneeIDs,
		AssigneeNames: assigneeNames,
		CreatorID:     rec.CreatorID,
		CreatorName:   creatorName,
		UpdaterID:     rec.UpdaterID,
		UpdaterName:   updaterName,
		DueAt:         dueAt,
		UpdatedAt:     parseTWTime(rec.UpdatedAt).UTC(),
		CreatedAt:     createdAt.UTC(),
		Deleted:       false,
	}
}

// parseTWTime accepts the handful of timestamp shapes T's API mixes
// (RFC3339 and its own "YYYYMMDDTHHMMSSZ" compact form), normalizing to
// UTC. An unparsable
// or empty value yields the zero time.
func parseTWTime(s string) time.Time {
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

func ptrTime(t time.Time) *time.Time { return &t }
