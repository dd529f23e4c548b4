package webhookmgr

import (
	"context"

	"github.com/Jorineg/TeamworkMissiveConnector/internal/clients"
)

// teamworkRegistrar adapts clients.TeamworkClient's webhook methods to the
// Registrar interface.
type teamworkRegistrar struct{ c *clients.TeamworkClient }

func ForTeamwork(c *clients.TeamworkClient) Registrar { return teamworkRegistrar{c: c} }

func (r teamworkRegistrar) ListWebhooks(ctx context.Context) ([]Registration, error) {
	hooks, err := r.c.ListWebhooks(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Registration, 0, len(hooks))
	for _, h := range hooks {
		out = append(out, Registration{ID: h.ID, Event: h.Event})
	}
	return out, nil
}

func (r teamworkRegistrar) CreateWebhook(ctx context.Context, event, targetURL string) (string, error) {
	return r.c.CreateWebhook(ctx, event, targetURL)
}

func (r teamworkRegistrar) DeleteWebhook(ctx context.Context, id string) error {
	return r.c.DeleteWebhook(ctx, id)
}

// missiveRegistrar adapts clients.MissiveClient's hook methods.
type missiveRegistrar struct{ c *clients.MissiveClient }

func ForMissive(c *clients.MissiveClient) Registrar { return missiveRegistrar{c: c} }

func (r missiveRegistrar) ListWebhooks(ctx context.Context) ([]Registration, error) {
	hooks, err := r.c.ListWebhooks(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Registration, 0, len(hooks))
	for _, h := range hooks {
		out = append(out, Registration{ID: h.ID, Event: h.Event})
	}
	return out, nil
}

func (r missiveRegistrar) CreateWebhook(ctx context.Context, event, targetURL string) (string, error) {
	return r.c.CreateWebhook(ctx, event, targetURL)
}

func (r missiveRegistrar) DeleteWebhook(ctx context.Context, id string) error {
	return r.c.DeleteWebhook(ctx, id)
}

// TeamworkEvents is the static set of T registrations the manager
// maintains.
var TeamworkEvents = []string{"task.created", "task.updated", "task.deleted"}

// MissiveEvents is the static set of M registrations the manager
// maintains.
var MissiveEvents = []string{"new_comment", "message_received", "conversation_trashed"}
