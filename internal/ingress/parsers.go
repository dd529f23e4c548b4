package ingress

import (
	"encoding/json"
	"fmt"

	"github.com/Jorineg/TeamworkMissiveConnector/internal/queue"
)

// TeamworkParser extracts the task id and event kind from a T webhook body.
// T's webhook delivers either a full "todo-item" snapshot or a bare id,
// plus an "event" string such as "task.created"/"task.updated"/"task.deleted".
type TeamworkParser struct{}

type teamworkWebhook struct {
	Event string `json:"event"`
	ID    string `json:"id"`
	Task  *struct {
		ID string `json:"id"`
	} `json:"todo-item"`
}

func (TeamworkParser) Parse(body []byte) (string, queue.Kind, error) {
	var w teamworkWebhook
	if err := json.Unmarshal(body, &w); err != nil {
		return "", "", fmt.Errorf("ingress: teamwork: %w", err)
	}
	id := w.ID
	if id == "" && w.Task != nil {
		id = w.Task.ID
	}
	if id == "" {
		return "", "", fmt.Errorf("ingress: teamwork: missing id")
	}
	kind := queue.KindCreateOrUpdate
	if isDeleteEvent(w.Event) {
		kind = queue.KindDelete
	}
	return id, kind, nil
}

// MissiveParser extracts the conversation (or message) id and event kind
// from an M webhook body. Wire shape is source M's loosest contract
// : this parser tolerates a conversation
// envelope, a single message envelope, or a trash notification.
type MissiveParser struct{}

type missiveWebhook struct {
	Type         string `json:"type"`
	Conversation *struct {
		ID string `json:"id"`
	} `json:"conversation"`
	Message *struct {
		ID             string `json:"id"`
		ConversationID string `json:"conversation_id"`
	} `json:"message"`
}

func (MissiveParser) Parse(body []byte) (string, queue.Kind, error) {
	var w missiveWebhook
	if err := json.Unmarshal(body, &w); err != nil {
		return "", "", fmt.Errorf("ingress: missive: %w", err)
	}
	id := ""
	switch {
	case w.Conversation != nil && w.Conversation.ID != "":
		id = w.Conversation.ID
	case w.Message != nil && w.Message.ConversationID != "":
		id = w.Message.ConversationID
	case w.Message != nil && w.Message.ID != "":
		id = w.Message.ID
	}
	if id == "" {
		return "", "", fmt.Errorf("ingress: missive: missing id")
	}
	kind := queue.KindCreateOrUpdate
	if w.Type == "trashed" || w.Type == "conversation_trashed" {
		kind = queue.KindDelete
	}
	return id, kind, nil
}

func isDeleteEvent(event string) bool {
	switch event {
	case "task.deleted", "todo-item.deleted", "deleted":
		return true
	default:
		return false
	}
}
