package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// MissiveClient is the upstream client for source M. Authenticates with a
// bearer token. M paginates by offset rather than page number, unlike T.
type MissiveClient struct {
	base  *BaseClient
	token string
}

func NewMissiveClient(baseURL, token string, opts Options) (*MissiveClient, error) {
	if baseURL == "" {
		baseURL = "https://public.missiveapp.com/v1"
	}
	opts.BaseURL = baseURL
	base, err := NewBaseClient(opts)
	if err != nil {
		return nil, fmt.Errorf("clients: missive: %w", err)
	}
	if token == "" {
		return nil, fmt.Errorf("clients: missive: api token required")
	}
	return &MissiveClient{base: base, token: token}, nil
}

func (c *MissiveClient) authHeader() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.token)
	return h
}

// ConversationPage is a page of conversations as returned by M's list
// endpoint, each carrying its nested messages.
type ConversationPage struct {
	Conversations []ConversationRecord `json:"conversations"`
	Offset        int                  `json:"offset"`
}

type ConversationRecord struct {
	ID       string          `json:"id"`
	Subject  string          `json:"subject"`
	Messages []MessageRecord `json:"messages"`
	Labels   []string        `json:"labels"`
}

type MessageRecord struct {
	ID             string              `json:"id"`
	ConversationID string              `json:"conversation_id"`
	Subject        string              `json:"subject"`
	From           MissiveAddress      `json:"from_field"`
	To             []MissiveAddress    `json:"to_fields"`
	Cc             []MissiveAddress    `json:"cc_fields"`
	Bcc            []MissiveAddress    `json:"bcc_fields"`
	BodyText       string              `json:"body_text"`
	BodyHTML       string              `json:"body_html"`
	SentAt         int64               `json:"delivered_at"` // unix seconds
	Attachments    []MissiveAttachment `json:"attachments"`
}

type MissiveAddress struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

type MissiveAttachment struct {
	Filename  string `json:"filename"`
	MediaType string `json:"media_type"`
	Size      int64  `json:"size"`
	URL       string `json:"url"`
}

// ListUpdatedSince pages conversations updated since the given instant
// using offset-style cursor paging.
func (c *MissiveClient) ListUpdatedSince(ctx context.Context, since time.Time, cursor string) (items []ConversationRecord, nextCursor string, exhausted bool, err error) {
	offset := 0
	if cursor != "" {
		var n int
		if _, perr := fmt.Sscanf(cursor, "%d", &n); perr == nil && n >= 0 {
			offset = n
		}
	}
	q := url.Values{}
	q.Set("since", fmt.Sprintf("%d", since.UTC().Unix()))
	q.Set("limit", "50")
	q.Set("offset", fmt.Sprintf("%d", offset))

	body, _, err := c.base.doRequest(ctx, http.MethodGet, "/conversations", q, c.authHeader(), nil)
	if err != nil {
		return nil, cursor, false, err
	}
	var page ConversationPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, cursor, false, fmt.Errorf("clients: missive: decode page: %w", err)
	}
	exhausted = len(page.Conversations) < 50
	next := fmt.Sprintf("%d", offset+len(page.Conversations))
	return page.Conversations, next, exhausted, nil
}

// Get fetches a single conversation by id, used when a webhook body only
// references a conversation/message id without a full snapshot.
func (c *MissiveClient) Get(ctx context.Context, conversationID string) (*ConversationRecord, error) {
	body, _, err := c.base.doRequest(ctx, http.MethodGet, "/conversations/"+conversationID, nil, c.authHeader(), nil)
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		Conversation ConversationRecord `json:"conversations"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("clients: missive: decode conversation: %w", err)
	}
	return &wrapper.Conversation, nil
}

// Hook mirrors M's hook configuration shape, used by the webhook
// lifecycle manager to reconcile registrations.
type Hook struct {
	ID    string `json:"id"`
	Event string `json:"type"`
	URL   string `json:"url"`
}

func (c *MissiveClient) ListWebhooks(ctx context.Context) ([]Hook, error) {
	body, _, err := c.base.doRequest(ctx, http.MethodGet, "/hooks", nil, c.authHeader(), nil)
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		Hooks []Hook `json:"hooks"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("clients: missive: decode hooks: %w", err)
	}
	return wrapper.Hooks, nil
}

func (c *MissiveClient) CreateWebhook(ctx context.Context, event, targetURL string) (string, error) {
	payload, err := json.Marshal(map[string]any{"type": event, "url": targetURL})
	if err != nil {
		return "", fmt.Errorf("clients: missive: encode hook: %w", err)
	}
	body, _, err := c.base.doRequest(ctx, http.MethodPost, "/hooks", nil, c.authHeader(), payload)
	if err != nil {
		return "", err
	}
	var wrapper struct {
		Hooks struct {
			ID string `json:"id"`
		} `json:"hooks"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return "", fmt.Errorf("clients: missive: decode hook creation: %w", err)
	}
	return wrapper.Hooks.ID, nil
}

func (c *MissiveClient) DeleteWebhook(ctx context.Context, id string) error {
	_, _, err := c.base.doRequest(ctx, http.MethodDelete, "/hooks/"+id, nil, c.authHeader(), nil)
	return err
}

// ListUsers returns id→display-name for the organization's users, feeding
// the identity cache.
func (c *MissiveClient) ListUsers(ctx context.Context) (map[string]string, error) {
	body, _, err := c.base.doRequest(ctx, http.MethodGet, "/users", nil, c.authHeader(), nil)
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		Users []struct {
			ID    string `json:"id"`
			Name  string `json:"name"`
			Email string `json:"email"`
		} `json:"users"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("clients: missive: decode users: %w", err)
	}
	out := make(map[string]string, len(wrapper.Users))
	for _, u := range wrapper.Users {
		name := u.Name
		if name == "" {
			name = u.Email
		}
		if u.ID != "" && name != "" {
			out[u.ID] = name
		}
	}
	return out, nil
}
