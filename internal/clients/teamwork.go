package clients

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// TeamworkClient is the upstream client for source T. Authenticates with
// HTTP basic auth (API key as username, per Teamwork's convention).
type TeamworkClient struct {
	base   *BaseClient
	apiKey string
}

func NewTeamworkClient(baseURL, apiKey string, opts Options) (*TeamworkClient, error) {
	opts.BaseURL = baseURL
	base, err := NewBaseClient(opts)
	if err != nil {
		return nil, fmt.Errorf("clients: teamwork: %w", err)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("clients: teamwork: api key required")
	}
	return &TeamworkClient{base: base, apiKey: apiKey}, nil
}

func (c *TeamworkClient) authHeader() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Basic "+basicAuth(c.apiKey, "x"))
	return h
}

// TaskPage is a page of raw task descriptors from T's tasks.json endpoint.
type TaskPage struct {
	Tasks []TaskRecord `json:"todo-items"`
}

// TaskRecord is the subset of T's wire schema the handler needs.
type TaskRecord struct {
	ID                  string   `json:"id"`
	ProjectID           string   `json:"project-id"`
	Content             string   `json:"content"`
	Description         string   `json:"description"`
	Status              string   `json:"status"`
	TagIDs              []string `json:"tag-ids"`
	ResponsiblePartyIDs []string `json:"responsible-party-ids"`
	CreatorID           string   `json:"creator-id"`
	UpdaterID           string   `json:"last-changed-by-id"`
	DueDate             string   `json:"due-date"`
	UpdatedAt           string   `json:"updated-at"`
	CreatedAt           string   `json:"created-at"`
}

// ListUpdatedSince pages tasks updated after the given instant using
// page-number pagination, reporting exhausted when a page comes back
// short of the page size.
func (c *TeamworkClient) ListUpdatedSince(ctx context.Context, since time.Time, cursor string, includeCompleted bool) (items []TaskRecord, nextCursor string, exhausted bool, err error) {
	page := 1
	if cursor != "" {
		if n, perr := strconv.Atoi(cursor); perr == nil && n > 0 {
			page = n
		}
	}
	q := url.Values{}
	q.Set("updatedAfterDate", since.UTC().Format("2006-01-02T15:04:05Z"))
	q.Set("page", strconv.Itoa(page))
	q.Set("pageSize", "100")
	if includeCompleted {
		q.Set("includeCompletedTasks", "true")
	}

	body, _, err := c.base.doRequest(ctx, http.MethodGet, "/tasks.json", q, c.authHeader(), nil)
	if err != nil {
		return nil, cursor, false, err
	}
	var tp TaskPage
	if err := json.Unmarshal(body, &tp); err != nil {
		return nil, cursor, false, fmt.Errorf("clients: teamwork: decode page: %w", err)
	}
	exhausted = len(tp.Tasks) < 100
	next := strconv.Itoa(page + 1)
	return tp.Tasks, next, exhausted, nil
}

// Get fetches a single task by id. A 404 is surfaced
// as cerrors.Gone by the base client, which the handler interprets as a
// deletion.
func (c *TeamworkClient) Get(ctx context.Context, taskID string) (*TaskRecord, error) {
	body, _, err := c.base.doRequest(ctx, http.MethodGet, "/tasks/"+taskID+".json", nil, c.authHeader(), nil)
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		Task TaskRecord `json:"todo-item"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("clients: teamwork: decode task: %w", err)
	}
	return &wrapper.Task, nil
}

// ListIdentities returns id→display-name for the tenant's people and
// tags in one map, feeding the identity cache. Ids for people and tags do
// not collide in T's numbering.
func (c *TeamworkClient) ListIdentities(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)

	body, _, err := c.base.doRequest(ctx, http.MethodGet, "/people.json", nil, c.authHeader(), nil)
	if err != nil {
		return nil, err
	}
	var people struct {
		People []struct {
			ID        string `json:"id"`
			FirstName string `json:"first-name"`
			LastName  string `json:"last-name"`
		} `json:"people"`
	}
	if err := json.Unmarshal(body, &people); err != nil {
		return nil, fmt.Errorf("clients: teamwork: decode people: %w", err)
	}
	for _, p := range people.People {
		name := strings.TrimSpace(p.FirstName + " " + p.LastName)
		if p.ID != "" && name != "" {
			out[p.ID] = name
		}
	}

	body, _, err = c.base.doRequest(ctx, http.MethodGet, "/tags.json", nil, c.authHeader(), nil)
	if err != nil {
		return nil, err
	}
	var tags struct {
		Tags []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"tags"`
	}
	if err := json.Unmarshal(body, &tags); err != nil {
		return nil, fmt.Errorf("clients: teamwork: decode tags: %w", err)
	}
	for _, t := range tags.Tags {
		if t.ID != "" && t.Name != "" {
			out[t.ID] = t.Name
		}
	}
	return out, nil
}

func basicAuth(user, pass string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
}

// WebhookRegistration is one entry in T's webhook configuration, used by
// the webhook lifecycle manager to reconcile registrations against the
// current public endpoint.
type WebhookRegistration struct {
	ID        string `json:"id"`
	Event     string `json:"event"`
	TargetURL string `json:"url"`
}

// ListWebhooks returns the tenant's currently registered webhooks.
func (c *TeamworkClient) ListWebhooks(ctx context.Context) ([]WebhookRegistration, error) {
	body, _, err := c.base.doRequest(ctx, http.MethodGet, "/webhooks.json", nil, c.authHeader(), nil)
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		Webhooks []WebhookRegistration `json:"webhooks"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("clients: teamwork: decode webhooks: %w", err)
	}
	return wrapper.Webhooks, nil
}

// CreateWebhook registers one event type against targetURL, returning the
// new registration's id.
func (c *TeamworkClient) CreateWebhook(ctx context.Context, event, targetURL string) (string, error) {
	payload, err := json.Marshal(map[string]any{"event": event, "url": targetURL})
	if err != nil {
		return "", fmt.Errorf("clients: teamwork: encode webhook: %w", err)
	}
	body, _, err := c.base.doRequest(ctx, http.MethodPost, "/webhooks.json", nil, c.authHeader(), payload)
	if err != nil {
		return "", err
	}
	var wrapper struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return "", fmt.Errorf("clients: teamwork: decode webhook creation: %w", err)
	}
	return wrapper.ID, nil
}

// DeleteWebhook removes a registration. A 404 (already gone) is surfaced
// as cerrors.Gone, which the caller treats as already-satisfied.
func (c *TeamworkClient) DeleteWebhook(ctx context.Context, id string) error {
	_, _, err := c.base.doRequest(ctx, http.MethodDelete, "/webhooks/"+id+".json", nil, c.authHeader(), nil)
	return err
}
