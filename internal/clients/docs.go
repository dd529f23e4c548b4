package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// DocsClient is the upstream client for the optional document source.
// Shape mirrors TeamworkClient/MissiveClient but carries no auth header
// requirement beyond whatever the base URL's reverse proxy enforces;
// this source is configured by base URL alone.
type DocsClient struct {
	base *BaseClient
}

func NewDocsClient(baseURL string, opts Options) (*DocsClient, error) {
	opts.BaseURL = baseURL
	base, err := NewBaseClient(opts)
	if err != nil {
		return nil, fmt.Errorf("clients: docs: %w", err)
	}
	return &DocsClient{base: base}, nil
}

type DocPage struct {
	Documents []DocRecord `json:"documents"`
	NextPage  string      `json:"next_page"`
}

type DocRecord struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	MimeType  string `json:"mime_type"`
	URL       string `json:"url"`
	UpdatedAt string `json:"updated_at"`
	CreatedAt string `json:"created_at"`
}

func (c *DocsClient) ListUpdatedSince(ctx context.Context, since time.Time, cursor string) (items []DocRecord, nextCursor string, exhausted bool, err error) {
	q := url.Values{}
	q.Set("updated_since", since.UTC().Format(time.RFC3339))
	if cursor != "" {
		q.Set("page_token", cursor)
	}
	body, _, err := c.base.doRequest(ctx, http.MethodGet, "/documents", q, nil, nil)
	if err != nil {
		return nil, cursor, false, err
	}
	var page DocPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, cursor, false, fmt.Errorf("clients: docs: decode page: %w", err)
	}
	return page.Documents, page.NextPage, page.NextPage == "", nil
}

func (c *DocsClient) Get(ctx context.Context, docID string) (*DocRecord, error) {
	body, _, err := c.base.doRequest(ctx, http.MethodGet, "/documents/"+docID, nil, nil, nil)
	if err != nil {
		return nil, err
	}
	var rec DocRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("clients: docs: decode document: %w", err)
	}
	return &rec, nil
}
