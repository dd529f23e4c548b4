// Package canonical holds the normalized record shapes produced by the
// event handlers and written by the sink.
package canonical

import "time"

// Task is the canonical record for source T.
type Task struct {
	TaskID      string `json:"task_id"`
	ProjectID   string `json:"project_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`

	TagIDs        []string `json:"tag_ids,omitempty"`
	TagNames      []string `json:"tag_names,omitempty"`
	AssigneeIDs   []string `json:"assignee_ids,omitempty"`
	AssigneeNames []string `json:"assignee_names,omitempty"`

	CreatorID   string `json:"creator_id,omitempty"`
	CreatorName string `json:"creator_name,omitempty"`
	UpdaterID   string `json:"updater_id,omitempty"`
	UpdaterName string `json:"updater_name,omitempty"`

	DueAt     *time.Time `json:"due_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
	CreatedAt time.Time  `json:"created_at"`

	Deleted   bool       `json:"deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Attachment is email attachment metadata. StagedBytesKey is populated only when the sink's
// RequiresAttachmentBytes() capability is true and the handler has staged
// the bytes.
type Attachment struct {
	Filename       string `json:"filename"`
	ContentType    string `json:"content_type"`
	Size           int64  `json:"size"`
	SourceURL      string `json:"source_url"`
	StagedBytesKey string `json:"staged_bytes_key,omitempty"`
}

// Email is the canonical record for source M.
type Email struct {
	EmailID  string `json:"email_id"`
	ThreadID string `json:"thread_id"`
	Subject  string `json:"subject"`

	From string   `json:"from"`
	To   []string `json:"to,omitempty"`
	Cc   []string `json:"cc,omitempty"`
	Bcc  []string `json:"bcc,omitempty"`

	BodyText string `json:"body_text,omitempty"`
	BodyHTML string `json:"body_html,omitempty"`

	SentAt     *time.Time `json:"sent_at,omitempty"`
	ReceivedAt time.Time  `json:"received_at"`

	Labels      []string     `json:"labels,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`

	Deleted   bool       `json:"deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Doc is the canonical record for the optional source C.
type Doc struct {
	DocID     string    `json:"doc_id"`
	Title     string    `json:"title"`
	BodyText  string    `json:"body_text,omitempty"`
	MimeType  string    `json:"mime_type,omitempty"`
	SourceURL string    `json:"source_url,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedAt time.Time `json:"created_at"`

	Deleted   bool       `json:"deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Batch groups the records an envelope (or a leased batch of envelopes)
// produced, keyed by the source they belong to.
type Batch struct {
	Tasks  []Task
	Emails []Email
	Docs   []Doc
}

func (b Batch) Empty() bool {
	return len(b.Tasks) == 0 && len(b.Emails) == 0 && len(b.Docs) == 0
}
