package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Jorineg/TeamworkMissiveConnector/internal/canonical"
	"github.com/Jorineg/TeamworkMissiveConnector/internal/clients"
	"github.com/Jorineg/TeamworkMissiveConnector/internal/identity"
	"github.com/Jorineg/TeamworkMissiveConnector/internal/queue"
)

// MissiveHandler normalizes source M events. Webhook bodies vary in
// shape (conversation, single message, or trash event), so Handle
// branches on whichever fields are present rather than trusting a single
// "type" discriminator.
type MissiveHandler struct {
	Client       *clients.MissiveClient
	Identity     *identity.Cache
	ProcessAfter *time.Time

	// StageAttachment downloads attachment bytes when the sink requires
	// them. Nil when the sink only needs source_url.
	StageAttachment func(ctx context.Context, sourceURL string) (stagedKey string, err error)
}

type missiveWebhookBody struct {
	Type          string                      `json:"type"`
	EventTimeUnix int64                       `json:"time"`
	Conversation  *clients.ConversationRecord `json:"conversation"`
	Message       *clients.MessageRecord      `json:"message"`
}

func (h *MissiveHandler) Handle(ctx context.Context, env queue.Envelope) (Result, error) {
	var body missiveWebhookBody
	if len(env.Payload) > 0 {
		_ = json.Unmarshal(env.Payload, &body)
	}

	isTrash := env.Kind == queue.KindDelete || body.Type == "trashed" || body.Type == "conversation_trashed"
	eventTime := time.Now().UTC()
	if body.EventTimeUnix > 0 {
		eventTime = time.Unix(body.EventTimeUnix, 0).UTC()
	}

	if isTrash {
		return h.handleTrash(env, body, eventTime)
	}

	if body.Message != nil {
		email, handled, err := h.toEmail(ctx, *body.Message)
		if err != nil {
			return Result{}, err
		}
		if handled {
			return Result{Handled: true}, nil
		}
		return Result{Batch: canonical.Batch{Emails: []canonical.Email{email}}}, nil
	}

	conv := body.Conversation
	if conv == nil {
		fetched, err := h.Client.Get(ctx, env.ExternalID)
		gone, propagate := classifyFetchErr(err)
		if propagate != nil {
			return Result{}, propagate
		}
		if gone {
			return Result{Batch: canonical.Batch{Emails: []canonical.Email{{
				EmailID:    env.ExternalID,
				Deleted:    true,
				DeletedAt:  ptrTime(eventTime),
				ReceivedAt: eventTime,
			}}}}, nil
		}
		conv = fetched
	}

	// Fan out the conversation into one canonical email per contained
	// message, deduplicated by email_id.
	seen := make(map[string]struct{}, len(conv.Messages))
	var emails []canonical.Email
	for _, m := range conv.Messages {
		if m.ID == "" {
			continue
		}
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		email, handled, err := h.toEmail(ctx, m)
		if err != nil {
			return Result{}, err
		}
		if handled {
			continue
		}
		email.ThreadID = conv.ID
		if email.Subject == "" {
			email.Subject = conv.Subject
		}
		email.Labels = append(email.Labels, conv.Labels...)
		emails = append(emails, email)
	}
	if len(emails) == 0 {
		return Result{Handled: true}, nil
	}
	return Result{Batch: canonical.Batch{Emails: emails}}, nil
}

func (h *MissiveHandler) handleTrash(env queue.Envelope, body missiveWebhookBody, eventTime time.Time) (Result, error) {
	externalID := env.ExternalID
	if body.Message != nil && body.Message.ID != "" {
		externalID = body.Message.ID
	} else if body.Conversation != nil && body.Conversation.ID != "" {
		externalID = body.Conversation.ID
	}
	return Result{Batch: canonical.Batch{Emails: []canonical.Email{{
		EmailID:    externalID,
		Deleted:    true,
		DeletedAt:  ptrTime(eventTime),
		ReceivedAt: eventTime,
	}}}}, nil
}

func (h *MissiveHandler) toEmail(ctx context.Context, m clients.MessageRecord) (canonical.Email, bool, error) {
	receivedAt := time.Unix(m.SentAt, 0).UTC()
	if beforeProcessAfter(receivedAt, h.ProcessAfter) {
		return canonical.Email{}, true, nil
	}

	to := canonicalizeAddresses(addressStrings(m.To))
	cc := canonicalizeAddresses(addressStrings(m.Cc))
	bcc := canonicalizeAddresses(addressStrings(m.Bcc))
	from := canonicalizeAddress(fmt.Sprintf("%s <%s>", m.From.Name, m.From.Address))

	attachments := make([]canonical.Attachment, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		att := canonical.Attachment{
			Filename:    a.Filename,
			ContentType: a.MediaType,
			Size:        a.Size,
			SourceURL:   a.URL,
		}
		if h.StageAttachment != nil && a.URL != "" {
			key, err := h.StageAttachment(ctx, a.URL)
			if err != nil {
				return canonical.Email{}, false, fmt.Errorf("handlers: missive: stage attachment: %w", err)
			}
			att.StagedBytesKey = key
		}
		attachments = append(attachments, att)
	}

	return canonical.Email{
		EmailID:     m.ID,
		ThreadID:    m.ConversationID,
		Subject:     m.Subject,
		From:        from,
		To:          to,
		Cc:          cc,
		Bcc:         bcc,
		BodyText:    m.BodyText,
		BodyHTML:    m.BodyHTML,
		SentAt:      ptrTime(receivedAt),
		ReceivedAt:  receivedAt,
		Attachments: attachments,
		Deleted:     false,
	}, false, nil
}

func addressStrings(addrs []clients.MissiveAddress) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a.Address == "" {
			continue
		}
		out = append(out, fmt.Sprintf("%s <%s>", a.Name, a.Address))
	}
	return out
}
