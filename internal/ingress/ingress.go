// Package ingress validates webhook signatures, enqueues minimal
// envelopes, and responds fast. Routing uses github.com/gorilla/mux for
// the path-variable surface `/webhook/{source}`.
package ingress

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/Jorineg/TeamworkMissiveConnector/internal/queue"
	cerrors "github.com/Jorineg/TeamworkMissiveConnector/internal/support/errors"
	"github.com/Jorineg/TeamworkMissiveConnector/internal/support/idempotency"
	"github.com/Jorineg/TeamworkMissiveConnector/internal/support/telemetry"
)

const (
	maxBodyBytes    = 2 << 20 // 2 MiB: generous for a webhook body, bounded against abuse
	signatureHeader = "X-Signature-256"
)

// Parser extracts the external id and event kind from a source's webhook
// body.
type Parser interface {
	Parse(body []byte) (externalID string, kind queue.Kind, err error)
}

// HealthChecker reports sink/database reachability for GET /health.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Server is the inbound HTTP surface.
type Server struct {
	Queue     queue.Producer
	Depths    func(ctx context.Context) (map[queue.Source]int64, int64, error)
	DB        HealthChecker
	Secrets   map[queue.Source]string
	Parsers   map[queue.Source]Parser
	Logger    *telemetry.Logger
	StartedAt time.Time

	// Workers reports the dispatcher pool's live counters when the server
	// runs in the same process as the dispatcher; nil otherwise.
	Workers func() telemetry.WorkerStats
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/webhook/{source}", s.handleWebhook).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	return r
}

func (s *Server) logger() *telemetry.Logger {
	if s.Logger == nil {
		return telemetry.Nop
	}
	return s.Logger
}

// handleWebhook validates the source, body size, and signature, parses
// the payload into an envelope, and enqueues it.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	source := queue.Source(mux.Vars(r)["source"])
	if !source.Valid() {
		cerrors.WriteHTTP(w, http.StatusNotFound, cerrors.NewEnvelope(cerrors.WebhookMalformedPayload, "unknown source"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		cerrors.WriteHTTP(w, http.StatusBadRequest, cerrors.NewEnvelope(cerrors.WebhookMalformedPayload, "could not read body"))
		return
	}
	if len(body) > maxBodyBytes {
		cerrors.WriteHTTP(w, http.StatusRequestEntityTooLarge, cerrors.NewEnvelope(cerrors.WebhookMalformedPayload, "body too large"))
		return
	}

	if secret, ok := s.Secrets[source]; ok && secret != "" {
		if !verifySignature(secret, body, r.Header.Get(signatureHeader)) {
			s.logger().Warn("webhook signature mismatch", map[string]any{
				"source":        string(source),
				"header_prefix": truncateForLog(r.Header.Get(signatureHeader), 8),
			})
			cerrors.WriteHTTP(w, http.StatusUnauthorized, cerrors.NewEnvelope(cerrors.WebhookSignatureMismatch, "signature mismatch"))
			return
		}
	}

	parser, ok := s.Parsers[source]
	if !ok {
		cerrors.WriteHTTP(w, http.StatusNotFound, cerrors.NewEnvelope(cerrors.WebhookMalformedPayload, "source not configured"))
		return
	}
	externalID, kind, err := parser.Parse(body)
	if err != nil || externalID == "" {
		cerrors.WriteHTTP(w, http.StatusBadRequest, cerrors.NewEnvelope(cerrors.WebhookMalformedPayload, "could not parse payload"))
		return
	}

	env := queue.Envelope{
		Source:     source,
		Kind:       kind,
		ExternalID: externalID,
		Payload:    body,
	}
	env, err = queue.Normalize(env)
	if err != nil {
		cerrors.WriteHTTP(w, http.StatusBadRequest, cerrors.NewEnvelope(cerrors.WebhookMalformedPayload, err.Error()))
		return
	}

	outcome, err := s.Queue.Enqueue(r.Context(), env)
	if err != nil {
		s.logger().Error("webhook enqueue failed", map[string]any{"source": string(source), "external_id": externalID, "error": err.Error()})
		cerrors.WriteHTTP(w, http.StatusServiceUnavailable, cerrors.NewEnvelope(cerrors.SinkUnavailable, "enqueue failed"))
		return
	}

	// A duplicate enqueue is still a 200: the sender should not retry. The
	// payload digest gives operators a stable handle for correlating
	// duplicate deliveries in logs without logging the body itself.
	s.logger().Debug("webhook accepted", map[string]any{
		"source":         string(source),
		"external_id":    externalID,
		"outcome":        string(outcome),
		"payload_digest": idempotency.DedupKey(string(source), string(body)),
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok", "outcome": string(outcome)})
}

// handleHealth reports queue depth, failed-envelope count, and DB reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	dbOk := true
	if s.DB != nil {
		dbOk = s.DB.Ping(ctx) == nil
	}

	var depths map[queue.Source]int64
	var failed int64
	if s.Depths != nil {
		var err error
		depths, failed, err = s.Depths(ctx)
		if err != nil {
			dbOk = false
		}
	}

	byStr := make(map[string]int64, len(depths))
	for k, v := range depths {
		byStr[string(k)] = v
	}

	snap := telemetry.HealthSnapshot{
		QueueDepth:  byStr,
		FailedCount: failed,
		DBOk:        dbOk,
		UptimeSec:   time.Since(s.StartedAt).Seconds(),
		Timestamp:   time.Now().UTC(),
	}
	if s.Workers != nil {
		ws := s.Workers()
		snap.Workers = &ws
	}
	b, err := telemetry.MarshalHealth(snap)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	status := http.StatusOK
	if !dbOk {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

// verifySignature checks an HMAC-SHA256 hex signature over the raw body
// , using hmac.Equal for constant-time comparison.
func verifySignature(secret string, body []byte, headerValue string) bool {
	if headerValue == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(headerValue))
}

func truncateForLog(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
