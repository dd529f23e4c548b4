package ingress

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"github.com/Jorineg/TeamworkMissiveConnector/internal/queue"
	"github.com/Jorineg/TeamworkMissiveConnector/internal/support/telemetry"
)

func withMuxVars(r *http.Request, vars map[string]string) *http.Request {
	return mux.SetURLVars(r, vars)
}

type fakeProducer struct {
	enqueued []queue.Envelope
	err      error
}

func (f *fakeProducer) Enqueue(ctx context.Context, env queue.Envelope) (queue.EnqueueOutcome, error) {
	if f.err != nil {
		return "", f.err
	}
	f.enqueued = append(f.enqueued, env)
	return queue.Inserted, nil
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestHandleWebhookValidSignatureEnqueues(t *testing.T) {
	fp := &fakeProducer{}
	s := &Server{
		Queue:   fp,
		Secrets: map[queue.Source]string{queue.SourceT: "shh"},
		Parsers: map[queue.Source]Parser{queue.SourceT: TeamworkParser{}},
	}
	body := []byte(`{"event":"task.updated","id":"123"}`)
	req := httptest.NewRequest("POST", "/webhook/T", bytes.NewReader(body))
	req.Header.Set(signatureHeader, sign("shh", body))
	req = withMuxVars(req, map[string]string{"source": "T"})

	w := httptest.NewRecorder()
	s.handleWebhook(w, req)

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(fp.enqueued) != 1 || fp.enqueued[0].ExternalID != "123" {
		t.Fatalf("expected one enqueued envelope with external id 123, got %+v", fp.enqueued)
	}
}

func TestHandleWebhookBadSignatureRejected(t *testing.T) {
	fp := &fakeProducer{}
	s := &Server{
		Queue:   fp,
		Secrets: map[queue.Source]string{queue.SourceT: "shh"},
		Parsers: map[queue.Source]Parser{queue.SourceT: TeamworkParser{}},
	}
	body := []byte(`{"event":"task.updated","id":"123"}`)
	req := httptest.NewRequest("POST", "/webhook/T", bytes.NewReader(body))
	req.Header.Set(signatureHeader, "deadbeef")
	req = withMuxVars(req, map[string]string{"source": "T"})

	w := httptest.NewRecorder()
	s.handleWebhook(w, req)

	if w.Code != 401 {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if len(fp.enqueued) != 0 {
		t.Fatalf("expected nothing enqueued on signature mismatch")
	}
}

func TestHandleWebhookUnknownSourceRejected(t *testing.T) {
	fp := &fakeProducer{}
	s := &Server{Queue: fp, Parsers: map[queue.Source]Parser{}}
	req := httptest.NewRequest("POST", "/webhook/X", bytes.NewReader([]byte(`{}`)))
	req = withMuxVars(req, map[string]string{"source": "X"})

	w := httptest.NewRecorder()
	s.handleWebhook(w, req)

	if w.Code != 404 {
		t.Fatalf("expected 404 for unknown source, got %d", w.Code)
	}
}

func TestHandleHealthIncludesWorkerStats(t *testing.T) {
	s := &Server{
		Workers: func() telemetry.WorkerStats {
			return telemetry.WorkerStats{Completed: 7, Failed: 2}
		},
	}
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	s.handleHealth(w, req)

	var snap telemetry.HealthSnapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	if snap.Workers == nil || snap.Workers.Completed != 7 || snap.Workers.Failed != 2 {
		t.Fatalf("expected worker stats in health snapshot, got %+v", snap.Workers)
	}
}

func TestHandleHealthReflectsDBFailure(t *testing.T) {
	s := &Server{DB: failingPing{}}
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	s.handleHealth(w, req)
	if w.Code != 503 {
		t.Fatalf("expected 503 when db ping fails, got %d", w.Code)
	}
}

type failingPing struct{}

func (failingPing) Ping(ctx context.Context) error { return errPing }

var errPing = &pingErr{}

type pingErr struct{}

func (*pingErr) Error() string { return "ping failed" }
