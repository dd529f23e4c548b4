package webhookmgr

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	cerrors "github.com/Jorineg/TeamworkMissiveConnector/internal/support/errors"
)

type fakeRegistrar struct {
	deleted   []string
	created   []string
	deleteErr map[string]error
	createErr error
	nextID    int
}

func (f *fakeRegistrar) ListWebhooks(ctx context.Context) ([]Registration, error) { return nil, nil }

func (f *fakeRegistrar) CreateWebhook(ctx context.Context, event, targetURL string) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.nextID++
	id := event + "-" + targetURL
	f.created = append(f.created, id)
	return id, nil
}

func (f *fakeRegistrar) DeleteWebhook(ctx context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	if err, ok := f.deleteErr[id]; ok {
		return err
	}
	return nil
}

func TestReconcileDeletesStoredAndCreatesRequired(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "t.yaml")
	if err := os.WriteFile(statePath, []byte("source: T\nids: [\"old-1\", \"old-2\"]\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	reg := &fakeRegistrar{}
	m := &Manager{Name: "T", Registrar: reg, RequiredEvents: []string{"task.created", "task.deleted"}, StatePath: statePath}

	if err := m.Reconcile(context.Background(), "https://example.com/webhook/T"); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if len(reg.deleted) != 2 {
		t.Fatalf("expected 2 deletes, got %v", reg.deleted)
	}
	if len(reg.created) != 2 {
		t.Fatalf("expected 2 creates, got %v", reg.created)
	}

	st, err := m.loadState()
	if err != nil {
		t.Fatalf("reload state: %v", err)
	}
	if len(st.IDs) != 2 {
		t.Fatalf("expected persisted state to contain the 2 new ids, got %v", st.IDs)
	}
}

func TestReconcileIgnoresGoneOnDelete(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "t.yaml")
	_ = os.WriteFile(statePath, []byte("source: T\nids: [\"stale\"]\n"), 0o600)

	reg := &fakeRegistrar{deleteErr: map[string]error{"stale": cerrors.Gone(errors.New("not found"))}}
	m := &Manager{Name: "T", Registrar: reg, RequiredEvents: []string{"task.created"}, StatePath: statePath}

	if err := m.Reconcile(context.Background(), "https://example.com/webhook/T"); err != nil {
		t.Fatalf("reconcile must tolerate a 404 on delete: %v", err)
	}
}

func TestReconcileContinuesAfterCreateFailure(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "t.yaml")

	reg := &fakeRegistrar{createErr: errors.New("upstream rejected")}
	m := &Manager{Name: "T", Registrar: reg, RequiredEvents: []string{"task.created"}, StatePath: statePath}

	if err := m.Reconcile(context.Background(), "https://example.com/webhook/T"); err != nil {
		t.Fatalf("reconcile must not hard-fail when create fails: %v", err)
	}
	st, _ := m.loadState()
	if len(st.IDs) != 0 {
		t.Fatalf("expected no persisted ids when all creates failed, got %v", st.IDs)
	}
}
