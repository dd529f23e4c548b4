// Package webhookmgr reconciles a source's upstream webhook
// registrations against the connector's current public endpoint. The set
// of registration ids is persisted on disk between runs; reconciliation
// deletes the stored set and recreates the required one.
package webhookmgr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	cerrors "github.com/Jorineg/TeamworkMissiveConnector/internal/support/errors"
	"github.com/Jorineg/TeamworkMissiveConnector/internal/support/telemetry"
)

const maxStateFileBytes = 1 << 20 // 1 MiB: far beyond any plausible registration-id list

// Registrar is the per-source surface the manager needs from an
// upstream client: list, create, delete webhook registrations.
type Registrar interface {
	ListWebhooks(ctx context.Context) ([]Registration, error)
	CreateWebhook(ctx context.Context, event, targetURL string) (id string, err error)
	DeleteWebhook(ctx context.Context, id string) error
}

// Registration is the source-agnostic shape the manager reasons about;
// client packages' concrete webhook types are adapted into this via a
// small shim (see ForTeamwork/ForMissive).
type Registration struct {
	ID    string
	Event string
}

// Manager reconciles one source's registrations against the required
// static event-type list, persisting the resulting ids to a YAML state
// file.
type Manager struct {
	Name           string
	Registrar      Registrar
	RequiredEvents []string
	StatePath      string
	Logger         *telemetry.Logger
}

type state struct {
	Source string   `yaml:"source"`
	IDs    []string `yaml:"ids"`
}

func (m *Manager) logger() *telemetry.Logger {
	if m.Logger == nil {
		return telemetry.Nop
	}
	return m.Logger
}

// Reconcile deletes the stored ids (ignoring 404s), creates the
// required set against targetURL, and persists the new ids. A
// permanently-failing step is logged and the manager continues: webhook
// liveness is not a hard prerequisite, the poller alone keeps the system
// converged.
func (m *Manager) Reconcile(ctx context.Context, targetURL string) error {
	st, err := m.loadState()
	if err != nil {
		m.logger().Warn("webhookmgr: could not load state, proceeding with empty set", map[string]any{"source": m.Name, "error": err.Error()})
		st = state{Source: m.Name}
	}

	for _, id := range st.IDs {
		if err := m.Registrar.DeleteWebhook(ctx, id); err != nil && !cerrors.IsGone(err) {
			m.logger().Warn("webhookmgr: delete registration failed, manual cleanup may be required", map[string]any{
				"source": m.Name, "registration_id": id, "error": err.Error(),
			})
		}
	}

	newIDs := make([]string, 0, len(m.RequiredEvents))
	for _, event := range m.RequiredEvents {
		id, err := m.Registrar.CreateWebhook(ctx, event, targetURL)
		if err != nil {
			m.logger().Error("webhookmgr: create registration failed; set up manually", map[string]any{
				"source": m.Name, "event": event, "target_url": targetURL, "error": err.Error(),
			})
			continue
		}
		newIDs = append(newIDs, id)
	}

	st.IDs = newIDs
	if err := m.saveState(st); err != nil {
		return fmt.Errorf("webhookmgr: %s: persist state: %w", m.Name, err)
	}
	return nil
}

func (m *Manager) loadState() (state, error) {
	b, err := os.ReadFile(m.StatePath)
	if err != nil {
		if os.IsNotExist(err) {
			return state{Source: m.Name}, nil
		}
		return state{}, err
	}
	if len(b) > maxStateFileBytes {
		return state{}, fmt.Errorf("webhookmgr: state file too large")
	}
	var st state
	if err := yaml.Unmarshal(b, &st); err != nil {
		return state{}, fmt.Errorf("webhookmgr: decode state: %w", err)
	}
	return st, nil
}

func (m *Manager) saveState(st state) error {
	b, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("webhookmgr: encode state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.StatePath), 0o755); err != nil {
		return fmt.Errorf("webhookmgr: create state dir: %w", err)
	}
	tmp := m.StatePath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("webhookmgr: write state: %w", err)
	}
	return os.Rename(tmp, m.StatePath)
}
