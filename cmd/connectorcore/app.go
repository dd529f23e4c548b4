package main

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"

	"github.com/Jorineg/TeamworkMissiveConnector/internal/checkpoint"
	"github.com/Jorineg/TeamworkMissiveConnector/internal/clients"
	"github.com/Jorineg/TeamworkMissiveConnector/internal/config"
	"github.com/Jorineg/TeamworkMissiveConnector/internal/dispatcher"
	"github.com/Jorineg/TeamworkMissiveConnector/internal/handlers"
	"github.com/Jorineg/TeamworkMissiveConnector/internal/identity"
	"github.com/Jorineg/TeamworkMissiveConnector/internal/ingress"
	"github.com/Jorineg/TeamworkMissiveConnector/internal/queue"
	"github.com/Jorineg/TeamworkMissiveConnector/internal/sink"
	"github.com/Jorineg/TeamworkMissiveConnector/internal/support/telemetry"
	"github.com/Jorineg/TeamworkMissiveConnector/internal/webhookmgr"
)

// app is every wired-up component the serve/backfill/status subcommands
// share, built once from a validated Config: load config, open the one
// shared *sql.DB, construct clients/handlers against it, fail fast on
// any setup error.
type app struct {
	cfg *config.Config

	db          *sql.DB
	queue       *queue.PostgresQueue
	checkpoints *checkpoint.PostgresStore
	sinkStore   *sink.PostgresSink

	teamwork *clients.TeamworkClient
	missive  *clients.MissiveClient
	docs     *clients.DocsClient

	handlers   map[queue.Source]handlers.Handler
	identities []*identity.Cache

	pool   *dispatcher.Pool
	meter  telemetry.Meter
	logger *telemetry.Logger
}

func newApp(cfg *config.Config) (*app, error) {
	logger := telemetry.New(nil, "connectorcore", telemetry.Level(cfg.LogLevel))

	db, err := sql.Open("postgres", cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("connectorcore: open db: %w", err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("connectorcore: ping db: %w", err)
	}

	q, err := queue.NewPostgresQueue(db)
	if err != nil {
		return nil, err
	}
	if err := q.EnsureSchema(context.Background()); err != nil {
		return nil, err
	}
	ck, err := checkpoint.NewPostgresStore(db)
	if err != nil {
		return nil, err
	}
	if err := ck.EnsureSchema(context.Background()); err != nil {
		return nil, err
	}
	sk, err := sink.NewPostgresSink(db, sink.Options{RequiresAttachmentBytes: false})
	if err != nil {
		return nil, err
	}
	if err := sk.EnsureSchema(context.Background()); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, db: db, queue: q, checkpoints: ck, sinkStore: sk, logger: logger, handlers: map[queue.Source]handlers.Handler{}}

	if cfg.TBaseURL != "" {
		tw, err := clients.NewTeamworkClient(cfg.TBaseURL, cfg.TAPIKey, clients.Options{})
		if err != nil {
			return nil, err
		}
		a.teamwork = tw
		twIdentity := identity.New(func(ctx context.Context, ids []string) (map[string]string, error) {
			return tw.ListIdentities(ctx)
		}, time.Minute, filepath.Join(cfg.StateDir, "identity_t.json"))
		a.identities = append(a.identities, twIdentity)
		a.handlers[queue.SourceT] = &handlers.TeamworkHandler{Client: tw, Identity: twIdentity, ProcessAfter: cfg.TProcessAfter}
	}
	if cfg.MAPIToken != "" {
		mv, err := clients.NewMissiveClient("", cfg.MAPIToken, clients.Options{})
		if err != nil {
			return nil, err
		}
		a.missive = mv
		mvIdentity := identity.New(func(ctx context.Context, ids []string) (map[string]string, error) {
			return mv.ListUsers(ctx)
		}, time.Minute, filepath.Join(cfg.StateDir, "identity_m.json"))
		a.identities = append(a.identities, mvIdentity)
		a.handlers[queue.SourceM] = &handlers.MissiveHandler{Client: mv, Identity: mvIdentity, ProcessAfter: cfg.MProcessAfter}
	}
	if cfg.SourceCEnabled() {
		dc, err := clients.NewDocsClient(cfg.CBaseURL, clients.Options{})
		if err != nil {
			return nil, err
		}
		a.docs = dc
		a.handlers[queue.SourceC] = &handlers.DocsHandler{Client: dc}
	}

	if len(a.handlers) == 0 {
		return nil, fmt.Errorf("connectorcore: no source is configured")
	}

	a.meter = telemetry.LogMeter{Logger: logger}
	a.pool = dispatcher.NewPool(len(a.handlers), 64, func(level, msg string, fields map[string]any) {
		switch level {
		case "error":
			logger.Error(msg, fields)
		case "warn":
			logger.Warn(msg, fields)
		default:
			logger.Info(msg, fields)
		}
	})
	return a, nil
}

func (a *app) close() {
	if a.db != nil {
		_ = a.db.Close()
	}
}

// webhookManagers builds one reconciler per webhook-capable source that is
// configured (source C never has webhooks — poller-only).
func (a *app) webhookManagers() []*webhookmgr.Manager {
	var out []*webhookmgr.Manager
	if a.teamwork != nil {
		out = append(out, &webhookmgr.Manager{
			Name:           "T",
			Registrar:      webhookmgr.ForTeamwork(a.teamwork),
			RequiredEvents: webhookmgr.TeamworkEvents,
			StatePath:      filepath.Join(a.cfg.StateDir, "webhooks_t.yaml"),
			Logger:         a.logger,
		})
	}
	if a.missive != nil {
		out = append(out, &webhookmgr.Manager{
			Name:           "M",
			Registrar:      webhookmgr.ForMissive(a.missive),
			RequiredEvents: webhookmgr.MissiveEvents,
			StatePath:      filepath.Join(a.cfg.StateDir, "webhooks_m.yaml"),
			Logger:         a.logger,
		})
	}
	return out
}

func (a *app) ingressServer(startedAt time.Time) *ingress.Server {
	secrets := map[queue.Source]string{}
	parsers := map[queue.Source]ingress.Parser{}
	if a.teamwork != nil {
		secrets[queue.SourceT] = a.cfg.TWebhookSecret
		parsers[queue.SourceT] = ingress.TeamworkParser{}
	}
	if a.missive != nil {
		secrets[queue.SourceM] = a.cfg.MWebhookSecret
		parsers[queue.SourceM] = ingress.MissiveParser{}
	}
	return &ingress.Server{
		Queue:     a.queue,
		Depths:    a.queue.Depths,
		DB:        dbPinger{a.db},
		Secrets:   secrets,
		Parsers:   parsers,
		Logger:    a.logger,
		StartedAt: startedAt,
		Workers: func() telemetry.WorkerStats {
			st := a.pool.Stats()
			return telemetry.WorkerStats{
				Running:   st.Running,
				Queued:    st.Queued,
				Completed: st.Completed,
				Failed:    st.Failed,
				Rejected:  st.Rejected,
			}
		},
	}
}

type dbPinger struct{ db *sql.DB }

func (p dbPinger) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// refreshIdentities sweeps every identity cache's pending set on a fixed
// interval until ctx is cancelled. Resolution failures are transient by
// nature (names fall back to raw ids), so they only warrant a log line.
func (a *app) refreshIdentities(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, c := range a.identities {
				if err := c.RefreshPending(ctx); err != nil {
					a.logger.Warn("identity refresh failed", map[string]any{"error": err.Error()})
				}
			}
		}
	}
}
