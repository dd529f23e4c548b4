package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Jorineg/TeamworkMissiveConnector/internal/poller"
)

const shutdownTimeout = 15 * time.Second

// runServe wires up ingress, dispatcher, and poller and runs them until a
// SIGINT/SIGTERM, draining in-flight work before exiting.
func runServe() {
	cfg := loadConfigOrExit()
	a, err := newApp(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connectorcore: serve: %v\n", err)
		os.Exit(1)
	}
	defer a.close()

	if !cfg.DisableWebhooks {
		reconcileWebhooks(a)
	} else {
		a.logger.Info("webhook reconciliation skipped, DISABLE_WEBHOOKS set", nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		a.logger.Info("shutdown signal received", nil)
		cancel()
	}()

	startedAt := time.Now().UTC()
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.AppPort),
		Handler: a.ingressServer(startedAt).Router(),
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.logger.Info("http server starting", map[string]any{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server failed", map[string]any{"error": err.Error()})
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.dispatcher().Run(ctx); err != nil {
			a.logger.Error("dispatcher exited with error", map[string]any{"error": err.Error()})
		}
	}()

	for _, p := range a.sourcePollers() {
		wg.Add(1)
		go func(p *poller.SourcePoller) {
			defer wg.Done()
			p.Run(ctx)
		}(p)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.refreshIdentities(ctx, time.Minute)
	}()

	<-ctx.Done()

	shutCtx, shutCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		a.logger.Error("http server shutdown error", map[string]any{"error": err.Error()})
		_ = srv.Close()
	}

	wg.Wait()
	a.logger.Info("shutdown complete", nil)
}

func reconcileWebhooks(a *app) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, m := range a.webhookManagers() {
		targetURL := a.cfg.PublicBaseURL + "/webhook/" + m.Name
		if err := m.Reconcile(ctx, targetURL); err != nil {
			a.logger.Error("webhook reconcile failed", map[string]any{"source": m.Name, "error": err.Error()})
		}
	}
}
