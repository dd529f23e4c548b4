package main

import (
	"fmt"
	"os"

	"github.com/Jorineg/TeamworkMissiveConnector/internal/config"
)

func runValidate() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "connectorcore: validate: %v\n", err)
		os.Exit(1)
	}
	sources := []string{}
	if cfg.TBaseURL != "" {
		sources = append(sources, "T")
	}
	if cfg.MAPIToken != "" {
		sources = append(sources, "M")
	}
	if cfg.SourceCEnabled() {
		sources = append(sources, "C")
	}
	fmt.Printf("connectorcore: configuration valid, sources=%v webhooks_disabled=%v\n", sources, cfg.DisableWebhooks)
}
