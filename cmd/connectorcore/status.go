package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

type statusReport struct {
	QueueDepth  map[string]int64 `json:"queue_depth"`
	FailedCount int64            `json:"failed_count"`
}

func runStatus() {
	cfg := loadConfigOrExit()
	a, err := newApp(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connectorcore: status: %v\n", err)
		os.Exit(1)
	}
	defer a.close()

	bySource, failed, err := a.queue.Depths(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "connectorcore: status: %v\n", err)
		os.Exit(1)
	}
	report := statusReport{QueueDepth: make(map[string]int64, len(bySource)), FailedCount: failed}
	for src, n := range bySource {
		report.QueueDepth[string(src)] = n
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)
}
