package main

import (
	"context"
	"fmt"
	"os"
)

// runRequeue moves one failed envelope back to pending so the dispatcher
// picks it up again with a fresh attempt budget.
func runRequeue() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: connectorcore requeue <envelope-id>")
		os.Exit(2)
	}
	id := os.Args[2]

	cfg := loadConfigOrExit()
	a, err := newApp(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connectorcore: requeue: %v\n", err)
		os.Exit(1)
	}
	defer a.close()

	if err := a.queue.Requeue(context.Background(), id); err != nil {
		fmt.Fprintf(os.Stderr, "connectorcore: requeue: %s: %v\n", id, err)
		os.Exit(1)
	}
	fmt.Printf("connectorcore: requeue: %s: ok\n", id)
}
