// Command connectorcore runs the Teamwork/Missive ingestion and
// reconciliation core. Subcommand dispatch is a plain switch over
// os.Args[1] rather than a framework like cobra.
package main

import (
	"fmt"
	"os"

	"github.com/Jorineg/TeamworkMissiveConnector/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "serve":
		runServe()
	case "backfill":
		runBackfill()
	case "status":
		runStatus()
	case "requeue":
		runRequeue()
	case "validate":
		runValidate()
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "connectorcore: unknown subcommand %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: connectorcore <subcommand>

subcommands:
  serve      start the webhook listener, poller, and dispatcher
  backfill   run one manual poll cycle across all configured sources
  status     print queue depth and failed-envelope counts as JSON
  requeue    move one failed envelope back to pending by id
  validate   load and validate configuration, then exit`)
}

func loadConfigOrExit() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "connectorcore: %v\n", err)
		os.Exit(1)
	}
	return cfg
}
