package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "cloudsync",
	Short: "Sync ratings and history with remote JSON documents",
	Long: `cloudsync uploads the local ratings (rating.json) and listening history
(history.json) to one remote document each, and merges remote changes back.

Configuration comes from the environment, optionally via a .env file:
  CLOUDSYNC_ENABLED   enable sync (default true)
  RATINGS_ENDPOINT    https URL or bare document id for ratings
  HISTORY_ENDPOINT    https URL or bare document id for history
  PROVIDER_BASE_URL   document provider (default https://api.npoint.io/)
  TRUST_STORE_PATH    PEM bundle of trusted CAs
  DATA_DIR            collection directory (default ~/.cloudsync)
  STATE_PATH          state database (default <DATA_DIR>/state.db)
  ENVIRONMENT         "production" switches to JSON logs
  LOG_LEVEL           debug, info, warn or error
  METRICS_ADDR        listen address for /metrics, /status, /healthz (run only)
  WATCH_LOCAL         upload on local file change (default true)

Commands:
  run         Run the sync worker until interrupted
  push        Upload collections now
  pull        Download and merge collections now
  provision   Create a new remote document for a collection
  status      Show endpoints and last sync outcomes`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
