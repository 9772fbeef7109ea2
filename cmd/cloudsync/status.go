package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/alexjbarnes/cloudsync/internal/cloudsync"
	"github.com/alexjbarnes/cloudsync/internal/config"
	"github.com/alexjbarnes/cloudsync/internal/httpsclient"
	"github.com/alexjbarnes/cloudsync/internal/state"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show endpoints and last sync outcomes",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		st, err := state.LoadAt(cfg.StatePath)
		if err != nil {
			return fmt.Errorf("loading state (is cloudsync run holding it?): %w", err)
		}
		defer st.Close()

		fmt.Printf("sync enabled: %t\n", cfg.Enabled)
		fmt.Printf("data dir:     %s\n", cfg.DataDir)
		fmt.Printf("trust store:  %s\n\n", describeTrust(cfg))

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "COLLECTION\tENDPOINT\tSTATUS\tAT\tLAST SUCCESS\tERROR")

		envEndpoints := map[cloudsync.Collection]string{
			cloudsync.CollectionRatings: cfg.RatingsEndpoint,
			cloudsync.CollectionHistory: cfg.HistoryEndpoint,
		}

		for _, c := range cloudsync.Collections {
			endpoint := cloudsync.ExpandEndpoint(cfg.ProviderBaseURL, resolveEndpoint(envEndpoints[c], st, c))
			if endpoint == "" {
				endpoint = "-"
			}

			status, at, last, msg := "disabled", "-", "never", ""
			if endpoint != "-" && cfg.Enabled {
				status = "idle"
			}

			o, err := st.Outcome(c.String())
			if err != nil {
				return fmt.Errorf("reading %s outcome: %w", c, err)
			}
			if o != nil {
				status, at, last, msg = o.Status, formatTime(o.At), formatTime(o.LastSuccess), o.Error
			}

			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", c, endpoint, status, at, last, msg)
		}

		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func describeTrust(cfg *config.Config) string {
	path, ok := httpsclient.FindTrustStore(cfg.TrustStoreCandidates())
	if !ok {
		return "none (certificates are NOT verified)"
	}

	return path
}
