package main

import (
	"fmt"

	"github.com/alexjbarnes/cloudsync/internal/cloudsync"
	"github.com/spf13/cobra"
)

var provisionSave bool

var provisionCmd = &cobra.Command{
	Use:   "provision ratings|history",
	Short: "Create a new remote document for a collection",
	Long: `Create a new document on the provider, seeded with the current local
collection (or an empty one), and print its endpoint URL.

By default the endpoint is saved to the state database so later runs use
it when the corresponding *_ENDPOINT variable is unset.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"ratings", "history"},
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := cloudsync.ParseCollection(args[0])
		if err != nil {
			return err
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		body, err := a.initialDocument(c)
		if err != nil {
			return err
		}

		p := cloudsync.NewProvisioner(a.session, a.cfg.ProviderBaseURL, a.logger)
		endpoint, err := p.Create(cmd.Context(), body)
		if err != nil {
			return fmt.Errorf("provisioning %s: %w", c, err)
		}

		if provisionSave {
			if err := a.state.SetEndpoint(c.String(), endpoint); err != nil {
				return fmt.Errorf("saving endpoint: %w", err)
			}
		}

		fmt.Println(endpoint)

		return nil
	},
}

func init() {
	provisionCmd.Flags().BoolVar(&provisionSave, "save", true, "store the new endpoint in the state database")
	rootCmd.AddCommand(provisionCmd)
}

// initialDocument returns the local collection re-encoded in wire form,
// or an empty document when nothing is stored yet.
func (a *app) initialDocument(c cloudsync.Collection) ([]byte, error) {
	data, err := a.store.ReadCollection(c)
	if err != nil {
		return nil, err
	}

	if c == cloudsync.CollectionHistory {
		h, err := cloudsync.DecodeHistory(data)
		if err != nil {
			return nil, fmt.Errorf("local history: %w", err)
		}
		return cloudsync.EncodeHistory(h)
	}

	r, err := cloudsync.DecodeRatings(data)
	if err != nil {
		return nil, fmt.Errorf("local ratings: %w", err)
	}

	return cloudsync.EncodeRatings(r)
}
