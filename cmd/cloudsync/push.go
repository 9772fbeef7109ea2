package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

var pushCmd = &cobra.Command{
	Use:       "push [ratings|history|all]...",
	Short:     "Upload collections now",
	Long:      `Upload the local collections to their endpoints, replacing the remote documents.`,
	ValidArgs: []string{"ratings", "history", "all"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runManual(cmd.Context(), args, "push")
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull [ratings|history|all]...",
	Short: "Download and merge collections now",
	Long: `Download the remote documents and merge them into the local collections.

Ratings: the remote rating wins and play counts keep the larger value.
History: entries are unioned by (timestamp, id), newest first, capped at 10000.`,
	ValidArgs: []string{"ratings", "history", "all"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runManual(cmd.Context(), args, "pull")
	},
}

func init() {
	rootCmd.AddCommand(pushCmd, pullCmd)
}

func runManual(ctx context.Context, args []string, op string) error {
	targets, err := parseTargets(args)
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	events, unsubscribe := a.engine.Subscribe()
	defer unsubscribe()

	var failed int
	for _, c := range targets {
		if op == "pull" {
			err = a.engine.Pull(ctx, c)
		} else {
			err = a.engine.Push(ctx, c)
		}

		// Manual operations notify synchronously, so the event is ready.
		select {
		case ev := <-events:
			a.record(ev)
		default:
		}

		if err != nil {
			failed++
			fmt.Printf("%s %s: failed: %v\n", op, c, err)
			continue
		}

		a.logger.Debug("manual operation done", slog.String("op", op), slog.String("collection", c.String()))
		fmt.Printf("%s %s: ok (%s)\n", op, c, a.engine.Endpoint(c))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d %s operations failed", failed, len(targets), op)
	}

	return nil
}
