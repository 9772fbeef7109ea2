package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexjbarnes/cloudsync/internal/cloudsync"
	"github.com/alexjbarnes/cloudsync/internal/collection"
	"github.com/alexjbarnes/cloudsync/internal/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	runPullFirst   bool
	runSyncOnStart bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync worker until interrupted",
	Long: `Run the background sync worker. Local collection changes are uploaded as
they happen (WATCH_LOCAL), and /metrics, /status and /healthz are served when METRICS_ADDR is set.

With --pull, remote documents are merged into the local collections before
the worker starts.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		return a.run(ctx, runPullFirst, runSyncOnStart)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runPullFirst, "pull", false, "merge remote documents into local collections before starting")
	runCmd.Flags().BoolVar(&runSyncOnStart, "sync-on-start", true, "queue an upload of every collection at startup")
	rootCmd.AddCommand(runCmd)
}

func (a *app) run(ctx context.Context, pullFirst, syncOnStart bool) error {
	a.logger.Info("cloudsync starting",
		slog.String("version", Version),
		slog.Bool("enabled", a.cfg.Enabled),
		slog.String("data_dir", a.cfg.DataDir),
		slog.Bool("insecure", a.session.Insecure()),
	)

	events, unsubscribe := a.engine.Subscribe()
	defer unsubscribe()

	if pullFirst {
		for _, c := range cloudsync.Collections {
			if a.engine.Endpoint(c) == "" {
				continue
			}
			if err := a.engine.Pull(ctx, c); err != nil {
				a.logger.Warn("initial pull failed",
					slog.String("collection", c.String()),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.engine.Run(gctx)
	})

	g.Go(func() error {
		return a.recordOutcomes(gctx, events)
	})

	if a.cfg.WatchLocal {
		watcher := collection.NewWatcher(a.store, a.engine, a.logger)
		g.Go(func() error {
			if err := watcher.Watch(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("watching collections: %w", err)
			}
			return nil
		})
	}

	if a.cfg.MetricsAddr != "" {
		g.Go(func() error {
			return a.serveMetrics(gctx)
		})
	}

	if syncOnStart {
		a.engine.SyncAll()
	}

	return g.Wait()
}

// serveMetrics serves /metrics, /status and /healthz until ctx ends.
func (a *app) serveMetrics(ctx context.Context) error {
	mux := server.NewMux(server.MuxConfig{
		Registry: a.registry,
		Status:   a.engine,
		Logger:   a.logger,
	})

	srv := &http.Server{
		Addr:              a.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("metrics listening", slog.String("addr", a.cfg.MetricsAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
