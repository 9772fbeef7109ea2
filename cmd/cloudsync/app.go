package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alexjbarnes/cloudsync/internal/cloudsync"
	"github.com/alexjbarnes/cloudsync/internal/collection"
	"github.com/alexjbarnes/cloudsync/internal/config"
	"github.com/alexjbarnes/cloudsync/internal/httpsclient"
	"github.com/alexjbarnes/cloudsync/internal/logging"
	"github.com/alexjbarnes/cloudsync/internal/state"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// app wires every component from one configuration. Each command builds
// its own and closes it on exit.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	state    *state.State
	store    *collection.Store
	session  *httpsclient.Session
	engine   *cloudsync.Engine
	registry *prometheus.Registry
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)

	trust, err := loadTrustStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	session, err := httpsclient.NewSession(httpsclient.Options{TrustStore: trust}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating https session: %w", err)
	}

	st, err := state.LoadAt(cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store := collection.NewStore(cfg.DataDir)

	engine := cloudsync.NewEngine(cloudsync.Config{
		Session:         session,
		Store:           store,
		ProviderBaseURL: cfg.ProviderBaseURL,
		Enabled:         cfg.Enabled,
		RatingsEndpoint: resolveEndpoint(cfg.RatingsEndpoint, st, cloudsync.CollectionRatings),
		HistoryEndpoint: resolveEndpoint(cfg.HistoryEndpoint, st, cloudsync.CollectionHistory),
		Metrics:         cloudsync.NewMetrics(registry),
	}, logger)

	return &app{
		cfg:      cfg,
		logger:   logger,
		state:    st,
		store:    store,
		session:  session,
		engine:   engine,
		registry: registry,
	}, nil
}

// Close stops the engine and releases the state database.
func (a *app) Close() {
	a.engine.Stop()

	if err := a.state.Close(); err != nil {
		a.logger.Warn("closing state db", slog.String("error", err.Error()))
	}
}

// loadTrustStore loads the configured bundle, or the first default
// bundle found. An explicitly configured bundle that cannot be read is
// fatal; a missing default bundle means unverified TLS.
func loadTrustStore(cfg *config.Config, logger *slog.Logger) (*httpsclient.TrustStore, error) {
	if cfg.TrustStorePath != "" {
		trust, err := httpsclient.LoadTrustStore(cfg.TrustStorePath)
		if err != nil {
			return nil, fmt.Errorf("loading trust store: %w", err)
		}
		return trust, nil
	}

	path, ok := httpsclient.FindTrustStore(cfg.TrustStoreCandidates())
	if !ok {
		return nil, nil
	}

	trust, err := httpsclient.LoadTrustStore(path)
	if err != nil {
		logger.Warn("ignoring unreadable trust store",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}

	logger.Debug("using trust store", slog.String("path", path))

	return trust, nil
}

// resolveEndpoint prefers the environment and falls back to the state db.
func resolveEndpoint(fromEnv string, st *state.State, c cloudsync.Collection) string {
	if fromEnv != "" {
		return fromEnv
	}

	return st.Endpoint(c.String())
}

// record persists the outcome of a finished operation.
func (a *app) record(ev cloudsync.StatusEvent) {
	if ev.Status != cloudsync.StatusSuccess && ev.Status != cloudsync.StatusError {
		return
	}

	if err := a.state.RecordOutcome(ev.Collection.String(), ev.Status.String(), ev.Err, ev.At); err != nil {
		a.logger.Warn("recording sync outcome",
			slog.String("collection", ev.Collection.String()),
			slog.String("error", err.Error()),
		)
	}
}

// recordOutcomes stores every finished operation until the engine closes
// the channel or ctx ends.
func (a *app) recordOutcomes(ctx context.Context, events <-chan cloudsync.StatusEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			a.record(ev)
		}
	}
}

// parseTargets turns command arguments into collections. No argument or
// "all" selects both.
func parseTargets(args []string) ([]cloudsync.Collection, error) {
	if len(args) == 0 || (len(args) == 1 && args[0] == "all") {
		return cloudsync.Collections, nil
	}

	out := make([]cloudsync.Collection, 0, len(args))
	for _, arg := range args {
		c, err := cloudsync.ParseCollection(arg)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}

	return out, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}

	return t.Local().Format(time.DateTime)
}
