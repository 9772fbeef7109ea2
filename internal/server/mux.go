// Package server provides the local HTTP listener for metrics and status.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/alexjbarnes/cloudsync/internal/cloudsync"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusSource is the subset of cloudsync.Engine the status endpoint reads.
type StatusSource interface {
	Snapshot() cloudsync.Snapshot
}

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Registry *prometheus.Registry
	Status   StatusSource
	Logger   *slog.Logger
}

// NewMux builds the HTTP mux with /metrics, /status and /healthz.
func NewMux(cfg MuxConfig) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{
		Registry: cfg.Registry,
	}))
	mux.HandleFunc("/status", handleStatus(cfg.Status, cfg.Logger))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	return mux
}

type collectionStatus struct {
	Status      string     `json:"status"`
	Endpoint    string     `json:"endpoint,omitempty"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
}

type statusResponse struct {
	Enabled   bool             `json:"enabled"`
	Insecure  bool             `json:"insecure"`
	Ratings   collectionStatus `json:"ratings"`
	History   collectionStatus `json:"history"`
	LastError string           `json:"last_error,omitempty"`
}

func toCollectionStatus(s cloudsync.CollectionState) collectionStatus {
	out := collectionStatus{Status: s.Status.String(), Endpoint: s.Endpoint}
	if !s.LastSuccess.IsZero() {
		t := s.LastSuccess.UTC()
		out.LastSuccess = &t
	}

	return out
}

func handleStatus(src StatusSource, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		snap := src.Snapshot()
		resp := statusResponse{
			Enabled:   snap.Enabled,
			Insecure:  snap.Insecure,
			Ratings:   toCollectionStatus(snap.Ratings),
			History:   toCollectionStatus(snap.History),
			LastError: snap.LastError,
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Warn("writing status response", slog.String("error", err.Error()))
		}
	}
}
