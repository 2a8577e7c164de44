package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/updatewatch/update-sentinel/internal/healthcheck"
	"github.com/updatewatch/update-sentinel/internal/inventory"
	"github.com/updatewatch/update-sentinel/internal/metrics"
	"github.com/updatewatch/update-sentinel/internal/rollback"
)

const (
	shutdownTimeout   = 5 * time.Second
	defaultAPILimit   = 50
	readHeaderTimeout = 5 * time.Second
)

// Deps are the collaborators the HTTP surface exposes. Store and Rollback
// may be nil; their endpoints then answer 503.
type Deps struct {
	Tracker      *healthcheck.Tracker
	Metrics      *metrics.Metrics
	Store        inventory.Store
	Rollback     *rollback.Manager
	PollInterval time.Duration
}

// Start launches the combined health, metrics, and read-only API server on
// addr. It returns immediately; the server shuts down when ctx is canceled.
func Start(ctx context.Context, logger zerolog.Logger, addr string, deps Deps) {
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthcheck.HealthHandler(deps.Tracker, deps.PollInterval))
	mux.HandleFunc("/readyz", healthcheck.ReadyHandler(deps.Tracker))
	mux.Handle("/metrics", deps.Metrics.Handler())
	mux.HandleFunc("/api/assets", AssetsHandler(deps.Store))
	mux.HandleFunc("/api/rollbacks", RollbacksHandler(deps.Rollback))
	mux.HandleFunc("/api/rollbacks/stats", RollbackStatsHandler(deps.Rollback))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("http server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", addr).Msg("http server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Str("addr", addr).Msg("http server shutdown failed")
		}
	}()
}

// AssetsHandler lists tracked assets. Filters: ?kind=, ?status=, ?namespace=.
func AssetsHandler(store inventory.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "inventory unavailable", http.StatusServiceUnavailable)
			return
		}
		filter := inventory.Filter{
			Kind:      inventory.Kind(r.URL.Query().Get("kind")),
			Status:    inventory.Status(r.URL.Query().Get("status")),
			Namespace: r.URL.Query().Get("namespace"),
		}
		assets, err := store.List(r.Context(), filter)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if assets == nil {
			assets = []inventory.Asset{}
		}
		writeJSON(w, http.StatusOK, assets)
	}
}

// RollbacksHandler serves the rollback audit trail, newest first. Filters:
// ?asset= (asset id), ?limit=.
func RollbacksHandler(manager *rollback.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if manager == nil {
			http.Error(w, "rollback history unavailable", http.StatusServiceUnavailable)
			return
		}
		limit := defaultAPILimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = parsed
		}
		events := manager.History(r.URL.Query().Get("asset"), limit)
		writeJSON(w, http.StatusOK, events)
	}
}

// RollbackStatsHandler summarizes recorded rollback activity.
func RollbackStatsHandler(manager *rollback.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if manager == nil {
			http.Error(w, "rollback history unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, manager.Stats())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
