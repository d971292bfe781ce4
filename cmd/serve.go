package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hooplytics/statsync/internal/model"
	"github.com/hooplytics/statsync/internal/store"
)

var (
	servePort     int
	sweepInterval time.Duration
	sweepMaxAge   time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve pipeline status over HTTP",
	Long:  "Read-only status endpoints for dashboards: recent runs, circuit breaker states, and data freshness. Also runs the stale-freshness sweeper in the background.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		mux := http.NewServeMux()
		mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		mux.HandleFunc("GET /runs", func(w http.ResponseWriter, r *http.Request) {
			runs, err := st.ListPipelineRuns(r.Context(), store.RunFilter{
				Status: model.RunStatus(r.URL.Query().Get("status")),
				Limit:  50,
			})
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, runs)
		})

		mux.HandleFunc("GET /runs/{id}", func(w http.ResponseWriter, r *http.Request) {
			run, err := st.GetPipelineRun(r.Context(), r.PathValue("id"))
			if err != nil {
				status := http.StatusInternalServerError
				if eris.Is(err, store.ErrNotFound) {
					status = http.StatusNotFound
				}
				writeJSON(w, status, map[string]string{"error": err.Error()})
				return
			}
			jobs, err := st.ListJobRuns(r.Context(), run.ID)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"run": run, "jobs": jobs})
		})

		mux.HandleFunc("GET /circuits", func(w http.ResponseWriter, r *http.Request) {
			states, err := st.ListCircuits(r.Context())
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, states)
		})

		mux.HandleFunc("GET /freshness", func(w http.ResponseWriter, r *http.Request) {
			entries, err := st.ListFreshness(r.Context())
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, entries)
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		}

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("starting status server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			return sweepStaleFreshness(ctx, st)
		})
		g.Go(func() error {
			<-ctx.Done()
			zap.L().Info("shutting down status server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		return g.Wait()
	},
}

// sweepStaleFreshness periodically deletes freshness rows older than the
// configured max age so sources that stopped reporting don't look fresh
// forever in dashboards.
func sweepStaleFreshness(ctx context.Context, st store.Store) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			deleted, err := st.DeleteStaleFreshness(ctx, sweepMaxAge)
			if err != nil {
				zap.L().Warn("freshness sweep failed", zap.Error(err))
				continue
			}
			if deleted > 0 {
				zap.L().Info("swept stale freshness rows", zap.Int("deleted", deleted))
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().DurationVar(&sweepInterval, "sweep-interval", time.Hour, "how often to sweep stale freshness rows")
	serveCmd.Flags().DurationVar(&sweepMaxAge, "sweep-max-age", 7*24*time.Hour, "freshness rows older than this are deleted")
	rootCmd.AddCommand(serveCmd)
}
