package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/screening-cli/internal/blob"
	"github.com/sells-group/screening-cli/internal/model"
	"github.com/sells-group/screening-cli/internal/monitoring"
	"github.com/sells-group/screening-cli/internal/pipeline"
	"github.com/sells-group/screening-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP trigger for screening requests",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort > 0 {
			cfg.Server.Port = servePort
		}
		env, err := initScreening(ctx, cfg, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		srv := &http.Server{
			Addr: fmt.Sprintf(":%d", cfg.Server.Port),
			Handler: newRouter(routerDeps{
				Runner:         env.Orchestrator,
				Records:        env.Merger,
				Runs:           env.Store,
				Registry:       env.Metrics.Registry(),
				AllowedOrigins: cfg.Server.AllowedOrigins,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store, nil),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			go checker.Run(ctx)
		}

		errCh := make(chan error, 1)
		go func() {
			zap.L().Info("server listening", zap.Int("port", cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			return eris.Wrap(err, "serve")
		case <-ctx.Done():
		}

		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return eris.Wrap(srv.Shutdown(shutdownCtx), "server shutdown")
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

// recordReader serves merged entity records.
type recordReader interface {
	Latest(ctx context.Context, entityID string) (*model.UnifiedRecord, error)
}

// runReader serves run history.
type runReader interface {
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListStages(ctx context.Context, runID string) ([]model.RunStage, error)
}

type routerDeps struct {
	Runner         pipeline.Runner
	Records        recordReader
	Runs           runReader
	Registry       *prometheus.Registry
	AllowedOrigins []string
}

func newRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	if len(d.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: d.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSONStatus(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if d.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/screenings", handleScreening(d.Runner))
		r.Get("/entities/{entityID}", handleEntity(d.Records))
		r.Get("/runs/{runID}", handleRun(d.Runs))
	})
	return r
}

// handleScreening runs the pipeline synchronously and returns the trigger
// result. A run that reached a terminal state answers 200 even when failed.
func handleScreening(runner pipeline.Runner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req model.TriggerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		result, err := runner.Run(r.Context(), req)
		if errors.Is(err, pipeline.ErrInvalidEntity) {
			writeError(w, http.StatusBadRequest, "entity_name is required")
			return
		}
		if err != nil {
			zap.L().Error("screening request failed", zap.String("entity", req.EntityName), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "screening failed")
			return
		}
		writeJSONStatus(w, http.StatusOK, result)
	}
}

func handleEntity(records recordReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entityID := model.NormalizeID(chi.URLParam(r, "entityID"))
		rec, err := records.Latest(r.Context(), entityID)
		if errors.Is(err, blob.ErrNotFound) {
			writeError(w, http.StatusNotFound, "entity not found")
			return
		}
		if err != nil {
			zap.L().Error("read unified record", zap.String("entity_id", entityID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "read failed")
			return
		}
		writeJSONStatus(w, http.StatusOK, rec)
	}
}

func handleRun(runs runReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "runID")
		run, err := runs.GetRun(r.Context(), runID)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		if err != nil {
			zap.L().Error("read run", zap.String("run_id", runID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "read failed")
			return
		}
		stages, err := runs.ListStages(r.Context(), runID)
		if err != nil {
			zap.L().Error("read run stages", zap.String("run_id", runID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "read failed")
			return
		}
		writeJSONStatus(w, http.StatusOK, runDetail{Run: run, Stages: stages})
	}
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSONStatus(w, status, map[string]string{"error": msg})
}
