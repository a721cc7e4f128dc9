package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/alpenmeteo/townpick/internal/config"
	"github.com/alpenmeteo/townpick/internal/model"
	"github.com/alpenmeteo/townpick/internal/monitoring"
	"github.com/alpenmeteo/townpick/internal/output"
	"github.com/alpenmeteo/townpick/internal/regions"
	"github.com/alpenmeteo/townpick/internal/selection"
	"github.com/alpenmeteo/townpick/internal/store"
	"github.com/alpenmeteo/townpick/internal/swissgrid"
)

var serveAddr string

// maxPickBody caps POST /api/v1/pick payloads. The full registry with
// generous polygons stays well under this.
const maxPickBody = 10 << 20

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the label API",
	Long:  "Starts the HTTP API exposing recorded runs and their labels to renderers, plus a synchronous picker for uploaded town sets.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(st),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			go checker.Run(ctx)
		}

		srv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           buildRouter(st, cfg.Pick, cfg.Monitoring),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// buildRouter assembles the chi router serving the label API.
func buildRouter(st store.Store, pickCfg config.PickConfig, monCfg config.MonitoringConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))
	r.Use(requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/runs", handleListRuns(st))
		r.Get("/runs/{id}/labels", handleRunLabels(st))
		r.Get("/labels", handleLatestLabels(st))
		r.Post("/pick", handlePick(pickCfg))
		r.Get("/metrics", handleMetrics(st, monCfg))
	})

	return r
}

// requestLogger logs every request through the global zap logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func handleListRuns(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = n
		}

		runs, err := st.ListRuns(r.Context(), store.RunFilter{Limit: limit})
		if err != nil {
			zap.L().Error("list runs failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "list runs failed")
			return
		}
		if runs == nil {
			runs = []model.Run{}
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

func handleRunLabels(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := st.GetRun(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			if eris.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "run not found")
				return
			}
			zap.L().Error("get run failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "get run failed")
			return
		}
		writeJSON(w, http.StatusOK, run.Labels)
	}
}

func handleLatestLabels(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := st.LatestRun(r.Context())
		if err != nil {
			if eris.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "no runs recorded")
				return
			}
			zap.L().Error("latest run failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "latest run failed")
			return
		}
		writeJSON(w, http.StatusOK, run.Labels)
	}
}

// pickRequest is a self-contained selection request: towns with LV95
// coordinates, optional boundary polygons, and the policy switches.
type pickRequest struct {
	Towns       []model.Town            `json:"towns"`
	Polygons    []model.BoundaryPolygon `json:"polygons,omitempty"`
	SeparationM *float64                `json:"separation_m,omitempty"`
	Coverage    bool                    `json:"coverage,omitempty"`
	Order       string                  `json:"order,omitempty"`
}

type pickResponse struct {
	Labels []model.SelectedTown `json:"labels"`
	Stats  model.RunStats       `json:"stats"`
}

func handlePick(pickCfg config.PickConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()

		r.Body = http.MaxBytesReader(w, r.Body, maxPickBody)
		var req pickRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if len(req.Towns) == 0 {
			writeError(w, http.StatusBadRequest, "towns are required")
			return
		}

		separation := pickCfg.SeparationM
		if req.SeparationM != nil {
			separation = *req.SeparationM
		}

		var matcher *regions.Matcher
		if len(req.Polygons) > 0 {
			matcher = regions.NewMatcher(req.Polygons)
		}

		stats := model.RunStats{InputTowns: len(req.Towns)}
		prepared := make([]model.Town, 0, len(req.Towns))
		for _, t := range req.Towns {
			lat, lon, err := swissgrid.ToWGS84(t.E, t.N)
			if err != nil {
				stats.OutOfRange++
				continue
			}
			t.Lat, t.Lon = lat, lon
			if matcher != nil {
				t.RegionID = matcher.Match(t.E, t.N)
			} else {
				t.RegionID = model.RegionUnassigned
			}
			if t.RegionID == model.RegionUnassigned {
				stats.Unassigned++
			}
			prepared = append(prepared, t)
		}
		if matcher != nil {
			stats.PolygonsLoaded = matcher.Count()
			stats.PolygonsDropped = matcher.Dropped()
		}

		res, err := selection.Run(prepared, selection.Config{
			Policy:         selection.ConstantPolicy{Distance: separation},
			EnsureCoverage: req.Coverage,
		})
		if err != nil {
			if eris.Is(err, selection.ErrInvalidConfig) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			zap.L().Error("pick failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "pick failed")
			return
		}

		labels, err := output.Assemble(res, output.OrderBy(req.Order))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		stats.Selected = len(labels)
		stats.Rejected = len(prepared) - len(labels)
		stats.ForcedCoverage = len(res.Forced)
		stats.DurationMS = time.Since(started).Milliseconds()

		writeJSON(w, http.StatusOK, pickResponse{Labels: labels, Stats: stats})
	}
}

func handleMetrics(st store.Store, monCfg config.MonitoringConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := monitoring.NewCollector(st).Collect(r.Context(), monCfg.LookbackWindowHours)
		if err != nil {
			zap.L().Error("collect metrics failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "collect metrics failed")
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	rootCmd.AddCommand(serveCmd)
}
