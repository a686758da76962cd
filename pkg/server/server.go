// Package server runs the hourly optimization loop and exposes the HTTP API
// for triggering runs and inspecting the current plan.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/helioplan/helioplan/pkg/hass"
	"github.com/helioplan/helioplan/pkg/log"
	"github.com/helioplan/helioplan/pkg/planner"
	"github.com/helioplan/helioplan/pkg/types"

	"github.com/NYTimes/gziphandler"
	"github.com/levenlabs/go-lflag"
	"github.com/robfig/cron/v3"
)

// hourlySpec fires at the top of every hour, right after fresh Nordpool and
// Solcast data is expected.
const hourlySpec = "0 * * * *"

// Server owns the optimization loop: it is triggered hourly by cron or on
// demand via the API, reads inputs through the bridge, plans, and issues the
// control actions for the current hour.
type Server struct {
	bridge  hass.Bridge
	planner *planner.Planner

	listenAddr string
	dryRun     bool
	httpServer *http.Server

	// runMu serializes optimization runs so overlapping triggers cannot
	// issue conflicting control commands
	runMu sync.Mutex

	planMu   sync.RWMutex
	lastPlan *types.Plan
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(b hass.Bridge, pl *planner.Planner) *Server {
	srv := &Server{
		bridge:  b,
		planner: pl,
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	dryRun := lflag.Bool("dry-run", false, "Log control actions instead of sending them to the inverter")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		srv.dryRun = *dryRun
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/update", s.handleUpdate)
	mux.HandleFunc("GET /api/plan", s.handleGetPlan)
	mux.HandleFunc("/healthz", s.handleHealthz)
	return gziphandler.GzipHandler(mux)
}

// Run starts the cron trigger and the HTTP server and blocks until the
// context is canceled or an error occurs. It also handles graceful shutdown
// when the context is done.
func (s *Server) Run(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(hourlySpec, func() {
		if err := s.runOnce(ctx, time.Now()); err != nil {
			if errors.Is(err, errInput) {
				log.Ctx(ctx).WarnContext(ctx, "skipping optimization run", slog.Any("error", err))
				return
			}
			log.Ctx(ctx).ErrorContext(ctx, "optimization run failed", slog.Any("error", err))
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule hourly run: %w", err)
	}
	c.Start()
	defer c.Stop()

	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capture server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

// handleUpdate triggers an optimization run immediately, the API counterpart
// of the hourly cron tick.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.runOnce(ctx, time.Now()); err != nil {
		if errors.Is(err, errInput) {
			// recoverable: the next trigger retries with fresh data
			log.Ctx(ctx).WarnContext(ctx, "skipping optimization run", slog.Any("error", err))
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(struct {
				Status string `json:"status"`
				Error  string `json:"error"`
			}{Status: "skipped", Error: err.Error()}); err != nil {
				panic(http.ErrAbortHandler)
			}
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "optimization run failed", slog.Any("error", err))
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(struct {
		Status string `json:"status"`
	}{Status: "ok"}); err != nil {
		panic(http.ErrAbortHandler)
	}
}

// handleGetPlan returns the most recently computed plan.
func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	s.planMu.RLock()
	plan := s.lastPlan
	s.planMu.RUnlock()

	if plan == nil {
		writeJSONError(w, "no plan computed yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(plan); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

// LastPlan returns the most recently computed plan, or false if no run has
// completed yet.
func (s *Server) LastPlan() (types.Plan, bool) {
	s.planMu.RLock()
	defer s.planMu.RUnlock()
	if s.lastPlan == nil {
		return types.Plan{}, false
	}
	return *s.lastPlan, true
}
