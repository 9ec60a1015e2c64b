// Package server exposes the generation API.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"example.com/analytics-synth/internal/metrics"
	"example.com/analytics-synth/internal/orchestrator"
	"example.com/analytics-synth/internal/pipeline"
	"example.com/analytics-synth/internal/runs"
	"example.com/analytics-synth/internal/synth"
)

// Server launches runs through an orchestrator and records them in the run
// registry.
type Server struct {
	store    *runs.Store
	cache    *runs.Cache
	orch     orchestrator.Orchestrator
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	now      func() time.Time

	// PlanCheck, when set, vets resolved plans before a run is created.
	PlanCheck func(pipeline.Plan) error

	// async runs outlive their request and are canceled by Close.
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer builds a server. cache and gatherer are optional.
func NewServer(store *runs.Store, cache *runs.Cache, orch orchestrator.Orchestrator, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		store:    store,
		cache:    cache,
		orch:     orch,
		gatherer: gatherer,
		logger:   logger.With("component", "server"),
		now:      time.Now,
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Router wires all routes under a single chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	})
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(s.gatherer))
	}

	r.Route("/runs", func(r chi.Router) {
		r.Get("/", s.handleListRuns)
		r.Post("/", s.handleCreateRun)
		r.Get("/latest", s.handleLatestRuns)
		r.Get("/{runID}", s.handleGetRun)
	})
	return r
}

// Close cancels async runs and waits for them to record their outcome.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: %v", err)
		return
	}
	plan, err := req.Resolve(s.now())
	if err != nil {
		writeRunError(w, err)
		return
	}
	if s.PlanCheck != nil {
		if err := s.PlanCheck(plan); err != nil {
			if synth.IsConfigError(err) {
				writeRunError(w, err)
			} else {
				writeError(w, http.StatusBadRequest, "%v", err)
			}
			return
		}
	}
	run, err := s.store.Create(r.Context(), plan)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "create run: %v", err)
		return
	}
	logger := s.logger.With("run_id", run.ID, "seed", plan.Seed)
	logger.Info("run accepted", "users", plan.NumUsers, "days", plan.Days, "shards", plan.Shards)

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.execute(s.baseCtx, run.ID, plan, logger)
		}()
		writeJSON(w, http.StatusAccepted, run)
		return
	}

	run, err = s.execute(r.Context(), run.ID, plan, logger)
	if err != nil {
		writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

// execute runs the dataset and records the outcome. The returned error is
// the generation error; recording failures are only logged.
func (s *Server) execute(ctx context.Context, runID string, plan pipeline.Plan, logger *slog.Logger) (runs.Run, error) {
	result, genErr := s.orch.Generate(ctx, orchestrator.DatasetInput{RunID: runID, Plan: plan})

	// the outcome is recorded even when ctx was canceled mid-run.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	var (
		run runs.Run
		err error
	)
	if genErr != nil {
		logger.Error("run failed", "error", genErr)
		run, err = s.store.Fail(recordCtx, runID, orchestrator.ErrorCode(genErr), genErr)
	} else {
		logger.Info("run succeeded", "events", result.Summary.Events, "sessions", result.Summary.Sessions)
		run, err = s.store.Complete(recordCtx, runID, result.WorkflowID, result.Summary)
	}
	if err != nil {
		logger.Error("record run failed", "error", err)
		return run, genErr
	}
	if s.cache != nil {
		if err := s.cache.Put(recordCtx, run); err != nil {
			logger.Warn("cache run failed", "error", err)
		}
	}
	return run, genErr
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.lookup(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		handleNotFound(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// lookup reads a run from the cache, falling back to the store.
func (s *Server) lookup(ctx context.Context, id string) (runs.Run, error) {
	if s.cache != nil {
		run, err := s.cache.Get(ctx, id)
		if err == nil {
			return run, nil
		}
		if !errors.Is(err, runs.ErrCacheMiss) {
			s.logger.Warn("cache read failed", "run_id", id, "error", err)
		}
	}
	run, err := s.store.Get(ctx, id)
	if err != nil {
		return runs.Run{}, err
	}
	if s.cache != nil && run.Done() {
		if err := s.cache.Put(ctx, run); err != nil {
			s.logger.Warn("cache run failed", "run_id", id, "error", err)
		}
	}
	return run, nil
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	page, size := parsePaging(r)
	result, err := s.store.List(r.Context(), page, size)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list runs: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleLatestRuns(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		writeError(w, http.StatusNotImplemented, "run cache not configured")
		return
	}
	ids, err := s.cache.Latest(r.Context(), parseIntDefault(r.URL.Query().Get("limit"), 10))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "latest runs: %v", err)
		return
	}
	out := make([]runs.Run, 0, len(ids))
	for _, id := range ids {
		run, err := s.lookup(r.Context(), id)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "latest runs: %v", err)
			return
		}
		out = append(out, run)
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

func parsePaging(r *http.Request) (int, int) {
	page := parseIntDefault(r.URL.Query().Get("page"), 1)
	size := parseIntDefault(r.URL.Query().Get("page_size"), 0)
	return runs.EnsurePageSize(page, size)
}

func parseIntDefault(v string, fallback int) int {
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeCodedError(w, status, "", fmt.Sprintf(format, args...))
}

func writeCodedError(w http.ResponseWriter, status int, code, message string) {
	body := map[string]any{
		"message": strings.TrimSpace(message),
		"status":  status,
	}
	if code != "" {
		body["code"] = code
	}
	writeJSON(w, status, map[string]any{"error": body})
}

// writeRunError maps generation errors to HTTP statuses.
func writeRunError(w http.ResponseWriter, err error) {
	code := orchestrator.ErrorCode(err)
	switch code {
	case synth.CodeConfig:
		writeCodedError(w, http.StatusBadRequest, code, err.Error())
	case synth.CodeIntegrity:
		writeCodedError(w, http.StatusUnprocessableEntity, code, err.Error())
	default:
		writeCodedError(w, http.StatusInternalServerError, "", err.Error())
	}
}

func handleNotFound(w http.ResponseWriter, err error) {
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "%v", err)
}
