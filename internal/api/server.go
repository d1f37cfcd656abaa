// Package api exposes the HTTP control surface for the scraper.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/docket-scraper/internal/config"
	"github.com/JakeFAU/docket-scraper/internal/metrics"
	"github.com/JakeFAU/docket-scraper/internal/pipeline"
	"github.com/JakeFAU/docket-scraper/internal/records"
	"github.com/JakeFAU/docket-scraper/internal/worker"
)

const (
	enqueueTimeout = 5 * time.Second
	storeTimeout   = 3 * time.Second
)

// Scheduler queues scrape runs for the background worker.
type Scheduler interface {
	Submit(ctx context.Context, sources, names []string) (worker.Status, error)
	Job(runID string) (worker.Status, bool)
	Jobs() []worker.Status
}

// Pipeline is the synchronous side of the orchestrator.
type Pipeline interface {
	Sources(names []string) ([]records.Source, error)
	SearchName(ctx context.Context, name string) (pipeline.Summary, error)
	State() pipeline.State
}

// DetailFetcher performs deep-detail fetches.
type DetailFetcher interface {
	Fetch(ctx context.Context, key string) pipeline.DetailResult
}

// Pinger reports backend readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators behind the HTTP handlers.
type Deps struct {
	Scheduler Scheduler
	Pipeline  Pipeline
	Detail    DetailFetcher
	Store     records.Store
	Logger    *zap.Logger
}

// Server wires HTTP handlers to the dispatcher, orchestrator and store.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(cfg config.Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	s := &Server{deps: deps, logger: deps.Logger.Named("api")}

	timeout := cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(timeout))
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/status", s.status)
		r.Post("/scrape", s.submitScrape)
		r.Post("/search", s.search)
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.listJobs)
			r.Get("/{run_id}", s.getJob)
		})
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.listRuns)
			r.Get("/latest", s.latestRun)
		})
		r.Route("/inmates/{key}", func(r chi.Router) {
			r.Get("/", s.getInmate)
			r.Post("/detail", s.fetchDetail)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	pinger, ok := s.deps.Store.(Pinger)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	if err := pinger.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"state": s.deps.Pipeline.State()}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	if run, err := s.deps.Store.LatestRun(ctx, records.RunSuccess); err == nil {
		body["last_success"] = run
	}
	writeJSON(w, http.StatusOK, body)
}

type scrapeRequest struct {
	Sources []string `json:"sources"`
	Names   []string `json:"names"`
}

func (s *Server) submitScrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	if len(req.Sources) > 0 {
		if _, err := s.deps.Pipeline.Sources(req.Sources); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	names := trimAll(req.Names)
	ctx, cancel := context.WithTimeout(r.Context(), enqueueTimeout)
	defer cancel()
	st, err := s.deps.Scheduler.Submit(ctx, req.Sources, names)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, records.ErrQueueFull) || errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		s.logger.Error("enqueue scrape failed", zap.Error(err))
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"run_id": st.RunID, "state": st.State})
}

type searchRequest struct {
	Name string `json:"name"`
	// Async queues the search instead of waiting for it.
	Async bool `json:"async"`
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}
	if req.Async {
		ctx, cancel := context.WithTimeout(r.Context(), enqueueTimeout)
		defer cancel()
		st, err := s.deps.Scheduler.Submit(ctx, nil, []string{name})
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"run_id": st.RunID, "state": st.State})
		return
	}
	summary, err := s.deps.Pipeline.SearchName(r.Context(), name)
	switch {
	case errors.Is(err, records.ErrRunInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeJSON(w, http.StatusOK, summary)
	}
}

func (s *Server) listJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": s.deps.Scheduler.Jobs()})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	st, ok := s.deps.Scheduler.Job(chi.URLParam(r, "run_id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": st})
}

func (s *Server) getInmate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	in, err := s.deps.Store.GetInmate(ctx, chi.URLParam(r, "key"))
	if err != nil {
		if errors.Is(err, records.ErrNotFound) {
			writeError(w, http.StatusNotFound, "inmate not found")
			return
		}
		s.logger.Error("get inmate failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load inmate")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"inmate": in})
}

func (s *Server) fetchDetail(w http.ResponseWriter, r *http.Request) {
	res := s.deps.Detail.Fetch(r.Context(), chi.URLParam(r, "key"))
	status := http.StatusOK
	if !res.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type requestIDKey struct{}

// RequestID returns the ID assigned to the request carrying ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
