// Package api exposes the HTTP interface for the generation service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sshtomar/llm-txt/internal/config"
	"github.com/sshtomar/llm-txt/internal/generator"
	"github.com/sshtomar/llm-txt/internal/jobs"
	"github.com/sshtomar/llm-txt/internal/telemetry"
)

// Runner executes a created job asynchronously; the orchestrator satisfies
// it.
type Runner interface {
	Run(ctx context.Context, job generator.Job)
}

// Server wires HTTP handlers to the job manager and orchestrator.
type Server struct {
	router  chi.Router
	manager *jobs.Manager
	runner  Runner
	cfg     config.Config
	logger  *zap.Logger

	// baseCtx parents job execution so jobs outlive the HTTP request.
	baseCtx context.Context
}

// NewServer constructs a Server with middleware and routes.
func NewServer(baseCtx context.Context, manager *jobs.Manager, runner Runner, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		manager: manager,
		runner:  runner,
		cfg:     cfg,
		logger:  logger,
		baseCtx: baseCtx,
	}

	limiter := newIPRateLimiter(
		time.Duration(cfg.Server.RateLimitRefill*float64(time.Second)),
		cfg.Server.RateLimitBurst,
	)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(time.Duration(cfg.Server.RequestTimeoutMs) * time.Millisecond))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/generations", func(r chi.Router) {
			// The bucket is tight (burst 2, one refill per 30s); it guards
			// job creation only so status polling stays cheap.
			r.With(rateLimitMiddleware(limiter)).Post("/", s.createGeneration)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getGeneration)
				r.Delete("/", s.cancelGeneration)
				r.Get("/download/{file}", s.downloadArtifact)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Unix(),
	})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type generationRequest struct {
	URL           string   `json:"url"`
	MaxPages      *int     `json:"max_pages"`
	MaxDepth      *int     `json:"max_depth"`
	MaxKB         *int     `json:"max_kb"`
	FullVersion   *bool    `json:"full_version"`
	RespectRobots *bool    `json:"respect_robots"`
	Language      *string  `json:"language"`
	RequestDelay  *float64 `json:"request_delay"`
}

func (s *Server) createGeneration(w http.ResponseWriter, r *http.Request) {
	var req generationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	jobReq := s.cfg.Defaults()
	jobReq.URL = req.URL
	if req.MaxPages != nil {
		jobReq.MaxPages = *req.MaxPages
	}
	if req.MaxDepth != nil {
		jobReq.MaxDepth = *req.MaxDepth
	}
	if req.MaxKB != nil {
		jobReq.MaxKB = *req.MaxKB
	}
	if req.FullVersion != nil {
		jobReq.FullVersion = *req.FullVersion
	}
	if req.RespectRobots != nil {
		jobReq.RespectRobots = *req.RespectRobots
	}
	if req.Language != nil {
		jobReq.Language = *req.Language
	}
	if req.RequestDelay != nil {
		jobReq.RequestDelay = *req.RequestDelay
	}

	job, err := s.manager.Create(r.Context(), jobReq)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	go s.runner.Run(s.baseCtx, job)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":  job.ID,
		"status":  job.State,
		"message": "Generation job created successfully",
	})
}

func (s *Server) getGeneration(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	view, err := s.manager.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("get job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get job status")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) cancelGeneration(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	switch err := s.manager.Cancel(r.Context(), jobID); {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"message": "Job cancellation requested"})
	case errors.Is(err, jobs.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, jobs.ErrAlreadyTerminal):
		writeError(w, http.StatusConflict, "job already finished")
	default:
		s.logger.Error("cancel failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to cancel job")
	}
}

func (s *Server) downloadArtifact(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	kind, err := generator.ParseArtifactKind(chi.URLParam(r, "file"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := s.manager.Download(r.Context(), jobID, kind)
	if err != nil {
		switch {
		case errors.Is(err, jobs.ErrNotFound), errors.Is(err, jobs.ErrNotReady):
			writeError(w, http.StatusNotFound, "file not found or job not completed")
		default:
			s.logger.Error("download failed", zap.String("job_id", jobID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to download result")
		}
		return
	}

	if r.URL.Query().Get("raw") == "1" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", kind))
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(data); err != nil {
			s.logger.Debug("raw download write failed", zap.Error(err))
		}
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", kind))
	writeJSON(w, http.StatusOK, map[string]string{"content": string(data)})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already out; an encode failure has nowhere to go.
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
