// Package api exposes the HTTP interface for the harvesting service.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	guuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/harvesterlabs/threadharvest/internal/harvest"
	"github.com/harvesterlabs/threadharvest/internal/metrics"
	"github.com/harvesterlabs/threadharvest/internal/store"
)

// Runner accepts and executes harvest runs. It is implemented by app.App.
type Runner interface {
	SubmitRun(ctx context.Context, query string) (string, error)
	ExecuteRun(ctx context.Context, runID, query string) (store.RunRecord, error)
}

// Server wires HTTP handlers to the runner and the run store.
type Server struct {
	router chi.Router
	runner Runner
	runs   *store.RunStore
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(runner Runner, runs *store.RunStore, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runner: runner,
		runs:   runs,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.submitRun)
			r.Get("/{run_id}", s.getRun)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitRunRequest struct {
	Query string `json:"query"`
}

func (s *Server) submitRun(w http.ResponseWriter, r *http.Request) {
	var req submitRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	runID, err := s.runner.SubmitRun(r.Context(), req.Query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// The run outlives the request; its own deadline bounds it.
	go func() {
		if _, err := s.runner.ExecuteRun(context.Background(), runID, req.Query); err != nil {
			s.logger.Error("run execution failed",
				zap.String("run_id", runID),
				zap.Error(err),
			)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

type runResponse struct {
	ID          string                 `json:"id"`
	Query       string                 `json:"query"`
	Status      store.RunStatus        `json:"status"`
	Submitted   time.Time              `json:"submitted"`
	Finished    *time.Time             `json:"finished,omitempty"`
	Outcome     harvest.RunOutcome     `json:"outcome,omitempty"`
	Truncated   bool                   `json:"truncated"`
	Items       int                    `json:"items"`
	ArtifactURI string                 `json:"artifact_uri,omitempty"`
	Rendered    string                 `json:"rendered,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Artifact    *harvest.FinalArtifact `json:"artifact,omitempty"`
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	record, err := s.runs.GetRun(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	resp := runResponse{
		ID:          record.ID,
		Query:       record.Query,
		Status:      record.Status,
		Submitted:   record.Submitted,
		Finished:    record.Finished,
		Truncated:   false,
		ArtifactURI: record.ArtifactURI,
		Rendered:    record.Rendered,
		Error:       record.ErrorText,
		Artifact:    record.Artifact,
	}
	if record.Artifact != nil {
		resp.Outcome = record.Artifact.Outcome
		resp.Truncated = record.Artifact.Truncated
		resp.Items = len(record.Artifact.Items)
	}
	writeJSON(w, http.StatusOK, resp)
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := guuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
