// Package server exposes the HTTP trigger surface: GitHub App webhooks,
// manual analysis requests and a health probe.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jacklau/autofix/internal/queue"
	"github.com/jacklau/autofix/internal/store"
)

const shutdownTimeout = 10 * time.Second

// Registry tracks installations and the repositories they grant.
type Registry interface {
	UpsertInstallation(id int64, account string) error
	DeleteInstallation(id int64) error
	AddRepository(installationID int64, owner, name string) (*store.Repository, error)
	RemoveRepository(owner, name string) error
}

// Config holds server settings.
type Config struct {
	Addr          string
	WebhookSecret string
	AnalysisQueue string
	FixQueue      string
	Version       string
}

// Server serves the trigger endpoints.
type Server struct {
	cfg       Config
	queue     queue.Queue
	registry  Registry
	validator *validator.Validate
	logger    *slog.Logger
	handler   http.Handler
}

// New creates a Server.
func New(cfg Config, q queue.Queue, registry Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		queue:     q,
		registry:  registry,
		validator: validator.New(),
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook", s.handleWebhook)
	mux.HandleFunc("POST /analyze", s.handleAnalyze)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)
	s.handler = s.withLogging(mux)

	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run listens on cfg.Addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// AnalyzeRequest asks for one repository to be analyzed.
type AnalyzeRequest struct {
	RepoOwner      string `json:"repo_owner" validate:"required"`
	RepoName       string `json:"repo_name" validate:"required"`
	InstallationID int64  `json:"installation_id" validate:"gt=0"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validator.Struct(req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	job := queue.AnalysisJob{
		RepoOwner:      req.RepoOwner,
		RepoName:       req.RepoName,
		InstallationID: req.InstallationID,
	}
	if err := queue.Push(r.Context(), s.queue, s.cfg.AnalysisQueue, job); err != nil {
		s.logger.Error("enqueue analysis failed", "repo", job.Repo(), "error", err)
		s.errorResponse(w, http.StatusServiceUnavailable, "could not enqueue analysis")
		return
	}

	s.logger.Info("analysis enqueued", "repo", job.Repo(), "source", "api")
	s.jsonResponse(w, http.StatusAccepted, map[string]string{"status": "queued", "repo": job.Repo()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	analysis, err := s.queue.Len(r.Context(), s.cfg.AnalysisQueue)
	if err == nil {
		var fix int64
		fix, err = s.queue.Len(r.Context(), s.cfg.FixQueue)
		if err == nil {
			s.jsonResponse(w, http.StatusOK, map[string]any{
				"status":         "ok",
				"analysis_queue": analysis,
				"fix_queue":      fix,
			})
			return
		}
	}
	s.logger.Warn("health check failed", "error", err)
	s.jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"name": "autofix", "version": s.cfg.Version})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("encoding JSON response", "error", err)
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

func validationMessage(err error) string {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		return fmt.Sprintf("validation error: %s - %s", ve[0].Field(), ve[0].Tag())
	}
	return "validation error: invalid request"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
