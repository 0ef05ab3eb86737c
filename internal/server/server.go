// Package server exposes the HTTP ingestion boundary for run packages.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/evals-ingest/internal/config"
	"github.com/jonathan/evals-ingest/internal/pipeline"
)

// Config holds server configuration.
type Config struct {
	Port int

	// AuthSecret signs the bearer tokens uploads must carry. Empty disables
	// authentication.
	AuthSecret string
}

// Server accepts uploaded run packages and feeds them to the pipeline runner.
// Runs are processed strictly one at a time.
type Server struct {
	httpServer *http.Server
	runner     *pipeline.Runner
	logger     zerolog.Logger

	// runMu serializes run processing; the pipeline owns a single shared
	// working directory.
	runMu sync.Mutex
}

// New creates a server instance.
func New(cfg Config, runner *pipeline.Runner, logger zerolog.Logger) *Server {
	s := &Server{
		runner: runner,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /runs/{blob_name}", s.handleUpload)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.withLogging(withAuth(cfg.AuthSecret, mux)),
		ReadTimeout:  300 * time.Second, // run packages can be large
		WriteTimeout: 600 * time.Second, // processing happens inline
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start listens for requests until an interrupt or termination signal, then
// shuts down gracefully.
func (s *Server) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info().Str("addr", s.httpServer.Addr).Msg("server starting")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		s.logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	err := g.Wait()
	s.logger.Info().Msg("server stopped")
	return err
}

// handleUpload ingests one run package. The blob name must follow the
// <buildID>_run_data.zip convention; anything else is rejected.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	blobName := r.PathValue("blob_name")
	if !strings.HasSuffix(blobName, config.ZipSuffix) {
		s.logger.Warn().Str("blob", blobName).Msg("skipping blob with unexpected name")
		s.errorResponse(w, http.StatusBadRequest,
			fmt.Sprintf("blob name must end with %s", config.ZipSuffix))
		return
	}
	buildID := strings.TrimSuffix(blobName, config.ZipSuffix)

	tmp, err := os.CreateTemp("", "*"+config.ZipSuffix)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	size, err := io.Copy(tmp, r.Body)
	closeErr := tmp.Close()
	if err != nil || closeErr != nil {
		s.errorResponse(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	s.logger.Info().Str("blob", blobName).Int64("size", size).Msg("received run package")

	s.runMu.Lock()
	err = s.runner.ProcessRunData(r.Context(), tmpPath, buildID)
	s.runMu.Unlock()

	if err != nil {
		var formatErr *pipeline.InputFormatError
		var missingErr *pipeline.MissingDataError
		switch {
		case errors.As(err, &formatErr), errors.As(err, &missingErr):
			s.errorResponse(w, http.StatusUnprocessableEntity, err.Error())
		default:
			s.errorResponse(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]string{
		"status":   "processed",
		"build_id": buildID,
	})
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// withLogging adds per-request logging with a correlation id.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()
		logger := s.logger.With().Str("request_id", requestID).Logger()

		logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Str("remote", r.RemoteAddr).Msg("request")
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context())))
		logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Dur("elapsed", time.Since(start)).Msg("completed")
	})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("error encoding JSON response")
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}
