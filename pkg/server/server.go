// Package server provides the REST API of the lookup service.
//
// Routes:
//
//	GET  /health        service health
//	GET  /check?uuid=   {"is_valid": bool}
//	POST /setup         public parameters in, {"id": "<uuid>"} out
//	POST /query         query bytes in, response bytes out
//	GET  /info          dataset info
//	POST /reload        reload the dataset (bearer admin token)
//	GET  /metrics       prometheus metrics
//
// The server never sees which bucket a query asks for.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sprl/lookup/internal/service"
	"github.com/sprl/lookup/pkg/observability/logging"
	"github.com/sprl/lookup/pkg/pir"
	"github.com/sprl/lookup/pkg/transport"
)

// Server handles REST API requests.
type Server struct {
	svc     *service.LookupService
	cfg     Config
	logger  *slog.Logger
	limiter *rateLimiter

	httpServer *http.Server
	mux        *http.ServeMux
}

// Config holds server configuration.
type Config struct {
	// Address to listen on (e.g., ":8080")
	Address string

	// Read/write timeouts
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// MaxBodyBytes bounds setup and query bodies.
	MaxBodyBytes int64

	// AdminToken authorizes POST /reload. Empty disables the route.
	AdminToken string

	// RateLimit applies to /check, /setup, /query and /info.
	RateLimit RateLimit

	// Version is reported by /health.
	Version string
}

// DefaultConfig returns sensible defaults for local development.
func DefaultConfig() Config {
	return Config{
		Address:      ":8080",
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: 2 * time.Minute, // Answers take a while on large databases
		MaxBodyBytes: 64 << 20,
		RateLimit:    RateLimit{RequestsPerMinute: 120, Burst: 20},
	}
}

// New creates a new server instance.
func New(cfg Config, svc *service.LookupService, logger *slog.Logger) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	s := &Server{
		svc:     svc,
		cfg:     cfg,
		logger:  logging.OrDefault(logger).With("component", "rest"),
		limiter: newRateLimiter(cfg.RateLimit),
		mux:     http.NewServeMux(),
	}

	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		ErrorLog:     slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	return s
}

// registerRoutes sets up all API endpoints.
func (s *Server) registerRoutes() {
	limited := func(h http.HandlerFunc) http.Handler { return s.limiter.middleware(h) }

	s.mux.HandleFunc("GET "+transport.PathHealth, s.handleHealth)
	s.mux.Handle("GET "+transport.PathCheck, limited(s.handleCheck))
	s.mux.Handle("POST "+transport.PathSetup, limited(s.handleSetup))
	s.mux.Handle("POST "+transport.PathQuery, limited(s.handleQuery))
	s.mux.Handle("GET "+transport.PathInfo, limited(s.handleInfo))
	if s.cfg.AdminToken != "" {
		s.mux.HandleFunc("POST "+transport.PathReload, s.withAdmin(s.handleReload))
	}
	s.mux.Handle("GET /metrics", promhttp.Handler())
}

// Handler returns the root handler with request logging.
func (s *Server) Handler() http.Handler {
	return s.withLogging(s.mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("server starting", "address", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		level := slog.LevelDebug
		if rec.status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.logger.Log(r.Context(), level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed", time.Since(start),
		)
	})
}

// withAdmin requires "Authorization: Bearer <AdminToken>".
func (s *Server) withAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}
		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid authorization header format")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) != 1 {
			writeError(w, http.StatusForbidden, "invalid token")
			return
		}
		next(w, r)
	}
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	Dataset  int64  `json:"dataset_version"`
	Sessions int    `json:"sessions"`
	Buckets  uint64 `json:"buckets"`
	Time     string `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.svc.HealthCheck(r.Context())
	status := http.StatusOK
	if !h.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, HealthResponse{
		Status:   h.Status,
		Version:  s.cfg.Version,
		Dataset:  h.Version,
		Sessions: h.Sessions,
		Buckets:  h.Buckets,
		Time:     time.Now().UTC().Format(time.RFC3339),
	})
}

// CheckResponse is the body of GET /check.
type CheckResponse struct {
	IsValid bool `json:"is_valid"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("uuid")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing uuid")
		return
	}
	writeJSON(w, http.StatusOK, CheckResponse{IsValid: s.svc.CheckSession(r.Context(), id)})
}

// SetupResponse is the body of POST /setup.
type SetupResponse struct {
	ID string `json:"id"`
}

func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	id, err := s.svc.RegisterKey(r.Context(), body)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SetupResponse{ID: id})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	resp, err := s.svc.Answer(r.Context(), body)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(resp); err != nil {
		s.logger.Debug("failed to write query response", "error", err)
	}
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Info())
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Reload(r.Context()); err != nil {
		s.logger.Error("reload failed", "error", err)
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Info())
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "empty request body")
		return nil, false
	}
	return body, true
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pir.ErrInvalidPublicParams), errors.Is(err, pir.ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidSession):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrEphemeralDisabled):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, service.ErrNoDataDir):
		return http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		msg = "internal error"
	}
	writeError(w, status, msg)
}

// Helper functions
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
