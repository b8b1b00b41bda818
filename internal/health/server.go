// Package health serves the dispatcher's liveness, readiness and metrics
// endpoints.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/stiffinWanjohi/courier/internal/delivery"
	"github.com/stiffinWanjohi/courier/internal/dispatcher"
	"github.com/stiffinWanjohi/courier/internal/domain"
	"github.com/stiffinWanjohi/courier/internal/logging"
	"github.com/stiffinWanjohi/courier/internal/observability"
)

var log = logging.Component("health")

const checkTimeout = 2 * time.Second

// StatusSource reports dispatcher state.
type StatusSource interface {
	Status() dispatcher.Status
}

// StatsSource reports job counts per status.
type StatsSource interface {
	Stats(ctx context.Context) (domain.StatusCounts, error)
}

// AttemptSource lists the audited attempts of a job.
type AttemptSource interface {
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]domain.DeliveryAttempt, error)
}

// CheckFunc is a readiness check for one dependency.
type CheckFunc func(ctx context.Context) error

// ServerConfig holds optional server collaborators.
type ServerConfig struct {
	Metrics        *observability.Metrics
	Tracer         *observability.Tracer
	MetricsHandler http.Handler // served on /metrics when set
	Version        string
}

// Server is the health HTTP server.
type Server struct {
	router   *chi.Mux
	status   StatusSource
	stats    StatsSource
	attempts AttemptSource
	circuit  *delivery.CircuitBreaker
	checks   map[string]CheckFunc
	version  string
	started  time.Time
	srv      *http.Server
}

// NewServer creates a health server for the given dispatcher.
func NewServer(status StatusSource, cfg ServerConfig) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		status:  status,
		checks:  make(map[string]CheckFunc),
		version: cfg.Version,
		started: time.Now(),
	}

	r := s.router
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observability.HTTPMiddleware(cfg.Metrics, cfg.Tracer))
	r.Use(loggingMiddleware())

	r.Get("/health", s.healthHandler)
	r.Get("/ready", s.readyHandler)
	r.Get("/stats", s.statsHandler)
	r.Get("/circuits", s.circuitsHandler)
	r.Get("/jobs/{id}/attempts", s.attemptsHandler)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}
	return s
}

// WithCheck adds a readiness check.
func (s *Server) WithCheck(name string, check CheckFunc) *Server {
	s.checks[name] = check
	return s
}

// WithStats enables /stats.
func (s *Server) WithStats(stats StatsSource) *Server {
	s.stats = stats
	return s
}

// WithAttempts enables /jobs/{id}/attempts.
func (s *Server) WithAttempts(attempts AttemptSource) *Server {
	s.attempts = attempts
	return s
}

// WithCircuitBreaker enables /circuits.
func (s *Server) WithCircuitBreaker(cb *delivery.CircuitBreaker) *Server {
	s.circuit = cb
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr in the background.
func (s *Server) Start(addr string) {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("health server listening", "addr", addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("health server failed", "error", err)
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

type healthResponse struct {
	Status     string `json:"status"`
	Running    bool   `json:"running"`
	ActiveJobs int    `json:"active_jobs"`
	Version    string `json:"version,omitempty"`
	Uptime     string `json:"uptime"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	st := s.status.Status()
	resp := healthResponse{
		Status:     "ok",
		Running:    st.Running,
		ActiveJobs: st.ActiveJobs,
		Version:    s.version,
		Uptime:     time.Since(s.started).Truncate(time.Second).String(),
	}

	code := http.StatusOK
	if !st.Running {
		resp.Status = "stopped"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

type readyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := readyResponse{Status: "ready", Checks: make(map[string]string, len(names))}
	code := http.StatusOK
	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "not ready"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, code, resp)
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeError(w, http.StatusNotFound, "stats not available")
		return
	}

	counts, err := s.stats.Stats(r.Context())
	if err != nil {
		log.Error("failed to load job stats", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load job stats")
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) attemptsHandler(w http.ResponseWriter, r *http.Request) {
	if s.attempts == nil {
		writeError(w, http.StatusNotFound, "attempts not available")
		return
	}

	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	attempts, err := s.attempts.ListByJob(r.Context(), jobID)
	if err != nil {
		log.Error("failed to list delivery attempts", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list delivery attempts")
		return
	}
	if attempts == nil {
		attempts = []domain.DeliveryAttempt{}
	}
	writeJSON(w, http.StatusOK, attempts)
}

func (s *Server) circuitsHandler(w http.ResponseWriter, r *http.Request) {
	if s.circuit == nil {
		writeJSON(w, http.StatusOK, map[string]delivery.CircuitInfo{})
		return
	}
	writeJSON(w, http.StatusOK, s.circuit.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func loggingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
			)
		})
	}
}
