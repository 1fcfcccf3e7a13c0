// Package health serves liveness, readiness and Prometheus metrics for the
// long-running rpzsync process. Readiness is built from dependency checks
// and the report of the most recent run.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gitlab.bluewillows.net/root/rpzsync/internal/metrics"
)

// Readiness status values.
const (
	StatusReady    = "ready"
	StatusDegraded = "degraded"
	StatusNotReady = "not_ready"
)

// Check reports whether a dependency such as the appliance is reachable.
type Check func(ctx context.Context) error

// LastRun summarizes one finished run.
type LastRun struct {
	Outcome  string    `json:"outcome"`
	Finished time.Time `json:"finished"`
	Desired  int       `json:"desired"`
	Problems []string  `json:"problems,omitempty"`
	Stale    bool      `json:"stale,omitempty"`
}

// RunSource returns the latest run, or nil while the first run is pending.
type RunSource func() *LastRun

// CheckResult is the outcome of one Check.
type CheckResult struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Readiness is the /ready payload.
type Readiness struct {
	Status  string        `json:"status"`
	Checks  []CheckResult `json:"checks,omitempty"`
	LastRun *LastRun      `json:"last_run,omitempty"`
}

// Server serves /health, /ready and /metrics.
type Server struct {
	port       int
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
	timeout    time.Duration
	gatherer   prometheus.Gatherer
	runs       RunSource
	staleAfter time.Duration
	now        func() time.Time

	mu     sync.RWMutex
	checks map[string]Check
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithGatherer serves metrics from g instead of the rpzsync registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		if g != nil {
			s.gatherer = g
		}
	}
}

// WithTimeout bounds the time all checks of one /ready request may take.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// WithRuns reports the latest run on /ready. A run that finished longer
// than staleAfter ago marks the process degraded; zero disables that.
func WithRuns(src RunSource, staleAfter time.Duration) Option {
	return func(s *Server) {
		s.runs = src
		s.staleAfter = staleAfter
	}
}

// New returns a Server that will listen on port once started.
func New(port int, opts ...Option) *Server {
	s := &Server{
		port:     port,
		router:   chi.NewRouter(),
		logger:   slog.Default(),
		timeout:  5 * time.Second,
		gatherer: metrics.Registry,
		now:      time.Now,
		checks:   make(map[string]Check),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router.Use(middleware.RealIP, middleware.Recoverer)
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/ready", s.handleReady)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return s
}

// AddCheck registers a dependency check under name, replacing any earlier one.
func (s *Server) AddCheck(name string, check Check) {
	s.mu.Lock()
	s.checks[name] = check
	s.mu.Unlock()
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	ready := s.readiness(ctx)
	code := http.StatusOK
	if ready.Status == StatusNotReady {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, ready)
}

// readiness runs the checks in name order and folds in the latest run.
// A failed check makes the process not ready; a run with problems or a
// stale run only degrades it.
func (s *Server) readiness(ctx context.Context) Readiness {
	s.mu.RLock()
	names := make([]string, 0, len(s.checks))
	checks := make(map[string]Check, len(s.checks))
	for name, check := range s.checks {
		names = append(names, name)
		checks[name] = check
	}
	s.mu.RUnlock()
	sort.Strings(names)

	out := Readiness{Status: StatusReady}
	for _, name := range names {
		res := CheckResult{Name: name, OK: true}
		if err := checks[name](ctx); err != nil {
			res.OK = false
			res.Error = err.Error()
			out.Status = StatusNotReady
			s.logger.Warn("readiness check failed",
				slog.String("check", name),
				slog.String("error", err.Error()),
			)
		}
		out.Checks = append(out.Checks, res)
	}

	if s.runs == nil {
		return out
	}
	run := s.runs()
	if run == nil {
		return out
	}
	last := *run
	if s.staleAfter > 0 && s.now().Sub(last.Finished) > s.staleAfter {
		last.Stale = true
	}
	out.LastRun = &last
	if out.Status == StatusReady && (last.Stale || len(last.Problems) > 0) {
		out.Status = StatusDegraded
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Start listens in the background. Listener errors are logged.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Info("health server starting", slog.Int("port", s.port))
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("health server error", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Shutdown stops the listener. It is a no-op before Start.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
