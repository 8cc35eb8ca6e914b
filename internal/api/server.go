// Package api exposes the engine over HTTP: the dispatch contract for
// softphones, read-only projections for reporting UIs, and admin controls
// for the leak monitor. Every write goes through the same conditional-update
// services the CLI uses, so API and CLI workers can run side by side.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/dialer-engine/internal/agents"
	"github.com/sells-group/dialer-engine/internal/config"
	"github.com/sells-group/dialer-engine/internal/dispatch"
	"github.com/sells-group/dialer-engine/internal/leaks"
	"github.com/sells-group/dialer-engine/internal/ledger"
	"github.com/sells-group/dialer-engine/internal/metrics"
	"github.com/sells-group/dialer-engine/internal/model"
	"github.com/sells-group/dialer-engine/internal/monitoring"
	"github.com/sells-group/dialer-engine/internal/queue"
	"github.com/sells-group/dialer-engine/internal/runlog"
)

// Dispatcher is the claim/complete surface. Satisfied by dispatch.Engine.
type Dispatcher interface {
	NextForAgent(ctx context.Context, agentID string, category model.Category) (*dispatch.WorkItem, error)
	Claim(ctx context.Context, kind dispatch.WorkKind, ref, agentID string) (bool, error)
	Release(ctx context.Context, kind dispatch.WorkKind, ref, agentID string) error
	Complete(ctx context.Context, req dispatch.CompleteRequest) error
	EnqueueInbound(ctx context.Context, in dispatch.NewInbound) (*model.InboundCall, error)
	ConnectInbound(ctx context.Context, id, agentID string) (bool, error)
	ScheduleCallback(ctx context.Context, in dispatch.NewCallback) (*model.Callback, error)
}

// QueueReader serves queue pages. Satisfied by queue.Service. Aggregate
// stats ride along in the monitoring snapshot instead.
type QueueReader interface {
	Entries(ctx context.Context, category model.Category, limit, offset int) ([]queue.Entry, error)
}

// ConversionLister reads the conversion ledger. Satisfied by ledger.Ledger.
type ConversionLister interface {
	Conversions(ctx context.Context, f ledger.Filter) ([]model.ConversionRecord, error)
}

// LeakScanner runs on-demand scans. Satisfied by leaks.Scanner.
type LeakScanner interface {
	Scan(ctx context.Context, window time.Duration) (leaks.Report, error)
	Pending(ctx context.Context, window time.Duration) (int64, error)
}

// MonitorControl starts and stops the background leak monitor. Satisfied by
// leaks.Monitor.
type MonitorControl interface {
	Start(ctx context.Context) bool
	Stop() bool
	Running() bool
}

// Presence is the agent registry surface. Satisfied by agents.Registry.
type Presence interface {
	Heartbeat(ctx context.Context, agentID, status string) error
	List(ctx context.Context) ([]agents.Agent, error)
}

// RunLister reads recent job runs. Satisfied by runlog.Log.
type RunLister interface {
	RecentRuns(ctx context.Context, job string, limit int) ([]runlog.Entry, error)
}

// HealthCollector builds the stats snapshot. Satisfied by
// monitoring.Collector.
type HealthCollector interface {
	Collect(ctx context.Context, lookbackHours int) (*monitoring.Snapshot, error)
}

// Deps collects the services the API fronts. Monitor may be nil when the
// serve loop owns the leak monitor lifecycle itself.
type Deps struct {
	Dispatch    Dispatcher
	Queues      QueueReader
	Conversions ConversionLister
	Leaks       LeakScanner
	Monitor     MonitorControl
	Agents      Presence
	Runs        RunLister
	Health      HealthCollector

	// LeakWindow is the scan window used when a request does not name one.
	LeakWindow time.Duration
}

// Server is the engine's HTTP front end.
type Server struct {
	deps   Deps
	router *chi.Mux
	http   *http.Server
}

// New builds a server on the given port.
func New(cfg config.ServerConfig, deps Deps) *Server {
	if deps.LeakWindow <= 0 {
		deps.LeakWindow = 24 * time.Hour
	}
	s := &Server{deps: deps}
	s.router = s.routes()
	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		// Dispatch contract.
		r.Get("/next", s.handleNext)
		r.Post("/claim", s.handleClaim)
		r.Post("/release", s.handleRelease)
		r.Post("/complete", s.handleComplete)
		r.Post("/callbacks", s.handleScheduleCallback)
		r.Post("/inbound", s.handleEnqueueInbound)
		r.Post("/inbound/{id}/connect", s.handleConnectInbound)

		// Reporting projections.
		r.Get("/queue/{category}", s.handleQueue)
		r.Get("/stats", s.handleStats)
		r.Get("/conversions", s.handleConversions)
		r.Get("/runs", s.handleRuns)

		// Agent presence.
		r.Get("/agents", s.handleListAgents)
		r.Post("/agents/{id}/heartbeat", s.handleHeartbeat)

		// Leak monitor admin.
		r.Post("/leaks/scan", s.handleLeakScan)
		r.Get("/leaks/status", s.handleLeakStatus)
		r.Post("/leaks/monitor/start", s.handleMonitorStart)
		r.Post("/leaks/monitor/stop", s.handleMonitorStop)
	})

	return r
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	zap.L().Info("api server listening", zap.String("addr", s.http.Addr))
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requestLogger writes one line per request through the global logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)))
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("api: response encode failed", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// decodeJSON rejects unknown fields so client typos surface as 400s rather
// than silently dropped options.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
