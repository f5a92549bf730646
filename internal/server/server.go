package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dr-kube/dr-kube/internal/admission"
	"github.com/dr-kube/dr-kube/internal/audit"
	"github.com/dr-kube/dr-kube/internal/config"
	"github.com/dr-kube/dr-kube/internal/models"
	"github.com/dr-kube/dr-kube/internal/store"
)

// Intake is the batch entry point behind the webhooks.
type Intake interface {
	HandleBatch(ctx context.Context, issues []models.IssueRecord) []admission.Decision
	ApplyAdmissionConfig(cfg admission.Config)
	Admission() admission.Controller
}

// Deps holds the components the server exposes.
type Deps struct {
	Intake Intake
	RunLog store.RunLog // optional
	Hub    *Hub         // optional
	Audit  audit.Logger // optional
	Logger *zap.Logger

	// Ping reports backing store health for /ready. Optional.
	Ping func(ctx context.Context) error
}

// Server is the dr-kube webhook and admin API server
type Server struct {
	config *config.Config
	deps   Deps

	// HTTP server
	httpServer *http.Server
	mux        *http.ServeMux

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// State
	mu      sync.RWMutex
	running bool
}

// NewServer creates a new server
func NewServer(cfg *config.Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if deps.Intake == nil {
		return nil, fmt.Errorf("intake cannot be nil")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Hub == nil {
		deps.Hub = NewHub(cfg.Server.AllowedOrigins, deps.Logger)
	}
	if deps.Audit == nil {
		deps.Audit, _ = audit.NewLogger(audit.Config{}, deps.Logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv := &Server{
		config: cfg,
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
		mux:    http.NewServeMux(),
	}
	srv.registerHandlers(srv.mux)
	return srv, nil
}

// Handler returns the HTTP handler with every route registered.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
}

// Start starts the server
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.mu.Unlock()

	s.httpServer = &http.Server{
		Addr:         s.Addr(),
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.deps.Logger.Info("starting HTTP server", zap.String("addr", s.Addr()))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.deps.Logger.Error("HTTP server error", zap.Error(err))
			s.cancel()
		}
	}()

	s.auditErr(s.deps.Audit.LogServer(s.ctx, audit.EventServerStarted, s.Addr()), audit.EventServerStarted)
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	s.deps.Logger.Info("stopping server")

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.deps.Logger.Warn("error shutting down HTTP server", zap.Error(err))
		}
	}

	s.deps.Hub.Close()
	s.auditErr(s.deps.Audit.LogServer(context.Background(), audit.EventServerShutdown, s.Addr()), audit.EventServerShutdown)

	s.cancel()
	s.wg.Wait()
	return nil
}

// Wait blocks until the server is stopped
func (s *Server) Wait() {
	<-s.ctx.Done()
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// ApplyConfigUpdates applies every delivered config's admission section to
// the live controller until ctx ends or updates closes.
func (s *Server) ApplyConfigUpdates(ctx context.Context, updates <-chan config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok {
				return
			}
			admCfg, err := cfg.AdmissionConfig()
			if err != nil {
				s.deps.Logger.Warn("ignoring config reload", zap.Error(err))
				continue
			}
			s.deps.Intake.ApplyAdmissionConfig(admCfg)
			s.auditErr(s.deps.Audit.LogConfigReload(ctx), audit.EventConfigReload)
			s.deps.Logger.Info("admission config reloaded",
				zap.String("cost_mode", string(admCfg.CostMode)),
				zap.Bool("composite_incident_mode", admCfg.CompositeIncidentMode),
			)
		}
	}
}

func (s *Server) auditErr(err error, event audit.EventType) {
	if err != nil {
		s.deps.Logger.Warn("failed to write audit event", zap.String("event_type", string(event)), zap.Error(err))
	}
}

// registerHandlers registers HTTP handlers
func (s *Server) registerHandlers(mux *http.ServeMux) {
	// Health and readiness
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	// Intake webhooks
	mux.HandleFunc("/webhook/alertmanager", s.handleAlertmanagerWebhook)
	mux.HandleFunc("/webhook/argocd", s.handleArgoCDWebhook)

	// Admission control
	mux.HandleFunc("/api/v1/admission/limits", s.handleAdmissionLimits)
	mux.HandleFunc("/api/v1/admission/override", s.handleAdmissionOverride)

	// Run history
	mux.HandleFunc("/api/v1/remediations", s.handleRemediations)

	// Live outcome feed
	mux.HandleFunc("/ws/remediations", s.deps.Hub.ServeWS)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleReady handles readiness check requests
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Ping != nil {
		if err := s.deps.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ready",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
