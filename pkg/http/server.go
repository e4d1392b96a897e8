package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"skillcoach-engine/pkg/coaching"
	"skillcoach-engine/pkg/errors"
	"skillcoach-engine/pkg/metrics"
	"skillcoach-engine/pkg/registry"
	"skillcoach-engine/pkg/stt"
	"skillcoach-engine/pkg/version"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// ConnectionChecker reports whether a broker connection is up
type ConnectionChecker interface {
	IsConnected() bool
}

// HealthChecker pings a backing store
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Services are the engine components exposed over HTTP. Sessions and
// Coaching are required; the rest only feed the health report.
type Services struct {
	Sessions   *registry.Registry
	Coaching   *coaching.Advisor
	Recognizer stt.Recognizer
	Messaging  ConnectionChecker
	Store      HealthChecker
}

// Server is the internal RPC surface of the engine
type Server struct {
	config     *Config
	logger     *logrus.Logger
	httpServer *http.Server
	mux        *http.ServeMux
	services   Services
	hub        *LiveHub
	startTime  time.Time
}

// NewServer creates the server and registers every endpoint
func NewServer(logger *logrus.Logger, config *Config, services Services) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	server := &Server{
		config:    config,
		logger:    logger,
		mux:       http.NewServeMux(),
		services:  services,
		startTime: time.Now(),
	}
	server.hub = NewLiveHub(logger, services.Sessions, config.SnapshotInterval)

	addServerHeader := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Server", version.ServerHeader())
			next(w, r)
		}
	}
	handle := func(pattern string, h http.HandlerFunc) {
		server.mux.HandleFunc(pattern, addServerHeader(h))
	}

	handle("GET /health", server.HealthHandler)
	handle("GET /health/live", server.LivenessHandler)
	handle("GET /health/ready", server.ReadinessHandler)
	handle("GET /status", server.statusHandler)

	handle("POST /api/sessions", server.createSession)
	handle("GET /api/sessions/{id}", server.getSession)
	handle("POST /api/sessions/{id}/signals", server.ingestSignals)
	handle("POST /api/sessions/{id}/end", server.endSession)
	handle("GET /api/sessions/{id}/live", server.getLive)
	handle("GET /api/sessions/{id}/moments", server.getMoments)
	handle("GET /api/sessions/{id}/indicators", server.getIndicators)

	handle("POST /api/coaching", server.startCoaching)
	handle("GET /api/coaching/{id}", server.getCoaching)
	handle("POST /api/coaching/{id}/input", server.coachingInput)
	handle("POST /api/coaching/{id}/prompts/{promptID}/complete", server.completePrompt)
	handle("POST /api/coaching/{id}/end", server.endCoaching)

	server.mux.HandleFunc("GET /ws/sessions/{id}", server.hub.ServeWs)

	if config.EnableMetrics {
		if reg := metrics.GetRegistry(); reg != nil {
			promHandler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{
				EnableOpenMetrics: true,
				Registry:          reg,
			})
			server.mux.HandleFunc("GET "+config.MetricsPath, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Server", version.ServerHeader())
				promHandler.ServeHTTP(w, r)
			})
			logger.WithField("path", config.MetricsPath).Info("Prometheus metrics endpoint enabled")
		} else {
			logger.Warn("Metrics enabled but registry not initialized, /metrics not served")
		}
	} else {
		logger.Info("Metrics endpoints disabled")
	}

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      server.mux,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return server
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Hub returns the live feed hub
func (s *Server) Hub() *LiveHub {
	return s.hub
}

// Start serves in a goroutine
func (s *Server) Start() {
	s.logger.WithField("port", s.config.Port).Info("Starting HTTP server")

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server failed")
		}
	}()

	go func() {
		time.Sleep(500 * time.Millisecond)
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", s.config.Port), 2*time.Second)
		if err != nil {
			s.logger.WithError(err).Error("Could not connect to HTTP server")
			return
		}
		conn.Close()
		s.logger.Info("HTTP server is running correctly")
	}()
}

// Shutdown closes live feeds and gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server...")
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":     "ok",
		"uptime":     time.Since(s.startTime).String(),
		"version":    version.Version,
		"started_at": s.startTime.Format(time.RFC3339),
	}
	if s.services.Sessions != nil {
		status["active_sessions"] = s.services.Sessions.ActiveCount()
	}
	if s.services.Coaching != nil {
		status["active_coaching_sessions"] = s.services.Coaching.ActiveCount()
	}
	status["websocket_clients"] = s.hub.ClientCount()

	writeJSON(w, http.StatusOK, status)
}

// ErrorResponse sends a standardized error response
func (s *Server) ErrorResponse(w http.ResponseWriter, err error) {
	errors.WriteError(w, err)
	s.logger.WithError(err).Debug("HTTP error response sent")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
