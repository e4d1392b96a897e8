package http

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"skillcoach-engine/pkg/version"

	"github.com/sirupsen/logrus"
)

// HealthStatus represents the health status of the service
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Version   string                 `json:"version"`
	Checks    map[string]CheckResult `json:"checks"`
	System    SystemInfo             `json:"system"`
}

// CheckResult represents an individual health check result
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// SystemInfo contains system resource information
type SystemInfo struct {
	GoRoutines       int    `json:"goroutines"`
	MemoryMB         uint64 `json:"memory_mb"`
	CPUCount         int    `json:"cpu_count"`
	ActiveSessions   int    `json:"active_sessions"`
	CoachingSessions int    `json:"coaching_sessions"`
	LiveClients      int    `json:"live_clients"`
}

const healthCheckTimeout = 2 * time.Second

// HealthHandler handles health check requests. Missing core services make
// the engine unhealthy; optional collaborators only degrade it.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	health := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Version:   version.Version,
		Checks:    make(map[string]CheckResult),
	}
	degrade := func() {
		if health.Status == "healthy" {
			health.Status = "degraded"
		}
	}

	if s.services.Sessions != nil {
		health.Checks["sessions"] = CheckResult{Status: "healthy", Message: "Session registry operational"}
		health.System.ActiveSessions = s.services.Sessions.ActiveCount()
	} else {
		health.Checks["sessions"] = CheckResult{Status: "unhealthy", Message: "Session registry not initialized"}
		health.Status = "unhealthy"
	}

	if s.services.Coaching != nil {
		health.Checks["coaching"] = CheckResult{Status: "healthy", Message: "Coaching advisor operational"}
		health.System.CoachingSessions = s.services.Coaching.ActiveCount()
	} else {
		health.Checks["coaching"] = CheckResult{Status: "unhealthy", Message: "Coaching advisor not initialized"}
		health.Status = "unhealthy"
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	// Without a recognizer sessions still end, only without a summary
	switch {
	case s.services.Recognizer == nil:
		health.Checks["speech_recognition"] = CheckResult{Status: "degraded", Message: "No speech recognizer configured"}
		degrade()
	case !s.services.Recognizer.IsAvailable(ctx):
		health.Checks["speech_recognition"] = CheckResult{
			Status:  "degraded",
			Message: fmt.Sprintf("Speech recognizer %s unavailable", s.services.Recognizer.Name()),
		}
		degrade()
	default:
		health.Checks["speech_recognition"] = CheckResult{
			Status:  "healthy",
			Message: fmt.Sprintf("Speech recognizer %s available", s.services.Recognizer.Name()),
		}
	}

	if s.services.Messaging != nil {
		if s.services.Messaging.IsConnected() {
			health.Checks["amqp"] = CheckResult{Status: "healthy", Message: "AMQP connected"}
		} else {
			health.Checks["amqp"] = CheckResult{Status: "degraded", Message: "AMQP disconnected"}
			degrade()
		}
	}

	if s.services.Store != nil {
		if err := s.services.Store.Health(ctx); err != nil {
			health.Checks["redis"] = CheckResult{
				Status:  "degraded",
				Message: fmt.Sprintf("Redis insight store unhealthy: %v", err),
			}
			degrade()
		} else {
			health.Checks["redis"] = CheckResult{Status: "healthy", Message: "Redis insight store operational"}
		}
	}

	health.Checks["websocket"] = CheckResult{Status: "healthy", Message: "Live feed hub running"}
	health.System.LiveClients = s.hub.ClientCount()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	health.System.GoRoutines = runtime.NumGoroutine()
	health.System.MemoryMB = m.Alloc / 1024 / 1024
	health.System.CPUCount = runtime.NumCPU()

	if r.URL.Query().Get("detailed") == "true" {
		s.logger.WithFields(logrus.Fields{
			"status":   health.Status,
			"checks":   health.Checks,
			"system":   health.System,
			"duration": time.Since(startTime),
		}).Debug("Health check performed")
	}

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, health)
}

// LivenessHandler handles kubernetes liveness probe
func (s *Server) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// ReadinessHandler handles kubernetes readiness probe
func (s *Server) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if s.services.Sessions == nil || s.services.Coaching == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}
