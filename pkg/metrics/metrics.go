package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

var (
	registry       *prometheus.Registry
	registryOnce   sync.Once
	metricsEnabled = true

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration *prometheus.HistogramVec
	SignalsIngested *prometheus.CounterVec
	SignalsDropped  *prometheus.CounterVec
	SignalLatency   *prometheus.HistogramVec
	MomentsDetected *prometheus.CounterVec
	Celebrations    prometheus.Counter
	LiveTicks       prometheus.Counter
	TrackerPanics   prometheus.Counter

	// Post-session metrics
	PostSessionRuns     *prometheus.CounterVec
	PostSessionDuration *prometheus.HistogramVec
	TranscriptionErrors *prometheus.CounterVec
	STTRequestsTotal    *prometheus.CounterVec
	STTLatency          *prometheus.HistogramVec

	// Coaching metrics
	CoachingSessionsActive prometheus.Gauge
	CoachingPrompts        *prometheus.CounterVec
	CoachingScore          prometheus.Histogram

	// Collaborator metrics
	AMQPPublishedMessages *prometheus.CounterVec
	AMQPConnectionStatus  prometheus.Gauge
	InsightStoreWrites    *prometheus.CounterVec
	WebSocketClients      prometheus.Gauge
)

// Init initializes all metrics and registers them with Prometheus
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "skillcoach_sessions_active",
			Help: "Number of sessions currently being tracked",
		})
		SessionsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skillcoach_sessions_total",
				Help: "Sessions created and ended, by outcome",
			},
			[]string{"outcome"},
		)
		SessionDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "skillcoach_session_duration_seconds",
				Help:    "Duration of tracked sessions",
				Buckets: []float64{60, 300, 600, 1200, 1800, 3600, 7200},
			},
			[]string{"mode"},
		)
		SignalsIngested = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skillcoach_signals_ingested_total",
				Help: "Signals accepted into a session inbox",
			},
			[]string{"kind"},
		)
		SignalsDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skillcoach_signals_dropped_total",
				Help: "Signals dropped before analysis",
			},
			[]string{"reason"},
		)
		SignalLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "skillcoach_signal_analysis_seconds",
				Help:    "Time spent analyzing one signal chunk",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
			},
			[]string{"kind"},
		)
		MomentsDetected = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skillcoach_skill_moments_total",
				Help: "Skill moments detected, by category",
			},
			[]string{"category"},
		)
		Celebrations = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skillcoach_celebrations_total",
			Help: "High-confidence moments that triggered a celebration",
		})
		LiveTicks = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skillcoach_live_ticks_total",
			Help: "Live visualization ticks processed",
		})
		TrackerPanics = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skillcoach_tracker_panics_total",
			Help: "Panics recovered while processing session input",
		})

		PostSessionRuns = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skillcoach_post_session_runs_total",
				Help: "Post-session analyses by terminal state",
			},
			[]string{"state"},
		)
		PostSessionDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "skillcoach_post_session_stage_seconds",
				Help:    "Duration of post-session stages",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
			[]string{"stage"},
		)
		TranscriptionErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skillcoach_transcription_errors_total",
				Help: "Transcription failures by reason",
			},
			[]string{"reason"},
		)
		STTRequestsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skillcoach_stt_requests_total",
				Help: "Speech recognition requests by provider and status",
			},
			[]string{"vendor", "status"},
		)
		STTLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "skillcoach_stt_latency_seconds",
				Help:    "Speech recognition latency by provider",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
			},
			[]string{"vendor"},
		)

		CoachingSessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "skillcoach_coaching_sessions_active",
			Help: "Number of active real-time coaching sessions",
		})
		CoachingPrompts = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skillcoach_coaching_prompts_total",
				Help: "Coaching prompts emitted by type",
			},
			[]string{"type"},
		)
		CoachingScore = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "skillcoach_coaching_performance_score",
			Help:    "Performance score of closed coaching sessions",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		})

		AMQPPublishedMessages = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skillcoach_amqp_published_messages_total",
				Help: "Messages published to AMQP by routing key and status",
			},
			[]string{"routing_key", "status"},
		)
		AMQPConnectionStatus = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "skillcoach_amqp_connection_status",
			Help: "AMQP connection status (1 = connected, 0 = disconnected)",
		})
		InsightStoreWrites = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skillcoach_insight_store_writes_total",
				Help: "Insight store writes by artifact and status",
			},
			[]string{"artifact", "status"},
		)
		WebSocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "skillcoach_websocket_clients",
			Help: "Connected live-feed WebSocket clients",
		})

		registry.MustRegister(
			SessionsActive, SessionsTotal, SessionDuration,
			SignalsIngested, SignalsDropped, SignalLatency,
			MomentsDetected, Celebrations, LiveTicks, TrackerPanics,
			PostSessionRuns, PostSessionDuration, TranscriptionErrors,
			STTRequestsTotal, STTLatency,
			CoachingSessionsActive, CoachingPrompts, CoachingScore,
			AMQPPublishedMessages, AMQPConnectionStatus, InsightStoreWrites,
			WebSocketClients,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		if logger != nil {
			logger.Info("Prometheus metrics initialized")
		}
	})
}

// GetRegistry returns the Prometheus registry
func GetRegistry() *prometheus.Registry {
	return registry
}

// EnableMetrics enables or disables metrics collection
func EnableMetrics(enabled bool) {
	metricsEnabled = enabled
}

// IsMetricsEnabled returns whether metrics are enabled
func IsMetricsEnabled() bool {
	return metricsEnabled && registry != nil
}

// SessionStarted records a new tracked session
func SessionStarted() {
	if IsMetricsEnabled() {
		SessionsActive.Inc()
		SessionsTotal.WithLabelValues("created").Inc()
	}
}

// SessionEnded records a session leaving the active set
func SessionEnded(mode, outcome string, duration time.Duration) {
	if IsMetricsEnabled() {
		SessionsActive.Dec()
		SessionsTotal.WithLabelValues(outcome).Inc()
		SessionDuration.WithLabelValues(mode).Observe(duration.Seconds())
	}
}

// RecordSignal records an accepted signal
func RecordSignal(kind string) {
	if IsMetricsEnabled() {
		SignalsIngested.WithLabelValues(kind).Inc()
	}
}

// RecordDroppedSignal records a signal discarded before analysis
func RecordDroppedSignal(reason string) {
	if IsMetricsEnabled() {
		SignalsDropped.WithLabelValues(reason).Inc()
	}
}

// ObserveSignalAnalysis returns a func that records analysis latency
func ObserveSignalAnalysis(kind string) func() {
	if !IsMetricsEnabled() {
		return func() {}
	}

	start := time.Now()
	return func() {
		SignalLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}
}

// RecordMoment records a detected skill moment
func RecordMoment(category string, celebrated bool) {
	if IsMetricsEnabled() {
		MomentsDetected.WithLabelValues(category).Inc()
		if celebrated {
			Celebrations.Inc()
		}
	}
}

// RecordTick records a live visualization tick
func RecordTick() {
	if IsMetricsEnabled() {
		LiveTicks.Inc()
	}
}

// RecordTrackerPanic records a recovered panic in a session goroutine
func RecordTrackerPanic() {
	if IsMetricsEnabled() {
		TrackerPanics.Inc()
	}
}

// RecordPostSession records the terminal state of a post-session analysis
func RecordPostSession(state string) {
	if IsMetricsEnabled() {
		PostSessionRuns.WithLabelValues(state).Inc()
	}
}

// ObservePostSessionStage returns a func that records a stage duration
func ObservePostSessionStage(stage string) func() {
	if !IsMetricsEnabled() {
		return func() {}
	}

	start := time.Now()
	return func() {
		PostSessionDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

// RecordTranscriptionError records a failed transcription
func RecordTranscriptionError(reason string) {
	if IsMetricsEnabled() {
		TranscriptionErrors.WithLabelValues(reason).Inc()
	}
}

// RecordSTTRequest records a speech recognition request
func RecordSTTRequest(vendor, status string) {
	if IsMetricsEnabled() {
		STTRequestsTotal.WithLabelValues(vendor, status).Inc()
	}
}

// ObserveSTTLatency records STT latency with a timer function
func ObserveSTTLatency(vendor string) func() {
	if !IsMetricsEnabled() {
		return func() {}
	}

	start := time.Now()
	return func() {
		STTLatency.WithLabelValues(vendor).Observe(time.Since(start).Seconds())
	}
}

// CoachingSessionStarted records a new coaching session
func CoachingSessionStarted() {
	if IsMetricsEnabled() {
		CoachingSessionsActive.Inc()
	}
}

// CoachingSessionEnded records a closed coaching session and its score
func CoachingSessionEnded(score float64) {
	if IsMetricsEnabled() {
		CoachingSessionsActive.Dec()
		CoachingScore.Observe(score)
	}
}

// RecordCoachingPrompt records an emitted coaching prompt
func RecordCoachingPrompt(promptType string) {
	if IsMetricsEnabled() {
		CoachingPrompts.WithLabelValues(promptType).Inc()
	}
}

// RecordAMQPPublish records AMQP message publishing
func RecordAMQPPublish(routingKey, status string) {
	if IsMetricsEnabled() {
		AMQPPublishedMessages.WithLabelValues(routingKey, status).Inc()
	}
}

// SetAMQPConnectionStatus sets the AMQP connection status
func SetAMQPConnectionStatus(connected bool) {
	if IsMetricsEnabled() {
		if connected {
			AMQPConnectionStatus.Set(1)
		} else {
			AMQPConnectionStatus.Set(0)
		}
	}
}

// RecordInsightStoreWrite records a persistence attempt
func RecordInsightStoreWrite(artifact, status string) {
	if IsMetricsEnabled() {
		InsightStoreWrites.WithLabelValues(artifact, status).Inc()
	}
}

// SetWebSocketClients sets the number of connected live-feed clients
func SetWebSocketClients(n int) {
	if IsMetricsEnabled() {
		WebSocketClients.Set(float64(n))
	}
}
