package tracing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"skillcoach-engine/pkg/config"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const defaultServiceName = "skillcoach-engine"

var tracer = otel.Tracer(defaultServiceName)

// SessionMetadata carries data tied to one tracked session.
type SessionMetadata struct {
	mu           sync.RWMutex
	SessionID    string
	CallID       string
	Participants []string
	Outcome      string
}

// SetOutcome records how the session ended.
func (m *SessionMetadata) SetOutcome(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Outcome = outcome
}

// OutcomeOrUnknown returns the outcome or "unknown" when unset.
func (m *SessionMetadata) OutcomeOrUnknown() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Outcome == "" {
		return "unknown"
	}
	return m.Outcome
}

// SessionScope tracks the root span of one session, from creation until
// its post-session analysis has finished.
type SessionScope struct {
	span     trace.Span
	metadata *SessionMetadata
	endOnce  sync.Once
}

// Span returns the root span for the session.
func (s *SessionScope) Span() trace.Span {
	if s == nil {
		return trace.SpanFromContext(context.Background())
	}
	return s.span
}

// Metadata exposes the session metadata for enrichment.
func (s *SessionScope) Metadata() *SessionMetadata {
	if s == nil {
		return nil
	}
	return s.metadata
}

// SetAttributes attaches attributes to the session root span.
func (s *SessionScope) SetAttributes(attrs ...attribute.KeyValue) {
	if s == nil {
		return
	}
	s.span.SetAttributes(attrs...)
}

// AddEvent records a named event on the session root span.
func (s *SessionScope) AddEvent(name string, attrs ...attribute.KeyValue) {
	if s == nil {
		return
	}
	s.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// End closes the root span, recording err when set.
func (s *SessionScope) End(err error) {
	if s == nil {
		return
	}
	s.endOnce.Do(func() {
		s.span.SetAttributes(attribute.String("session.outcome", s.metadata.OutcomeOrUnknown()))
		if err != nil {
			s.span.RecordError(err)
			s.span.SetStatus(codes.Error, err.Error())
		} else {
			s.span.SetStatus(codes.Ok, "completed")
		}
		s.span.End()
	})
}

// Init configures the global tracer provider. Without an endpoint spans are
// sampled but not exported.
func Init(ctx context.Context, cfg config.TracingConfig, logger *logrus.Logger) (func(context.Context) error, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = defaultServiceName
	}

	sampleRatio := cfg.SampleRatio
	if sampleRatio <= 0 {
		sampleRatio = 1.0
	}
	if sampleRatio > 1 {
		sampleRatio = 1
	}

	var providerOpts []sdktrace.TracerProviderOption

	if res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
		),
	); err != nil {
		logger.WithError(err).Warn("failed to build OpenTelemetry resource")
	} else {
		providerOpts = append(providerOpts, sdktrace.WithResource(res))
	}

	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio))
	providerOpts = append(providerOpts, sdktrace.WithSampler(sampler))

	var spanProcessor sdktrace.SpanProcessor
	if cfg.Enabled && cfg.Endpoint != "" {
		exporterCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		clientOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			clientOpts = append(clientOpts, otlptracegrpc.WithInsecure())
		}

		otlpExporter, err := otlptracegrpc.New(exporterCtx, clientOpts...)
		if err != nil {
			logger.WithError(err).Warn("failed to initialize OTLP tracing exporter; falling back to local processing")
		} else {
			spanProcessor = sdktrace.NewBatchSpanProcessor(otlpExporter)
			providerOpts = append(providerOpts, sdktrace.WithSpanProcessor(spanProcessor))
		}
	}

	provider := sdktrace.NewTracerProvider(providerOpts...)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracer = provider.Tracer(serviceName + "/tracing")

	shutdown := func(shutdownCtx context.Context) error {
		if spanProcessor != nil {
			if err := spanProcessor.ForceFlush(shutdownCtx); err != nil {
				logger.WithError(err).Warn("failed to flush spans during shutdown")
			}
		}
		return provider.Shutdown(shutdownCtx)
	}

	return shutdown, nil
}

// StartSessionScope starts the root span of a session.
func StartSessionScope(parent context.Context, sessionID, callID string, participants []string, attrs ...attribute.KeyValue) *SessionScope {
	if parent == nil {
		parent = context.Background()
	}

	metadata := &SessionMetadata{
		SessionID:    sessionID,
		CallID:       callID,
		Participants: append([]string(nil), participants...),
	}

	sessionAttrs := []attribute.KeyValue{
		attribute.String("session.id", sessionID),
		attribute.String("call.id", callID),
		attribute.Int("session.participants", len(participants)),
	}
	sessionAttrs = append(sessionAttrs, attrs...)

	spanName := fmt.Sprintf("session.%s", sessionID)
	_, span := tracer.Start(parent, spanName, trace.WithAttributes(sessionAttrs...), trace.WithSpanKind(trace.SpanKindServer))

	return &SessionScope{
		span:     span,
		metadata: metadata,
	}
}

// StartSpan creates a child span beneath the current context using the shared tracer.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, opts...)
}

// EndSpan records err on the span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
