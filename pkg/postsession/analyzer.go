package postsession

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"skillcoach-engine/pkg/collab"
	"skillcoach-engine/pkg/errors"
	"skillcoach-engine/pkg/metrics"
	"skillcoach-engine/pkg/skills"
	"skillcoach-engine/pkg/stt"
	"skillcoach-engine/pkg/telemetry/tracing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// progressCap keeps partial progress strictly below completion
const progressCap = 0.95

// Input is what the analyzer needs from a closed session
type Input struct {
	SessionID    string
	CallID       string
	AudioRef     string
	Participants []string

	// SpeakerLabels maps recognizer speaker labels (speaker_1, ...) to
	// participant ids
	SpeakerLabels map[string]string
	Moments       []skills.SkillMoment
	Duration      time.Duration
}

// Builder assembles a MeetingScript from recognized segments. It holds no
// per-session state and can be shared.
type Builder struct {
	Directory collab.Directory
	Clock     func() time.Time
	NewID     func() string
}

// Build groups the segments, runs the analyses and derives insights and
// bridging opportunities
func (b Builder) Build(ctx context.Context, in Input, raw []stt.Segment) (*MeetingScript, error) {
	newID := b.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	clock := b.Clock
	if clock == nil {
		clock = time.Now
	}

	transcript := GroupSegments(ResolveSpeakers(raw, in.SpeakerLabels))
	analysis, err := Analyze(ctx, transcript, in.Participants)
	if err != nil {
		return nil, err
	}

	ic := &insightContext{
		ctx:          ctx,
		dir:          b.Directory,
		newID:        newID,
		participants: speakerPopulation(in.Participants, transcript),
		transcript:   transcript,
		analysis:     analysis,
		moments:      in.Moments,
	}

	duration := in.Duration
	if duration == 0 {
		duration = transcript.Duration
	}

	return &MeetingScript{
		ID:            newID(),
		SessionID:     in.SessionID,
		CallID:        in.CallID,
		Transcript:    transcript,
		Analysis:      analysis,
		Insights:      ic.insights(),
		Opportunities: ic.opportunities(),
		Duration:      duration,
		GeneratedAt:   clock(),
	}, nil
}

// Options configures an Analyzer
type Options struct {
	Recognizer stt.Recognizer
	Builder    Builder
	// Timeout bounds transcription; zero means no limit beyond ctx
	Timeout time.Duration
	Logger  *logrus.Logger
}

// Analyzer runs the post-session pipeline for one session. It moves
// through NotStarted, Transcribing, Analyzing and ends Completed or
// Failed. Run may be called once.
type Analyzer struct {
	recognizer stt.Recognizer
	builder    Builder
	timeout    time.Duration
	logger     *logrus.Entry

	mu       sync.RWMutex
	state    State
	progress float64
	err      error
}

// NewAnalyzer creates an analyzer in the NotStarted state
func NewAnalyzer(opts Options) *Analyzer {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Analyzer{
		recognizer: opts.Recognizer,
		builder:    opts.Builder,
		timeout:    opts.Timeout,
		logger:     logger.WithField("component", "postsession"),
	}
}

// State returns the current state
func (a *Analyzer) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Progress returns the transcription progress in [0,1]
func (a *Analyzer) Progress() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.progress
}

// Err returns the failure of a Failed analyzer
func (a *Analyzer) Err() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.err
}

func (a *Analyzer) transition(to State) {
	a.mu.Lock()
	a.state = to
	if to == StateCompleted {
		a.progress = 1
	}
	a.mu.Unlock()
}

// advance moves progress forward, never backward and never to completion
func (a *Analyzer) advance(reported float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := reported
	if next <= 0 {
		// no estimate from the provider: creep toward the cap
		next = a.progress + (progressCap-a.progress)*0.1
	}
	if next > progressCap {
		next = progressCap
	}
	if next > a.progress {
		a.progress = next
	}
}

func (a *Analyzer) fail(err error) error {
	a.mu.Lock()
	a.state = StateFailed
	a.err = err
	a.mu.Unlock()

	metrics.RecordPostSession(StateFailed.String())
	if reason := errors.TranscriptionFailureReason(err); reason != "" {
		metrics.RecordTranscriptionError(reason)
	}
	return err
}

// Run transcribes the session recording and builds its MeetingScript.
// Cancelling ctx aborts an in-flight transcription with
// TranscriptionFailed("canceled").
func (a *Analyzer) Run(ctx context.Context, in Input) (*MeetingScript, error) {
	a.mu.Lock()
	if a.state != StateNotStarted {
		a.mu.Unlock()
		return nil, errors.New("post-session analyzer already used", map[string]interface{}{"session_id": in.SessionID})
	}
	a.mu.Unlock()

	logger := a.logger.WithFields(logrus.Fields{
		"session_id": in.SessionID,
		"call_id":    in.CallID,
	})

	ctx, span := tracing.StartSpan(ctx, "postsession.run")
	span.SetAttributes(
		attribute.String("session.id", in.SessionID),
		attribute.String("call.id", in.CallID),
	)
	script, err := a.run(ctx, in, logger)
	tracing.EndSpan(span, err)
	return script, err
}

func (a *Analyzer) run(ctx context.Context, in Input, logger *logrus.Entry) (*MeetingScript, error) {
	if a.recognizer == nil || !a.recognizer.IsAvailable(ctx) {
		name := "none"
		if a.recognizer != nil {
			name = a.recognizer.Name()
		}
		logger.WithField("recognizer", name).Error("Speech recognition unavailable")
		return nil, a.fail(errors.NewSpeechRecognitionUnavailable(name))
	}

	permission, err := a.recognizer.RequestPermission(ctx)
	if err != nil || permission != stt.PermissionGranted {
		if err != nil {
			logger.WithError(err).Warn("Speech recognition permission request failed")
		}
		return nil, a.fail(errors.NewSpeechRecognitionDenied(a.recognizer.Name()))
	}

	a.transition(StateTranscribing)
	logger.WithField("audio_ref", in.AudioRef).Info("Transcribing session recording")

	tctx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	segments, err := a.transcribe(tctx, in.AudioRef)
	if err != nil {
		logger.WithError(err).Warn("Transcription failed")
		return nil, a.fail(err)
	}

	a.transition(StateAnalyzing)
	actx, span := tracing.StartSpan(ctx, "postsession.analyze")
	script, err := a.builder.Build(actx, in, segments)
	tracing.EndSpan(span, err)
	if err != nil {
		return nil, a.fail(errors.NewTranscriptionFailed(contextReason(err)))
	}

	a.transition(StateCompleted)
	metrics.RecordPostSession(StateCompleted.String())
	logger.WithFields(logrus.Fields{
		"segments":      len(script.Transcript.Segments),
		"insights":      len(script.Insights),
		"opportunities": len(script.Opportunities),
	}).Info("Meeting script generated")
	return script, nil
}

func (a *Analyzer) transcribe(ctx context.Context, audioRef string) ([]stt.Segment, error) {
	defer metrics.ObservePostSessionStage("transcribing")()
	ctx, span := tracing.StartSpan(ctx, "postsession.transcribe")
	var spanErr error
	defer func() { tracing.EndSpan(span, spanErr) }()

	updates, err := a.recognizer.Transcribe(ctx, audioRef, true)
	if err != nil {
		if ctx.Err() != nil {
			spanErr = errors.NewTranscriptionFailed(contextReason(ctx.Err()))
		} else {
			spanErr = errors.NewTranscriptionFailed(err.Error())
		}
		return nil, spanErr
	}

	for {
		select {
		case <-ctx.Done():
			spanErr = errors.NewTranscriptionFailed(contextReason(ctx.Err()))
			return nil, spanErr

		case u, ok := <-updates:
			if !ok {
				if ctx.Err() != nil {
					spanErr = errors.NewTranscriptionFailed(contextReason(ctx.Err()))
				} else {
					spanErr = errors.NewTranscriptionFailed("stream ended without a final result")
				}
				return nil, spanErr
			}
			if u.Err != nil {
				spanErr = errors.NewTranscriptionFailed(u.Err.Error())
				return nil, spanErr
			}
			if u.IsFinal {
				return u.Segments, nil
			}
			a.advance(u.Progress)
		}
	}
}

func contextReason(err error) string {
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case stderrors.Is(err, context.Canceled):
		return "canceled"
	default:
		return err.Error()
	}
}
