// Package registry is the entry point for callers of the engine. It owns
// the session id to tracker mapping and runs the post-session analysis
// when a session ends.
package registry

import (
	"context"
	"math/rand"
	"path/filepath"
	"sync"
	"time"

	"skillcoach-engine/pkg/collab"
	"skillcoach-engine/pkg/config"
	"skillcoach-engine/pkg/errors"
	"skillcoach-engine/pkg/live"
	"skillcoach-engine/pkg/metrics"
	"skillcoach-engine/pkg/postsession"
	"skillcoach-engine/pkg/signal"
	"skillcoach-engine/pkg/skills"
	"skillcoach-engine/pkg/stt"
	"skillcoach-engine/pkg/telemetry/tracing"
	"skillcoach-engine/pkg/tracker"
	"skillcoach-engine/pkg/util"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ScriptStore receives every generated meeting script
type ScriptStore interface {
	SaveScript(ctx context.Context, script *postsession.MeetingScript) error
}

// Config controls session limits and post-session analysis
type Config struct {
	Tracker              tracker.Config
	RecordingDir         string
	MaxActiveSessions    int
	DefaultMode          skills.Mode
	TranscriptionTimeout time.Duration
}

// ConfigFrom builds the registry configuration from the loaded settings
func ConfigFrom(engine config.EngineConfig, transcription config.TranscriptionConfig) Config {
	liveCfg := live.DefaultConfig()
	liveCfg.MaxParticles = engine.MaxParticles
	liveCfg.MaxSkillAuras = engine.MaxSkillAuras

	mode, err := skills.ParseMode(engine.DefaultMode)
	if err != nil {
		mode = skills.ModeComprehensive
	}

	return Config{
		Tracker: tracker.Config{
			TickInterval:         engine.TickInterval,
			VisualizationEnabled: engine.VisualizationEnabled,
			QueueSize:            engine.IngestQueueSize,
			Live:                 liveCfg,
		},
		RecordingDir:         engine.RecordingDir,
		MaxActiveSessions:    engine.MaxActiveSessions,
		DefaultMode:          mode,
		TranscriptionTimeout: transcription.Timeout,
	}
}

// Options carries the collaborators of a Registry
type Options struct {
	Config     Config
	Analyzers  signal.Factory
	Recognizer stt.Recognizer
	Directory  collab.Directory
	XP         collab.Gamification
	Scripts    ScriptStore
	Logger     *logrus.Logger
	Clock      func() time.Time
	NewID      func() string
}

// CreateRequest describes a new session
type CreateRequest struct {
	CallID        string            `json:"call_id"`
	Participants  []string          `json:"participants"`
	TrackedSkills []skills.Category `json:"tracked_skills,omitempty"`
	Mode          skills.Mode       `json:"mode,omitempty"`
	// AudioRef locates the recording; defaults to <recording dir>/<call id>.wav
	AudioRef string `json:"audio_ref,omitempty"`
	// SpeakerLabels maps diarization labels of the recording to participant ids
	SpeakerLabels map[string]string `json:"speaker_labels,omitempty"`
}

// Outcome is the result of ending a session. Live-phase data is always
// present; Script is nil and SummaryAvailable false when the post-session
// analysis failed.
type Outcome struct {
	Session          tracker.Session            `json:"session"`
	Metrics          skills.SessionMetrics      `json:"metrics"`
	Live             live.Snapshot              `json:"live"`
	Script           *postsession.MeetingScript `json:"script,omitempty"`
	SummaryAvailable bool                       `json:"summary_available"`
	Error            string                     `json:"error,omitempty"`
}

type entry struct {
	tracker  *tracker.Tracker
	scope    *tracing.SessionScope
	speakers map[string]string
	ending   bool
	cancel   context.CancelFunc
}

// Registry creates, looks up and ends sessions. Sessions never share
// state; the maps here are the only cross-session structure.
type Registry struct {
	cfg        Config
	analyzers  signal.Factory
	recognizer stt.Recognizer
	builder    postsession.Builder
	xp         collab.Gamification
	scripts    ScriptStore
	logger     *logrus.Logger
	log        *logrus.Entry
	panics     *util.PanicHandler
	now        func() time.Time
	newID      func() string

	mu       sync.RWMutex
	sessions map[string]*entry
	byCall   map[string]string
	closed   bool

	analyses sync.WaitGroup
}

// New creates an empty registry
func New(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	analyzers := opts.Analyzers
	if analyzers == nil {
		analyzers = signal.HeuristicFactory()
	}
	cfg := opts.Config
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = skills.ModeComprehensive
	}

	return &Registry{
		cfg:        cfg,
		analyzers:  analyzers,
		recognizer: opts.Recognizer,
		builder: postsession.Builder{
			Directory: opts.Directory,
			Clock:     clock,
			NewID:     newID,
		},
		xp:       opts.XP,
		scripts:  opts.Scripts,
		logger:   logger,
		log:      logger.WithField("component", "registry"),
		panics:   util.NewPanicHandler(logger),
		now:      clock,
		newID:    newID,
		sessions: make(map[string]*entry),
		byCall:   make(map[string]string),
	}
}

// CreateSession starts tracking a call. It fails with DuplicateSession
// while another session for the same call is active or ending.
func (r *Registry) CreateSession(ctx context.Context, req CreateRequest) (tracker.Session, error) {
	if req.CallID == "" {
		return tracker.Session{}, errors.NewInvalidInput("call id is required")
	}
	mode := req.Mode
	if mode == "" {
		mode = r.cfg.DefaultMode
	}
	mode, err := skills.ParseMode(string(mode))
	if err != nil {
		return tracker.Session{}, errors.NewInvalidInput(err.Error(), map[string]interface{}{"mode": req.Mode})
	}
	audioRef := req.AudioRef
	if audioRef == "" {
		audioRef = filepath.Join(r.cfg.RecordingDir, req.CallID+".wav")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return tracker.Session{}, errors.New("registry is closed")
	}
	if _, exists := r.byCall[req.CallID]; exists {
		return tracker.Session{}, errors.NewDuplicateSession(req.CallID)
	}
	if r.cfg.MaxActiveSessions > 0 && len(r.sessions) >= r.cfg.MaxActiveSessions {
		return tracker.Session{}, errors.NewSessionLimit(r.cfg.MaxActiveSessions)
	}

	id := r.newID()
	info := tracker.Session{
		ID:            id,
		CallID:        req.CallID,
		Participants:  append([]string(nil), req.Participants...),
		TrackedSkills: append([]skills.Category(nil), req.TrackedSkills...),
		Mode:          mode,
		AudioRef:      audioRef,
		StartTime:     r.now(),
	}

	t := tracker.New(info, tracker.Options{
		Config:    r.cfg.Tracker,
		Analyzers: r.analyzers(id),
		XP:        r.xp,
		Logger:    r.logger,
		Rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
		Clock:     r.now,
	})
	if err := t.Start(); err != nil {
		t.Stop()
		return tracker.Session{}, errors.Wrap(err, "failed to start session analyzers", map[string]interface{}{
			"call_id": req.CallID,
		})
	}

	scope := tracing.StartSessionScope(context.WithoutCancel(ctx), id, req.CallID, info.Participants,
		attribute.String("session.mode", string(mode)))

	speakers := make(map[string]string, len(req.SpeakerLabels))
	for label, participant := range req.SpeakerLabels {
		speakers[label] = participant
	}
	r.sessions[id] = &entry{tracker: t, scope: scope, speakers: speakers}
	r.byCall[req.CallID] = id
	metrics.SessionStarted()

	r.log.WithFields(logrus.Fields{
		"session_id":   id,
		"call_id":      req.CallID,
		"participants": len(info.Participants),
		"mode":         mode,
	}).Info("Session created")

	return t.Session(), nil
}

// Ingest routes a signal to an active session. It never blocks and never
// fails the caller: invalid signals and signals for unknown or ending
// sessions are logged and dropped. It reports whether the signal was
// queued.
func (r *Registry) Ingest(sessionID string, sig *signal.Signal) bool {
	if err := sig.Validate(); err != nil {
		r.log.WithError(err).WithField("session_id", sessionID).Warn("Dropping invalid signal")
		metrics.RecordDroppedSignal("invalid")
		return false
	}

	r.mu.RLock()
	e, ok := r.sessions[sessionID]
	ending := ok && e.ending
	r.mu.RUnlock()

	if !ok || ending {
		r.log.WithFields(logrus.Fields{
			"session_id": sessionID,
			"kind":       sig.Kind,
		}).Debug("Dropping signal for inactive session")
		metrics.RecordDroppedSignal("unknown_session")
		return false
	}
	return e.tracker.Ingest(sig)
}

type analysisResult struct {
	script *postsession.MeetingScript
	err    error
}

// EndSession closes the session, runs the post-session analysis and
// removes the session once the analysis is done. Cancelling ctx aborts
// the transcription. The outcome is returned even when the analysis
// fails, together with the error.
func (r *Registry) EndSession(ctx context.Context, sessionID string) (*Outcome, error) {
	r.mu.Lock()
	e, ok := r.sessions[sessionID]
	if !ok || e.ending {
		r.mu.Unlock()
		return nil, errors.NewUnknownSession(sessionID)
	}
	e.ending = true
	// Close already cancelled every running analysis; a late end gets the
	// live-phase outcome only
	closing := r.closed
	actx, cancel := context.WithCancel(trace.ContextWithSpan(ctx, e.scope.Span()))
	e.cancel = cancel
	if !closing {
		r.analyses.Add(1)
	}
	r.mu.Unlock()
	defer cancel()

	logger := r.log.WithFields(logrus.Fields{
		"session_id": sessionID,
		"call_id":    e.tracker.CallID(),
	})

	session := e.tracker.Stop()
	end := r.now()
	if session.EndTime != nil {
		end = *session.EndTime
	}
	m := skills.FinalizeMetrics(session.Moments, session.Participants, session.StartTime, end)
	session.Metrics = &m

	outcome := &Outcome{
		Session: session,
		Metrics: m,
		Live:    e.tracker.Live(),
	}
	e.scope.AddEvent("session.closed", attribute.Int("moments", m.TotalMoments))

	analyzer := postsession.NewAnalyzer(postsession.Options{
		Recognizer: r.recognizer,
		Builder:    r.builder,
		Timeout:    r.cfg.TranscriptionTimeout,
		Logger:     r.logger,
	})
	in := postsession.Input{
		SessionID:     session.ID,
		CallID:        session.CallID,
		AudioRef:      session.AudioRef,
		Participants:  session.Participants,
		SpeakerLabels: e.speakers,
		Moments:       session.Moments,
		Duration:      m.Duration,
	}

	var res analysisResult
	if closing {
		res.err = errors.NewTranscriptionFailed("canceled")
	} else {
		results := make(chan analysisResult, 1)
		go func() {
			defer r.analyses.Done()
			defer r.panics.RecoverWithCallback("postsession", logrus.Fields{"session_id": sessionID}, func(p interface{}) {
				results <- analysisResult{err: errors.NewTranscriptionFailed("internal error")}
			})
			script, err := analyzer.Run(actx, in)
			results <- analysisResult{script: script, err: err}
		}()
		res = <-results
	}

	outcomeLabel := "completed"
	if res.err != nil {
		outcomeLabel = "summary_unavailable"
		outcome.Error = res.err.Error()
		logger.WithError(res.err).Warn("Post-session analysis failed, summary unavailable")
	} else {
		outcome.Script = res.script
		outcome.SummaryAvailable = true
		if r.scripts != nil {
			if err := r.scripts.SaveScript(ctx, res.script); err != nil {
				logger.WithError(err).Warn("Failed to store meeting script")
			}
		}
	}

	r.mu.Lock()
	delete(r.sessions, sessionID)
	if r.byCall[session.CallID] == sessionID {
		delete(r.byCall, session.CallID)
	}
	r.mu.Unlock()

	e.scope.Metadata().SetOutcome(outcomeLabel)
	e.scope.SetAttributes(
		attribute.Int("session.moments", m.TotalMoments),
		attribute.Bool("session.summary_available", outcome.SummaryAvailable),
	)
	e.scope.End(res.err)
	metrics.SessionEnded(string(session.Mode), outcomeLabel, m.Duration)

	logger.WithFields(logrus.Fields{
		"moments":  m.TotalMoments,
		"duration": m.Duration,
		"outcome":  outcomeLabel,
	}).Info("Session ended")

	return outcome, res.err
}

func (r *Registry) active(sessionID string) (*tracker.Tracker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return nil, errors.NewUnknownSession(sessionID)
	}
	return e.tracker, nil
}

// Session returns a snapshot of a tracked session
func (r *Registry) Session(sessionID string) (tracker.Session, error) {
	t, err := r.active(sessionID)
	if err != nil {
		return tracker.Session{}, err
	}
	return t.Session(), nil
}

// Live returns the current visualization state of a session
func (r *Registry) Live(sessionID string) (live.Snapshot, error) {
	t, err := r.active(sessionID)
	if err != nil {
		return live.Snapshot{}, err
	}
	return t.Live(), nil
}

// Moments returns the skill moments of a session in arrival order
func (r *Registry) Moments(sessionID string) ([]skills.SkillMoment, error) {
	t, err := r.active(sessionID)
	if err != nil {
		return nil, err
	}
	return t.Moments(), nil
}

// Indicators returns the current communication and leadership indicators
func (r *Registry) Indicators(sessionID string) (live.Indicators, error) {
	t, err := r.active(sessionID)
	if err != nil {
		return live.Indicators{}, err
	}
	return t.Indicators(), nil
}

// Sync waits until every signal queued for the session has been applied
func (r *Registry) Sync(ctx context.Context, sessionID string) error {
	t, err := r.active(sessionID)
	if err != nil {
		return err
	}
	return t.Sync(ctx)
}

// Subscribe streams tracker events of a session
func (r *Registry) Subscribe(sessionID string, buffer int) (<-chan tracker.Event, func(), error) {
	t, err := r.active(sessionID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := t.Subscribe(buffer)
	return ch, cancel, nil
}

// ActiveCount returns the number of tracked sessions, including those
// whose analysis is still running
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// SessionIDs lists tracked sessions
func (r *Registry) SessionIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Close rejects new sessions, cancels running analyses and stops every
// tracker. It waits for the analyses to return or ctx to expire.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	var idle []string
	for id, e := range r.sessions {
		if e.ending {
			e.cancel()
			continue
		}
		idle = append(idle, id)
	}
	r.mu.Unlock()

	for _, id := range idle {
		r.mu.Lock()
		e, ok := r.sessions[id]
		if ok && !e.ending {
			delete(r.sessions, id)
			delete(r.byCall, e.tracker.CallID())
		}
		r.mu.Unlock()
		if !ok || e.ending {
			continue
		}

		session := e.tracker.Stop()
		e.scope.Metadata().SetOutcome("shutdown")
		e.scope.End(nil)
		metrics.SessionEnded(string(session.Mode), "shutdown", 0)
	}

	done := make(chan struct{})
	go func() {
		r.analyses.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.log.Info("Session registry closed")
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "timed out waiting for post-session analyses")
	}
}
