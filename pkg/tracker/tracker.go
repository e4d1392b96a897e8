package tracker

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"skillcoach-engine/pkg/collab"
	"skillcoach-engine/pkg/live"
	"skillcoach-engine/pkg/metrics"
	"skillcoach-engine/pkg/signal"
	"skillcoach-engine/pkg/skills"
	"skillcoach-engine/pkg/util"

	"github.com/sirupsen/logrus"
)

const (
	xpAction  = "skill_demonstrated"
	xpTimeout = 5 * time.Second
)

// Config controls the per-session goroutine
type Config struct {
	TickInterval         time.Duration
	VisualizationEnabled bool
	QueueSize            int
	Live                 live.Config
}

// DefaultConfig returns a 10 Hz tick with visualization enabled
func DefaultConfig() Config {
	return Config{
		TickInterval:         100 * time.Millisecond,
		VisualizationEnabled: true,
		QueueSize:            256,
		Live:                 live.DefaultConfig(),
	}
}

// Session describes one tracked call. Values handed out by the tracker
// are copies; Moments shares its backing array but is never appended to
// by readers.
type Session struct {
	ID            string                 `json:"id"`
	CallID        string                 `json:"call_id"`
	Participants  []string               `json:"participants"`
	TrackedSkills []skills.Category      `json:"tracked_skills"`
	Mode          skills.Mode            `json:"mode"`
	AudioRef      string                 `json:"audio_ref"`
	StartTime     time.Time              `json:"start_time"`
	EndTime       *time.Time             `json:"end_time,omitempty"`
	Moments       []skills.SkillMoment   `json:"moments"`
	Metrics       *skills.SessionMetrics `json:"metrics,omitempty"`
}

// Options carries the collaborators of a tracker
type Options struct {
	Config    Config
	Analyzers signal.Set
	XP        collab.Gamification
	Logger    *logrus.Logger
	Rand      *rand.Rand
	Clock     func() time.Time
}

type message struct {
	sig *signal.Signal
	ack chan struct{}
}

// Tracker owns the mutable state of one session. A single goroutine
// applies signals and live ticks in arrival order; readers only see
// immutable snapshots.
type Tracker struct {
	info      Session
	cfg       Config
	analyzers signal.Set
	detector  *skills.Detector
	state     *live.State
	xp        collab.Gamification
	logger    *logrus.Entry
	panics    *util.PanicHandler
	now       func() time.Time

	inbox chan message
	quit  chan struct{}
	done  chan struct{}

	closeMu sync.RWMutex
	closed  bool
	started bool

	// owned by the session goroutine
	moments []skills.SkillMoment
	endTime time.Time

	momentsView    atomic.Pointer[[]skills.SkillMoment]
	liveView       atomic.Pointer[live.Snapshot]
	indicatorsView atomic.Pointer[live.Indicators]

	subsMu     sync.Mutex
	subs       map[int]chan Event
	nextSub    int
	subsClosed bool
}

// New creates a tracker for the session. Start must be called before
// signals are processed.
func New(info Session, opts Options) *Tracker {
	cfg := opts.Config
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultConfig().TickInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	xp := opts.XP
	if xp == nil {
		xp = collab.NoopGamification{}
	}

	analyzers := opts.Analyzers
	if !info.Mode.AnalyzesBehavior() {
		analyzers.Behavior = nil
	}

	t := &Tracker{
		info:      info,
		cfg:       cfg,
		analyzers: analyzers,
		detector:  skills.NewDetector(info.ID, info.Mode, info.TrackedSkills),
		state:     live.NewState(cfg.Live, opts.Rand),
		xp:        xp,
		logger: logger.WithFields(logrus.Fields{
			"component":  "tracker",
			"session_id": info.ID,
			"call_id":    info.CallID,
		}),
		panics: util.NewPanicHandler(logger),
		now:    clock,
		inbox:  make(chan message, cfg.QueueSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		subs:   make(map[int]chan Event),
	}
	t.publish(clock())
	return t
}

// Start starts the session analyzers and the session goroutine
func (t *Tracker) Start() error {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	if t.closed {
		return fmt.Errorf("session %s already stopped", t.info.ID)
	}
	if t.started {
		return nil
	}
	if err := t.analyzers.Start(); err != nil {
		return err
	}
	t.started = true
	go t.run()
	t.logger.WithField("mode", t.info.Mode).Debug("Session tracker started")
	return nil
}

// ID returns the session id
func (t *Tracker) ID() string { return t.info.ID }

// CallID returns the call the session tracks
func (t *Tracker) CallID() string { return t.info.CallID }

// Ingest queues a signal without blocking. It returns false when the
// signal was dropped because the session is closed or its queue is full.
func (t *Tracker) Ingest(sig *signal.Signal) bool {
	t.closeMu.RLock()
	defer t.closeMu.RUnlock()

	if t.closed || !t.started {
		t.logger.WithField("kind", sig.Kind).Debug("Dropping signal for inactive session")
		metrics.RecordDroppedSignal("inactive")
		return false
	}

	select {
	case t.inbox <- message{sig: sig}:
		metrics.RecordSignal(string(sig.Kind))
		return true
	default:
		t.logger.WithFields(logrus.Fields{
			"kind":       sig.Kind,
			"queue_size": cap(t.inbox),
		}).Warn("Session queue full, dropping signal")
		metrics.RecordDroppedSignal("queue_full")
		return false
	}
}

// Sync blocks until every signal queued before the call has been applied
func (t *Tracker) Sync(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case t.inbox <- message{ack: ack}:
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-ack:
		return nil
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop closes the session: queued signals are drained, the analyzers are
// stopped and the end time is set. It is safe to call more than once.
func (t *Tracker) Stop() Session {
	t.closeMu.Lock()
	if t.closed {
		t.closeMu.Unlock()
		<-t.done
		return t.Session()
	}
	t.closed = true

	if !t.started {
		t.endTime = t.now()
		t.closeMu.Unlock()
		t.publish(t.endTime)
		t.closeSubscribers()
		close(t.done)
		return t.Session()
	}
	t.closeMu.Unlock()

	close(t.quit)
	<-t.done
	return t.Session()
}

// Done is closed once the session goroutine has exited
func (t *Tracker) Done() <-chan struct{} {
	return t.done
}

func (t *Tracker) run() {
	defer close(t.done)

	var tick <-chan time.Time
	if t.cfg.VisualizationEnabled {
		ticker := time.NewTicker(t.cfg.TickInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case msg := <-t.inbox:
			t.handle(msg)
		case <-tick:
			t.tick()
		case <-t.quit:
			t.drain()
			t.finish()
			return
		}
	}
}

func (t *Tracker) drain() {
	for {
		select {
		case msg := <-t.inbox:
			t.handle(msg)
		default:
			return
		}
	}
}

func (t *Tracker) finish() {
	t.analyzers.Stop()
	t.endTime = t.now()
	t.publish(t.endTime)

	t.emit(Event{Type: EventSessionClosed, SessionID: t.info.ID, Time: t.endTime})
	t.closeSubscribers()
	t.logger.WithField("moments", len(t.moments)).Info("Session tracker stopped")
}

func (t *Tracker) tick() {
	defer t.panics.Recover("live_aggregator", logrus.Fields{"session_id": t.info.ID})

	now := t.now()
	t.state.Tick(now, t.cfg.TickInterval)
	snap := t.state.Snapshot(now)
	t.liveView.Store(&snap)
	metrics.RecordTick()
}

func (t *Tracker) handle(msg message) {
	if msg.ack != nil {
		close(msg.ack)
		return
	}

	defer t.panics.RecoverWithCallback("tracker", logrus.Fields{"session_id": t.info.ID}, func(interface{}) {
		metrics.RecordTrackerPanic()
	})

	sig := msg.sig
	now := t.now()
	at := sig.Timestamp
	if at.IsZero() {
		at = now
	}

	defer metrics.ObserveSignalAnalysis(string(sig.Kind))()

	var moments []skills.SkillMoment
	switch sig.Kind {
	case signal.KindAudio:
		if t.analyzers.Audio == nil || sig.Audio == nil {
			return
		}
		m, err := t.analyzers.Audio.AnalyzeAudio(*sig.Audio)
		if err != nil {
			t.logger.WithError(err).Warn("Audio analysis failed")
			return
		}
		t.state.ApplyAudio(m, now)

	case signal.KindSpeech:
		if t.analyzers.Speech == nil || sig.Speech == nil {
			return
		}
		chunk := *sig.Speech
		chunk.SpeakerID = sig.Speaker()
		a, err := t.analyzers.Speech.AnalyzeSpeech(chunk)
		if err != nil {
			t.logger.WithError(err).Warn("Speech analysis failed")
			return
		}
		if a.SpeakerID == "" {
			a.SpeakerID = chunk.SpeakerID
		}
		t.state.ApplySpeech(a, now)
		moments = t.detector.FromSpeech(a, at, chunk.Duration)

	case signal.KindBehavior:
		if t.analyzers.Behavior == nil || sig.Behavior == nil {
			return
		}
		a, err := t.analyzers.Behavior.AnalyzeBehavior(sig.ParticipantID, *sig.Behavior)
		if err != nil {
			t.logger.WithError(err).Warn("Behavior analysis failed")
			return
		}
		if a.ParticipantID == "" {
			a.ParticipantID = sig.ParticipantID
		}
		t.state.ApplyBehavior(a, now)
		moments = t.detector.FromBehavior(a, at)
	}

	for i := range moments {
		t.addMoment(moments[i], now)
	}
	t.publish(now)
}

func (t *Tracker) addMoment(m skills.SkillMoment, now time.Time) {
	t.moments = append(t.moments, m)
	celebrated := t.state.AddMoment(m, now)
	metrics.RecordMoment(string(m.Category), celebrated)

	t.logger.WithFields(logrus.Fields{
		"skill":      m.Category,
		"confidence": m.Confidence,
	}).Debug("Skill moment detected")

	moment := m
	t.emit(Event{Type: EventMomentDetected, SessionID: t.info.ID, Moment: &moment, Time: now})

	if !celebrated {
		return
	}
	t.emit(Event{Type: EventCelebration, SessionID: t.info.ID, Moment: &moment, Time: now})
	t.awardXP(moment)
}

func (t *Tracker) awardXP(m skills.SkillMoment) {
	details := map[string]interface{}{
		"session_id":   t.info.ID,
		"call_id":      t.info.CallID,
		"skill":        string(m.Category),
		"confidence":   m.Confidence,
		"participants": append([]string(nil), m.ParticipantIDs...),
	}
	multiplier := 1 + m.Confidence

	t.panics.SafeGo("xp", logrus.Fields{"session_id": t.info.ID}, func() {
		ctx, cancel := context.WithTimeout(context.Background(), xpTimeout)
		defer cancel()
		if err := t.xp.AwardXP(ctx, xpAction, details, multiplier); err != nil {
			t.logger.WithError(err).Warn("Failed to award XP")
		}
	})
}

func (t *Tracker) publish(now time.Time) {
	n := len(t.moments)
	view := t.moments[:n:n]
	t.momentsView.Store(&view)

	snap := t.state.Snapshot(now)
	t.liveView.Store(&snap)

	ind := t.state.Indicators()
	t.indicatorsView.Store(&ind)
}

// Moments returns the moments detected so far in arrival order
func (t *Tracker) Moments() []skills.SkillMoment {
	return *t.momentsView.Load()
}

// Live returns the latest visualization snapshot
func (t *Tracker) Live() live.Snapshot {
	return *t.liveView.Load()
}

// Indicators returns the latest communication and leadership indicators
func (t *Tracker) Indicators() live.Indicators {
	return *t.indicatorsView.Load()
}

// Session returns a copy of the session record. EndTime is set once the
// tracker has stopped.
func (t *Tracker) Session() Session {
	s := t.info
	s.Participants = append([]string(nil), t.info.Participants...)
	s.TrackedSkills = append([]skills.Category(nil), t.info.TrackedSkills...)
	s.Moments = t.Moments()

	select {
	case <-t.done:
		end := t.endTime
		s.EndTime = &end
	default:
	}
	return s
}
