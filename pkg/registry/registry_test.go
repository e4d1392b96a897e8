package registry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"skillcoach-engine/pkg/errors"
	"skillcoach-engine/pkg/signal"
	"skillcoach-engine/pkg/skills"
	"skillcoach-engine/pkg/store"
	"skillcoach-engine/pkg/stt"
	"skillcoach-engine/pkg/tracker"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

func leadershipMock() *signal.MockAnalyzer {
	mock := signal.NewMockAnalyzer()
	mock.SpeechFunc = func(chunk signal.SpeechChunk) (signal.SpeechAnalysis, error) {
		var strength float64
		fmt.Sscanf(chunk.Text, "%f", &strength)
		return signal.SpeechAnalysis{
			SpeakerID:          chunk.SpeakerID,
			Text:               chunk.Text,
			LeadershipPatterns: []signal.LeadershipPattern{{Phrase: "i propose", Strength: strength}},
		}, nil
	}
	return mock
}

func speech(text, speaker string) *signal.Signal {
	return &signal.Signal{
		Kind:   signal.KindSpeech,
		Speech: &signal.SpeechChunk{Text: text, SpeakerID: speaker},
	}
}

func transcript() *stt.MockRecognizer {
	return stt.NewMockRecognizer(
		stt.Segment{SpeakerID: "alice", Text: "I propose we ship the api on friday.", Start: 0, End: 3 * time.Second, Confidence: 0.9},
		stt.Segment{SpeakerID: "bob", Text: "Agreed, I will update the database schema.", Start: 3 * time.Second, End: 6 * time.Second, Confidence: 0.8},
	)
}

type fixture struct {
	registry   *Registry
	scripts    *store.MemoryStore
	recognizer *stt.MockRecognizer
}

func newFixture(t *testing.T, recognizer *stt.MockRecognizer, cfg Config) *fixture {
	t.Helper()
	cfg.Tracker = tracker.DefaultConfig()
	cfg.Tracker.VisualizationEnabled = false
	if cfg.RecordingDir == "" {
		cfg.RecordingDir = "/recordings"
	}

	scripts := store.NewMemoryStore()
	opts := Options{
		Config:    cfg,
		Analyzers: leadershipMock().Factory(),
		Scripts:   scripts,
		Logger:    testLogger(),
	}
	if recognizer != nil {
		opts.Recognizer = recognizer
	}
	r := New(opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		r.Close(ctx)
	})
	return &fixture{registry: r, scripts: scripts, recognizer: recognizer}
}

func create(t *testing.T, r *Registry, callID string) tracker.Session {
	t.Helper()
	s, err := r.CreateSession(context.Background(), CreateRequest{
		CallID:       callID,
		Participants: []string{"alice", "bob"},
	})
	require.NoError(t, err)
	return s
}

func TestCreateSessionDefaults(t *testing.T) {
	f := newFixture(t, transcript(), Config{})
	s := create(t, f.registry, "call-1")

	assert.NotEmpty(t, s.ID)
	assert.Equal(t, "call-1", s.CallID)
	assert.Equal(t, skills.ModeComprehensive, s.Mode)
	assert.Equal(t, "/recordings/call-1.wav", s.AudioRef)
	assert.Equal(t, 1, f.registry.ActiveCount())
	assert.Equal(t, []string{s.ID}, f.registry.SessionIDs())
}

func TestCreateSessionValidation(t *testing.T) {
	f := newFixture(t, transcript(), Config{})

	_, err := f.registry.CreateSession(context.Background(), CreateRequest{})
	assert.ErrorIs(t, err, errors.ErrInvalidInput)

	_, err = f.registry.CreateSession(context.Background(), CreateRequest{CallID: "c", Mode: "everything"})
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
	assert.Zero(t, f.registry.ActiveCount())
}

func TestDuplicateCallRejectedUntilEnded(t *testing.T) {
	f := newFixture(t, transcript(), Config{})
	first := create(t, f.registry, "call-1")

	_, err := f.registry.CreateSession(context.Background(), CreateRequest{CallID: "call-1"})
	assert.ErrorIs(t, err, errors.ErrDuplicateSession)
	assert.Equal(t, 1, f.registry.ActiveCount())

	_, err = f.registry.EndSession(context.Background(), first.ID)
	require.NoError(t, err)

	second := create(t, f.registry, "call-1")
	assert.NotEqual(t, first.ID, second.ID)
}

func TestSessionLimit(t *testing.T) {
	f := newFixture(t, transcript(), Config{MaxActiveSessions: 2})
	create(t, f.registry, "call-1")
	create(t, f.registry, "call-2")

	_, err := f.registry.CreateSession(context.Background(), CreateRequest{CallID: "call-3"})
	assert.ErrorIs(t, err, errors.ErrSessionLimit)
	assert.Equal(t, 2, f.registry.ActiveCount())
}

func TestEndUnknownSession(t *testing.T) {
	f := newFixture(t, transcript(), Config{})
	create(t, f.registry, "call-1")

	_, err := f.registry.EndSession(context.Background(), "missing")
	assert.ErrorIs(t, err, errors.ErrUnknownSession)
	assert.Equal(t, 1, f.registry.ActiveCount())
}

func TestIngestDropsInvalidAndUnknown(t *testing.T) {
	f := newFixture(t, transcript(), Config{})
	s := create(t, f.registry, "call-1")

	assert.False(t, f.registry.Ingest("missing", speech("0.5", "alice")))
	assert.False(t, f.registry.Ingest(s.ID, &signal.Signal{Kind: signal.KindSpeech}))
	assert.False(t, f.registry.Ingest(s.ID, nil))
	assert.True(t, f.registry.Ingest(s.ID, speech("0.5", "alice")))

	require.NoError(t, f.registry.Sync(context.Background(), s.ID))
	moments, err := f.registry.Moments(s.ID)
	require.NoError(t, err)
	assert.Len(t, moments, 1)
}

func TestMomentsInArrivalOrder(t *testing.T) {
	f := newFixture(t, transcript(), Config{})
	s := create(t, f.registry, "call-1")

	var texts []string
	for i := 0; i < 20; i++ {
		text := fmt.Sprintf("0.%02d point %d", 40+i, i)
		texts = append(texts, text)
		require.True(t, f.registry.Ingest(s.ID, speech(text, "alice")))
	}
	require.NoError(t, f.registry.Sync(context.Background(), s.ID))

	moments, err := f.registry.Moments(s.ID)
	require.NoError(t, err)
	require.Len(t, moments, len(texts))
	for i, m := range moments {
		assert.Equal(t, texts[i], m.Evidence)
	}

	indicators, err := f.registry.Indicators(s.ID)
	require.NoError(t, err)
	assert.NotNil(t, indicators)
}

func TestEndSessionProducesScript(t *testing.T) {
	f := newFixture(t, transcript(), Config{})
	s := create(t, f.registry, "call-1")
	require.True(t, f.registry.Ingest(s.ID, speech("0.8", "alice")))
	require.NoError(t, f.registry.Sync(context.Background(), s.ID))

	outcome, err := f.registry.EndSession(context.Background(), s.ID)
	require.NoError(t, err)
	require.NotNil(t, outcome)

	assert.True(t, outcome.SummaryAvailable)
	assert.Empty(t, outcome.Error)
	require.NotNil(t, outcome.Script)
	assert.Equal(t, s.ID, outcome.Script.SessionID)
	assert.Equal(t, "call-1", outcome.Script.CallID)
	assert.Len(t, outcome.Script.Transcript.Segments, 2)

	assert.Equal(t, 1, outcome.Metrics.TotalMoments)
	assert.NotNil(t, outcome.Session.EndTime)

	saved, ok := f.scripts.Script(s.ID)
	require.True(t, ok)
	assert.Equal(t, outcome.Script.ID, saved.ID)

	assert.Equal(t, []string{"/recordings/call-1.wav"}, f.recognizer.Requests())
	assert.True(t, f.recognizer.PartialResultsRequested())

	assert.Zero(t, f.registry.ActiveCount())
	_, err = f.registry.Live(s.ID)
	assert.ErrorIs(t, err, errors.ErrUnknownSession)

	_, err = f.registry.EndSession(context.Background(), s.ID)
	assert.ErrorIs(t, err, errors.ErrUnknownSession)
}

func TestFailedAnalysisKeepsLiveData(t *testing.T) {
	f := newFixture(t, &stt.MockRecognizer{Unavailable: true}, Config{})
	s := create(t, f.registry, "call-1")
	require.True(t, f.registry.Ingest(s.ID, speech("0.7", "bob")))
	require.NoError(t, f.registry.Sync(context.Background(), s.ID))

	outcome, err := f.registry.EndSession(context.Background(), s.ID)
	assert.ErrorIs(t, err, errors.ErrSpeechRecognitionUnavailable)
	require.NotNil(t, outcome)

	assert.False(t, outcome.SummaryAvailable)
	assert.Nil(t, outcome.Script)
	assert.NotEmpty(t, outcome.Error)
	assert.Equal(t, 1, outcome.Metrics.TotalMoments)
	assert.Len(t, outcome.Session.Moments, 1)

	assert.Empty(t, f.scripts.Scripts())
	assert.Zero(t, f.registry.ActiveCount())
}

func TestEndSessionWithoutRecognizer(t *testing.T) {
	f := newFixture(t, nil, Config{})
	s := create(t, f.registry, "call-1")

	outcome, err := f.registry.EndSession(context.Background(), s.ID)
	assert.ErrorIs(t, err, errors.ErrSpeechRecognitionUnavailable)
	require.NotNil(t, outcome)
	assert.False(t, outcome.SummaryAvailable)
}

func TestEndSessionCanceled(t *testing.T) {
	f := newFixture(t, &stt.MockRecognizer{HoldOpen: true}, Config{})
	s := create(t, f.registry, "call-1")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	outcome, err := f.registry.EndSession(ctx, s.ID)
	require.Error(t, err)
	assert.Equal(t, "timeout", errors.TranscriptionFailureReason(err))
	require.NotNil(t, outcome)
	assert.False(t, outcome.SummaryAvailable)
	assert.Zero(t, f.registry.ActiveCount())
}

func TestIngestDroppedWhileEnding(t *testing.T) {
	f := newFixture(t, &stt.MockRecognizer{HoldOpen: true}, Config{})
	s := create(t, f.registry, "call-1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.registry.EndSession(ctx, s.ID)
		done <- err
	}()

	require.Eventually(t, func() bool { return len(f.recognizer.Requests()) == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, f.registry.Ingest(s.ID, speech("0.9", "alice")))
	assert.Equal(t, 1, f.registry.ActiveCount())

	_, err := f.registry.EndSession(context.Background(), s.ID)
	assert.ErrorIs(t, err, errors.ErrUnknownSession)

	cancel()
	select {
	case err := <-done:
		assert.Equal(t, "canceled", errors.TranscriptionFailureReason(err))
	case <-time.After(time.Second):
		t.Fatal("EndSession did not return after cancel")
	}
}

func TestCloseCancelsRunningAnalyses(t *testing.T) {
	f := newFixture(t, &stt.MockRecognizer{HoldOpen: true}, Config{})
	ending := create(t, f.registry, "call-1")
	create(t, f.registry, "call-2")

	done := make(chan error, 1)
	go func() {
		_, err := f.registry.EndSession(context.Background(), ending.ID)
		done <- err
	}()
	require.Eventually(t, func() bool { return len(f.recognizer.Requests()) == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.registry.Close(ctx))

	select {
	case err := <-done:
		assert.Equal(t, "canceled", errors.TranscriptionFailureReason(err))
	case <-time.After(time.Second):
		t.Fatal("EndSession did not return after Close")
	}
	assert.Zero(t, f.registry.ActiveCount())

	_, err := f.registry.CreateSession(context.Background(), CreateRequest{CallID: "call-3"})
	assert.Error(t, err)
}

func TestEndSessionDuringShutdownSkipsAnalysis(t *testing.T) {
	f := newFixture(t, &stt.MockRecognizer{HoldOpen: true}, Config{})
	s := create(t, f.registry, "call-1")
	require.True(t, f.registry.Ingest(s.ID, speech("0.7", "alice")))
	require.NoError(t, f.registry.Sync(context.Background(), s.ID))

	// Close has marked the registry but not yet reached this session
	f.registry.mu.Lock()
	f.registry.closed = true
	f.registry.mu.Unlock()

	done := make(chan struct{})
	var (
		outcome *Outcome
		err     error
	)
	go func() {
		defer close(done)
		outcome, err = f.registry.EndSession(context.Background(), s.ID)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("EndSession waited for a transcription during shutdown")
	}

	assert.Equal(t, "canceled", errors.TranscriptionFailureReason(err))
	require.NotNil(t, outcome)
	assert.False(t, outcome.SummaryAvailable)
	assert.Equal(t, 1, outcome.Metrics.TotalMoments)
	assert.Empty(t, f.recognizer.Requests())
	assert.Zero(t, f.registry.ActiveCount())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.NoError(t, f.registry.Close(ctx))
}

func TestEndSessionResolvesSpeakerLabels(t *testing.T) {
	recognizer := stt.NewMockRecognizer(
		stt.Segment{SpeakerID: "speaker_1", Text: "Let us review the roadmap.", Start: 0, End: 30 * time.Second, Confidence: 0.9},
		stt.Segment{SpeakerID: "speaker_2", Text: "Sounds good.", Start: 30 * time.Second, End: 40 * time.Second, Confidence: 0.9},
	)
	f := newFixture(t, recognizer, Config{})
	s, err := f.registry.CreateSession(context.Background(), CreateRequest{
		CallID:        "call-1",
		Participants:  []string{"alice", "bob"},
		SpeakerLabels: map[string]string{"speaker_1": "alice", "speaker_2": "bob"},
	})
	require.NoError(t, err)

	outcome, err := f.registry.EndSession(context.Background(), s.ID)
	require.NoError(t, err)
	require.NotNil(t, outcome.Script)

	analysis := outcome.Script.Analysis
	assert.Equal(t, "alice", analysis.SpeakingTime.DominantSpeaker)
	assert.InDelta(t, 0.25, analysis.SpeakingTime.Shares["bob"], 1e-9)
	assert.InDelta(t, 1, analysis.TeamDynamics.SpeakerDiversity, 1e-9)
}
