package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"skillcoach-engine/pkg/coaching"
	"skillcoach-engine/pkg/registry"
	"skillcoach-engine/pkg/signal"
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

type fakeBroker struct{ connected bool }

func (f fakeBroker) IsConnected() bool { return f.connected }

type fakeStore struct{ err error }

func (f fakeStore) Health(context.Context) error { return f.err }

type testEnv struct {
	server   *Server
	http     *httptest.Server
	sessions *registry.Registry
	advisor  *coaching.Advisor
	insights *store.MemoryStore
}

func newTestEnv(t *testing.T, recognizer stt.Recognizer, mutate func(*Services)) *testEnv {
	t.Helper()
	logger := testLogger()
	insights := store.NewMemoryStore()

	trackerCfg := tracker.DefaultConfig()
	trackerCfg.TickInterval = 20 * time.Millisecond
	sessions := registry.New(registry.Options{
		Config:     registry.Config{Tracker: trackerCfg, RecordingDir: "/recordings"},
		Analyzers:  leadershipMock().Factory(),
		Recognizer: recognizer,
		Scripts:    insights,
		Logger:     logger,
	})
	advisor := coaching.NewAdvisor(coaching.Options{Store: insights, Logger: logger})

	services := Services{
		Sessions:   sessions,
		Coaching:   advisor,
		Recognizer: recognizer,
	}
	if mutate != nil {
		mutate(&services)
	}

	cfg := DefaultConfig()
	cfg.EnableMetrics = false
	cfg.SnapshotInterval = 20 * time.Millisecond
	server := NewServer(logger, cfg, services)
	ts := httptest.NewServer(server.Handler())

	t.Cleanup(func() {
		server.Hub().Close()
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		sessions.Close(ctx)
		advisor.Close(ctx)
	})
	return &testEnv{server: server, http: ts, sessions: sessions, advisor: advisor, insights: insights}
}

func transcript() *stt.MockRecognizer {
	return stt.NewMockRecognizer(
		stt.Segment{SpeakerID: "alice", Text: "I propose we refactor the api.", Start: 0, End: 2 * time.Second, Confidence: 0.9},
		stt.Segment{SpeakerID: "bob", Text: "Great, I will draft the plan.", Start: 2 * time.Second, End: 4 * time.Second, Confidence: 0.9},
	)
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.http.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.http.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func (e *testEnv) createSession(t *testing.T, callID string) tracker.Session {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/sessions", map[string]interface{}{
		"call_id":      callID,
		"participants": []string{"alice", "bob"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var session tracker.Session
	decodeBody(t, resp, &session)
	return session
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t, transcript(), nil)
	session := env.createSession(t, "call-1")
	assert.Equal(t, "call-1", session.CallID)
	assert.Equal(t, "/recordings/call-1.wav", session.AudioRef)

	resp := env.do(t, http.MethodPost, "/api/sessions/"+session.ID+"/signals", []map[string]interface{}{
		{"kind": "speech", "speech": map[string]interface{}{"text": "0.6 let's align on scope", "speaker_id": "alice"}},
		{"kind": "speech"},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var ingest ingestResult
	decodeBody(t, resp, &ingest)
	assert.Equal(t, ingestResult{Accepted: 1, Dropped: 1}, ingest)

	require.NoError(t, env.sessions.Sync(context.Background(), session.ID))

	resp = env.do(t, http.MethodGet, "/api/sessions/"+session.ID+"/moments", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var moments struct {
		Count int `json:"count"`
	}
	decodeBody(t, resp, &moments)
	assert.Equal(t, 1, moments.Count)

	for _, path := range []string{"/live", "/indicators", ""} {
		resp = env.do(t, http.MethodGet, "/api/sessions/"+session.ID+path, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	}

	resp = env.do(t, http.MethodPost, "/api/sessions/"+session.ID+"/end", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var outcome map[string]interface{}
	decodeBody(t, resp, &outcome)
	assert.Equal(t, true, outcome["summary_available"])
	script, ok := outcome["script"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, session.ID, script["session_id"])

	_, stored := env.insights.Script(session.ID)
	assert.True(t, stored)

	resp = env.do(t, http.MethodGet, "/api/sessions/"+session.ID+"/live", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSingleSignalObject(t *testing.T) {
	env := newTestEnv(t, transcript(), nil)
	session := env.createSession(t, "call-1")

	resp := env.do(t, http.MethodPost, "/api/sessions/"+session.ID+"/signals",
		`{"kind":"speech","speech":{"text":"0.5 next steps","speaker_id":"bob"}}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var ingest ingestResult
	decodeBody(t, resp, &ingest)
	assert.Equal(t, 1, ingest.Accepted)

	resp = env.do(t, http.MethodPost, "/api/sessions/"+session.ID+"/signals", `{"kind":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEndWithoutSummary(t *testing.T) {
	env := newTestEnv(t, &stt.MockRecognizer{Deny: true}, nil)
	session := env.createSession(t, "call-1")

	resp := env.do(t, http.MethodPost, "/api/sessions/"+session.ID+"/end", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var outcome map[string]interface{}
	decodeBody(t, resp, &outcome)
	assert.Equal(t, false, outcome["summary_available"])
	assert.Contains(t, outcome["error"], "permission denied")
	assert.Nil(t, outcome["script"])
	assert.NotNil(t, outcome["metrics"])
}

func TestSessionErrors(t *testing.T) {
	env := newTestEnv(t, transcript(), nil)
	env.createSession(t, "call-1")

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{"duplicate call", http.MethodPost, "/api/sessions", map[string]string{"call_id": "call-1"}, http.StatusConflict, "DUPLICATE_SESSION"},
		{"missing call id", http.MethodPost, "/api/sessions", map[string]string{}, http.StatusBadRequest, "INVALID_INPUT"},
		{"bad mode", http.MethodPost, "/api/sessions", map[string]string{"call_id": "c2", "mode": "deep"}, http.StatusBadRequest, "INVALID_INPUT"},
		{"malformed", http.MethodPost, "/api/sessions", "{", http.StatusBadRequest, "INVALID_INPUT"},
		{"unknown live", http.MethodGet, "/api/sessions/nope/live", nil, http.StatusNotFound, "UNKNOWN_SESSION"},
		{"unknown end", http.MethodPost, "/api/sessions/nope/end", nil, http.StatusNotFound, "UNKNOWN_SESSION"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			var body map[string]interface{}
			decodeBody(t, resp, &body)
			assert.Equal(t, tt.code, body["code"])
		})
	}
	assert.Equal(t, 1, env.sessions.ActiveCount())
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, transcript(), nil)
	resp := env.do(t, http.MethodGet, "/api/sessions/abc/end", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestCoachingFlow(t *testing.T) {
	env := newTestEnv(t, transcript(), nil)

	resp := env.do(t, http.MethodPost, "/api/coaching", map[string]string{
		"call_id":        "call-9",
		"participant_id": "alice",
		"role":           "Presenter",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var session coaching.Session
	decodeBody(t, resp, &session)
	assert.Equal(t, coaching.RolePresenter, session.Role)
	assert.Equal(t, coaching.FocusPresentation, session.Focus)
	require.Len(t, session.Prompts, 3)

	resp = env.do(t, http.MethodPost, "/api/coaching/"+session.ID+"/input", coaching.CommunicationAnalysis{
		SpeakingRatio:   0.1,
		ConfidenceScore: 0.8,
		OverallScore:    0.6,
		EngagementLevel: 0.5,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var input struct {
		Prompts []coaching.Prompt `json:"prompts"`
	}
	decodeBody(t, resp, &input)
	require.Len(t, input.Prompts, 1)
	assert.Equal(t, coaching.PromptEncouragement, input.Prompts[0].Type)

	resp = env.do(t, http.MethodPost, "/api/coaching/"+session.ID+"/prompts/"+session.Prompts[0].ID+"/complete", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/coaching/"+session.ID+"/prompts/missing/complete", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/coaching/"+session.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var current coaching.Session
	decodeBody(t, resp, &current)
	assert.Equal(t, 1, current.CompletedPrompts)
	assert.Equal(t, 4, current.TotalPrompts)

	resp = env.do(t, http.MethodPost, "/api/coaching/"+session.ID+"/end", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var insight coaching.Insight
	decodeBody(t, resp, &insight)
	assert.Equal(t, session.ID, insight.SessionID)
	assert.Equal(t, 1, insight.Samples)
	assert.Len(t, env.insights.Insights(), 1)

	resp = env.do(t, http.MethodPost, "/api/coaching/"+session.ID+"/end", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCoachingValidation(t *testing.T) {
	env := newTestEnv(t, transcript(), nil)

	resp := env.do(t, http.MethodPost, "/api/coaching", map[string]string{"call_id": "c", "role": "heckler"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/coaching", map[string]string{"role": "observer"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/coaching/nope/input", coaching.CommunicationAnalysis{})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		recognizer stt.Recognizer
		mutate     func(*Services)
		status     int
		overall    string
	}{
		{"healthy", transcript(), nil, http.StatusOK, "healthy"},
		{"recognizer unavailable", &stt.MockRecognizer{Unavailable: true}, nil, http.StatusOK, "degraded"},
		{"no recognizer", nil, nil, http.StatusOK, "degraded"},
		{"amqp down", transcript(), func(s *Services) { s.Messaging = fakeBroker{} }, http.StatusOK, "degraded"},
		{"redis down", transcript(), func(s *Services) { s.Store = fakeStore{err: fmt.Errorf("dial tcp: refused")} }, http.StatusOK, "degraded"},
		{"all up", transcript(), func(s *Services) {
			s.Messaging = fakeBroker{connected: true}
			s.Store = fakeStore{}
		}, http.StatusOK, "healthy"},
		{"no coaching", transcript(), func(s *Services) { s.Coaching = nil }, http.StatusServiceUnavailable, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.recognizer, tt.mutate)
			resp := env.do(t, http.MethodGet, "/health", nil)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Contains(t, resp.Header.Get("Server"), "skillcoach/")

			var health HealthStatus
			decodeBody(t, resp, &health)
			assert.Equal(t, tt.overall, health.Status)
			assert.Contains(t, health.Checks, "sessions")
		})
	}
}

func TestProbes(t *testing.T) {
	env := newTestEnv(t, transcript(), nil)

	resp := env.do(t, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = env.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status map[string]interface{}
	decodeBody(t, resp, &status)
	assert.Equal(t, float64(0), status["active_sessions"])
}
