package coaching

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"skillcoach-engine/pkg/errors"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingStore struct {
	mu       sync.Mutex
	insights []*Insight
	err      error
}

func (s *recordingStore) SaveInsight(_ context.Context, insight *Insight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insights = append(s.insights, insight)
	return s.err
}

type recordingCareer struct {
	participant string
	focus       string
	performance float64
	calls       int
}

func (c *recordingCareer) RefreshRecommendations(_ context.Context, participantID, focus string, performance float64) error {
	c.calls++
	c.participant = participantID
	c.focus = focus
	c.performance = performance
	return nil
}

func newTestAdvisor(store InsightStore, career *recordingCareer) *Advisor {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	n := 0
	opts := Options{
		Store:  store,
		Logger: logger,
		Clock:  func() time.Time { return time.Unix(1700000000, 0) },
		NewID: func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		},
	}
	if career != nil {
		opts.Career = career
	}
	return NewAdvisor(opts)
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" Presenter ")
	require.NoError(t, err)
	assert.Equal(t, RolePresenter, r)
	assert.Equal(t, FocusPresentation, r.Focus())

	_, err = ParseRole("heckler")
	assert.Error(t, err)
}

func TestStartEmitsRolePrompts(t *testing.T) {
	for role, prompts := range rolePrompts {
		t.Run(string(role), func(t *testing.T) {
			a := newTestAdvisor(nil, nil)
			s, err := a.Start("call-1", "alice", role)
			require.NoError(t, err)
			assert.Equal(t, role.Focus(), s.Focus)
			assert.Len(t, s.Prompts, len(prompts))
			assert.Equal(t, len(prompts), s.TotalPrompts)
			for _, p := range s.Prompts {
				assert.Equal(t, PromptRoleGuidance, p.Type)
			}
		})
	}
}

func TestStartRejectsInvalidInput(t *testing.T) {
	a := newTestAdvisor(nil, nil)
	_, err := a.Start("", "alice", RolePresenter)
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
	_, err = a.Start("call-1", "alice", Role("heckler"))
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
	assert.Zero(t, a.ActiveCount())
}

func promptTypes(prompts []Prompt) []PromptType {
	out := []PromptType{}
	for _, p := range prompts {
		out = append(out, p.Type)
	}
	return out
}

func TestThresholdBoundaries(t *testing.T) {
	tests := []struct {
		name     string
		sample   CommunicationAnalysis
		expected []PromptType
	}{
		{"ratio at lower bound", CommunicationAnalysis{SpeakingRatio: 0.2, ConfidenceScore: 0.5}, []PromptType{}},
		{"ratio below lower bound", CommunicationAnalysis{SpeakingRatio: 0.19, ConfidenceScore: 0.5}, []PromptType{PromptEncouragement}},
		{"ratio at upper bound", CommunicationAnalysis{SpeakingRatio: 0.6, ConfidenceScore: 0.5}, []PromptType{}},
		{"ratio above upper bound", CommunicationAnalysis{SpeakingRatio: 0.61, ConfidenceScore: 0.5}, []PromptType{PromptBalanceSpeaking}},
		{"three questions", CommunicationAnalysis{SpeakingRatio: 0.4, QuestionCount: 3, ConfidenceScore: 0.5}, []PromptType{}},
		{"four questions", CommunicationAnalysis{SpeakingRatio: 0.4, QuestionCount: 4, ConfidenceScore: 0.5}, []PromptType{PromptPositiveReinforcement}},
		{"confidence at bound", CommunicationAnalysis{SpeakingRatio: 0.4, ConfidenceScore: 0.4}, []PromptType{}},
		{"low confidence", CommunicationAnalysis{SpeakingRatio: 0.4, ConfidenceScore: 0.39}, []PromptType{PromptConfidenceBoost}},
		{
			"several rules",
			CommunicationAnalysis{SpeakingRatio: 0.1, QuestionCount: 5, ConfidenceScore: 0.1},
			[]PromptType{PromptEncouragement, PromptPositiveReinforcement, PromptConfidenceBoost},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAdvisor(nil, nil)
			s, err := a.Start("call-1", "alice", RoleParticipant)
			require.NoError(t, err)

			prompts, err := a.ProcessInput(s.ID, tt.sample)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, promptTypes(prompts))

			after, ok := a.Session(s.ID)
			require.True(t, ok)
			assert.Equal(t, s.TotalPrompts+len(tt.expected), after.TotalPrompts)
		})
	}
}

func TestHistoryIsCappedButMeansUseAllSamples(t *testing.T) {
	a := newTestAdvisor(nil, nil)
	a.historyLimit = 3
	s, err := a.Start("call-1", "alice", RoleObserver)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := a.ProcessInput(s.ID, CommunicationAnalysis{
			SpeakingRatio:   0.4,
			ConfidenceScore: 0.5,
			OverallScore:    float64(i) / 4,
			EngagementLevel: 1,
		})
		require.NoError(t, err)
	}

	snap, _ := a.Session(s.ID)
	require.Len(t, snap.History, 3)
	assert.InDelta(t, 0.5, snap.History[0].OverallScore, 1e-9)

	insight, err := a.End(context.Background(), s.ID)
	require.NoError(t, err)
	// mean overall over 0, .25, .5, .75, 1 is 0.5; no prompts completed
	assert.InDelta(t, 0.4*0.5+0.3*1, insight.PerformanceScore, 1e-9)
	assert.Equal(t, 5, insight.Samples)
}

func TestEndScoresPersistsAndRefreshes(t *testing.T) {
	store := &recordingStore{}
	career := &recordingCareer{}
	a := newTestAdvisor(store, career)

	s, err := a.Start("call-1", "alice", RoleFacilitator)
	require.NoError(t, err)
	require.Len(t, s.Prompts, 3)

	_, err = a.ProcessInput(s.ID, CommunicationAnalysis{SpeakingRatio: 0.3, ConfidenceScore: 0.8, OverallScore: 0.8, EngagementLevel: 0.6})
	require.NoError(t, err)
	_, err = a.ProcessInput(s.ID, CommunicationAnalysis{SpeakingRatio: 0.5, ConfidenceScore: 0.8, OverallScore: 0.6, EngagementLevel: 0.8})
	require.NoError(t, err)

	require.NoError(t, a.CompletePrompt(s.ID, s.Prompts[0].ID))
	require.NoError(t, a.CompletePrompt(s.ID, s.Prompts[0].ID))
	assert.ErrorIs(t, a.CompletePrompt(s.ID, "missing"), errors.ErrNotFound)

	insight, err := a.End(context.Background(), s.ID)
	require.NoError(t, err)

	expected := 0.4*0.7 + 0.3*(1.0/3.0) + 0.3*0.7
	assert.InDelta(t, expected, insight.PerformanceScore, 1e-9)
	assert.Equal(t, 1, insight.PromptsCompleted)
	assert.Equal(t, 3, insight.PromptsTotal)
	assert.Contains(t, insight.Strengths, "Balanced speaking time")
	assert.Contains(t, insight.Strengths, "Confident delivery")

	require.Len(t, store.insights, 1)
	assert.Equal(t, insight, store.insights[0])
	assert.Equal(t, 1, career.calls)
	assert.Equal(t, "alice", career.participant)
	assert.Equal(t, string(FocusFacilitation), career.focus)
	assert.InDelta(t, expected, career.performance, 1e-9)

	assert.Zero(t, a.ActiveCount())
	_, err = a.End(context.Background(), s.ID)
	assert.ErrorIs(t, err, errors.ErrUnknownSession)
	_, err = a.ProcessInput(s.ID, CommunicationAnalysis{})
	assert.ErrorIs(t, err, errors.ErrUnknownSession)
}

func TestEndWithoutSamples(t *testing.T) {
	a := newTestAdvisor(nil, nil)
	s, err := a.Start("call-1", "", RoleParticipant)
	require.NoError(t, err)

	insight, err := a.End(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Zero(t, insight.PerformanceScore)
	assert.Empty(t, insight.Strengths)
	assert.Len(t, insight.ImprovementAreas, 1)
}

func TestEndSurvivesStoreFailure(t *testing.T) {
	store := &recordingStore{err: stderrors.New("redis down")}
	a := newTestAdvisor(store, nil)
	s, err := a.Start("call-1", "alice", RolePresenter)
	require.NoError(t, err)

	insight, err := a.End(context.Background(), s.ID)
	require.NoError(t, err)
	assert.NotNil(t, insight)
	assert.Len(t, store.insights, 1)
}

func TestCloseEndsAllSessions(t *testing.T) {
	store := &recordingStore{}
	a := newTestAdvisor(store, nil)
	for i := 0; i < 3; i++ {
		_, err := a.Start(fmt.Sprintf("call-%d", i), "alice", RoleObserver)
		require.NoError(t, err)
	}
	a.Close(context.Background())
	assert.Zero(t, a.ActiveCount())
	assert.Len(t, store.insights, 3)
}
