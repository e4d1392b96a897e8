package skills

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"skillcoach-engine/pkg/signal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDetector(mode Mode, tracked ...Category) *Detector {
	d := NewDetector("session-1", mode, tracked)
	n := 0
	d.newID = func() string {
		n++
		return fmt.Sprintf("m%d", n)
	}
	return d
}

func technicalAnalysis() signal.SpeechAnalysis {
	return signal.SpeechAnalysis{
		SpeakerID:          "alice",
		Text:               "We shard the database, cache the query, queue the writes and watch latency and throughput.",
		TechnicalKeywords:  []string{"database", "cache", "query", "queue", "latency", "throughput"},
		Complexity:         0.8,
		ExplanationClarity: 0.7,
	}
}

func TestTechnicalExpertiseRule(t *testing.T) {
	d := newTestDetector(ModeComprehensive)
	at := time.Unix(100, 0)

	moments := d.FromSpeech(technicalAnalysis(), at, time.Second)
	require.Len(t, moments, 1)
	assert.Equal(t, TechnicalExpertise, moments[0].Category)
	assert.InDelta(t, 0.75, moments[0].Confidence, 1e-9)
	assert.Equal(t, []string{"alice"}, moments[0].ParticipantIDs)
	assert.Equal(t, "session-1", moments[0].SessionID)
	assert.Equal(t, at, moments[0].Timestamp)
}

func TestTechnicalExpertiseThresholdsAreStrict(t *testing.T) {
	d := newTestDetector(ModeComprehensive)

	a := technicalAnalysis()
	a.TechnicalKeywords = a.TechnicalKeywords[:5]
	assert.Empty(t, d.FromSpeech(a, time.Now(), 0))

	a = technicalAnalysis()
	a.Complexity = 0.7
	assert.Empty(t, d.FromSpeech(a, time.Now(), 0))

	a = technicalAnalysis()
	a.ExplanationClarity = 0.6
	assert.Empty(t, d.FromSpeech(a, time.Now(), 0))
}

func TestSpeechRulesRunInOrder(t *testing.T) {
	d := newTestDetector(ModeComprehensive)

	a := technicalAnalysis()
	a.LeadershipPatterns = []signal.LeadershipPattern{
		{Phrase: "i recommend", Strength: 0.75},
		{Phrase: "let's", Strength: 0.6},
	}
	a.DetectedSkills = []signal.DetectedSkill{
		{Category: "mentoring", Confidence: 0.5, Evidence: "walk you through"},
		{Category: "juggling", Confidence: 0.9},
	}

	moments := d.FromSpeech(a, time.Now(), 0)
	require.Len(t, moments, 4)
	assert.Equal(t, TechnicalExpertise, moments[0].Category)
	assert.Equal(t, Leadership, moments[1].Category)
	assert.Equal(t, 0.75, moments[1].Confidence)
	assert.Equal(t, Leadership, moments[2].Category)
	assert.Equal(t, Mentoring, moments[3].Category)
	assert.Equal(t, "walk you through", moments[3].Evidence)
	assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, []string{moments[0].ID, moments[1].ID, moments[2].ID, moments[3].ID})
}

func TestUntrackedCategoriesAreDropped(t *testing.T) {
	d := newTestDetector(ModeComprehensive, Leadership)

	a := technicalAnalysis()
	a.LeadershipPatterns = []signal.LeadershipPattern{{Phrase: "i propose", Strength: 0.7}}
	moments := d.FromSpeech(a, time.Now(), 0)
	require.Len(t, moments, 1)
	assert.Equal(t, Leadership, moments[0].Category)
}

func TestBehaviorRule(t *testing.T) {
	d := newTestDetector(ModeComprehensive)

	assert.Empty(t, d.FromBehavior(signal.BehaviorAnalysis{ParticipantID: "bob", LeadershipScore: 0.9}, time.Now()))

	moments := d.FromBehavior(signal.BehaviorAnalysis{
		ParticipantID:     "bob",
		LeadershipMarkers: []string{"open_palm", "steepling"},
		LeadershipScore:   0.82,
	}, time.Now())
	require.Len(t, moments, 1)
	assert.Equal(t, Leadership, moments[0].Category)
	assert.Equal(t, 0.82, moments[0].Confidence)
	assert.Equal(t, BehaviorWindow, moments[0].Duration)
	assert.Equal(t, []string{"bob"}, moments[0].ParticipantIDs)
}

func TestNaNConfidenceBecomesZero(t *testing.T) {
	d := newTestDetector(ModeComprehensive)

	moments := d.FromSpeech(signal.SpeechAnalysis{
		SpeakerID:          "alice",
		Text:               "i propose we pair on it",
		LeadershipPatterns: []signal.LeadershipPattern{{Phrase: "i propose", Strength: math.NaN()}},
		DetectedSkills:     []signal.DetectedSkill{{Category: "mentoring", Confidence: math.NaN()}},
	}, time.Now(), 0)
	moments = append(moments, d.FromBehavior(signal.BehaviorAnalysis{
		ParticipantID:     "bob",
		LeadershipMarkers: []string{"steepling"},
		LeadershipScore:   math.NaN(),
	}, time.Now())...)

	require.Len(t, moments, 3)
	for _, m := range moments {
		assert.Zero(t, m.Confidence)
	}
	_, err := json.Marshal(moments)
	assert.NoError(t, err)
}

func TestEvidenceExcerpt(t *testing.T) {
	long := strings.Repeat("word ", 100)
	a := signal.SpeechAnalysis{
		SpeakerID:          "alice",
		Text:               long,
		LeadershipPatterns: []signal.LeadershipPattern{{Phrase: "let's", Strength: 0.6}},
	}

	moments := newTestDetector(ModeComprehensive).FromSpeech(a, time.Now(), 0)
	require.Len(t, moments, 1)
	assert.Equal(t, evidenceExcerptRunes+1, len([]rune(moments[0].Evidence)))

	moments = newTestDetector(ModeExpert).FromSpeech(a, time.Now(), 0)
	require.Len(t, moments, 1)
	assert.Equal(t, strings.TrimSpace(long), moments[0].Evidence)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("EXPERT")
	require.NoError(t, err)
	assert.Equal(t, ModeExpert, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeComprehensive, m)

	_, err = ParseMode("turbo")
	assert.Error(t, err)

	assert.False(t, ModeBasic.AnalyzesBehavior())
	assert.True(t, ModeExpert.AnalyzesBehavior())
}

func moment(c Category, conf float64, participants ...string) SkillMoment {
	return SkillMoment{Category: c, Confidence: conf, ParticipantIDs: participants}
}

func TestFinalizeMetrics(t *testing.T) {
	start := time.Unix(0, 0)
	end := start.Add(30 * time.Minute)
	moments := []SkillMoment{
		moment(Communication, 0.5, "alice"),
		moment(Leadership, 0.9, "bob"),
		moment(Leadership, 0.7, "bob"),
		moment(Communication, 0.3, "alice"),
		moment(Mentoring, 0.6, "alice"),
	}

	metrics := FinalizeMetrics(moments, []string{"alice", "bob", "carol"}, start, end)

	assert.Equal(t, 5, metrics.TotalMoments)
	assert.InDelta(t, 0.6, metrics.AverageConfidence, 1e-9)
	assert.InDelta(t, 2.0/3.0, metrics.ParticipationRate, 1e-9)
	assert.Equal(t, 30*time.Minute, metrics.Duration)
	assert.Equal(t, 2, metrics.MomentsByCategory[Leadership])
	assert.InDelta(t, 0.8, metrics.ConfidenceByCategory[Leadership], 1e-9)

	// communication was seen before leadership so it wins the tie
	assert.Equal(t, []CategoryCount{
		{Category: Communication, Count: 2},
		{Category: Leadership, Count: 2},
		{Category: Mentoring, Count: 1},
	}, metrics.TopSkills)
}

func TestFinalizeMetricsIdempotent(t *testing.T) {
	start := time.Unix(0, 0)
	moments := []SkillMoment{
		moment(Creativity, 0.4, "a"),
		moment(Collaboration, 0.6, "b"),
		moment(ProblemSolving, 0.6, "c"),
		moment(StrategicThinking, 0.6, "a"),
		moment(Mentoring, 0.6, "b"),
		moment(Leadership, 0.6, "c"),
		moment(Creativity, 0.6, "a"),
	}

	first := FinalizeMetrics(moments, []string{"a", "b", "c"}, start, start.Add(time.Minute))
	second := FinalizeMetrics(moments, []string{"a", "b", "c"}, start, start.Add(time.Minute))
	assert.Equal(t, first, second)
	require.Len(t, first.TopSkills, 5)
	assert.Equal(t, Creativity, first.TopSkills[0].Category)
	assert.Equal(t, Collaboration, first.TopSkills[1].Category)
}

func TestFinalizeMetricsEmpty(t *testing.T) {
	metrics := FinalizeMetrics(nil, nil, time.Time{}, time.Now())
	assert.Zero(t, metrics.TotalMoments)
	assert.Zero(t, metrics.Duration)
	assert.Zero(t, metrics.ParticipationRate)
	assert.Empty(t, metrics.TopSkills)
}
