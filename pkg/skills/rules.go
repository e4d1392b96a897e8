package skills

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"skillcoach-engine/pkg/signal"

	"github.com/google/uuid"
)

const (
	technicalKeywordThreshold = 5
	complexityThreshold       = 0.7
	clarityThreshold          = 0.6

	// BehaviorWindow is the fixed duration of a non-verbal leadership moment
	BehaviorWindow = 5 * time.Second

	evidenceExcerptRunes = 160
)

// Detector applies the detection rules for one session. It holds no
// mutable state.
type Detector struct {
	sessionID string
	mode      Mode
	tracked   map[Category]bool
	newID     func() string
}

// NewDetector creates a detector. An empty tracked list tracks every category.
func NewDetector(sessionID string, mode Mode, tracked []Category) *Detector {
	d := &Detector{
		sessionID: sessionID,
		mode:      mode,
		newID:     uuid.NewString,
	}
	if len(tracked) > 0 {
		d.tracked = make(map[Category]bool, len(tracked))
		for _, c := range tracked {
			d.tracked[c] = true
		}
	}
	return d
}

// Tracks reports whether moments of the category are kept
func (d *Detector) Tracks(c Category) bool {
	return d.tracked == nil || d.tracked[c]
}

// FromSpeech runs the speech rules in order: technical expertise, leadership
// language, then the analyzer's own skill list. All qualifying moments are
// returned in that order.
func (d *Detector) FromSpeech(a signal.SpeechAnalysis, at time.Time, duration time.Duration) []SkillMoment {
	var moments []SkillMoment
	participants := participantList(a.SpeakerID)
	evidence := d.evidence(a.Text)

	if len(a.TechnicalKeywords) > technicalKeywordThreshold &&
		a.Complexity > complexityThreshold &&
		a.ExplanationClarity > clarityThreshold {
		moments = d.appendMoment(moments, SkillMoment{
			Category:       TechnicalExpertise,
			Confidence:     (a.Complexity + a.ExplanationClarity) / 2,
			Context:        fmt.Sprintf("technical explanation covering %s", strings.Join(distinct(a.TechnicalKeywords), ", ")),
			Evidence:       evidence,
			Timestamp:      at,
			Duration:       duration,
			ParticipantIDs: participants,
		})
	}

	for _, p := range a.LeadershipPatterns {
		moments = d.appendMoment(moments, SkillMoment{
			Category:       Leadership,
			Confidence:     p.Strength,
			Context:        fmt.Sprintf("leadership language: %q", p.Phrase),
			Evidence:       evidence,
			Timestamp:      at,
			Duration:       duration,
			ParticipantIDs: participants,
		})
	}

	for _, s := range a.DetectedSkills {
		category, ok := ParseCategory(s.Category)
		if !ok {
			continue
		}
		ev := evidence
		if s.Evidence != "" && d.mode != ModeExpert {
			ev = s.Evidence
		}
		moments = d.appendMoment(moments, SkillMoment{
			Category:       category,
			Confidence:     s.Confidence,
			Context:        fmt.Sprintf("%s detected in speech", category),
			Evidence:       ev,
			Timestamp:      at,
			Duration:       duration,
			ParticipantIDs: participants,
		})
	}

	return moments
}

// FromBehavior runs the non-verbal leadership rule
func (d *Detector) FromBehavior(a signal.BehaviorAnalysis, at time.Time) []SkillMoment {
	if len(a.LeadershipMarkers) == 0 {
		return nil
	}
	return d.appendMoment(nil, SkillMoment{
		Category:       Leadership,
		Confidence:     a.LeadershipScore,
		Context:        "non-verbal leadership presence",
		Evidence:       strings.Join(a.LeadershipMarkers, ", "),
		Timestamp:      at,
		Duration:       BehaviorWindow,
		ParticipantIDs: participantList(a.ParticipantID),
	})
}

func (d *Detector) appendMoment(moments []SkillMoment, m SkillMoment) []SkillMoment {
	if !d.Tracks(m.Category) {
		return moments
	}
	m.ID = d.newID()
	m.SessionID = d.sessionID
	m.Confidence = clamp01(m.Confidence)
	return append(moments, m)
}

func (d *Detector) evidence(text string) string {
	text = strings.TrimSpace(text)
	if d.mode == ModeExpert || utf8.RuneCountInString(text) <= evidenceExcerptRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:evidenceExcerptRunes]) + "…"
}

func participantList(id string) []string {
	if id == "" {
		return nil
	}
	return []string{id}
}

func distinct(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
