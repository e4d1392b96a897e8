package skills

import (
	"fmt"
	"strings"
	"time"
)

// Category is a professional skill the engine can recognize
type Category string

const (
	TechnicalExpertise Category = "technicalExpertise"
	Leadership         Category = "leadership"
	Communication      Category = "communication"
	ProblemSolving     Category = "problemSolving"
	Collaboration      Category = "collaboration"
	Mentoring          Category = "mentoring"
	StrategicThinking  Category = "strategicThinking"
	Creativity         Category = "creativity"
)

// AllCategories lists every known category in declaration order
var AllCategories = []Category{
	TechnicalExpertise,
	Leadership,
	Communication,
	ProblemSolving,
	Collaboration,
	Mentoring,
	StrategicThinking,
	Creativity,
}

// ParseCategory resolves a category name, ignoring case
func ParseCategory(name string) (Category, bool) {
	for _, c := range AllCategories {
		if strings.EqualFold(string(c), name) {
			return c, true
		}
	}
	return "", false
}

// Mode controls how much analysis runs per session
type Mode string

const (
	// ModeBasic runs audio and speech analysis only
	ModeBasic Mode = "basic"
	// ModeComprehensive adds non-verbal behavior analysis
	ModeComprehensive Mode = "comprehensive"
	// ModeExpert keeps the full utterance as moment evidence
	ModeExpert Mode = "expert"
)

// ParseMode resolves a detection mode name
func ParseMode(name string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(name))) {
	case ModeBasic:
		return ModeBasic, nil
	case ModeComprehensive, "":
		return ModeComprehensive, nil
	case ModeExpert:
		return ModeExpert, nil
	}
	return "", fmt.Errorf("unknown detection mode %q", name)
}

// AnalyzesBehavior reports whether the mode runs the behavior analyzer
func (m Mode) AnalyzesBehavior() bool {
	return m != ModeBasic
}

// SkillMoment records a single demonstration of a skill. Moments are
// never modified once appended to a session.
type SkillMoment struct {
	ID             string        `json:"id"`
	SessionID      string        `json:"session_id"`
	Category       Category      `json:"category"`
	Confidence     float64       `json:"confidence"`
	Context        string        `json:"context"`
	Evidence       string        `json:"evidence"`
	Timestamp      time.Time     `json:"timestamp"`
	Duration       time.Duration `json:"duration"`
	ParticipantIDs []string      `json:"participant_ids"`
}

// CategoryCount pairs a category with its number of moments
type CategoryCount struct {
	Category Category `json:"category"`
	Count    int      `json:"count"`
}

// SessionMetrics is computed once a session is closed
type SessionMetrics struct {
	TotalMoments         int                  `json:"total_moments"`
	MomentsByCategory    map[Category]int     `json:"moments_by_category"`
	ConfidenceByCategory map[Category]float64 `json:"confidence_by_category"`
	AverageConfidence    float64              `json:"average_confidence"`
	ParticipationRate    float64              `json:"participation_rate"`
	TopSkills            []CategoryCount      `json:"top_skills"`
	Duration             time.Duration        `json:"duration"`
}
