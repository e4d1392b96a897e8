// Package coaching implements the real-time coaching advisor: a single
// participant session that turns rolling communication samples into
// prompts and closes with a performance score.
package coaching

import (
	"fmt"
	"strings"
	"time"
)

// Role of the coached participant in the call
type Role string

const (
	RolePresenter   Role = "presenter"
	RoleFacilitator Role = "facilitator"
	RoleParticipant Role = "participant"
	RoleObserver    Role = "observer"
)

// ParseRole resolves a role name, ignoring case
func ParseRole(name string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(name))); r {
	case RolePresenter, RoleFacilitator, RoleParticipant, RoleObserver:
		return r, nil
	}
	return "", fmt.Errorf("unknown coaching role %q", name)
}

// Focus is the coaching theme derived from the role
type Focus string

const (
	FocusPresentation  Focus = "presentation"
	FocusFacilitation  Focus = "facilitation"
	FocusParticipation Focus = "participation"
	FocusObservation   Focus = "observation"
)

// Focus returns the coaching focus for the role
func (r Role) Focus() Focus {
	switch r {
	case RolePresenter:
		return FocusPresentation
	case RoleFacilitator:
		return FocusFacilitation
	case RoleObserver:
		return FocusObservation
	default:
		return FocusParticipation
	}
}

// PromptType identifies why a prompt was emitted
type PromptType string

const (
	PromptRoleGuidance          PromptType = "role_guidance"
	PromptEncouragement         PromptType = "encouragement"
	PromptBalanceSpeaking       PromptType = "balance_speaking"
	PromptPositiveReinforcement PromptType = "positive_reinforcement"
	PromptConfidenceBoost       PromptType = "confidence_boost"
)

// Prompt is one piece of in-call guidance
type Prompt struct {
	ID        string     `json:"id"`
	Type      PromptType `json:"type"`
	Message   string     `json:"message"`
	CreatedAt time.Time  `json:"created_at"`
	Completed bool       `json:"completed"`
}

// CommunicationAnalysis is one rolling sample of the participant's
// communication
type CommunicationAnalysis struct {
	SpeakingRatio   float64   `json:"speaking_ratio"`
	QuestionCount   int       `json:"question_count"`
	ConfidenceScore float64   `json:"confidence_score"`
	OverallScore    float64   `json:"overall_score"`
	EngagementLevel float64   `json:"engagement_level"`
	Timestamp       time.Time `json:"timestamp"`
}

// Session is a snapshot of a coaching session
type Session struct {
	ID               string                  `json:"id"`
	CallID           string                  `json:"call_id"`
	ParticipantID    string                  `json:"participant_id,omitempty"`
	Role             Role                    `json:"role"`
	Focus            Focus                   `json:"focus"`
	StartTime        time.Time               `json:"start_time"`
	EndTime          *time.Time              `json:"end_time,omitempty"`
	Prompts          []Prompt                `json:"prompts"`
	History          []CommunicationAnalysis `json:"history"`
	CompletedPrompts int                     `json:"completed_prompts"`
	TotalPrompts     int                     `json:"total_prompts"`
	PerformanceScore float64                 `json:"performance_score"`
}

// Insight is the persisted summary of a finished coaching session
type Insight struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"session_id"`
	CallID           string    `json:"call_id"`
	ParticipantID    string    `json:"participant_id,omitempty"`
	Role             Role      `json:"role"`
	Focus            Focus     `json:"focus"`
	PerformanceScore float64   `json:"performance_score"`
	Strengths        []string  `json:"strengths"`
	ImprovementAreas []string  `json:"improvement_areas"`
	PromptsCompleted int       `json:"prompts_completed"`
	PromptsTotal     int       `json:"prompts_total"`
	Samples          int       `json:"samples"`
	Duration         float64   `json:"duration_seconds"`
	GeneratedAt      time.Time `json:"generated_at"`
}
