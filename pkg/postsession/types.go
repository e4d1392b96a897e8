// Package postsession turns a finished session's recording into a
// MeetingScript: speaker-attributed transcript, conversation analysis,
// actionable insights and bridging opportunities.
package postsession

import (
	"fmt"
	"time"
)

// State of a post-session analysis
type State int

const (
	StateNotStarted State = iota
	StateTranscribing
	StateAnalyzing
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateTranscribing:
		return "transcribing"
	case StateAnalyzing:
		return "analyzing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// ConversationSegment is one uninterrupted turn of a single speaker
type ConversationSegment struct {
	SpeakerID  string        `json:"speaker_id"`
	Text       string        `json:"text"`
	Start      time.Duration `json:"start"`
	End        time.Duration `json:"end"`
	Confidence float64       `json:"confidence"`
}

// ConversationTranscript is the speaker-attributed transcript of a session
type ConversationTranscript struct {
	Segments   []ConversationSegment `json:"segments"`
	FullText   string                `json:"full_text"`
	Duration   time.Duration         `json:"duration"`
	Confidence float64               `json:"confidence"`
}

// SpeakingTime is the distribution of speaking time per speaker
type SpeakingTime struct {
	ByParticipant   map[string]time.Duration `json:"by_participant"`
	Shares          map[string]float64       `json:"shares"`
	Total           time.Duration            `json:"total"`
	DominantSpeaker string                   `json:"dominant_speaker,omitempty"`
}

// Topic is a keyword category found in the conversation
type Topic struct {
	Name     string   `json:"name"`
	Matches  int      `json:"matches"`
	Keywords []string `json:"keywords"`
}

// Sentiment classification
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// SentimentAnalysis holds the classification and its keyword evidence
type SentimentAnalysis struct {
	Overall          Sentiment `json:"overall"`
	Score            float64   `json:"score"`
	PositiveCount    int       `json:"positive_count"`
	NegativeCount    int       `json:"negative_count"`
	PositiveKeywords []string  `json:"positive_keywords,omitempty"`
	NegativeKeywords []string  `json:"negative_keywords,omitempty"`
}

// Decision is a sentence that records a decision
type Decision struct {
	Text      string        `json:"text"`
	SpeakerID string        `json:"speaker_id"`
	At        time.Duration `json:"at"`
}

// ActionItem is a sentence that commits someone to a follow-up
type ActionItem struct {
	Text  string        `json:"text"`
	Owner string        `json:"owner"`
	At    time.Duration `json:"at"`
}

// Interaction counts turn changes between two speakers in either direction
type Interaction struct {
	A     string `json:"a"`
	B     string `json:"b"`
	Count int    `json:"count"`
}

// Collaboration levels
const (
	CollaborationHigh     = "high"
	CollaborationModerate = "moderate"
	CollaborationLow      = "low"
)

// Leadership patterns
const (
	LeadershipDirective     = "directive"
	LeadershipDistributed   = "distributed"
	LeadershipCollaborative = "collaborative"
	LeadershipNone          = "none"
)

// TeamDynamics summarizes how the participants interacted
type TeamDynamics struct {
	CollaborationLevel   string        `json:"collaboration_level"`
	LeadershipPattern    string        `json:"leadership_pattern"`
	ParticipationBalance float64       `json:"participation_balance"`
	SpeakerDiversity     float64       `json:"speaker_diversity"`
	InteractionDensity   float64       `json:"interaction_density"`
	Interactions         []Interaction `json:"interactions"`
}

// ConversationAnalysis bundles the five analyses of a transcript
type ConversationAnalysis struct {
	SpeakingTime SpeakingTime      `json:"speaking_time"`
	Topics       []Topic           `json:"topics"`
	Sentiment    SentimentAnalysis `json:"sentiment"`
	Decisions    []Decision        `json:"decisions"`
	ActionItems  []ActionItem      `json:"action_items"`
	TeamDynamics TeamDynamics      `json:"team_dynamics"`
	Engagement   float64           `json:"engagement"`
}

// Priority of an insight or impact of an opportunity
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityMedium
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

// MarshalText encodes the priority by name
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a priority name
func (p *Priority) UnmarshalText(text []byte) error {
	switch string(text) {
	case "high":
		*p = PriorityHigh
	case "medium":
		*p = PriorityMedium
	case "low":
		*p = PriorityLow
	default:
		return fmt.Errorf("unknown priority %q", text)
	}
	return nil
}

// InsightType identifies the rule that produced an insight
type InsightType string

const (
	InsightCommunicationBalance InsightType = "communication_balance"
	InsightSkillRecognition     InsightType = "skill_recognition"
	InsightCollaboration        InsightType = "collaboration"
	InsightLeadership           InsightType = "leadership"
	InsightProcess              InsightType = "process"
)

// ActionableInsight is a recommendation for some of the participants
type ActionableInsight struct {
	ID                 string      `json:"id"`
	Type               InsightType `json:"type"`
	Title              string      `json:"title"`
	Description        string      `json:"description"`
	Priority           Priority    `json:"priority"`
	TargetParticipants []string    `json:"target_participants"`
	Actions            []string    `json:"actions,omitempty"`
}

// OpportunityCategory classifies a bridging opportunity
type OpportunityCategory string

const (
	OpportunitySkillGap          OpportunityCategory = "skillGap"
	OpportunityCommunication     OpportunityCategory = "communication"
	OpportunityKnowledgeTransfer OpportunityCategory = "knowledgeTransfer"
	OpportunityCrossFunctional   OpportunityCategory = "crossFunctional"
)

// BridgingOpportunity is a gap between participants that collaboration
// could close
type BridgingOpportunity struct {
	ID           string              `json:"id"`
	Category     OpportunityCategory `json:"category"`
	Description  string              `json:"description"`
	Participants []string            `json:"participants"`
	Impact       Priority            `json:"impact"`
}

// MeetingScript is the terminal artifact of a session
type MeetingScript struct {
	ID            string                 `json:"id"`
	SessionID     string                 `json:"session_id"`
	CallID        string                 `json:"call_id"`
	Transcript    ConversationTranscript `json:"transcript"`
	Analysis      ConversationAnalysis   `json:"analysis"`
	Insights      []ActionableInsight    `json:"insights"`
	Opportunities []BridgingOpportunity  `json:"opportunities"`
	Duration      time.Duration          `json:"duration"`
	GeneratedAt   time.Time              `json:"generated_at"`
}
