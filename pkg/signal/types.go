package signal

import (
	"math"
	"strings"
	"time"

	"skillcoach-engine/pkg/errors"
)

// Kind identifies which analyzer a signal chunk is routed to
type Kind string

const (
	KindAudio    Kind = "audio"
	KindSpeech   Kind = "speech"
	KindBehavior Kind = "behavior"
)

// AudioChunk is a window of mono PCM samples normalized to [-1, 1]
type AudioChunk struct {
	Samples    []float64 `json:"samples"`
	SampleRate int       `json:"sample_rate"`
}

// SpeechChunk is a recognized utterance fragment from the live transcript
type SpeechChunk struct {
	Text      string        `json:"text"`
	SpeakerID string        `json:"speaker_id"`
	Duration  time.Duration `json:"duration"`
}

// Gesture is a single observed non-verbal cue
type Gesture struct {
	Type      string  `json:"type"`
	Intensity float64 `json:"intensity"`
}

// BehaviorChunk summarizes one observation window of a participant's body language
type BehaviorChunk struct {
	Gestures   []Gesture     `json:"gestures"`
	EyeContact float64       `json:"eye_contact"`
	Posture    float64       `json:"posture"`
	Window     time.Duration `json:"window"`
}

// Signal is the envelope accepted by the registry's ingest path
type Signal struct {
	Kind          Kind           `json:"kind"`
	ParticipantID string         `json:"participant_id"`
	Timestamp     time.Time      `json:"timestamp"`
	Audio         *AudioChunk    `json:"audio,omitempty"`
	Speech        *SpeechChunk   `json:"speech,omitempty"`
	Behavior      *BehaviorChunk `json:"behavior,omitempty"`
}

// Validate checks that the payload matches the declared kind and is usable
func (s *Signal) Validate() error {
	if s == nil {
		return errors.NewInvalidSignal("nil signal")
	}

	fields := map[string]interface{}{"kind": string(s.Kind)}
	switch s.Kind {
	case KindAudio:
		if s.Audio == nil {
			return errors.NewInvalidSignal("audio signal without audio payload", fields)
		}
		if len(s.Audio.Samples) == 0 {
			return errors.NewInvalidSignal("audio chunk has no samples", fields)
		}
		if s.Audio.SampleRate <= 0 {
			return errors.NewInvalidSignal("audio chunk has no sample rate", fields)
		}
		for _, v := range s.Audio.Samples {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return errors.NewInvalidSignal("audio chunk contains non-finite samples", fields)
			}
		}
	case KindSpeech:
		if s.Speech == nil {
			return errors.NewInvalidSignal("speech signal without speech payload", fields)
		}
		if strings.TrimSpace(s.Speech.Text) == "" {
			return errors.NewInvalidSignal("speech chunk has empty text", fields)
		}
	case KindBehavior:
		if s.Behavior == nil {
			return errors.NewInvalidSignal("behavior signal without behavior payload", fields)
		}
		if s.ParticipantID == "" {
			return errors.NewInvalidSignal("behavior chunk has no participant", fields)
		}
	default:
		return errors.NewInvalidSignal("unknown signal kind", fields)
	}
	return nil
}

// Speaker returns the participant the chunk is attributed to
func (s *Signal) Speaker() string {
	if s.Speech != nil && s.Speech.SpeakerID != "" {
		return s.Speech.SpeakerID
	}
	return s.ParticipantID
}

// AudioMetrics is the structured output of an audio analyzer
type AudioMetrics struct {
	Confidence      float64   `json:"confidence"`
	Clarity         float64   `json:"clarity"`
	Energy          float64   `json:"energy"`
	VolumeStability float64   `json:"volume_stability"`
	SpeakingPace    float64   `json:"speaking_pace"`
	PausePattern    float64   `json:"pause_pattern"`
	Timestamp       time.Time `json:"timestamp"`
}

// LeadershipPattern is a detected leadership-language phrase
type LeadershipPattern struct {
	Phrase   string  `json:"phrase"`
	Strength float64 `json:"strength"`
}

// DetectedSkill is a skill the speech analyzer reports natively
type DetectedSkill struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Evidence   string  `json:"evidence"`
}

// SpeechAnalysis is the structured output of a speech analyzer
type SpeechAnalysis struct {
	SpeakerID          string              `json:"speaker_id"`
	Text               string              `json:"text"`
	TechnicalKeywords  []string            `json:"technical_keywords"`
	Complexity         float64             `json:"complexity"`
	ExplanationClarity float64             `json:"explanation_clarity"`
	LeadershipPatterns []LeadershipPattern `json:"leadership_patterns"`
	DetectedSkills     []DetectedSkill     `json:"detected_skills"`
	QuestionCount      int                 `json:"question_count"`
}

// BehaviorAnalysis is the structured output of a behavior analyzer
type BehaviorAnalysis struct {
	ParticipantID     string        `json:"participant_id"`
	LeadershipMarkers []string      `json:"leadership_markers"`
	LeadershipScore   float64       `json:"leadership_score"`
	Engagement        float64       `json:"engagement"`
	Window            time.Duration `json:"window"`
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
