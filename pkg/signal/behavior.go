package signal

import "time"

// DefaultObservationWindow is used when a behavior chunk omits its window
const DefaultObservationWindow = 5 * time.Second

var leadershipGestures = map[string]bool{
	"open_palm":       true,
	"steepling":       true,
	"directing":       true,
	"standing":        true,
	"leaning_forward": true,
}

const markerIntensityFloor = 0.3

// GestureBehaviorAnalyzer scores leadership presence from gesture markers,
// eye contact and posture.
type GestureBehaviorAnalyzer struct{}

// NewGestureBehaviorAnalyzer creates the default behavior analyzer
func NewGestureBehaviorAnalyzer() *GestureBehaviorAnalyzer {
	return &GestureBehaviorAnalyzer{}
}

// AnalyzeBehavior implements BehaviorAnalyzer
func (a *GestureBehaviorAnalyzer) AnalyzeBehavior(participantID string, chunk BehaviorChunk) (BehaviorAnalysis, error) {
	window := chunk.Window
	if window <= 0 {
		window = DefaultObservationWindow
	}

	result := BehaviorAnalysis{
		ParticipantID: participantID,
		Window:        window,
	}

	var intensity float64
	for _, g := range chunk.Gestures {
		if leadershipGestures[g.Type] && g.Intensity >= markerIntensityFloor {
			result.LeadershipMarkers = append(result.LeadershipMarkers, g.Type)
			intensity += clamp01(g.Intensity)
		}
	}

	eye := clamp01(chunk.EyeContact)
	posture := clamp01(chunk.Posture)
	if n := len(result.LeadershipMarkers); n > 0 {
		result.LeadershipScore = clamp01(0.5*intensity/float64(n) + 0.25*eye + 0.25*posture)
	}
	result.Engagement = clamp01(0.4*eye + 0.3*posture + 0.3*float64(len(chunk.Gestures))/5)

	return result, nil
}
