package signal

// AudioAnalyzer turns raw audio into delivery metrics
type AudioAnalyzer interface {
	AnalyzeAudio(chunk AudioChunk) (AudioMetrics, error)
}

// SpeechAnalyzer turns a transcript fragment into content metrics
type SpeechAnalyzer interface {
	AnalyzeSpeech(chunk SpeechChunk) (SpeechAnalysis, error)
}

// BehaviorAnalyzer turns an observation window into non-verbal metrics
type BehaviorAnalyzer interface {
	AnalyzeBehavior(participantID string, chunk BehaviorChunk) (BehaviorAnalysis, error)
}

// Lifecycle is implemented by analyzers that hold resources for the
// duration of a session (model handles, worker goroutines).
type Lifecycle interface {
	Start() error
	Stop()
}

// Set bundles the analyzers serving one session. A nil member disables
// the corresponding signal kind.
type Set struct {
	Audio    AudioAnalyzer
	Speech   SpeechAnalyzer
	Behavior BehaviorAnalyzer
}

func (s Set) members() []interface{} {
	return []interface{}{s.Audio, s.Speech, s.Behavior}
}

// Start starts every member implementing Lifecycle. Members started before
// a failure are stopped again.
func (s Set) Start() error {
	started := make([]Lifecycle, 0, 3)
	for _, m := range s.members() {
		lc, ok := m.(Lifecycle)
		if !ok || lc == nil {
			continue
		}
		if err := lc.Start(); err != nil {
			for _, prev := range started {
				prev.Stop()
			}
			return err
		}
		started = append(started, lc)
	}
	return nil
}

// Stop stops every member implementing Lifecycle
func (s Set) Stop() {
	for _, m := range s.members() {
		if lc, ok := m.(Lifecycle); ok && lc != nil {
			lc.Stop()
		}
	}
}

// Factory builds the analyzer set for a new session
type Factory func(sessionID string) Set

// HeuristicFactory returns the built-in heuristic analyzers
func HeuristicFactory() Factory {
	return func(string) Set {
		return Set{
			Audio:    NewHeuristicAudioAnalyzer(),
			Speech:   NewKeywordSpeechAnalyzer(),
			Behavior: NewGestureBehaviorAnalyzer(),
		}
	}
}
