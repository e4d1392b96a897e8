package signal

import (
	"sync"
	"sync/atomic"
)

// MockAnalyzer is a deterministic stand-in for all three analyzer kinds.
// Each call returns the scripted output unless the matching func is set.
type MockAnalyzer struct {
	mu sync.Mutex

	AudioResult    AudioMetrics
	SpeechResult   SpeechAnalysis
	BehaviorResult BehaviorAnalysis
	Err            error

	AudioFunc    func(AudioChunk) (AudioMetrics, error)
	SpeechFunc   func(SpeechChunk) (SpeechAnalysis, error)
	BehaviorFunc func(string, BehaviorChunk) (BehaviorAnalysis, error)

	StartErr error
	started  atomic.Bool
	stopped  atomic.Bool
	calls    atomic.Int64
}

// NewMockAnalyzer creates a mock returning zero values
func NewMockAnalyzer() *MockAnalyzer {
	return &MockAnalyzer{}
}

// Set returns an analyzer set where every kind is served by this mock
func (m *MockAnalyzer) Set() Set {
	return Set{Audio: m, Speech: m, Behavior: m}
}

// Factory returns a factory handing out this mock for every session
func (m *MockAnalyzer) Factory() Factory {
	return func(string) Set { return m.Set() }
}

// AnalyzeAudio implements AudioAnalyzer
func (m *MockAnalyzer) AnalyzeAudio(chunk AudioChunk) (AudioMetrics, error) {
	m.calls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AudioFunc != nil {
		return m.AudioFunc(chunk)
	}
	return m.AudioResult, m.Err
}

// AnalyzeSpeech implements SpeechAnalyzer
func (m *MockAnalyzer) AnalyzeSpeech(chunk SpeechChunk) (SpeechAnalysis, error) {
	m.calls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SpeechFunc != nil {
		return m.SpeechFunc(chunk)
	}
	result := m.SpeechResult
	if result.SpeakerID == "" {
		result.SpeakerID = chunk.SpeakerID
	}
	if result.Text == "" {
		result.Text = chunk.Text
	}
	return result, m.Err
}

// AnalyzeBehavior implements BehaviorAnalyzer
func (m *MockAnalyzer) AnalyzeBehavior(participantID string, chunk BehaviorChunk) (BehaviorAnalysis, error) {
	m.calls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BehaviorFunc != nil {
		return m.BehaviorFunc(participantID, chunk)
	}
	result := m.BehaviorResult
	if result.ParticipantID == "" {
		result.ParticipantID = participantID
	}
	return result, m.Err
}

// Start implements Lifecycle
func (m *MockAnalyzer) Start() error {
	if m.StartErr != nil {
		return m.StartErr
	}
	m.started.Store(true)
	return nil
}

// Stop implements Lifecycle
func (m *MockAnalyzer) Stop() {
	m.stopped.Store(true)
}

// Started reports whether Start succeeded
func (m *MockAnalyzer) Started() bool { return m.started.Load() }

// Stopped reports whether Stop was called
func (m *MockAnalyzer) Stopped() bool { return m.stopped.Load() }

// Calls returns the number of analyze calls served
func (m *MockAnalyzer) Calls() int64 { return m.calls.Load() }
