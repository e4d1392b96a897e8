package stt

import (
	"context"
	"sync"
	"time"
)

// MockRecognizer replays scripted updates. The zero value is available,
// grants permission and produces an empty final result.
type MockRecognizer struct {
	Unavailable   bool
	Deny          bool
	PermissionErr error
	TranscribeErr error

	// Updates are replayed in order; a final update is appended when none
	// of them is final unless HoldOpen is set
	Updates []Update

	// Delay between updates
	Delay time.Duration

	// HoldOpen keeps the stream open after the scripted updates until the
	// context is done
	HoldOpen bool

	mu       sync.Mutex
	audioRef []string
	partial  []bool
}

// NewMockRecognizer returns a recognizer that emits one partial update per
// segment followed by a final update with all of them
func NewMockRecognizer(segments ...Segment) *MockRecognizer {
	m := &MockRecognizer{}
	for i, seg := range segments {
		m.Updates = append(m.Updates, Update{
			PartialText: seg.Text,
			Progress:    float64(i+1) / float64(len(segments)+1),
		})
	}
	m.Updates = append(m.Updates, Update{Segments: segments, IsFinal: true, Progress: 1})
	return m
}

// Name returns the recognizer name
func (m *MockRecognizer) Name() string {
	return "mock"
}

// IsAvailable implements Recognizer
func (m *MockRecognizer) IsAvailable(context.Context) bool {
	return !m.Unavailable
}

// RequestPermission implements Recognizer
func (m *MockRecognizer) RequestPermission(context.Context) (Permission, error) {
	if m.PermissionErr != nil {
		return PermissionDenied, m.PermissionErr
	}
	if m.Deny {
		return PermissionDenied, nil
	}
	return PermissionGranted, nil
}

// Transcribe implements Recognizer
func (m *MockRecognizer) Transcribe(ctx context.Context, audioRef string, partialResults bool) (<-chan Update, error) {
	m.mu.Lock()
	m.audioRef = append(m.audioRef, audioRef)
	m.partial = append(m.partial, partialResults)
	m.mu.Unlock()

	if m.TranscribeErr != nil {
		return nil, m.TranscribeErr
	}

	updates := append([]Update(nil), m.Updates...)
	hasFinal := false
	for _, u := range updates {
		if u.IsFinal || u.Err != nil {
			hasFinal = true
		}
	}
	if !hasFinal && !m.HoldOpen {
		updates = append(updates, Update{IsFinal: true, Progress: 1})
	}

	ch := make(chan Update)
	go func() {
		defer close(ch)
		for _, u := range updates {
			if m.Delay > 0 {
				select {
				case <-time.After(m.Delay):
				case <-ctx.Done():
					return
				}
			}
			if !u.IsFinal && u.Err == nil && !partialResults {
				continue
			}
			if !sendUpdate(ctx, ch, u) {
				return
			}
			if u.IsFinal || u.Err != nil {
				return
			}
		}
		if m.HoldOpen {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

// Requests returns the audio references passed to Transcribe
func (m *MockRecognizer) Requests() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.audioRef...)
}

// PartialResultsRequested reports whether every Transcribe call asked for
// partial results
func (m *MockRecognizer) PartialResultsRequested() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.partial) == 0 {
		return false
	}
	for _, p := range m.partial {
		if !p {
			return false
		}
	}
	return true
}
