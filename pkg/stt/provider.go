// Package stt provides the speech recognition capability used after a
// session ends to transcribe the call recording.
package stt

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Permission is the answer to a recognition permission request
type Permission int

const (
	PermissionDenied Permission = iota
	PermissionGranted
)

func (p Permission) String() string {
	if p == PermissionGranted {
		return "granted"
	}
	return "denied"
}

// Segment is one recognized utterance
type Segment struct {
	SpeakerID  string        `json:"speaker_id"`
	Text       string        `json:"text"`
	Start      time.Duration `json:"start"`
	End        time.Duration `json:"end"`
	Confidence float64       `json:"confidence"`
}

// Update is one element of a transcription stream. Partial updates carry
// PartialText and a provider progress estimate in [0,1] when one is known.
// The final update carries every recognized segment. An update with Err
// set terminates the stream.
type Update struct {
	PartialText string
	Progress    float64
	Segments    []Segment
	IsFinal     bool
	Err         error
}

// Recognizer transcribes call recordings
type Recognizer interface {
	// Name returns the recognizer name
	Name() string

	// IsAvailable reports whether recognition can run at all
	IsAvailable(ctx context.Context) bool

	// RequestPermission asks for permission to transcribe recordings
	RequestPermission(ctx context.Context) (Permission, error)

	// Transcribe starts recognition of the recording. The returned channel
	// is closed after the final update, after an error update, or when ctx
	// is done.
	Transcribe(ctx context.Context, audioRef string, partialResults bool) (<-chan Update, error)
}

// Initializer is implemented by recognizers that need a client before use
type Initializer interface {
	Initialize(ctx context.Context) error
}

// Manager manages the registered recognizers
type Manager struct {
	logger      *logrus.Logger
	mu          sync.RWMutex
	recognizers map[string]Recognizer
	defaultName string
}

// NewManager creates a new recognizer manager
func NewManager(logger *logrus.Logger, defaultName string) *Manager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{
		logger:      logger,
		recognizers: make(map[string]Recognizer),
		defaultName: defaultName,
	}
}

// Register initializes the recognizer when needed and makes it available
// by name
func (m *Manager) Register(ctx context.Context, r Recognizer) error {
	if init, ok := r.(Initializer); ok {
		if err := init.Initialize(ctx); err != nil {
			m.logger.WithFields(logrus.Fields{
				"recognizer": r.Name(),
				"error":      err,
			}).Error("Failed to initialize speech recognizer")
			return err
		}
	}

	m.mu.Lock()
	m.recognizers[r.Name()] = r
	m.mu.Unlock()

	m.logger.WithField("recognizer", r.Name()).Info("Registered speech recognizer")
	return nil
}

// Get returns a recognizer by name
func (m *Manager) Get(name string) (Recognizer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.recognizers[name]
	return r, ok
}

// Default returns the default recognizer
func (m *Manager) Default() (Recognizer, error) {
	if r, ok := m.Get(m.defaultName); ok {
		return r, nil
	}
	m.mu.RLock()
	empty := len(m.recognizers) == 0
	m.mu.RUnlock()
	if empty {
		return nil, ErrNoRecognizerAvailable
	}
	return nil, ErrRecognizerNotFound
}

// Names returns the registered recognizer names in sorted order
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.recognizers))
	for name := range m.recognizers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases the clients held by registered recognizers
func (m *Manager) Close() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for name, r := range m.recognizers {
		c, ok := r.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			m.logger.WithError(err).WithField("recognizer", name).Warn("Failed to close speech recognizer")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// sendUpdate delivers u unless ctx is done first
func sendUpdate(ctx context.Context, ch chan<- Update, u Update) bool {
	select {
	case ch <- u:
		return true
	case <-ctx.Done():
		return false
	}
}
