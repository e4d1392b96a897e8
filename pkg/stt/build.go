package stt

import (
	"context"
	"fmt"

	"skillcoach-engine/pkg/config"

	"github.com/sirupsen/logrus"
)

// BuildManager registers the recognizers enabled by the configuration,
// each behind the recording consent gate. It fails when the configured
// provider could not be registered.
func BuildManager(ctx context.Context, cfg config.TranscriptionConfig, logger *logrus.Logger) (*Manager, error) {
	m := NewManager(logger, cfg.Provider)
	gate := func(r Recognizer) Recognizer {
		return WithConsent(r, cfg.ConsentRequired, cfg.ConsentGranted)
	}

	candidates := []Recognizer{
		gate(NewFileRecognizer(logger)),
		gate(NewMockRecognizer()),
	}
	if cfg.Google.Enabled {
		candidates = append(candidates, gate(NewGoogleRecognizer(logger, cfg)))
	}
	if cfg.Amazon.Enabled {
		candidates = append(candidates, gate(NewAmazonRecognizer(logger, cfg)))
	}

	for _, r := range candidates {
		if err := m.Register(ctx, r); err != nil && r.Name() == cfg.Provider {
			return nil, fmt.Errorf("register %s recognizer: %w", r.Name(), err)
		}
	}

	if _, err := m.Default(); err != nil {
		return nil, fmt.Errorf("speech recognizer %q: %w", cfg.Provider, err)
	}
	return m, nil
}
