package stt

import (
	"context"
	"io"
)

// consentGate denies recognition when recording consent is required but
// was not granted
type consentGate struct {
	Recognizer
	required bool
	granted  bool
}

// WithConsent wraps r so that permission is denied unless consent is
// either not required or granted
func WithConsent(r Recognizer, required, granted bool) Recognizer {
	if !required {
		return r
	}
	return &consentGate{Recognizer: r, required: required, granted: granted}
}

func (g *consentGate) RequestPermission(ctx context.Context) (Permission, error) {
	if g.required && !g.granted {
		return PermissionDenied, nil
	}
	return g.Recognizer.RequestPermission(ctx)
}

func (g *consentGate) Initialize(ctx context.Context) error {
	if init, ok := g.Recognizer.(Initializer); ok {
		return init.Initialize(ctx)
	}
	return nil
}

func (g *consentGate) Close() error {
	if c, ok := g.Recognizer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
