package stt

import (
	"errors"
)

// Error definitions
var (
	ErrNoRecognizerAvailable = errors.New("no speech recognizer available")
	ErrRecognizerNotFound    = errors.New("requested speech recognizer not found")
	ErrInitializationFailed  = errors.New("recognizer initialization failed")
	ErrNoSegments            = errors.New("recognizer returned no segments")
)
