package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Generic sentinels shared by every package
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrTimeout      = errors.New("operation timed out")
	ErrCanceled     = errors.New("operation canceled")
)

// Engine error taxonomy
var (
	// Registry misuse. Always reported, never retried.
	ErrDuplicateSession = errors.New("active session already exists for call")
	ErrUnknownSession   = errors.New("unknown session")
	ErrSessionLimit     = errors.New("active session limit reached")

	// Environment and permission failures of the post-session analyzer.
	ErrSpeechRecognitionUnavailable = errors.New("speech recognition unavailable")
	ErrSpeechRecognitionDenied      = errors.New("speech recognition permission denied")
	ErrTranscriptionFailed          = errors.New("transcription failed")

	// Malformed ingestion input. Dropped and logged on the live path.
	ErrInvalidSignal = errors.New("invalid signal")
)

// Error is a structured error carrying context fields, a code and the
// location where it was created.
type Error struct {
	original error
	message  string
	fields   map[string]interface{}
	file     string
	line     int

	// Code is an optional machine readable category
	Code string
}

func newError(skip int, original error, message, code string, fields map[string]interface{}) *Error {
	_, file, line, _ := runtime.Caller(skip)
	if fields == nil {
		fields = make(map[string]interface{})
	}
	return &Error{
		original: original,
		message:  message,
		fields:   fields,
		file:     file,
		line:     line,
		Code:     code,
	}
}

func firstFields(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) > 0 && fields[0] != nil {
		return fields[0]
	}
	return make(map[string]interface{})
}

// New creates a new structured error with the given message
func New(message string, fields ...map[string]interface{}) *Error {
	return newError(2, errors.New(message), message, "", firstFields(fields))
}

// Wrap wraps an existing error with additional context
func Wrap(err error, message string, fields ...map[string]interface{}) *Error {
	if err == nil {
		return nil
	}
	return newError(2, err, message, "", firstFields(fields))
}

func (e *Error) clone(extra int) *Error {
	result := &Error{
		original: e.original,
		message:  e.message,
		fields:   make(map[string]interface{}, len(e.fields)+extra),
		file:     e.file,
		line:     e.line,
		Code:     e.Code,
	}
	for k, v := range e.fields {
		result.fields[k] = v
	}
	return result
}

// WithField returns a copy of the error with an extra context field
func (e *Error) WithField(key string, value interface{}) *Error {
	if e == nil {
		return nil
	}
	result := e.clone(1)
	result.fields[key] = value
	return result
}

// WithFields returns a copy of the error with extra context fields
func (e *Error) WithFields(fields map[string]interface{}) *Error {
	if e == nil {
		return nil
	}
	result := e.clone(len(fields))
	for k, v := range fields {
		result.fields[k] = v
	}
	return result
}

// WithCode returns a copy of the error with the given code
func (e *Error) WithCode(code string) *Error {
	if e == nil {
		return nil
	}
	result := e.clone(0)
	result.Code = code
	return result
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil || e.original == nil {
		return ""
	}
	if e.message == "" || e.message == e.original.Error() {
		return e.original.Error()
	}
	return fmt.Sprintf("%s: %v", e.message, e.original)
}

// Unwrap implements the errors.Unwrap interface
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.original
}

// Is reports whether the wrapped error matches target.
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	if errors.Is(e.original, target) {
		return true
	}
	return e == target
}

// Location returns the file:line where the error was created
func (e *Error) Location() string {
	if e == nil {
		return ""
	}
	parts := strings.Split(e.file, "/")
	return fmt.Sprintf("%s:%d", parts[len(parts)-1], e.line)
}

// GetFields returns the error's context fields
func (e *Error) GetFields() map[string]interface{} {
	if e == nil {
		return nil
	}
	return e.fields
}

// GetCode returns the error's code
func (e *Error) GetCode() string {
	if e == nil {
		return ""
	}
	return e.Code
}

// AsJSON returns the error in JSON-friendly map format
func (e *Error) AsJSON() map[string]interface{} {
	if e == nil {
		return nil
	}
	result := map[string]interface{}{
		"message":  e.Error(),
		"location": e.Location(),
	}
	if e.Code != "" {
		result["code"] = e.Code
	}
	if len(e.fields) > 0 {
		result["context"] = e.fields
	}
	return result
}

// NewNotFound creates an ErrNotFound error with context
func NewNotFound(message string, fields ...map[string]interface{}) *Error {
	return newError(2, ErrNotFound, message, "NOT_FOUND", firstFields(fields))
}

// NewInvalidInput creates an ErrInvalidInput error with context
func NewInvalidInput(message string, fields ...map[string]interface{}) *Error {
	return newError(2, ErrInvalidInput, message, "INVALID_INPUT", firstFields(fields))
}

// NewDuplicateSession reports a second session for a call that is still tracked
func NewDuplicateSession(callID string) *Error {
	return newError(2, ErrDuplicateSession,
		fmt.Sprintf("active session already exists for call %s", callID),
		"DUPLICATE_SESSION", map[string]interface{}{"call_id": callID})
}

// NewUnknownSession reports a session id that is not active
func NewUnknownSession(sessionID string) *Error {
	return newError(2, ErrUnknownSession,
		fmt.Sprintf("unknown session %s", sessionID),
		"UNKNOWN_SESSION", map[string]interface{}{"session_id": sessionID})
}

// NewSessionLimit reports a registry that is at capacity
func NewSessionLimit(max int) *Error {
	return newError(2, ErrSessionLimit,
		fmt.Sprintf("active session limit of %d reached", max),
		"SESSION_LIMIT", map[string]interface{}{"max_active_sessions": max})
}

// NewSpeechRecognitionUnavailable reports a missing recognition capability
func NewSpeechRecognitionUnavailable(provider string) *Error {
	return newError(2, ErrSpeechRecognitionUnavailable,
		fmt.Sprintf("speech recognition unavailable: %s", provider),
		"SPEECH_RECOGNITION_UNAVAILABLE", map[string]interface{}{"provider": provider})
}

// NewSpeechRecognitionDenied reports a refused recognition permission
func NewSpeechRecognitionDenied(provider string) *Error {
	return newError(2, ErrSpeechRecognitionDenied,
		fmt.Sprintf("speech recognition permission denied: %s", provider),
		"SPEECH_RECOGNITION_DENIED", map[string]interface{}{"provider": provider})
}

// NewTranscriptionFailed reports a terminal transcription failure
func NewTranscriptionFailed(reason string) *Error {
	return newError(2, ErrTranscriptionFailed,
		fmt.Sprintf("transcription failed: %s", reason),
		"TRANSCRIPTION_FAILED", map[string]interface{}{"reason": reason})
}

// NewInvalidSignal reports a malformed ingestion chunk
func NewInvalidSignal(details string, fields ...map[string]interface{}) *Error {
	return newError(2, ErrInvalidSignal,
		fmt.Sprintf("invalid signal: %s", details),
		"INVALID_SIGNAL", firstFields(fields))
}

// TranscriptionFailureReason extracts the reason recorded on a
// TranscriptionFailed error, or "" when err is something else.
func TranscriptionFailureReason(err error) string {
	if !errors.Is(err, ErrTranscriptionFailed) {
		return ""
	}
	// wrappers carry their own fields; the reason sits on the innermost
	// TranscriptionFailed error
	for err != nil {
		var serr *Error
		if !errors.As(err, &serr) {
			return ""
		}
		if reason, ok := serr.fields["reason"].(string); ok && reason != "" {
			return reason
		}
		err = serr.Unwrap()
	}
	return ""
}

// IsErrorType checks if an error is of a specific error type
func IsErrorType(err, target error) bool {
	return errors.Is(err, target)
}

// GetErrorCode extracts the error code from an error if it's a structured error
func GetErrorCode(err error) string {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.GetCode()
	}
	return ""
}

// GetErrorFields extracts fields from an error if it's a structured error
func GetErrorFields(err error) map[string]interface{} {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.GetFields()
	}
	return nil
}
