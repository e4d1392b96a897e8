package errors

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := New("test error")
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "test error")
	assert.NotEmpty(t, err.Location())
}

func TestWrap(t *testing.T) {
	baseErr := errors.New("base error")
	err := Wrap(baseErr, "wrapped")
	require.NotNil(t, err)

	assert.Contains(t, err.Error(), "wrapped")
	assert.Contains(t, err.Error(), "base error")
	assert.Equal(t, baseErr, errors.Unwrap(err))
	assert.Nil(t, Wrap(nil, "nothing"))
}

func TestWithFieldDoesNotMutateOriginal(t *testing.T) {
	original := New("test error")
	derived := original.WithField("key", "value").WithFields(map[string]interface{}{"n": 2})

	assert.Empty(t, original.GetFields())
	assert.Equal(t, "value", derived.GetFields()["key"])
	assert.Equal(t, 2, derived.GetFields()["n"])
	assert.Equal(t, "X", derived.WithCode("X").GetCode())
}

func TestTaxonomyConstructors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		code   string
	}{
		{"duplicate", NewDuplicateSession("call-1"), ErrDuplicateSession, "DUPLICATE_SESSION"},
		{"unknown", NewUnknownSession("s-1"), ErrUnknownSession, "UNKNOWN_SESSION"},
		{"unavailable", NewSpeechRecognitionUnavailable("mock"), ErrSpeechRecognitionUnavailable, "SPEECH_RECOGNITION_UNAVAILABLE"},
		{"denied", NewSpeechRecognitionDenied("mock"), ErrSpeechRecognitionDenied, "SPEECH_RECOGNITION_DENIED"},
		{"transcription", NewTranscriptionFailed("timeout"), ErrTranscriptionFailed, "TRANSCRIPTION_FAILED"},
		{"signal", NewInvalidSignal("empty text"), ErrInvalidSignal, "INVALID_SIGNAL"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, errors.Is(tc.err, tc.target))
			assert.Equal(t, tc.code, GetErrorCode(tc.err))
		})
	}
}

func TestTranscriptionFailureReason(t *testing.T) {
	assert.Equal(t, "timeout", TranscriptionFailureReason(NewTranscriptionFailed("timeout")))
	assert.Equal(t, "timeout", TranscriptionFailureReason(Wrap(NewTranscriptionFailed("timeout"), "post-session")))
	assert.Equal(t, "", TranscriptionFailureReason(NewUnknownSession("x")))
}

func TestTranscriptionFailureReasonThroughWrappers(t *testing.T) {
	inner := NewTranscriptionFailed("timeout")
	wrapped := Wrap(Wrap(inner, "transcribe", map[string]interface{}{"stage": "transcribing"}), "post-session")
	assert.True(t, errors.Is(wrapped, ErrTranscriptionFailed))
	assert.Equal(t, "timeout", TranscriptionFailureReason(wrapped))

	mixed := fmt.Errorf("end session: %w", Wrap(NewTranscriptionFailed("canceled"), "post-session"))
	assert.Equal(t, "canceled", TranscriptionFailureReason(mixed))
}

func TestHTTPStatusFromError(t *testing.T) {
	testCases := []struct {
		name           string
		err            error
		expectedStatus int
	}{
		{"NotFound", ErrNotFound, http.StatusNotFound},
		{"Wrapped", Wrap(ErrInvalidInput, "wrapped"), http.StatusBadRequest},
		{"Unknown", errors.New("unknown"), http.StatusInternalServerError},
		{"UnknownSession", NewUnknownSession("123"), http.StatusNotFound},
		{"DuplicateSession", NewDuplicateSession("call"), http.StatusConflict},
		{"Denied", NewSpeechRecognitionDenied("google"), http.StatusForbidden},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expectedStatus, HTTPStatusFromError(tc.err))
		})
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, NewUnknownSession("123"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.True(t, strings.Contains(rec.Body.String(), `"session_id": "123"`), rec.Body.String())

	rec = httptest.NewRecorder()
	WriteError(rec, ErrInvalidSignal)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error": "invalid signal"`)
}
