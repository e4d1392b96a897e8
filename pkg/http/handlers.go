package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"skillcoach-engine/pkg/coaching"
	"skillcoach-engine/pkg/errors"
	"skillcoach-engine/pkg/registry"
	"skillcoach-engine/pkg/signal"

	"github.com/sirupsen/logrus"
)

// decodeJSON reads a size-limited JSON body into v
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body := http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		return errors.NewInvalidInput("malformed JSON body", map[string]interface{}{"cause": err.Error()})
	}
	return nil
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req registry.CreateRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.ErrorResponse(w, err)
		return
	}

	session, err := s.services.Sessions.CreateSession(r.Context(), req)
	if err != nil {
		s.ErrorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.services.Sessions.Session(r.PathValue("id"))
	if err != nil {
		s.ErrorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// ingestResult reports how many signals of a batch were queued
type ingestResult struct {
	Accepted int `json:"accepted"`
	Dropped  int `json:"dropped"`
}

// ingestSignals accepts a single signal object or an array of them.
// Dropped signals never fail the request.
func (s *Server) ingestSignals(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
	if err != nil {
		s.ErrorResponse(w, errors.NewInvalidInput("failed to read request body", map[string]interface{}{"cause": err.Error()}))
		return
	}

	var signals []*signal.Signal
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &signals)
	} else {
		var single signal.Signal
		err = json.Unmarshal(trimmed, &single)
		signals = append(signals, &single)
	}
	if err != nil {
		s.ErrorResponse(w, errors.NewInvalidInput("malformed signal payload", map[string]interface{}{"cause": err.Error()}))
		return
	}

	var result ingestResult
	for _, sig := range signals {
		if s.services.Sessions.Ingest(id, sig) {
			result.Accepted++
		} else {
			result.Dropped++
		}
	}
	if result.Dropped > 0 {
		s.logger.WithFields(logrus.Fields{
			"session_id": id,
			"dropped":    result.Dropped,
		}).Debug("Signals dropped on ingest")
	}
	writeJSON(w, http.StatusAccepted, result)
}

// endSession blocks until the post-session analysis finishes. A failed
// analysis still returns the live-phase outcome with summary_available=false.
func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	outcome, err := s.services.Sessions.EndSession(r.Context(), r.PathValue("id"))
	if outcome == nil {
		s.ErrorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) getLive(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.services.Sessions.Live(r.PathValue("id"))
	if err != nil {
		s.ErrorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) getMoments(w http.ResponseWriter, r *http.Request) {
	moments, err := s.services.Sessions.Moments(r.PathValue("id"))
	if err != nil {
		s.ErrorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"moments": moments,
		"count":   len(moments),
	})
}

func (s *Server) getIndicators(w http.ResponseWriter, r *http.Request) {
	indicators, err := s.services.Sessions.Indicators(r.PathValue("id"))
	if err != nil {
		s.ErrorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, indicators)
}

type startCoachingRequest struct {
	CallID        string `json:"call_id"`
	ParticipantID string `json:"participant_id"`
	Role          string `json:"role"`
}

func (s *Server) startCoaching(w http.ResponseWriter, r *http.Request) {
	var req startCoachingRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.ErrorResponse(w, err)
		return
	}
	role, err := coaching.ParseRole(req.Role)
	if err != nil {
		s.ErrorResponse(w, errors.NewInvalidInput(err.Error(), map[string]interface{}{"role": req.Role}))
		return
	}

	session, err := s.services.Coaching.Start(req.CallID, req.ParticipantID, role)
	if err != nil {
		s.ErrorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) getCoaching(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	session, ok := s.services.Coaching.Session(id)
	if !ok {
		s.ErrorResponse(w, errors.NewUnknownSession(id))
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) coachingInput(w http.ResponseWriter, r *http.Request) {
	var input coaching.CommunicationAnalysis
	if err := s.decodeJSON(w, r, &input); err != nil {
		s.ErrorResponse(w, err)
		return
	}

	prompts, err := s.services.Coaching.ProcessInput(r.PathValue("id"), input)
	if err != nil {
		s.ErrorResponse(w, err)
		return
	}
	if prompts == nil {
		prompts = []coaching.Prompt{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"prompts": prompts})
}

func (s *Server) completePrompt(w http.ResponseWriter, r *http.Request) {
	if err := s.services.Coaching.CompletePrompt(r.PathValue("id"), r.PathValue("promptID")); err != nil {
		s.ErrorResponse(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) endCoaching(w http.ResponseWriter, r *http.Request) {
	insight, err := s.services.Coaching.End(r.Context(), r.PathValue("id"))
	if err != nil {
		s.ErrorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, insight)
}
