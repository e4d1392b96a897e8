package coaching

import (
	"context"
	"sync"
	"time"

	"skillcoach-engine/pkg/collab"
	"skillcoach-engine/pkg/errors"
	"skillcoach-engine/pkg/metrics"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultHistoryLimit bounds the retained communication samples
const DefaultHistoryLimit = 50

// InsightStore persists finished coaching insights
type InsightStore interface {
	SaveInsight(ctx context.Context, insight *Insight) error
}

// Options carries the collaborators of an Advisor
type Options struct {
	Store        InsightStore
	Career       collab.CareerAdvisor
	HistoryLimit int
	Logger       *logrus.Logger
	Clock        func() time.Time
	NewID        func() string
}

type session struct {
	mu   sync.Mutex
	info Session

	// running sums over every sample, including those trimmed from history
	samples       int
	sumOverall    float64
	sumEngagement float64
	sumRatio      float64
	sumConfidence float64
}

// Advisor manages coaching sessions. Sessions are independent of skill
// tracking and of each other.
type Advisor struct {
	store        InsightStore
	career       collab.CareerAdvisor
	historyLimit int
	logger       *logrus.Entry
	now          func() time.Time
	newID        func() string

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewAdvisor creates an advisor
func NewAdvisor(opts Options) *Advisor {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	limit := opts.HistoryLimit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	career := opts.Career
	if career == nil {
		career = collab.NoopCareerAdvisor{}
	}
	return &Advisor{
		store:        opts.Store,
		career:       career,
		historyLimit: limit,
		logger:       logger.WithField("component", "coaching"),
		now:          clock,
		newID:        newID,
		sessions:     make(map[string]*session),
	}
}

// Start opens a coaching session and emits the role's initial prompts
func (a *Advisor) Start(callID, participantID string, role Role) (Session, error) {
	if callID == "" {
		return Session{}, errors.NewInvalidInput("call id is required")
	}
	if _, err := ParseRole(string(role)); err != nil {
		return Session{}, errors.NewInvalidInput(err.Error(), map[string]interface{}{"role": role})
	}

	now := a.now()
	s := &session{info: Session{
		ID:            a.newID(),
		CallID:        callID,
		ParticipantID: participantID,
		Role:          role,
		Focus:         role.Focus(),
		StartTime:     now,
		Prompts:       []Prompt{},
		History:       []CommunicationAnalysis{},
	}}
	for _, msg := range rolePrompts[role] {
		s.addPrompt(a.newID(), PromptRoleGuidance, msg, now)
	}

	a.mu.Lock()
	a.sessions[s.info.ID] = s
	a.mu.Unlock()

	metrics.CoachingSessionStarted()
	a.logger.WithFields(logrus.Fields{
		"session_id": s.info.ID,
		"call_id":    callID,
		"role":       role,
	}).Info("Coaching session started")

	return s.snapshot(), nil
}

func (s *session) addPrompt(id string, kind PromptType, message string, at time.Time) Prompt {
	p := Prompt{ID: id, Type: kind, Message: message, CreatedAt: at}
	s.info.Prompts = append(s.info.Prompts, p)
	s.info.TotalPrompts++
	metrics.RecordCoachingPrompt(string(kind))
	return p
}

func (s *session) snapshot() Session {
	out := s.info
	out.Prompts = append([]Prompt(nil), s.info.Prompts...)
	out.History = append([]CommunicationAnalysis(nil), s.info.History...)
	if s.info.EndTime != nil {
		end := *s.info.EndTime
		out.EndTime = &end
	}
	return out
}

func (s *session) summary() summary {
	sum := summary{samples: s.samples}
	if s.samples > 0 {
		n := float64(s.samples)
		sum.meanOverall = s.sumOverall / n
		sum.meanEngagement = s.sumEngagement / n
		sum.meanRatio = s.sumRatio / n
		sum.meanConfidence = s.sumConfidence / n
	}
	if s.info.TotalPrompts > 0 {
		sum.completion = float64(s.info.CompletedPrompts) / float64(s.info.TotalPrompts)
	}
	return sum
}

func (a *Advisor) lookup(id string) (*session, error) {
	a.mu.RLock()
	s, ok := a.sessions[id]
	a.mu.RUnlock()
	if !ok {
		return nil, errors.NewUnknownSession(id)
	}
	return s, nil
}

// ProcessInput records a communication sample and returns the prompts it
// triggered
func (a *Advisor) ProcessInput(sessionID string, input CommunicationAnalysis) ([]Prompt, error) {
	s, err := a.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	now := a.now()
	if input.Timestamp.IsZero() {
		input.Timestamp = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.info.EndTime != nil {
		return nil, errors.NewUnknownSession(sessionID)
	}

	s.samples++
	s.sumOverall += input.OverallScore
	s.sumEngagement += input.EngagementLevel
	s.sumRatio += input.SpeakingRatio
	s.sumConfidence += input.ConfidenceScore

	s.info.History = append(s.info.History, input)
	if over := len(s.info.History) - a.historyLimit; over > 0 {
		s.info.History = append([]CommunicationAnalysis(nil), s.info.History[over:]...)
	}

	prompts := []Prompt{}
	for _, tpl := range samplePrompts(input) {
		prompts = append(prompts, s.addPrompt(a.newID(), tpl.kind, tpl.message, now))
	}
	if len(prompts) > 0 {
		a.logger.WithFields(logrus.Fields{
			"session_id": sessionID,
			"prompts":    len(prompts),
		}).Debug("Coaching prompts emitted")
	}
	return prompts, nil
}

// CompletePrompt marks a prompt as acted upon. Completing a prompt twice
// counts once.
func (a *Advisor) CompletePrompt(sessionID, promptID string) error {
	s, err := a.lookup(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.info.Prompts {
		if s.info.Prompts[i].ID != promptID {
			continue
		}
		if !s.info.Prompts[i].Completed {
			s.info.Prompts[i].Completed = true
			s.info.CompletedPrompts++
		}
		return nil
	}
	return errors.NewNotFound("prompt not found", map[string]interface{}{
		"session_id": sessionID,
		"prompt_id":  promptID,
	})
}

// Session returns a snapshot of an active coaching session
func (a *Advisor) Session(id string) (Session, bool) {
	s, err := a.lookup(id)
	if err != nil {
		return Session{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(), true
}

// ActiveCount returns the number of open coaching sessions
func (a *Advisor) ActiveCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.sessions)
}

// End closes the session, computes its performance score, persists the
// resulting insight and refreshes career recommendations. Collaborator
// failures are logged; the insight is returned regardless.
func (a *Advisor) End(ctx context.Context, sessionID string) (*Insight, error) {
	a.mu.Lock()
	s, ok := a.sessions[sessionID]
	if ok {
		delete(a.sessions, sessionID)
	}
	a.mu.Unlock()
	if !ok {
		return nil, errors.NewUnknownSession(sessionID)
	}

	now := a.now()
	s.mu.Lock()
	s.info.EndTime = &now
	sum := s.summary()
	score := performanceScore(sum.meanOverall, sum.meanEngagement, s.info.CompletedPrompts, s.info.TotalPrompts)
	s.info.PerformanceScore = score
	strengths, improvements := assess(sum)
	insight := &Insight{
		ID:               a.newID(),
		SessionID:        s.info.ID,
		CallID:           s.info.CallID,
		ParticipantID:    s.info.ParticipantID,
		Role:             s.info.Role,
		Focus:            s.info.Focus,
		PerformanceScore: score,
		Strengths:        strengths,
		ImprovementAreas: improvements,
		PromptsCompleted: s.info.CompletedPrompts,
		PromptsTotal:     s.info.TotalPrompts,
		Samples:          s.samples,
		Duration:         now.Sub(s.info.StartTime).Seconds(),
		GeneratedAt:      now,
	}
	s.mu.Unlock()

	metrics.CoachingSessionEnded(score)
	logger := a.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"call_id":    insight.CallID,
		"score":      score,
	})
	logger.Info("Coaching session ended")

	if a.store != nil {
		if err := a.store.SaveInsight(ctx, insight); err != nil {
			logger.WithError(err).Warn("Failed to store coaching insight")
		}
	}

	participant := insight.ParticipantID
	if participant == "" {
		participant = insight.CallID
	}
	if err := a.career.RefreshRecommendations(ctx, participant, string(insight.Focus), score); err != nil {
		logger.WithError(err).Warn("Failed to refresh career recommendations")
	}
	return insight, nil
}

// Close ends every open session
func (a *Advisor) Close(ctx context.Context) {
	a.mu.RLock()
	ids := make([]string, 0, len(a.sessions))
	for id := range a.sessions {
		ids = append(ids, id)
	}
	a.mu.RUnlock()

	for _, id := range ids {
		if _, err := a.End(ctx, id); err != nil {
			a.logger.WithError(err).WithField("session_id", id).Debug("Coaching session already ended")
		}
	}
}
