// Package collab declares the external collaborators the engine talks to
// and provides in-process implementations of them.
package collab

import (
	"context"
	"sync"
)

// Gamification receives skill-demonstration events. Calls are fire and
// forget; the returned error is only logged.
type Gamification interface {
	AwardXP(ctx context.Context, action string, details map[string]interface{}, multiplier float64) error
}

// Participant is the directory entry for a call participant
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	Department  string `json:"department"`
}

// Directory resolves participant ids for human-readable labels
type Directory interface {
	Lookup(ctx context.Context, participantID string) (Participant, bool)
}

// CareerAdvisor refreshes career-path recommendations after coaching
type CareerAdvisor interface {
	RefreshRecommendations(ctx context.Context, participantID string, focus string, performance float64) error
}

// DisplayName returns the directory name of a participant or its id
func DisplayName(ctx context.Context, dir Directory, participantID string) string {
	if dir == nil {
		return participantID
	}
	if p, ok := dir.Lookup(ctx, participantID); ok && p.DisplayName != "" {
		return p.DisplayName
	}
	return participantID
}

// NoopGamification discards XP events
type NoopGamification struct{}

// AwardXP implements Gamification
func (NoopGamification) AwardXP(context.Context, string, map[string]interface{}, float64) error {
	return nil
}

// XPEvent is one recorded AwardXP call
type XPEvent struct {
	Action     string
	Context    map[string]interface{}
	Multiplier float64
}

// MemoryGamification records XP events in memory
type MemoryGamification struct {
	mu     sync.Mutex
	events []XPEvent
}

// NewMemoryGamification creates an empty recorder
func NewMemoryGamification() *MemoryGamification {
	return &MemoryGamification{}
}

// AwardXP implements Gamification
func (g *MemoryGamification) AwardXP(_ context.Context, action string, details map[string]interface{}, multiplier float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events = append(g.events, XPEvent{Action: action, Context: details, Multiplier: multiplier})
	return nil
}

// Events returns a copy of the recorded events
func (g *MemoryGamification) Events() []XPEvent {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]XPEvent(nil), g.events...)
}

// StaticDirectory is a fixed in-memory directory
type StaticDirectory map[string]Participant

// NewStaticDirectory indexes the given participants by id
func NewStaticDirectory(participants ...Participant) StaticDirectory {
	dir := make(StaticDirectory, len(participants))
	for _, p := range participants {
		dir[p.ID] = p
	}
	return dir
}

// Lookup implements Directory
func (d StaticDirectory) Lookup(_ context.Context, participantID string) (Participant, bool) {
	p, ok := d[participantID]
	return p, ok
}

// NoopCareerAdvisor ignores refresh requests
type NoopCareerAdvisor struct{}

// RefreshRecommendations implements CareerAdvisor
func (NoopCareerAdvisor) RefreshRecommendations(context.Context, string, string, float64) error {
	return nil
}
