// Package store persists the artifacts the engine hands off at session
// end: meeting scripts and coaching insights.
package store

import (
	"context"
	stderrors "errors"
	"sync"

	"skillcoach-engine/pkg/coaching"
	"skillcoach-engine/pkg/postsession"
)

// Store accepts both artifact kinds. The engine never reads them back.
type Store interface {
	SaveScript(ctx context.Context, script *postsession.MeetingScript) error
	SaveInsight(ctx context.Context, insight *coaching.Insight) error
}

// MemoryStore keeps artifacts in process memory
type MemoryStore struct {
	mu       sync.RWMutex
	scripts  map[string]*postsession.MeetingScript
	order    []string
	insights []*coaching.Insight
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{scripts: make(map[string]*postsession.MeetingScript)}
}

// SaveScript implements Store
func (m *MemoryStore) SaveScript(_ context.Context, script *postsession.MeetingScript) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scripts[script.SessionID]; !ok {
		m.order = append(m.order, script.SessionID)
	}
	m.scripts[script.SessionID] = script
	return nil
}

// SaveInsight implements Store
func (m *MemoryStore) SaveInsight(_ context.Context, insight *coaching.Insight) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insights = append(m.insights, insight)
	return nil
}

// Script returns the script saved for a session
func (m *MemoryStore) Script(sessionID string) (*postsession.MeetingScript, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scripts[sessionID]
	return s, ok
}

// Scripts returns saved scripts in save order
func (m *MemoryStore) Scripts() []*postsession.MeetingScript {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*postsession.MeetingScript, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.scripts[id])
	}
	return out
}

// Insights returns saved insights in save order
func (m *MemoryStore) Insights() []*coaching.Insight {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*coaching.Insight(nil), m.insights...)
}

// Fanout writes every artifact to each of its stores. All stores are
// attempted; their errors are joined.
type Fanout []Store

// SaveScript implements Store
func (f Fanout) SaveScript(ctx context.Context, script *postsession.MeetingScript) error {
	var errs []error
	for _, s := range f {
		if err := s.SaveScript(ctx, script); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// SaveInsight implements Store
func (f Fanout) SaveInsight(ctx context.Context, insight *coaching.Insight) error {
	var errs []error
	for _, s := range f {
		if err := s.SaveInsight(ctx, insight); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
