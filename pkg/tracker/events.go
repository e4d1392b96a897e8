package tracker

import (
	"sync"
	"time"

	"skillcoach-engine/pkg/skills"
)

// EventType identifies a tracker notification
type EventType string

const (
	EventMomentDetected EventType = "moment_detected"
	EventCelebration    EventType = "celebration"
	EventSessionClosed  EventType = "session_closed"
)

// Event is delivered to subscribers as the session changes
type Event struct {
	Type      EventType           `json:"type"`
	SessionID string              `json:"session_id"`
	Moment    *skills.SkillMoment `json:"moment,omitempty"`
	Time      time.Time           `json:"time"`
}

// Subscribe returns a channel of session events and a func that cancels
// the subscription. Events are dropped for a subscriber whose buffer is
// full. The channel is closed after the session_closed event or on cancel.
func (t *Tracker) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	t.subsMu.Lock()
	if t.subsClosed {
		t.subsMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := t.nextSub
	t.nextSub++
	t.subs[id] = ch
	t.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.subsMu.Lock()
			defer t.subsMu.Unlock()
			if sub, ok := t.subs[id]; ok {
				delete(t.subs, id)
				close(sub)
			}
		})
	}
}

func (t *Tracker) emit(ev Event) {
	t.subsMu.Lock()
	defer t.subsMu.Unlock()
	for id, ch := range t.subs {
		select {
		case ch <- ev:
		default:
			t.logger.WithFields(map[string]interface{}{
				"subscriber": id,
				"event":      ev.Type,
			}).Debug("Subscriber buffer full, dropping event")
		}
	}
}

func (t *Tracker) closeSubscribers() {
	t.subsMu.Lock()
	defer t.subsMu.Unlock()
	t.subsClosed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
