// Package progress carries pipeline progress events from the stages to
// whoever is watching: the CLI, the job runner and websocket clients.
package progress

import (
	"sync"
	"time"
)

// Event is one progress report. Progress is a percentage of the step.
type Event struct {
	SessionID string    `json:"session_id,omitempty"`
	JobID     string    `json:"job_id,omitempty"`
	Step      string    `json:"step"`
	Message   string    `json:"message"`
	Progress  int       `json:"progress"`
	Detail    string    `json:"detail,omitempty"`
	Time      time.Time `json:"time"`
}

// Func receives progress events. A nil Func discards them.
type Func func(Event)

// Emit calls f when it is set.
func (f Func) Emit(e Event) {
	if f == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	f(e)
}

// Percent returns done/total as a rounded percentage clamped to 0..100.
func Percent(done, total int) int {
	if total <= 0 {
		return 0
	}
	p := (done*200 + total) / (2 * total)
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Hub fans events out to subscribers and remembers the latest event per
// session.
type Hub struct {
	mu     sync.RWMutex
	subs   map[chan Event]struct{}
	latest map[string]Event
}

func NewHub() *Hub {
	return &Hub{
		subs:   make(map[chan Event]struct{}),
		latest: make(map[string]Event),
	}
}

// Publish delivers e to every subscriber. Slow subscribers drop events
// rather than block the pipeline.
func (h *Hub) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	h.mu.Lock()
	if e.SessionID != "" {
		h.latest[e.SessionID] = e
	}
	h.mu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns a buffered event channel and a cancel function that
// closes it.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Latest returns the most recent event for a session.
func (h *Hub) Latest(sessionID string) (Event, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.latest[sessionID]
	return e, ok
}
