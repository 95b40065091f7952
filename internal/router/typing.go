package router

import (
	"sync"
	"time"

	"github.com/example/chat-realtime/internal/domain"
)

type typingKey struct {
	connID string
	roomID string
}

type typingState struct {
	lastSent time.Time
	pending  *domain.TypingEvent
	timer    *time.Timer
}

// typingThrottle collapses typing bursts: the first update in a window is
// delivered immediately, later updates replace each other and only the
// latest state is flushed when the window elapses.
type typingThrottle struct {
	mu     sync.Mutex
	window time.Duration
	states map[typingKey]*typingState
}

func newTypingThrottle(window time.Duration) *typingThrottle {
	return &typingThrottle{
		window: window,
		states: make(map[typingKey]*typingState),
	}
}

func (t *typingThrottle) submit(connID, roomID string, event domain.TypingEvent, flush func(domain.TypingEvent)) {
	key := typingKey{connID: connID, roomID: roomID}

	t.mu.Lock()
	state, ok := t.states[key]
	if !ok {
		state = &typingState{}
		t.states[key] = state
	}

	now := time.Now()
	if now.Sub(state.lastSent) >= t.window {
		state.lastSent = now
		state.pending = nil
		t.mu.Unlock()
		flush(event)
		return
	}

	state.pending = &event
	if state.timer == nil {
		delay := t.window - now.Sub(state.lastSent)
		state.timer = time.AfterFunc(delay, func() {
			t.mu.Lock()
			state.timer = nil
			pending := state.pending
			state.pending = nil
			if pending != nil {
				state.lastSent = time.Now()
			}
			t.mu.Unlock()

			if pending != nil {
				flush(*pending)
			}
		})
	}
	t.mu.Unlock()
}

// drop releases the throttle state of a closed connection.
func (t *typingThrottle) drop(connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, state := range t.states {
		if key.connID != connID {
			continue
		}
		if state.timer != nil {
			state.timer.Stop()
		}
		delete(t.states, key)
	}
}

func (t *typingThrottle) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, state := range t.states {
		if state.timer != nil {
			state.timer.Stop()
		}
		delete(t.states, key)
	}
}
