// Package state tracks per-call response turns of the dialogue engine.
package state

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ResponseState represents the state of the engine's current turn.
type ResponseState int

const (
	ResponseStateIdle ResponseState = iota
	// ResponseStateRequested: response.create sent, response.created not seen
	ResponseStateRequested
	ResponseStateInProgress
)

// String returns the string representation of ResponseState.
func (s ResponseState) String() string {
	switch s {
	case ResponseStateIdle:
		return "idle"
	case ResponseStateRequested:
		return "requested"
	case ResponseStateInProgress:
		return "in_progress"
	default:
		return "unknown"
	}
}

// ResponseContext describes the turn currently owned by the engine.
type ResponseContext struct {
	TurnID     string
	ResponseID string
	State      ResponseState
	StartTime  time.Time
}

// ResponseTracker serializes response turns: at most one response.create is
// outstanding, and a request made while a turn is active is parked until the
// engine reports response.done. Parked requests collapse into one.
type ResponseTracker struct {
	mu      sync.Mutex
	current *ResponseContext
	pending bool
}

// NewResponseTracker creates a new ResponseTracker.
func NewResponseTracker() *ResponseTracker {
	return &ResponseTracker{}
}

// Request records the intent to start a turn. It returns true when the caller
// should send response.create now, false when the request was parked behind
// the active turn.
func (rt *ResponseTracker) Request() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.current != nil {
		rt.pending = true
		return false
	}
	rt.start()
	return true
}

func (rt *ResponseTracker) start() {
	rt.current = &ResponseContext{
		TurnID:    "turn_" + uuid.New().String()[:8],
		State:     ResponseStateRequested,
		StartTime: time.Now(),
	}
}

// Created binds the engine's response id to the requested turn.
func (rt *ResponseTracker) Created(responseID string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.current == nil {
		// Engine-initiated turn; track it so requests wait for it too
		rt.start()
	}
	rt.current.ResponseID = responseID
	rt.current.State = ResponseStateInProgress
}

// Done ends the active turn. It returns true when a parked request should be
// sent now; the tracker has already moved to that new turn.
func (rt *ResponseTracker) Done() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.current = nil
	if rt.pending {
		rt.pending = false
		rt.start()
		return true
	}
	return false
}

// Abort drops a requested turn the engine never started, because
// response.create failed to send or was rejected. Like Done, it returns true
// when a parked request should be sent now. Turns already in progress are
// left alone.
func (rt *ResponseTracker) Abort() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.current == nil || rt.current.State != ResponseStateRequested {
		return false
	}
	rt.current = nil
	if rt.pending {
		rt.pending = false
		rt.start()
		return true
	}
	return false
}

// Current returns a copy of the active turn, or nil when idle.
func (rt *ResponseTracker) Current() *ResponseContext {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.current == nil {
		return nil
	}
	ctx := *rt.current
	return &ctx
}

// State returns the state of the active turn.
func (rt *ResponseTracker) State() ResponseState {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.current == nil {
		return ResponseStateIdle
	}
	return rt.current.State
}

// HasPending reports whether a request is parked.
func (rt *ResponseTracker) HasPending() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.pending
}

// Reset drops all state, e.g. when the engine connection is gone.
func (rt *ResponseTracker) Reset() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.current = nil
	rt.pending = false
}
