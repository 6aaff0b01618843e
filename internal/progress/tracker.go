// Package progress fans plan and step events out to registered adapter
// callbacks so users see activity during long monologues.
package progress

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// EventType identifies a progress event.
type EventType string

const (
	EventPlan         EventType = "plan"
	EventStepAdded    EventType = "step_added"
	EventProgress     EventType = "progress"
	EventStepComplete EventType = "step_complete"
	EventComplete     EventType = "complete"
	EventError        EventType = "error"
)

// Event is one progress notification.
type Event struct {
	Type      EventType `json:"type"`
	RoomID    string    `json:"room_id,omitempty"`
	Message   string    `json:"message,omitempty"`
	Step      int       `json:"step,omitempty"`
	Total     int       `json:"total,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Callback receives progress events. Callbacks must tolerate being called
// from the monologue goroutine; slow callbacks slow the loop down.
type Callback func(*Event)

// State is the tracker's snapshot, persisted into checkpoints.
type State struct {
	Plan          []string `json:"plan,omitempty"`
	CurrentStep   int      `json:"current_step"`
	TotalSteps    int      `json:"total_steps"`
	LastMessage   string   `json:"last_message,omitempty"`
	LastEventType string   `json:"last_event_type,omitempty"`
}

// Tracker dispatches events to callbacks in registration order. Within one
// origin goroutine dispatch order matches call order; there is no ordering
// guarantee across origins.
type Tracker struct {
	logger *slog.Logger

	mu        sync.Mutex
	callbacks []Callback
	state     State
}

// NewTracker creates an empty tracker.
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{logger: logger.With("component", "progress")}
}

// Register appends a callback. There is no unregister; callbacks live for
// the adapter session.
func (t *Tracker) Register(cb Callback) {
	if cb == nil {
		return
	}
	t.mu.Lock()
	t.callbacks = append(t.callbacks, cb)
	t.mu.Unlock()
}

// Plan announces a new plan and resets step counters.
func (t *Tracker) Plan(roomID string, steps []string) {
	t.mu.Lock()
	t.state.Plan = append([]string(nil), steps...)
	t.state.CurrentStep = 0
	t.state.TotalSteps = len(steps)
	t.mu.Unlock()
	t.dispatch(&Event{Type: EventPlan, RoomID: roomID, Total: len(steps), Message: fmt.Sprintf("%d steps planned", len(steps))})
}

// StepAdded appends one step to the current plan.
func (t *Tracker) StepAdded(roomID, step string) {
	t.mu.Lock()
	t.state.Plan = append(t.state.Plan, step)
	t.state.TotalSteps = len(t.state.Plan)
	total := t.state.TotalSteps
	t.mu.Unlock()
	t.dispatch(&Event{Type: EventStepAdded, RoomID: roomID, Message: step, Total: total})
}

// Update reports activity on the current step.
func (t *Tracker) Update(roomID, message string) {
	t.mu.Lock()
	t.state.LastMessage = message
	step, total := t.state.CurrentStep, t.state.TotalSteps
	t.mu.Unlock()
	t.dispatch(&Event{Type: EventProgress, RoomID: roomID, Message: message, Step: step, Total: total})
}

// StepComplete advances the step counter.
func (t *Tracker) StepComplete(roomID, message string) {
	t.mu.Lock()
	t.state.CurrentStep++
	step, total := t.state.CurrentStep, t.state.TotalSteps
	t.mu.Unlock()
	t.dispatch(&Event{Type: EventStepComplete, RoomID: roomID, Message: message, Step: step, Total: total})
}

// Complete marks the monologue finished.
func (t *Tracker) Complete(roomID, message string) {
	t.dispatch(&Event{Type: EventComplete, RoomID: roomID, Message: message})
}

// Error reports a failure to the adapters.
func (t *Tracker) Error(roomID string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	t.dispatch(&Event{Type: EventError, RoomID: roomID, Error: msg})
}

// Snapshot returns the current state for checkpointing.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	state := t.state
	state.Plan = append([]string(nil), t.state.Plan...)
	return state
}

// Restore replaces the state from a checkpoint.
func (t *Tracker) Restore(state State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = state
}

// dispatch invokes callbacks sequentially in registration order. Callback
// panics and errors are contained; they never reach the loop.
func (t *Tracker) dispatch(event *Event) {
	event.Timestamp = time.Now()
	t.mu.Lock()
	t.state.LastEventType = string(event.Type)
	callbacks := make([]Callback, len(t.callbacks))
	copy(callbacks, t.callbacks)
	t.mu.Unlock()

	for _, cb := range callbacks {
		t.safeCall(cb, event)
	}
}

func (t *Tracker) safeCall(cb Callback, event *Event) {
	defer func() {
		if p := recover(); p != nil {
			t.logger.Warn("progress callback panic", "event_type", event.Type, "panic", p)
		}
	}()
	cb(event)
}
