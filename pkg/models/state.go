package models

import (
	"fmt"
	"sync"
)

// JobState is a step in the lifecycle of an EncodeJob on a worker
type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStatePreparing JobState = "preparing" // building arguments, copying input
	JobStateEncoding  JobState = "encoding"
	JobStateFinishing JobState = "finishing" // threshold check, retrieving output
	JobStateDone      JobState = "done"
	JobStateVetoed    JobState = "vetoed"
	JobStateFailed    JobState = "failed"
)

var validTransitions = map[JobState]map[JobState]bool{
	JobStateQueued: {
		JobStatePreparing: true,
		JobStateFailed:    true,
	},
	JobStatePreparing: {
		JobStateEncoding: true,
		JobStateDone:     true, // dry run
		JobStateFailed:   true,
	},
	JobStateEncoding: {
		JobStateFinishing: true,
		JobStateVetoed:    true,
		JobStateFailed:    true,
	},
	JobStateFinishing: {
		JobStateDone:   true,
		JobStateVetoed: true, // size threshold missed after completion
		JobStateFailed: true,
	},
	JobStateDone:   {},
	JobStateVetoed: {},
	JobStateFailed: {},
}

// CanTransition reports whether from -> to is a legal move
func CanTransition(from, to JobState) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	return allowed[to]
}

// IsTerminal reports whether no further transitions are possible
func (s JobState) IsTerminal() bool {
	return len(validTransitions[s]) == 0
}

// Tracker follows one job through its lifecycle on a worker.
type Tracker struct {
	mu      sync.Mutex
	state   JobState
	history []JobState
}

// NewTracker starts a tracker in the queued state
func NewTracker() *Tracker {
	return &Tracker{state: JobStateQueued, history: []JobState{JobStateQueued}}
}

// State returns the current state
func (t *Tracker) State() JobState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// History returns every state visited, in order
func (t *Tracker) History() []JobState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]JobState, len(t.history))
	copy(out, t.history)
	return out
}

// Transition moves the job to state to, rejecting illegal moves
func (t *Tracker) Transition(to JobState) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !CanTransition(t.state, to) {
		return fmt.Errorf("invalid job state transition: %s -> %s", t.state, to)
	}
	t.state = to
	t.history = append(t.history, to)
	return nil
}
