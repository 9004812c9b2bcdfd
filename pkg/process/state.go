package process

import (
	"errors"
	"time"
)

// State transition errors.
var (
	ErrInvalidTransition = errors.New("invalid state transition")
)

// State is a lifecycle state.
type State int

const (
	// StateRunning is a live process.
	StateRunning State = iota
	// StateExiting is a process whose exit has begun but whose children
	// and terminal have not been handed off yet.
	StateExiting
	// StateZombie is an exited process waiting to be collected.
	StateZombie
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateExiting:
		return "exiting"
	case StateZombie:
		return "zombie"
	default:
		return "unknown"
	}
}

// StateTransition represents a valid state transition.
type StateTransition struct {
	From State
	To   State
}

// ValidTransitions defines all valid state transitions.
var ValidTransitions = []StateTransition{
	// exit, kill
	{From: StateRunning, To: StateExiting},
	// cleanup done
	{From: StateExiting, To: StateZombie},
}

// IsValidTransition checks if a state transition is valid.
func IsValidTransition(from, to State) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// State returns the lifecycle state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// TransitionTo attempts to transition the process to a new state.
func (p *Process) TransitionTo(to State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transitionLocked(to)
}

func (p *Process) transitionLocked(to State) error {
	if !IsValidTransition(p.state, to) {
		return ErrInvalidTransition
	}
	p.state = to
	if to == StateZombie {
		p.finishedAt = p.clock()
	}
	return nil
}

// IsZombie reports whether the process has finished exiting.
func (p *Process) IsZombie() bool {
	return p.State() == StateZombie
}

// Lifetime returns how long the process ran, or has run so far.
func (p *Process) Lifetime() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.finishedAt.IsZero() {
		return p.finishedAt.Sub(p.startedAt)
	}
	return p.clock().Sub(p.startedAt)
}
