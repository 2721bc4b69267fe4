// Package interaction guards destructive ledger actions behind an explicit
// arm-then-commit sequence so an accidental double trigger cannot submit
// the same mutation twice.
//
// The guard is a library for the stateful client driving settle and reject
// flows; the HTTP API itself stays stateless, so no server component holds
// a Guard across requests.
package interaction

import (
	"fmt"
	"sync"
)

// State of the guard.
type State int

const (
	// Idle accepts a new arm request.
	Idle State = iota
	// Armed holds a pending action awaiting its commit trigger.
	Armed
	// Committing means the action's effect is running; further triggers
	// are rejected until Finish.
	Committing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Committing:
		return "committing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Action identifies what an armed guard will do when committed.
type Action string

const (
	ActionSettle Action = "settle"
	ActionDelete Action = "delete"
)

// ErrInvalidTransition is returned when a trigger arrives in a state that
// does not accept it.
type ErrInvalidTransition struct {
	From    State
	Trigger string
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("cannot %s while %s", e.Trigger, e.From)
}

// Guard is a small state machine: Idle -> Armed -> Committing -> Idle.
// Arming replaces nothing; an armed guard must be committed or disarmed
// before another action can arm. Exactly one commit effect runs per armed
// action.
type Guard struct {
	mu     sync.Mutex
	state  State
	action Action
	target string
}

func NewGuard() *Guard {
	return &Guard{state: Idle}
}

// State returns the current state.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Arm readies an action against a target. Only valid from Idle.
func (g *Guard) Arm(action Action, target string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Idle {
		return &ErrInvalidTransition{From: g.state, Trigger: "arm"}
	}
	g.state = Armed
	g.action = action
	g.target = target
	return nil
}

// Disarm cancels a pending action. Only valid from Armed; a commit already
// in flight cannot be canceled.
func (g *Guard) Disarm() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Armed {
		return &ErrInvalidTransition{From: g.state, Trigger: "disarm"}
	}
	g.state = Idle
	g.action = ""
	g.target = ""
	return nil
}

// BeginCommit consumes the armed action, moving to Committing. A second
// trigger while committing fails, which is the whole point of the guard.
func (g *Guard) BeginCommit() (Action, string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Armed {
		return "", "", &ErrInvalidTransition{From: g.state, Trigger: "commit"}
	}
	g.state = Committing
	return g.action, g.target, nil
}

// Finish returns the guard to Idle after the commit effect completed,
// successfully or not. Only valid from Committing.
func (g *Guard) Finish() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Committing {
		return &ErrInvalidTransition{From: g.state, Trigger: "finish"}
	}
	g.state = Idle
	g.action = ""
	g.target = ""
	return nil
}

// Commit runs fn exactly once for the armed action and returns the guard
// to Idle afterwards regardless of fn's outcome.
func (g *Guard) Commit(fn func(action Action, target string) error) error {
	action, target, err := g.BeginCommit()
	if err != nil {
		return err
	}
	defer func() {
		// Finish cannot fail from Committing.
		_ = g.Finish()
	}()
	return fn(action, target)
}
