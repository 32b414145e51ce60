package lifecycle

import (
	"fmt"
	"sync"

	"github.com/cuemby/kros/pkg/log"
	"github.com/cuemby/kros/pkg/metrics"
	"github.com/rs/zerolog"
)

// State is the lifecycle state of a bus participant
type State int

const (
	StateNone State = iota
	StateInitial
	StateStarted
	StateEnabled
	StateDisabled
	StateClosed
)

// String returns a string representation of the state
func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateInitial:
		return "initial"
	case StateStarted:
		return "started"
	case StateEnabled:
		return "enabled"
	case StateDisabled:
		return "disabled"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var transitions = map[State][]State{
	StateNone:     {StateInitial},
	StateInitial:  {StateStarted, StateDisabled, StateClosed},
	StateStarted:  {StateEnabled, StateDisabled, StateClosed},
	StateEnabled:  {StateEnabled, StateDisabled, StateClosed},
	StateDisabled: {StateEnabled, StateDisabled, StateClosed},
}

// IllegalStateError reports a transition outside the legal table
type IllegalStateError struct {
	Component string
	From      State
	To        State
}

func (e *IllegalStateError) Error() string {
	if e.Component == "" {
		return fmt.Sprintf("illegal state transition from %s to %s", e.From, e.To)
	}
	return fmt.Sprintf("%s: illegal state transition from %s to %s", e.Component, e.From, e.To)
}

// Validate checks current→next against the transition table.
// CLOSED is absorbing: nothing leaves it.
func Validate(current, next State) error {
	for _, s := range transitions[current] {
		if s == next {
			return nil
		}
	}
	return &IllegalStateError{From: current, To: next}
}

// Suspect reports a legal self-transition that usually hides a caller bug
func Suspect(current, next State) bool {
	return current == next && (current == StateEnabled || current == StateDisabled)
}

// FSM guards the lifecycle state of one participant
type FSM struct {
	mu     sync.RWMutex
	name   string
	state  State
	logger zerolog.Logger
}

// New creates a state machine in StateNone
func New(name string) *FSM {
	return &FSM{
		name:   name,
		state:  StateNone,
		logger: log.WithComponent("fsm").With().Str("owner", name).Logger(),
	}
}

// Name returns the owning participant's name
func (f *FSM) Name() string {
	return f.name
}

// State returns the current state
func (f *FSM) State() State {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// Is reports whether the current state is s
func (f *FSM) Is(s State) bool {
	return f.State() == s
}

// Transition moves to next. An illegal transition leaves the state
// unchanged and returns *IllegalStateError.
func (f *FSM) Transition(next State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	current := f.state
	if err := Validate(current, next); err != nil {
		metrics.IllegalTransitions.Inc()
		f.logger.Error().
			Str("from", current.String()).
			Str("to", next.String()).
			Msg("illegal state transition")
		return &IllegalStateError{Component: f.name, From: current, To: next}
	}
	if Suspect(current, next) {
		f.logger.Warn().Str("state", current.String()).Msg("suspect transition")
	}

	f.state = next
	f.logger.Debug().Str("from", current.String()).Str("to", next.String()).Msg("transition")
	return nil
}

// Initial moves NONE→INITIAL
func (f *FSM) Initial() error { return f.Transition(StateInitial) }

// Start moves to STARTED
func (f *FSM) Start() error { return f.Transition(StateStarted) }

// Enable moves to ENABLED
func (f *FSM) Enable() error { return f.Transition(StateEnabled) }

// Disable moves to DISABLED
func (f *FSM) Disable() error { return f.Transition(StateDisabled) }

// Close moves to CLOSED
func (f *FSM) Close() error { return f.Transition(StateClosed) }
