package behaviour

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cuemby/kros/pkg/component"
	"github.com/cuemby/kros/pkg/event"
	"github.com/cuemby/kros/pkg/log"
	"github.com/cuemby/kros/pkg/message"
	"github.com/rs/zerolog"
)

var (
	// ErrRequirementsNotMet is returned when a behaviour lacks a collaborator
	ErrRequirementsNotMet = errors.New("requirements not met")
	// ErrDuplicateTrigger is returned when two behaviours share a trigger
	ErrDuplicateTrigger = errors.New("trigger already registered")
	// ErrUnknownBehaviour is returned for a name missing from the registry
	ErrUnknownBehaviour = errors.New("unknown behaviour")
)

// Behaviour is a suppressible unit of control logic triggered by one event
type Behaviour interface {
	Name() string
	Trigger() event.Event
	Response() Response

	Start() error
	Enable() error
	Disable() error
	Close() error
	Enabled() bool
	Closed() bool

	Suppressed() bool
	Suppress()
	Release()

	// Execute runs one step. payload is the trigger payload, or a
	// CLOCK_TICK payload when called from the manager's tick task.
	Execute(ctx context.Context, payload message.Payload) error

	// Unmet lists missing collaborators
	Unmet() []string
}

// Base carries the state every behaviour shares
type Base struct {
	*component.Component

	trigger  event.Event
	response Response
	logger   zerolog.Logger

	mu    sync.RWMutex
	unmet []string
}

// NewBase creates a behaviour base in the INITIAL state
func NewBase(name string, trigger event.Event, response Response, suppressed bool) *Base {
	return &Base{
		Component: component.New(name, suppressed),
		trigger:   trigger,
		response:  response,
		logger:    log.WithBehaviour(name),
	}
}

// Trigger returns the trigger event
func (b *Base) Trigger() event.Event {
	return b.trigger
}

// Response returns the trigger response
func (b *Base) Response() Response {
	return b.response
}

// Logger returns the behaviour logger
func (b *Base) Logger() *zerolog.Logger {
	return &b.logger
}

// Require records what as missing unless present
func (b *Base) Require(what string, present bool) {
	if present {
		return
	}
	b.mu.Lock()
	b.unmet = append(b.unmet, what)
	b.mu.Unlock()
	b.logger.Warn().Str("requirement", what).Msg("requirement not met")
}

// Unmet lists missing collaborators
func (b *Base) Unmet() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.unmet...)
}

// Enable refuses to enable a behaviour with unmet requirements
func (b *Base) Enable() error {
	if unmet := b.Unmet(); len(unmet) > 0 {
		return fmt.Errorf("cannot enable %s: %w: %s", b.Name(), ErrRequirementsNotMet, strings.Join(unmet, ", "))
	}
	return b.Component.Enable()
}
