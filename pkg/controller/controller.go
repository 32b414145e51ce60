// Package controller implements the actuation sink that receives every
// arbitrated payload from the bus.
package controller

import (
	"fmt"
	"sync"

	"github.com/cuemby/kros/pkg/event"
	"github.com/cuemby/kros/pkg/log"
	"github.com/cuemby/kros/pkg/message"
	"github.com/cuemby/kros/pkg/metrics"
	"github.com/cuemby/kros/pkg/motor"
	"github.com/rs/zerolog"
)

// Action reacts to one arbitrated payload
type Action func(payload message.Payload) error

// Callback outcomes, also used as metric labels
const (
	OutcomeHandled  = "handled"
	OutcomeNoop     = "noop"
	OutcomeUnknown  = "unknown"
	OutcomeFailed   = "failed"
	OutcomeDisabled = "disabled"
)

// Controller dispatches arbitrated payloads to per-event actions
type Controller struct {
	name   string
	logger zerolog.Logger

	mu      sync.RWMutex
	enabled bool
	actions map[event.Event]Action
	last    *message.Payload
	counts  map[event.Event]int
}

// New creates a disabled controller with no actions
func New(name string) *Controller {
	return &Controller{
		name:    name,
		logger:  log.WithComponent(name),
		actions: make(map[event.Event]Action),
		counts:  make(map[event.Event]int),
	}
}

// NewMotorController creates a controller whose actions drive motors.
// Stop-group events stop both motors and movement events with a speed
// attribute set both motors to that speed.
func NewMotorController(name string, motors motor.Motors) *Controller {
	c := New(name)
	stop := func(message.Payload) error { return motors.Stop() }
	for _, e := range event.InGroup(event.GroupStop) {
		c.Register(e, stop)
	}
	c.Register(event.EmergencyAstern, func(message.Payload) error {
		s := event.EmergencyAstern.Speed()
		return motors.SetSpeed(s, s)
	})
	for _, e := range event.InGroup(event.GroupMovement) {
		if e.Speed() == 0 {
			continue
		}
		s := e.Speed()
		c.Register(e, func(message.Payload) error { return motors.SetSpeed(s, s) })
	}
	return c
}

// Name returns the controller name
func (c *Controller) Name() string {
	return c.name
}

// Register sets the action for e, replacing any previous one
func (c *Controller) Register(e event.Event, action Action) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actions[e] = action
}

// Enable starts dispatching callbacks
func (c *Controller) Enable() {
	c.mu.Lock()
	c.enabled = true
	c.mu.Unlock()
	c.logger.Info().Msg("controller enabled")
}

// Disable makes callbacks no-ops
func (c *Controller) Disable() {
	c.mu.Lock()
	c.enabled = false
	c.mu.Unlock()
	c.logger.Info().Msg("controller disabled")
}

// Enabled reports whether callbacks are dispatched
func (c *Controller) Enabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// Callback receives one arbitrated payload
func (c *Controller) Callback(payload message.Payload) {
	outcome := c.dispatch(payload)
	metrics.ControllerCallbacks.WithLabelValues(payload.Event.String(), outcome).Inc()
}

func (c *Controller) dispatch(payload message.Payload) string {
	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		c.logger.Warn().Str("event", payload.Event.String()).Msg("controller disabled, ignoring payload")
		return OutcomeDisabled
	}
	p := payload
	c.last = &p
	c.counts[payload.Event]++
	action, ok := c.actions[payload.Event]
	c.mu.Unlock()

	switch {
	case payload.Event == event.NoAction:
		c.logger.Debug().Msg("no action")
		return OutcomeNoop
	case !ok:
		c.logger.Warn().Str("event", payload.Event.String()).Str("payload", payload.String()).Msg("unrecognised event")
		return OutcomeUnknown
	}

	if err := action(payload); err != nil {
		c.logger.Error().Err(err).Str("event", payload.Event.String()).Msg("action failed")
		return OutcomeFailed
	}
	c.logger.Debug().Str("event", payload.Event.String()).Msg("action complete")
	return OutcomeHandled
}

// Last returns the last payload received while enabled
func (c *Controller) Last() (message.Payload, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.last == nil {
		return message.Payload{}, false
	}
	return *c.last, true
}

// Count returns how many payloads for e were received while enabled
func (c *Controller) Count(e event.Event) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counts[e]
}

// String implements fmt.Stringer
func (c *Controller) String() string {
	return fmt.Sprintf("controller %s (enabled=%t, actions=%d)", c.name, c.Enabled(), len(c.actions))
}
