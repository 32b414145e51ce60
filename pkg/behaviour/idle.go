package behaviour

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/kros/pkg/event"
	"github.com/cuemby/kros/pkg/message"
	"github.com/cuemby/kros/pkg/motor"
)

// Idle stops the motors once the bus has been quiet for longer than the
// threshold. IDLE toggles it.
type Idle struct {
	*Base
	motors    motor.Motors
	clock     Clock
	threshold time.Duration
	now       func() time.Time

	mu   sync.Mutex
	idle bool
}

// NewIdle creates the idle behaviour
func NewIdle(motors motor.Motors, clock Clock, cfg IdleConfig) (*Idle, error) {
	if cfg.Threshold <= 0 {
		return nil, fmt.Errorf("idle threshold %s must be positive", cfg.Threshold)
	}
	i := &Idle{
		Base:      NewBase("idle", event.Idle, Toggle, cfg.Suppressed),
		motors:    motors,
		clock:     clock,
		threshold: cfg.Threshold,
		now:       time.Now,
	}
	i.Require("motors", motors != nil)
	i.Require("clock", clock != nil)
	return i, nil
}

// Execute checks bus activity on each tick
func (i *Idle) Execute(ctx context.Context, payload message.Payload) error {
	if payload.Event != event.ClockTick || i.clock == nil {
		return nil
	}
	last := i.clock.LastMessageTimestamp()
	if last.IsZero() {
		return nil
	}

	quiet := i.now().Sub(last) > i.threshold
	i.mu.Lock()
	wasIdle := i.idle
	i.idle = quiet
	i.mu.Unlock()

	if !quiet || wasIdle {
		return nil
	}
	i.Logger().Info().Dur("quiet", i.now().Sub(last)).Msg("bus idle, stopping motors")
	if i.motors == nil {
		return nil
	}
	return i.motors.Stop()
}

// Idle reports whether the last check found the bus quiet
func (i *Idle) Idle() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.idle
}
