package behaviour

import (
	"context"
	"fmt"

	"github.com/cuemby/kros/pkg/event"
	"github.com/cuemby/kros/pkg/message"
	"github.com/cuemby/kros/pkg/motor"
)

// Roam drives ahead at cruise speed while released. ROAM toggles it.
type Roam struct {
	*Base
	motors motor.Motors
	speed  float64
}

// NewRoam creates the roam behaviour
func NewRoam(motors motor.Motors, cfg RoamConfig) (*Roam, error) {
	if cfg.CruiseSpeed <= 0 || cfg.CruiseSpeed > 1 {
		return nil, fmt.Errorf("cruise speed %.2f not in (0, 1]", cfg.CruiseSpeed)
	}
	r := &Roam{
		Base:   NewBase("roam", event.Roam, Toggle, cfg.Suppressed),
		motors: motors,
		speed:  cfg.CruiseSpeed,
	}
	r.Require("motors", motors != nil)
	return r, nil
}

// Execute drives at cruise speed on each tick
func (r *Roam) Execute(ctx context.Context, payload message.Payload) error {
	if payload.Event != event.ClockTick || r.motors == nil {
		return nil
	}
	return r.motors.SetSpeed(r.speed, r.speed)
}

// Suppress stops the motors when roaming ends
func (r *Roam) Suppress() {
	wasReleased := !r.Suppressed()
	r.Base.Suppress()
	if wasReleased && r.motors != nil {
		if err := r.motors.Stop(); err != nil {
			r.Logger().Error().Err(err).Msg("cannot stop motors")
		}
	}
}
