package behaviour

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/kros/pkg/event"
	"github.com/cuemby/kros/pkg/message"
	"github.com/cuemby/kros/pkg/motor"
)

// Avoid backs away from obstacles seen by the centre infrared sensor
type Avoid struct {
	*Base
	motors       motor.Motors
	minDistance  float64
	reverseSpeed float64

	mu       sync.Mutex
	distance float64
	known    bool
	reverses int
}

// NewAvoid creates the avoid behaviour
func NewAvoid(motors motor.Motors, cfg AvoidConfig) (*Avoid, error) {
	if cfg.MinDistance <= 0 {
		return nil, fmt.Errorf("min distance %.2f must be positive", cfg.MinDistance)
	}
	if cfg.ReverseSpeed <= 0 || cfg.ReverseSpeed > 1 {
		return nil, fmt.Errorf("reverse speed %.2f not in (0, 1]", cfg.ReverseSpeed)
	}
	a := &Avoid{
		Base:         NewBase("avoid", event.InfraredCntr, Execute, cfg.Suppressed),
		motors:       motors,
		minDistance:  cfg.MinDistance,
		reverseSpeed: cfg.ReverseSpeed,
	}
	a.Require("motors", motors != nil)
	return a, nil
}

// Execute records an infrared reading and reverses while the obstacle is
// closer than the minimum distance. Ticks re-check the last reading.
func (a *Avoid) Execute(ctx context.Context, payload message.Payload) error {
	a.mu.Lock()
	if payload.Event == event.InfraredCntr {
		d, ok := payload.Float()
		if !ok {
			a.mu.Unlock()
			return fmt.Errorf("infrared reading %v is not numeric", payload.Value)
		}
		a.distance, a.known = d, true
	}
	tooClose := a.known && a.distance < a.minDistance
	if tooClose {
		a.reverses++
	}
	distance := a.distance
	a.mu.Unlock()

	if !tooClose || a.motors == nil {
		return nil
	}
	a.Logger().Debug().Float64("distance", distance).Msg("obstacle too close, reversing")
	return a.motors.SetSpeed(-a.reverseSpeed, -a.reverseSpeed)
}

// Distance returns the last infrared reading
func (a *Avoid) Distance() (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.distance, a.known
}

// Reverses returns how many steps reversed away from an obstacle
func (a *Avoid) Reverses() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reverses
}
