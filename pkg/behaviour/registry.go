package behaviour

import (
	"fmt"
	"time"

	"github.com/cuemby/kros/pkg/motor"
)

// Clock reports when the bus last saw a fresh envelope
type Clock interface {
	LastMessageTimestamp() time.Time
}

// RoamConfig tunes the roam behaviour
type RoamConfig struct {
	CruiseSpeed float64
	Suppressed  bool
}

// AvoidConfig tunes the avoid behaviour
type AvoidConfig struct {
	MinDistance  float64
	ReverseSpeed float64
	Suppressed   bool
}

// IdleConfig tunes the idle behaviour
type IdleConfig struct {
	Threshold  time.Duration
	Suppressed bool
}

// Settings groups per-behaviour tunables
type Settings struct {
	Roam  RoamConfig
	Avoid AvoidConfig
	Idle  IdleConfig
}

// DefaultSettings returns the stock tunables
func DefaultSettings() Settings {
	return Settings{
		Roam:  RoamConfig{CruiseSpeed: 0.5, Suppressed: true},
		Avoid: AvoidConfig{MinDistance: 20, ReverseSpeed: 0.4},
		Idle:  IdleConfig{Threshold: 10 * time.Second, Suppressed: true},
	}
}

// Dependencies are the collaborators a constructor may use. Missing ones
// are recorded as unmet requirements rather than failing construction.
type Dependencies struct {
	Motors   motor.Motors
	Clock    Clock
	Settings Settings
}

// Constructor builds one behaviour
type Constructor func(deps Dependencies) (Behaviour, error)

// Registry maps behaviour names to constructors
type Registry struct {
	constructors map[string]Constructor
	order        []string
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// DefaultRegistry returns a registry with roam, avoid and idle
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Add("roam", func(d Dependencies) (Behaviour, error) { return NewRoam(d.Motors, d.Settings.Roam) })
	_ = r.Add("avoid", func(d Dependencies) (Behaviour, error) { return NewAvoid(d.Motors, d.Settings.Avoid) })
	_ = r.Add("idle", func(d Dependencies) (Behaviour, error) { return NewIdle(d.Motors, d.Clock, d.Settings.Idle) })
	return r
}

// Add registers a constructor under name
func (r *Registry) Add(name string, c Constructor) error {
	if _, ok := r.constructors[name]; ok {
		return fmt.Errorf("behaviour %s already registered", name)
	}
	r.constructors[name] = c
	r.order = append(r.order, name)
	return nil
}

// Names returns registered names in registration order
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Build constructs the named behaviours in order
func (r *Registry) Build(names []string, deps Dependencies) ([]Behaviour, error) {
	out := make([]Behaviour, 0, len(names))
	for _, name := range names {
		c, ok := r.constructors[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownBehaviour, name)
		}
		b, err := c(deps)
		if err != nil {
			return nil, fmt.Errorf("failed to build behaviour %s: %w", name, err)
		}
		out = append(out, b)
	}
	return out, nil
}
