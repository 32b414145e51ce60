// Package motor defines the actuation interface the controller and the
// behaviours drive, plus an in-memory implementation.
package motor

import (
	"errors"
	"fmt"
	"sync"
)

// ErrSpeedOutOfRange is returned for speeds outside [-1, 1]
var ErrSpeedOutOfRange = errors.New("speed out of range")

// Motors drives a differential pair. Speeds are fractions of full power in
// [-1, 1]; negative is astern.
type Motors interface {
	SetSpeed(port, stbd float64) error
	Stop() error
}

// Simulated records commanded speeds without driving hardware
type Simulated struct {
	mu       sync.Mutex
	port     float64
	stbd     float64
	commands int
	stops    int
}

// NewSimulated returns stopped simulated motors
func NewSimulated() *Simulated {
	return &Simulated{}
}

// SetSpeed sets both motor speeds
func (m *Simulated) SetSpeed(port, stbd float64) error {
	if err := checkSpeed(port); err != nil {
		return fmt.Errorf("port motor: %w", err)
	}
	if err := checkSpeed(stbd); err != nil {
		return fmt.Errorf("starboard motor: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.port, m.stbd = port, stbd
	m.commands++
	return nil
}

// Stop sets both speeds to zero
func (m *Simulated) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.port, m.stbd = 0, 0
	m.stops++
	return nil
}

// Speeds returns the last commanded port and starboard speeds
func (m *Simulated) Speeds() (port, stbd float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.port, m.stbd
}

// Commands returns how many SetSpeed calls succeeded
func (m *Simulated) Commands() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commands
}

// Stops returns how many times Stop was called
func (m *Simulated) Stops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

// Moving reports whether either motor has a non-zero speed
func (m *Simulated) Moving() bool {
	port, stbd := m.Speeds()
	return port != 0 || stbd != 0
}

func checkSpeed(s float64) error {
	if s < -1 || s > 1 {
		return fmt.Errorf("%w: %.2f", ErrSpeedOutOfRange, s)
	}
	return nil
}
