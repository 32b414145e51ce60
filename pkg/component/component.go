package component

import (
	"errors"
	"sync"

	"github.com/cuemby/kros/pkg/lifecycle"
)

// ErrDisabled is returned when a disabled participant is asked to act
var ErrDisabled = errors.New("component is disabled")

// Component is the lifecycle and suppression state shared by every bus
// participant. A new Component is in StateInitial.
type Component struct {
	fsm *lifecycle.FSM

	mu         sync.RWMutex
	suppressed bool
}

// New creates a component; suppressed sets the initial suppression flag
func New(name string, suppressed bool) *Component {
	fsm := lifecycle.New(name)
	_ = fsm.Initial()
	return &Component{fsm: fsm, suppressed: suppressed}
}

// Name returns the component name
func (c *Component) Name() string {
	return c.fsm.Name()
}

// State returns the lifecycle state
func (c *Component) State() lifecycle.State {
	return c.fsm.State()
}

// Start moves the component to STARTED
func (c *Component) Start() error {
	return c.fsm.Start()
}

// Enable moves the component to ENABLED
func (c *Component) Enable() error {
	return c.fsm.Enable()
}

// Disable moves the component to DISABLED
func (c *Component) Disable() error {
	return c.fsm.Disable()
}

// Close moves the component to CLOSED
func (c *Component) Close() error {
	return c.fsm.Close()
}

// Enabled reports whether the component is in ENABLED
func (c *Component) Enabled() bool {
	return c.fsm.Is(lifecycle.StateEnabled)
}

// Closed reports whether the component is in CLOSED
func (c *Component) Closed() bool {
	return c.fsm.Is(lifecycle.StateClosed)
}

// Suppressed reports the suppression flag
func (c *Component) Suppressed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.suppressed
}

// Suppress sets the suppression flag
func (c *Component) Suppress() {
	c.mu.Lock()
	c.suppressed = true
	c.mu.Unlock()
}

// Release clears the suppression flag
func (c *Component) Release() {
	c.mu.Lock()
	c.suppressed = false
	c.mu.Unlock()
}
