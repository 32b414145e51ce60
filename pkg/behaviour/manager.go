package behaviour

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/kros/pkg/component"
	"github.com/cuemby/kros/pkg/event"
	"github.com/cuemby/kros/pkg/message"
	"github.com/cuemby/kros/pkg/metrics"
	"github.com/cuemby/kros/pkg/notify"
)

// Name is the manager's subscriber name
const Name = "beh-mgr"

// TickTask is the name of the manager's tick task on the bus
const TickTask = "behaviour-tick"

// TaskRunner hosts the manager's tick loop
type TaskRunner interface {
	AddTask(name string, fn func(ctx context.Context)) error
	CancelTask(name string) bool
}

// Notifier receives behaviour notifications
type Notifier interface {
	Publish(n *notify.Notification)
}

// Config holds manager settings
type Config struct {
	// TickInterval is the period of the tick task; zero disables it
	TickInterval time.Duration
	Tasks        TaskRunner
	Notifier     Notifier
}

// Decision records what the manager did with one trigger
type Decision string

const (
	DecisionUnregistered Decision = "unregistered"
	DecisionActivated    Decision = "activated"
	DecisionRefreshed    Decision = "refreshed"
	DecisionReplaced     Decision = "replaced"
	DecisionKept         Decision = "kept"
	DecisionSkipped      Decision = "skipped"
)

// Manager arbitrates between behaviours
type Manager struct {
	*component.Subscriber
	cfg Config

	mu         sync.Mutex
	behaviours map[event.Event]Behaviour
	active     Behaviour
	saved      map[string]bool
}

// NewManager creates a released manager subscribed to the behaviour
// group. Registering a behaviour adds its trigger to the filter.
func NewManager(bus component.Bus, cfg Config) *Manager {
	m := &Manager{
		cfg:        cfg,
		behaviours: make(map[event.Event]Behaviour),
		saved:      make(map[string]bool),
	}
	m.Subscriber = component.NewSubscriber(Name, bus, component.HandlerFunc(m.handle))
	m.AddGroups(event.GroupBehaviour)
	return m
}

// Register adds a behaviour under its trigger event
func (m *Manager) Register(b Behaviour) error {
	m.mu.Lock()
	if existing, ok := m.behaviours[b.Trigger()]; ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s already triggers %s", ErrDuplicateTrigger, b.Trigger(), existing.Name())
	}
	m.behaviours[b.Trigger()] = b
	m.mu.Unlock()

	m.AddEvents(b.Trigger())
	metrics.ActiveBehaviour.WithLabelValues(b.Name()).Set(0)
	m.Logger().Info().Str("behaviour", b.Name()).Str("trigger", b.Trigger().String()).Msg("behaviour registered")
	return nil
}

// ForEvent returns the behaviour triggered by e
func (m *Manager) ForEvent(e event.Event) (Behaviour, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.behaviours[e]
	return b, ok
}

// Get returns a behaviour by name
func (m *Manager) Get(name string) (Behaviour, bool) {
	for _, b := range m.Behaviours() {
		if b.Name() == name {
			return b, true
		}
	}
	return nil, false
}

// Behaviours returns the registered behaviours ordered by name
func (m *Manager) Behaviours() []Behaviour {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Behaviour, 0, len(m.behaviours))
	for _, b := range m.behaviours {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// BehaviourNames implements metrics.BehaviourSource
func (m *Manager) BehaviourNames() []string {
	bs := m.Behaviours()
	names := make([]string, len(bs))
	for i, b := range bs {
		names[i] = b.Name()
	}
	return names
}

// Active returns the active behaviour, or nil
func (m *Manager) Active() Behaviour {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// ActiveBehaviourName implements metrics.BehaviourSource
func (m *Manager) ActiveBehaviourName() string {
	if b := m.Active(); b != nil {
		return b.Name()
	}
	return ""
}

func (m *Manager) handle(ctx context.Context, msg *message.Message) error {
	m.Arbitrate(ctx, msg.Payload())
	return nil
}

// Arbitrate applies one trigger payload to the behaviour state
func (m *Manager) Arbitrate(ctx context.Context, payload message.Payload) Decision {
	logger := m.Logger().With().Str("event", payload.Event.String()).Logger()

	if m.Suppressed() {
		logger.Debug().Msg("manager suppressed, skipping arbitration")
		return DecisionSkipped
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.behaviours[payload.Event]
	if !ok {
		metrics.UnregisteredTriggers.Inc()
		logger.Warn().Msg("no behaviour registered for event")
		return DecisionUnregistered
	}

	switch {
	case m.active == nil:
		m.activate(b)
		m.respond(ctx, b, payload)
		return DecisionActivated

	case m.active == b:
		m.respond(ctx, b, payload)
		return DecisionRefreshed

	case m.active.Suppressed():
		m.activate(b)
		m.respond(ctx, b, payload)
		return DecisionActivated
	}

	current := m.active
	if payload.Event.Compare(current.Trigger()) > 0 {
		logger.Info().
			Str("behaviour", b.Name()).
			Str("replaces", current.Name()).
			Msg("higher priority behaviour takes over")
		current.Suppress()
		m.transition(current, "suppress")
		m.activate(b)
		b.Release()
		m.transition(b, "release")
		return DecisionReplaced
	}

	logger.Debug().
		Str("behaviour", b.Name()).
		Str("active", current.Name()).
		Msg("active behaviour has equal or higher priority")
	return DecisionKept
}

// activate makes b the active behaviour. Callers hold m.mu.
func (m *Manager) activate(b Behaviour) {
	if m.active != nil {
		metrics.ActiveBehaviour.WithLabelValues(m.active.Name()).Set(0)
	}
	m.active = b
	metrics.ActiveBehaviour.WithLabelValues(b.Name()).Set(1)
	m.transition(b, "activate")
	m.Logger().Info().Str("behaviour", b.Name()).Msg("behaviour active")
	m.notify(notify.BehaviourActivated, b)
}

// respond applies the behaviour's trigger response. Callers hold m.mu.
func (m *Manager) respond(ctx context.Context, b Behaviour, payload message.Payload) {
	switch b.Response() {
	case Suppress:
		b.Suppress()
		m.transition(b, "suppress")
	case Release:
		b.Release()
		m.transition(b, "release")
	case Toggle:
		if b.Suppressed() {
			b.Release()
			m.transition(b, "release")
		} else {
			b.Suppress()
			m.transition(b, "suppress")
		}
	case Execute:
		if b.Suppressed() {
			return
		}
		m.transition(b, "execute")
		if err := b.Execute(ctx, payload); err != nil {
			m.Logger().Error().Err(err).Str("behaviour", b.Name()).Msg("behaviour execute failed")
		}
	case Ignore:
	}
}

func (m *Manager) transition(b Behaviour, action string) {
	metrics.BehaviourTransitions.WithLabelValues(b.Name(), action).Inc()
	switch action {
	case "suppress":
		m.notify(notify.BehaviourSuppressed, b)
	case "release":
		m.notify(notify.BehaviourReleased, b)
	}
}

func (m *Manager) notify(t notify.Type, b Behaviour) {
	if m.cfg.Notifier == nil {
		return
	}
	m.cfg.Notifier.Publish(notify.New(t, b.Name(), map[string]string{
		"behaviour": b.Name(),
		"trigger":   b.Trigger().String(),
	}))
}

// Suppress suppresses the manager and every released behaviour
func (m *Manager) Suppress() {
	m.Subscriber.Suppress()
	m.SuppressAll()
	if m.cfg.Notifier != nil {
		m.cfg.Notifier.Publish(notify.New(notify.ArbitratorSuppressed, Name, nil))
	}
}

// Release releases the manager and restores behaviours released before
// the last Suppress
func (m *Manager) Release() {
	m.Subscriber.Release()
	m.ReleaseAll()
	if m.cfg.Notifier != nil {
		m.cfg.Notifier.Publish(notify.New(notify.ArbitratorReleased, Name, nil))
	}
}

// SuppressAll suppresses every behaviour, recording which were released.
// Behaviours already recorded keep their first recorded state.
func (m *Manager) SuppressAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.behaviours {
		if _, recorded := m.saved[b.Name()]; !recorded {
			m.saved[b.Name()] = b.Suppressed()
		}
		if !b.Suppressed() {
			b.Suppress()
			m.transition(b, "suppress")
		}
	}
	m.Logger().Info().Int("behaviours", len(m.behaviours)).Msg("all behaviours suppressed")
}

// ReleaseAll releases the behaviours recorded as released by SuppressAll.
// Behaviours that were already suppressed stay suppressed.
func (m *Manager) ReleaseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.behaviours {
		wasSuppressed, recorded := m.saved[b.Name()]
		if recorded && !wasSuppressed {
			b.Release()
			m.transition(b, "release")
		}
	}
	m.saved = make(map[string]bool)
	m.Logger().Info().Msg("behaviours restored")
}

// DisableAll disables every behaviour and forgets recorded states
func (m *Manager) DisableAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.behaviours {
		if b.Enabled() {
			if err := b.Disable(); err != nil {
				m.Logger().Error().Err(err).Str("behaviour", b.Name()).Msg("cannot disable behaviour")
			}
		}
	}
	m.saved = make(map[string]bool)
}

// Start starts every behaviour and then the manager
func (m *Manager) Start() error {
	for _, b := range m.Behaviours() {
		if err := b.Start(); err != nil {
			return fmt.Errorf("failed to start behaviour %s: %w", b.Name(), err)
		}
	}
	return m.Subscriber.Start()
}

// Enable enables the manager, every behaviour whose requirements are met,
// and the tick task
func (m *Manager) Enable() error {
	if err := m.Subscriber.Enable(); err != nil {
		return err
	}
	for _, b := range m.Behaviours() {
		if err := b.Enable(); err != nil {
			if errors.Is(err, ErrRequirementsNotMet) {
				m.Logger().Warn().Err(err).Str("behaviour", b.Name()).Msg("behaviour left disabled")
				continue
			}
			return err
		}
	}
	if m.cfg.Tasks != nil && m.cfg.TickInterval > 0 {
		if err := m.cfg.Tasks.AddTask(TickTask, m.tickLoop); err != nil {
			return fmt.Errorf("failed to start tick task: %w", err)
		}
	}
	return nil
}

// Disable stops the tick task and disables every behaviour
func (m *Manager) Disable() error {
	if m.cfg.Tasks != nil {
		m.cfg.Tasks.CancelTask(TickTask)
	}
	m.DisableAll()
	return m.Subscriber.Disable()
}

// Close disables the manager if needed and closes every behaviour
func (m *Manager) Close() error {
	if m.Enabled() {
		if err := m.Disable(); err != nil {
			return err
		}
	}
	for _, b := range m.Behaviours() {
		if b.Closed() {
			continue
		}
		if err := b.Close(); err != nil {
			m.Logger().Error().Err(err).Str("behaviour", b.Name()).Msg("cannot close behaviour")
		}
	}
	return m.Subscriber.Close()
}

func (m *Manager) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Tick(ctx, now)
		}
	}
}

// Tick executes the active behaviour once if it and the manager are released
func (m *Manager) Tick(ctx context.Context, now time.Time) {
	if m.Suppressed() {
		return
	}
	b := m.Active()
	if b == nil || !b.Enabled() || b.Suppressed() {
		return
	}
	if err := b.Execute(ctx, message.NewPayload(event.ClockTick, now)); err != nil {
		m.Logger().Error().Err(err).Str("behaviour", b.Name()).Msg("tick failed")
	}
}

// Info describes one behaviour for diagnostics
type Info struct {
	Name       string   `json:"name"`
	Trigger    string   `json:"trigger"`
	Response   string   `json:"response"`
	Enabled    bool     `json:"enabled"`
	Suppressed bool     `json:"suppressed"`
	Active     bool     `json:"active"`
	Unmet      []string `json:"unmet,omitempty"`
}

// Info describes every behaviour ordered by name
func (m *Manager) Info() []Info {
	active := m.Active()
	bs := m.Behaviours()
	out := make([]Info, 0, len(bs))
	for _, b := range bs {
		out = append(out, Info{
			Name:       b.Name(),
			Trigger:    b.Trigger().String(),
			Response:   b.Response().String(),
			Enabled:    b.Enabled(),
			Suppressed: b.Suppressed(),
			Active:     b == active,
			Unmet:      b.Unmet(),
		})
	}
	return out
}

// HealthName implements metrics.HealthSource
func (m *Manager) HealthName() string {
	return "arbitrator"
}

// Health reports healthy while the manager is enabled
func (m *Manager) Health() (bool, string) {
	if !m.Enabled() {
		return false, "arbitrator is " + m.State().String()
	}
	if m.Suppressed() {
		return true, "suppressed"
	}
	return true, fmt.Sprintf("active %q", m.ActiveBehaviourName())
}
