package bus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/kros/pkg/event"
	"github.com/cuemby/kros/pkg/lifecycle"
	"github.com/cuemby/kros/pkg/log"
	"github.com/cuemby/kros/pkg/message"
	"github.com/cuemby/kros/pkg/metrics"
	"github.com/cuemby/kros/pkg/notify"
	"github.com/rs/zerolog"
)

var (
	// ErrAlreadyArbitrated is returned when an envelope reaches the
	// arbitration boundary a second time
	ErrAlreadyArbitrated = errors.New("envelope already arbitrated")
	// ErrNoController is returned by Arbitrate when no sink is registered
	ErrNoController = errors.New("no controller registered")
	// ErrClosed is returned when publishing to a closed bus
	ErrClosed = errors.New("message bus is closed")
	// ErrDuplicateSubscriber is returned when a subscriber name is reused
	ErrDuplicateSubscriber = errors.New("subscriber already registered")
)

// Subscriber is a consumer the bus polls from its own loop
type Subscriber interface {
	Name() string
	IsGC() bool
	Enabled() bool
	Consume(ctx context.Context) (bool, error)
}

// EventLister is implemented by subscribers that can report their filter
type EventLister interface {
	Events() []event.Event
}

// Publisher is a named producer registered for introspection
type Publisher interface {
	Name() string
}

// Sink receives the payload of every arbitrated envelope
type Sink interface {
	Name() string
	Callback(payload message.Payload)
}

// Notifier receives diagnostic notifications
type Notifier interface {
	Publish(n *notify.Notification)
}

// Config holds message bus settings
type Config struct {
	// MaxAge is the age after which an envelope counts as expired
	MaxAge time.Duration
	// PollInterval is how long an idle subscriber loop sleeps
	PollInterval time.Duration
	// CleanupDelay is how long after processing an envelope is expired
	CleanupDelay time.Duration
	// Notifier is optional
	Notifier Notifier
}

const (
	defaultPollInterval  = 2 * time.Millisecond
	subscriberTaskPrefix = "subscriber-"
)

// SubscriberInfo describes a registered subscriber
type SubscriberInfo struct {
	Name    string   `json:"name"`
	GC      bool     `json:"gc"`
	Enabled bool     `json:"enabled"`
	Events  []string `json:"events,omitempty"`
}

// MessageBus is the shared envelope queue
type MessageBus struct {
	cfg    Config
	fsm    *lifecycle.FSM
	logger zerolog.Logger

	mu            sync.Mutex
	queue         []*message.Message
	lastPublished time.Time

	regMu       sync.RWMutex
	publishers  []Publisher
	subscribers []Subscriber
	sink        Sink

	tasksMu   sync.Mutex
	tasks     map[string]*task
	suspended map[string]func(ctx context.Context)
	parent    context.Context
	runCtx  context.Context
	stopRun context.CancelFunc

	cleanups  sync.WaitGroup
	closing   chan struct{}
	closeOnce sync.Once

	stats counters
}

// New creates a message bus in the INITIAL state
func New(cfg Config) *MessageBus {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	fsm := lifecycle.New("message-bus")
	_ = fsm.Initial()
	return &MessageBus{
		cfg:     cfg,
		fsm:     fsm,
		logger:  log.WithComponent("bus"),
		tasks:   make(map[string]*task),
		closing: make(chan struct{}),
		parent:  context.Background(),
	}
}

// State returns the bus lifecycle state
func (b *MessageBus) State() lifecycle.State {
	return b.fsm.State()
}

// Enabled reports whether subscriber loops are running
func (b *MessageBus) Enabled() bool {
	return b.fsm.Is(lifecycle.StateEnabled)
}

// Start moves the bus to STARTED. ctx is the parent of every task.
func (b *MessageBus) Start(ctx context.Context) error {
	if err := b.fsm.Start(); err != nil {
		return err
	}
	b.tasksMu.Lock()
	b.parent = ctx
	b.tasksMu.Unlock()
	b.logger.Info().Msg("message bus started")
	return nil
}

// Enable launches a loop for every registered subscriber
func (b *MessageBus) Enable() error {
	wasEnabled := b.Enabled()
	if err := b.fsm.Enable(); err != nil {
		return err
	}
	if wasEnabled {
		return nil
	}

	b.tasksMu.Lock()
	b.runCtx, b.stopRun = context.WithCancel(b.parent)
	resumed := b.resumeLocked()
	b.tasksMu.Unlock()

	b.regMu.RLock()
	subs := append([]Subscriber(nil), b.subscribers...)
	b.regMu.RUnlock()
	for _, s := range subs {
		b.launch(s)
	}
	b.logger.Info().Int("subscribers", len(subs)).Strs("resumed", resumed).Msg("message bus enabled")
	return nil
}

// Disable stops every task. Queued envelopes and pending cleanups survive,
// and tasks added through AddTask resume on the next Enable.
func (b *MessageBus) Disable() error {
	wasEnabled := b.Enabled()
	if err := b.fsm.Disable(); err != nil {
		return err
	}
	if !wasEnabled {
		return nil
	}
	stopped := b.stopTasks()
	b.tasksMu.Lock()
	b.suspended = make(map[string]func(ctx context.Context), len(stopped))
	for name, t := range stopped {
		if !strings.HasPrefix(name, subscriberTaskPrefix) {
			b.suspended[name] = t.fn
		}
	}
	b.tasksMu.Unlock()
	b.logger.Info().Int("queue", b.QueueSize()).Msg("message bus disabled")
	return nil
}

// Close stops every task, expires pending cleanups and drains the queue
func (b *MessageBus) Close() error {
	if err := b.fsm.Close(); err != nil {
		return err
	}
	b.stopTasks()
	b.tasksMu.Lock()
	b.suspended = nil
	b.tasksMu.Unlock()
	b.closeOnce.Do(func() { close(b.closing) })
	b.cleanups.Wait()
	dropped := b.Clear()
	b.logger.Info().Int("dropped", dropped).Msg("message bus closed")
	return nil
}

// stopTasks cancels every task, waits for them and returns the ones that
// were still running, by name
func (b *MessageBus) stopTasks() map[string]*task {
	b.tasksMu.Lock()
	stop := b.stopRun
	b.runCtx, b.stopRun = nil, nil
	tasks := b.tasks
	b.tasks = make(map[string]*task)
	live := make(map[string]*task, len(tasks))
	for name, t := range tasks {
		if !t.finished() {
			live[name] = t
		}
	}
	b.tasksMu.Unlock()

	if stop != nil {
		stop()
	}
	for _, t := range tasks {
		t.cancel()
		<-t.done
	}
	return live
}

func (b *MessageBus) launch(s Subscriber) {
	name := subscriberTaskPrefix + s.Name()
	if err := b.AddTask(name, func(ctx context.Context) { b.loop(ctx, s) }); err != nil {
		b.logger.Warn().Err(err).Str("task", name).Msg("subscriber loop not started")
	}
}

// loop polls the queue on behalf of one subscriber until ctx ends
func (b *MessageBus) loop(ctx context.Context, s Subscriber) {
	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		if s.Enabled() {
			if worked, _ := s.Consume(ctx); worked {
				continue
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RegisterPublisher records a publisher for introspection
func (b *MessageBus) RegisterPublisher(p Publisher) {
	b.regMu.Lock()
	b.publishers = append(b.publishers, p)
	b.regMu.Unlock()
	b.logger.Debug().Str("publisher", p.Name()).Msg("publisher registered")
}

// RegisterSubscriber adds a subscriber. On an enabled bus its loop starts
// immediately.
func (b *MessageBus) RegisterSubscriber(s Subscriber) error {
	b.regMu.Lock()
	for _, existing := range b.subscribers {
		if existing.Name() == s.Name() {
			b.regMu.Unlock()
			return fmt.Errorf("%w: %s", ErrDuplicateSubscriber, s.Name())
		}
	}
	b.subscribers = append(b.subscribers, s)
	count := len(b.subscribers)
	b.regMu.Unlock()

	metrics.SubscribersTotal.Set(float64(count))
	b.logger.Info().Str("subscriber", s.Name()).Bool("gc", s.IsGC()).Msg("subscriber registered")

	if b.Enabled() {
		b.launch(s)
	}
	return nil
}

// RegisterController sets the sink for arbitrated payloads
func (b *MessageBus) RegisterController(sink Sink) {
	b.regMu.Lock()
	b.sink = sink
	b.regMu.Unlock()
	b.logger.Info().Str("controller", sink.Name()).Msg("controller registered")
}

// SubscriberNames returns the names of every subscriber except the
// garbage collector
func (b *MessageBus) SubscriberNames() []string {
	b.regMu.RLock()
	defer b.regMu.RUnlock()
	names := make([]string, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		if !s.IsGC() {
			names = append(names, s.Name())
		}
	}
	return names
}

// SubscriberCount returns the number of non-GC subscribers
func (b *MessageBus) SubscriberCount() int {
	return len(b.SubscriberNames())
}

// Subscribers describes every registered subscriber
func (b *MessageBus) Subscribers() []SubscriberInfo {
	b.regMu.RLock()
	defer b.regMu.RUnlock()
	infos := make([]SubscriberInfo, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		info := SubscriberInfo{Name: s.Name(), GC: s.IsGC(), Enabled: s.Enabled()}
		if l, ok := s.(EventLister); ok {
			for _, e := range l.Events() {
				info.Events = append(info.Events, e.String())
			}
		}
		infos = append(infos, info)
	}
	return infos
}

// Publishers returns the registered publisher names in order
func (b *MessageBus) Publishers() []string {
	b.regMu.RLock()
	defer b.regMu.RUnlock()
	names := make([]string, 0, len(b.publishers))
	for _, p := range b.publishers {
		names = append(names, p.Name())
	}
	sort.Strings(names)
	return names
}

// Publish appends an envelope to the tail of the queue
func (b *MessageBus) Publish(msg *message.Message) error {
	if b.fsm.Is(lifecycle.StateClosed) {
		return ErrClosed
	}
	if msg.GarbageCollected() {
		return fmt.Errorf("publish %s: %w", msg.Name(), message.ErrGarbageCollected)
	}

	b.mu.Lock()
	b.queue = append(b.queue, msg)
	b.lastPublished = time.Now()
	depth := len(b.queue)
	b.mu.Unlock()

	b.stats.published.Add(1)
	metrics.QueueDepth.Set(float64(depth))
	metrics.EnvelopesPublished.WithLabelValues(string(msg.Event().Group())).Inc()

	if msg.Event().Group() == event.GroupClock {
		b.logger.Debug().Str("envelope", msg.Name()).Str("event", msg.Event().String()).Msg("published")
	} else {
		b.logger.Info().Str("envelope", msg.Name()).Str("event", msg.Event().String()).Int("queue", depth).Msg("published")
	}
	return nil
}

// Peek returns the head envelope without removing it
func (b *MessageBus) Peek() *message.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return nil
	}
	return b.queue[0]
}

// Consume offers the head envelope to decide while holding the queue
// lock. The head is removed only when decide accepts it.
func (b *MessageBus) Consume(decide func(msg *message.Message) (bool, error)) (*message.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.queue) == 0 {
		return nil, nil
	}
	head := b.queue[0]
	if head.GarbageCollected() {
		// cannot be served to anyone; drop it so the queue keeps moving
		b.popLocked()
		return nil, fmt.Errorf("consume %s: %w", head.Name(), message.ErrGarbageCollected)
	}

	take, err := decide(head)
	if err != nil {
		return nil, err
	}
	if !take {
		return nil, nil
	}
	b.popLocked()
	b.stats.consumed.Add(1)
	return head, nil
}

// Collect pops the head envelope when accept approves it and marks it
// garbage collected. Collected envelopes are never republished.
func (b *MessageBus) Collect(accept func(msg *message.Message) bool) (*message.Message, error) {
	b.mu.Lock()
	if len(b.queue) == 0 {
		b.mu.Unlock()
		return nil, nil
	}
	head := b.queue[0]
	if !accept(head) {
		b.mu.Unlock()
		return nil, nil
	}
	b.popLocked()
	b.mu.Unlock()

	expired := b.IsExpired(head)
	if err := head.GC(); err != nil {
		return nil, err
	}

	reason := "acknowledged"
	if expired {
		reason = "expired"
		b.stats.expired.Add(1)
	}
	b.stats.collected.Add(1)
	metrics.EnvelopesCollected.WithLabelValues(reason).Inc()

	if head.Sent() == 0 {
		b.stats.deliveryFailures.Add(1)
		metrics.DeliveryFailures.Inc()
	}
	return head, nil
}

func (b *MessageBus) popLocked() {
	b.queue[0] = nil
	b.queue = b.queue[1:]
	metrics.QueueDepth.Set(float64(len(b.queue)))
}

// Republish returns a processed envelope to the tail of the queue and
// starts its next lap
func (b *MessageBus) Republish(msg *message.Message) error {
	if err := msg.BeginLap(b.SubscriberNames()); err != nil {
		return err
	}

	b.mu.Lock()
	b.queue = append(b.queue, msg)
	depth := len(b.queue)
	b.mu.Unlock()

	b.stats.republished.Add(1)
	metrics.QueueDepth.Set(float64(depth))
	metrics.EnvelopesRepublished.Inc()
	b.logger.Debug().Str("envelope", msg.Name()).Int("laps", msg.Laps()).Msg("republished")
	return nil
}

// Arbitrate forwards the envelope payload to the controller exactly once.
// Permanent envelopes are forwarded by every caller.
func (b *MessageBus) Arbitrate(ctx context.Context, msg *message.Message) error {
	ok, err := msg.MarkArbitrated()
	if err != nil {
		return err
	}
	if !ok {
		b.stats.doubleArbitrations.Add(1)
		metrics.DoubleArbitrations.Inc()
		b.logger.Warn().Str("envelope", msg.Name()).Str("envelope_id", msg.ID()).Int("sent", msg.Sent()).Msg("envelope already arbitrated")
		return fmt.Errorf("arbitrate %s: %w", msg.Name(), ErrAlreadyArbitrated)
	}

	b.regMu.RLock()
	sink := b.sink
	b.regMu.RUnlock()
	if sink == nil {
		b.logger.Warn().Str("envelope", msg.Name()).Str("event", msg.Event().String()).Msg("no controller to arbitrate")
		return ErrNoController
	}

	sink.Callback(msg.Payload())
	b.stats.arbitrated.Add(1)
	metrics.Arbitrations.WithLabelValues(msg.Event().String()).Inc()

	if b.cfg.Notifier != nil {
		b.cfg.Notifier.Publish(notify.New(notify.EnvelopeArbitrated, msg.Name(), map[string]string{
			"event":      msg.Event().String(),
			"controller": sink.Name(),
		}))
	}
	return nil
}

// ScheduleExpiry marks the envelope expired after the cleanup delay. A
// closing bus expires pending envelopes at once.
func (b *MessageBus) ScheduleExpiry(msg *message.Message) {
	if b.cfg.CleanupDelay <= 0 {
		b.expire(msg)
		return
	}

	b.cleanups.Add(1)
	go func() {
		defer b.cleanups.Done()
		timer := time.NewTimer(b.cfg.CleanupDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-b.closing:
		}
		b.expire(msg)
	}()
}

func (b *MessageBus) expire(msg *message.Message) {
	if err := msg.Expire(); err != nil {
		b.logger.Debug().Err(err).Str("envelope", msg.Name()).Msg("envelope retired before cleanup")
	}
}

// IsExpired reports whether the envelope is flagged expired or older than
// the configured maximum age. It never takes the queue lock.
func (b *MessageBus) IsExpired(msg *message.Message) bool {
	if msg.Expired() {
		return true
	}
	return b.cfg.MaxAge > 0 && msg.Age() > b.cfg.MaxAge
}

// QueueSize returns the number of queued envelopes
func (b *MessageBus) QueueSize() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// LastMessageTimestamp returns when the last fresh envelope was
// published, or the zero time
func (b *MessageBus) LastMessageTimestamp() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastPublished
}

// Clear drops every queued envelope and returns how many were dropped
func (b *MessageBus) Clear() int {
	b.mu.Lock()
	n := len(b.queue)
	b.queue = nil
	b.mu.Unlock()
	metrics.QueueDepth.Set(0)
	return n
}

// HealthName implements metrics.HealthSource
func (b *MessageBus) HealthName() string {
	return "bus"
}

// Health reports healthy while the bus is enabled
func (b *MessageBus) Health() (bool, string) {
	state := b.State()
	if state == lifecycle.StateEnabled {
		return true, fmt.Sprintf("queue %d, subscribers %d", b.QueueSize(), b.SubscriberCount())
	}
	return false, "bus is " + state.String()
}
