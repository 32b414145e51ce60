// Package publisher provides publishers that feed the bus from outside
// the subscriber loops.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cuemby/kros/pkg/component"
	"github.com/cuemby/kros/pkg/event"
	"github.com/cuemby/kros/pkg/log"
	"github.com/cuemby/kros/pkg/message"
	"github.com/cuemby/kros/pkg/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// LoopTask is the bus task name of the queue publisher loop
const LoopTask = "queue-publisher-loop"

// ErrLoopRunning is returned when the publisher loop is already registered
var ErrLoopRunning = errors.New("queue publisher loop already running")

// TaskRunner hosts the publisher loop
type TaskRunner interface {
	AddTask(name string, fn func(ctx context.Context)) error
	CancelTask(name string) bool
	GetTaskByName(name string) bool
}

// QueuePublisher buffers payloads locally and publishes them in batches
// from a paced loop. It lets code without a place in a subscriber loop
// publish without blocking.
type QueuePublisher struct {
	*component.Publisher

	tasks   TaskRunner
	limiter *rate.Limiter
	logger  zerolog.Logger

	mu      sync.Mutex
	pending []message.Payload
}

// NewQueuePublisher creates a released queue publisher whose loop runs at
// freqHz
func NewQueuePublisher(bus component.Bus, tasks TaskRunner, factory *message.Factory, freqHz float64) *QueuePublisher {
	logger := log.WithComponent("publisher").With().Str("publisher", "queue").Logger()
	logger.Info().Float64("loop_freq_hz", freqHz).Msg("queue publisher ready")
	return &QueuePublisher{
		Publisher: component.NewPublisher("queue", bus, factory, false),
		tasks:     tasks,
		limiter:   rate.NewLimiter(rate.Limit(freqHz), 1),
		logger:    logger,
	}
}

// Put queues an event for publication
func (q *QueuePublisher) Put(e event.Event, value any) error {
	return q.PutPayload(message.NewPayload(e, value))
}

// PutPayload queues a payload for publication. It is ignored while the
// publisher is disabled.
func (q *QueuePublisher) PutPayload(p message.Payload) error {
	if !q.Enabled() {
		q.logger.Warn().Str("event", p.Event.String()).Msg("payload ignored: queue publisher disabled")
		return fmt.Errorf("queue publisher: %w", component.ErrDisabled)
	}
	q.mu.Lock()
	q.pending = append(q.pending, p)
	n := len(q.pending)
	q.mu.Unlock()

	metrics.QueuePublisherPending.Set(float64(n))
	q.logger.Debug().Str("event", p.Event.String()).Int("pending", n).Msg("payload queued")
	return nil
}

// Pending returns the number of queued payloads
func (q *QueuePublisher) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Enable enables the publisher and starts its loop
func (q *QueuePublisher) Enable() error {
	if q.tasks.GetTaskByName(LoopTask) {
		return ErrLoopRunning
	}
	if err := q.Publisher.Enable(); err != nil {
		return err
	}
	if err := q.tasks.AddTask(LoopTask, q.loop); err != nil {
		return fmt.Errorf("failed to start publisher loop: %w", err)
	}
	q.logger.Info().Msg("queue publisher enabled")
	return nil
}

// Disable stops the loop and drops queued payloads
func (q *QueuePublisher) Disable() error {
	q.tasks.CancelTask(LoopTask)
	q.Clear()
	return q.Publisher.Disable()
}

// Close disables the publisher if needed and closes it
func (q *QueuePublisher) Close() error {
	if q.Enabled() {
		if err := q.Disable(); err != nil {
			return err
		}
	}
	return q.Publisher.Close()
}

// Clear drops queued payloads
func (q *QueuePublisher) Clear() {
	q.mu.Lock()
	q.pending = nil
	q.mu.Unlock()
	metrics.QueuePublisherPending.Set(0)
}

func (q *QueuePublisher) loop(ctx context.Context) {
	for {
		if err := q.limiter.Wait(ctx); err != nil {
			return
		}
		if q.Suppressed() {
			continue
		}
		q.Drain()
	}
}

// Drain publishes every queued payload and returns how many were published
func (q *QueuePublisher) Drain() int {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()
	metrics.QueuePublisherPending.Set(0)

	published := 0
	for _, p := range batch {
		msg := q.Factory().CreateFromPayload(p)
		if err := q.PublishMessage(msg); err != nil {
			q.logger.Error().Err(err).Str("event", p.Event.String()).Msg("cannot publish queued payload")
			continue
		}
		published++
	}
	return published
}
