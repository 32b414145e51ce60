// Package gc implements the garbage collector, the one bus consumer that
// removes envelopes from the queue for good.
package gc

import (
	"context"
	"sync/atomic"

	"github.com/cuemby/kros/pkg/component"
	"github.com/cuemby/kros/pkg/log"
	"github.com/cuemby/kros/pkg/message"
	"github.com/cuemby/kros/pkg/notify"
	"github.com/rs/zerolog"
)

// Name is the collector's subscriber name
const Name = "gc"

// Queue is the part of the bus the collector needs
type Queue interface {
	Collect(accept func(msg *message.Message) bool) (*message.Message, error)
	IsExpired(msg *message.Message) bool
}

// Notifier receives collection notifications
type Notifier interface {
	Publish(n *notify.Notification)
}

// Journal records retired envelopes
type Journal interface {
	Record(msg *message.Message, reason string)
}

// Reasons an envelope is retired
const (
	ReasonExpired      = "expired"
	ReasonAcknowledged = "acknowledged"
)

// Collector retires envelopes that have expired or been seen by every
// subscriber.
type Collector struct {
	*component.Component

	queue    Queue
	notifier Notifier
	journal  Journal
	logger   zerolog.Logger

	collected atomic.Int64
	failures  atomic.Int64
}

// Option configures a Collector
type Option func(*Collector)

// WithNotifier publishes a notification for each retired envelope
func WithNotifier(n Notifier) Option {
	return func(c *Collector) { c.notifier = n }
}

// WithJournal records each retired envelope
func WithJournal(j Journal) Option {
	return func(c *Collector) { c.journal = j }
}

// New creates a collector over queue
func New(queue Queue, opts ...Option) *Collector {
	c := &Collector{
		Component: component.New(Name, false),
		queue:     queue,
		logger:    log.WithSubscriber(Name),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsGC reports true
func (c *Collector) IsGC() bool {
	return true
}

// Acceptable reports whether msg may be retired: it has expired or every
// subscriber has acknowledged it.
//
// The two conditions race: an envelope can expire before a slow
// subscriber has seen it. The cleanup delay keeps that window small.
func (c *Collector) Acceptable(msg *message.Message) bool {
	return c.queue.IsExpired(msg) || msg.FullyAcknowledged()
}

// Consume retires the head envelope if it is acceptable
func (c *Collector) Consume(ctx context.Context) (bool, error) {
	msg, err := c.queue.Collect(c.Acceptable)
	if err != nil {
		c.logger.Error().Err(err).Msg("collect failed")
		return false, err
	}
	if msg == nil {
		return false, nil
	}

	reason := ReasonAcknowledged
	if c.queue.IsExpired(msg) {
		reason = ReasonExpired
	}
	c.collected.Add(1)

	undelivered := msg.Sent() == 0
	if undelivered {
		c.failures.Add(1)
		c.logger.Warn().
			Str("envelope", msg.Name()).
			Str("event", msg.Event().String()).
			Str("acks", msg.PrintAcks()).
			Msg("delivery failure: envelope retired without arbitration")
	} else {
		c.logger.Debug().
			Str("envelope", msg.Name()).
			Str("reason", reason).
			Int("laps", msg.Laps()).
			Msg("envelope collected")
	}

	if c.journal != nil {
		c.journal.Record(msg, reason)
	}
	if c.notifier != nil {
		t := notify.EnvelopeCollected
		if undelivered {
			t = notify.EnvelopeDeliveryFailed
		}
		c.notifier.Publish(notify.New(t, msg.Name(), map[string]string{
			"event":  msg.Event().String(),
			"reason": reason,
		}))
	}
	return true, nil
}

// Collected returns how many envelopes have been retired
func (c *Collector) Collected() int64 {
	return c.collected.Load()
}

// Failures returns how many envelopes were retired without arbitration
func (c *Collector) Failures() int64 {
	return c.failures.Load()
}

// HealthName implements metrics.HealthSource
func (c *Collector) HealthName() string {
	return Name
}

// Health reports healthy while the collector is enabled
func (c *Collector) Health() (bool, string) {
	if !c.Enabled() {
		return false, "collector is " + c.State().String()
	}
	return true, "collecting"
}
