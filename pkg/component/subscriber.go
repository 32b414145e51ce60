package component

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/cuemby/kros/pkg/event"
	"github.com/cuemby/kros/pkg/log"
	"github.com/cuemby/kros/pkg/message"
	"github.com/cuemby/kros/pkg/metrics"
	"github.com/rs/zerolog"
)

// Handler processes an envelope accepted by a subscriber
type Handler interface {
	Handle(ctx context.Context, msg *message.Message) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, msg *message.Message) error

// Handle calls f(ctx, msg)
func (f HandlerFunc) Handle(ctx context.Context, msg *message.Message) error {
	return f(ctx, msg)
}

// Subscriber consumes envelopes whose event it accepts. Consume runs one
// cycle of the delivery protocol; the bus calls it from the subscriber's loop.
type Subscriber struct {
	*Component

	bus     Bus
	handler Handler
	logger  zerolog.Logger

	mu     sync.RWMutex
	events map[event.Event]struct{}
	groups map[event.Group]struct{}
	all    bool
}

// NewSubscriber creates a released subscriber with an empty filter
func NewSubscriber(name string, bus Bus, handler Handler) *Subscriber {
	return &Subscriber{
		Component: New(name, false),
		bus:       bus,
		handler:   handler,
		logger:    log.WithSubscriber(name),
		events:    make(map[event.Event]struct{}),
		groups:    make(map[event.Group]struct{}),
	}
}

// IsGC reports false; only the garbage collector returns true
func (s *Subscriber) IsGC() bool {
	return false
}

// Logger returns the subscriber's logger
func (s *Subscriber) Logger() *zerolog.Logger {
	return &s.logger
}

// AddEvents adds events to the filter
func (s *Subscriber) AddEvents(events ...event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		s.events[e] = struct{}{}
	}
	s.logger.Debug().Int("events", len(s.events)).Msg("configured events")
}

// AddGroups adds every event of the given groups to the filter
func (s *Subscriber) AddGroups(groups ...event.Group) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range groups {
		s.groups[g] = struct{}{}
	}
}

// AcceptAll makes the subscriber a wildcard listener
func (s *Subscriber) AcceptAll() {
	s.mu.Lock()
	s.all = true
	s.mu.Unlock()
}

// Accepts reports whether e passes the filter
func (s *Subscriber) Accepts(e event.Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.all {
		return true
	}
	if _, ok := s.events[e]; ok {
		return true
	}
	_, ok := s.groups[e.Group()]
	return ok
}

// Events returns the effective filter ordered by id
func (s *Subscriber) Events() []event.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.all {
		return event.All()
	}
	seen := make(map[event.Event]struct{}, len(s.events))
	for e := range s.events {
		seen[e] = struct{}{}
	}
	for g := range s.groups {
		for _, e := range event.InGroup(g) {
			seen[e] = struct{}{}
		}
	}
	events := make([]event.Event, 0, len(seen))
	for e := range seen {
		events = append(events, e)
	}
	sort.Slice(events, func(i, j int) bool { return events[i] < events[j] })
	return events
}

// decide runs under the bus queue lock. Unacceptable envelopes are
// acknowledged as seen and left at the head for the next consumer.
func (s *Subscriber) decide(msg *message.Message) (bool, error) {
	name := s.Name()
	if msg.AcknowledgedBy(name) {
		return false, nil
	}
	if err := msg.Acknowledge(name); err != nil {
		return false, err
	}
	return s.Accepts(msg.Event()), nil
}

// Consume runs one delivery cycle and reports whether an envelope was handled
func (s *Subscriber) Consume(ctx context.Context) (bool, error) {
	msg, err := s.bus.Consume(s.decide)
	if err != nil {
		s.logger.Error().Err(err).Msg("consume failed")
		return false, err
	}
	if msg == nil {
		return false, nil
	}

	s.logger.Debug().
		Str("envelope", msg.Name()).
		Str("event", msg.Event().String()).
		Msg("consuming acceptable envelope")

	if err := msg.Process(s.Name()); err != nil {
		s.logger.Error().Err(err).Str("envelope", msg.Name()).Str("envelope_id", msg.ID()).Msg("cannot process envelope")
		return false, err
	}

	timer := metrics.NewTimer()
	if s.handler != nil {
		if err := s.handler.Handle(ctx, msg); err != nil {
			if errors.Is(err, message.ErrGarbageCollected) {
				s.logger.Error().Err(err).Str("envelope", msg.Name()).Str("envelope_id", msg.ID()).Msg("handler touched a collected envelope")
			} else {
				s.logger.Error().Err(err).Str("envelope", msg.Name()).Str("event", msg.Event().String()).Msg("handler failed")
			}
		}
	}
	timer.ObserveDurationVec(metrics.HandlerDuration, s.Name())
	metrics.EnvelopesProcessed.WithLabelValues(s.Name()).Inc()

	s.bus.ScheduleExpiry(msg)

	if msg.Sent() <= 0 {
		if err := s.bus.Arbitrate(ctx, msg); err != nil {
			s.logger.Warn().Err(err).Str("envelope", msg.Name()).Msg("arbitration skipped")
		}
	}

	if err := s.bus.Republish(msg); err != nil {
		s.logger.Error().Err(err).Str("envelope", msg.Name()).Msg("republish failed")
		return true, err
	}
	return true, nil
}
