package component

import (
	"fmt"

	"github.com/cuemby/kros/pkg/event"
	"github.com/cuemby/kros/pkg/log"
	"github.com/cuemby/kros/pkg/message"
	"github.com/rs/zerolog"
)

// Publisher creates envelopes through a Factory and hands them to the bus
type Publisher struct {
	*Component

	bus     Bus
	factory *message.Factory
	logger  zerolog.Logger
}

// NewPublisher creates a publisher
func NewPublisher(name string, bus Bus, factory *message.Factory, suppressed bool) *Publisher {
	return &Publisher{
		Component: New(name, suppressed),
		bus:       bus,
		factory:   factory,
		logger:    log.WithComponent("publisher").With().Str("publisher", name).Logger(),
	}
}

// Factory returns the envelope factory
func (p *Publisher) Factory() *message.Factory {
	return p.factory
}

// Publish wraps e and value in an envelope and publishes it
func (p *Publisher) Publish(e event.Event, value any) (*message.Message, error) {
	msg := p.factory.Create(e, value)
	if err := p.PublishMessage(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// PublishMessage publishes an envelope created elsewhere
func (p *Publisher) PublishMessage(msg *message.Message) error {
	if !p.Enabled() {
		p.logger.Warn().Str("envelope", msg.Name()).Str("event", msg.Event().String()).Msg("publish ignored: publisher disabled")
		return fmt.Errorf("%s cannot publish: %w", p.Name(), ErrDisabled)
	}
	if err := p.bus.Publish(msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", msg.Name(), err)
	}
	return nil
}
