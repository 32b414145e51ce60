package message

import (
	"math/rand/v2"
	"time"

	"github.com/cuemby/kros/pkg/event"
	"github.com/google/uuid"
)

const nameAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Directory lists the subscribers that seed an envelope's ack ledger
type Directory interface {
	SubscriberNames() []string
}

// Factory is the only constructor of envelopes
type Factory struct {
	directory Directory
	now       func() time.Time
}

// NewFactory creates a factory seeding ledgers from directory, which may be nil
func NewFactory(directory Directory) *Factory {
	return &Factory{directory: directory, now: time.Now}
}

// Create wraps e and value in a new envelope
func (f *Factory) Create(e event.Event, value any) *Message {
	return f.build(NewPayload(e, value), 0)
}

// CreateFromPayload wraps an existing payload in a new envelope
func (f *Factory) CreateFromPayload(p Payload) *Message {
	return f.build(p, 0)
}

// CreatePermanent creates an envelope carrying the permanent sentinel
func (f *Factory) CreatePermanent(e event.Event, value any) *Message {
	return f.build(NewPayload(e, value), PermanentSentinel)
}

func (f *Factory) build(p Payload, sent int) *Message {
	m := &Message{
		id:          uuid.New().String(),
		name:        instanceName(),
		timestamp:   f.now(),
		payload:     p,
		sent:        sent,
		processedBy: make(map[string]int),
		acks:        make(map[string]bool),
	}
	if f.directory != nil {
		for _, name := range f.directory.SubscriberNames() {
			m.acks[name] = false
		}
	}
	return m
}

func instanceName() string {
	b := []byte("id-0000")
	for i := 3; i < len(b); i++ {
		b[i] = nameAlphabet[rand.IntN(len(nameAlphabet))]
	}
	return string(b)
}
