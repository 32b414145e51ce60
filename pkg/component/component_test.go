package component

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cuemby/kros/pkg/event"
	"github.com/cuemby/kros/pkg/lifecycle"
	"github.com/cuemby/kros/pkg/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubBus is a single-slot bus that records calls
type stubBus struct {
	mu          sync.Mutex
	head        *message.Message
	published   []*message.Message
	republished []*message.Message
	arbitrated  []*message.Message
	expiries    int
}

func (b *stubBus) Publish(msg *message.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, msg)
	return nil
}

func (b *stubBus) Peek() *message.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.head
}

func (b *stubBus) Consume(decide Decider) (*message.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.head == nil {
		return nil, nil
	}
	ok, err := decide(b.head)
	if err != nil || !ok {
		return nil, err
	}
	msg := b.head
	b.head = nil
	return msg, nil
}

func (b *stubBus) Republish(msg *message.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.republished = append(b.republished, msg)
	b.head = msg
	return nil
}

func (b *stubBus) Arbitrate(_ context.Context, msg *message.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := msg.MarkArbitrated(); err != nil {
		return err
	}
	b.arbitrated = append(b.arbitrated, msg)
	return nil
}

func (b *stubBus) ScheduleExpiry(*message.Message) {
	b.mu.Lock()
	b.expiries++
	b.mu.Unlock()
}

func (b *stubBus) IsExpired(msg *message.Message) bool { return msg.Expired() }

type directory []string

func (d directory) SubscriberNames() []string { return d }

func TestComponentLifecycle(t *testing.T) {
	c := New("roam", true)
	assert.Equal(t, lifecycle.StateInitial, c.State())
	assert.True(t, c.Suppressed())

	require.Error(t, c.Enable(), "enable before start must fail")
	require.NoError(t, c.Start())
	require.NoError(t, c.Enable())
	assert.True(t, c.Enabled())

	c.Release()
	assert.False(t, c.Suppressed())

	require.NoError(t, c.Close())
	assert.True(t, c.Closed())

	var ise *lifecycle.IllegalStateError
	assert.True(t, errors.As(c.Enable(), &ise))
}

func TestSubscriberAccepts(t *testing.T) {
	s := NewSubscriber("motion", &stubBus{}, nil)
	s.AddEvents(event.Stop)
	s.AddGroups(event.GroupInfrared)

	tests := []struct {
		e    event.Event
		want bool
	}{
		{event.Stop, true},
		{event.InfraredPort, true},
		{event.InfraredStbdSide, true},
		{event.Halt, false},
		{event.Roam, false},
	}
	for _, tt := range tests {
		t.Run(tt.e.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, s.Accepts(tt.e))
		})
	}

	assert.Len(t, s.Events(), 6)

	s.AcceptAll()
	assert.True(t, s.Accepts(event.Roam))
	assert.Len(t, s.Events(), len(event.All()))
}

func TestSubscriberConsumeCycle(t *testing.T) {
	bus := &stubBus{}
	factory := message.NewFactory(directory{"motion", "other"})

	var handled []string
	s := NewSubscriber("motion", bus, HandlerFunc(func(_ context.Context, msg *message.Message) error {
		handled = append(handled, msg.Name())
		return nil
	}))
	s.AddEvents(event.Stop)

	msg := factory.Create(event.Stop, nil)
	bus.head = msg

	worked, err := s.Consume(context.Background())
	require.NoError(t, err)
	assert.True(t, worked)
	assert.Equal(t, []string{msg.Name()}, handled)
	assert.True(t, msg.AcknowledgedBy("motion"))
	assert.Equal(t, 1, msg.Sent())
	assert.Equal(t, []string{"motion"}, msg.ProcessedBy())
	assert.Len(t, bus.arbitrated, 1)
	assert.Len(t, bus.republished, 1)
	assert.Equal(t, 1, bus.expiries)

	// the envelope is back at the head: a second cycle must not handle it again
	worked, err = s.Consume(context.Background())
	require.NoError(t, err)
	assert.False(t, worked)
	assert.Len(t, handled, 1)
	assert.Same(t, msg, bus.Peek())
}

func TestSubscriberAcksUnacceptableAsSeen(t *testing.T) {
	bus := &stubBus{}
	factory := message.NewFactory(directory{"motion"})
	s := NewSubscriber("motion", bus, nil)
	s.AddEvents(event.Stop)

	msg := factory.Create(event.Roam, nil)
	bus.head = msg

	worked, err := s.Consume(context.Background())
	require.NoError(t, err)
	assert.False(t, worked)
	assert.True(t, msg.AcknowledgedBy("motion"))
	assert.Same(t, msg, bus.Peek(), "unacceptable envelope stays at the head")
	assert.Zero(t, msg.Sent())
}

func TestSubscriberDoesNotReArbitrate(t *testing.T) {
	bus := &stubBus{}
	factory := message.NewFactory(nil)
	s := NewSubscriber("late", bus, nil)
	s.AddEvents(event.Halt)

	msg := factory.Create(event.Halt, nil)
	_, err := msg.MarkArbitrated()
	require.NoError(t, err)
	bus.head = msg

	worked, err := s.Consume(context.Background())
	require.NoError(t, err)
	assert.True(t, worked)
	assert.Empty(t, bus.arbitrated)
}

func TestSubscriberRejectsCollectedEnvelope(t *testing.T) {
	bus := &stubBus{}
	s := NewSubscriber("motion", bus, nil)
	s.AddEvents(event.Stop)

	msg := message.NewFactory(nil).Create(event.Stop, nil)
	require.NoError(t, msg.GC())
	bus.head = msg

	_, err := s.Consume(context.Background())
	assert.ErrorIs(t, err, message.ErrGarbageCollected)
}

func TestPublisher(t *testing.T) {
	bus := &stubBus{}
	p := NewPublisher("sensors", bus, message.NewFactory(nil), false)

	_, err := p.Publish(event.InfraredCntr, 10.0)
	assert.ErrorIs(t, err, ErrDisabled)

	require.NoError(t, p.Start())
	require.NoError(t, p.Enable())
	msg, err := p.Publish(event.InfraredCntr, 10.0)
	require.NoError(t, err)
	assert.Equal(t, []*message.Message{msg}, bus.published)
}
