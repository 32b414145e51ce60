package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestBrokerFanOut(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := NewBroker()
	b.Start()
	defer b.Stop()

	first := b.Subscribe()
	second := b.Subscribe()
	assert.Equal(t, 2, b.SubscriberCount())

	b.Publish(New(BehaviourActivated, "roam", map[string]string{"behaviour": "roam"}))

	for _, sub := range []Subscriber{first, second} {
		select {
		case n := <-sub:
			assert.Equal(t, BehaviourActivated, n.Type)
			assert.Equal(t, "roam", n.Metadata["behaviour"])
			assert.NotEmpty(t, n.ID)
		case <-time.After(time.Second):
			t.Fatal("notification not delivered")
		}
	}
}

func TestBrokerUnsubscribe(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	b.Unsubscribe(sub)
	assert.Zero(t, b.SubscriberCount())

	_, open := <-sub
	assert.False(t, open)
}

func TestBrokerPublishNeverBlocks(t *testing.T) {
	b := NewBroker()

	// not started: the queue fills and further notifications are dropped
	for i := 0; i < cap(b.eventCh)+10; i++ {
		b.Publish(&Notification{Type: EnvelopeCollected})
	}
	assert.Equal(t, uint64(10), b.Dropped())

	b.Start()
	b.Stop()
}

func TestStopClosesSubscribers(t *testing.T) {
	b := NewBroker()
	b.Start()
	sub := b.Subscribe()
	b.Stop()

	_, open := <-sub
	require.False(t, open)
}
