package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type represents the kind of notification
type Type string

const (
	EnvelopeArbitrated     Type = "envelope.arbitrated"
	EnvelopeCollected      Type = "envelope.collected"
	EnvelopeDeliveryFailed Type = "envelope.delivery_failed"
	BehaviourActivated     Type = "behaviour.activated"
	BehaviourSuppressed    Type = "behaviour.suppressed"
	BehaviourReleased      Type = "behaviour.released"
	ArbitratorSuppressed   Type = "arbitrator.suppressed"
	ArbitratorReleased     Type = "arbitrator.released"
)

// Notification is a diagnostic record about bus or behaviour activity
type Notification struct {
	ID        string            `json:"id"`
	Type      Type              `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Message   string            `json:"message,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// New creates a notification with a fresh id
func New(t Type, msg string, metadata map[string]string) *Notification {
	return &Notification{
		ID:        uuid.New().String(),
		Type:      t,
		Timestamp: time.Now(),
		Message:   msg,
		Metadata:  metadata,
	}
}

// Subscriber is a channel that receives notifications
type Subscriber chan *Notification

// Broker fans notifications out to per-subscriber channels. Publish never
// blocks: when the broker or a subscriber buffer is full the notification
// is dropped for that reader.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Notification
	stopCh      chan struct{}
	doneCh      chan struct{}
	dropped     uint64
}

// NewBroker creates a new notification broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Notification, 256),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start begins the broker's distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker and closes every subscriber channel
func (b *Broker) Stop() {
	close(b.stopCh)
	<-b.doneCh

	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subscribers {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 64)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish queues a notification for distribution
func (b *Broker) Publish(n *Notification) {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- n:
	default:
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
	}
}

// Dropped returns how many notifications were dropped at the broker queue
func (b *Broker) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

func (b *Broker) run() {
	defer close(b.doneCh)
	for {
		select {
		case n := <-b.eventCh:
			b.broadcast(n)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(n *Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- n:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
