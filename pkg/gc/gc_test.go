package gc

import (
	"context"
	"testing"

	"github.com/cuemby/kros/pkg/event"
	"github.com/cuemby/kros/pkg/message"
	"github.com/cuemby/kros/pkg/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type names []string

func (n names) SubscriberNames() []string { return n }

// singleQueue holds at most one envelope
type singleQueue struct {
	head    *message.Message
	expired bool
}

func (q *singleQueue) Collect(accept func(*message.Message) bool) (*message.Message, error) {
	if q.head == nil || !accept(q.head) {
		return nil, nil
	}
	m := q.head
	q.head = nil
	if err := m.GC(); err != nil {
		return nil, err
	}
	return m, nil
}

func (q *singleQueue) IsExpired(m *message.Message) bool {
	return q.expired || m.Expired()
}

type recordingJournal struct {
	reasons map[string]string
}

func (j *recordingJournal) Record(m *message.Message, reason string) {
	j.reasons[m.Name()] = reason
}

type recordingNotifier struct {
	got []*notify.Notification
}

func (n *recordingNotifier) Publish(note *notify.Notification) {
	n.got = append(n.got, note)
}

func TestCollectorIsGC(t *testing.T) {
	c := New(&singleQueue{})
	assert.Equal(t, Name, c.Name())
	assert.True(t, c.IsGC())
	assert.False(t, c.Enabled())
}

func TestCollectorAcceptance(t *testing.T) {
	factory := message.NewFactory(names{"a", "b"})

	tests := []struct {
		name    string
		acks    []string
		expired bool
		want    bool
	}{
		{name: "fresh and unseen", want: false},
		{name: "partially acknowledged", acks: []string{"a"}, want: false},
		{name: "fully acknowledged", acks: []string{"a", "b"}, want: true},
		{name: "expired but unseen", expired: true, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := factory.Create(event.Stop, nil)
			for _, a := range tt.acks {
				require.NoError(t, m.Acknowledge(a))
			}
			q := &singleQueue{head: m, expired: tt.expired}
			c := New(q)

			worked, err := c.Consume(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, worked)
			assert.Equal(t, tt.want, m.GarbageCollected())
		})
	}
}

func TestCollectorCountsDeliveryFailures(t *testing.T) {
	factory := message.NewFactory(nil)

	undelivered := factory.Create(event.Halt, nil)
	arbitrated := factory.Create(event.Halt, nil)
	_, err := arbitrated.MarkArbitrated()
	require.NoError(t, err)
	permanent := factory.CreatePermanent(event.Halt, nil)

	journal := &recordingJournal{reasons: map[string]string{}}
	notifier := &recordingNotifier{}
	q := &singleQueue{}
	c := New(q, WithJournal(journal), WithNotifier(notifier))

	for _, m := range []*message.Message{undelivered, arbitrated, permanent} {
		q.head = m
		worked, err := c.Consume(context.Background())
		require.NoError(t, err)
		require.True(t, worked)
	}

	assert.Equal(t, int64(3), c.Collected())
	assert.Equal(t, int64(1), c.Failures(), "only the unarbitrated envelope is a failure")
	assert.Equal(t, ReasonAcknowledged, journal.reasons[undelivered.Name()])

	require.Len(t, notifier.got, 3)
	assert.Equal(t, notify.EnvelopeDeliveryFailed, notifier.got[0].Type)
	assert.Equal(t, notify.EnvelopeCollected, notifier.got[1].Type)
	assert.Equal(t, notify.EnvelopeCollected, notifier.got[2].Type)
}

func TestCollectorExpiredReason(t *testing.T) {
	m := message.NewFactory(names{"a"}).Create(event.Roam, nil)
	require.NoError(t, m.Expire())

	journal := &recordingJournal{reasons: map[string]string{}}
	c := New(&singleQueue{head: m}, WithJournal(journal))

	worked, err := c.Consume(context.Background())
	require.NoError(t, err)
	assert.True(t, worked)
	assert.Equal(t, ReasonExpired, journal.reasons[m.Name()])
}

func TestCollectorHealth(t *testing.T) {
	c := New(&singleQueue{})
	ok, _ := c.Health()
	assert.False(t, ok)

	require.NoError(t, c.Start())
	require.NoError(t, c.Enable())
	ok, detail := c.Health()
	assert.True(t, ok)
	assert.Equal(t, "collecting", detail)
}
