package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/kros/pkg/event"
	"github.com/cuemby/kros/pkg/lifecycle"
	"github.com/cuemby/kros/pkg/message"
	"github.com/cuemby/kros/pkg/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeSubscriber struct {
	name     string
	gc       bool
	disabled atomic.Bool
	polls    atomic.Int64
}

func (f *fakeSubscriber) Name() string  { return f.name }
func (f *fakeSubscriber) IsGC() bool    { return f.gc }
func (f *fakeSubscriber) Enabled() bool { return !f.disabled.Load() }

func (f *fakeSubscriber) Consume(ctx context.Context) (bool, error) {
	f.polls.Add(1)
	return false, nil
}

type fakeSink struct {
	mu       sync.Mutex
	payloads []message.Payload
}

func (s *fakeSink) Name() string { return "sink" }

func (s *fakeSink) Callback(p message.Payload) {
	s.mu.Lock()
	s.payloads = append(s.payloads, p)
	s.mu.Unlock()
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}

type recordingNotifier struct {
	mu    sync.Mutex
	types []notify.Type
}

func (r *recordingNotifier) Publish(n *notify.Notification) {
	r.mu.Lock()
	r.types = append(r.types, n.Type)
	r.mu.Unlock()
}

func TestLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	mb := New(Config{})
	assert.Equal(t, lifecycle.StateInitial, mb.State())

	var illegal *lifecycle.IllegalStateError
	assert.ErrorAs(t, mb.Enable(), &illegal)

	require.NoError(t, mb.Start(context.Background()))
	require.NoError(t, mb.Enable())
	assert.True(t, mb.Enabled())
	ok, _ := mb.Health()
	assert.True(t, ok)

	require.NoError(t, mb.Disable())
	assert.False(t, mb.Enabled())
	ok, msg := mb.Health()
	assert.False(t, ok)
	assert.Contains(t, msg, "disabled")

	require.NoError(t, mb.Enable())
	require.NoError(t, mb.Close())
	assert.Equal(t, lifecycle.StateClosed, mb.State())

	f := message.NewFactory(nil)
	assert.ErrorIs(t, mb.Publish(f.Create(event.Stop, nil)), ErrClosed)
}

func TestPublishPeekConsume(t *testing.T) {
	mb := New(Config{})
	f := message.NewFactory(mb)

	assert.Nil(t, mb.Peek())
	got, err := mb.Consume(func(*message.Message) (bool, error) { return true, nil })
	require.NoError(t, err)
	assert.Nil(t, got, "empty queue yields nothing")

	first := f.Create(event.Stop, nil)
	second := f.Create(event.Ahead, nil)
	require.NoError(t, mb.Publish(first))
	require.NoError(t, mb.Publish(second))
	assert.Equal(t, 2, mb.QueueSize())
	assert.Same(t, first, mb.Peek())
	assert.False(t, mb.LastMessageTimestamp().IsZero())

	got, err = mb.Consume(func(*message.Message) (bool, error) { return false, nil })
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 2, mb.QueueSize(), "declined head stays put")

	got, err = mb.Consume(func(*message.Message) (bool, error) { return true, nil })
	require.NoError(t, err)
	assert.Same(t, first, got)
	assert.Same(t, second, mb.Peek())

	stats := mb.Stats()
	assert.Equal(t, int64(2), stats.Published)
	assert.Equal(t, int64(1), stats.Consumed)
	assert.Equal(t, 1, stats.QueueSize)
}

func TestPublishRejectsCollected(t *testing.T) {
	mb := New(Config{})
	msg := message.NewFactory(nil).Create(event.Stop, nil)
	require.NoError(t, msg.GC())

	assert.ErrorIs(t, mb.Publish(msg), message.ErrGarbageCollected)
	assert.Zero(t, mb.QueueSize())
}

func TestConsumeDropsCollectedHead(t *testing.T) {
	mb := New(Config{})
	msg := message.NewFactory(nil).Create(event.Stop, nil)
	require.NoError(t, mb.Publish(msg))
	require.NoError(t, msg.GC())

	called := false
	got, err := mb.Consume(func(*message.Message) (bool, error) {
		called = true
		return true, nil
	})
	assert.ErrorIs(t, err, message.ErrGarbageCollected)
	assert.Nil(t, got)
	assert.False(t, called)
	assert.Zero(t, mb.QueueSize())
}

func TestCollect(t *testing.T) {
	mb := New(Config{})
	f := message.NewFactory(nil)

	fresh := f.Create(event.Stop, nil)
	require.NoError(t, mb.Publish(fresh))

	got, err := mb.Collect(func(*message.Message) bool { return false })
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 1, mb.QueueSize())

	require.NoError(t, fresh.Expire())
	got, err = mb.Collect(func(m *message.Message) bool { return mb.IsExpired(m) })
	require.NoError(t, err)
	require.Same(t, fresh, got)
	assert.True(t, got.GarbageCollected())

	arbitrated := f.Create(event.Ahead, nil)
	_, err = arbitrated.MarkArbitrated()
	require.NoError(t, err)
	require.NoError(t, mb.Publish(arbitrated))
	got, err = mb.Collect(func(*message.Message) bool { return true })
	require.NoError(t, err)
	require.Same(t, arbitrated, got)

	stats := mb.Stats()
	assert.Equal(t, int64(2), stats.Collected)
	assert.Equal(t, int64(1), stats.Expired)
	assert.Equal(t, int64(1), stats.DeliveryFailures, "only the never-arbitrated envelope failed")
	assert.Zero(t, mb.QueueSize())
}

func TestArbitrate(t *testing.T) {
	ctx := context.Background()
	n := &recordingNotifier{}
	mb := New(Config{Notifier: n})
	f := message.NewFactory(nil)

	orphan := f.Create(event.Stop, nil)
	assert.ErrorIs(t, mb.Arbitrate(ctx, orphan), ErrNoController)

	sink := &fakeSink{}
	mb.RegisterController(sink)

	msg := f.Create(event.Ahead, nil)
	require.NoError(t, mb.Arbitrate(ctx, msg))
	assert.Equal(t, 1, msg.Sent())
	assert.ErrorIs(t, mb.Arbitrate(ctx, msg), ErrAlreadyArbitrated)
	assert.Equal(t, 1, sink.count(), "controller sees the payload exactly once")

	permanent := f.CreatePermanent(event.ClockTick, nil)
	require.NoError(t, mb.Arbitrate(ctx, permanent))
	require.NoError(t, mb.Arbitrate(ctx, permanent))
	assert.True(t, permanent.Permanent())
	assert.Equal(t, 3, sink.count())

	collected := f.Create(event.Halt, nil)
	require.NoError(t, collected.GC())
	assert.ErrorIs(t, mb.Arbitrate(ctx, collected), message.ErrGarbageCollected)

	stats := mb.Stats()
	assert.Equal(t, int64(3), stats.Arbitrated)
	assert.Equal(t, int64(1), stats.DoubleArbitrations)

	n.mu.Lock()
	defer n.mu.Unlock()
	assert.Len(t, n.types, 3)
	for _, typ := range n.types {
		assert.Equal(t, notify.EnvelopeArbitrated, typ)
	}
}

func TestRepublishTopsUpLedgerOnce(t *testing.T) {
	mb := New(Config{})
	require.NoError(t, mb.RegisterSubscriber(&fakeSubscriber{name: "a"}))
	require.NoError(t, mb.RegisterSubscriber(&fakeSubscriber{name: "gc", gc: true}))

	msg := message.NewFactory(nil).Create(event.Stop, nil)
	assert.Zero(t, msg.UnacknowledgedCount())

	require.NoError(t, mb.Republish(msg))
	assert.Equal(t, 1, msg.Laps())
	assert.Equal(t, 1, msg.UnacknowledgedCount(), "gc is never in the ledger")
	assert.False(t, msg.AcknowledgedBy("a"))

	require.NoError(t, mb.RegisterSubscriber(&fakeSubscriber{name: "b"}))
	require.NoError(t, mb.Republish(msg))
	assert.Equal(t, 2, msg.Laps())
	assert.Equal(t, 1, msg.UnacknowledgedCount(), "later laps keep the ledger")
	assert.Equal(t, 2, mb.QueueSize())

	require.NoError(t, msg.GC())
	assert.ErrorIs(t, mb.Republish(msg), message.ErrGarbageCollected)
	assert.Equal(t, int64(2), mb.Stats().Republished)
}

func TestRegisterSubscriber(t *testing.T) {
	mb := New(Config{})
	require.NoError(t, mb.RegisterSubscriber(&fakeSubscriber{name: "motion"}))
	require.NoError(t, mb.RegisterSubscriber(&fakeSubscriber{name: "gc", gc: true}))
	assert.ErrorIs(t, mb.RegisterSubscriber(&fakeSubscriber{name: "motion"}), ErrDuplicateSubscriber)

	assert.Equal(t, []string{"motion"}, mb.SubscriberNames())
	assert.Equal(t, 1, mb.SubscriberCount())
	assert.Equal(t, []SubscriberInfo{
		{Name: "motion", Enabled: true},
		{Name: "gc", GC: true, Enabled: true},
	}, mb.Subscribers())

	mb.RegisterPublisher(&fakeSubscriber{name: "queue"})
	mb.RegisterPublisher(&fakeSubscriber{name: "clock"})
	assert.Equal(t, []string{"clock", "queue"}, mb.Publishers())
}

func TestIsExpired(t *testing.T) {
	mb := New(Config{MaxAge: time.Millisecond})
	f := message.NewFactory(nil)

	msg := f.Create(event.Stop, nil)
	assert.False(t, mb.IsExpired(msg))
	time.Sleep(5 * time.Millisecond)
	assert.True(t, mb.IsExpired(msg), "older than max age")

	flagged := f.Create(event.Stop, nil)
	require.NoError(t, flagged.Expire())
	assert.True(t, New(Config{}).IsExpired(flagged))
	assert.False(t, New(Config{}).IsExpired(f.Create(event.Stop, nil)), "no max age")
}

func TestScheduleExpiry(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := message.NewFactory(nil)

	immediate := New(Config{})
	msg := f.Create(event.Stop, nil)
	immediate.ScheduleExpiry(msg)
	assert.True(t, msg.Expired())

	delayed := New(Config{CleanupDelay: 5 * time.Millisecond})
	msg = f.Create(event.Stop, nil)
	delayed.ScheduleExpiry(msg)
	assert.False(t, msg.Expired())
	require.Eventually(t, msg.Expired, time.Second, time.Millisecond)

	collected := f.Create(event.Stop, nil)
	require.NoError(t, collected.GC())
	delayed.ScheduleExpiry(collected)
	require.NoError(t, delayed.Start(context.Background()))
	require.NoError(t, delayed.Close())
	assert.False(t, collected.Expired(), "collected envelopes stay untouched")
}

func TestCloseExpiresPendingCleanups(t *testing.T) {
	defer goleak.VerifyNone(t)

	mb := New(Config{CleanupDelay: time.Hour})
	require.NoError(t, mb.Start(context.Background()))
	f := message.NewFactory(nil)

	msg := f.Create(event.Stop, nil)
	require.NoError(t, mb.Publish(f.Create(event.Ahead, nil)))
	mb.ScheduleExpiry(msg)
	assert.False(t, msg.Expired())

	require.NoError(t, mb.Close())
	assert.True(t, msg.Expired())
	assert.Zero(t, mb.QueueSize(), "close drains the queue")
}

func TestTasks(t *testing.T) {
	defer goleak.VerifyNone(t)

	mb := New(Config{})
	block := func(ctx context.Context) { <-ctx.Done() }

	assert.ErrorIs(t, mb.AddTask("early", block), ErrNotEnabled)

	require.NoError(t, mb.Start(context.Background()))
	require.NoError(t, mb.Enable())
	defer mb.Close()

	require.NoError(t, mb.AddTask("worker", block))
	assert.ErrorIs(t, mb.AddTask("worker", block), ErrTaskExists)
	assert.True(t, mb.GetTaskByName("worker"))

	require.NoError(t, mb.AddTask("oneshot", func(context.Context) {}))
	require.Eventually(t, func() bool { return !mb.GetTaskByName("oneshot") }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"worker"}, mb.TaskNames())
	assert.Equal(t, 1, mb.ClearTasks())
	require.NoError(t, mb.AddTask("oneshot", block), "finished names can be reused")

	assert.True(t, mb.CancelTask("worker"))
	assert.False(t, mb.CancelTask("worker"))
	assert.False(t, mb.GetTaskByName("worker"))
	assert.Equal(t, []string{"oneshot"}, mb.TaskNames())
}

func TestDisableSuspendsTasksUntilEnable(t *testing.T) {
	defer goleak.VerifyNone(t)

	mb := New(Config{})
	require.NoError(t, mb.Start(context.Background()))
	require.NoError(t, mb.Enable())
	defer mb.Close()

	var runs atomic.Int64
	block := func(ctx context.Context) {
		runs.Add(1)
		<-ctx.Done()
	}
	require.NoError(t, mb.AddTask("tick", block))
	require.NoError(t, mb.AddTask("forgotten", block))
	require.NoError(t, mb.AddTask("oneshot", func(context.Context) {}))
	require.Eventually(t, func() bool {
		return runs.Load() == 2 && !mb.GetTaskByName("oneshot")
	}, time.Second, time.Millisecond)

	require.NoError(t, mb.Disable())
	assert.Empty(t, mb.TaskNames())
	assert.True(t, mb.CancelTask("forgotten"), "suspended tasks can still be cancelled")
	assert.False(t, mb.CancelTask("forgotten"))

	require.NoError(t, mb.Enable())
	assert.Equal(t, []string{"tick"}, mb.TaskNames(), "finished and cancelled tasks are not resumed")
	require.Eventually(t, func() bool { return runs.Load() == 3 }, time.Second, time.Millisecond)
	assert.ErrorIs(t, mb.AddTask("tick", block), ErrTaskExists)
}

func TestEnableRunsSubscriberLoops(t *testing.T) {
	defer goleak.VerifyNone(t)

	mb := New(Config{PollInterval: time.Millisecond})
	early := &fakeSubscriber{name: "early"}
	require.NoError(t, mb.RegisterSubscriber(early))
	require.NoError(t, mb.Start(context.Background()))
	require.NoError(t, mb.Enable())

	late := &fakeSubscriber{name: "late"}
	require.NoError(t, mb.RegisterSubscriber(late))
	assert.Equal(t, []string{"subscriber-early", "subscriber-late"}, mb.TaskNames())

	require.Eventually(t, func() bool {
		return early.polls.Load() > 2 && late.polls.Load() > 2
	}, time.Second, time.Millisecond)

	late.disabled.Store(true)
	time.Sleep(5 * time.Millisecond)
	before := late.polls.Load()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, before, late.polls.Load(), "disabled subscribers are not polled")

	require.NoError(t, mb.Publish(message.NewFactory(mb).Create(event.Stop, nil)))
	require.NoError(t, mb.Disable())
	assert.Empty(t, mb.TaskNames())
	assert.Equal(t, 1, mb.QueueSize(), "disable keeps queued envelopes")

	require.NoError(t, mb.Close())
}
