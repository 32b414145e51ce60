package storage

import (
	"testing"
	"time"

	"github.com/cuemby/kros/pkg/event"
	"github.com/cuemby/kros/pkg/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type names []string

func (n names) SubscriberNames() []string { return n }

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func retired(t *testing.T, e event.Event, arbitrated bool) *message.Message {
	t.Helper()
	m := message.NewFactory(names{"motion"}).Create(e, 0.5)
	require.NoError(t, m.Acknowledge("motion"))
	require.NoError(t, m.Process("motion"))
	if arbitrated {
		_, err := m.MarkArbitrated()
		require.NoError(t, err)
	}
	require.NoError(t, m.GC())
	return m
}

func TestNewRecord(t *testing.T) {
	m := retired(t, event.HalfAhead, false)
	r := NewRecord(m, "acknowledged")

	assert.Equal(t, m.ID(), r.ID)
	assert.Equal(t, "HALF_AHEAD", r.Event)
	assert.True(t, r.DeliveryFailed)
	assert.Equal(t, map[string]bool{"motion": true}, r.Acks)
	assert.Equal(t, []string{"motion"}, r.ProcessedBy)
	assert.NotEmpty(t, r.Value)
}

func TestBoltStorePutGet(t *testing.T) {
	store := newTestStore(t)
	r := NewRecord(retired(t, event.Stop, true), "expired")
	require.NoError(t, store.Put(r))

	got, err := store.Get(r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.Name, got.Name)
	assert.Equal(t, 1, got.Sent)
	assert.False(t, got.DeliveryFailed)
	assert.True(t, r.CollectedAt.Equal(got.CollectedAt))

	_, err = store.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBoltStoreListAndFailures(t *testing.T) {
	store := newTestStore(t)

	base := time.Now()
	for i, arbitrated := range []bool{true, false, true, false} {
		r := NewRecord(retired(t, event.Roam, arbitrated), "acknowledged")
		r.CollectedAt = base.Add(time.Duration(3-i) * time.Second)
		require.NoError(t, store.Put(r))
	}

	all, err := store.List()
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i-1].CollectedAt.Before(all[i].CollectedAt), "records are ordered by collection time")
	}

	failures, err := store.ListFailures()
	require.NoError(t, err)
	assert.Len(t, failures, 2)

	n, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestBoltStoreReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := NewBoltStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Put(NewRecord(retired(t, event.Brake, true), "expired")))
	require.NoError(t, store.Close())

	store, err = NewBoltStore(dir)
	require.NoError(t, err)
	defer store.Close()
	n, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAsyncJournal(t *testing.T) {
	store := newTestStore(t)
	j := NewAsyncJournal(store, 16)
	j.Start()

	for i := 0; i < 5; i++ {
		j.Record(retired(t, event.InfraredCntr, i%2 == 0), "acknowledged")
	}
	j.Stop()

	assert.Equal(t, int64(5), j.Written())
	n, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	j.Record(retired(t, event.InfraredCntr, true), "acknowledged")
	assert.Equal(t, int64(1), j.Dropped(), "records after stop are dropped")
	j.Stop()
}
