package storage

import (
	"sync"
	"sync/atomic"

	"github.com/cuemby/kros/pkg/log"
	"github.com/cuemby/kros/pkg/message"
	"github.com/rs/zerolog"
)

// AsyncJournal writes records to a Store from a background goroutine.
// Record never blocks; when the buffer is full the record is dropped.
type AsyncJournal struct {
	store  Store
	ch     chan *Record
	logger zerolog.Logger

	startOnce sync.Once
	done      chan struct{}

	mu     sync.RWMutex
	closed bool

	written atomic.Int64
	dropped atomic.Int64
}

// NewAsyncJournal creates a journal over store with the given buffer size
func NewAsyncJournal(store Store, buffer int) *AsyncJournal {
	if buffer <= 0 {
		buffer = 256
	}
	return &AsyncJournal{
		store:  store,
		ch:     make(chan *Record, buffer),
		logger: log.WithComponent("journal"),
		done:   make(chan struct{}),
	}
}

// Start launches the writer goroutine
func (j *AsyncJournal) Start() {
	j.startOnce.Do(func() {
		go j.run()
	})
}

// Stop flushes buffered records and waits for the writer to exit
func (j *AsyncJournal) Stop() {
	j.Start()
	j.mu.Lock()
	if !j.closed {
		j.closed = true
		close(j.ch)
	}
	j.mu.Unlock()
	<-j.done
}

// Record snapshots msg and queues it for writing
func (j *AsyncJournal) Record(msg *message.Message, reason string) {
	j.Put(NewRecord(msg, reason))
}

// Put queues a record for writing
func (j *AsyncJournal) Put(r *Record) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		j.dropped.Add(1)
		return
	}
	select {
	case j.ch <- r:
	default:
		j.dropped.Add(1)
		j.logger.Debug().Str("envelope", r.Name).Msg("journal buffer full, record dropped")
	}
}

// Written returns how many records reached the store
func (j *AsyncJournal) Written() int64 {
	return j.written.Load()
}

// Dropped returns how many records were discarded
func (j *AsyncJournal) Dropped() int64 {
	return j.dropped.Load()
}

func (j *AsyncJournal) run() {
	defer close(j.done)
	for r := range j.ch {
		if err := j.store.Put(r); err != nil {
			j.logger.Error().Err(err).Str("envelope", r.Name).Msg("failed to write journal record")
			continue
		}
		j.written.Add(1)
	}
}
