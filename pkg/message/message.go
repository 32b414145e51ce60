package message

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/kros/pkg/event"
)

// PermanentSentinel marks an envelope that is arbitrated by every
// subscriber that accepts it.
const PermanentSentinel = -1

// Message is the envelope wrapping one Payload while it is in transit.
// Envelopes are created by a Factory and compare by identity. A zero
// Message is usable but has no id, name or payload.
type Message struct {
	id        string
	name      string
	timestamp time.Time
	payload   Payload

	mu          sync.Mutex
	sent        int
	laps        int
	expired     bool
	gc          bool
	processedBy map[string]int
	acks        map[string]bool
}

// ID returns the unique envelope id
func (m *Message) ID() string {
	return m.id
}

// Name returns the short instance name, e.g. id-7QX2
func (m *Message) Name() string {
	return m.name
}

// Timestamp returns the creation time
func (m *Message) Timestamp() time.Time {
	return m.timestamp
}

// Age returns the time since creation
func (m *Message) Age() time.Duration {
	return time.Since(m.timestamp)
}

// Payload returns the carried payload
func (m *Message) Payload() Payload {
	return m.payload
}

// Event returns the payload event
func (m *Message) Event() event.Event {
	return m.payload.Event
}

// Value returns the payload value
func (m *Message) Value() any {
	return m.payload.Value
}

// Equal reports whether both envelopes share an identity
func (m *Message) Equal(other *Message) bool {
	return other != nil && m.id == other.id
}

// Sent returns the arbitration counter: 0 until arbitrated,
// PermanentSentinel for permanent envelopes.
func (m *Message) Sent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent
}

// Permanent reports whether the envelope carries the sentinel
func (m *Message) Permanent() bool {
	return m.Sent() == PermanentSentinel
}

// MarkArbitrated performs the sent 0→1 transition. It returns false
// when the envelope was already arbitrated. Permanent envelopes always
// return true and keep the sentinel.
func (m *Message) MarkArbitrated() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gc {
		return false, m.collectedErr("arbitrate")
	}
	switch m.sent {
	case PermanentSentinel:
		return true, nil
	case 0:
		m.sent = 1
		return true, nil
	default:
		return false, nil
	}
}

// Laps returns how many times the envelope was republished
func (m *Message) Laps() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.laps
}

// BeginLap counts one republish and tops up the ack ledger with
// subscribers registered since creation. Existing entries are kept.
func (m *Message) BeginLap(subscribers []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gc {
		return m.collectedErr("republish")
	}
	m.ledgersLocked()
	if m.laps == 0 {
		for _, name := range subscribers {
			if _, ok := m.acks[name]; !ok {
				m.acks[name] = false
			}
		}
	}
	m.laps++
	return nil
}

// ledgersLocked builds the maps a zero Message lacks. Callers hold m.mu.
func (m *Message) ledgersLocked() {
	if m.acks == nil {
		m.acks = make(map[string]bool)
	}
	if m.processedBy == nil {
		m.processedBy = make(map[string]int)
	}
}

// Expire flags the envelope as expired
func (m *Message) Expire() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gc {
		return m.collectedErr("expire")
	}
	m.expired = true
	return nil
}

// Expired reports the explicit expired flag
func (m *Message) Expired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expired
}

// GC marks the envelope as retired. Every later mutation fails.
func (m *Message) GC() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gc {
		return fmt.Errorf("%w: %s", ErrAlreadyCollected, m.name)
	}
	m.gc = true
	return nil
}

// GarbageCollected reports the terminal flag
func (m *Message) GarbageCollected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gc
}

// Acknowledge records that subscriber has seen the envelope
func (m *Message) Acknowledge(subscriber string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gc {
		return m.collectedErr("acknowledge")
	}
	m.ledgersLocked()
	m.acks[subscriber] = true
	return nil
}

// AcknowledgedBy reports whether subscriber has acknowledged the envelope
func (m *Message) AcknowledgedBy(subscriber string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acks[subscriber]
}

// FullyAcknowledged reports whether every subscriber in the ledger has
// acknowledged. An empty ledger is fully acknowledged.
func (m *Message) FullyAcknowledged() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ack := range m.acks {
		if !ack {
			return false
		}
	}
	return true
}

// UnacknowledgedCount returns the number of ledger entries still false
func (m *Message) UnacknowledgedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ack := range m.acks {
		if !ack {
			n++
		}
	}
	return n
}

// Acknowledgements returns a copy of the ack ledger
func (m *Message) Acknowledgements() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	acks := make(map[string]bool, len(m.acks))
	for k, v := range m.acks {
		acks[k] = v
	}
	return acks
}

// Process records that processor handled the envelope
func (m *Message) Process(processor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gc {
		return m.collectedErr("process")
	}
	m.ledgersLocked()
	m.processedBy[processor]++
	return nil
}

// Processed returns the total number of handler runs
func (m *Message) Processed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.processedBy {
		n += c
	}
	return n
}

// ProcessedBy returns the sorted names of processors
func (m *Message) ProcessedBy() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.processedBy))
	for name := range m.processedBy {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PrintAcks formats the ledger as "name:y name:n", ordered by name
func (m *Message) PrintAcks() string {
	acks := m.Acknowledgements()
	names := make([]string, 0, len(acks))
	for name := range acks {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(name)
		if acks[name] {
			b.WriteString(":y")
		} else {
			b.WriteString(":n")
		}
	}
	return b.String()
}

func (m *Message) String() string {
	return fmt.Sprintf("%s[%s]", m.name, m.payload)
}

func (m *Message) collectedErr(op string) error {
	return fmt.Errorf("cannot %s %s (%s): %w", op, m.name, m.payload.Event, ErrGarbageCollected)
}
