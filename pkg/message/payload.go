package message

import (
	"fmt"

	"github.com/cuemby/kros/pkg/event"
)

// Payload is the event and value carried by an envelope. The value is
// opaque to the bus.
type Payload struct {
	Event event.Event
	Value any
}

// NewPayload creates a payload for e
func NewPayload(e event.Event, value any) Payload {
	return Payload{Event: e, Value: value}
}

func (p Payload) String() string {
	if p.Value == nil {
		return p.Event.String()
	}
	return fmt.Sprintf("%s(%v)", p.Event, p.Value)
}

// Float returns the value as a float64 when it holds a number
func (p Payload) Float() (float64, bool) {
	switch v := p.Value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
