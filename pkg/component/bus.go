package component

import (
	"context"

	"github.com/cuemby/kros/pkg/message"
)

// Decider inspects the head envelope while the bus holds its queue lock
// and reports whether to remove it. It must not call back into the bus.
type Decider = func(msg *message.Message) (bool, error)

// Bus is the view of the message bus available to publishers and subscribers
type Bus interface {
	Publish(msg *message.Message) error
	Peek() *message.Message
	Consume(decide Decider) (*message.Message, error)
	Republish(msg *message.Message) error
	Arbitrate(ctx context.Context, msg *message.Message) error
	ScheduleExpiry(msg *message.Message)
	IsExpired(msg *message.Message) bool
}
