/*
Package bus implements the message bus: a single shared FIFO of envelopes
polled by one goroutine per registered subscriber.

Every subscriber sees every envelope at the head of the queue. A
subscriber that does not accept the head acknowledges it as seen and
leaves it in place; a subscriber that accepts it takes it, processes it,
lets the bus arbitrate it once and puts it back at the tail. The garbage
collector is the only consumer that removes envelopes for good.

The bus moves through the shared lifecycle:

	mb := bus.New(bus.Config{MaxAge: 20 * time.Millisecond})
	mb.Start(ctx)
	mb.RegisterSubscriber(motion)
	mb.Enable() // launches subscriber loops
	...
	mb.Close()  // stops loops, expires pending cleanups

Disable stops the subscriber loops but leaves queued envelopes and
pending cleanup timers alone, so Enable resumes where it left off.
*/
package bus
