/*
Package log provides structured logging for kros using zerolog.

A single global Logger is configured once at start-up with Init. Components
take a child logger at construction time through WithComponent,
WithSubscriber or WithBehaviour, so every line they emit carries the
component field and, where relevant, the subscriber or behaviour name.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	logger := log.WithComponent("bus")
	logger.Warn().Str("envelope", msg.Name()).Msg("double arbitration skipped")

Envelope-scoped fields follow a fixed vocabulary across packages:
"envelope" (instance name), "envelope_id" (uuid), "event" (label) and
"subscriber".

Child loggers capture the global Logger when they are created, so Init must
run before components are constructed.
*/
package log
