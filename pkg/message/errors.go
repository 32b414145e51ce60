package message

import "errors"

var (
	// ErrGarbageCollected is returned by any operation on a retired envelope.
	// It always indicates a stale reference and is distinct from not found.
	ErrGarbageCollected = errors.New("envelope has been garbage collected")

	// ErrAlreadyCollected is returned when an envelope is retired twice
	ErrAlreadyCollected = errors.New("envelope already garbage collected")
)
