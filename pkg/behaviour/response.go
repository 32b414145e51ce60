package behaviour

import "fmt"

// Response is what a behaviour does when its trigger arrives
type Response int

const (
	// Ignore leaves the behaviour as it is
	Ignore Response = iota
	// Suppress suppresses the behaviour
	Suppress
	// Release releases the behaviour
	Release
	// Toggle flips the suppression flag
	Toggle
	// Execute runs the behaviour once, if it is released
	Execute
)

var responseNames = map[Response]string{
	Ignore:   "ignore",
	Suppress: "suppress",
	Release:  "release",
	Toggle:   "toggle",
	Execute:  "execute",
}

func (r Response) String() string {
	if s, ok := responseNames[r]; ok {
		return s
	}
	return fmt.Sprintf("response(%d)", int(r))
}
