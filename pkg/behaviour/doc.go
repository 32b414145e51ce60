/*
Package behaviour implements the behaviour arbitrator.

A Manager is a bus subscriber that owns a set of mutually exclusive
behaviours, each keyed by one trigger event. At most one behaviour is
active. When a trigger arrives the Manager decides whether to keep the
active behaviour, swap it for the triggered one, or leave things alone,
using the catalog priority of the two trigger events as the only tie
break. Behaviours never promote themselves.

The Manager also runs a tick task that executes the active behaviour
while it is released. Suppressing the Manager suppresses every behaviour
and remembers which ones were released; releasing it restores exactly
those.

Concrete behaviours are built from a Registry of constructors:

	reg := behaviour.DefaultRegistry()
	behaviours, err := reg.Build([]string{"roam", "avoid"}, deps)
*/
package behaviour
