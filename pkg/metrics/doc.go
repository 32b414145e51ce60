/*
Package metrics provides Prometheus instrumentation and health reporting for kros.

All collectors are package level variables registered with the default
registry in init, named kros_<subsystem>_<what>. Components update them
directly at the point where the event happens (a publish, a collection, a
behaviour swap). Gauges that describe current state, such as the queue depth
and the active behaviour, are sampled by a Collector on a ticker instead.

# Health

The health registry tracks named components. /health reports unhealthy when
any registered component is unhealthy; /ready additionally requires every
critical component ("bus", "gc", "arbitrator" by default) to be registered.

	metrics.UpdateComponent("bus", true, "enabled")
	http.Handle("/ready", metrics.ReadyHandler())

# Timing

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.HandlerDuration, name)
*/
package metrics
