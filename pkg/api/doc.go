// Package api serves the read-only diagnostics surface over HTTP: health
// probes, Prometheus metrics, bus and behaviour introspection, and a
// server-sent event stream of bus notifications.
package api
