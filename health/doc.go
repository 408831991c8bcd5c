// Package health tracks the gateway's component health and aggregates it for
// the REST binding's health route.
//
// Three states are reported:
//   - healthy: operating normally
//   - degraded: serving, with reduced function (for example a failing roster heartbeat)
//   - unhealthy: not serving (for example the overlay connection is down)
//
// An aggregate is unhealthy if any component is, otherwise degraded if any
// component is, otherwise healthy.
//
// Basic usage:
//
//	monitor := health.NewMonitor(logger)
//	monitor.MarkHealthy("overlay", "connected")
//	monitor.ReportErr("roster", err, "registered")
//	status := monitor.AggregateHealth("fedgateway")
//
// The monitor logs each change of a component's state and remembers when it
// happened (Monitor.Since); repeated reports of the same state are quiet.
//
// Messages built from errors are sanitized: URLs, paths, addresses and
// credentials are masked before they reach a health response.
package health
