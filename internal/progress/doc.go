// Package progress carries crawl lifecycle events from the scheduler to
// pluggable sinks. Emit never blocks the crawl loop; a background goroutine
// batches events and fans them out to sinks such as Prometheus collectors,
// the session store, or structured logs.
package progress
