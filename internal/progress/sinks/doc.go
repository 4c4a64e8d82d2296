// Package sinks implements progress consumers: Prometheus collectors, a
// session-store projection, and structured logging.
package sinks
