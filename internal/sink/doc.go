// Package sink holds the downstream consumers events are delivered to.
//
// Each subpackage implements router.Consumer for one destination: the
// structured log, a receipt printer, PostgreSQL, an HTTP webhook and NATS.
// Package breaker wraps any of them in a circuit breaker so a dead
// destination fails fast instead of stalling the polling loop that
// delivered the event.
package sink
