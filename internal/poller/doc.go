// Package poller drives event ingestion for a single terminal.
//
// A [Poller] owns one terminal's poll window, deduplication store and
// [FailureManager]. Each tick it consults the terminal's schedule, pages
// through the events recorded since the window start and publishes every
// event it has not forwarded before. Failures back off exponentially; a run
// of failures or a silent watchdog abandons the backlog by resetting the
// window to the current time.
//
// Pollers are run as suture services by the root turnstile package. Users
// of the library configure them through turnstile options rather than
// constructing them directly.
package poller
