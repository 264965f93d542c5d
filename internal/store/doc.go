// Package store provides storage and pub/sub functionality for terminal
// status and recently forwarded events.
//
// This package is internal to turnstile and backs the status server. It
// keeps the latest status of every terminal and a bounded history of
// forwarded events, and publishes each change to subscribers so connected
// dashboards update in real time.
//
// The main components are:
//
//   - [Store]: Interface defining storage and subscription operations
//   - [MemoryStore]: In-memory implementation of Store with pub/sub
//   - [TerminalStatus]: Storage representation of a terminal's poller state
//   - [Display]: Event consumer that records events into a Store
//
// Subscribers receive updates via channels with non-blocking sends (slow
// subscribers will miss updates rather than block a poller).
package store
