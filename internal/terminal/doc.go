// Package terminal talks to access-control terminals over their event-search API.
//
// The main components are:
//
//   - [Client]: digest-authenticated, pooled HTTP client fetching one page of events
//   - [Window]: the time range and search id of one poll cycle
//   - [Page]: a page of raw records plus the cursor of the next page
//
// Every failure is classified as [ErrUnreachable], [ErrAuthFailed] or
// [ErrProtocol] so callers can react with errors.Is.
package terminal
