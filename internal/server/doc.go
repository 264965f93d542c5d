// Package server provides the HTTP status server for turnstile.
//
// The server is read-only: it renders what the coordinator writes into a
// [store.Store]. Pollers report status after every tick and the display
// consumer records each forwarded event, so the dashboard, the JSON API and
// the SSE stream all show the same view.
//
// Shutdown follows the context passed to [Server.Start]; in-flight requests
// get five seconds to finish.
package server
