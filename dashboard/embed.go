// Package dashboard provides the embedded web UI assets for the status
// server.
//
// This package uses Go's embed directive to include the dashboard HTML, CSS,
// and JavaScript at compile time. This enables single-binary deployment
// without external asset files.
package dashboard

import "embed"

// Assets is an embedded filesystem containing the dashboard web UI.
//
// The filesystem structure is:
//
//	assets/
//	  index.html    - Terminal status and live event feed, inline CSS and JavaScript
//
//go:embed assets/*
var Assets embed.FS
