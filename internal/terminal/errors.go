package terminal

import "errors"

var (
	// ErrUnreachable covers dial failures, timeouts and 5xx responses.
	ErrUnreachable = errors.New("terminal unreachable")

	// ErrAuthFailed is returned when the terminal rejects the credentials.
	ErrAuthFailed = errors.New("terminal authentication failed")

	// ErrProtocol is returned for responses that do not follow the search API.
	ErrProtocol = errors.New("terminal protocol error")
)
