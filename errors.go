package turnstile

import (
	"fmt"

	"github.com/jpalmerr/turnstile/internal/router"
	"github.com/jpalmerr/turnstile/internal/terminal"
)

// Terminal errors surface through [TerminalStatus.LastError] and the poller
// logs. They never stop a poller; test with errors.Is.
var (
	ErrTerminalUnreachable = terminal.ErrUnreachable
	ErrTerminalAuthFailed  = terminal.ErrAuthFailed
	ErrTerminalProtocol    = terminal.ErrProtocol
)

// ConsumerDeliveryError reports a consumer that failed to handle an event.
// Other consumers still receive the event.
type ConsumerDeliveryError = router.DeliveryError

// ConfigurationError reports an invalid terminal or coordinator setting.
// Terminal is empty for settings that are not tied to one terminal.
type ConfigurationError struct {
	Terminal string
	Field    string
	Err      error
}

func (e *ConfigurationError) Error() string {
	if e.Terminal == "" {
		return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("terminal %q: invalid %s: %v", e.Terminal, e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}
