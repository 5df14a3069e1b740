package notify

import (
	"context"

	"assistant/internal/storage"
)

// Sender delivers one message to the managed user via one channel.
//
// Send must never panic past its own boundary: transport and provider
// failures are logged internally and surfaced as false. Available reports
// whether the user currently holds a usable identifier/credential for the
// channel; it performs no I/O and must be checked before Send.
type Sender interface {
	Name() string
	DisplayName() string
	Available(u storage.User) bool
	Send(ctx context.Context, u storage.User, text string) bool
}

// Outcome aggregates one fan-out delivery.
//
// Success is true iff at least one channel reported success. Channels that
// were not linked are absent from Sent — they were never attempted and do
// not count as failures. Failed lists every attempted channel that did not
// confirm delivery, in sender order.
type Outcome struct {
	Success bool
	Sent    map[string]bool
	Failed  []string
	Summary string
}
