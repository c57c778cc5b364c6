// Package channels connects messaging transports to the agent runtime via
// the message bus. Two transports are wired: the Telegram Bot API and a
// linked-device bridge speaking WebSocket to an external companion process.
package channels

import (
	"context"

	"github.com/tidewaterlabs/moobot/internal/bus"
)

// Transport is the interface every channel implements.
type Transport interface {
	// Name returns the transport identifier ("telegram", "linked").
	Name() string

	// Start begins receiving messages. Non-blocking after setup.
	Start(ctx context.Context) error

	// Stop shuts the transport down.
	Stop(ctx context.Context) error

	// Send delivers an outbound message.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// IsRunning reports whether the transport is receiving.
	IsRunning() bool
}

// Truncate shortens a string for log lines.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
