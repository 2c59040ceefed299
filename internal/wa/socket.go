// Package wa defines the contract this server consumes from the messaging
// library. The orchestrator only ever talks to these interfaces; the real
// implementation lives in wa/meow and tests substitute fakes.
package wa

import "context"

type EventKind int

const (
	// EventConnected is delivered once the pairing handshake completes and
	// the socket is authenticated.
	EventConnected EventKind = iota
	// EventClosed is delivered when the connection drops. StatusCode carries
	// the disconnect reason.
	EventClosed
)

// StatusLoggedOut is the disconnect status code meaning the remote party
// explicitly unlinked this device. Any other code is treated as transient.
const StatusLoggedOut = 401

type Event struct {
	Kind       EventKind
	StatusCode int
}

// Socket is one live connection attempt against the messaging transport.
//
// Events are delivered in the order the transport observed them and never
// concurrently for one socket; EventConnected is never delivered after
// EventClosed for the same attempt. The channel is closed when the socket is
// closed. No ordering is guaranteed across different sockets.
type Socket interface {
	// RequestPairingCode asks the transport to issue a pairing code for the
	// given normalized phone number.
	RequestPairingCode(ctx context.Context, phone string) (string, error)

	// SaveCredentials flushes the current credential state into the socket's
	// credentials directory.
	SaveCredentials(ctx context.Context) error

	Events() <-chan Event

	Close() error
}

// Dialer constructs sockets bound to a per-session credentials directory.
type Dialer interface {
	Dial(ctx context.Context, credsDir string) (Socket, error)
}
