// Package xfersock provides the datagram transport abstraction both the
// sender and receiver block on, plus the single-timer/select-with-
// timeout idiom from the original C implementation, generalized into a
// ReceiveOutcome enum so callers never touch raw sockets directly.
package xfersock

import (
	"context"
	"time"
)

// ReceiveOutcome classifies why Endpoint.Receive returned, mirroring the
// three-way branch the original select() loop made between a readable
// socket, a timer expiry, and (in our case) a cancelled context standing
// in for signal-driven shutdown.
type ReceiveOutcome int

const (
	// ReceivedData means b[:n] holds a fresh datagram.
	ReceivedData ReceiveOutcome = iota
	// TimedOut means no datagram arrived before the deadline.
	TimedOut
	// Interrupted means ctx was cancelled, or the transport was closed
	// or failed, before either of the above; err says which.
	Interrupted
)

// Endpoint is the datagram transport both Sender and Receiver are built
// against. Implementations never return an error for a plain deadline
// expiry; that case is reported as TimedOut instead, so callers can
// treat timeout as control flow rather than failure.
type Endpoint interface {
	// Receive blocks until a datagram arrives, the deadline elapses, or
	// ctx is cancelled, whichever comes first. A zero deadline means
	// wait indefinitely (still subject to ctx cancellation).
	Receive(ctx context.Context, b []byte, deadline time.Duration) (n int, outcome ReceiveOutcome, err error)

	// Send transmits b as a single datagram to the endpoint's configured
	// peer.
	Send(b []byte) error

	// Close releases the underlying transport.
	Close() error
}
