package xfersock

import (
	"context"
	"net"
	"sync"
	"time"
)

// pipeShared is the close signal both ends of a Pipe share: closing
// either endpoint closes the transport for both.
type pipeShared struct {
	once   sync.Once
	closed chan struct{}
}

// PipeEndpoint is an in-memory, lossless Endpoint used by integration
// tests to drive sender/receiver pairs without real sockets. Receive
// deadlines still run on wall-clock timers. Datagram loss for test scenarios is
// layered on separately by pkg/loss at the receiver, exactly as it is
// on a real UDP socket.
type PipeEndpoint struct {
	send   chan []byte
	recv   chan []byte
	shared *pipeShared
}

// NewPipe returns a connected pair of PipeEndpoints. bufSize bounds how
// many unread datagrams may queue in each direction before Send blocks.
func NewPipe(bufSize int) (a, b *PipeEndpoint) {
	c1 := make(chan []byte, bufSize)
	c2 := make(chan []byte, bufSize)
	shared := &pipeShared{closed: make(chan struct{})}
	a = &PipeEndpoint{send: c1, recv: c2, shared: shared}
	b = &PipeEndpoint{send: c2, recv: c1, shared: shared}
	return a, b
}

// Send implements Endpoint.
func (p *PipeEndpoint) Send(b []byte) error {
	cp := make([]byte, len(b))
	copy(cp, b)
	select {
	case p.send <- cp:
		return nil
	case <-p.shared.closed:
		return net.ErrClosed
	}
}

// Receive implements Endpoint.
func (p *PipeEndpoint) Receive(ctx context.Context, b []byte, deadline time.Duration) (int, ReceiveOutcome, error) {
	var timeoutCh <-chan time.Time
	if deadline > 0 {
		timer := time.NewTimer(deadline)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	select {
	case data, ok := <-p.recv:
		if !ok {
			return 0, Interrupted, net.ErrClosed
		}
		n := copy(b, data)
		return n, ReceivedData, nil
	case <-timeoutCh:
		return 0, TimedOut, nil
	case <-ctx.Done():
		return 0, Interrupted, ctx.Err()
	case <-p.shared.closed:
		return 0, Interrupted, net.ErrClosed
	}
}

// Close implements Endpoint. Safe to call from either end, and more
// than once.
func (p *PipeEndpoint) Close() error {
	p.shared.once.Do(func() { close(p.shared.closed) })
	return nil
}
