package xfersock

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/datawire/dlib/dlog"
	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/reliabledgram/filexfer/pkg/wire"
)

// udpEndpoint is the production Endpoint, backed by a single UDP socket.
// A sender dials its peer up front (fixedPeer); a receiver listens and
// learns its peer from the first datagram it sees, mirroring the
// original programs' one-peer-per-process model.
type udpEndpoint struct {
	conn      *net.UDPConn
	fixedPeer bool

	mu   sync.Mutex
	peer *net.UDPAddr
}

// NewUDPSender dials raddr and returns an Endpoint that always talks to
// that single peer.
func NewUDPSender(ctx context.Context, raddr string, sockBufBytes int) (Endpoint, error) {
	addr, err := net.ResolveUDPAddr("udp", raddr)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "xfersock: resolve peer address")
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "xfersock: dial peer")
	}
	setSocketBuffers(ctx, conn, sockBufBytes)
	return &udpEndpoint{conn: conn, fixedPeer: true, peer: addr}, nil
}

// NewUDPReceiver binds laddr and returns an Endpoint that accepts from
// whichever peer sends the first datagram, then talks only to that peer
// thereafter.
func NewUDPReceiver(ctx context.Context, laddr string, sockBufBytes int) (Endpoint, error) {
	addr, err := net.ResolveUDPAddr("udp", laddr)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "xfersock: resolve listen address")
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "xfersock: bind")
	}
	setSocketBuffers(ctx, conn, sockBufBytes)
	return &udpEndpoint{conn: conn}, nil
}

// setSocketBuffers best-effort widens the kernel send/receive buffers so
// a fast sender or bursty receiver doesn't lose datagrams to a full
// socket queue before the application even sees them. Failure here is
// never fatal: the transfer still behaves correctly at the default
// buffer size, just with a lower effective bandwidth-delay product.
func setSocketBuffers(ctx context.Context, conn *net.UDPConn, bytes int) {
	if bytes <= 0 {
		return
	}
	raw, err := conn.SyscallConn()
	if err != nil {
		dlog.Warnf(ctx, "xfersock: SyscallConn unavailable, leaving socket buffers at default: %v", err)
		return
	}
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, bytes); err != nil {
			sockErr = err
			return
		}
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, bytes); err != nil {
			sockErr = err
		}
	})
	if ctrlErr != nil {
		sockErr = ctrlErr
	}
	if sockErr != nil {
		dlog.Warnf(ctx, "xfersock: setting socket buffer size to %d bytes failed, using kernel default: %v", bytes, sockErr)
	}
}

// Receive implements Endpoint. It races a ctx cancellation against the
// blocking read by forcing the read deadline forward, the same
// interrupt-a-blocking-syscall trick the original select() loop got for
// free from selecting on a signal pipe.
func (e *udpEndpoint) Receive(ctx context.Context, b []byte, deadline time.Duration) (int, ReceiveOutcome, error) {
	if deadline > 0 {
		_ = e.conn.SetReadDeadline(time.Now().Add(deadline))
	} else {
		_ = e.conn.SetReadDeadline(time.Time{})
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = e.conn.SetReadDeadline(time.Now())
		case <-stop:
		}
	}()

	n, addr, err := e.conn.ReadFromUDP(b)
	if err != nil {
		if ctx.Err() != nil {
			return 0, Interrupted, ctx.Err()
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return 0, TimedOut, nil
		}
		return 0, Interrupted, err
	}

	if !e.fixedPeer {
		e.mu.Lock()
		if e.peer == nil {
			e.peer = addr
		}
		e.mu.Unlock()
	}
	return n, ReceivedData, nil
}

// Send implements Endpoint.
func (e *udpEndpoint) Send(b []byte) error {
	if e.fixedPeer {
		n, err := e.conn.Write(b)
		if err != nil {
			return err
		}
		if n != len(b) {
			return wire.ErrShortWrite
		}
		return nil
	}

	e.mu.Lock()
	peer := e.peer
	e.mu.Unlock()
	if peer == nil {
		return pkgerrors.New("xfersock: cannot send before a peer has sent us a datagram")
	}
	n, err := e.conn.WriteToUDP(b, peer)
	if err != nil {
		return err
	}
	if n != len(b) {
		return wire.ErrShortWrite
	}
	return nil
}

// Close implements Endpoint.
func (e *udpEndpoint) Close() error {
	return e.conn.Close()
}
