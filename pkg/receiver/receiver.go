// Package receiver implements the in-order, cumulative-ACK reassembly
// side of the transfer: a single blocking read loop with no internal
// state beyond the next expected byte offset.
package receiver

import (
	"context"
	"io"

	"github.com/datawire/dlib/dlog"
	"github.com/pkg/errors"

	"github.com/reliabledgram/filexfer/pkg/loss"
	"github.com/reliabledgram/filexfer/pkg/wire"
	"github.com/reliabledgram/filexfer/pkg/xfersock"
)

// Stats holds the counters the original reference receiver printed on
// exit.
type Stats struct {
	TotalPackets      uint32
	DroppedPackets    uint32
	OutOfOrderPackets uint32
	TotalBytes        uint32
}

// Receiver owns one datagram endpoint, one loss dropper, and one output
// sink for the lifetime of a single transfer.
type Receiver struct {
	endpoint xfersock.Endpoint
	dropper  loss.Dropper
	sink     io.Writer

	expected    uint32
	finReceived bool
	stats       Stats
}

// New returns a Receiver ready to run. sink receives accepted payload
// bytes in order; a caller that wants to discard output (the CLI's
// "-" output path) should pass io.Discard.
func New(endpoint xfersock.Endpoint, dropper loss.Dropper, sink io.Writer) *Receiver {
	return &Receiver{endpoint: endpoint, dropper: dropper, sink: sink}
}

// Run blocks until a FIN has been received and acknowledged, the
// endpoint fails, or ctx is cancelled. It implements spec's per-
// datagram receiver algorithm exactly: decide drop, accept only the
// in-order segment, always ACK the current expected offset.
func (r *Receiver) Run(ctx context.Context) (Stats, error) {
	buf := make([]byte, wire.DataHeaderLen+wire.MaxMSS)
	for {
		n, outcome, err := r.endpoint.Receive(ctx, buf, 0)
		switch outcome {
		case xfersock.Interrupted:
			if ctx.Err() != nil {
				return r.stats, ctx.Err()
			}
			return r.stats, errors.Wrap(err, "receiver: read datagram")
		case xfersock.TimedOut:
			// No deadline was requested; a timeout here means the
			// endpoint interpreted something unexpectedly — retry.
			continue
		}
		if err != nil {
			return r.stats, errors.Wrap(err, "receiver: read datagram")
		}

		frame, ok := wire.DecodeDataFrame(buf[:n])
		if !ok {
			dlog.Tracef(ctx, "receiver: discarding malformed datagram of %d bytes", n)
			continue
		}

		r.stats.TotalPackets++

		if r.dropper.ShouldDrop(frame.Seq) {
			r.stats.DroppedPackets++
			dlog.Debugf(ctx, "receiver: simulated drop of seq=%d len=%d", frame.Seq, frame.Len())
			if err := r.ack(); err != nil {
				return r.stats, err
			}
			continue
		}

		if frame.Len() > 0 {
			if frame.Seq == r.expected {
				if _, err := r.sink.Write(frame.Payload); err != nil {
					return r.stats, errors.Wrap(err, "receiver: write output sink")
				}
				r.expected += uint32(frame.Len())
				r.stats.TotalBytes += uint32(frame.Len())
				dlog.Tracef(ctx, "receiver: accepted seq=%d len=%d, expected now %d", frame.Seq, frame.Len(), r.expected)
			} else {
				r.stats.OutOfOrderPackets++
				dlog.Debugf(ctx, "receiver: out-of-order seq=%d (expected %d)", frame.Seq, r.expected)
			}
		}

		if frame.IsFIN() {
			r.finReceived = true
			dlog.Infof(ctx, "receiver: FIN received at seq=%d", frame.Seq)
		}

		if err := r.ack(); err != nil {
			return r.stats, err
		}

		if r.finReceived {
			dlog.Infof(ctx, "receiver: transfer complete, %d bytes delivered", r.stats.TotalBytes)
			return r.stats, nil
		}
	}
}

func (r *Receiver) ack() error {
	ack := wire.AckFrame{Ack: r.expected, Dup: 0}
	if err := r.endpoint.Send(ack.Encode(nil)); err != nil {
		return errors.Wrap(err, "receiver: send ACK")
	}
	return nil
}
