// Package sender implements the sliding-window, Reno-congestion-
// controlled transmission side of the transfer. It owns a single
// retransmission timer and drives itself through the three events the
// datagram endpoint can report: a new datagram, a timer expiry, or an
// interrupted wait.
package sender

import (
	"context"
	"time"

	"github.com/datawire/dlib/dlog"
	"github.com/pkg/errors"

	"github.com/reliabledgram/filexfer/pkg/congestion"
	"github.com/reliabledgram/filexfer/pkg/segment"
	"github.com/reliabledgram/filexfer/pkg/wire"
	"github.com/reliabledgram/filexfer/pkg/xfersock"
)

// finGracePeriod is the time the sender waits for a final ACK after its
// FIN before giving up, per spec.
const finGracePeriod = 200 * time.Millisecond

// Stats holds the per-run counters the original reference sender
// printed on exit.
type Stats struct {
	TimeoutCount      uint32
	DupAckRetransmits uint32
	TotalRetransmits  uint32
	TotalBytes        uint32
	Elapsed           time.Duration
	ThroughputBps     float64
	FinalCwnd         uint32
	FinalSsthresh     uint32
}

// Sender owns one segment store, one congestion controller, one
// datagram endpoint, and one retransmission timer for the lifetime of a
// single transfer.
type Sender struct {
	store    *segment.Store
	cc       *congestion.Controller
	endpoint xfersock.Endpoint
	rto      time.Duration

	lastAcked     uint32
	timerArmed    bool
	timerDeadline time.Time

	stats Stats
}

// New returns a Sender ready to run. store must already hold the full
// segmentation of the input; cc must be freshly constructed with the
// same MSS store was built with.
func New(store *segment.Store, cc *congestion.Controller, endpoint xfersock.Endpoint, rto time.Duration) *Sender {
	return &Sender{store: store, cc: cc, endpoint: endpoint, rto: rto}
}

// Run drives the transfer to completion: admits segments under the
// congestion window, processes ACKs, retransmits on timeout or triple
// duplicate ACK, and finally sends a FIN and waits out the grace
// period. It returns once the transfer is complete or a fatal I/O error
// occurs.
func (s *Sender) Run(ctx context.Context) (Stats, error) {
	start := time.Now()
	buf := make([]byte, wire.AckLen)

	for !s.store.Done() {
		if err := s.admit(ctx); err != nil {
			return s.stats, err
		}
		if s.store.Done() {
			break
		}

		var wait time.Duration
		if s.timerArmed {
			wait = time.Until(s.timerDeadline)
		}
		if s.timerArmed && wait <= 0 {
			if err := s.handleTimeout(ctx); err != nil {
				return s.stats, err
			}
			continue
		}

		n, outcome, err := s.endpoint.Receive(ctx, buf, wait)
		switch outcome {
		case xfersock.ReceivedData:
			if err := s.onDatagram(ctx, buf[:n]); err != nil {
				return s.stats, err
			}
		case xfersock.TimedOut:
			if err := s.handleTimeout(ctx); err != nil {
				return s.stats, err
			}
		case xfersock.Interrupted:
			if ctx.Err() != nil {
				return s.stats, ctx.Err()
			}
			return s.stats, errors.Wrap(err, "sender: read datagram")
		}
	}

	if err := s.sendFIN(); err != nil {
		return s.stats, err
	}
	dlog.Infof(ctx, "sender: FIN sent at seq=%d, waiting up to %s for a final ACK", s.store.TotalBytes(), finGracePeriod)
	_, _, _ = s.endpoint.Receive(ctx, buf, finGracePeriod)

	s.stats.TotalBytes = s.store.TotalBytes()
	s.stats.Elapsed = time.Since(start)
	if secs := s.stats.Elapsed.Seconds(); secs > 0 {
		s.stats.ThroughputBps = float64(s.stats.TotalBytes) / secs
	}
	s.stats.FinalCwnd = s.cc.Cwnd()
	s.stats.FinalSsthresh = s.cc.Ssthresh()
	dlog.Infof(ctx, "sender: transfer complete, %d bytes in %s", s.stats.TotalBytes, s.stats.Elapsed)
	return s.stats, nil
}

// admit transmits newly-scheduled segments while outstanding bytes stay
// under the congestion window, arming the timer on the first send after
// it was disarmed.
func (s *Sender) admit(ctx context.Context) error {
	for s.store.Next() < s.store.Len() && s.store.OutstandingBytes() < s.cc.Cwnd() {
		seg := s.store.AdvanceNext()
		if err := s.transmit(seg.Seq, seg.Data, 0); err != nil {
			return err
		}
		dlog.Tracef(ctx, "sender: sent seq=%d len=%d cwnd=%d", seg.Seq, seg.Len(), s.cc.Cwnd())
		if !s.timerArmed {
			s.armTimer()
		}
	}
	return nil
}

func (s *Sender) onDatagram(ctx context.Context, b []byte) error {
	ack, ok := wire.DecodeAckFrame(b)
	if !ok {
		dlog.Tracef(ctx, "sender: discarding malformed ACK of %d bytes", len(b))
		return nil
	}

	switch {
	case ack.Ack > s.lastAcked:
		acked := s.store.AdvanceBaseTo(ack.Ack)
		inflight := s.store.InflightBytes()
		s.lastAcked = ack.Ack
		s.cc.OnNewACK(acked, inflight)
		dlog.Debugf(ctx, "sender: new ACK=%d, acked %d segments, cwnd=%d ssthresh=%d", ack.Ack, acked, s.cc.Cwnd(), s.cc.Ssthresh())
		if s.store.Base() == s.store.Next() {
			s.disarmTimer()
		} else {
			s.armTimer()
		}

	case ack.Ack == s.lastAcked:
		hasOutstanding := s.store.Base() < s.store.Len()
		entered := s.cc.OnDuplicateAck(hasOutstanding)
		if entered {
			dlog.Infof(ctx, "sender: triple duplicate ACK at %d, entering fast recovery (cwnd=%d ssthresh=%d)", ack.Ack, s.cc.Cwnd(), s.cc.Ssthresh())
			if err := s.retransmitBase(); err != nil {
				return err
			}
			s.stats.DupAckRetransmits++
			s.stats.TotalRetransmits++
		}

	default:
		dlog.Tracef(ctx, "sender: ignoring stale ACK=%d (last_acked=%d)", ack.Ack, s.lastAcked)
	}
	return nil
}

// handleTimeout implements the timeout branch of the control loop:
// collapse the congestion window, retransmit the base segment, and
// reopen the pending queue for whatever fits in the new window.
func (s *Sender) handleTimeout(ctx context.Context) error {
	s.stats.TimeoutCount++
	s.cc.OnTimeout()
	dlog.Infof(ctx, "sender: retransmission timeout, cwnd reset to %d, ssthresh=%d", s.cc.Cwnd(), s.cc.Ssthresh())

	if err := s.retransmitBase(); err != nil {
		return err
	}
	base := s.store.Base()
	s.store.ResetUnsentFrom(base+1, s.cc.Cwnd())
	s.store.SetNext(base + 1)
	s.armTimer()
	s.stats.TotalRetransmits++
	return nil
}

// retransmitBase resends segment[base] directly (not through the
// admission loop) and collapses next to base+1, the shared tail of both
// timeout handling and fast-retransmit entry.
func (s *Sender) retransmitBase() error {
	base := s.store.Base()
	seg := s.store.At(base)
	s.store.MarkSent(base)
	if err := s.transmit(seg.Seq, seg.Data, 0); err != nil {
		return err
	}
	s.store.SetNext(base + 1)
	s.armTimer()
	return nil
}

func (s *Sender) sendFIN() error {
	return s.transmit(s.store.TotalBytes(), nil, wire.FIN)
}

func (s *Sender) transmit(seq uint32, payload []byte, flags byte) error {
	f := wire.DataFrame{Seq: seq, Flags: flags, Payload: payload}
	if err := s.endpoint.Send(f.Encode(nil)); err != nil {
		return errors.Wrap(err, "sender: send datagram")
	}
	return nil
}

func (s *Sender) armTimer() {
	s.timerDeadline = time.Now().Add(s.rto)
	s.timerArmed = true
}

func (s *Sender) disarmTimer() {
	s.timerArmed = false
}
