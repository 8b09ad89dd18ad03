// Package congestion implements the Reno-style congestion controller
// from the spec: slow start, congestion avoidance, fast retransmit, and
// fast recovery, carried as floating point bytes per the spec's
// "floating-point cwnd" design note.
//
// Controller has no knowledge of segments, sockets, or timers — it is
// driven by the sender's ACK-processing loop, mirroring the separation
// between ccReno's congestion bookkeeping and the packet-loss-detection
// loop that drives it in the QUIC implementation this package is
// grounded on.
package congestion

import "math"

// InitialSsthresh is the slow-start threshold a fresh Controller starts
// with, per spec.
const InitialSsthresh = 65536.0

// Controller holds the mutable congestion state described in spec's
// Data Model: cwnd, ssthresh, in_fast_recovery, and dup_ack.
type Controller struct {
	mss      float64
	cwnd     float64
	ssthresh float64

	inFastRecovery bool
	dupAck         int
}

// NewController returns a Controller initialized per spec: cwnd = MSS,
// ssthresh = 65536, not in fast recovery, zero duplicate ACKs.
func NewController(mss uint32) *Controller {
	m := float64(mss)
	return &Controller{mss: m, cwnd: m, ssthresh: InitialSsthresh}
}

// Cwnd returns floor(cwnd), the value admission arithmetic uses.
func (c *Controller) Cwnd() uint32 { return uint32(math.Floor(c.cwnd)) }

// Ssthresh returns floor(ssthresh).
func (c *Controller) Ssthresh() uint32 { return uint32(math.Floor(c.ssthresh)) }

// InFastRecovery reports whether the controller is currently responding
// to a triple-duplicate-ACK loss signal.
func (c *Controller) InFastRecovery() bool { return c.inFastRecovery }

// DupAck returns the current duplicate-ACK counter.
func (c *Controller) DupAck() int { return c.dupAck }

// CanAdmit reports whether another byte may be sent given outstanding
// bytes already in flight, per spec's transmission-admission rule
// (O < floor(cwnd)).
func (c *Controller) CanAdmit(outstandingBytes uint32) bool {
	return outstandingBytes < c.Cwnd()
}

// OnNewACK updates cwnd in response to a cumulative ACK that strictly
// advanced last_acked, acknowledging `acked` segments (spec's a).
// inflightBytes must be the store's inflight-bytes-not-yet-acked figure,
// computed by the caller after advancing base; it is only consulted
// when exiting fast recovery.
func (c *Controller) OnNewACK(acked int, inflightBytes uint32) {
	a := float64(acked)
	c.dupAck = 0

	if c.inFastRecovery {
		c.cwnd = math.Max(c.ssthresh, float64(inflightBytes)+3*c.mss)
		c.inFastRecovery = false
		c.cwnd += c.mss * (c.mss / c.cwnd) * a
		return
	}

	if c.cwnd < c.ssthresh {
		// Slow start: one MSS per newly acknowledged segment.
		c.cwnd += c.mss * a
	} else {
		// Congestion avoidance: MSS^2/cwnd per newly acknowledged segment.
		c.cwnd += c.mss * (c.mss / c.cwnd) * a
	}
}

// OnDuplicateAck registers a duplicate ACK (A == last_acked). hasOutstanding
// must be true iff base < N (there is unacknowledged data left to
// retransmit). It returns true exactly when this call is the third
// duplicate ACK outside fast recovery, signalling that the caller must
// now retransmit segment[base] and collapse the window to base+1.
func (c *Controller) OnDuplicateAck(hasOutstanding bool) (enteredFastRecovery bool) {
	c.dupAck++

	if c.inFastRecovery {
		// Each further duplicate ACK inflates cwnd by one MSS, allowing
		// one new segment's worth of transmission.
		c.cwnd += c.mss
		return false
	}

	if c.dupAck >= 3 && hasOutstanding {
		c.enterFastRecovery()
		return true
	}
	return false
}

// enterFastRecovery implements the Fast Retransmit / Fast Recovery
// entry steps 1-4 from spec; the caller is responsible for the segment
// retransmission and window-collapse steps 5-6.
func (c *Controller) enterFastRecovery() {
	c.ssthresh = math.Max(c.cwnd/2, c.mss)
	c.cwnd = c.ssthresh + 3*c.mss
	if c.ssthresh >= c.cwnd {
		// Defensive clamp against a small cwnd: ensures the fast-recovery
		// exit path lands in congestion avoidance rather than slow start.
		c.ssthresh = c.cwnd - c.mss
	}
	c.inFastRecovery = true
	c.dupAck = 0
}

// OnTimeout implements spec's timeout steps 1-3 (the congestion-state
// half of timeout handling; the segment/timer half is the sender's
// job).
func (c *Controller) OnTimeout() {
	c.ssthresh = math.Max(c.cwnd/2, c.mss)
	if c.ssthresh <= c.mss {
		// Guarantee strict ssthresh > MSS so the next ACK is in slow start.
		c.ssthresh = 2 * c.mss
	}
	c.cwnd = c.mss
	c.inFastRecovery = false
	c.dupAck = 0
}
