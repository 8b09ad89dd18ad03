// Package loss implements the receiver-side artificial packet loss
// simulation from the original receiver: a forced single-sequence drop
// that takes precedence over a per-datagram probabilistic drop.
package loss

import (
	"math/rand"
)

// Dropper decides, for each inbound data frame, whether the receiver
// should silently discard it as if it had never arrived. It is
// consulted only for data frames; ACKs are never dropped by the
// receiver, matching the original program's behavior.
type Dropper interface {
	// ShouldDrop reports whether the data frame with the given sequence
	// number should be discarded.
	ShouldDrop(seq uint32) bool
}

// None never drops anything.
type None struct{}

// ShouldDrop implements Dropper.
func (None) ShouldDrop(uint32) bool { return false }

// Forced drops exactly one occurrence of a given sequence number, then
// lets every later occurrence (the sender's retransmission of it)
// through. Matches the original force_drop_seq demo flag's observable
// effect: a single simulated loss that the reliability layer recovers
// from, rather than a permanent black hole for that offset.
type Forced struct {
	seq   uint32
	fired bool
}

// NewForced returns a Dropper that drops the data frame starting at seq
// the first time it is seen.
func NewForced(seq uint32) *Forced {
	return &Forced{seq: seq}
}

// ShouldDrop implements Dropper.
func (f *Forced) ShouldDrop(seq uint32) bool {
	if f.fired || seq != f.seq {
		return false
	}
	f.fired = true
	return true
}

// Probabilistic drops each data frame independently with probability p,
// per spec's loss_prob argument. It is not safe for concurrent use,
// matching the receiver's single-goroutine read loop.
type Probabilistic struct {
	p   float64
	rng *rand.Rand
}

// NewProbabilistic returns a Dropper that drops each frame independently
// with probability p (clamped to [0, 1]). rng may be nil, in which case
// a new source is created; tests should pass a seeded source for
// determinism.
func NewProbabilistic(p float64, rng *rand.Rand) *Probabilistic {
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Probabilistic{p: p, rng: rng}
}

// ShouldDrop implements Dropper.
func (d *Probabilistic) ShouldDrop(uint32) bool {
	if d.p <= 0 {
		return false
	}
	return d.rng.Float64() < d.p
}

// Chain selects between a forced drop and a probabilistic drop the same
// way the original CLI does: the two modes are mutually exclusive. When
// Forced is set, it alone decides a frame's fate and Probabilistic is
// never consulted, even for sequence numbers Forced ignores.
type Chain struct {
	Forced        *Forced
	Probabilistic *Probabilistic
}

// ShouldDrop implements Dropper.
func (c *Chain) ShouldDrop(seq uint32) bool {
	if c.Forced != nil {
		return c.Forced.ShouldDrop(seq)
	}
	if c.Probabilistic != nil {
		return c.Probabilistic.ShouldDrop(seq)
	}
	return false
}
