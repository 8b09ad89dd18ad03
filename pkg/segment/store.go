// Package segment holds the sender's contiguous, immutable-once-built
// partition of the input stream into fixed-maximum-size segments, and
// the base/next window indices that track their send state.
//
// This is the Go-ification of the original sender's realloc'd
// segment_t* array: one owned slice, indexed by position, that outlives
// the transfer.
package segment

import (
	"io"

	"github.com/pkg/errors"
)

// Segment is a contiguous run of input bytes. Len is 0 only for the FIN
// sentinel, which is represented separately (see Store.TotalBytes) and
// never appears in Store.segments.
type Segment struct {
	Seq  uint32
	Data []byte

	sent  bool
	acked bool
}

// Len returns the payload length of the segment.
func (s *Segment) Len() uint32 { return uint32(len(s.Data)) }

// Sent reports whether the segment has been transmitted at least once.
func (s *Segment) Sent() bool { return s.sent }

// Acked reports whether the segment has been cumulatively acknowledged.
func (s *Segment) Acked() bool { return s.acked }

// Store is the sender's segment array plus the base/next window
// indices from the data model: base is the oldest not-yet-acknowledged
// segment, next is the first segment not yet scheduled for its initial
// transmission. The invariant base <= next <= len(segments) holds after
// every mutating method.
type Store struct {
	segments []Segment
	base     int
	next     int
}

// Build reads r to exhaustion, partitioning it into segments of at most
// mss bytes each, starting at sequence offset 0. It never buffers more
// than one segment's worth of unread input in memory beyond the final
// slice.
func Build(r io.Reader, mss int) (*Store, error) {
	if mss < 1 {
		return nil, errors.Errorf("segment: mss must be positive, got %d", mss)
	}
	var segs []Segment
	var seq uint32
	buf := make([]byte, mss)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			segs = append(segs, Segment{Seq: seq, Data: data})
			seq += uint32(n)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "segment: read input")
		}
	}
	return &Store{segments: segs}, nil
}

// Len returns the number of segments (N in the spec).
func (s *Store) Len() int { return len(s.segments) }

// Base returns the current base index.
func (s *Store) Base() int { return s.base }

// Next returns the current next index.
func (s *Store) Next() int { return s.next }

// At returns a pointer to the segment at index i, for direct inspection
// or mutation of its send/ack state via the Mark* methods below.
func (s *Store) At(i int) *Segment { return &s.segments[i] }

// Done reports whether every segment has been acknowledged (base == N).
func (s *Store) Done() bool { return s.base >= len(s.segments) }

// TotalBytes returns the sum of all segment lengths — the FIN frame's
// sequence number.
func (s *Store) TotalBytes() uint32 {
	if len(s.segments) == 0 {
		return 0
	}
	last := s.segments[len(s.segments)-1]
	return last.Seq + last.Len()
}

// AdvanceNext marks the segment at index s.next sent and advances next
// by one, returning the segment that was just admitted. The caller must
// have already checked that Next() < Len().
func (s *Store) AdvanceNext() *Segment {
	seg := &s.segments[s.next]
	seg.sent = true
	s.next++
	return seg
}

// OutstandingBytes returns the sum of segment lengths in [base, next) —
// bytes transmitted at least once but not yet cumulatively acknowledged.
func (s *Store) OutstandingBytes() uint32 {
	var total uint32
	for i := s.base; i < s.next; i++ {
		total += s.segments[i].Len()
	}
	return total
}

// InflightBytes returns the sum of lengths of segments in [base, next)
// that are transmitted but not individually acked — used when exiting
// fast recovery.
func (s *Store) InflightBytes() uint32 {
	var total uint32
	for i := s.base; i < s.next; i++ {
		if !s.segments[i].acked {
			total += s.segments[i].Len()
		}
	}
	return total
}

// AdvanceBaseTo advances base past every segment whose seq+len <= ack,
// marking each one acked, and returns the number of segments newly
// acknowledged (spec's acked_packets). If base moves past next, next is
// moved up to base.
func (s *Store) AdvanceBaseTo(ack uint32) int {
	start := s.base
	for s.base < len(s.segments) {
		seg := &s.segments[s.base]
		if seg.Seq+seg.Len() > ack {
			break
		}
		seg.acked = true
		s.base++
	}
	if s.next < s.base {
		s.next = s.base
	}
	return s.base - start
}

// ResetUnsentFrom marks segments starting at index from as not-sent,
// while their cumulative length does not exceed budget bytes. It stops
// at the first segment that would exceed the budget, or at the end of
// the array. Returns the number of segments reset.
func (s *Store) ResetUnsentFrom(from int, budget uint32) int {
	var used uint32
	n := 0
	for i := from; i < len(s.segments); i++ {
		l := s.segments[i].Len()
		if used+l > budget {
			break
		}
		s.segments[i].sent = false
		used += l
		n++
	}
	return n
}

// MarkUnsent clears the sent flag for the segment at index i, so the
// admission loop will retransmit it.
func (s *Store) MarkUnsent(i int) { s.segments[i].sent = false }

// MarkSent sets the sent flag for the segment at index i, used when a
// retransmission is issued directly rather than through AdvanceNext.
func (s *Store) MarkSent(i int) { s.segments[i].sent = true }

// SetNext forcibly sets the next index, used by timeout and fast-
// retransmit handling per spec (next = base + 1).
func (s *Store) SetNext(n int) { s.next = n }
