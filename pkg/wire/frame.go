// Package wire implements the fixed-layout, big-endian datagram framing
// shared by the sender and the receiver. It has no knowledge of sockets,
// timers, or congestion control — it only turns frames into bytes and
// back.
package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// DataHeaderLen is the size, in bytes, of a data frame's fixed header.
const DataHeaderLen = 9

// AckLen is the size, in bytes, of an ACK frame.
const AckLen = 5

// FIN marks the final data frame of a transfer. Other bits are reserved
// and must be zero; Decode rejects a frame that sets any of them.
const FIN = byte(1 << 0)

// MinMSS and MaxMSS bound the payload length of a single data frame.
const (
	MinMSS = 1
	MaxMSS = 1400
)

// DataFrame is the sender-to-receiver frame: a contiguous run of payload
// bytes starting at Seq, or a zero-length FIN sentinel.
type DataFrame struct {
	Seq     uint32
	Flags   byte
	Payload []byte
}

// IsFIN reports whether the FIN flag is set.
func (f DataFrame) IsFIN() bool { return f.Flags&FIN != 0 }

// Len returns the payload length, matching the on-wire len field.
func (f DataFrame) Len() int { return len(f.Payload) }

// Encode appends the wire representation of f to dst and returns the
// result. It never fails: the caller is responsible for keeping
// len(f.Payload) within [0, MaxMSS].
func (f DataFrame) Encode(dst []byte) []byte {
	hdr := make([]byte, DataHeaderLen)
	binary.BigEndian.PutUint32(hdr[0:4], f.Seq)
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(f.Payload)))
	hdr[8] = f.Flags
	dst = append(dst, hdr...)
	dst = append(dst, f.Payload...)
	return dst
}

// DecodeDataFrame parses b as a data frame. Per spec, a frame is
// well-formed iff the datagram size equals 9+len and no reserved flag
// bit is set; any other shape is reported via ok=false so the caller can
// silently discard it rather than treat it as an error.
func DecodeDataFrame(b []byte) (f DataFrame, ok bool) {
	if len(b) < DataHeaderLen {
		return DataFrame{}, false
	}
	seq := binary.BigEndian.Uint32(b[0:4])
	length := binary.BigEndian.Uint32(b[4:8])
	flags := b[8]
	if flags&^FIN != 0 {
		return DataFrame{}, false
	}
	if uint64(DataHeaderLen)+uint64(length) != uint64(len(b)) {
		return DataFrame{}, false
	}
	payload := make([]byte, length)
	copy(payload, b[DataHeaderLen:])
	return DataFrame{Seq: seq, Flags: flags, Payload: payload}, true
}

// AckFrame is the receiver-to-sender frame: a cumulative next-expected-
// byte acknowledgement plus an advisory, unused duplicate-hint byte.
type AckFrame struct {
	Ack uint32
	Dup byte
}

// Encode appends the wire representation of f to dst and returns the
// result.
func (f AckFrame) Encode(dst []byte) []byte {
	b := make([]byte, AckLen)
	binary.BigEndian.PutUint32(b[0:4], f.Ack)
	b[4] = f.Dup
	return append(dst, b...)
}

// DecodeAckFrame parses b as an ACK frame.
func DecodeAckFrame(b []byte) (f AckFrame, ok bool) {
	if len(b) != AckLen {
		return AckFrame{}, false
	}
	return AckFrame{Ack: binary.BigEndian.Uint32(b[0:4]), Dup: b[4]}, true
}

// ClampMSS enforces spec's [1, 1400] range, defaulting to MaxMSS for any
// value outside that range (zero or negative included), matching the
// original sender's "mss <= 0 || mss > MAX_PAYLOAD -> MAX_PAYLOAD" rule.
func ClampMSS(mss int) int {
	if mss < MinMSS || mss > MaxMSS {
		return MaxMSS
	}
	return mss
}

// ErrShortWrite is returned by callers that expect an exact-size write
// to the underlying transport and get fewer bytes back than requested.
var ErrShortWrite = errors.New("wire: short write to datagram transport")
