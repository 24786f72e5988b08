package wire

import (
	"crypto/md5" //nolint:gosec // collision resistance not required; corruption-detection digest only (spec §4.1, §9).
	"errors"

	"github.com/ksx/rdtfile/internal/metrics"
)

// ErrChecksumMismatch is returned by Decode when the frame's leading digest
// does not match the computed digest over id‖payload.
var ErrChecksumMismatch = errors.New("wire: checksum mismatch")

// ErrFrameTooShort is returned when a byte slice cannot possibly hold a
// well-formed data frame.
var ErrFrameTooShort = errors.New("wire: frame shorter than header")

// ErrPayloadOutOfBounds is returned by Encode when payload length falls
// outside [1, MaxDataSize]. MinDataSize/MaxDataSize bound the sender's
// random chunk-size choice during BULK, not the wire form itself: the
// final fragment of a transfer is whatever remains and may be shorter than
// MinDataSize (spec §8 scenario 1: a 1-byte payload is still one fragment).
var ErrPayloadOutOfBounds = errors.New("wire: payload length out of bounds")

// Digest computes the 16-byte content digest used as a frame checksum.
// Any deterministic 16-byte hash satisfies the contract (spec §6); MD5 is
// the reference choice, documented as a corruption-detection code and not
// a collision-resistant primitive.
type Digest func(data []byte) [16]byte

// MD5Digest is the default Digest implementation.
func MD5Digest(data []byte) [16]byte { return md5.Sum(data) }

// Codec encodes/decodes data frames. Stateless and safe for concurrent use.
type Codec struct {
	// Hash computes the frame checksum. Defaults to MD5Digest when nil.
	Hash Digest
}

func (c Codec) hash() Digest {
	if c.Hash != nil {
		return c.Hash
	}
	return MD5Digest
}

// DataFrame is a decoded data fragment: a packet id and its payload slice.
type DataFrame struct {
	ID      uint32
	Payload []byte
}

// Encode builds the wire form CHK(16) ‖ ID(4) ‖ PAYLOAD(L) for a data
// fragment. payload is copied into the returned frame.
func (c Codec) Encode(id uint32, payload []byte) ([]byte, error) {
	if len(payload) < 1 || len(payload) > MaxDataSize {
		return nil, ErrPayloadOutOfBounds
	}
	frame := make([]byte, LenHeaders+len(payload))
	putU32(frame[LenChecksum:LenHeaders], id)
	copy(frame[LenHeaders:], payload)
	sum := c.hash()(frame[LenChecksum:])
	copy(frame[:LenChecksum], sum[:])
	return frame, nil
}

// Decode validates and parses a data frame. On checksum mismatch it returns
// ErrChecksumMismatch and increments the checksum-failure metric; callers
// discard the frame and continue (spec §7, MalformedFrame).
func (c Codec) Decode(frame []byte) (DataFrame, error) {
	if len(frame) < LenHeaders {
		return DataFrame{}, ErrFrameTooShort
	}
	want := frame[:LenChecksum]
	body := frame[LenChecksum:]
	got := c.hash()(body)
	if !constantTimeEqual(want, got[:]) {
		metrics.IncChecksumFailure()
		return DataFrame{}, ErrChecksumMismatch
	}
	id := getU32(body[:LenPacketID])
	payload := body[LenPacketID:]
	out := make([]byte, len(payload))
	copy(out, payload)
	return DataFrame{ID: id, Payload: out}, nil
}

// constantTimeEqual compares two equal-length byte slices without early
// exit; the checksum is not a MAC so this is a defensive habit, not a
// security requirement.
func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}

// Classify reports whether frame is a control frame (by tag prefix) or
// should be treated as a candidate data frame. Per spec §4.1: a control
// tag match wins even if the remaining bytes would also validate as a
// data frame's checksum.
func Classify(frame []byte) (tag uint32, isControl bool) {
	t, ok := TagOf(frame)
	if !ok {
		return 0, false
	}
	return t, IsControlTag(t)
}
