package wire

import (
	"errors"
	"math/rand"
)

// ErrNotControlFrame is returned when a decode helper is given a frame whose
// leading tag does not match the expected control tag.
var ErrNotControlFrame = errors.New("wire: not a control frame of the expected kind")

// Pad right-pads a control frame with uniformly random bytes up to a random
// length <= MaxDataSize/2 (spec §4.1). Padding defeats trivial traffic-length
// fingerprinting during handshake/teardown; receivers ignore trailing bytes
// and identify control frames purely by tag prefix.
func Pad(frame []byte) []byte {
	n := rand.Intn(MaxDataSize/2 + 1)
	if n == 0 {
		return frame
	}
	padded := make([]byte, len(frame)+n)
	copy(padded, frame)
	_, _ = rand.Read(padded[len(frame):])
	return padded
}

// EncodeDone builds a padded DONE control frame.
func EncodeDone() []byte {
	frame := make([]byte, tagLen)
	putU32(frame, TagDone)
	return Pad(frame)
}

// EncodeOutOfRange builds a padded OUT_OF_RANGE response naming badID.
func EncodeOutOfRange(badID uint32) []byte {
	frame := make([]byte, tagLen+LenPacketID)
	putU32(frame[:tagLen], TagOutOfRange)
	putU32(frame[tagLen:], badID)
	return Pad(frame)
}

// DecodeOutOfRange extracts the bad id from an OUT_OF_RANGE frame.
func DecodeOutOfRange(frame []byte) (uint32, error) {
	if len(frame) < tagLen+LenPacketID {
		return 0, ErrFrameTooShort
	}
	tag, _ := TagOf(frame)
	if tag != TagOutOfRange {
		return 0, ErrNotControlFrame
	}
	return getU32(frame[tagLen : tagLen+LenPacketID]), nil
}

// EncodeMissing builds a MISSING request naming every id in ids, in order,
// stopping before the encoded size would exceed MaxDataSize-lenPktMissing so
// the request fits in a single datagram. It returns the frame and the
// number of ids actually encoded (callers may need to split a large gap set
// across repair rounds).
func EncodeMissing(ids []uint32) (frame []byte, encoded int) {
	limit := MaxDataSize - lenPktMissing
	buf := make([]byte, tagLen, tagLen+len(ids)*LenPacketID)
	putU32(buf, TagMissing)
	for _, id := range ids {
		if len(buf)+LenPacketID-tagLen > limit {
			break
		}
		idb := make([]byte, LenPacketID)
		putU32(idb, id)
		buf = append(buf, idb...)
		encoded++
	}
	return buf, encoded
}

// DecodeMissing extracts the requested ids from a MISSING frame. An empty
// result (with no error) means the request names zero ids — the signal the
// sender/receiver use to conclude REPAIR.
func DecodeMissing(frame []byte) ([]uint32, error) {
	if len(frame) < tagLen {
		return nil, ErrFrameTooShort
	}
	tag, _ := TagOf(frame)
	if tag != TagMissing {
		return nil, ErrNotControlFrame
	}
	rest := frame[tagLen:]
	n := len(rest) / LenPacketID
	ids := make([]uint32, 0, n)
	for i := 0; i < n; i++ {
		off := i * LenPacketID
		ids = append(ids, getU32(rest[off:off+LenPacketID]))
	}
	return ids, nil
}
