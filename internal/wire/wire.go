// Package wire implements the on-wire framing codec: the checksummed data
// frame and the three reserved control frames (MISSING, OUT_OF_RANGE, DONE).
package wire

import "encoding/binary"

// Bit-exact wire constants (spec §3).
const (
	MaxPacketSize = 4096 // bytes on the wire
	LenChecksum   = 16   // digest output
	LenPacketID   = 4    // little-endian unsigned
	LenHeaders    = LenChecksum + LenPacketID

	MaxDataSize = 4076
	MinDataSize = 500
)

// Control frame tags (4-byte little-endian unsigned).
const (
	TagMissing     uint32 = 0x155168C7
	TagOutOfRange  uint32 = 0x070F124E
	TagDone        uint32 = 0xD0E53D16
	tagLen                = 4
	lenPktMissing         = tagLen // MISSING tag overhead reserved out of MaxDataSize
)

// putU32 writes v little-endian into b (len(b) must be >= 4).
func putU32(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }

// getU32 reads a little-endian uint32 from the first 4 bytes of b.
func getU32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }

// TagOf returns the leading 4 bytes of frame interpreted as a little-endian
// tag, and whether frame is at least long enough to hold one.
func TagOf(frame []byte) (uint32, bool) {
	if len(frame) < tagLen {
		return 0, false
	}
	return getU32(frame[:tagLen]), true
}

// IsControlTag reports whether tag is one of the three reserved control tags.
func IsControlTag(tag uint32) bool {
	switch tag {
	case TagMissing, TagOutOfRange, TagDone:
		return true
	default:
		return false
	}
}
