package dh

import (
	"encoding/binary"
	"math/big"
	"math/rand"
)

// KeyLen is the symmetric key size drawn from the key-derivation PRG.
const KeyLen = 32

// DeriveKey seeds a deterministic byte-stream PRG with the shared secret's
// integer value and draws KeyLen bytes from it (spec §4.2). Both sides of a
// session derive the identical key from the identical shared secret without
// any further negotiation. This is intentionally simple: it carries no
// security property beyond what the stream cipher itself provides.
func DeriveKey(shared *big.Int) [KeyLen]byte {
	src := rand.New(rand.NewSource(seedFrom(shared)))
	var key [KeyLen]byte
	_, _ = src.Read(key[:])
	return key
}

// seedFrom folds a shared secret down to an int64 PRG seed using its
// trailing 8 bytes. Both parties compute the identical shared secret, so
// the fold is reproducible on both sides regardless of the secret's full
// bit length.
func seedFrom(shared *big.Int) int64 {
	b := shared.Bytes()
	var tail [8]byte
	if len(b) >= 8 {
		copy(tail[:], b[len(b)-8:])
	} else {
		copy(tail[8-len(b):], b)
	}
	return int64(binary.BigEndian.Uint64(tail[:]))
}
