// Package dh implements the fixed-group Diffie–Hellman key exchange used to
// establish an ephemeral session key: a private exponent, the corresponding
// public value, the shared secret, and the key-derivation PRG that turns the
// shared secret into the stream cipher's symmetric key.
//
// The modulus is the RFC 3526 2048-bit MODP group with generator 2. This is
// not a design choice the implementation gets to make — spec §3 and §9 fix
// it bit-exact — so math/big's modular exponentiation is the right tool: no
// library in the retrieved corpus implements this specific raw (non-ECC)
// fixed group. math/big.Int.Exp is not a constant-time implementation.
package dh

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"
	"math/big"
)

// group2048Hex is the RFC 3526 Group 14 (2048-bit) MODP prime, hex-encoded.
const group2048Hex = "" +
	"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD" +
	"129024E088A67CC74020BBEA63B139B22514A08798E3404" +
	"DDEF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C" +
	"245E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406" +
	"B7EDEE386BFB5A899FA5AE9F24117C4B1FE649286651ECE" +
	"45B3DC2007CB8A163BF0598DA48361C55D39A69163FA8FD" +
	"24CF5F83655D23DCA3AD961C62F356208552BB9ED529077" +
	"096966D670C354E4ABC9804F1746C08CA18217C32905E46" +
	"2E36CE3BE39E772C180E86039B2783A2EC07A28FB5C55DF" +
	"06F4C52C9DE2BCBF6955817183995497CEA956AE515D226" +
	"1898FA051015728E5A8AACAA68FFFFFFFFFFFFFFFF"

// Generator is the DH generator for the fixed group.
var Generator = big.NewInt(2)

// modulus is lazily parsed once; placeholder kept private so callers always
// go through Modulus().
var modulus *big.Int

// Modulus returns the fixed RFC 3526 2048-bit MODP group modulus p, parsed
// once on first use.
func Modulus() *big.Int {
	if modulus == nil {
		p, ok := new(big.Int).SetString(group2048Hex, 16)
		if !ok {
			panic("dh: invalid embedded MODP group constant")
		}
		modulus = p
	}
	return modulus
}

// ErrInvalidPublicValue is returned when a peer's public value is outside
// the valid range [2, p-2], guarding against degenerate shared secrets.
var ErrInvalidPublicValue = errors.New("dh: public value out of range")

// PrivateKey holds a generated exponent x and its public value y = g^x mod p.
type PrivateKey struct {
	X *big.Int
	Y *big.Int
}

// Generate draws a private exponent uniformly from [1, p-1] and computes the
// corresponding public value. r defaults to crypto/rand.Reader when nil.
func Generate(r io.Reader) (*PrivateKey, error) {
	if r == nil {
		r = rand.Reader
	}
	p := Modulus()
	pMinus1 := new(big.Int).Sub(p, big.NewInt(1))
	x, err := rand.Int(r, pMinus1)
	if err != nil {
		return nil, err
	}
	x.Add(x, big.NewInt(1)) // shift [0, p-2] to [1, p-1]
	y := new(big.Int).Exp(Generator, x, p)
	return &PrivateKey{X: x, Y: y}, nil
}

// SharedSecret computes s = peerY^x mod p after validating peerY is in
// range. The result carries no forward secrecy and is not resistant to an
// active man-in-the-middle (spec §4.2) — it is a session key, nothing more.
func (k *PrivateKey) SharedSecret(peerY *big.Int) (*big.Int, error) {
	p := Modulus()
	lower := big.NewInt(2)
	upper := new(big.Int).Sub(p, big.NewInt(2))
	if peerY.Cmp(lower) < 0 || peerY.Cmp(upper) > 0 {
		return nil, ErrInvalidPublicValue
	}
	return new(big.Int).Exp(peerY, k.X, p), nil
}

// MarshalPublic returns y's minimal big-endian byte encoding. Go's
// big.Int.Bytes() already produces the minimal unsigned representation, so
// the "pad an odd hex digit with a leading zero" caveat from spec §9 (which
// applies to hex-string-based DH implementations) does not arise here.
func MarshalPublic(y *big.Int) []byte { return y.Bytes() }

// UnmarshalPublic parses a big-endian byte string into a public value.
func UnmarshalPublic(b []byte) *big.Int { return new(big.Int).SetBytes(b) }

// EncodeLengthPrefixed returns len(y)[4 LE] ‖ y, the wire form used in both
// SYNC directions of secure mode (spec §6).
func EncodeLengthPrefixed(y *big.Int) []byte {
	raw := MarshalPublic(y)
	out := make([]byte, 4+len(raw))
	binary.LittleEndian.PutUint32(out[:4], uint32(len(raw)))
	copy(out[4:], raw)
	return out
}

// DecodeLengthPrefixed reads a length-prefixed public value from the front
// of buf and returns it along with the number of bytes consumed.
func DecodeLengthPrefixed(buf []byte) (y *big.Int, consumed int, err error) {
	if len(buf) < 4 {
		return nil, 0, errors.New("dh: buffer too short for length prefix")
	}
	n := int(binary.LittleEndian.Uint32(buf[:4]))
	if n < 0 || 4+n > len(buf) {
		return nil, 0, errors.New("dh: length prefix exceeds buffer")
	}
	return UnmarshalPublic(buf[4 : 4+n]), 4 + n, nil
}
