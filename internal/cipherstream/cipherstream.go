// Package cipherstream wraps crypto/rc4 behind the forward-only keystream
// contract secure mode needs: encrypt and decrypt are the identical XOR
// operation, and cipher state advances strictly forward by len(X) bytes on
// every call, never rewound or replayed (spec §4.2, §9). RC4 is the stream
// cipher named in the spec; no library in the retrieved corpus offers a
// seekable or rewindable stream cipher, and none is needed since every
// fragment is consumed in ascending id order.
package cipherstream

import (
	"crypto/rc4"
	"errors"

	"github.com/ksx/rdtfile/internal/dh"
)

// ErrKeySize is returned when a key of the wrong length reaches NewFromBytes.
var ErrKeySize = errors.New("cipherstream: key must be dh.KeyLen bytes")

// Stream is a one-directional RC4 keystream cursor. It is not safe for
// concurrent use: callers in BULK and TEARDOWN apply it from a single
// goroutine per direction.
type Stream struct {
	c *rc4.Cipher
}

// New builds a Stream from a derived session key.
func New(key [dh.KeyLen]byte) (*Stream, error) {
	c, err := rc4.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return &Stream{c: c}, nil
}

// NewFromBytes is New for callers holding a raw key slice rather than the
// fixed-size array dh.DeriveKey returns.
func NewFromBytes(key []byte) (*Stream, error) {
	if len(key) != dh.KeyLen {
		return nil, ErrKeySize
	}
	var fixed [dh.KeyLen]byte
	copy(fixed[:], key)
	return New(fixed)
}

// XOR advances the keystream by len(dst) bytes, writing dst = src XOR
// keystream. It is used for both directions: RC4 XOR is its own inverse, so
// the same call encrypts plaintext and decrypts ciphertext. dst and src may
// overlap exactly (in-place use on a payload buffer).
func (s *Stream) XOR(dst, src []byte) {
	s.c.XORKeyStream(dst, src)
}

// Encrypt XORs p against the keystream in place and returns it, advancing
// the cursor by len(p).
func (s *Stream) Encrypt(p []byte) []byte {
	s.c.XORKeyStream(p, p)
	return p
}

// Decrypt is Encrypt under another name: the operation is identical. It
// exists so call sites read as intent rather than as a reused encrypt call.
func (s *Stream) Decrypt(p []byte) []byte {
	s.c.XORKeyStream(p, p)
	return p
}
