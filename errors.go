package rdt

import "errors"

// Sentinel errors surfaced to callers. MalformedFrame and OutOfRange are
// deliberately absent: per spec they resolve locally (discard-and-retry,
// d_max clamp) and never reach the caller as a terminal failure.
var (
	// ErrSyncFailure means three SYNC rounds elapsed with no accepted
	// response.
	ErrSyncFailure = errors.New("rdt: sync failed after all rounds")

	// ErrUnreachable means REPAIR's idle-retry budget was exhausted
	// without receiving a usable datagram from the peer.
	ErrUnreachable = errors.New("rdt: peer unreachable during repair")

	// ErrProtocolViolation means a datagram that is neither MISSING nor
	// DONE arrived during REPAIR.
	ErrProtocolViolation = errors.New("rdt: protocol violation during repair")

	// ErrCipherMisuse means a secure-mode SYNC response was unparsable or
	// failed length verification after decryption.
	ErrCipherMisuse = errors.New("rdt: cipher misuse during secure sync")

	// ErrShortPayload means the caller's payload is below the documented
	// minimum of 2 bytes; Send rejects it rather than silently padding.
	ErrShortPayload = errors.New("rdt: payload shorter than the 2-byte minimum")

	// ErrClosedEndpoint means the session's datagram endpoint has been
	// closed and can no longer send or receive.
	ErrClosedEndpoint = errors.New("rdt: endpoint closed")

	// ErrNotBound means Send was called on a session with no peer: neither
	// connect nor a completed Recv has set one.
	ErrNotBound = errors.New("rdt: session has no bound peer")
)
