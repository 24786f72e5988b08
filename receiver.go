package rdt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"time"

	"github.com/ksx/rdtfile/internal/cipherstream"
	"github.com/ksx/rdtfile/internal/dh"
	"github.com/ksx/rdtfile/internal/endpoint"
	"github.com/ksx/rdtfile/internal/logging"
	"github.com/ksx/rdtfile/internal/metrics"
	"github.com/ksx/rdtfile/internal/wire"
)

// receiver drives IDLE -> SYNC -> BULK -> REPAIR -> TEARDOWN for one
// inbound transfer (spec §4.4). One instance serves exactly one Recv call.
type receiver struct {
	ep     endpoint.Endpoint
	cfg    Config
	secure bool
	peer   net.Addr
	codec  wire.Codec
	logger *slog.Logger

	fragments map[uint32][]byte
	received  int
	n         int // negotiated transfer length
}

func newReceiver(ep endpoint.Endpoint, cfg Config, secure bool) *receiver {
	return &receiver{
		ep:        ep,
		cfg:       cfg,
		secure:    secure,
		logger:    logging.L().With("role", "receiver"),
		fragments: make(map[uint32][]byte),
	}
}

// run executes the full state machine. initialTimeout bounds the wait for
// the first inbound SYNC datagram; zero means block indefinitely (the bind
// use case, where the peer is not yet known).
func (r *receiver) run(initialTimeout time.Duration) ([]byte, error) {
	r.drainStale()

	cipher, err := r.syncPhase(initialTimeout)
	if err != nil {
		reason := metrics.ReasonSyncFailure
		if errors.Is(err, ErrCipherMisuse) {
			reason = metrics.ReasonCipherMisuse
		}
		metrics.IncSessionFailed("receiver", reason)
		return nil, err
	}

	r.bulkPhase()

	if err := r.repairPhase(); err != nil {
		metrics.IncSessionFailed("receiver", reasonFor(err))
		return nil, err
	}

	out, err := r.teardownPhase(cipher)
	if err != nil {
		metrics.IncSessionFailed("receiver", metrics.ReasonProtocolViolation)
		return nil, err
	}
	metrics.IncSessionSucceeded("receiver")
	return out, nil
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, ErrUnreachable):
		return metrics.ReasonUnreachable
	case errors.Is(err, ErrProtocolViolation):
		return metrics.ReasonProtocolViolation
	case errors.Is(err, ErrCipherMisuse):
		return metrics.ReasonCipherMisuse
	default:
		return metrics.ReasonProtocolViolation
	}
}

func (r *receiver) drainStale() {
	for {
		if _, _, err := r.ep.Recv(r.cfg.DrainTimeout); err != nil {
			return
		}
	}
}

// syncPhase waits for the first SYNC datagram, records the peer, and
// replies per spec §4.4.
func (r *receiver) syncPhase(timeout time.Duration) (*cipherstream.Stream, error) {
	datagram, from, err := r.ep.Recv(timeout)
	if err != nil {
		return nil, ErrSyncFailure
	}
	r.peer = from

	if r.secure {
		return r.syncSecure(datagram)
	}
	return nil, r.syncPlain(datagram)
}

func (r *receiver) syncPlain(datagram []byte) error {
	if len(datagram) < 4 {
		return ErrSyncFailure
	}
	n := binary.LittleEndian.Uint32(datagram[:4])
	r.n = int(n)
	var resp [4]byte
	binary.LittleEndian.PutUint32(resp[:], n)
	return r.ep.Send(wire.Pad(resp[:]), r.peer)
}

func (r *receiver) syncSecure(datagram []byte) (*cipherstream.Stream, error) {
	peerY, consumed, err := dh.DecodeLengthPrefixed(datagram)
	if err != nil || consumed+4 > len(datagram) {
		return nil, ErrCipherMisuse
	}
	n := binary.LittleEndian.Uint32(datagram[consumed : consumed+4])
	r.n = int(n)

	priv, err := dh.Generate(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: generate dh key: %v", ErrCipherMisuse, err)
	}
	shared, err := priv.SharedSecret(peerY)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCipherMisuse, err)
	}
	key := dh.DeriveKey(shared)

	// One-shot stream to encrypt the echoed length field only; BULK/TEARDOWN
	// get a fresh stream so the length exchange never perturbs the payload
	// keystream schedule (spec §9 Open Question resolution).
	syncStream, err := cipherstream.New(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCipherMisuse, err)
	}
	var encN [4]byte
	binary.LittleEndian.PutUint32(encN[:], n)
	syncStream.Encrypt(encN[:])

	resp := append(dh.EncodeLengthPrefixed(priv.Y), encN[:]...)
	if err := r.ep.Send(wire.Pad(resp), r.peer); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCipherMisuse, err)
	}

	bulkStream, err := cipherstream.New(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCipherMisuse, err)
	}
	return bulkStream, nil
}

// bulkPhase collects fragments until received==n, a DONE tag is observed,
// or the receive loop times out.
func (r *receiver) bulkPhase() {
	for r.received < r.n {
		datagram, _, err := r.ep.Recv(r.cfg.RecvLoopTimeout)
		if err != nil {
			return // timeout: move on to REPAIR
		}
		tag, isControl := wire.Classify(datagram)
		if isControl {
			if tag == wire.TagDone {
				return
			}
			continue // MISSING/OUT_OF_RANGE during BULK never enter fragments (spec §8 property 7)
		}
		df, err := r.codec.Decode(datagram)
		if err != nil {
			continue // MalformedFrame: silently discarded, recovered via REPAIR
		}
		if _, exists := r.fragments[df.ID]; !exists {
			r.received += len(df.Payload)
		}
		r.fragments[df.ID] = df.Payload // duplicates overwrite; payload is idempotent
		metrics.IncFragmentsReceived()
		metrics.AddBytesReceived(int64(len(datagram)))
	}
}

// repairPhase drives the receiver's selective-repeat loop (spec §4.4).
func (r *receiver) repairPhase() error {
	if r.received >= r.n {
		return r.finishRepair()
	}

	dMax := r.initialDMax()
	budget := r.cfg.TimeoutRerequestCount

outer:
	for {
		ids := r.missingIDs(dMax)
		if len(ids) == 0 || r.received >= r.n {
			return r.finishRepair()
		}

		frame, encoded := wire.EncodeMissing(ids)
		if err := r.ep.Send(frame, r.peer); err != nil {
			return ErrUnreachable
		}
		metrics.IncRepairRound()

		for i := 0; i < encoded; i++ {
			resp, _, err := r.ep.Recv(r.cfg.RecvRerequestTimeout)
			if err != nil {
				budget--
				if budget <= 0 {
					return ErrUnreachable
				}
				continue outer
			}

			tag, isControl := wire.Classify(resp)
			if isControl && tag == wire.TagOutOfRange {
				badID, err := wire.DecodeOutOfRange(resp)
				if err == nil {
					metrics.IncOutOfRange()
					if badID < dMax {
						dMax = badID
					}
				}
				continue outer
			}

			df, err := r.codec.Decode(resp)
			if err != nil {
				continue
			}
			if old, ok := r.fragments[df.ID]; ok {
				r.received -= len(old)
			}
			r.fragments[df.ID] = df.Payload
			r.received += len(df.Payload)
			metrics.IncFragmentsReceived()
		}
	}
}

// initialDMax computes the receiver's first upper bound on the id space
// (spec §4.4).
func (r *receiver) initialDMax() uint32 {
	missingPacketMax := 2 + ceilDiv(r.n-r.received, wire.MinDataSize)
	if len(r.fragments) == 0 {
		return uint32(missingPacketMax)
	}
	return maxFragmentID(r.fragments) + uint32(missingPacketMax)
}

// missingIDs lists every id in [0, dMax) not yet held. The list is not
// truncated here; wire.EncodeMissing encodes only what fits a single MISSING
// datagram.
func (r *receiver) missingIDs(dMax uint32) []uint32 {
	ids := make([]uint32, 0, dMax)
	for i := uint32(0); i < dMax; i++ {
		if _, ok := r.fragments[i]; !ok {
			ids = append(ids, i)
		}
	}
	return ids
}

// finishRepair sends empty MISSING requests (the success signal) until a
// DONE arrives or the idle-retry budget is spent.
func (r *receiver) finishRepair() error {
	frame, _ := wire.EncodeMissing(nil)
	for i := 0; i < r.cfg.TimeoutRerequestCount; i++ {
		if err := r.ep.Send(frame, r.peer); err != nil {
			return ErrUnreachable
		}
		resp, _, err := r.ep.Recv(r.cfg.RecvRerequestTimeout)
		if err != nil {
			continue
		}
		if tag, ok := wire.TagOf(resp); ok && tag == wire.TagDone {
			return nil
		}
	}
	return nil // sender may have already moved on; TEARDOWN still completes locally
}

// teardownPhase emits DONE, drains the socket, decrypts in id order, and
// concatenates the assembled payload.
func (r *receiver) teardownPhase(cipher *cipherstream.Stream) ([]byte, error) {
	_ = r.ep.Send(wire.EncodeDone(), r.peer)
	r.drainStale()

	ids := make([]uint32, 0, len(r.fragments))
	for id := range r.fragments {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]byte, 0, r.n)
	for _, id := range ids {
		payload := r.fragments[id]
		if cipher != nil {
			cipher.Decrypt(payload)
		}
		out = append(out, payload...)
	}
	return out, nil
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

func maxFragmentID(fragments map[uint32][]byte) uint32 {
	var max uint32
	first := true
	for id := range fragments {
		if first || id > max {
			max = id
			first = false
		}
	}
	return max
}
