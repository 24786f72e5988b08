package rdt

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"time"

	"github.com/ksx/rdtfile/internal/cipherstream"
	"github.com/ksx/rdtfile/internal/dh"
	"github.com/ksx/rdtfile/internal/endpoint"
	"github.com/ksx/rdtfile/internal/logging"
	"github.com/ksx/rdtfile/internal/metrics"
	"github.com/ksx/rdtfile/internal/transport"
	"github.com/ksx/rdtfile/internal/wire"
)

// sender drives IDLE -> SYNC -> BULK -> REPAIR -> DRAIN -> DONE for one
// outbound transfer (spec §4.3). One instance is used for exactly one Send
// call; it is not reused across sessions.
type sender struct {
	ep     endpoint.Endpoint
	peer   net.Addr
	cfg    Config
	data   []byte
	secure bool
	codec  wire.Codec
	logger *slog.Logger

	retained map[uint32][]byte // packet_id -> framed bytes, retained until TEARDOWN
	total    uint32            // number of fragments actually emitted
}

func newSender(ep endpoint.Endpoint, peer net.Addr, cfg Config, data []byte, secure bool) *sender {
	return &sender{
		ep:       ep,
		peer:     peer,
		cfg:      cfg,
		data:     data,
		secure:   secure,
		logger:   logging.L().With("role", "sender"),
		retained: make(map[uint32][]byte),
	}
}

// run executes the full state machine and returns nil on success or a
// terminal sentinel error.
func (s *sender) run() error {
	s.drainStale()

	cipher, err := s.syncPhase()
	if err != nil {
		reason := metrics.ReasonSyncFailure
		if errors.Is(err, ErrCipherMisuse) {
			reason = metrics.ReasonCipherMisuse
		}
		metrics.IncSessionFailed("sender", reason)
		return err
	}

	if err := s.bulkPhase(cipher); err != nil {
		return err
	}
	if err := s.repairPhase(); err != nil {
		return err
	}
	metrics.IncSessionSucceeded("sender")
	return nil
}

// drainStale discards any datagrams left over from a previous session on
// this endpoint before starting SYNC (spec §4.3).
func (s *sender) drainStale() {
	for {
		if _, _, err := s.ep.Recv(s.cfg.DrainTimeout); err != nil {
			return
		}
	}
}

// syncPhase performs up to three SYNC rounds and returns the BULK-payload
// cipher (nil in plain mode).
func (s *sender) syncPhase() (*cipherstream.Stream, error) {
	n := uint32(len(s.data))
	for round := 0; round < 3; round++ {
		timeout := s.cfg.SyncTimeout + time.Duration(round)*s.cfg.SyncTimeout
		s.logger.Debug("sync_round", "round", round, "timeout", timeout, "secure", s.secure)
		metrics.IncSyncAttempt()

		if s.secure {
			cipher, ok, err := s.syncRoundSecure(n, timeout)
			if err != nil {
				return nil, err
			}
			if ok {
				return cipher, nil
			}
			continue
		}
		ok, err := s.syncRoundPlain(n, timeout)
		if err != nil {
			return nil, err
		}
		if ok {
			return nil, nil
		}
	}
	s.logger.Error("sync_failed")
	return nil, ErrSyncFailure
}

func (s *sender) syncRoundPlain(n uint32, timeout time.Duration) (bool, error) {
	var msg [4]byte
	binary.LittleEndian.PutUint32(msg[:], n)
	if err := s.ep.Send(wire.Pad(msg[:]), s.peer); err != nil {
		return false, nil
	}
	resp, _, err := s.ep.Recv(timeout)
	if err != nil {
		return false, nil
	}
	if len(resp) < 4 {
		return false, nil
	}
	return binary.LittleEndian.Uint32(resp[:4]) == n, nil
}

func (s *sender) syncRoundSecure(n uint32, timeout time.Duration) (*cipherstream.Stream, bool, error) {
	priv, err := dh.Generate(nil)
	if err != nil {
		return nil, false, fmt.Errorf("%w: generate dh key: %v", ErrCipherMisuse, err)
	}
	var nb [4]byte
	binary.LittleEndian.PutUint32(nb[:], n)
	msg := append(dh.EncodeLengthPrefixed(priv.Y), nb[:]...)
	if err := s.ep.Send(wire.Pad(msg), s.peer); err != nil {
		return nil, false, nil
	}

	resp, _, err := s.ep.Recv(timeout)
	if err != nil {
		return nil, false, nil
	}
	peerY, consumed, err := dh.DecodeLengthPrefixed(resp)
	if err != nil || consumed+4 > len(resp) {
		return nil, false, nil
	}
	shared, err := priv.SharedSecret(peerY)
	if err != nil {
		return nil, false, nil
	}
	key := dh.DeriveKey(shared)

	// One-shot stream for the 4-byte ENC(N) field only; BULK gets its own
	// fresh stream below so the length-field exchange never perturbs the
	// payload keystream schedule (spec §9 Open Question resolution).
	syncStream, err := cipherstream.New(key)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrCipherMisuse, err)
	}
	encN := append([]byte(nil), resp[consumed:consumed+4]...)
	syncStream.Decrypt(encN)
	if binary.LittleEndian.Uint32(encN) != n {
		return nil, false, nil
	}

	bulkStream, err := cipherstream.New(key)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrCipherMisuse, err)
	}
	return bulkStream, true, nil
}

// bulkPhase emits fragments in ascending id order, retaining their framed
// bytes, then sends DONE.
func (s *sender) bulkPhase(cipher *cipherstream.Stream) error {
	pacer := transport.NewIntervalPacer(10, 5*time.Millisecond)
	tx := transport.NewAsyncTx(context.Background(), 64, func(f transport.Fragment) error {
		return s.ep.Send(s.retained[f.ID], s.peer)
	}, transport.Hooks{
		OnAfter: func() { metrics.IncFragmentsSent() },
		OnError: func(err error) { s.logger.Warn("bulk_send_error", "error", err) },
		OnDrop:  func() error { return errors.New("rdt: bulk send buffer full") },
	}, pacer)

	dataIndex := 0
	packetID := uint32(0)
	n := len(s.data)
	for dataIndex < n {
		l := wire.MinDataSize + rand.Intn(wire.MaxDataSize-wire.MinDataSize+1)
		if dataIndex+l > n {
			l = n - dataIndex
		}
		payload := append([]byte(nil), s.data[dataIndex:dataIndex+l]...)
		if cipher != nil {
			cipher.Encrypt(payload)
		}
		frame, err := s.codec.Encode(packetID, payload)
		if err != nil {
			tx.Close()
			return fmt.Errorf("rdt: encode fragment %d: %w", packetID, err)
		}
		s.retained[packetID] = frame
		if err := tx.SendFragment(transport.Fragment{ID: packetID, Payload: payload}); err != nil {
			// Buffer full: fall back to a direct send so no fragment is lost.
			if sendErr := s.ep.Send(frame, s.peer); sendErr == nil {
				metrics.IncFragmentsSent()
			}
		}
		metrics.AddBytesSent(int64(len(frame)))
		dataIndex += l
		packetID++
	}
	s.total = packetID
	tx.Close()

	return s.ep.Send(wire.EncodeDone(), s.peer)
}

// repairPhase answers MISSING requests until the receiver signals success
// or DONE, or the idle-retry budget is exhausted.
func (s *sender) repairPhase() error {
	retries := s.cfg.TimeoutRerequestCount
	for {
		datagram, _, err := s.ep.Recv(s.cfg.SendRerequestTimeout)
		if err != nil {
			retries--
			if retries <= 0 {
				s.logger.Error("repair_unreachable")
				metrics.IncSessionFailed("sender", metrics.ReasonUnreachable)
				return ErrUnreachable
			}
			continue
		}

		tag, _ := wire.Classify(datagram)

		switch tag {
		case wire.TagMissing:
			ids, err := wire.DecodeMissing(datagram)
			if err != nil {
				continue
			}
			metrics.IncRepairRound()
			if len(ids) == 0 {
				continue // success signal; await DRAIN's DONE
			}
			if err := s.retransmit(ids); err != nil {
				return err
			}
		case wire.TagDone:
			_ = s.ep.Send(wire.EncodeDone(), s.peer)
			return nil
		default:
			s.logger.Error("protocol_violation", "tag", tag)
			metrics.IncSessionFailed("sender", metrics.ReasonProtocolViolation)
			return ErrProtocolViolation
		}
	}
}

// retransmit resends every requested id found in the retention map; the
// first id never emitted triggers OUT_OF_RANGE and ends the burst.
func (s *sender) retransmit(ids []uint32) error {
	time.Sleep(100 * time.Millisecond)
	for i, id := range ids {
		frame, ok := s.retained[id]
		if !ok {
			metrics.IncOutOfRange()
			return s.ep.Send(wire.EncodeOutOfRange(id), s.peer)
		}
		if err := s.ep.Send(frame, s.peer); err != nil {
			return nil
		}
		metrics.IncFragmentsRetransmitted()
		if (i+1)%30 == 0 {
			time.Sleep(1 * time.Millisecond)
		}
	}
	return nil
}
