package rdt

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ksx/rdtfile/internal/endpoint"
	"github.com/ksx/rdtfile/internal/wire"
)

// fastConfig shrinks every timeout so the full state machine completes in
// well under a second on a loopback link, without changing the protocol's
// behavior.
func fastConfig(opts ...Option) Config {
	base := []Option{
		WithSyncTimeout(60 * time.Millisecond),
		WithRecvLoopTimeout(150 * time.Millisecond),
		WithSendRerequestTimeout(300 * time.Millisecond),
		WithRecvRerequestTimeout(40 * time.Millisecond),
		WithTimeoutRerequestCount(6),
		WithDrainTimeout(5 * time.Millisecond),
	}
	return NewConfig(append(base, opts...)...)
}

func mkPayload(t *testing.T, n int) []byte {
	t.Helper()
	p := make([]byte, n)
	if _, err := rand.Read(p); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	return p
}

// runPair drives a sender and a receiver concurrently over two bound
// endpoints pointed at each other, returning the receiver's reassembled
// bytes and either side's terminal error.
func runPair(t *testing.T, senderEP, receiverEP endpoint.Endpoint, cfg Config, data []byte, secure bool) ([]byte, error, error) {
	t.Helper()

	var sendErr, recvErr error
	var out []byte
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		r := newReceiver(receiverEP, cfg, secure)
		out, recvErr = r.run(2 * time.Second)
	}()
	go func() {
		defer wg.Done()
		time.Sleep(10 * time.Millisecond) // let the receiver start listening first
		s := newSender(senderEP, receiverEP.LocalAddr(), cfg, data, secure)
		sendErr = s.run()
	}()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for sender/receiver to finish")
	}
	return out, sendErr, recvErr
}

func bindPair(t *testing.T) (*endpoint.UDPEndpoint, *endpoint.UDPEndpoint) {
	t.Helper()
	a, err := endpoint.Bind("127.0.0.1:0")
	if err != nil {
		t.Fatalf("bind a: %v", err)
	}
	b, err := endpoint.Bind("127.0.0.1:0")
	if err != nil {
		t.Fatalf("bind b: %v", err)
	}
	t.Cleanup(func() { _ = a.Close(); _ = b.Close() })
	return a, b
}

func TestPlainRoundTripSmallPayload(t *testing.T) {
	a, b := bindPair(t)
	data := mkPayload(t, 37)

	out, sendErr, recvErr := runPair(t, a, b, fastConfig(), data, false)
	if sendErr != nil {
		t.Fatalf("sender: %v", sendErr)
	}
	if recvErr != nil {
		t.Fatalf("receiver: %v", recvErr)
	}
	if !bytes.Equal(out, data) {
		t.Fatalf("payload mismatch: got %d bytes, want %d", len(out), len(data))
	}
}

func TestPlainRoundTripMultiFragment(t *testing.T) {
	a, b := bindPair(t)
	data := mkPayload(t, 9000) // spans several BULK fragments

	out, sendErr, recvErr := runPair(t, a, b, fastConfig(), data, false)
	if sendErr != nil {
		t.Fatalf("sender: %v", sendErr)
	}
	if recvErr != nil {
		t.Fatalf("receiver: %v", recvErr)
	}
	if !bytes.Equal(out, data) {
		t.Fatalf("payload mismatch: got %d bytes, want %d", len(out), len(data))
	}
}

func TestSecureRoundTrip(t *testing.T) {
	a, b := bindPair(t)
	data := mkPayload(t, 6000)

	out, sendErr, recvErr := runPair(t, a, b, fastConfig(), data, true)
	if sendErr != nil {
		t.Fatalf("sender: %v", sendErr)
	}
	if recvErr != nil {
		t.Fatalf("receiver: %v", recvErr)
	}
	if !bytes.Equal(out, data) {
		t.Fatalf("payload mismatch after secure round trip: got %d bytes, want %d", len(out), len(data))
	}
}

// lossyEndpoint wraps a real Endpoint and silently discards a data frame
// (any frame not led by a control tag) whenever it falls on a dropEvery'th
// send, counting control frames among the sends, simulating an
// unreliable link while leaving the underlying socket untouched.
type lossyEndpoint struct {
	endpoint.Endpoint
	mu        sync.Mutex
	sent      int
	dropEvery int
}

func (l *lossyEndpoint) Send(b []byte, peer net.Addr) error {
	_, isControl := wire.Classify(b)
	l.mu.Lock()
	l.sent++
	drop := l.dropEvery > 0 && !isControl && l.sent%l.dropEvery == 0
	l.mu.Unlock()
	if drop {
		return nil // dropped in flight; never reaches the peer
	}
	return l.Endpoint.Send(b, peer)
}

func TestRoundTripSurvivesFragmentLoss(t *testing.T) {
	a, b := bindPair(t)
	lossy := &lossyEndpoint{Endpoint: a, dropEvery: 4}
	data := mkPayload(t, 20000)

	out, sendErr, recvErr := runPair(t, lossy, b, fastConfig(), data, false)
	if sendErr != nil {
		t.Fatalf("sender: %v", sendErr)
	}
	if recvErr != nil {
		t.Fatalf("receiver: %v", recvErr)
	}
	if !bytes.Equal(out, data) {
		t.Fatalf("payload mismatch after lossy round trip: got %d bytes, want %d", len(out), len(data))
	}
}

func TestSendRejectsShortPayload(t *testing.T) {
	a, b := bindPair(t)
	_ = b
	s := &Session{ep: a, cfg: fastConfig(), peer: a.LocalAddr()}
	if ok := s.Send([]byte{0x01}, false); ok {
		t.Fatal("expected Send to reject a 1-byte payload")
	}
	if s.LastError() != ErrShortPayload {
		t.Fatalf("LastError = %v, want ErrShortPayload", s.LastError())
	}
}

func TestSendRejectsUnboundSession(t *testing.T) {
	a, _ := bindPair(t)
	s := &Session{ep: a, cfg: fastConfig()}
	if ok := s.Send(mkPayload(t, 10), false); ok {
		t.Fatal("expected Send to reject a session with no bound peer")
	}
	if s.LastError() != ErrNotBound {
		t.Fatalf("LastError = %v, want ErrNotBound", s.LastError())
	}
}

func TestConnectAndBindIntegration(t *testing.T) {
	receiverSession, err := Bind("127.0.0.1:0", func(c *Config) { *c = fastConfig() })
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer receiverSession.Close()

	raddr := receiverSession.LocalAddr().(*net.UDPAddr)
	senderSession, err := Connect(raddr.IP.String(), raddr.Port, func(c *Config) { *c = fastConfig() })
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer senderSession.Close()

	data := mkPayload(t, 4200)

	var recvOut []byte
	var recvErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		recvOut, recvErr = receiverSession.Recv(2*time.Second, false)
	}()

	time.Sleep(10 * time.Millisecond)
	if ok := senderSession.Send(data, false); !ok {
		t.Fatalf("Send failed: %v", senderSession.LastError())
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Recv")
	}
	if recvErr != nil {
		t.Fatalf("Recv: %v", recvErr)
	}
	if !bytes.Equal(recvOut, data) {
		t.Fatalf("payload mismatch: got %d bytes, want %d", len(recvOut), len(data))
	}
}

// reorderEndpoint wraps a real Endpoint and holds every other data frame
// until the next one has been sent, then sends the held frame right after
// it (a control frame flushes any held frame first) — swapping the arrival
// order of every adjacent pair of fragments without dropping or
// duplicating anything (spec §8 scenario 4).
type reorderEndpoint struct {
	endpoint.Endpoint
	mu   sync.Mutex
	held []byte
}

func (r *reorderEndpoint) Send(b []byte, peer net.Addr) error {
	_, isControl := wire.Classify(b)
	r.mu.Lock()
	if isControl {
		prev := r.held
		r.held = nil
		r.mu.Unlock()
		if prev != nil {
			if err := r.Endpoint.Send(prev, peer); err != nil {
				return err
			}
		}
		return r.Endpoint.Send(b, peer)
	}
	prev := r.held
	if prev == nil {
		r.held = append([]byte(nil), b...)
		r.mu.Unlock()
		return nil
	}
	r.held = nil
	r.mu.Unlock()
	if err := r.Endpoint.Send(b, peer); err != nil {
		return err
	}
	return r.Endpoint.Send(prev, peer)
}

func TestRoundTripToleratesReordering(t *testing.T) {
	a, b := bindPair(t)
	reordered := &reorderEndpoint{Endpoint: a}
	data := mkPayload(t, 20000) // several BULK fragments, enough to reorder repeatedly

	out, sendErr, recvErr := runPair(t, reordered, b, fastConfig(), data, false)
	if sendErr != nil {
		t.Fatalf("sender: %v", sendErr)
	}
	if recvErr != nil {
		t.Fatalf("receiver: %v", recvErr)
	}
	if !bytes.Equal(out, data) {
		t.Fatalf("payload mismatch after reordered round trip: got %d bytes, want %d", len(out), len(data))
	}
}

// duplicateEndpoint wraps a real Endpoint and sends every data frame twice,
// exercising the receiver's duplicate-overwrite idempotence (spec §8
// property 4: a duplicate fragment must never double-count toward
// received).
type duplicateEndpoint struct {
	endpoint.Endpoint
}

func (d *duplicateEndpoint) Send(b []byte, peer net.Addr) error {
	_, isControl := wire.Classify(b)
	if err := d.Endpoint.Send(b, peer); err != nil {
		return err
	}
	if !isControl {
		_ = d.Endpoint.Send(b, peer)
	}
	return nil
}

func TestRoundTripToleratesDuplicates(t *testing.T) {
	a, b := bindPair(t)
	duped := &duplicateEndpoint{Endpoint: a}
	data := mkPayload(t, 9000)

	out, sendErr, recvErr := runPair(t, duped, b, fastConfig(), data, false)
	if sendErr != nil {
		t.Fatalf("sender: %v", sendErr)
	}
	if recvErr != nil {
		t.Fatalf("receiver: %v", recvErr)
	}
	if !bytes.Equal(out, data) {
		t.Fatalf("payload mismatch after duplicated round trip: got %d bytes, want %d", len(out), len(data))
	}
}

// tailDropEndpoint wraps a real Endpoint and unconditionally withholds the
// most recently sent data frame (delay-by-one), but
// drops it outright — rather than flushing it — the first time a control
// frame (bulkPhase's trailing DONE) is sent. This deterministically loses
// exactly the last-emitted fragment regardless of the sender's random
// chunk sizes, forcing the receiver's conservative initialDMax estimate
// (which always overshoots the true fragment count once a fragment is
// missing, since it assumes worst-case MinDataSize-sized remaining
// fragments) to request at least one id the sender never emitted — the
// spec §8 scenario 5 / OUT_OF_RANGE clamp path at receiver.go's
// repairPhase.
type tailDropEndpoint struct {
	endpoint.Endpoint
	mu      sync.Mutex
	pending []byte
	dropped bool
}

func (e *tailDropEndpoint) Send(b []byte, peer net.Addr) error {
	_, isControl := wire.Classify(b)
	e.mu.Lock()
	defer e.mu.Unlock()
	if isControl {
		prev := e.pending
		e.pending = nil
		if prev != nil && !e.dropped {
			e.dropped = true
			return e.Endpoint.Send(b, peer) // drop prev silently; forward only the control frame
		}
		if prev != nil {
			if err := e.Endpoint.Send(prev, peer); err != nil {
				return err
			}
		}
		return e.Endpoint.Send(b, peer)
	}
	prev := e.pending
	e.pending = append([]byte(nil), b...)
	if prev != nil {
		return e.Endpoint.Send(prev, peer)
	}
	return nil
}

func TestRoundTripRecoversFromOutOfRangeClamp(t *testing.T) {
	a, b := bindPair(t)
	tailDrop := &tailDropEndpoint{Endpoint: a}
	data := mkPayload(t, 20000)

	out, sendErr, recvErr := runPair(t, tailDrop, b, fastConfig(), data, false)
	if sendErr != nil {
		t.Fatalf("sender: %v", sendErr)
	}
	if recvErr != nil {
		t.Fatalf("receiver: %v", recvErr)
	}
	if !bytes.Equal(out, data) {
		t.Fatalf("payload mismatch after out-of-range-clamp round trip: got %d bytes, want %d", len(out), len(data))
	}
	if !tailDrop.dropped {
		t.Fatal("test setup bug: tailDropEndpoint never observed a control frame to drop against")
	}
}

// noisyDuringBulkEndpoint wraps a real Endpoint and, after every third data
// frame, injects a spurious OUT_OF_RANGE control frame addressed to the
// same peer. The receiver's bulkPhase must discard it without ever
// entering it into fragments or perturbing received (spec §8 property 7:
// control isolation during BULK).
type noisyDuringBulkEndpoint struct {
	endpoint.Endpoint
	mu    sync.Mutex
	count int
}

func (n *noisyDuringBulkEndpoint) Send(b []byte, peer net.Addr) error {
	_, isControl := wire.Classify(b)
	if err := n.Endpoint.Send(b, peer); err != nil {
		return err
	}
	if isControl {
		return nil
	}
	n.mu.Lock()
	n.count++
	inject := n.count%3 == 0
	n.mu.Unlock()
	if inject {
		return n.Endpoint.Send(wire.EncodeOutOfRange(0xFFFFFFFF), peer)
	}
	return nil
}

func TestRoundTripIgnoresControlFramesDuringBulk(t *testing.T) {
	a, b := bindPair(t)
	noisy := &noisyDuringBulkEndpoint{Endpoint: a}
	data := mkPayload(t, 20000)

	out, sendErr, recvErr := runPair(t, noisy, b, fastConfig(), data, false)
	if sendErr != nil {
		t.Fatalf("sender: %v", sendErr)
	}
	if recvErr != nil {
		t.Fatalf("receiver: %v", recvErr)
	}
	if !bytes.Equal(out, data) {
		t.Fatalf("payload mismatch after noisy-control round trip: got %d bytes, want %d", len(out), len(data))
	}
}

func TestSendAndRecvRejectAfterClose(t *testing.T) {
	a, b := bindPair(t)
	_ = b
	s := &Session{ep: a, cfg: fastConfig(), peer: a.LocalAddr()}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if ok := s.Send(mkPayload(t, 10), false); ok {
		t.Fatal("expected Send to reject on a closed session")
	}
	if s.LastError() != ErrClosedEndpoint {
		t.Fatalf("LastError = %v, want ErrClosedEndpoint", s.LastError())
	}

	if _, err := s.Recv(10*time.Millisecond, false); err != ErrClosedEndpoint {
		t.Fatalf("Recv err = %v, want ErrClosedEndpoint", err)
	}
}

func TestMain(m *testing.M) {
	// Sanity guard: fail fast and loudly if fastConfig ever produces an
	// invalid zero-value Config rather than hanging every test on timeout.
	cfg := fastConfig()
	if cfg.SyncTimeout <= 0 || cfg.TimeoutRerequestCount <= 0 {
		panic(fmt.Sprintf("rdt_test: fastConfig produced an invalid Config: %+v", cfg))
	}
	m.Run()
}
