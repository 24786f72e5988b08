package endpoint

import (
	"bytes"
	"testing"
	"time"
)

func TestUDPEndpointRoundTrip(t *testing.T) {
	a, err := Bind("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Bind a: %v", err)
	}
	defer a.Close()
	b, err := Bind("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Bind b: %v", err)
	}
	defer b.Close()

	msg := []byte("hello over udp")
	if err := a.Send(msg, b.LocalAddr()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got, from, err := b.Recv(time.Second)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if !bytes.Equal(got, msg) {
		t.Fatalf("payload mismatch: got %q want %q", got, msg)
	}
	if from == nil {
		t.Fatalf("expected non-nil source address")
	}
}

func TestUDPEndpointRecvTimesOut(t *testing.T) {
	a, err := Bind("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer a.Close()

	if _, _, err := a.Recv(50 * time.Millisecond); err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}
