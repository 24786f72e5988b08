//go:build linux

package endpoint

import (
	"bytes"
	"testing"
	"time"
)

func TestRawEndpointRoundTrip(t *testing.T) {
	a, err := BindRaw(0)
	if err != nil {
		t.Fatalf("BindRaw a: %v", err)
	}
	defer a.Close()
	b, err := BindRaw(0)
	if err != nil {
		t.Fatalf("BindRaw b: %v", err)
	}
	defer b.Close()

	msg := []byte("hello over a raw socket")
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

func TestRawEndpointRecvTimesOut(t *testing.T) {
	a, err := BindRaw(0)
	if err != nil {
		t.Fatalf("BindRaw: %v", err)
	}
	defer a.Close()

	if _, _, err := a.Recv(50 * time.Millisecond); err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}
