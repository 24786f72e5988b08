package wire

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func mkPayload(n int) []byte {
	p := make([]byte, n)
	_, _ = rand.Read(p)
	return p
}

func TestCodecRoundTrip(t *testing.T) {
	codec := Codec{}
	payload := mkPayload(MinDataSize)
	frame, err := codec.Encode(7, payload)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	df, err := codec.Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if df.ID != 7 || !bytes.Equal(df.Payload, payload) {
		t.Fatalf("round trip mismatch: id=%d payload matches=%v", df.ID, bytes.Equal(df.Payload, payload))
	}
}

func TestCodecRejectsBitFlip(t *testing.T) {
	codec := Codec{}
	frame, err := codec.Encode(1, mkPayload(600))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	corrupt := append([]byte(nil), frame...)
	corrupt[LenHeaders+10] ^= 0x01
	if _, err := codec.Decode(corrupt); err != ErrChecksumMismatch {
		t.Fatalf("expected checksum mismatch, got %v", err)
	}
}

func TestCodecRejectsTruncated(t *testing.T) {
	codec := Codec{}
	if _, err := codec.Decode(make([]byte, LenHeaders-1)); err != ErrFrameTooShort {
		t.Fatalf("expected ErrFrameTooShort, got %v", err)
	}
}

func TestEncodeRejectsOutOfBoundsPayload(t *testing.T) {
	codec := Codec{}
	if _, err := codec.Encode(1, nil); err != ErrPayloadOutOfBounds {
		t.Fatalf("expected ErrPayloadOutOfBounds for empty payload, got %v", err)
	}
	if _, err := codec.Encode(1, mkPayload(MaxDataSize+1)); err != ErrPayloadOutOfBounds {
		t.Fatalf("expected ErrPayloadOutOfBounds for long payload, got %v", err)
	}
	if _, err := codec.Encode(1, mkPayload(MinDataSize-1)); err != nil {
		t.Fatalf("a short final fragment below MinDataSize must still encode, got %v", err)
	}
}

func TestClassifyDistinguishesControlFromData(t *testing.T) {
	codec := Codec{}
	frame, _ := codec.Encode(1, mkPayload(MinDataSize))
	if tag, isControl := Classify(frame); isControl {
		t.Fatalf("data frame misclassified as control (tag=%x)", tag)
	}

	done := EncodeDone()
	if tag, isControl := Classify(done); !isControl || tag != TagDone {
		t.Fatalf("DONE frame misclassified: tag=%x isControl=%v", tag, isControl)
	}
}

func TestMissingRoundTrip(t *testing.T) {
	ids := []uint32{0, 3, 5, 9, 100}
	frame, n := EncodeMissing(ids)
	if n != len(ids) {
		t.Fatalf("encoded %d ids, want %d", n, len(ids))
	}
	got, err := DecodeMissing(frame)
	if err != nil {
		t.Fatalf("DecodeMissing: %v", err)
	}
	if len(got) != len(ids) {
		t.Fatalf("decoded %d ids, want %d", len(got), len(ids))
	}
	for i := range ids {
		if got[i] != ids[i] {
			t.Fatalf("id[%d] = %d, want %d", i, got[i], ids[i])
		}
	}
}

func TestMissingEmptyMeansDone(t *testing.T) {
	frame, n := EncodeMissing(nil)
	if n != 0 {
		t.Fatalf("expected 0 ids encoded, got %d", n)
	}
	got, err := DecodeMissing(frame)
	if err != nil {
		t.Fatalf("DecodeMissing: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no ids, got %v", got)
	}
}

func TestMissingBoundedBySingleDatagram(t *testing.T) {
	ids := make([]uint32, MaxDataSize) // far more than could ever fit
	for i := range ids {
		ids[i] = uint32(i)
	}
	frame, n := EncodeMissing(ids)
	if len(frame) > MaxDataSize {
		t.Fatalf("MISSING frame exceeds MaxDataSize: %d", len(frame))
	}
	if n >= len(ids) {
		t.Fatalf("expected truncation, encoded all %d ids", n)
	}
}

func TestOutOfRangeRoundTrip(t *testing.T) {
	frame := EncodeOutOfRange(999)
	id, err := DecodeOutOfRange(frame)
	if err != nil {
		t.Fatalf("DecodeOutOfRange: %v", err)
	}
	if id != 999 {
		t.Fatalf("id = %d, want 999", id)
	}
}

func TestDonePaddingIgnoredByPrefixMatch(t *testing.T) {
	for i := 0; i < 20; i++ {
		frame := EncodeDone()
		tag, ok := TagOf(frame)
		if !ok || tag != TagDone {
			t.Fatalf("padded DONE frame failed prefix match: ok=%v tag=%x", ok, tag)
		}
	}
}
