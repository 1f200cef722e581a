// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package mbserial

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

// encodeRTU pulls a full frame out of the encoder.
func encodeRTU(t *testing.T, frame *Frame) []byte {
	t.Helper()
	enc := NewRTUEncoder()
	if err := enc.Load(frame); err != nil {
		t.Fatal(err)
	}
	var out []byte
	for enc.HasNext() {
		b, err := enc.Next()
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, b)
	}
	return out
}

// decodeRTU feeds wire bytes and the end-of-frame gap.
func decodeRTU(t *testing.T, wire []byte) (*Frame, FrameFlags) {
	t.Helper()
	dec := NewRTUDecoder(MaxPDUDataSize)
	for _, b := range wire {
		dec.Update(b)
	}
	dec.End()
	frame, flags, err := dec.Frame()
	if err != nil {
		t.Fatal(err)
	}
	return frame, flags
}

func TestRTUEncodeKnownFrame(t *testing.T) {
	wire := encodeRTU(t, &Frame{
		Address:      0x0B,
		FunctionCode: 0x03,
		Data:         []byte{0x00, 0x00, 0x00, 0x02},
	})
	want := []byte{0x0B, 0x03, 0x00, 0x00, 0x00, 0x02, 0xC4, 0xA1}
	if !bytes.Equal(wire, want) {
		t.Fatalf("encoded % x, want % x", wire, want)
	}
}

func TestRTUEncodeEmptyData(t *testing.T) {
	wire := encodeRTU(t, &Frame{Address: 0x0B, FunctionCode: 0x07})
	if len(wire) != 4 {
		t.Fatalf("encoded %d bytes, want 4", len(wire))
	}
	frame, flags := decodeRTU(t, wire)
	if flags != 0 {
		t.Fatalf("flags %#x, want 0", flags)
	}
	if frame.Address != 0x0B || frame.FunctionCode != 0x07 || len(frame.Data) != 0 {
		t.Fatalf("round trip mismatch: %+v", frame)
	}
}

func TestRTUEncodeFrameEnd(t *testing.T) {
	enc := NewRTUEncoder()
	if err := enc.Load(&Frame{Address: 1, FunctionCode: 3}); err != nil {
		t.Fatal(err)
	}
	for enc.HasNext() {
		if _, err := enc.Next(); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := enc.Next(); !errors.Is(err, ErrEncoderFrameEnd) {
		t.Fatalf("expected ErrEncoderFrameEnd, actual %v", err)
	}
}

func TestRTUEncodeOversizedData(t *testing.T) {
	enc := NewRTUEncoder()
	err := enc.Load(&Frame{Address: 1, FunctionCode: 3, Data: make([]byte, MaxPDUDataSize+1)})
	if !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, actual %v", err)
	}
}

func TestRTURoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 200; trial++ {
		data := make([]byte, rng.Intn(MaxPDUDataSize+1))
		rng.Read(data)
		original := &Frame{
			Address:      byte(rng.Intn(248)),
			FunctionCode: byte(1 + rng.Intn(127)),
			Data:         data,
		}
		wire := encodeRTU(t, original)
		frame, flags := decodeRTU(t, wire)
		if flags != 0 {
			t.Fatalf("trial %d: flags %#x, want 0", trial, flags)
		}
		if frame.Address != original.Address || frame.FunctionCode != original.FunctionCode {
			t.Fatalf("trial %d: header mismatch", trial)
		}
		if !bytes.Equal(frame.Data, original.Data) {
			t.Fatalf("trial %d: data mismatch", trial)
		}
	}
}

func TestRTUBitFlipDetected(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for trial := 0; trial < 200; trial++ {
		data := make([]byte, rng.Intn(32))
		rng.Read(data)
		wire := encodeRTU(t, &Frame{
			Address:      byte(1 + rng.Intn(247)),
			FunctionCode: byte(1 + rng.Intn(127)),
			Data:         data,
		})
		corrupted := make([]byte, len(wire))
		copy(corrupted, wire)
		bit := rng.Intn(len(corrupted) * 8)
		corrupted[bit/8] ^= 1 << uint(bit%8)

		_, flags := decodeRTU(t, corrupted)
		if flags&FlagChecksumMismatch == 0 {
			t.Fatalf("trial %d: single bit flip not detected (flags %#x)", trial, flags)
		}
	}
}

func TestRTUDecodeBadCRC(t *testing.T) {
	dec := NewRTUDecoder(MaxPDUDataSize)
	for _, b := range []byte{0x01, 0x03, 0x02, 0x00, 0x0A, 0x00, 0x00} {
		dec.Update(b)
	}
	dec.End()
	if dec.Flags()&FlagChecksumMismatch == 0 {
		t.Fatalf("flags %#x, want checksum mismatch", dec.Flags())
	}
}

func TestRTUDecodeTruncated(t *testing.T) {
	for n := 0; n <= 3; n++ {
		dec := NewRTUDecoder(MaxPDUDataSize)
		for i := 0; i < n; i++ {
			dec.Update(byte(i + 1))
		}
		dec.End()
		if dec.Flags()&FlagTruncated == 0 {
			t.Errorf("%d bytes: flags %#x, want truncated", n, dec.Flags())
		}
	}
}

func TestRTUDecodeBufferOverflow(t *testing.T) {
	payload := make([]byte, 10)
	for i := range payload {
		payload[i] = byte(i)
	}
	wire := encodeRTU(t, &Frame{Address: 0x11, FunctionCode: 0x10, Data: payload})

	dec := NewRTUDecoder(4)
	for _, b := range wire {
		dec.Update(b)
	}
	dec.End()
	frame, flags, err := dec.Frame()
	if err != nil {
		t.Fatal(err)
	}
	if flags&FlagBufferOverflow == 0 {
		t.Fatalf("flags %#x, want buffer overflow", flags)
	}
	// The checksum is still computed over the full stream.
	if flags&FlagChecksumMismatch != 0 {
		t.Fatalf("flags %#x, checksum should still verify", flags)
	}
	if !bytes.Equal(frame.Data, payload[:4]) {
		t.Fatalf("stored data % x, want % x", frame.Data, payload[:4])
	}
}

func TestRTUDecodeRedundantByte(t *testing.T) {
	wire := encodeRTU(t, &Frame{Address: 1, FunctionCode: 3, Data: []byte{0x01}})
	dec := NewRTUDecoder(MaxPDUDataSize)
	for _, b := range wire {
		dec.Update(b)
	}
	dec.End()
	dec.Update(0xFF)
	if dec.Flags()&FlagRedundantByte == 0 {
		t.Fatalf("flags %#x, want redundant byte", dec.Flags())
	}
}

func TestRTUDecodeFrameBeforeEnd(t *testing.T) {
	dec := NewRTUDecoder(MaxPDUDataSize)
	dec.Update(0x01)
	if _, _, err := dec.Frame(); !errors.Is(err, ErrDecoderInvalidState) {
		t.Fatalf("expected ErrDecoderInvalidState, actual %v", err)
	}
}
