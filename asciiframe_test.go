// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package mbserial

import (
	"bytes"
	"math/rand"
	"testing"
)

// encodeASCII pulls a full frame out of the encoder.
func encodeASCII(t *testing.T, frame *Frame, lf byte) []byte {
	t.Helper()
	enc := NewASCIIEncoder()
	if lf != 0 {
		enc.SetLineFeed(lf)
	}
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

func decodeASCII(t *testing.T, wire []byte, lf byte) (*Frame, FrameFlags) {
	t.Helper()
	dec := NewASCIIDecoder(MaxPDUDataSize)
	if lf != 0 {
		dec.SetLineFeed(lf)
	}
	for _, b := range wire {
		dec.Update(b)
	}
	if !dec.Complete() {
		t.Fatal("decoder did not reach end of frame")
	}
	frame, flags, err := dec.Frame()
	if err != nil {
		t.Fatal(err)
	}
	return frame, flags
}

func TestASCIIEncodeKnownFrames(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
		want  string
	}{
		{
			name:  "read coils request",
			frame: Frame{Address: 0x01, FunctionCode: 0x01, Data: []byte{0x00, 0x00, 0x00, 0x0A}},
			want:  ":01010000000AF4\r\n",
		},
		{
			name:  "read coils response",
			frame: Frame{Address: 0x01, FunctionCode: 0x01, Data: []byte{0x02, 0xCD, 0x01}},
			want:  ":010102CD012E\r\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire := encodeASCII(t, &tt.frame, 0)
			if string(wire) != tt.want {
				t.Fatalf("encoded %q, want %q", wire, tt.want)
			}
		})
	}
}

func TestASCIIDecodeKnownFrame(t *testing.T) {
	frame, flags := decodeASCII(t, []byte(":010102CD012E\r\n"), 0)
	if flags != 0 {
		t.Fatalf("flags %#x, want 0", flags)
	}
	if frame.Address != 0x01 || frame.FunctionCode != 0x01 {
		t.Fatalf("header mismatch: %+v", frame)
	}
	if !bytes.Equal(frame.Data, []byte{0x02, 0xCD, 0x01}) {
		t.Fatalf("data % x", frame.Data)
	}
}

func TestASCIIDecodeLowercaseHex(t *testing.T) {
	frame, flags := decodeASCII(t, []byte(":010102cd012e\r\n"), 0)
	if flags != 0 {
		t.Fatalf("flags %#x, want 0", flags)
	}
	if !bytes.Equal(frame.Data, []byte{0x02, 0xCD, 0x01}) {
		t.Fatalf("data % x", frame.Data)
	}
}

func TestASCIIDecodeSpuriousLeadingBytes(t *testing.T) {
	wire := append([]byte{0x55, 0xAA, 'G'}, []byte(":010102CD012E\r\n")...)
	frame, flags := decodeASCII(t, wire, 0)
	if flags != 0 {
		t.Fatalf("flags %#x, want 0", flags)
	}
	if frame.Address != 0x01 {
		t.Fatalf("address %v", frame.Address)
	}
}

func TestASCIIDecodeMidFrameResync(t *testing.T) {
	wire := append([]byte(":0103A2"), []byte(":010102CD012E\r\n")...)
	frame, flags := decodeASCII(t, wire, 0)
	if flags != 0 {
		t.Fatalf("flags %#x, want 0", flags)
	}
	if frame.FunctionCode != 0x01 || !bytes.Equal(frame.Data, []byte{0x02, 0xCD, 0x01}) {
		t.Fatalf("resync failed: %+v", frame)
	}
}

func TestASCIIDecodeInvalidHex(t *testing.T) {
	dec := NewASCIIDecoder(MaxPDUDataSize)
	for _, b := range []byte(":0101XX00000AF4\r\n") {
		dec.Update(b)
	}
	if !dec.Complete() {
		t.Fatal("decoder did not consume through line feed")
	}
	_, flags, err := dec.Frame()
	if err != nil {
		t.Fatal(err)
	}
	if flags&FlagInvalidByte == 0 {
		t.Fatalf("flags %#x, want invalid byte", flags)
	}
	if flags.Deliverable() {
		t.Fatal("poisoned frame must not be deliverable")
	}
}

func TestASCIIDecodeLoneLineFeed(t *testing.T) {
	frame, flags := decodeASCII(t, []byte(":010102CD012E\n"), 0)
	if flags != 0 {
		t.Fatalf("flags %#x, want 0", flags)
	}
	if !bytes.Equal(frame.Data, []byte{0x02, 0xCD, 0x01}) {
		t.Fatalf("data % x", frame.Data)
	}
}

func TestASCIIDecodeBadLRC(t *testing.T) {
	_, flags := decodeASCII(t, []byte(":010102CD01FF\r\n"), 0)
	if flags&FlagChecksumMismatch == 0 {
		t.Fatalf("flags %#x, want checksum mismatch", flags)
	}
}

func TestASCIIDecodeRedundantByte(t *testing.T) {
	dec := NewASCIIDecoder(MaxPDUDataSize)
	for _, b := range []byte(":010102CD012E\r\nA") {
		dec.Update(b)
	}
	_, flags, err := dec.Frame()
	if err != nil {
		t.Fatal(err)
	}
	if flags&FlagRedundantByte == 0 {
		t.Fatalf("flags %#x, want redundant byte", flags)
	}
}

func TestASCIIDecodeTruncatedEnd(t *testing.T) {
	dec := NewASCIIDecoder(MaxPDUDataSize)
	for _, b := range []byte(":0101") {
		dec.Update(b)
	}
	dec.End()
	_, flags, err := dec.Frame()
	if err != nil {
		t.Fatal(err)
	}
	if flags&FlagTruncated == 0 {
		t.Fatalf("flags %#x, want truncated", flags)
	}
}

func TestASCIIRoundTrip(t *testing.T) {
	lineFeeds := []byte{'\n', '\r', 'X'}
	rng := rand.New(rand.NewSource(3))
	for trial := 0; trial < 100; trial++ {
		data := make([]byte, rng.Intn(MaxPDUDataSize+1))
		rng.Read(data)
		original := &Frame{
			Address:      byte(rng.Intn(248)),
			FunctionCode: byte(1 + rng.Intn(127)),
			Data:         data,
		}
		lf := lineFeeds[trial%len(lineFeeds)]
		wire := encodeASCII(t, original, lf)
		frame, flags := decodeASCII(t, wire, lf)
		if flags != 0 {
			t.Fatalf("trial %d (lf %q): flags %#x, want 0", trial, lf, flags)
		}
		if frame.Address != original.Address || frame.FunctionCode != original.FunctionCode {
			t.Fatalf("trial %d: header mismatch", trial)
		}
		if !bytes.Equal(frame.Data, original.Data) {
			t.Fatalf("trial %d: data mismatch", trial)
		}
	}
}

func TestASCIIDecodeBufferOverflow(t *testing.T) {
	payload := make([]byte, 8)
	for i := range payload {
		payload[i] = byte(i)
	}
	wire := encodeASCII(t, &Frame{Address: 1, FunctionCode: 3, Data: payload}, 0)

	dec := NewASCIIDecoder(4)
	for _, b := range wire {
		dec.Update(b)
	}
	frame, flags, err := dec.Frame()
	if err != nil {
		t.Fatal(err)
	}
	if flags&FlagBufferOverflow == 0 {
		t.Fatalf("flags %#x, want buffer overflow", flags)
	}
	if flags&FlagChecksumMismatch != 0 {
		t.Fatalf("flags %#x, checksum should still verify", flags)
	}
	if !bytes.Equal(frame.Data, payload[:4]) {
		t.Fatalf("stored data % x", frame.Data)
	}
}
