// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package mbserial

import (
	"bytes"
	"errors"
	"testing"
)

func TestEmitterFetcherRoundTrip(t *testing.T) {
	buf := make([]byte, 16)
	emit := NewEmitter(buf)

	if err := emit.WriteUint8(0xAB); err != nil {
		t.Fatal(err)
	}
	if err := emit.WriteUint16BE(0x1234); err != nil {
		t.Fatal(err)
	}
	if err := emit.WriteUint16LE(0x5678); err != nil {
		t.Fatal(err)
	}
	if err := emit.WriteUint32BE(0xDEADBEEF); err != nil {
		t.Fatal(err)
	}
	if err := emit.WriteUint32LE(0x01020304); err != nil {
		t.Fatal(err)
	}
	if emit.Written() != 13 {
		t.Fatalf("written expected 13, actual %d", emit.Written())
	}
	want := []byte{
		0xAB,
		0x12, 0x34,
		0x78, 0x56,
		0xDE, 0xAD, 0xBE, 0xEF,
		0x04, 0x03, 0x02, 0x01,
	}
	if !bytes.Equal(emit.Bytes(), want) {
		t.Fatalf("emitted % x, want % x", emit.Bytes(), want)
	}

	fetch := NewFetcher(emit.Bytes())
	if v, err := fetch.ReadUint8(); err != nil || v != 0xAB {
		t.Fatalf("u8 got %02X err %v", v, err)
	}
	if v, err := fetch.ReadUint16BE(); err != nil || v != 0x1234 {
		t.Fatalf("u16be got %04X err %v", v, err)
	}
	if v, err := fetch.ReadUint16LE(); err != nil || v != 0x5678 {
		t.Fatalf("u16le got %04X err %v", v, err)
	}
	if v, err := fetch.ReadUint32BE(); err != nil || v != 0xDEADBEEF {
		t.Fatalf("u32be got %08X err %v", v, err)
	}
	if v, err := fetch.ReadUint32LE(); err != nil || v != 0x01020304 {
		t.Fatalf("u32le got %08X err %v", v, err)
	}
	if fetch.Remaining() != 0 {
		t.Fatalf("remaining expected 0, actual %d", fetch.Remaining())
	}
}

func TestEmitterBufferEnd(t *testing.T) {
	emit := NewEmitter(make([]byte, 3))
	if err := emit.WriteUint16BE(0x0102); err != nil {
		t.Fatal(err)
	}
	if err := emit.WriteUint16BE(0x0304); !errors.Is(err, ErrBufferEnd) {
		t.Fatalf("expected ErrBufferEnd, actual %v", err)
	}
	// The failed write must not move the cursor.
	if emit.Written() != 2 {
		t.Fatalf("written expected 2, actual %d", emit.Written())
	}
	if err := emit.WriteUint8(0x05); err != nil {
		t.Fatal(err)
	}
}

func TestFetcherBufferEnd(t *testing.T) {
	fetch := NewFetcher([]byte{0x01, 0x02, 0x03})
	if _, err := fetch.ReadUint16BE(); err != nil {
		t.Fatal(err)
	}
	if _, err := fetch.ReadUint16BE(); !errors.Is(err, ErrBufferEnd) {
		t.Fatalf("expected ErrBufferEnd, actual %v", err)
	}
	if fetch.Remaining() != 1 {
		t.Fatalf("remaining expected 1, actual %d", fetch.Remaining())
	}
	if _, err := fetch.ReadUint8(); err != nil {
		t.Fatal(err)
	}
}

func TestFetcherReadBytes(t *testing.T) {
	fetch := NewFetcher([]byte{0x01, 0x02, 0x03})
	got, err := fetch.ReadBytes(2)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{0x01, 0x02}) {
		t.Fatalf("got % x", got)
	}
	if _, err := fetch.ReadBytes(2); !errors.Is(err, ErrBufferEnd) {
		t.Fatalf("expected ErrBufferEnd, actual %v", err)
	}
}
