// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package mbserial

import "encoding/binary"

// Emitter is a bounded forward-writing cursor over a byte buffer. Writes
// past the end of the buffer fail with ErrBufferEnd and leave the cursor
// unchanged.
type Emitter struct {
	buf []byte
	pos int
}

// NewEmitter creates an Emitter over buf.
func NewEmitter(buf []byte) *Emitter {
	return &Emitter{buf: buf}
}

// Reset rewinds the cursor to the start of the buffer.
func (e *Emitter) Reset() {
	e.pos = 0
}

// Written returns the number of bytes written so far.
func (e *Emitter) Written() int {
	return e.pos
}

// Bytes returns the written portion of the buffer.
func (e *Emitter) Bytes() []byte {
	return e.buf[:e.pos]
}

func (e *Emitter) ensure(n int) error {
	if e.pos+n > len(e.buf) {
		return ErrBufferEnd
	}
	return nil
}

// WriteUint8 appends one byte.
func (e *Emitter) WriteUint8(v byte) error {
	if err := e.ensure(1); err != nil {
		return err
	}
	e.buf[e.pos] = v
	e.pos++
	return nil
}

// WriteUint16BE appends a big-endian 16-bit value.
func (e *Emitter) WriteUint16BE(v uint16) error {
	if err := e.ensure(2); err != nil {
		return err
	}
	binary.BigEndian.PutUint16(e.buf[e.pos:], v)
	e.pos += 2
	return nil
}

// WriteUint16LE appends a little-endian 16-bit value.
func (e *Emitter) WriteUint16LE(v uint16) error {
	if err := e.ensure(2); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(e.buf[e.pos:], v)
	e.pos += 2
	return nil
}

// WriteUint32BE appends a big-endian 32-bit value.
func (e *Emitter) WriteUint32BE(v uint32) error {
	if err := e.ensure(4); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(e.buf[e.pos:], v)
	e.pos += 4
	return nil
}

// WriteUint32LE appends a little-endian 32-bit value.
func (e *Emitter) WriteUint32LE(v uint32) error {
	if err := e.ensure(4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(e.buf[e.pos:], v)
	e.pos += 4
	return nil
}

// WriteBytes appends a byte slice.
func (e *Emitter) WriteBytes(data []byte) error {
	if err := e.ensure(len(data)); err != nil {
		return err
	}
	copy(e.buf[e.pos:], data)
	e.pos += len(data)
	return nil
}

// Fetcher is a bounded forward-reading cursor over a byte buffer. Reads
// past the end of the buffer fail with ErrBufferEnd and leave the cursor
// unchanged.
type Fetcher struct {
	buf []byte
	pos int
}

// NewFetcher creates a Fetcher over buf.
func NewFetcher(buf []byte) *Fetcher {
	return &Fetcher{buf: buf}
}

// Reset rewinds the cursor to the start of the buffer.
func (f *Fetcher) Reset() {
	f.pos = 0
}

// Remaining returns the number of unread bytes.
func (f *Fetcher) Remaining() int {
	return len(f.buf) - f.pos
}

func (f *Fetcher) ensure(n int) error {
	if f.pos+n > len(f.buf) {
		return ErrBufferEnd
	}
	return nil
}

// ReadUint8 reads one byte.
func (f *Fetcher) ReadUint8() (byte, error) {
	if err := f.ensure(1); err != nil {
		return 0, err
	}
	v := f.buf[f.pos]
	f.pos++
	return v, nil
}

// ReadUint16BE reads a big-endian 16-bit value.
func (f *Fetcher) ReadUint16BE() (uint16, error) {
	if err := f.ensure(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(f.buf[f.pos:])
	f.pos += 2
	return v, nil
}

// ReadUint16LE reads a little-endian 16-bit value.
func (f *Fetcher) ReadUint16LE() (uint16, error) {
	if err := f.ensure(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(f.buf[f.pos:])
	f.pos += 2
	return v, nil
}

// ReadUint32BE reads a big-endian 32-bit value.
func (f *Fetcher) ReadUint32BE() (uint32, error) {
	if err := f.ensure(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(f.buf[f.pos:])
	f.pos += 4
	return v, nil
}

// ReadUint32LE reads a little-endian 32-bit value.
func (f *Fetcher) ReadUint32LE() (uint32, error) {
	if err := f.ensure(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(f.buf[f.pos:])
	f.pos += 4
	return v, nil
}

// ReadBytes reads n bytes. The returned slice aliases the underlying
// buffer.
func (f *Fetcher) ReadBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrInvalidParameter
	}
	if err := f.ensure(n); err != nil {
		return nil, err
	}
	v := f.buf[f.pos : f.pos+n]
	f.pos += n
	return v, nil
}
