// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package mbserial

type rtuDecodeState byte

const (
	rtuDecodeAddress rtuDecodeState = iota
	rtuDecodeFunction
	rtuDecodeData
	rtuDecodeEnd
)

// RTUDecoder is a byte-at-a-time RTU frame decoder. Bytes are fed with
// Update; the end of a frame is signalled externally with End, driven by
// the 3.5 character inter-frame gap.
//
// The decoder does not know the frame length in advance. The two most
// recently received body bytes are held back from the data buffer and
// the CRC in a rolling two-byte holdover; when End fires they are
// reinterpreted as the checksum trailer.
type RTUDecoder struct {
	state        rtuDecodeState
	address      byte
	functionCode byte

	buf     []byte
	written int

	// Rolling holdover of the last two body bytes. prev is the older of
	// the two and is first on the wire, so it is the candidate CRC low
	// byte; last is the candidate CRC high byte.
	prev byte
	last byte

	flags FrameFlags
	crc   crc
}

// NewRTUDecoder creates a decoder whose data buffer holds up to capacity
// bytes. Capacity is clamped to MaxPDUDataSize.
func NewRTUDecoder(capacity int) *RTUDecoder {
	if capacity < 0 || capacity > MaxPDUDataSize {
		capacity = MaxPDUDataSize
	}
	d := &RTUDecoder{buf: make([]byte, 0, capacity)}
	d.Reset()
	return d
}

// Reset prepares the decoder for a new frame.
func (d *RTUDecoder) Reset() {
	d.state = rtuDecodeAddress
	d.address = 0
	d.functionCode = 0
	d.buf = d.buf[:0]
	d.written = 0
	d.prev = 0
	d.last = 0
	d.flags = 0
	d.crc.reset()
}

// MarkFlags ORs additional flags (driver parity/overrun/frame errors)
// into the frame currently being decoded.
func (d *RTUDecoder) MarkFlags(flags FrameFlags) {
	d.flags |= flags
}

// Update feeds one received byte to the decoder.
func (d *RTUDecoder) Update(b byte) {
	switch d.state {
	case rtuDecodeAddress:
		d.address = b
		d.crc.pushByte(b)
		d.state = rtuDecodeFunction
	case rtuDecodeFunction:
		d.functionCode = b
		d.crc.pushByte(b)
		d.state = rtuDecodeData
	case rtuDecodeData:
		// A body byte enters the data buffer and the CRC only once two
		// newer bytes have arrived behind it; the final two bytes are
		// the checksum trailer and never count as data.
		if d.written >= 2 {
			d.crc.pushByte(d.prev)
			if len(d.buf) < cap(d.buf) {
				d.buf = append(d.buf, d.prev)
			} else {
				d.flags |= FlagBufferOverflow
			}
		}
		d.prev = d.last
		d.last = b
		d.written++
	case rtuDecodeEnd:
		d.flags |= FlagRedundantByte
	}
}

// End signals end-of-frame (inter-frame gap expiry). The held-back
// trailer bytes are compared against the computed CRC.
func (d *RTUDecoder) End() {
	if d.state == rtuDecodeEnd {
		return
	}
	if d.state != rtuDecodeData || d.written < 2 {
		// Fewer than 4 bytes total: no room for even an empty PDU plus
		// the CRC trailer.
		d.flags |= FlagTruncated
		d.state = rtuDecodeEnd
		return
	}
	if d.prev != d.crc.lowByte() || d.last != d.crc.highByte() {
		d.flags |= FlagChecksumMismatch
	}
	d.state = rtuDecodeEnd
}

// Flags returns the flags accumulated for the current frame.
func (d *RTUDecoder) Flags() FrameFlags {
	return d.flags
}

// Frame returns the decoded frame. It fails with ErrDecoderInvalidState
// unless End has been signalled. The returned Data slice is owned by the
// decoder and is valid until the next Reset.
func (d *RTUDecoder) Frame() (*Frame, FrameFlags, error) {
	if d.state != rtuDecodeEnd {
		return nil, 0, ErrDecoderInvalidState
	}
	return &Frame{
		Address:      d.address,
		FunctionCode: d.functionCode,
		Data:         d.buf,
	}, d.flags, nil
}
