// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package mbserial

const (
	asciiStart = ':'
	asciiCR    = '\r'
	asciiLF    = '\n'
)

type asciiDecodeState byte

const (
	// asciiDecodeIdle discards bytes until the start colon.
	asciiDecodeIdle asciiDecodeState = iota
	asciiDecodeAddress
	asciiDecodeFunction
	asciiDecodeData
	asciiDecodeLF
	// asciiDecodeSkip consumes a poisoned frame through to the line feed.
	asciiDecodeSkip
	asciiDecodeEnd
)

// hexValue decodes one ASCII hex digit, case-insensitive.
func hexValue(b byte) (byte, bool) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', true
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, true
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, true
	default:
		return 0, false
	}
}

// ASCIIDecoder is a byte-at-a-time ASCII frame decoder. A frame starts
// at ':'; hex character pairs are folded into bytes through a nibble
// latch; the frame ends at CR LF (a lone LF is tolerated). The last
// reconstructed byte before the delimiter is the LRC trailer and is held
// back from the data buffer in a one-byte holdover.
//
// A ':' observed mid-frame resets the decoder and starts a new frame, so
// the stream re-synchronizes after spurious leading data.
type ASCIIDecoder struct {
	state        asciiDecodeState
	address      byte
	functionCode byte

	buf     []byte
	written int

	hasNibble bool
	nibble    byte

	hasHold bool
	hold    byte

	lfChar byte

	flags FrameFlags
	lrc   lrc
}

// NewASCIIDecoder creates a decoder whose data buffer holds up to
// capacity bytes. Capacity is clamped to MaxPDUDataSize.
func NewASCIIDecoder(capacity int) *ASCIIDecoder {
	if capacity < 0 || capacity > MaxPDUDataSize {
		capacity = MaxPDUDataSize
	}
	d := &ASCIIDecoder{buf: make([]byte, 0, capacity), lfChar: asciiLF}
	d.Reset()
	return d
}

// SetLineFeed overrides the expected trailing line-feed character.
func (d *ASCIIDecoder) SetLineFeed(lf byte) {
	d.lfChar = lf
}

// Reset prepares the decoder for a new frame.
func (d *ASCIIDecoder) Reset() {
	d.state = asciiDecodeIdle
	d.address = 0
	d.functionCode = 0
	d.buf = d.buf[:0]
	d.written = 0
	d.hasNibble = false
	d.nibble = 0
	d.hasHold = false
	d.hold = 0
	d.flags = 0
	d.lrc.reset()
}

// MarkFlags ORs additional flags (driver parity/overrun/frame errors)
// into the frame currently being decoded.
func (d *ASCIIDecoder) MarkFlags(flags FrameFlags) {
	d.flags |= flags
}

// resync restarts the frame at a mid-stream colon.
func (d *ASCIIDecoder) resync() {
	d.Reset()
	d.state = asciiDecodeAddress
}

// Update feeds one received character to the decoder.
func (d *ASCIIDecoder) Update(b byte) {
	if b == asciiStart && d.state != asciiDecodeEnd {
		d.resync()
		return
	}
	switch d.state {
	case asciiDecodeIdle:
		// Discard silently until the start colon.
	case asciiDecodeAddress, asciiDecodeFunction, asciiDecodeData:
		d.updateHex(b)
	case asciiDecodeLF:
		if b != d.lfChar {
			d.flags |= FlagInvalidByte
			d.state = asciiDecodeSkip
			return
		}
		d.state = asciiDecodeEnd
	case asciiDecodeSkip:
		if b == d.lfChar {
			d.state = asciiDecodeEnd
		}
	case asciiDecodeEnd:
		d.flags |= FlagRedundantByte
	}
}

func (d *ASCIIDecoder) updateHex(b byte) {
	if b == asciiCR || b == d.lfChar {
		// A lone line feed is accepted in place of CR LF.
		if d.state != asciiDecodeData || d.hasNibble || !d.hasHold {
			d.flags |= FlagTruncated
			if b == asciiCR {
				d.state = asciiDecodeSkip
				return
			}
			d.state = asciiDecodeEnd
			return
		}
		if d.hold != d.lrc.value() {
			d.flags |= FlagChecksumMismatch
		}
		if b == asciiCR {
			d.state = asciiDecodeLF
		} else {
			d.state = asciiDecodeEnd
		}
		return
	}

	value, ok := hexValue(b)
	if !ok {
		d.flags |= FlagInvalidByte
		d.state = asciiDecodeSkip
		return
	}
	if !d.hasNibble {
		d.nibble = value
		d.hasNibble = true
		return
	}
	full := d.nibble<<4 | value
	d.hasNibble = false

	switch d.state {
	case asciiDecodeAddress:
		d.address = full
		d.lrc.pushByte(full)
		d.state = asciiDecodeFunction
	case asciiDecodeFunction:
		d.functionCode = full
		d.lrc.pushByte(full)
		d.state = asciiDecodeData
	case asciiDecodeData:
		// The newest reconstructed byte is the candidate LRC trailer;
		// its predecessor enters the data buffer and the LRC context.
		if d.hasHold {
			d.lrc.pushByte(d.hold)
			if len(d.buf) < cap(d.buf) {
				d.buf = append(d.buf, d.hold)
			} else {
				d.flags |= FlagBufferOverflow
			}
			d.written++
		}
		d.hold = full
		d.hasHold = true
	}
}

// End signals a synthesized end-of-frame. A frame that has not reached
// its delimiter is marked truncated.
func (d *ASCIIDecoder) End() {
	if d.state == asciiDecodeEnd {
		return
	}
	d.flags |= FlagTruncated
	d.state = asciiDecodeEnd
}

// Complete reports whether the frame delimiter has been observed.
func (d *ASCIIDecoder) Complete() bool {
	return d.state == asciiDecodeEnd
}

// Flags returns the flags accumulated for the current frame.
func (d *ASCIIDecoder) Flags() FrameFlags {
	return d.flags
}

// Frame returns the decoded frame. It fails with ErrDecoderInvalidState
// unless the frame has completed. The returned Data slice is owned by
// the decoder and is valid until the next Reset.
func (d *ASCIIDecoder) Frame() (*Frame, FrameFlags, error) {
	if d.state != asciiDecodeEnd {
		return nil, 0, ErrDecoderInvalidState
	}
	return &Frame{
		Address:      d.address,
		FunctionCode: d.functionCode,
		Data:         d.buf,
	}, d.flags, nil
}
