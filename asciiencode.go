// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package mbserial

const hexTable = "0123456789ABCDEF"

type asciiEncodeState byte

const (
	asciiEncodeStart asciiEncodeState = iota
	asciiEncodeBody
	asciiEncodeLRC
	asciiEncodeCR
	asciiEncodeLF
	asciiEncodeEnd
)

// ASCIIEncoder is a pull-based ASCII frame encoder. Each body byte is
// expanded to two upper-case hex characters; the frame is delimited by a
// leading ':' and a trailing CR plus a configurable line feed (default
// '\n'). Encoding is always strict CR LF regardless of how permissive
// the decoder is.
type ASCIIEncoder struct {
	state    asciiEncodeState
	frame    *Frame
	pos      int // -2 address, -1 function, >= 0 data index
	loNibble bool
	cur      byte
	lfChar   byte
	lrc      lrc
}

// NewASCIIEncoder creates an encoder without a frame loaded; call Load
// before pulling bytes.
func NewASCIIEncoder() *ASCIIEncoder {
	return &ASCIIEncoder{state: asciiEncodeEnd, lfChar: asciiLF}
}

// SetLineFeed overrides the trailing line-feed character.
func (e *ASCIIEncoder) SetLineFeed(lf byte) {
	e.lfChar = lf
}

// Load initializes the encoder for frame.
func (e *ASCIIEncoder) Load(frame *Frame) error {
	if frame == nil {
		return ErrNullReference
	}
	if len(frame.Data) > MaxPDUDataSize {
		return ErrOverflow
	}
	e.frame = frame
	e.pos = -2
	e.loNibble = false
	e.state = asciiEncodeStart
	e.lrc.reset()
	return nil
}

// HasNext reports whether emission is complete.
func (e *ASCIIEncoder) HasNext() bool {
	return e.state != asciiEncodeEnd
}

// bodyByte returns the body byte at the current position.
func (e *ASCIIEncoder) bodyByte() byte {
	switch e.pos {
	case -2:
		return e.frame.Address
	case -1:
		return e.frame.FunctionCode
	default:
		return e.frame.Data[e.pos]
	}
}

// Next returns the next wire character. Calling Next at frame end fails
// with ErrEncoderFrameEnd.
func (e *ASCIIEncoder) Next() (byte, error) {
	switch e.state {
	case asciiEncodeStart:
		e.state = asciiEncodeBody
		e.cur = e.bodyByte()
		e.lrc.pushByte(e.cur)
		return asciiStart, nil
	case asciiEncodeBody:
		if !e.loNibble {
			e.loNibble = true
			return hexTable[e.cur>>4], nil
		}
		b := hexTable[e.cur&0x0F]
		e.loNibble = false
		e.pos++
		if e.pos < len(e.frame.Data) {
			e.cur = e.bodyByte()
			e.lrc.pushByte(e.cur)
		} else {
			e.cur = e.lrc.value()
			e.state = asciiEncodeLRC
		}
		return b, nil
	case asciiEncodeLRC:
		if !e.loNibble {
			e.loNibble = true
			return hexTable[e.cur>>4], nil
		}
		b := hexTable[e.cur&0x0F]
		e.loNibble = false
		e.state = asciiEncodeCR
		return b, nil
	case asciiEncodeCR:
		e.state = asciiEncodeLF
		return asciiCR, nil
	case asciiEncodeLF:
		e.state = asciiEncodeEnd
		return e.lfChar, nil
	default:
		return 0, ErrEncoderFrameEnd
	}
}
