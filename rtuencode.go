// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package mbserial

type rtuEncodeState byte

const (
	rtuEncodeAddress rtuEncodeState = iota
	rtuEncodeFunction
	rtuEncodeData
	rtuEncodeCRCLow
	rtuEncodeCRCHigh
	rtuEncodeEnd
)

// RTUEncoder is a pull-based RTU frame encoder: each call to Next emits
// one wire byte and advances the state machine. The CRC is computed
// incrementally as the body bytes are emitted.
type RTUEncoder struct {
	state rtuEncodeState
	frame *Frame
	pos   int
	crcLo byte
	crcHi byte
	crc   crc
}

// NewRTUEncoder creates an encoder without a frame loaded; call Load
// before pulling bytes.
func NewRTUEncoder() *RTUEncoder {
	return &RTUEncoder{state: rtuEncodeEnd}
}

// Load initializes the encoder for frame. An empty data frame is valid.
func (e *RTUEncoder) Load(frame *Frame) error {
	if frame == nil {
		return ErrNullReference
	}
	if len(frame.Data) > MaxPDUDataSize {
		return ErrOverflow
	}
	e.frame = frame
	e.pos = 0
	e.state = rtuEncodeAddress
	e.crc.reset()
	return nil
}

// HasNext reports whether emission is complete.
func (e *RTUEncoder) HasNext() bool {
	return e.state != rtuEncodeEnd
}

func (e *RTUEncoder) finalizeCRC() {
	e.crcLo = e.crc.lowByte()
	e.crcHi = e.crc.highByte()
}

// Next returns the next wire byte. Calling Next at frame end fails with
// ErrEncoderFrameEnd.
func (e *RTUEncoder) Next() (byte, error) {
	switch e.state {
	case rtuEncodeAddress:
		b := e.frame.Address
		e.crc.pushByte(b)
		e.state = rtuEncodeFunction
		return b, nil
	case rtuEncodeFunction:
		b := e.frame.FunctionCode
		e.crc.pushByte(b)
		if len(e.frame.Data) == 0 {
			e.finalizeCRC()
			e.state = rtuEncodeCRCLow
		} else {
			e.state = rtuEncodeData
		}
		return b, nil
	case rtuEncodeData:
		b := e.frame.Data[e.pos]
		e.crc.pushByte(b)
		e.pos++
		if e.pos == len(e.frame.Data) {
			e.finalizeCRC()
			e.state = rtuEncodeCRCLow
		}
		return b, nil
	case rtuEncodeCRCLow:
		e.state = rtuEncodeCRCHigh
		return e.crcLo, nil
	case rtuEncodeCRCHigh:
		e.state = rtuEncodeEnd
		return e.crcHi, nil
	default:
		return 0, ErrEncoderFrameEnd
	}
}
