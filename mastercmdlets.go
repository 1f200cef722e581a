// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package mbserial

import "fmt"

// exceptionCallback is the common exception delivery embedded by every
// command-let.
type exceptionCallback struct {
	// OnException fires when the slave answers with an exception
	// response.
	OnException func(code ExceptionCode)
}

func (c *exceptionCallback) HandleException(code ExceptionCode) {
	if c.OnException != nil {
		c.OnException(code)
	}
}

// parseBitResponse decodes a byte-count-prefixed bit response and
// streams the values in ascending address order.
func parseBitResponse(fetch *Fetcher, quantity uint16,
	onStart func(count uint16), onValue func(index uint16, value bool), onEnd func()) error {
	byteCount, err := fetch.ReadUint8()
	if err != nil {
		return err
	}
	if uint16(byteCount) != (quantity+7)/8 {
		return fmt.Errorf("%w: byte count '%v' does not match quantity '%v'",
			ErrRxInvalidFormat, byteCount, quantity)
	}
	packed, err := fetch.ReadBytes(int(byteCount))
	if err != nil {
		return err
	}
	if onStart != nil {
		onStart(quantity)
	}
	for i := uint16(0); i < quantity; i++ {
		if onValue != nil {
			onValue(i, packed[i/8]&(1<<uint(i%8)) != 0)
		}
	}
	if onEnd != nil {
		onEnd()
	}
	return nil
}

// parseRegisterResponse decodes a byte-count-prefixed register response
// and streams the values in ascending address order.
func parseRegisterResponse(fetch *Fetcher, quantity uint16,
	onStart func(count uint16), onValue func(index uint16, value uint16), onEnd func()) error {
	byteCount, err := fetch.ReadUint8()
	if err != nil {
		return err
	}
	if uint16(byteCount) != quantity*2 {
		return fmt.Errorf("%w: byte count '%v' does not match quantity '%v'",
			ErrRxInvalidFormat, byteCount, quantity)
	}
	if onStart != nil {
		onStart(quantity)
	}
	for i := uint16(0); i < quantity; i++ {
		v, err := fetch.ReadUint16BE()
		if err != nil {
			return err
		}
		if onValue != nil {
			onValue(i, v)
		}
	}
	if onEnd != nil {
		onEnd()
	}
	return nil
}

// ReadCoilsCommand reads coils (function code 0x01).
type ReadCoilsCommand struct {
	exceptionCallback
	StartAddress uint16
	Quantity     uint16

	OnStart func(count uint16)
	OnValue func(index uint16, value bool)
	OnEnd   func()
}

func (c *ReadCoilsCommand) FunctionCode() byte { return FuncCodeReadCoils }

func (c *ReadCoilsCommand) BuildRequest(emit *Emitter) error {
	if c.Quantity < 1 || c.Quantity > 2000 {
		return fmt.Errorf("%w: quantity '%v' must be between 1 and 2000",
			ErrInvalidParameter, c.Quantity)
	}
	if err := emit.WriteUint16BE(c.StartAddress); err != nil {
		return err
	}
	return emit.WriteUint16BE(c.Quantity)
}

func (c *ReadCoilsCommand) ParseResponse(fetch *Fetcher) error {
	return parseBitResponse(fetch, c.Quantity, c.OnStart, c.OnValue, c.OnEnd)
}

// ReadDiscreteInputsCommand reads discrete inputs (function code 0x02).
type ReadDiscreteInputsCommand struct {
	exceptionCallback
	StartAddress uint16
	Quantity     uint16

	OnStart func(count uint16)
	OnValue func(index uint16, value bool)
	OnEnd   func()
}

func (c *ReadDiscreteInputsCommand) FunctionCode() byte { return FuncCodeReadDiscreteInputs }

func (c *ReadDiscreteInputsCommand) BuildRequest(emit *Emitter) error {
	if c.Quantity < 1 || c.Quantity > 2000 {
		return fmt.Errorf("%w: quantity '%v' must be between 1 and 2000",
			ErrInvalidParameter, c.Quantity)
	}
	if err := emit.WriteUint16BE(c.StartAddress); err != nil {
		return err
	}
	return emit.WriteUint16BE(c.Quantity)
}

func (c *ReadDiscreteInputsCommand) ParseResponse(fetch *Fetcher) error {
	return parseBitResponse(fetch, c.Quantity, c.OnStart, c.OnValue, c.OnEnd)
}

// ReadHoldingRegistersCommand reads holding registers (function code
// 0x03).
type ReadHoldingRegistersCommand struct {
	exceptionCallback
	StartAddress uint16
	Quantity     uint16

	OnStart func(count uint16)
	OnValue func(index uint16, value uint16)
	OnEnd   func()
}

func (c *ReadHoldingRegistersCommand) FunctionCode() byte { return FuncCodeReadHoldingRegisters }

func (c *ReadHoldingRegistersCommand) BuildRequest(emit *Emitter) error {
	if c.Quantity < 1 || c.Quantity > 125 {
		return fmt.Errorf("%w: quantity '%v' must be between 1 and 125",
			ErrInvalidParameter, c.Quantity)
	}
	if err := emit.WriteUint16BE(c.StartAddress); err != nil {
		return err
	}
	return emit.WriteUint16BE(c.Quantity)
}

func (c *ReadHoldingRegistersCommand) ParseResponse(fetch *Fetcher) error {
	return parseRegisterResponse(fetch, c.Quantity, c.OnStart, c.OnValue, c.OnEnd)
}

// ReadInputRegistersCommand reads input registers (function code 0x04).
type ReadInputRegistersCommand struct {
	exceptionCallback
	StartAddress uint16
	Quantity     uint16

	OnStart func(count uint16)
	OnValue func(index uint16, value uint16)
	OnEnd   func()
}

func (c *ReadInputRegistersCommand) FunctionCode() byte { return FuncCodeReadInputRegisters }

func (c *ReadInputRegistersCommand) BuildRequest(emit *Emitter) error {
	if c.Quantity < 1 || c.Quantity > 125 {
		return fmt.Errorf("%w: quantity '%v' must be between 1 and 125",
			ErrInvalidParameter, c.Quantity)
	}
	if err := emit.WriteUint16BE(c.StartAddress); err != nil {
		return err
	}
	return emit.WriteUint16BE(c.Quantity)
}

func (c *ReadInputRegistersCommand) ParseResponse(fetch *Fetcher) error {
	return parseRegisterResponse(fetch, c.Quantity, c.OnStart, c.OnValue, c.OnEnd)
}

// WriteSingleCoilCommand writes one coil (function code 0x05).
type WriteSingleCoilCommand struct {
	exceptionCallback
	Address uint16
	Value   bool

	// OnWritten fires once the slave has echoed the write.
	OnWritten func(address uint16, value bool)
}

func (c *WriteSingleCoilCommand) FunctionCode() byte { return FuncCodeWriteSingleCoil }

func (c *WriteSingleCoilCommand) coilValue() uint16 {
	if c.Value {
		return 0xFF00
	}
	return 0x0000
}

func (c *WriteSingleCoilCommand) BuildRequest(emit *Emitter) error {
	if err := emit.WriteUint16BE(c.Address); err != nil {
		return err
	}
	return emit.WriteUint16BE(c.coilValue())
}

func (c *WriteSingleCoilCommand) ParseResponse(fetch *Fetcher) error {
	address, err := fetch.ReadUint16BE()
	if err != nil {
		return err
	}
	value, err := fetch.ReadUint16BE()
	if err != nil {
		return err
	}
	if address != c.Address || value != c.coilValue() {
		return fmt.Errorf("%w: write echo does not match request", ErrRxInvalidFormat)
	}
	if c.OnWritten != nil {
		c.OnWritten(address, value == 0xFF00)
	}
	return nil
}

// WriteSingleRegisterCommand writes one holding register (function code
// 0x06).
type WriteSingleRegisterCommand struct {
	exceptionCallback
	Address uint16
	Value   uint16

	// OnWritten fires once the slave has echoed the write.
	OnWritten func(address, value uint16)
}

func (c *WriteSingleRegisterCommand) FunctionCode() byte { return FuncCodeWriteSingleRegister }

func (c *WriteSingleRegisterCommand) BuildRequest(emit *Emitter) error {
	if err := emit.WriteUint16BE(c.Address); err != nil {
		return err
	}
	return emit.WriteUint16BE(c.Value)
}

func (c *WriteSingleRegisterCommand) ParseResponse(fetch *Fetcher) error {
	address, err := fetch.ReadUint16BE()
	if err != nil {
		return err
	}
	value, err := fetch.ReadUint16BE()
	if err != nil {
		return err
	}
	if address != c.Address || value != c.Value {
		return fmt.Errorf("%w: write echo does not match request", ErrRxInvalidFormat)
	}
	if c.OnWritten != nil {
		c.OnWritten(address, value)
	}
	return nil
}

// WriteMultipleCoilsCommand writes a run of coils (function code 0x0F).
type WriteMultipleCoilsCommand struct {
	exceptionCallback
	StartAddress uint16
	Values       []bool

	OnWritten func(startAddress, quantity uint16)
}

func (c *WriteMultipleCoilsCommand) FunctionCode() byte { return FuncCodeWriteMultipleCoils }

func (c *WriteMultipleCoilsCommand) BuildRequest(emit *Emitter) error {
	quantity := len(c.Values)
	if quantity < 1 || quantity > 1968 {
		return fmt.Errorf("%w: quantity '%v' must be between 1 and 1968",
			ErrInvalidParameter, quantity)
	}
	if err := emit.WriteUint16BE(c.StartAddress); err != nil {
		return err
	}
	if err := emit.WriteUint16BE(uint16(quantity)); err != nil {
		return err
	}
	byteCount := (quantity + 7) / 8
	if err := emit.WriteUint8(byte(byteCount)); err != nil {
		return err
	}
	packed := make([]byte, byteCount)
	for i, v := range c.Values {
		if v {
			packed[i/8] |= 1 << uint(i%8)
		}
	}
	return emit.WriteBytes(packed)
}

func (c *WriteMultipleCoilsCommand) ParseResponse(fetch *Fetcher) error {
	address, err := fetch.ReadUint16BE()
	if err != nil {
		return err
	}
	quantity, err := fetch.ReadUint16BE()
	if err != nil {
		return err
	}
	if address != c.StartAddress || int(quantity) != len(c.Values) {
		return fmt.Errorf("%w: write echo does not match request", ErrRxInvalidFormat)
	}
	if c.OnWritten != nil {
		c.OnWritten(address, quantity)
	}
	return nil
}

// WriteMultipleRegistersCommand writes a run of holding registers
// (function code 0x10).
type WriteMultipleRegistersCommand struct {
	exceptionCallback
	StartAddress uint16
	Values       []uint16

	OnWritten func(startAddress, quantity uint16)
}

func (c *WriteMultipleRegistersCommand) FunctionCode() byte { return FuncCodeWriteMultipleRegisters }

func (c *WriteMultipleRegistersCommand) BuildRequest(emit *Emitter) error {
	quantity := len(c.Values)
	if quantity < 1 || quantity > 123 {
		return fmt.Errorf("%w: quantity '%v' must be between 1 and 123",
			ErrInvalidParameter, quantity)
	}
	if err := emit.WriteUint16BE(c.StartAddress); err != nil {
		return err
	}
	if err := emit.WriteUint16BE(uint16(quantity)); err != nil {
		return err
	}
	if err := emit.WriteUint8(byte(quantity * 2)); err != nil {
		return err
	}
	for _, v := range c.Values {
		if err := emit.WriteUint16BE(v); err != nil {
			return err
		}
	}
	return nil
}

func (c *WriteMultipleRegistersCommand) ParseResponse(fetch *Fetcher) error {
	address, err := fetch.ReadUint16BE()
	if err != nil {
		return err
	}
	quantity, err := fetch.ReadUint16BE()
	if err != nil {
		return err
	}
	if address != c.StartAddress || int(quantity) != len(c.Values) {
		return fmt.Errorf("%w: write echo does not match request", ErrRxInvalidFormat)
	}
	if c.OnWritten != nil {
		c.OnWritten(address, quantity)
	}
	return nil
}

// MaskWriteRegisterCommand applies an AND/OR mask to a holding register
// (function code 0x16).
type MaskWriteRegisterCommand struct {
	exceptionCallback
	Address uint16
	AndMask uint16
	OrMask  uint16

	OnWritten func(address, andMask, orMask uint16)
}

func (c *MaskWriteRegisterCommand) FunctionCode() byte { return FuncCodeMaskWriteRegister }

func (c *MaskWriteRegisterCommand) BuildRequest(emit *Emitter) error {
	if err := emit.WriteUint16BE(c.Address); err != nil {
		return err
	}
	if err := emit.WriteUint16BE(c.AndMask); err != nil {
		return err
	}
	return emit.WriteUint16BE(c.OrMask)
}

func (c *MaskWriteRegisterCommand) ParseResponse(fetch *Fetcher) error {
	address, err := fetch.ReadUint16BE()
	if err != nil {
		return err
	}
	andMask, err := fetch.ReadUint16BE()
	if err != nil {
		return err
	}
	orMask, err := fetch.ReadUint16BE()
	if err != nil {
		return err
	}
	if address != c.Address || andMask != c.AndMask || orMask != c.OrMask {
		return fmt.Errorf("%w: write echo does not match request", ErrRxInvalidFormat)
	}
	if c.OnWritten != nil {
		c.OnWritten(address, andMask, orMask)
	}
	return nil
}

// ReadWriteMultipleRegistersCommand writes then reads holding registers
// in one transaction (function code 0x17).
type ReadWriteMultipleRegistersCommand struct {
	exceptionCallback
	ReadStartAddress  uint16
	ReadQuantity      uint16
	WriteStartAddress uint16
	WriteValues       []uint16

	OnStart func(count uint16)
	OnValue func(index uint16, value uint16)
	OnEnd   func()
}

func (c *ReadWriteMultipleRegistersCommand) FunctionCode() byte {
	return FuncCodeReadWriteMultipleRegisters
}

func (c *ReadWriteMultipleRegistersCommand) BuildRequest(emit *Emitter) error {
	if c.ReadQuantity < 1 || c.ReadQuantity > 125 {
		return fmt.Errorf("%w: read quantity '%v' must be between 1 and 125",
			ErrInvalidParameter, c.ReadQuantity)
	}
	writeQuantity := len(c.WriteValues)
	if writeQuantity < 1 || writeQuantity > 121 {
		return fmt.Errorf("%w: write quantity '%v' must be between 1 and 121",
			ErrInvalidParameter, writeQuantity)
	}
	if err := emit.WriteUint16BE(c.ReadStartAddress); err != nil {
		return err
	}
	if err := emit.WriteUint16BE(c.ReadQuantity); err != nil {
		return err
	}
	if err := emit.WriteUint16BE(c.WriteStartAddress); err != nil {
		return err
	}
	if err := emit.WriteUint16BE(uint16(writeQuantity)); err != nil {
		return err
	}
	if err := emit.WriteUint8(byte(writeQuantity * 2)); err != nil {
		return err
	}
	for _, v := range c.WriteValues {
		if err := emit.WriteUint16BE(v); err != nil {
			return err
		}
	}
	return nil
}

func (c *ReadWriteMultipleRegistersCommand) ParseResponse(fetch *Fetcher) error {
	return parseRegisterResponse(fetch, c.ReadQuantity, c.OnStart, c.OnValue, c.OnEnd)
}
