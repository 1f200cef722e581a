// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package mbserial

import (
	"errors"
	"fmt"
)

// Datastore is the application-facing model the built-in slave
// command-lets operate on: the four Modbus address spaces.
//
// Implementations return an error for out-of-range accesses; the
// command-lets answer those with an illegal-data-address exception.
type Datastore interface {
	ReadCoils(address, quantity uint16) ([]bool, error)
	ReadDiscreteInputs(address, quantity uint16) ([]bool, error)
	ReadHoldingRegisters(address, quantity uint16) ([]uint16, error)
	ReadInputRegisters(address, quantity uint16) ([]uint16, error)
	WriteSingleCoil(address uint16, value bool) error
	WriteSingleRegister(address, value uint16) error
	WriteMultipleCoils(address uint16, values []bool) error
	WriteMultipleRegisters(address uint16, values []uint16) error
	MaskWriteRegister(address, andMask, orMask uint16) error
}

// RegisterBuiltinCommands fills table with handlers for the standard
// data-access function codes (0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x0F,
// 0x10, 0x16, 0x17) backed by ds. Read commands are registered with
// NoBroadcast: a broadcast read has nowhere to send its data.
func RegisterBuiltinCommands(table CommandTable, ds Datastore) error {
	if table == nil || ds == nil {
		return ErrNullReference
	}
	commands := []*Command{
		{FunctionCode: FuncCodeReadCoils, NoBroadcast: true, Action: readBitsAction(ds.ReadCoils, 2000)},
		{FunctionCode: FuncCodeReadDiscreteInputs, NoBroadcast: true, Action: readBitsAction(ds.ReadDiscreteInputs, 2000)},
		{FunctionCode: FuncCodeReadHoldingRegisters, NoBroadcast: true, Action: readRegistersAction(ds.ReadHoldingRegisters, 125)},
		{FunctionCode: FuncCodeReadInputRegisters, NoBroadcast: true, Action: readRegistersAction(ds.ReadInputRegisters, 125)},
		{FunctionCode: FuncCodeWriteSingleCoil, Action: writeSingleCoilAction(ds)},
		{FunctionCode: FuncCodeWriteSingleRegister, Action: writeSingleRegisterAction(ds)},
		{FunctionCode: FuncCodeWriteMultipleCoils, Action: writeMultipleCoilsAction(ds)},
		{FunctionCode: FuncCodeWriteMultipleRegisters, Action: writeMultipleRegistersAction(ds)},
		{FunctionCode: FuncCodeMaskWriteRegister, Action: maskWriteRegisterAction(ds)},
		{FunctionCode: FuncCodeReadWriteMultipleRegisters, NoBroadcast: true, Action: readWriteMultipleRegistersAction(ds)},
	}
	for _, cmd := range commands {
		if err := table.Add(cmd); err != nil {
			return fmt.Errorf("registering function %v: %w", cmd.FunctionCode, err)
		}
	}
	return nil
}

// requestField reads one big-endian request field; a short request maps
// to an illegal-data-value exception.
func requestField(fetch *Fetcher) (uint16, ExceptionCode) {
	v, err := fetch.ReadUint16BE()
	if err != nil {
		return 0, ExceptionCodeIllegalDataValue
	}
	return v, 0
}

// packBits packs values LSB-first behind a leading byte count.
func packBits(emit *Emitter, values []bool) error {
	byteCount := (len(values) + 7) / 8
	if err := emit.WriteUint8(byte(byteCount)); err != nil {
		return ErrResponseTruncated
	}
	packed := make([]byte, byteCount)
	for i, v := range values {
		if v {
			packed[i/8] |= 1 << uint(i%8)
		}
	}
	if err := emit.WriteBytes(packed); err != nil {
		return ErrResponseTruncated
	}
	return nil
}

// packRegisters writes values big-endian behind a leading byte count.
func packRegisters(emit *Emitter, values []uint16) error {
	if err := emit.WriteUint8(byte(2 * len(values))); err != nil {
		return ErrResponseTruncated
	}
	for _, v := range values {
		if err := emit.WriteUint16BE(v); err != nil {
			return ErrResponseTruncated
		}
	}
	return nil
}

func readBitsAction(read func(uint16, uint16) ([]bool, error), maxQuantity uint16) CommandAction {
	return func(_ byte, fetch *Fetcher, emit *Emitter) (ExceptionCode, error) {
		address, exc := requestField(fetch)
		if exc != 0 {
			return exc, nil
		}
		quantity, exc := requestField(fetch)
		if exc != 0 {
			return exc, nil
		}
		if quantity < 1 || quantity > maxQuantity {
			return ExceptionCodeIllegalDataValue, nil
		}
		values, err := read(address, quantity)
		if err != nil {
			return ExceptionCodeIllegalDataAddress, nil
		}
		if err := packBits(emit, values); err != nil {
			return 0, err
		}
		return 0, nil
	}
}

func readRegistersAction(read func(uint16, uint16) ([]uint16, error), maxQuantity uint16) CommandAction {
	return func(_ byte, fetch *Fetcher, emit *Emitter) (ExceptionCode, error) {
		address, exc := requestField(fetch)
		if exc != 0 {
			return exc, nil
		}
		quantity, exc := requestField(fetch)
		if exc != 0 {
			return exc, nil
		}
		if quantity < 1 || quantity > maxQuantity {
			return ExceptionCodeIllegalDataValue, nil
		}
		values, err := read(address, quantity)
		if err != nil {
			return ExceptionCodeIllegalDataAddress, nil
		}
		if err := packRegisters(emit, values); err != nil {
			return 0, err
		}
		return 0, nil
	}
}

func writeSingleCoilAction(ds Datastore) CommandAction {
	return func(_ byte, fetch *Fetcher, emit *Emitter) (ExceptionCode, error) {
		address, exc := requestField(fetch)
		if exc != 0 {
			return exc, nil
		}
		value, exc := requestField(fetch)
		if exc != 0 {
			return exc, nil
		}
		if value != 0x0000 && value != 0xFF00 {
			return ExceptionCodeIllegalDataValue, nil
		}
		if err := ds.WriteSingleCoil(address, value == 0xFF00); err != nil {
			return ExceptionCodeIllegalDataAddress, nil
		}
		// Echo the request.
		if emit.WriteUint16BE(address) != nil || emit.WriteUint16BE(value) != nil {
			return 0, ErrResponseTruncated
		}
		return 0, nil
	}
}

func writeSingleRegisterAction(ds Datastore) CommandAction {
	return func(_ byte, fetch *Fetcher, emit *Emitter) (ExceptionCode, error) {
		address, exc := requestField(fetch)
		if exc != 0 {
			return exc, nil
		}
		value, exc := requestField(fetch)
		if exc != 0 {
			return exc, nil
		}
		if err := ds.WriteSingleRegister(address, value); err != nil {
			return ExceptionCodeIllegalDataAddress, nil
		}
		if emit.WriteUint16BE(address) != nil || emit.WriteUint16BE(value) != nil {
			return 0, ErrResponseTruncated
		}
		return 0, nil
	}
}

func writeMultipleCoilsAction(ds Datastore) CommandAction {
	return func(_ byte, fetch *Fetcher, emit *Emitter) (ExceptionCode, error) {
		address, exc := requestField(fetch)
		if exc != 0 {
			return exc, nil
		}
		quantity, exc := requestField(fetch)
		if exc != 0 {
			return exc, nil
		}
		byteCount, err := fetch.ReadUint8()
		if err != nil {
			return ExceptionCodeIllegalDataValue, nil
		}
		if quantity < 1 || quantity > 1968 {
			return ExceptionCodeIllegalDataValue, nil
		}
		if uint16(byteCount) != (quantity+7)/8 {
			return ExceptionCodeIllegalDataValue, nil
		}
		packed, err := fetch.ReadBytes(int(byteCount))
		if err != nil {
			return ExceptionCodeIllegalDataValue, nil
		}
		values := make([]bool, quantity)
		for i := range values {
			values[i] = packed[i/8]&(1<<uint(i%8)) != 0
		}
		if err := ds.WriteMultipleCoils(address, values); err != nil {
			return ExceptionCodeIllegalDataAddress, nil
		}
		if emit.WriteUint16BE(address) != nil || emit.WriteUint16BE(quantity) != nil {
			return 0, ErrResponseTruncated
		}
		return 0, nil
	}
}

func writeMultipleRegistersAction(ds Datastore) CommandAction {
	return func(_ byte, fetch *Fetcher, emit *Emitter) (ExceptionCode, error) {
		address, exc := requestField(fetch)
		if exc != 0 {
			return exc, nil
		}
		quantity, exc := requestField(fetch)
		if exc != 0 {
			return exc, nil
		}
		byteCount, err := fetch.ReadUint8()
		if err != nil {
			return ExceptionCodeIllegalDataValue, nil
		}
		if quantity < 1 || quantity > 123 || uint16(byteCount) != quantity*2 {
			return ExceptionCodeIllegalDataValue, nil
		}
		values, exc := fetchRegisters(fetch, quantity)
		if exc != 0 {
			return exc, nil
		}
		if err := ds.WriteMultipleRegisters(address, values); err != nil {
			return ExceptionCodeIllegalDataAddress, nil
		}
		if emit.WriteUint16BE(address) != nil || emit.WriteUint16BE(quantity) != nil {
			return 0, ErrResponseTruncated
		}
		return 0, nil
	}
}

func maskWriteRegisterAction(ds Datastore) CommandAction {
	return func(_ byte, fetch *Fetcher, emit *Emitter) (ExceptionCode, error) {
		address, exc := requestField(fetch)
		if exc != 0 {
			return exc, nil
		}
		andMask, exc := requestField(fetch)
		if exc != 0 {
			return exc, nil
		}
		orMask, exc := requestField(fetch)
		if exc != 0 {
			return exc, nil
		}
		if err := ds.MaskWriteRegister(address, andMask, orMask); err != nil {
			return ExceptionCodeIllegalDataAddress, nil
		}
		if emit.WriteUint16BE(address) != nil || emit.WriteUint16BE(andMask) != nil ||
			emit.WriteUint16BE(orMask) != nil {
			return 0, ErrResponseTruncated
		}
		return 0, nil
	}
}

func readWriteMultipleRegistersAction(ds Datastore) CommandAction {
	return func(_ byte, fetch *Fetcher, emit *Emitter) (ExceptionCode, error) {
		readAddress, exc := requestField(fetch)
		if exc != 0 {
			return exc, nil
		}
		readQuantity, exc := requestField(fetch)
		if exc != 0 {
			return exc, nil
		}
		writeAddress, exc := requestField(fetch)
		if exc != 0 {
			return exc, nil
		}
		writeQuantity, exc := requestField(fetch)
		if exc != 0 {
			return exc, nil
		}
		byteCount, err := fetch.ReadUint8()
		if err != nil {
			return ExceptionCodeIllegalDataValue, nil
		}
		if readQuantity < 1 || readQuantity > 125 {
			return ExceptionCodeIllegalDataValue, nil
		}
		if writeQuantity < 1 || writeQuantity > 121 || uint16(byteCount) != writeQuantity*2 {
			return ExceptionCodeIllegalDataValue, nil
		}
		values, exc := fetchRegisters(fetch, writeQuantity)
		if exc != 0 {
			return exc, nil
		}
		// Write first, then read, per the application protocol.
		if err := ds.WriteMultipleRegisters(writeAddress, values); err != nil {
			return ExceptionCodeIllegalDataAddress, nil
		}
		read, err := ds.ReadHoldingRegisters(readAddress, readQuantity)
		if err != nil {
			return ExceptionCodeIllegalDataAddress, nil
		}
		if err := packRegisters(emit, read); err != nil {
			return 0, err
		}
		return 0, nil
	}
}

func fetchRegisters(fetch *Fetcher, quantity uint16) ([]uint16, ExceptionCode) {
	values := make([]uint16, quantity)
	for i := range values {
		v, err := fetch.ReadUint16BE()
		if err != nil {
			if errors.Is(err, ErrBufferEnd) {
				return nil, ExceptionCodeIllegalDataValue
			}
			return nil, ExceptionCodeServerDeviceFailure
		}
		values[i] = v
	}
	return values, 0
}
