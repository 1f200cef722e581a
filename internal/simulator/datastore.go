// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package simulator

import (
	"fmt"
	"sync"
)

const (
	// maxAddress is the size of each Modbus address space.
	maxAddress = 65536
)

// DataStore is the in-memory model behind the simulated slave. It
// maintains the four Modbus address spaces:
//   - Coils: read/write single bits (function codes 1, 5, 15)
//   - Discrete Inputs: read-only single bits (function code 2)
//   - Holding Registers: read/write 16-bit registers (function codes 3, 6, 16, 22, 23)
//   - Input Registers: read-only 16-bit registers (function code 4)
//
// It implements mbserial.Datastore.
type DataStore struct {
	mu sync.RWMutex

	coils          []bool
	discreteInputs []bool
	holdingRegs    []uint16
	inputRegs      []uint16

	// Register names for logging/debugging.
	coilNames       map[uint16]string
	holdingRegNames map[uint16]string
}

// NewDataStore creates an empty data store covering the full address
// space.
func NewDataStore() *DataStore {
	return &DataStore{
		coils:           make([]bool, maxAddress),
		discreteInputs:  make([]bool, maxAddress),
		holdingRegs:     make([]uint16, maxAddress),
		inputRegs:       make([]uint16, maxAddress),
		coilNames:       make(map[uint16]string),
		holdingRegNames: make(map[uint16]string),
	}
}

func checkRange(address, quantity uint16) error {
	if int(address)+int(quantity) > maxAddress {
		return fmt.Errorf("address range %d+%d exceeds address space", address, quantity)
	}
	return nil
}

// NameCoil attaches a display name to a coil address.
func (ds *DataStore) NameCoil(address uint16, name string) {
	ds.mu.Lock()
	ds.coilNames[address] = name
	ds.mu.Unlock()
}

// NameHoldingRegister attaches a display name to a holding register
// address.
func (ds *DataStore) NameHoldingRegister(address uint16, name string) {
	ds.mu.Lock()
	ds.holdingRegNames[address] = name
	ds.mu.Unlock()
}

// ReadCoils returns quantity coil values starting at address.
func (ds *DataStore) ReadCoils(address, quantity uint16) ([]bool, error) {
	if err := checkRange(address, quantity); err != nil {
		return nil, err
	}
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	values := make([]bool, quantity)
	copy(values, ds.coils[address:int(address)+int(quantity)])
	return values, nil
}

// ReadDiscreteInputs returns quantity discrete input values starting at
// address.
func (ds *DataStore) ReadDiscreteInputs(address, quantity uint16) ([]bool, error) {
	if err := checkRange(address, quantity); err != nil {
		return nil, err
	}
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	values := make([]bool, quantity)
	copy(values, ds.discreteInputs[address:int(address)+int(quantity)])
	return values, nil
}

// ReadHoldingRegisters returns quantity holding register values
// starting at address.
func (ds *DataStore) ReadHoldingRegisters(address, quantity uint16) ([]uint16, error) {
	if err := checkRange(address, quantity); err != nil {
		return nil, err
	}
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	values := make([]uint16, quantity)
	copy(values, ds.holdingRegs[address:int(address)+int(quantity)])
	return values, nil
}

// ReadInputRegisters returns quantity input register values starting at
// address.
func (ds *DataStore) ReadInputRegisters(address, quantity uint16) ([]uint16, error) {
	if err := checkRange(address, quantity); err != nil {
		return nil, err
	}
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	values := make([]uint16, quantity)
	copy(values, ds.inputRegs[address:int(address)+int(quantity)])
	return values, nil
}

// WriteSingleCoil sets one coil.
func (ds *DataStore) WriteSingleCoil(address uint16, value bool) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.coils[address] = value
	return nil
}

// WriteSingleRegister sets one holding register.
func (ds *DataStore) WriteSingleRegister(address, value uint16) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.holdingRegs[address] = value
	return nil
}

// WriteMultipleCoils sets a run of coils starting at address.
func (ds *DataStore) WriteMultipleCoils(address uint16, values []bool) error {
	if err := checkRange(address, uint16(len(values))); err != nil {
		return err
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	copy(ds.coils[address:], values)
	return nil
}

// WriteMultipleRegisters sets a run of holding registers starting at
// address.
func (ds *DataStore) WriteMultipleRegisters(address uint16, values []uint16) error {
	if err := checkRange(address, uint16(len(values))); err != nil {
		return err
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	copy(ds.holdingRegs[address:], values)
	return nil
}

// MaskWriteRegister applies (current AND andMask) OR (orMask AND NOT
// andMask) to a holding register.
func (ds *DataStore) MaskWriteRegister(address, andMask, orMask uint16) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	current := ds.holdingRegs[address]
	ds.holdingRegs[address] = (current & andMask) | (orMask &^ andMask)
	return nil
}

// SetDiscreteInput seeds a read-only discrete input.
func (ds *DataStore) SetDiscreteInput(address uint16, value bool) {
	ds.mu.Lock()
	ds.discreteInputs[address] = value
	ds.mu.Unlock()
}

// SetInputRegister seeds a read-only input register.
func (ds *DataStore) SetInputRegister(address, value uint16) {
	ds.mu.Lock()
	ds.inputRegs[address] = value
	ds.mu.Unlock()
}
