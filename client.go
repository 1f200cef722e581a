// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package mbserial

import "time"

// Client is a synchronous convenience wrapper over the master pipeline:
// each method runs one transaction against a fixed slave and collects
// the streamed values into a return slice.
type Client struct {
	master  *Master
	slaveID byte
	timeout time.Duration
}

// NewClient creates a client for one slave address. A timeout <= 0 uses
// the master's default.
func NewClient(master *Master, slaveID byte, timeout time.Duration) (*Client, error) {
	if master == nil {
		return nil, ErrNullReference
	}
	return &Client{master: master, slaveID: slaveID, timeout: timeout}, nil
}

// ReadCoils reads quantity coils starting at address.
func (c *Client) ReadCoils(address, quantity uint16) ([]bool, error) {
	values := make([]bool, 0, quantity)
	cmd := &ReadCoilsCommand{
		StartAddress: address,
		Quantity:     quantity,
		OnValue: func(_ uint16, v bool) {
			values = append(values, v)
		},
	}
	if err := c.master.Submit(c.slaveID, cmd, c.timeout); err != nil {
		return nil, err
	}
	return values, nil
}

// ReadDiscreteInputs reads quantity discrete inputs starting at address.
func (c *Client) ReadDiscreteInputs(address, quantity uint16) ([]bool, error) {
	values := make([]bool, 0, quantity)
	cmd := &ReadDiscreteInputsCommand{
		StartAddress: address,
		Quantity:     quantity,
		OnValue: func(_ uint16, v bool) {
			values = append(values, v)
		},
	}
	if err := c.master.Submit(c.slaveID, cmd, c.timeout); err != nil {
		return nil, err
	}
	return values, nil
}

// ReadHoldingRegisters reads quantity holding registers starting at
// address.
func (c *Client) ReadHoldingRegisters(address, quantity uint16) ([]uint16, error) {
	values := make([]uint16, 0, quantity)
	cmd := &ReadHoldingRegistersCommand{
		StartAddress: address,
		Quantity:     quantity,
		OnValue: func(_ uint16, v uint16) {
			values = append(values, v)
		},
	}
	if err := c.master.Submit(c.slaveID, cmd, c.timeout); err != nil {
		return nil, err
	}
	return values, nil
}

// ReadInputRegisters reads quantity input registers starting at address.
func (c *Client) ReadInputRegisters(address, quantity uint16) ([]uint16, error) {
	values := make([]uint16, 0, quantity)
	cmd := &ReadInputRegistersCommand{
		StartAddress: address,
		Quantity:     quantity,
		OnValue: func(_ uint16, v uint16) {
			values = append(values, v)
		},
	}
	if err := c.master.Submit(c.slaveID, cmd, c.timeout); err != nil {
		return nil, err
	}
	return values, nil
}

// WriteSingleCoil writes one coil.
func (c *Client) WriteSingleCoil(address uint16, value bool) error {
	return c.master.Submit(c.slaveID, &WriteSingleCoilCommand{
		Address: address,
		Value:   value,
	}, c.timeout)
}

// WriteSingleRegister writes one holding register.
func (c *Client) WriteSingleRegister(address, value uint16) error {
	return c.master.Submit(c.slaveID, &WriteSingleRegisterCommand{
		Address: address,
		Value:   value,
	}, c.timeout)
}

// WriteMultipleCoils writes a run of coils starting at address.
func (c *Client) WriteMultipleCoils(address uint16, values []bool) error {
	return c.master.Submit(c.slaveID, &WriteMultipleCoilsCommand{
		StartAddress: address,
		Values:       values,
	}, c.timeout)
}

// WriteMultipleRegisters writes a run of holding registers starting at
// address.
func (c *Client) WriteMultipleRegisters(address uint16, values []uint16) error {
	return c.master.Submit(c.slaveID, &WriteMultipleRegistersCommand{
		StartAddress: address,
		Values:       values,
	}, c.timeout)
}

// MaskWriteRegister applies an AND/OR mask to a holding register.
func (c *Client) MaskWriteRegister(address, andMask, orMask uint16) error {
	return c.master.Submit(c.slaveID, &MaskWriteRegisterCommand{
		Address: address,
		AndMask: andMask,
		OrMask:  orMask,
	}, c.timeout)
}

// ReadWriteMultipleRegisters writes values at writeAddress, then reads
// readQuantity holding registers starting at readAddress.
func (c *Client) ReadWriteMultipleRegisters(readAddress, readQuantity, writeAddress uint16, values []uint16) ([]uint16, error) {
	read := make([]uint16, 0, readQuantity)
	cmd := &ReadWriteMultipleRegistersCommand{
		ReadStartAddress:  readAddress,
		ReadQuantity:      readQuantity,
		WriteStartAddress: writeAddress,
		WriteValues:       values,
		OnValue: func(_ uint16, v uint16) {
			read = append(read, v)
		},
	}
	if err := c.master.Submit(c.slaveID, cmd, c.timeout); err != nil {
		return nil, err
	}
	return read, nil
}
