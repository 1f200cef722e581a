// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package mbserial

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// Commandlet knows how to encode one function code's request and decode
// its response, delivering results through typed callbacks.
type Commandlet interface {
	// FunctionCode returns the request function code.
	FunctionCode() byte
	// BuildRequest writes the request PDU data.
	BuildRequest(emit *Emitter) error
	// ParseResponse reads the response PDU data and fires the typed
	// callbacks.
	ParseResponse(fetch *Fetcher) error
	// HandleException delivers a slave exception response.
	HandleException(code ExceptionCode)
}

// MasterConfig configures a Master. Zero values get defaults filled in
// by NewMaster.
type MasterConfig struct {
	// Timeout is the default per-transaction timeout. Defaults to five
	// seconds.
	Timeout time.Duration
	Logger  *log.Logger
}

const masterDefaultTimeout = 5 * time.Second

// Master is the initiator pipeline. It holds at most one outstanding
// transaction; Submit fails with ErrStillBusy while one is active.
type Master struct {
	tr      *Transceiver
	timeout time.Duration
	logger  *log.Logger

	mu   sync.Mutex
	busy bool

	reqBuf [MaxPDUDataSize]byte
}

// NewMaster creates a master pipeline over a transmission core.
func NewMaster(tr *Transceiver, config *MasterConfig) (*Master, error) {
	if tr == nil {
		return nil, ErrNullReference
	}
	if config == nil {
		config = &MasterConfig{}
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = masterDefaultTimeout
	}
	return &Master{tr: tr, timeout: timeout, logger: config.Logger}, nil
}

func (m *Master) logf(format string, v ...interface{}) {
	if m.logger != nil {
		m.logger.Printf(format, v...)
	}
}

// Submit runs one transaction: build the request, transmit it and, for
// unicast, wait for and parse the response. A timeout <= 0 uses the
// configured default. Broadcast requests (slave address 0) complete as
// soon as the request has cleared the line.
func (m *Master) Submit(slaveAddr byte, cmd Commandlet, timeout time.Duration) error {
	if cmd == nil {
		return ErrNullReference
	}
	m.mu.Lock()
	if m.busy {
		m.mu.Unlock()
		return ErrStillBusy
	}
	m.busy = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.busy = false
		m.mu.Unlock()
	}()

	if timeout <= 0 {
		timeout = m.timeout
	}

	emit := NewEmitter(m.reqBuf[:])
	if err := cmd.BuildRequest(emit); err != nil {
		if errors.Is(err, ErrBufferEnd) {
			return fmt.Errorf("%w: %v", ErrTxBufferLow, err)
		}
		return fmt.Errorf("%w: %v", ErrTxBadRequest, err)
	}
	request := &Frame{
		Address:      slaveAddr,
		FunctionCode: cmd.FunctionCode(),
		Data:         emit.Bytes(),
	}

	// Drop anything left over from an earlier, timed-out exchange.
	m.tr.DropRx()
	m.tr.Events().Clear(EventTxComplete)

	m.logf("mbserial: master sending function %v to %v", request.FunctionCode, slaveAddr)
	if err := m.tr.Transmit(request); err != nil {
		return err
	}
	if _, err := m.tr.Events().PendAny(EventTxComplete, timeout); err != nil {
		return err
	}

	if slaveAddr == BroadcastAddress {
		return nil
	}

	if _, err := m.tr.Events().PendAny(EventFrameReady, timeout); err != nil {
		m.tr.DropRx()
		return err
	}
	response, flags, err := m.tr.Receive()
	if err != nil {
		return err
	}
	return m.validate(request, response, flags, cmd)
}

// validate checks a unicast response against its request and hands the
// PDU to the command-let.
func (m *Master) validate(request, response *Frame, flags FrameFlags, cmd Commandlet) error {
	if flags&FlagTruncated != 0 {
		return ErrRxTruncated
	}
	if flags&FlagBufferOverflow != 0 {
		return fmt.Errorf("%w: frame flags %#x", ErrRxBufferLow, flags)
	}
	if flags&CommErrorFlags != 0 {
		return fmt.Errorf("%w: frame flags %#x", ErrRxInvalidFormat, flags)
	}
	if response.Address != request.Address {
		return fmt.Errorf("%w: got '%v', want '%v'", ErrRxInvalidSlave,
			response.Address, request.Address)
	}
	switch response.FunctionCode {
	case request.FunctionCode:
		if err := cmd.ParseResponse(NewFetcher(response.Data)); err != nil {
			if errors.Is(err, ErrBufferEnd) {
				return fmt.Errorf("%w: %v", ErrRxTruncated, err)
			}
			return err
		}
		return nil
	case request.FunctionCode | exceptionBit:
		if len(response.Data) < 1 {
			return fmt.Errorf("%w: exception response without code", ErrRxInvalidFormat)
		}
		code := ExceptionCode(response.Data[0])
		cmd.HandleException(code)
		return &ModbusError{FunctionCode: response.FunctionCode, ExceptionCode: code}
	default:
		return fmt.Errorf("%w: got '%v', want '%v'", ErrRxInvalidFnCode,
			response.FunctionCode, request.FunctionCode)
	}
}
