// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package mbserial

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// SlaveCounters is a snapshot of the slave diagnostic counters. The live
// counters are 32-bit and written by the polling task only; readers
// tolerate a racy one-word read.
type SlaveCounters struct {
	BusMessages     uint32
	BusCommErrors   uint32
	SlaveMessages   uint32
	SlaveExceptions uint32
	SlaveNoResponse uint32
}

// SlaveConfig configures a Slave. Zero values get defaults filled in by
// NewSlave.
type SlaveConfig struct {
	// UnitID is the slave's unit address (1..247). Address 0 is the
	// broadcast address and cannot be assigned.
	UnitID byte
	// Table holds the command handlers. Defaults to a dense table.
	Table CommandTable
	// DelayBeforeReply is an optional pause before each unicast
	// response is handed to the line.
	DelayBeforeReply time.Duration
	// PollTick bounds one Poll call when no frame arrives. Defaults to
	// one second.
	PollTick time.Duration
	Logger   *log.Logger
}

// Slave is the responder pipeline: an application task calls Poll in a
// loop; each call processes at most one received frame through the
// command table and transmits the response.
type Slave struct {
	tr     *Transceiver
	unitID byte
	table  CommandTable
	delay  time.Duration
	tick   time.Duration
	logger *log.Logger

	mu      sync.Mutex
	polling bool

	respBuf [MaxPDUDataSize]byte

	counters SlaveCounters
}

// NewSlave creates a slave pipeline over an opened or not yet opened
// transmission core.
func NewSlave(tr *Transceiver, config *SlaveConfig) (*Slave, error) {
	if tr == nil {
		return nil, ErrNullReference
	}
	if config == nil {
		config = &SlaveConfig{}
	}
	if config.UnitID == BroadcastAddress {
		return nil, fmt.Errorf("%w: unit id must not be the broadcast address", ErrInvalidParameter)
	}
	table := config.Table
	if table == nil {
		table = NewDenseCommandTable()
	}
	tick := config.PollTick
	if tick <= 0 {
		tick = time.Second
	}
	return &Slave{
		tr:     tr,
		unitID: config.UnitID,
		table:  table,
		delay:  config.DelayBeforeReply,
		tick:   tick,
		logger: config.Logger,
	}, nil
}

func (s *Slave) logf(format string, v ...interface{}) {
	if s.logger != nil {
		s.logger.Printf(format, v...)
	}
}

// Table returns the command table for registration during
// initialization.
func (s *Slave) Table() CommandTable {
	return s.table
}

// UnitID returns the configured unit address.
func (s *Slave) UnitID() byte {
	return s.unitID
}

// Counters returns a snapshot of the diagnostic counters.
func (s *Slave) Counters() SlaveCounters {
	return s.counters
}

// ResetCounters clears the diagnostic counters.
func (s *Slave) ResetCounters() {
	s.counters = SlaveCounters{}
}

// EnterListenOnly puts the interface in listen-only mode.
func (s *Slave) EnterListenOnly() error {
	return s.tr.EnterListenOnly()
}

// ExitListenOnly leaves listen-only mode.
func (s *Slave) ExitListenOnly() error {
	return s.tr.ExitListenOnly()
}

// Poll waits for one received frame (or the poll tick) and processes
// it. Reentrant calls fail with ErrStillPolling.
func (s *Slave) Poll() error {
	s.mu.Lock()
	if s.polling {
		s.mu.Unlock()
		return ErrStillPolling
	}
	s.polling = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.polling = false
		s.mu.Unlock()
	}()

	if _, err := s.tr.Events().PendAny(EventFrameReady, s.tick); err != nil {
		// Periodic tick with no traffic.
		return nil
	}
	frame, flags, err := s.tr.Receive()
	if err != nil {
		return err
	}
	return s.process(frame, flags)
}

// Serve polls until stop is closed.
func (s *Slave) Serve(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		if err := s.Poll(); err != nil {
			if err == ErrDeviceNotOpened {
				return
			}
			s.logf("mbserial: slave poll: %v", err)
		}
	}
}

// process runs one received frame through the dispatch pipeline.
func (s *Slave) process(frame *Frame, flags FrameFlags) error {
	s.counters.BusMessages++

	if flags&CommErrorFlags != 0 {
		s.counters.BusCommErrors++
		s.logf("mbserial: slave dropped frame, flags %#x", flags)
		return nil
	}
	if flags&FlagBufferOverflow != 0 {
		// Counted as received but not deliverable.
		return nil
	}

	broadcast := frame.Address == BroadcastAddress
	if !broadcast && frame.Address != s.unitID {
		return nil
	}
	s.counters.SlaveMessages++

	listenOnly := s.tr.ListenOnly()

	cmd := s.table.Lookup(frame.FunctionCode)
	if cmd == nil {
		if broadcast || listenOnly {
			s.counters.SlaveNoResponse++
			return nil
		}
		return s.respond(ExceptionResponse(frame, ExceptionCodeIllegalFunction), true)
	}
	if cmd.NoBroadcast && broadcast {
		s.counters.SlaveNoResponse++
		return nil
	}
	if cmd.NoListenOnly && listenOnly {
		s.counters.SlaveNoResponse++
		return nil
	}

	fetch := NewFetcher(frame.Data)
	emit := NewEmitter(s.respBuf[:])
	exception, err := cmd.Action(frame.FunctionCode, fetch, emit)
	if err != nil {
		s.logf("mbserial: handler for function %v failed: %v", frame.FunctionCode, err)
		exception = ExceptionCodeServerDeviceFailure
	}

	if broadcast || listenOnly {
		// Broadcasts are executed but never answered; listen-only
		// suppresses the reply after the handler ran.
		s.counters.SlaveNoResponse++
		return nil
	}

	if exception != 0 {
		return s.respond(ExceptionResponse(frame, exception), true)
	}
	response := &Frame{
		Address:      frame.Address,
		FunctionCode: frame.FunctionCode,
		Data:         emit.Bytes(),
	}
	return s.respond(response, false)
}

// respond transmits a response frame and waits for it to clear the
// line.
func (s *Slave) respond(frame *Frame, exception bool) error {
	if exception {
		s.counters.SlaveExceptions++
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if err := s.tr.Transmit(frame); err != nil {
		return fmt.Errorf("transmitting response: %w", err)
	}
	if _, err := s.tr.Events().PendAny(EventTxComplete, s.tick); err != nil {
		return err
	}
	return nil
}
