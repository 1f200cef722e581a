// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package mbserial

import (
	"fmt"
	"log"
	"sync"
	"time"

	"go.bug.st/serial"
)

// SerialDriver implements Driver over a platform serial port. Received
// bytes are pumped by a dedicated goroutine standing in for the UART RX
// interrupt; transmitted bytes are drained by a TX goroutine that fires
// TxComplete per byte. The half-character timer is a ticker goroutine.
type SerialDriver struct {
	// Address is the platform device path, e.g. /dev/ttyUSB0.
	Address string
	Logger  *log.Logger

	cb *DriverCallbacks

	mu        sync.Mutex
	port      serial.Port
	opened    bool
	rxEnabled bool
	txEnabled bool
	duplex    DuplexMode

	rxQueue []byte

	halfCharTime time.Duration
	timerStop    chan struct{}

	txCh   chan byte
	closed chan struct{}
}

// NewSerialDriver creates a driver for the serial device at address.
func NewSerialDriver(address string) *SerialDriver {
	return &SerialDriver{Address: address}
}

func (d *SerialDriver) logf(format string, v ...interface{}) {
	if d.Logger != nil {
		d.Logger.Printf(format, v...)
	}
}

// Initialize registers the transmission core's callbacks.
func (d *SerialDriver) Initialize(callbacks *DriverCallbacks) error {
	if callbacks == nil {
		return ErrNullReference
	}
	d.cb = callbacks
	return nil
}

// toSerialStopBits converts stack StopBits to the serial library's.
func toSerialStopBits(sb StopBits) serial.StopBits {
	switch sb {
	case OnePointFiveStopBits:
		return serial.OnePointFiveStopBits
	case TwoStopBits:
		return serial.TwoStopBits
	default:
		return serial.OneStopBit
	}
}

// toSerialParity converts stack Parity to the serial library's.
func toSerialParity(p Parity) serial.Parity {
	switch p {
	case NoParity:
		return serial.NoParity
	case OddParity:
		return serial.OddParity
	case MarkParity:
		return serial.MarkParity
	case SpaceParity:
		return serial.SpaceParity
	default:
		return serial.EvenParity
	}
}

// Open opens and configures the port and starts the RX and TX pumps.
func (d *SerialDriver) Open(setup *SerialSetup) error {
	if setup == nil {
		return ErrNullReference
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.opened {
		return ErrDeviceOpened
	}
	mode := &serial.Mode{
		BaudRate: setup.BaudRate,
		DataBits: setup.DataBits,
		StopBits: toSerialStopBits(setup.StopBits),
		Parity:   toSerialParity(setup.Parity),
	}
	port, err := serial.Open(d.Address, mode)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceFail, err)
	}
	// A short read timeout keeps the RX pump responsive to Close.
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		port.Close()
		return fmt.Errorf("%w: %v", ErrDeviceFail, err)
	}

	d.port = port
	d.opened = true
	d.halfCharTime = setup.HalfCharTime()
	d.closed = make(chan struct{})
	d.txCh = make(chan byte, MaxASCIISize)
	d.rxQueue = d.rxQueue[:0]

	go d.rxPump(port)
	go d.txPump(port)
	return nil
}

// Close stops the pumps and timer and closes the port.
func (d *SerialDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.opened {
		return ErrDeviceNotOpened
	}
	d.opened = false
	close(d.closed)
	if d.timerStop != nil {
		close(d.timerStop)
		d.timerStop = nil
	}
	err := d.port.Close()
	d.port = nil
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceFail, err)
	}
	return nil
}

// rxPump stands in for the UART receive interrupt.
func (d *SerialDriver) rxPump(port serial.Port) {
	buf := make([]byte, 1)
	for {
		select {
		case <-d.closed:
			return
		default:
		}
		n, err := port.Read(buf)
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}
		d.mu.Lock()
		deliver := d.opened && d.rxEnabled
		if deliver {
			d.rxQueue = append(d.rxQueue, buf[0])
		}
		cb := d.cb
		d.mu.Unlock()
		if deliver && cb != nil && cb.RxComplete != nil {
			cb.RxComplete()
		}
	}
}

// txPump drains queued bytes to the port and fires TxComplete per byte.
func (d *SerialDriver) txPump(port serial.Port) {
	buf := make([]byte, 1)
	for {
		select {
		case <-d.closed:
			return
		case b := <-d.txCh:
			buf[0] = b
			if _, err := port.Write(buf); err != nil {
				d.logf("mbserial: serial write: %v", err)
				return
			}
			d.mu.Lock()
			cb := d.cb
			d.mu.Unlock()
			if cb != nil && cb.TxComplete != nil {
				cb.TxComplete()
			}
		}
	}
}

// RxStart enables delivery of received bytes.
func (d *SerialDriver) RxStart() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return ErrDeviceNotOpened
	}
	d.rxEnabled = true
	return nil
}

// RxStop disables delivery of received bytes.
func (d *SerialDriver) RxStop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return ErrDeviceNotOpened
	}
	d.rxEnabled = false
	d.rxQueue = d.rxQueue[:0]
	return nil
}

// RxRead pops the oldest received byte.
func (d *SerialDriver) RxRead() (byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return 0, ErrDeviceNotOpened
	}
	if len(d.rxQueue) == 0 {
		return 0, ErrUnderflow
	}
	b := d.rxQueue[0]
	d.rxQueue = d.rxQueue[1:]
	return b, nil
}

// TxStart enables transmission.
func (d *SerialDriver) TxStart() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return ErrDeviceNotOpened
	}
	d.txEnabled = true
	return nil
}

// TxStop disables transmission.
func (d *SerialDriver) TxStop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return ErrDeviceNotOpened
	}
	d.txEnabled = false
	return nil
}

// TxTransmit queues one byte for the TX pump.
func (d *SerialDriver) TxTransmit(b byte) error {
	d.mu.Lock()
	if !d.opened || !d.txEnabled {
		d.mu.Unlock()
		return ErrDeviceNotOpened
	}
	ch := d.txCh
	d.mu.Unlock()
	select {
	case ch <- b:
		return nil
	default:
		return ErrOverflow
	}
}

// HalfDuplexModeSetup records the line direction. RS-485 transceivers
// with automatic direction control need no action here; drivers for
// explicit DE/RE control override the port's modem lines.
func (d *SerialDriver) HalfDuplexModeSetup(mode DuplexMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return ErrDeviceNotOpened
	}
	d.duplex = mode
	return nil
}

// HalfCharTimerStart starts the periodic half-character ticker.
func (d *SerialDriver) HalfCharTimerStart() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return ErrDeviceNotOpened
	}
	if d.timerStop != nil {
		return nil
	}
	stop := make(chan struct{})
	d.timerStop = stop
	interval := d.halfCharTime
	if interval <= 0 {
		interval = time.Millisecond
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				d.mu.Lock()
				cb := d.cb
				d.mu.Unlock()
				if cb != nil && cb.HalfCharTimeExceed != nil {
					cb.HalfCharTimeExceed()
				}
			}
		}
	}()
	return nil
}

// HalfCharTimerStop stops the ticker.
func (d *SerialDriver) HalfCharTimerStop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return ErrDeviceNotOpened
	}
	if d.timerStop != nil {
		close(d.timerStop)
		d.timerStop = nil
	}
	return nil
}

// The serial library does not surface per-byte line errors portably;
// the error flag queries report clean reception.

func (d *SerialDriver) HasParityError() bool      { return false }
func (d *SerialDriver) ClearParityError()         {}
func (d *SerialDriver) HasDataOverrunError() bool { return false }
func (d *SerialDriver) ClearDataOverrunError()    {}
func (d *SerialDriver) HasFrameError() bool       { return false }
func (d *SerialDriver) ClearFrameError()          {}
