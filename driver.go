// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package mbserial

// DuplexMode selects the direction of a half-duplex serial line.
type DuplexMode byte

const (
	// HalfDuplexReceive configures the line driver for reception.
	HalfDuplexReceive DuplexMode = iota
	// HalfDuplexTransmit configures the line driver for transmission.
	HalfDuplexTransmit
)

// DriverCallbacks are the notifications a Driver delivers to the
// transmission core. They are invoked from the driver's receive context
// (interrupt or goroutine) and must not block; the core only feeds its
// state machines and posts flags from them. A Driver must never invoke
// a callback synchronously from inside one of its own methods: the core
// may hold its lock across those calls.
type DriverCallbacks struct {
	// HalfCharTimeExceed fires each time the driver's half-character
	// timer elapses with no byte received. RTU only.
	HalfCharTimeExceed func()
	// RxComplete fires when a received byte is ready to be read with
	// RxRead.
	RxComplete func()
	// TxComplete fires when the byte handed to TxTransmit has physically
	// cleared the shift register. The core pulls the next byte from its
	// encoder in response, or ends the transmission.
	TxComplete func()
}

// Driver is the capability set of a serial device consumed by the
// transmission core. Implementations wrap a UART, a PTY or an in-memory
// wire; the core never touches the device directly.
type Driver interface {
	// Initialize registers the core's callbacks. It is called exactly
	// once, before Open.
	Initialize(callbacks *DriverCallbacks) error

	// Open configures and opens the device.
	Open(setup *SerialSetup) error
	// Close stops RX/TX, cancels timers and closes the device.
	Close() error

	// RxStart and RxStop gate the receive path.
	RxStart() error
	RxStop() error
	// RxRead returns the most recently received byte. It is called from
	// the RxComplete callback.
	RxRead() (byte, error)

	// TxStart and TxStop gate the transmit path.
	TxStart() error
	TxStop() error
	// TxTransmit queues one byte for transmission.
	TxTransmit(b byte) error

	// HalfDuplexModeSetup switches the line driver direction.
	HalfDuplexModeSetup(mode DuplexMode) error

	// HalfCharTimerStart and HalfCharTimerStop control the half-character
	// timer backing RTU inter-frame timing. ASCII drivers may implement
	// these as no-ops.
	HalfCharTimerStart() error
	HalfCharTimerStop() error

	// Per-frame error flags, queried after each received byte and
	// cleared by the core.
	HasParityError() bool
	ClearParityError()
	HasDataOverrunError() bool
	ClearDataOverrunError()
	HasFrameError() bool
	ClearFrameError()
}
