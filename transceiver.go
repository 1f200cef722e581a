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

// Event flag bits posted by the Transceiver to its flag group.
const (
	// EventFrameReady signals that a completed decode is waiting in
	// Receive.
	EventFrameReady Flags = 1 << iota
	// EventTxComplete signals that an outbound frame has fully cleared
	// the line and the core is back in receive mode.
	EventTxComplete
	// EventSendWindow signals the RTU allow-send window (3 half
	// characters of line idle).
	EventSendWindow
)

// RTU inter-frame timing gates in half-character units.
const (
	rtuSendWindowHalfChars = 3
	rtuFrameEndHalfChars   = 7
)

type linkState byte

const (
	linkIdle linkState = iota
	linkRx
	linkTx
)

// frameDecoder is the streaming decoder surface shared by both modes.
type frameDecoder interface {
	Reset()
	Update(b byte)
	End()
	MarkFlags(flags FrameFlags)
	Frame() (*Frame, FrameFlags, error)
}

// frameEncoder is the streaming encoder surface shared by both modes.
type frameEncoder interface {
	Load(frame *Frame) error
	HasNext() bool
	Next() (byte, error)
}

// TransceiverConfig configures a Transceiver. Zero values get defaults
// filled in by NewTransceiver.
type TransceiverConfig struct {
	Mode  Mode
	Setup SerialSetup
	// DataCapacity bounds the decoder data buffer. Defaults to
	// MaxPDUDataSize.
	DataCapacity int
	// LineFeed overrides the ASCII trailing line-feed character on
	// transmission and reception. Defaults to '\n'.
	LineFeed byte
	Logger   *log.Logger
}

// Transceiver is the mode-aware transmission core: it binds a Driver to
// one frame decoder and one frame encoder, owns the half-duplex line
// direction, applies the RTU inter-character/inter-frame timing gates
// and surfaces per-frame status flags.
//
// Driver callbacks run in the driver's receive context and only feed the
// state machines and post event flags; the pipelines pend on the event
// group from their own goroutines.
type Transceiver struct {
	mode   Mode
	driver Driver
	setup  SerialSetup
	logger *log.Logger

	events *FlagGroup

	mu         sync.Mutex
	opened     bool
	state      linkState
	listenOnly bool

	decoder frameDecoder
	encoder frameEncoder

	// RTU timing state, guarded by mu.
	halfChars int
	canSend   bool
	rxActive  bool

	// One-slot hand-off of the completed decode. Single producer
	// (driver callback), single consumer (pipeline task).
	pending      *Frame
	pendingFlags FrameFlags
	hasPending   bool
}

// NewTransceiver creates a transmission core over driver and registers
// its callbacks. The device is not opened yet; call Open.
func NewTransceiver(driver Driver, config *TransceiverConfig) (*Transceiver, error) {
	if driver == nil || config == nil {
		return nil, ErrNullReference
	}
	if config.Mode != ModeRTU && config.Mode != ModeASCII {
		return nil, ErrInvalidMode
	}
	if err := config.Setup.Validate(config.Mode); err != nil {
		return nil, err
	}
	capacity := config.DataCapacity
	if capacity == 0 {
		capacity = MaxPDUDataSize
	}

	t := &Transceiver{
		mode:   config.Mode,
		driver: driver,
		setup:  config.Setup,
		logger: config.Logger,
		events: NewFlagGroup(),
	}
	switch config.Mode {
	case ModeRTU:
		t.decoder = NewRTUDecoder(capacity)
		t.encoder = NewRTUEncoder()
	case ModeASCII:
		dec := NewASCIIDecoder(capacity)
		enc := NewASCIIEncoder()
		if config.LineFeed != 0 {
			dec.SetLineFeed(config.LineFeed)
			enc.SetLineFeed(config.LineFeed)
		}
		t.decoder = dec
		t.encoder = enc
		// The send window only gates RTU; ASCII is free to answer once
		// the delimiter has been seen.
		t.canSend = true
	}

	err := driver.Initialize(&DriverCallbacks{
		HalfCharTimeExceed: t.onHalfCharTimeExceed,
		RxComplete:         t.onRxComplete,
		TxComplete:         t.onTxComplete,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing driver: %w", err)
	}
	return t, nil
}

// Mode returns the configured transmission mode.
func (t *Transceiver) Mode() Mode {
	return t.mode
}

// Setup returns the configured serial parameters.
func (t *Transceiver) Setup() SerialSetup {
	return t.setup
}

// Events returns the flag group the pipelines pend on.
func (t *Transceiver) Events() *FlagGroup {
	return t.events
}

func (t *Transceiver) logf(format string, v ...interface{}) {
	if t.logger != nil {
		t.logger.Printf(format, v...)
	}
}

// Open opens the device, switches the line to receive and starts
// reception.
func (t *Transceiver) Open() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.opened {
		return ErrDeviceOpened
	}
	if err := t.driver.Open(&t.setup); err != nil {
		return fmt.Errorf("opening device: %w", err)
	}
	if err := t.driver.HalfDuplexModeSetup(HalfDuplexReceive); err != nil {
		t.driver.Close()
		return fmt.Errorf("setting half-duplex mode: %w", err)
	}
	if err := t.driver.RxStart(); err != nil {
		t.driver.Close()
		return fmt.Errorf("starting receiver: %w", err)
	}
	if t.mode == ModeRTU {
		if err := t.driver.HalfCharTimerStart(); err != nil {
			t.driver.Close()
			return fmt.Errorf("starting half-character timer: %w", err)
		}
	}
	t.decoder.Reset()
	t.opened = true
	t.state = linkRx
	t.rxActive = false
	return nil
}

// Close stops RX/TX and closes the device. Pending pipeline waits
// resolve with their configured timeouts; subsequent operations fail
// with ErrDeviceNotOpened.
func (t *Transceiver) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.opened {
		return ErrDeviceNotOpened
	}
	if t.mode == ModeRTU {
		t.driver.HalfCharTimerStop()
	}
	t.driver.RxStop()
	t.driver.TxStop()
	err := t.driver.Close()
	t.opened = false
	t.state = linkIdle
	t.hasPending = false
	return err
}

// EnterListenOnly puts the core in listen-only mode: frames are decoded
// and surfaced but all transmission is suppressed.
func (t *Transceiver) EnterListenOnly() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listenOnly {
		return ErrListenOnlyAlreadyEntered
	}
	t.listenOnly = true
	return nil
}

// ExitListenOnly leaves listen-only mode.
func (t *Transceiver) ExitListenOnly() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.listenOnly {
		return ErrListenOnlyAlreadyExited
	}
	t.listenOnly = false
	return nil
}

// ListenOnly reports whether listen-only mode is active.
func (t *Transceiver) ListenOnly() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.listenOnly
}

// onRxComplete runs in driver context when a received byte is ready.
func (t *Transceiver) onRxComplete() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.opened || t.state != linkRx {
		return
	}
	b, err := t.driver.RxRead()
	if err != nil {
		return
	}

	if !t.rxActive {
		// First byte of a new frame: the previous decode (and its data
		// buffer) is surrendered now, not earlier, so the pipeline can
		// hold the slice across its poll cycle.
		t.decoder.Reset()
		t.rxActive = true
	}

	t.decoder.Update(b)

	// Mirror the driver per-frame error flags into the current decode.
	if t.driver.HasParityError() {
		t.decoder.MarkFlags(FlagParityError)
		t.driver.ClearParityError()
	}
	if t.driver.HasDataOverrunError() {
		t.decoder.MarkFlags(FlagOverrunError)
		t.driver.ClearDataOverrunError()
	}
	if t.driver.HasFrameError() {
		t.decoder.MarkFlags(FlagFrameError)
		t.driver.ClearFrameError()
	}

	switch t.mode {
	case ModeRTU:
		t.halfChars = 0
		if t.canSend {
			t.canSend = false
			t.events.Clear(EventSendWindow)
		}
	case ModeASCII:
		if dec, ok := t.decoder.(*ASCIIDecoder); ok && dec.Complete() {
			t.finishFrameLocked()
		}
	}
}

// onHalfCharTimeExceed runs in driver timer context. RTU only.
func (t *Transceiver) onHalfCharTimeExceed() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.opened || t.state != linkRx || t.mode != ModeRTU {
		return
	}
	t.halfChars++
	if t.halfChars == rtuSendWindowHalfChars {
		t.canSend = true
		t.events.Post(EventSendWindow)
	}
	if t.halfChars >= rtuFrameEndHalfChars && t.rxActive {
		t.decoder.End()
		t.finishFrameLocked()
	}
}

// finishFrameLocked captures the completed decode into the one-slot
// hand-off and wakes the pipeline. Caller holds mu.
func (t *Transceiver) finishFrameLocked() {
	frame, flags, err := t.decoder.Frame()
	if err != nil {
		return
	}
	t.pending = frame
	t.pendingFlags = flags
	t.hasPending = true
	t.rxActive = false
	t.events.Post(EventFrameReady)
}

// EndOfFrame signals an externally observed inter-frame gap
// (synthesized end-of-frame), for drivers without a half-character
// timer.
func (t *Transceiver) EndOfFrame() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.opened || t.state != linkRx || !t.rxActive {
		return
	}
	t.decoder.End()
	t.finishFrameLocked()
}

// Receive returns the completed frame captured by the core, or
// ErrUnderflow when none is pending. The frame's Data is owned by the
// decoder and stays valid until the next frame starts arriving.
func (t *Transceiver) Receive() (*Frame, FrameFlags, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.opened {
		return nil, 0, ErrDeviceNotOpened
	}
	if !t.hasPending {
		return nil, 0, ErrUnderflow
	}
	t.hasPending = false
	return t.pending, t.pendingFlags, nil
}

// DropRx discards any partial receive and any pending frame. Used by the
// master on transaction timeout.
func (t *Transceiver) DropRx() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.decoder.Reset()
	t.rxActive = false
	t.hasPending = false
	t.events.Clear(EventFrameReady)
}

// Transmit hands a ready frame to the core. The line is turned around to
// transmit, the encoder is pumped one byte per driver TxComplete, and on
// the final byte the line is turned back to receive and EventTxComplete
// is posted. In listen-only mode the frame is silently suppressed and
// EventTxComplete is posted immediately.
func (t *Transceiver) Transmit(frame *Frame) error {
	if frame == nil {
		return ErrNullReference
	}

	t.mu.Lock()
	if !t.opened {
		t.mu.Unlock()
		return ErrDeviceNotOpened
	}
	if t.state == linkTx {
		t.mu.Unlock()
		return ErrDeviceBusy
	}
	if t.listenOnly {
		t.mu.Unlock()
		t.events.Post(EventTxComplete)
		return nil
	}
	waitWindow := t.mode == ModeRTU && !t.canSend
	t.mu.Unlock()

	if waitWindow {
		// Hold off until the line has been idle for the turnaround gap.
		// The window is bounded by the half-character timer cadence, so
		// cap the wait instead of pending forever on a dead timer.
		limit := rtuFrameEndHalfChars * t.setup.HalfCharTime() * 4
		if limit <= 0 {
			limit = 10 * time.Millisecond
		}
		if _, err := t.events.PendAny(EventSendWindow, limit); err != nil {
			t.logf("mbserial: send window wait expired, transmitting anyway")
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.opened {
		return ErrDeviceNotOpened
	}
	if err := t.encoder.Load(frame); err != nil {
		return err
	}
	if t.mode == ModeRTU {
		t.driver.HalfCharTimerStop()
	}
	if err := t.driver.RxStop(); err != nil {
		return fmt.Errorf("stopping receiver: %w", err)
	}
	if err := t.driver.HalfDuplexModeSetup(HalfDuplexTransmit); err != nil {
		return fmt.Errorf("setting half-duplex mode: %w", err)
	}
	if err := t.driver.TxStart(); err != nil {
		return fmt.Errorf("starting transmitter: %w", err)
	}
	t.state = linkTx

	// Prime the pump; the driver's TxComplete callback pulls the rest.
	b, err := t.encoder.Next()
	if err != nil {
		t.endTxLocked()
		return err
	}
	if err := t.driver.TxTransmit(b); err != nil {
		t.endTxLocked()
		return fmt.Errorf("transmitting: %w", err)
	}
	return nil
}

// onTxComplete runs in driver context after each transmitted byte.
func (t *Transceiver) onTxComplete() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.opened || t.state != linkTx {
		return
	}
	if t.encoder.HasNext() {
		b, err := t.encoder.Next()
		if err == nil {
			if err := t.driver.TxTransmit(b); err == nil {
				return
			}
		}
		// Encoder or driver failure mid-frame: abandon the transmission
		// and return to receive so the line is not wedged.
	}
	t.endTxLocked()
	t.events.Post(EventTxComplete)
}

// endTxLocked turns the line back around to receive. Caller holds mu.
func (t *Transceiver) endTxLocked() {
	t.driver.TxStop()
	t.driver.HalfDuplexModeSetup(HalfDuplexReceive)
	t.decoder.Reset()
	t.rxActive = false
	t.driver.RxStart()
	if t.mode == ModeRTU {
		t.halfChars = 0
		t.canSend = false
		t.events.Clear(EventSendWindow)
		t.driver.HalfCharTimerStart()
	}
	t.state = linkRx
}
