// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package sim

import (
	"io"
	"sync"
	"time"

	"github.com/lumberbarons/mbserial"
)

// FileDriver implements mbserial.Driver over any stream, typically one
// side of a PtyPair. It mirrors the production serial driver's pump
// structure: an RX goroutine standing in for the receive interrupt, a
// TX goroutine firing TxComplete per byte, and a half-character ticker.
type FileDriver struct {
	rw io.ReadWriteCloser

	cb *mbserial.DriverCallbacks

	mu        sync.Mutex
	opened    bool
	rxEnabled bool
	txEnabled bool
	duplex    mbserial.DuplexMode

	rxQueue []byte

	halfCharTime time.Duration
	timerStop    chan struct{}

	txCh   chan byte
	closed chan struct{}
}

// NewFileDriver creates a driver over rw. The stream is owned by the
// driver once Open succeeds.
func NewFileDriver(rw io.ReadWriteCloser) *FileDriver {
	return &FileDriver{rw: rw}
}

// Initialize registers the transmission core's callbacks.
func (d *FileDriver) Initialize(callbacks *mbserial.DriverCallbacks) error {
	if callbacks == nil {
		return mbserial.ErrNullReference
	}
	d.cb = callbacks
	return nil
}

// Open starts the pumps. The serial parameters only feed the
// half-character timing; the stream itself has no line discipline.
func (d *FileDriver) Open(setup *mbserial.SerialSetup) error {
	if setup == nil {
		return mbserial.ErrNullReference
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.opened {
		return mbserial.ErrDeviceOpened
	}
	d.opened = true
	d.halfCharTime = setup.HalfCharTime()
	d.closed = make(chan struct{})
	d.txCh = make(chan byte, mbserial.MaxASCIISize)
	d.rxQueue = d.rxQueue[:0]

	go d.rxPump()
	go d.txPump()
	return nil
}

// Close stops the pumps and closes the stream.
func (d *FileDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return mbserial.ErrDeviceNotOpened
	}
	d.opened = false
	close(d.closed)
	if d.timerStop != nil {
		close(d.timerStop)
		d.timerStop = nil
	}
	return d.rw.Close()
}

func (d *FileDriver) rxPump() {
	buf := make([]byte, 1)
	for {
		select {
		case <-d.closed:
			return
		default:
		}
		n, err := d.rw.Read(buf)
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

func (d *FileDriver) txPump() {
	buf := make([]byte, 1)
	for {
		select {
		case <-d.closed:
			return
		case b := <-d.txCh:
			buf[0] = b
			if _, err := d.rw.Write(buf); err != nil {
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

func (d *FileDriver) RxStart() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return mbserial.ErrDeviceNotOpened
	}
	d.rxEnabled = true
	return nil
}

func (d *FileDriver) RxStop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return mbserial.ErrDeviceNotOpened
	}
	d.rxEnabled = false
	d.rxQueue = d.rxQueue[:0]
	return nil
}

func (d *FileDriver) RxRead() (byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return 0, mbserial.ErrDeviceNotOpened
	}
	if len(d.rxQueue) == 0 {
		return 0, mbserial.ErrUnderflow
	}
	b := d.rxQueue[0]
	d.rxQueue = d.rxQueue[1:]
	return b, nil
}

func (d *FileDriver) TxStart() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return mbserial.ErrDeviceNotOpened
	}
	d.txEnabled = true
	return nil
}

func (d *FileDriver) TxStop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return mbserial.ErrDeviceNotOpened
	}
	d.txEnabled = false
	return nil
}

func (d *FileDriver) TxTransmit(b byte) error {
	d.mu.Lock()
	if !d.opened || !d.txEnabled {
		d.mu.Unlock()
		return mbserial.ErrDeviceNotOpened
	}
	ch := d.txCh
	d.mu.Unlock()
	select {
	case ch <- b:
		return nil
	default:
		return mbserial.ErrOverflow
	}
}

func (d *FileDriver) HalfDuplexModeSetup(mode mbserial.DuplexMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return mbserial.ErrDeviceNotOpened
	}
	d.duplex = mode
	return nil
}

func (d *FileDriver) HalfCharTimerStart() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return mbserial.ErrDeviceNotOpened
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

func (d *FileDriver) HalfCharTimerStop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return mbserial.ErrDeviceNotOpened
	}
	if d.timerStop != nil {
		close(d.timerStop)
		d.timerStop = nil
	}
	return nil
}

func (d *FileDriver) HasParityError() bool      { return false }
func (d *FileDriver) ClearParityError()         {}
func (d *FileDriver) HasDataOverrunError() bool { return false }
func (d *FileDriver) ClearDataOverrunError()    {}
func (d *FileDriver) HasFrameError() bool       { return false }
func (d *FileDriver) ClearFrameError()          {}
