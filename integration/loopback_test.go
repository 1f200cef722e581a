// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package integration

import (
	"io"
	"testing"
	"time"

	"github.com/lumberbarons/mbserial"
	"github.com/lumberbarons/mbserial/internal/sim"
	"github.com/lumberbarons/mbserial/internal/simulator"
)

// pipeEnd is one end of an in-memory full-duplex wire.
type pipeEnd struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (e *pipeEnd) Read(p []byte) (int, error)  { return e.r.Read(p) }
func (e *pipeEnd) Write(p []byte) (int, error) { return e.w.Write(p) }

func (e *pipeEnd) Close() error {
	e.r.Close()
	return e.w.Close()
}

// newWire creates both ends of an in-memory serial line.
func newWire() (*pipeEnd, *pipeEnd) {
	ar, bw := io.Pipe()
	br, aw := io.Pipe()
	return &pipeEnd{r: ar, w: aw}, &pipeEnd{r: br, w: bw}
}

// The slow baud rate keeps the RTU inter-frame gap wide enough that
// goroutine scheduling jitter cannot split a frame.
var loopbackSetup = mbserial.SerialSetup{
	BaudRate: 4800,
	DataBits: 8,
	StopBits: mbserial.OneStopBit,
	Parity:   mbserial.EvenParity,
}

func startLoopbackSlave(t *testing.T, mode mbserial.Mode, end io.ReadWriteCloser, unitID byte) *simulator.DataStore {
	t.Helper()
	tr, err := mbserial.NewTransceiver(sim.NewFileDriver(end), &mbserial.TransceiverConfig{
		Mode:  mode,
		Setup: loopbackSetup,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Open(); err != nil {
		t.Fatal(err)
	}
	slave, err := mbserial.NewSlave(tr, &mbserial.SlaveConfig{
		UnitID:   unitID,
		PollTick: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	ds := simulator.NewDataStore()
	if err := mbserial.RegisterBuiltinCommands(slave.Table(), ds); err != nil {
		t.Fatal(err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		slave.Serve(stop)
	}()
	t.Cleanup(func() {
		close(stop)
		<-done
		tr.Close()
	})
	return ds
}

func startLoopbackClient(t *testing.T, mode mbserial.Mode, end io.ReadWriteCloser, unitID byte) *mbserial.Client {
	t.Helper()
	tr, err := mbserial.NewTransceiver(sim.NewFileDriver(end), &mbserial.TransceiverConfig{
		Mode:  mode,
		Setup: loopbackSetup,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Open(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { tr.Close() })

	master, err := mbserial.NewMaster(tr, &mbserial.MasterConfig{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	client, err := mbserial.NewClient(master, unitID, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	return client
}

func testLoopback(t *testing.T, mode mbserial.Mode) {
	slaveEnd, masterEnd := newWire()
	ds := startLoopbackSlave(t, mode, slaveEnd, 0x0B)
	client := startLoopbackClient(t, mode, masterEnd, 0x0B)

	if err := ds.WriteSingleRegister(0, 0xAE41); err != nil {
		t.Fatal(err)
	}
	if err := ds.WriteSingleRegister(1, 0x5652); err != nil {
		t.Fatal(err)
	}

	values, err := client.ReadHoldingRegisters(0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if values[0] != 0xAE41 || values[1] != 0x5652 {
		t.Fatalf("read %04X", values)
	}

	if err := client.WriteSingleRegister(7, 0xBEEF); err != nil {
		t.Fatal(err)
	}
	stored, err := ds.ReadHoldingRegisters(7, 1)
	if err != nil {
		t.Fatal(err)
	}
	if stored[0] != 0xBEEF {
		t.Fatalf("stored %04X, want BEEF", stored[0])
	}

	pattern := []bool{true, false, true, true, false, false, true, true, true, false}
	if err := client.WriteMultipleCoils(0, pattern); err != nil {
		t.Fatal(err)
	}
	coils, err := client.ReadCoils(0, uint16(len(pattern)))
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range pattern {
		if coils[i] != want {
			t.Fatalf("coil %d = %v, want %v", i, coils[i], want)
		}
	}
}

func TestLoopbackRTU(t *testing.T) {
	testLoopback(t, mbserial.ModeRTU)
}

func TestLoopbackASCII(t *testing.T) {
	testLoopback(t, mbserial.ModeASCII)
}

func TestLoopbackMasterTimeout(t *testing.T) {
	// A mute far end: the request is drained but never answered.
	slaveEnd, masterEnd := newWire()
	go io.Copy(io.Discard, slaveEnd)
	client := startLoopbackClient(t, mbserial.ModeASCII, masterEnd, 0x0B)

	start := time.Now()
	_, err := client.ReadHoldingRegisters(0, 1)
	if err == nil {
		t.Fatal("expected an error with no responder")
	}
	if time.Since(start) > 10*time.Second {
		t.Fatal("timeout took too long")
	}
}
