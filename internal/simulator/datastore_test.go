// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package simulator

import (
	"path/filepath"
	"testing"
)

func TestDataStoreCoils(t *testing.T) {
	ds := NewDataStore()
	if err := ds.WriteSingleCoil(3, true); err != nil {
		t.Fatal(err)
	}
	if err := ds.WriteMultipleCoils(10, []bool{true, false, true}); err != nil {
		t.Fatal(err)
	}
	values, err := ds.ReadCoils(10, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !values[0] || values[1] || !values[2] {
		t.Fatalf("coils %v", values)
	}
	if _, err := ds.ReadCoils(65535, 2); err == nil {
		t.Fatal("expected range error")
	}
}

func TestDataStoreRegisters(t *testing.T) {
	ds := NewDataStore()
	if err := ds.WriteMultipleRegisters(100, []uint16{0x1111, 0x2222}); err != nil {
		t.Fatal(err)
	}
	values, err := ds.ReadHoldingRegisters(100, 2)
	if err != nil {
		t.Fatal(err)
	}
	if values[0] != 0x1111 || values[1] != 0x2222 {
		t.Fatalf("registers %04X", values)
	}

	// (current AND and) OR (or AND NOT and)
	if err := ds.MaskWriteRegister(100, 0x00FF, 0x0F00); err != nil {
		t.Fatal(err)
	}
	values, err = ds.ReadHoldingRegisters(100, 1)
	if err != nil {
		t.Fatal(err)
	}
	if values[0] != 0x0F11 {
		t.Fatalf("masked register %04X, want 0F11", values[0])
	}
}

func TestDataStoreReadOnlySpaces(t *testing.T) {
	ds := NewDataStore()
	ds.SetDiscreteInput(7, true)
	ds.SetInputRegister(7, 0x7777)

	bits, err := ds.ReadDiscreteInputs(7, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !bits[0] {
		t.Fatal("discrete input not set")
	}
	regs, err := ds.ReadInputRegisters(7, 1)
	if err != nil {
		t.Fatal(err)
	}
	if regs[0] != 0x7777 {
		t.Fatalf("input register %04X", regs[0])
	}
}

func TestMmapPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.mb")

	ds := NewDataStore()
	if err := ds.WriteSingleRegister(42, 0xCAFE); err != nil {
		t.Fatal(err)
	}
	if err := ds.WriteSingleCoil(42, true); err != nil {
		t.Fatal(err)
	}
	ds.SetInputRegister(9, 0x1234)

	persist, err := OpenMmapPersistence(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := persist.Store(ds); err != nil {
		t.Fatal(err)
	}
	if err := persist.Close(); err != nil {
		t.Fatal(err)
	}

	restored := NewDataStore()
	persist, err = OpenMmapPersistence(path)
	if err != nil {
		t.Fatal(err)
	}
	defer persist.Close()
	persist.Load(restored)

	regs, err := restored.ReadHoldingRegisters(42, 1)
	if err != nil {
		t.Fatal(err)
	}
	if regs[0] != 0xCAFE {
		t.Fatalf("restored register %04X, want CAFE", regs[0])
	}
	coils, err := restored.ReadCoils(42, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !coils[0] {
		t.Fatal("restored coil not set")
	}
	input, err := restored.ReadInputRegisters(9, 1)
	if err != nil {
		t.Fatal(err)
	}
	if input[0] != 0x1234 {
		t.Fatalf("restored input register %04X", input[0])
	}
}
