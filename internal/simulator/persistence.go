// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package simulator

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

// Memory-mapped persistence layout:
//   - Coils: 65536 bytes (offset 0)
//   - Discrete inputs: 65536 bytes
//   - Holding registers: 65536 * 2 bytes, big-endian
//   - Input registers: 65536 * 2 bytes, big-endian
const (
	sizeCoils    = maxAddress
	sizeDiscrete = maxAddress
	sizeHolding  = maxAddress * 2
	sizeInput    = maxAddress * 2
	totalSize    = sizeCoils + sizeDiscrete + sizeHolding + sizeInput

	offsetCoils    = 0
	offsetDiscrete = offsetCoils + sizeCoils
	offsetHolding  = offsetDiscrete + sizeDiscrete
	offsetInput    = offsetHolding + sizeHolding
)

// MmapPersistence snapshots a DataStore into a memory-mapped file so the
// simulated slave survives restarts.
type MmapPersistence struct {
	path string
	file *os.File
	data mmap.MMap
}

// OpenMmapPersistence opens (creating and sizing if needed) the backing
// file and maps it.
func OpenMmapPersistence(path string) (*MmapPersistence, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening persistence file: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() != int64(totalSize) {
		if err := f.Truncate(int64(totalSize)); err != nil {
			f.Close()
			return nil, fmt.Errorf("resizing persistence file: %w", err)
		}
	}
	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mapping persistence file: %w", err)
	}
	return &MmapPersistence{path: path, file: f, data: data}, nil
}

// Load fills ds from the mapped file.
func (p *MmapPersistence) Load(ds *DataStore) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	for i := 0; i < maxAddress; i++ {
		ds.coils[i] = p.data[offsetCoils+i] != 0
		ds.discreteInputs[i] = p.data[offsetDiscrete+i] != 0
		ds.holdingRegs[i] = binary.BigEndian.Uint16(p.data[offsetHolding+2*i:])
		ds.inputRegs[i] = binary.BigEndian.Uint16(p.data[offsetInput+2*i:])
	}
}

// Store writes ds into the mapped file and flushes it.
func (p *MmapPersistence) Store(ds *DataStore) error {
	ds.mu.RLock()
	for i := 0; i < maxAddress; i++ {
		p.data[offsetCoils+i] = boolByte(ds.coils[i])
		p.data[offsetDiscrete+i] = boolByte(ds.discreteInputs[i])
		binary.BigEndian.PutUint16(p.data[offsetHolding+2*i:], ds.holdingRegs[i])
		binary.BigEndian.PutUint16(p.data[offsetInput+2*i:], ds.inputRegs[i])
	}
	ds.mu.RUnlock()
	if err := p.data.Flush(); err != nil {
		return fmt.Errorf("flushing persistence file: %w", err)
	}
	return nil
}

// Close unmaps and closes the backing file.
func (p *MmapPersistence) Close() error {
	var err error
	if p.data != nil {
		err = p.data.Unmap()
		p.data = nil
	}
	if p.file != nil {
		if e := p.file.Close(); e != nil && err == nil {
			err = e
		}
		p.file = nil
	}
	return err
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
