// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package diskqueue

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// MemDisk is an in-memory Disk with fault injection.
type MemDisk struct {
	name       string
	sectorSize int
	numSectors uint64

	mu sync.RWMutex
	// +checklocks:mu
	data []byte
	// +checklocks:mu
	failed bool
	// +checklocks:mu
	transient int
	// +checklocks:mu
	closed bool
}

var _ Disk = (*MemDisk)(nil)

// NewMemDisk returns a zeroed in-memory disk.
func NewMemDisk(name string, sectorSize int, numSectors uint64) *MemDisk {
	return &MemDisk{
		name:       name,
		sectorSize: sectorSize,
		numSectors: numSectors,
		data:       make([]byte, uint64(sectorSize)*numSectors),
	}
}

// Fail makes every subsequent request fail with ErrDiskFailed.
func (d *MemDisk) Fail() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failed = true
}

// Repair clears a failure injected by Fail. Contents are preserved.
func (d *MemDisk) Repair() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failed = false
}

// InjectTransient makes the next n requests fail with EAGAIN.
func (d *MemDisk) InjectTransient(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transient = n
}

// Corrupt flips every bit of the given sector, bypassing failure injection.
func (d *MemDisk) Corrupt(sector uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	off := sector * uint64(d.sectorSize)
	for i := off; i < off+uint64(d.sectorSize); i++ {
		d.data[i] ^= 0xff
	}
}

// Preconditions: d.mu is locked.
func (d *MemDisk) faultLocked() error {
	switch {
	case d.closed:
		return fmt.Errorf("%s: %w", d.name, ErrClosed)
	case d.failed:
		return fmt.Errorf("%s: %w", d.name, ErrDiskFailed)
	case d.transient > 0:
		d.transient--
		return fmt.Errorf("%s: %w", d.name, unix.EAGAIN)
	}
	return nil
}

// ReadSectors implements Disk.ReadSectors.
func (d *MemDisk) ReadSectors(ctx context.Context, sector uint64, buf []byte) error {
	if err := checkRange(d, sector, buf); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.faultLocked(); err != nil {
		return err
	}
	copy(buf, d.data[sector*uint64(d.sectorSize):])
	return nil
}

// WriteSectors implements Disk.WriteSectors.
func (d *MemDisk) WriteSectors(ctx context.Context, sector uint64, buf []byte) error {
	if err := checkRange(d, sector, buf); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.faultLocked(); err != nil {
		return err
	}
	copy(d.data[sector*uint64(d.sectorSize):], buf)
	return nil
}

// Sync implements Disk.Sync.
func (d *MemDisk) Sync() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	return nil
}

// NumSectors implements Disk.NumSectors.
func (d *MemDisk) NumSectors() uint64 { return d.numSectors }

// SectorSize implements Disk.SectorSize.
func (d *MemDisk) SectorSize() int { return d.sectorSize }

// Name implements Disk.Name.
func (d *MemDisk) Name() string { return d.name }

// Close implements Disk.Close.
func (d *MemDisk) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Reopen makes a closed MemDisk usable again, as if the same device had
// been opened anew.
func (d *MemDisk) Reopen() *MemDisk {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = false
	return d
}
