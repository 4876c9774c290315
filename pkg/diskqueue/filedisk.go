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
	"os"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"
)

// FileDisk is a component disk backed by a regular file or block device.
// The file is locked exclusively while open so that two arrays never claim
// the same component.
type FileDisk struct {
	path       string
	f          *os.File
	lock       *flock.Flock
	sectorSize int
	numSectors uint64
}

var _ Disk = (*FileDisk)(nil)

// CreateFileDisk creates (or truncates) a component file of numSectors
// sectors and opens it.
func CreateFileDisk(path string, sectorSize int, numSectors uint64) (*FileDisk, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(int64(numSectors) * int64(sectorSize)); err != nil {
		f.Close()
		return nil, fmt.Errorf("sizing %q: %w", path, err)
	}
	f.Close()
	return OpenFileDisk(path, sectorSize)
}

// OpenFileDisk opens an existing component. Its capacity is the file size
// rounded down to whole sectors.
func OpenFileDisk(path string, sectorSize int) (*FileDisk, error) {
	if sectorSize <= 0 {
		return nil, fmt.Errorf("invalid sector size %d", sectorSize)
	}
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking %q: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%q: %w", path, ErrLocked)
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		lock.Unlock()
		return nil, err
	}
	return &FileDisk{
		path:       path,
		f:          f,
		lock:       lock,
		sectorSize: sectorSize,
		numSectors: uint64(fi.Size()) / uint64(sectorSize),
	}, nil
}

// ReadSectors implements Disk.ReadSectors.
func (d *FileDisk) ReadSectors(ctx context.Context, sector uint64, buf []byte) error {
	if err := checkRange(d, sector, buf); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	off := int64(sector) * int64(d.sectorSize)
	for done := 0; done < len(buf); {
		n, err := unix.Pread(int(d.f.Fd()), buf[done:], off+int64(done))
		if err != nil {
			return fmt.Errorf("pread %s at %d: %w", d.path, off+int64(done), err)
		}
		if n == 0 {
			// Past EOF of a sparse or shrunk file.
			clear(buf[done:])
			return nil
		}
		done += n
	}
	return nil
}

// WriteSectors implements Disk.WriteSectors.
func (d *FileDisk) WriteSectors(ctx context.Context, sector uint64, buf []byte) error {
	if err := checkRange(d, sector, buf); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	off := int64(sector) * int64(d.sectorSize)
	for done := 0; done < len(buf); {
		n, err := unix.Pwrite(int(d.f.Fd()), buf[done:], off+int64(done))
		if err != nil {
			return fmt.Errorf("pwrite %s at %d: %w", d.path, off+int64(done), err)
		}
		done += n
	}
	return nil
}

// Sync implements Disk.Sync.
func (d *FileDisk) Sync() error {
	return unix.Fdatasync(int(d.f.Fd()))
}

// NumSectors implements Disk.NumSectors.
func (d *FileDisk) NumSectors() uint64 { return d.numSectors }

// SectorSize implements Disk.SectorSize.
func (d *FileDisk) SectorSize() int { return d.sectorSize }

// Name implements Disk.Name.
func (d *FileDisk) Name() string { return d.path }

// Close implements Disk.Close.
func (d *FileDisk) Close() error {
	err := d.f.Close()
	if uerr := d.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}
