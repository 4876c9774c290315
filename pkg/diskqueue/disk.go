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

// Package diskqueue provides the component-disk layer beneath a RAID array:
// a Disk abstraction with file-backed and in-memory implementations, and a
// per-disk request Queue that orders requests and retries transient faults.
//
// Retry policy lives here. The mapping and DAG layers above never retry.
package diskqueue

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

var (
	// ErrOutOfRange is returned for requests beyond the end of a disk or not
	// a multiple of the sector size.
	ErrOutOfRange = errors.New("request out of range")

	// ErrClosed is returned for requests on a closed disk or queue.
	ErrClosed = errors.New("disk closed")

	// ErrDiskFailed is returned by a disk that has failed outright.
	ErrDiskFailed = errors.New("disk failed")

	// ErrLocked is returned when a component is already opened by another
	// process.
	ErrLocked = errors.New("disk is locked by another user")
)

// Disk is a sector-addressed block device.
type Disk interface {
	// ReadSectors reads len(buf) bytes starting at sector. len(buf) must be a
	// multiple of SectorSize.
	ReadSectors(ctx context.Context, sector uint64, buf []byte) error

	// WriteSectors writes buf starting at sector.
	WriteSectors(ctx context.Context, sector uint64, buf []byte) error

	// Sync flushes written data to stable storage.
	Sync() error

	// NumSectors returns the capacity of the disk in sectors.
	NumSectors() uint64

	// SectorSize returns the sector size in bytes.
	SectorSize() int

	// Name identifies the disk in logs.
	Name() string

	// Close releases the disk.
	Close() error
}

// checkRange validates a request against the disk geometry.
func checkRange(d Disk, sector uint64, buf []byte) error {
	ss := d.SectorSize()
	if len(buf)%ss != 0 {
		return fmt.Errorf("%w: %s: length %d is not a multiple of sector size %d", ErrOutOfRange, d.Name(), len(buf), ss)
	}
	n := uint64(len(buf) / ss)
	if sector+n > d.NumSectors() || sector+n < sector {
		return fmt.Errorf("%w: %s: sectors [%d, %d) beyond %d", ErrOutOfRange, d.Name(), sector, sector+n, d.NumSectors())
	}
	return nil
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EBUSY)
}
