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
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

func TestFileDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c0")
	d, err := CreateFileDisk(path, testSectorSize, 32)
	if err != nil {
		t.Fatalf("CreateFileDisk: %v", err)
	}
	if got := d.NumSectors(); got != 32 {
		t.Errorf("NumSectors() = %d, want 32", got)
	}

	if _, err := OpenFileDisk(path, testSectorSize); !errors.Is(err, ErrLocked) {
		t.Errorf("second OpenFileDisk: got %v, want %v", err, ErrLocked)
	}

	ctx := context.Background()
	want := bytes.Repeat([]byte("raidframe"), 2*testSectorSize/9+1)[:2*testSectorSize]
	if err := d.WriteSectors(ctx, 30, want); err != nil {
		t.Fatalf("WriteSectors: %v", err)
	}
	if err := d.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := d.WriteSectors(ctx, 31, want); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("WriteSectors past end: got %v, want %v", err, ErrOutOfRange)
	}
	if err := d.WriteSectors(ctx, 0, want[:10]); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("partial sector write: got %v, want %v", err, ErrOutOfRange)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	d, err = OpenFileDisk(path, testSectorSize)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer d.Close()
	got := make([]byte, len(want))
	if err := d.ReadSectors(ctx, 30, got); err != nil {
		t.Fatalf("ReadSectors: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("data did not survive reopen")
	}
}

func TestMemDiskFaults(t *testing.T) {
	ctx := context.Background()
	d := NewMemDisk("m", testSectorSize, 4)
	buf := make([]byte, testSectorSize)

	d.InjectTransient(1)
	if err := d.ReadSectors(ctx, 0, buf); !errors.Is(err, unix.EAGAIN) || !IsTransient(err) {
		t.Errorf("transient read: got %v", err)
	}
	if err := d.ReadSectors(ctx, 0, buf); err != nil {
		t.Errorf("read after transient: %v", err)
	}

	d.Fail()
	if err := d.WriteSectors(ctx, 0, buf); !errors.Is(err, ErrDiskFailed) || IsTransient(err) {
		t.Errorf("failed write: got %v", err)
	}
	d.Repair()

	d.Corrupt(1)
	if err := d.ReadSectors(ctx, 1, buf); err != nil {
		t.Fatalf("ReadSectors: %v", err)
	}
	if !bytes.Equal(buf, bytes.Repeat([]byte{0xff}, testSectorSize)) {
		t.Errorf("Corrupt did not flip sector contents")
	}

	d.Close()
	if err := d.ReadSectors(ctx, 0, buf); !errors.Is(err, ErrClosed) {
		t.Errorf("read after Close: got %v, want %v", err, ErrClosed)
	}
	if err := d.Reopen().ReadSectors(ctx, 0, buf); err != nil {
		t.Errorf("read after Reopen: %v", err)
	}
}
