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

package raidframe

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"raidframe.dev/raidframe/pkg/diskqueue"
)

// ProtectedSectors is the size of the reserved area at the start of every
// component. The component label lives in its first sector; data starts
// after it.
const ProtectedSectors = 64

const (
	labelMagic   = 0x52414944 // "RAID"
	labelVersion = 1
)

var (
	errNoLabel  = errors.New("no component label")
	errBadLabel = errors.New("corrupt component label")
)

// ComponentLabel identifies a component as a member of an array.
type ComponentLabel struct {
	SerialNumber         uint64
	ModCounter           uint64
	Row                  int
	Col                  int
	NumCol               int
	SectorSize           int
	SectorsPerStripeUnit uint64
	SectorsPerDisk       uint64
	ParityConfig         byte
	Clean                bool
	Status               ComponentStatus
}

// rawLabel is the on-disk encoding, little endian.
type rawLabel struct {
	Magic                uint32
	Version              uint32
	SerialNumber         uint64
	ModCounter           uint64
	Row                  uint32
	Col                  uint32
	NumCol               uint32
	SectorSize           uint32
	SectorsPerStripeUnit uint64
	SectorsPerDisk       uint64
	ParityConfig         uint8
	Clean                uint8
	Status               uint8
	_                    [5]byte
	Checksum             uint32
}

var rawLabelSize = binary.Size(rawLabel{})

// MarshalBinary implements encoding.BinaryMarshaler.
func (l *ComponentLabel) MarshalBinary() ([]byte, error) {
	raw := rawLabel{
		Magic:                labelMagic,
		Version:              labelVersion,
		SerialNumber:         l.SerialNumber,
		ModCounter:           l.ModCounter,
		Row:                  uint32(l.Row),
		Col:                  uint32(l.Col),
		NumCol:               uint32(l.NumCol),
		SectorSize:           uint32(l.SectorSize),
		SectorsPerStripeUnit: l.SectorsPerStripeUnit,
		SectorsPerDisk:       l.SectorsPerDisk,
		ParityConfig:         l.ParityConfig,
		Status:               uint8(l.Status),
	}
	if l.Clean {
		raw.Clean = 1
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &raw); err != nil {
		return nil, err
	}
	b := buf.Bytes()
	binary.LittleEndian.PutUint32(b[rawLabelSize-4:], crc32.ChecksumIEEE(b[:rawLabelSize-4]))
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (l *ComponentLabel) UnmarshalBinary(b []byte) error {
	if len(b) < rawLabelSize {
		return errNoLabel
	}
	var raw rawLabel
	if err := binary.Read(bytes.NewReader(b[:rawLabelSize]), binary.LittleEndian, &raw); err != nil {
		return err
	}
	if raw.Magic != labelMagic {
		return errNoLabel
	}
	if raw.Checksum != crc32.ChecksumIEEE(b[:rawLabelSize-4]) {
		return errBadLabel
	}
	if raw.Version != labelVersion {
		return fmt.Errorf("%w: version %d", errBadLabel, raw.Version)
	}
	*l = ComponentLabel{
		SerialNumber:         raw.SerialNumber,
		ModCounter:           raw.ModCounter,
		Row:                  int(raw.Row),
		Col:                  int(raw.Col),
		NumCol:               int(raw.NumCol),
		SectorSize:           int(raw.SectorSize),
		SectorsPerStripeUnit: raw.SectorsPerStripeUnit,
		SectorsPerDisk:       raw.SectorsPerDisk,
		ParityConfig:         raw.ParityConfig,
		Clean:                raw.Clean != 0,
		Status:               ComponentStatus(raw.Status),
	}
	return nil
}

// readLabel reads the label of the component behind q.
func readLabel(ctx context.Context, q *diskqueue.Queue) (*ComponentLabel, error) {
	buf := make([]byte, q.Disk().SectorSize())
	if err := q.Read(ctx, 0, buf, diskqueue.Normal); err != nil {
		return nil, err
	}
	l := &ComponentLabel{}
	if err := l.UnmarshalBinary(buf); err != nil {
		return nil, err
	}
	return l, nil
}

// writeLabel writes l to the component behind q and flushes it.
func writeLabel(ctx context.Context, q *diskqueue.Queue, l *ComponentLabel) error {
	b, err := l.MarshalBinary()
	if err != nil {
		return err
	}
	buf := make([]byte, q.Disk().SectorSize())
	copy(buf, b)
	if err := q.Write(ctx, 0, buf, diskqueue.Normal); err != nil {
		return err
	}
	return q.Disk().Sync()
}
