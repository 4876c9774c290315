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

// Package raidframe implements a RAID engine with pluggable layouts.
//
// A layout (RAID level 0, 4 or 5) maps logical array addresses to component
// disks and picks the I/O graph (DAG) that services each stripe access given
// the health of the array. The Array type ties layouts to component disk
// queues, stripe locks, component labels, parity checking and
// reconstruction onto hot spares.
//
// Mapping functions are pure functions of the immutable Geometry and may be
// called concurrently without synchronization.
package raidframe

import (
	"fmt"
)

// RaidAddr is a sector address in the logical array address space.
type RaidAddr uint64

// SectorNum is a sector number in the data area of a component disk.
type SectorNum uint64

// StripeNum identifies a stripe of the array.
type StripeNum uint64

// ParityStripeID identifies a parity stripe.
type ParityStripeID uint64

// ReconUnitNum identifies a reconstruction unit within a parity stripe.
type ReconUnitNum int

// IOType is the direction of an access.
type IOType int

const (
	// IORead is a read access.
	IORead IOType = iota

	// IOWrite is a write access.
	IOWrite
)

// String implements fmt.Stringer.
func (t IOType) String() string {
	switch t {
	case IORead:
		return "read"
	case IOWrite:
		return "write"
	default:
		return fmt.Sprintf("IOType(%d)", int(t))
	}
}

// PhysLoc is a resolved physical location.
type PhysLoc struct {
	// Row is always 0; multi-row geometries are not supported.
	Row int

	// Col is the component index. Hot spares use indices at and above
	// Geometry.NumCol.
	Col int

	// Sector is relative to the start of the component's data area.
	Sector SectorNum
}

// Geometry describes the shape of an array. It is immutable after
// configuration.
type Geometry struct {
	SectorsPerStripeUnit   uint64 `json:"sectorsPerStripeUnit" yaml:"sectorsPerStripeUnit"`
	StripeUnitsPerDisk     uint64 `json:"stripeUnitsPerDisk" yaml:"stripeUnitsPerDisk"`
	DataStripeUnitsPerDisk uint64 `json:"dataStripeUnitsPerDisk" yaml:"dataStripeUnitsPerDisk"`
	NumCol                 int    `json:"numCol" yaml:"numCol"`
	NumDataCol             int    `json:"numDataCol" yaml:"numDataCol"`
	NumParityCol           int    `json:"numParityCol" yaml:"numParityCol"`
	DataSectorsPerStripe   uint64 `json:"dataSectorsPerStripe" yaml:"dataSectorsPerStripe"`
	SectorSize             int    `json:"sectorSize" yaml:"sectorSize"`
	SUsPerPU               int    `json:"stripeUnitsPerParityUnit" yaml:"stripeUnitsPerParityUnit"`
	SUsPerRU               int    `json:"stripeUnitsPerReconUnit" yaml:"stripeUnitsPerReconUnit"`
	TotalSectors           uint64 `json:"totalSectors" yaml:"totalSectors"`
}

// StripeID returns the stripe holding addr.
func (g *Geometry) StripeID(addr RaidAddr) StripeNum {
	return StripeNum(uint64(addr) / g.DataSectorsPerStripe)
}

// StripeStart returns the first address of stripe sid.
func (g *Geometry) StripeStart(sid StripeNum) RaidAddr {
	return RaidAddr(uint64(sid) * g.DataSectorsPerStripe)
}

// NumStripes returns the number of stripes in the array.
func (g *Geometry) NumStripes() uint64 {
	return g.TotalSectors / g.DataSectorsPerStripe
}

// StripeUnitBytes returns the size of a stripe unit in bytes.
func (g *Geometry) StripeUnitBytes() int {
	return int(g.SectorsPerStripeUnit) * g.SectorSize
}

// PhysDiskAddr describes a contiguous piece of an access on one component.
type PhysDiskAddr struct {
	Row         int
	Col         int
	StartSector SectorNum
	NumSector   uint64

	// RaidAddress is the logical address of the first sector. For parity
	// pieces it is the address of the data at the same stripe unit offset.
	RaidAddress RaidAddr

	// BufOffset is the byte offset of the piece in the caller's buffer, or
	// -1 for parity.
	BufOffset int
}

// unitOffset returns the offset of p within its stripe unit, in sectors.
func (p *PhysDiskAddr) unitOffset(g *Geometry) uint64 {
	return uint64(p.StartSector) % g.SectorsPerStripeUnit
}

// AccessStripeMap describes the part of an access that falls in one stripe.
type AccessStripeMap struct {
	RaidAddress            RaidAddr
	EndRaidAddress         RaidAddr
	TotalSectorsAccessed   uint64
	NumStripeUnitsAccessed int
	StripeID               StripeNum
	PSID                   ParityStripeID

	// PhysInfo holds one piece per data stripe unit touched, in address
	// order.
	PhysInfo []PhysDiskAddr

	// ParityInfo holds zero, one or two parity pieces. There are two when
	// the touched stripe unit offsets form two disjoint ranges.
	ParityInfo []PhysDiskAddr

	NumDataFailed   int
	NumParityFailed int

	// FailedPDAs indexes PhysInfo and ParityInfo entries on unusable
	// components.
	FailedPDAs []*PhysDiskAddr

	// DataCols holds, for every data stripe unit of the stripe in address
	// order, the component serving it. DataFailed marks the unusable ones.
	DataCols   []int
	DataFailed []bool

	// ParityCol is the component holding parity, or -1 without parity.
	ParityCol    int
	ParityFailed bool

	// NumFailedInStripe counts unusable components among all members of
	// the stripe, accessed or not.
	NumFailedInStripe int

	stripeSectors uint64
}

// FullStripe reports whether the access covers every data sector of the
// stripe.
func (asm *AccessStripeMap) FullStripe() bool {
	return asm.TotalSectorsAccessed == asm.stripeSectors
}

// failedDataIndex returns the index in DataCols of the unusable data unit,
// or -1.
func (asm *AccessStripeMap) failedDataIndex() int {
	for i, f := range asm.DataFailed {
		if f {
			return i
		}
	}
	return -1
}
