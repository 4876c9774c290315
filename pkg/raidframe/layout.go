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
	"context"
	"fmt"

	"raidframe.dev/raidframe/pkg/alloclist"
	"raidframe.dev/raidframe/pkg/diskqueue"
)

// HeadSepLimit bounds, in parity stripes, how far reconstruction may run
// ahead of the lowest stripe not yet rebuilt.
type HeadSepLimit int64

// NoHeadSepLimit disables the head separation limit.
const NoHeadSepLimit HeadSepLimit = -1

// Components reports component health to the mapping code.
type Components interface {
	// Lookup returns the component currently holding col's contents for
	// parity stripe psid, and whether it can serve I/O. A column that has
	// been reconstructed onto a hot spare resolves to the spare.
	Lookup(col int, psid ParityStripeID) (phys int, ok bool)
}

// StripeIO issues component I/O on behalf of parity verification and DAG
// execution. Sectors are relative to the data area.
type StripeIO interface {
	Components

	// Submit performs one component request and waits for it.
	Submit(ctx context.Context, op diskqueue.Op, col int, sector SectorNum, buf []byte, prio diskqueue.Priority) error
}

// RaidLayout is the per-level dispatch table.
type RaidLayout interface {
	// Name is the human readable level name.
	Name() string

	// ParityConfig is the level's configuration character: '0', '4' or '5'.
	ParityConfig() byte

	// Geometry returns the immutable array geometry.
	Geometry() *Geometry

	// FaultsTolerated is the number of concurrent component failures the
	// level survives.
	FaultsTolerated() int

	// MapSector maps a data address. With remap set, a column whose
	// contents live on a hot spare is replaced by the spare.
	MapSector(addr RaidAddr, remap bool) PhysLoc

	// MapParity maps the parity protecting addr.
	MapParity(addr RaidAddr, remap bool) PhysLoc

	// IdentifyStripe returns the columns of the stripe holding addr.
	IdentifyStripe(addr RaidAddr) (row int, cols []int)

	// MapSIDToPSID maps a stripe to its parity stripe and recon unit.
	MapSIDToPSID(sid StripeNum) (ParityStripeID, ReconUnitNum)

	// SelectDAG picks the graph that services asm.
	SelectDAG(op IOType, asm *AccessStripeMap) (DAGType, error)

	// VerifyParity checks, and with correct set repairs, the parity of the
	// stripe holding addr.
	VerifyParity(ctx context.Context, sio StripeIO, addr RaidAddr, correct bool) (ParityStatus, error)

	// NumFloatingReconBuffers is the default number of stripes rebuilt
	// concurrently.
	NumFloatingReconBuffers() int

	// HeadSepLimit is the default head separation limit.
	HeadSepLimit() HeadSepLimit
}

// LayoutConfig holds the inputs to layout configuration.
type LayoutConfig struct {
	// ParityConfig selects the level: '0', '4' or '5'.
	ParityConfig byte

	// NumCol is the number of components, spares excluded.
	NumCol int

	SectorsPerStripeUnit uint64
	SectorSize           int

	// SectorsPerDisk is the usable data area of the smallest component.
	SectorsPerDisk uint64
}

type configureFunc func(sl *ShutdownList, geo *Geometry, cfg *LayoutConfig, comps Components) (RaidLayout, error)

type layoutSwitchEntry struct {
	parityConfig byte
	name         string
	configure    configureFunc
}

// layoutSwitch lists the supported levels.
var layoutSwitch = []layoutSwitchEntry{
	{'0', "RAID Level 0", ConfigureRAID0},
	{'4', "RAID Level 4", ConfigureRAID4},
	{'5', "RAID Level 5", ConfigureRAID5},
}

// LevelName returns the name of the level selected by parityConfig.
func LevelName(parityConfig byte) (string, bool) {
	for _, e := range layoutSwitch {
		if e.parityConfig == parityConfig {
			return e.name, true
		}
	}
	return "", false
}

// ConfigureLayout builds the layout selected by cfg.ParityConfig.
func ConfigureLayout(sl *ShutdownList, cfg *LayoutConfig, comps Components) (RaidLayout, error) {
	var entry *layoutSwitchEntry
	for i := range layoutSwitch {
		if layoutSwitch[i].parityConfig == cfg.ParityConfig {
			entry = &layoutSwitch[i]
			break
		}
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: unknown parity configuration %q", ErrBadConfig, cfg.ParityConfig)
	}
	if cfg.SectorSize <= 0 || cfg.SectorSize%512 != 0 {
		return nil, fmt.Errorf("%w: sector size %d is not a positive multiple of 512", ErrBadConfig, cfg.SectorSize)
	}
	if cfg.SectorsPerStripeUnit == 0 {
		return nil, fmt.Errorf("%w: zero sectors per stripe unit", ErrBadConfig)
	}
	if unit := cfg.SectorsPerStripeUnit * uint64(cfg.SectorSize); unit > alloclist.MaxAllocSize || unit/uint64(cfg.SectorSize) != cfg.SectorsPerStripeUnit {
		return nil, fmt.Errorf("%w: stripe unit of %d sectors exceeds %d bytes", ErrBadConfig, cfg.SectorsPerStripeUnit, alloclist.MaxAllocSize)
	}
	if cfg.SectorsPerDisk < cfg.SectorsPerStripeUnit {
		return nil, fmt.Errorf("%w: components hold %d sectors, less than one stripe unit of %d", ErrBadConfig, cfg.SectorsPerDisk, cfg.SectorsPerStripeUnit)
	}
	geo := &Geometry{
		SectorsPerStripeUnit: cfg.SectorsPerStripeUnit,
		StripeUnitsPerDisk:   cfg.SectorsPerDisk / cfg.SectorsPerStripeUnit,
		NumCol:               cfg.NumCol,
		SectorSize:           cfg.SectorSize,
		SUsPerPU:             1,
		SUsPerRU:             1,
	}
	return entry.configure(sl, geo, cfg, comps)
}

// checkAddr panics on addresses outside the array. Callers validate user
// input, so a bad address here is a bug.
func checkAddr(geo *Geometry, addr RaidAddr) {
	if uint64(addr) >= geo.TotalSectors {
		panic(fmt.Sprintf("raid address %d beyond array of %d sectors", addr, geo.TotalSectors))
	}
}
