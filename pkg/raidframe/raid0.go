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
)

// healthy is the Components used when a layout is configured without an
// array: every column serves its own contents.
type healthy struct{}

func (healthy) Lookup(col int, _ ParityStripeID) (int, bool) { return col, true }

// raid0 stripes data across every column without redundancy.
type raid0 struct {
	geo   *Geometry
	comps Components

	// cols is the stripe identifier shared by every stripe.
	cols []int
}

var _ RaidLayout = (*raid0)(nil)

// ConfigureRAID0 configures a striped layout with no redundancy.
func ConfigureRAID0(sl *ShutdownList, geo *Geometry, cfg *LayoutConfig, comps Components) (RaidLayout, error) {
	if cfg.NumCol < 2 {
		return nil, fmt.Errorf("%w: RAID0 needs at least 2 components, got %d", ErrBadConfig, cfg.NumCol)
	}
	if comps == nil {
		comps = healthy{}
	}
	geo.NumDataCol = cfg.NumCol
	geo.NumParityCol = 0
	geo.DataStripeUnitsPerDisk = geo.StripeUnitsPerDisk
	geo.DataSectorsPerStripe = geo.SectorsPerStripeUnit * uint64(geo.NumDataCol)
	geo.TotalSectors = geo.DataStripeUnitsPerDisk * geo.DataSectorsPerStripe

	l := &raid0{geo: geo, comps: comps, cols: make([]int, cfg.NumCol)}
	for i := range l.cols {
		l.cols[i] = i
	}
	return l, nil
}

func (l *raid0) Name() string { return "RAID Level 0" }
func (l *raid0) ParityConfig() byte { return '0' }
func (l *raid0) Geometry() *Geometry { return l.geo }
func (l *raid0) FaultsTolerated() int { return 0 }
func (l *raid0) NumFloatingReconBuffers() int { return 0 }
func (l *raid0) HeadSepLimit() HeadSepLimit { return 0 }

// MapSector implements RaidLayout.MapSector.
func (l *raid0) MapSector(addr RaidAddr, remap bool) PhysLoc {
	checkAddr(l.geo, addr)
	spsu := l.geo.SectorsPerStripeUnit
	suid := uint64(addr) / spsu
	col := int(suid % uint64(l.geo.NumCol))
	if remap {
		psid := ParityStripeID(l.geo.StripeID(addr))
		phys, ok := l.comps.Lookup(col, psid)
		if !ok {
			panic(fmt.Sprintf("RAID0: cannot remap failed component %d", col))
		}
		col = phys
	}
	return PhysLoc{
		Col:    col,
		Sector: SectorNum((suid/uint64(l.geo.NumCol))*spsu + uint64(addr)%spsu),
	}
}

// MapParity implements RaidLayout.MapParity. RAID0 has no parity.
func (l *raid0) MapParity(addr RaidAddr, remap bool) PhysLoc {
	panic("RAID0 has no parity")
}

// IdentifyStripe implements RaidLayout.IdentifyStripe. The returned slice
// must not be modified.
func (l *raid0) IdentifyStripe(addr RaidAddr) (int, []int) {
	checkAddr(l.geo, addr)
	return 0, l.cols
}

// MapSIDToPSID implements RaidLayout.MapSIDToPSID.
func (l *raid0) MapSIDToPSID(sid StripeNum) (ParityStripeID, ReconUnitNum) {
	return ParityStripeID(sid), 0
}

// SelectDAG implements RaidLayout.SelectDAG.
func (l *raid0) SelectDAG(op IOType, asm *AccessStripeMap) (DAGType, error) {
	return selectNonRedundant(op, asm)
}

// VerifyParity implements RaidLayout.VerifyParity.
func (l *raid0) VerifyParity(context.Context, StripeIO, RaidAddr, bool) (ParityStatus, error) {
	return ParityOkay, nil
}
