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

// singleParity holds what RAID4 and RAID5 share.
type singleParity struct {
	geo   *Geometry
	comps Components
}

func configureSingleParity(geo *Geometry, cfg *LayoutConfig, comps Components, level string) (singleParity, error) {
	if cfg.NumCol < 3 {
		return singleParity{}, fmt.Errorf("%w: %s needs at least 3 components, got %d", ErrBadConfig, level, cfg.NumCol)
	}
	if comps == nil {
		comps = healthy{}
	}
	geo.NumDataCol = cfg.NumCol - 1
	geo.NumParityCol = 1
	geo.DataStripeUnitsPerDisk = geo.StripeUnitsPerDisk
	geo.DataSectorsPerStripe = geo.SectorsPerStripeUnit * uint64(geo.NumDataCol)
	geo.TotalSectors = geo.StripeUnitsPerDisk * geo.DataSectorsPerStripe
	return singleParity{geo: geo, comps: comps}, nil
}

func (s *singleParity) Geometry() *Geometry { return s.geo }
func (s *singleParity) FaultsTolerated() int { return 1 }

// MapSIDToPSID implements RaidLayout.MapSIDToPSID.
func (s *singleParity) MapSIDToPSID(sid StripeNum) (ParityStripeID, ReconUnitNum) {
	return ParityStripeID(sid), 0
}

// SelectDAG implements RaidLayout.SelectDAG.
func (s *singleParity) SelectDAG(op IOType, asm *AccessStripeMap) (DAGType, error) {
	return selectSingleParity(s.geo, op, asm)
}

func (s *singleParity) remap(col int, addr RaidAddr) int {
	phys, _ := s.comps.Lookup(col, ParityStripeID(s.geo.StripeID(addr)))
	return phys
}

// unitSector returns the component sector of addr given its stripe unit
// id.
func (s *singleParity) unitSector(suid uint64, addr RaidAddr) SectorNum {
	spsu := s.geo.SectorsPerStripeUnit
	return SectorNum((suid/uint64(s.geo.NumDataCol))*spsu + uint64(addr)%spsu)
}

// raid4 keeps parity on the last column.
type raid4 struct {
	singleParity

	cols []int
}

var _ RaidLayout = (*raid4)(nil)

// ConfigureRAID4 configures a layout with a dedicated parity component.
func ConfigureRAID4(sl *ShutdownList, geo *Geometry, cfg *LayoutConfig, comps Components) (RaidLayout, error) {
	sp, err := configureSingleParity(geo, cfg, comps, "RAID4")
	if err != nil {
		return nil, err
	}
	l := &raid4{singleParity: sp, cols: make([]int, cfg.NumCol)}
	for i := range l.cols {
		l.cols[i] = i
	}
	return l, nil
}

func (l *raid4) Name() string { return "RAID Level 4" }
func (l *raid4) ParityConfig() byte { return '4' }
func (l *raid4) NumFloatingReconBuffers() int { return 20 }
func (l *raid4) HeadSepLimit() HeadSepLimit { return 20 }

// MapSector implements RaidLayout.MapSector.
func (l *raid4) MapSector(addr RaidAddr, remap bool) PhysLoc {
	checkAddr(l.geo, addr)
	suid := uint64(addr) / l.geo.SectorsPerStripeUnit
	col := int(suid % uint64(l.geo.NumDataCol))
	if remap {
		col = l.remap(col, addr)
	}
	return PhysLoc{Col: col, Sector: l.unitSector(suid, addr)}
}

// MapParity implements RaidLayout.MapParity.
func (l *raid4) MapParity(addr RaidAddr, remap bool) PhysLoc {
	checkAddr(l.geo, addr)
	suid := uint64(addr) / l.geo.SectorsPerStripeUnit
	col := l.geo.NumDataCol
	if remap {
		col = l.remap(col, addr)
	}
	return PhysLoc{Col: col, Sector: l.unitSector(suid, addr)}
}

// IdentifyStripe implements RaidLayout.IdentifyStripe. The returned slice
// must not be modified.
func (l *raid4) IdentifyStripe(addr RaidAddr) (int, []int) {
	checkAddr(l.geo, addr)
	return 0, l.cols
}

// VerifyParity implements RaidLayout.VerifyParity.
func (l *raid4) VerifyParity(ctx context.Context, sio StripeIO, addr RaidAddr, correct bool) (ParityStatus, error) {
	return verifyParityBasic(ctx, l, sio, addr, correct)
}
