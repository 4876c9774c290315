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
)

// raid5 rotates parity left-symmetrically: parity of stripe 0 is on the
// last column and moves down one column per stripe, and the data of each
// stripe starts on the column after its parity.
type raid5 struct {
	singleParity

	// stripeIdentifier[i] lists the columns of stripes s with
	// s % NumCol == i, first data unit first and parity last.
	stripeIdentifier [][]int
}

var _ RaidLayout = (*raid5)(nil)

// ConfigureRAID5 configures a layout with rotated parity.
func ConfigureRAID5(sl *ShutdownList, geo *Geometry, cfg *LayoutConfig, comps Components) (RaidLayout, error) {
	sp, err := configureSingleParity(geo, cfg, comps, "RAID5")
	if err != nil {
		return nil, err
	}
	n := cfg.NumCol
	l := &raid5{singleParity: sp, stripeIdentifier: make([][]int, n)}
	start := 0
	for i := 0; i < n; i++ {
		row := make([]int, n)
		for j := range row {
			row[j] = (start + j) % n
		}
		l.stripeIdentifier[i] = row
		if start--; start < 0 {
			start = n - 1
		}
	}
	sl.Add("RAID5 stripe identifier table", func() error {
		l.stripeIdentifier = nil
		return nil
	})
	return l, nil
}

func (l *raid5) Name() string { return "RAID Level 5" }
func (l *raid5) ParityConfig() byte { return '5' }
func (l *raid5) NumFloatingReconBuffers() int { return 20 }
func (l *raid5) HeadSepLimit() HeadSepLimit { return 10 }

// MapSector implements RaidLayout.MapSector.
func (l *raid5) MapSector(addr RaidAddr, remap bool) PhysLoc {
	checkAddr(l.geo, addr)
	suid := uint64(addr) / l.geo.SectorsPerStripeUnit
	col := int(suid % uint64(l.geo.NumCol))
	if remap {
		col = l.remap(col, addr)
	}
	return PhysLoc{Col: col, Sector: l.unitSector(suid, addr)}
}

// MapParity implements RaidLayout.MapParity.
func (l *raid5) MapParity(addr RaidAddr, remap bool) PhysLoc {
	checkAddr(l.geo, addr)
	suid := uint64(addr) / l.geo.SectorsPerStripeUnit
	col := l.geo.NumDataCol - int((suid/uint64(l.geo.NumDataCol))%uint64(l.geo.NumCol))
	if remap {
		col = l.remap(col, addr)
	}
	return PhysLoc{Col: col, Sector: l.unitSector(suid, addr)}
}

// IdentifyStripe implements RaidLayout.IdentifyStripe. The returned slice
// must not be modified.
func (l *raid5) IdentifyStripe(addr RaidAddr) (int, []int) {
	checkAddr(l.geo, addr)
	sid := uint64(l.geo.StripeID(addr))
	return 0, l.stripeIdentifier[sid%uint64(l.geo.NumCol)]
}

// VerifyParity implements RaidLayout.VerifyParity.
func (l *raid5) VerifyParity(ctx context.Context, sio StripeIO, addr RaidAddr, correct bool) (ParityStatus, error) {
	return verifyParityBasic(ctx, l, sio, addr, correct)
}
