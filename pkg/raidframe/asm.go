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
	"fmt"
	"sort"
)

// span is a half-open range of sector offsets within a stripe unit.
type span struct {
	start, end uint64
}

// mergeSpans returns the union of spans as disjoint sorted ranges.
func mergeSpans(spans []span) []span {
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	var out []span
	for _, s := range spans {
		if n := len(out); n > 0 && s.start <= out[n-1].end {
			out[n-1].end = max(out[n-1].end, s.end)
			continue
		}
		out = append(out, s)
	}
	return out
}

// MapAccess splits an access of nsect sectors at addr into one map per
// stripe touched. With remap set, pieces on components that were rebuilt
// onto hot spares are redirected to the spares. comps may be nil for an
// array with every component healthy.
func MapAccess(l RaidLayout, comps Components, addr RaidAddr, nsect uint64, remap bool) ([]*AccessStripeMap, error) {
	geo := l.Geometry()
	end := uint64(addr) + nsect
	if nsect == 0 || end < uint64(addr) || end > geo.TotalSectors {
		return nil, fmt.Errorf("%w: sectors [%d, %d) in array of %d", ErrAccessRange, addr, end, geo.TotalSectors)
	}
	if comps == nil {
		comps = healthy{}
	}
	var asms []*AccessStripeMap
	for cur := addr; uint64(cur) < end; {
		stop := min(RaidAddr(end), geo.StripeStart(geo.StripeID(cur)+1))
		asms = append(asms, mapStripe(l, comps, cur, stop, addr, remap))
		cur = stop
	}
	return asms, nil
}

// mapStripe maps [start, end), which lies within one stripe. accessStart is
// the address of the first byte of the caller's buffer.
func mapStripe(l RaidLayout, comps Components, start, end, accessStart RaidAddr, remap bool) *AccessStripeMap {
	geo := l.Geometry()
	spsu := geo.SectorsPerStripeUnit
	sid := geo.StripeID(start)
	psid, _ := l.MapSIDToPSID(sid)
	stripeStart := geo.StripeStart(sid)

	asm := &AccessStripeMap{
		RaidAddress:          start,
		EndRaidAddress:       end,
		TotalSectorsAccessed: uint64(end - start),
		StripeID:             sid,
		PSID:                 psid,
		ParityCol:            -1,
		stripeSectors:        geo.DataSectorsPerStripe,
	}
	resolve := func(col int) (int, bool) {
		phys, ok := comps.Lookup(col, psid)
		if !remap {
			phys = col
		}
		return phys, !ok
	}

	asm.DataCols = make([]int, geo.NumDataCol)
	asm.DataFailed = make([]bool, geo.NumDataCol)
	for j := range asm.DataCols {
		loc := l.MapSector(stripeStart+RaidAddr(uint64(j)*spsu), false)
		asm.DataCols[j], asm.DataFailed[j] = resolve(loc.Col)
		if asm.DataFailed[j] {
			asm.NumFailedInStripe++
		}
	}
	if geo.NumParityCol > 0 {
		loc := l.MapParity(stripeStart, false)
		asm.ParityCol, asm.ParityFailed = resolve(loc.Col)
		if asm.ParityFailed {
			asm.NumFailedInStripe++
		}
	}

	var spans []span
	for cur := start; cur < end; {
		j := uint64(cur-stripeStart) / spsu
		off := uint64(cur) % spsu
		n := min(spsu-off, uint64(end-cur))
		loc := l.MapSector(cur, false)
		asm.PhysInfo = append(asm.PhysInfo, PhysDiskAddr{
			Col:         asm.DataCols[j],
			StartSector: loc.Sector,
			NumSector:   n,
			RaidAddress: cur,
			BufOffset:   int(cur-accessStart) * geo.SectorSize,
		})
		if asm.DataFailed[j] {
			asm.NumDataFailed++
		}
		spans = append(spans, span{off, off + n})
		cur += RaidAddr(n)
	}
	asm.NumStripeUnitsAccessed = len(asm.PhysInfo)

	if geo.NumParityCol > 0 {
		for _, s := range mergeSpans(spans) {
			a := stripeStart + RaidAddr(s.start)
			loc := l.MapParity(a, false)
			asm.ParityInfo = append(asm.ParityInfo, PhysDiskAddr{
				Col:         asm.ParityCol,
				StartSector: loc.Sector,
				NumSector:   s.end - s.start,
				RaidAddress: a,
				BufOffset:   -1,
			})
		}
		if asm.ParityFailed {
			asm.NumParityFailed = len(asm.ParityInfo)
		}
	}

	for i := range asm.PhysInfo {
		if asm.DataFailed[asm.unitIndex(geo, &asm.PhysInfo[i])] {
			asm.FailedPDAs = append(asm.FailedPDAs, &asm.PhysInfo[i])
		}
	}
	if asm.ParityFailed {
		for i := range asm.ParityInfo {
			asm.FailedPDAs = append(asm.FailedPDAs, &asm.ParityInfo[i])
		}
	}
	return asm
}

// unitIndex returns the index of p's data unit within the stripe.
func (asm *AccessStripeMap) unitIndex(geo *Geometry, p *PhysDiskAddr) int {
	return int(uint64(p.RaidAddress-geo.StripeStart(asm.StripeID)) / geo.SectorsPerStripeUnit)
}
