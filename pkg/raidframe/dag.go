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

	"raidframe.dev/raidframe/pkg/alloclist"
)

// NodeKind is the operation performed by a DAG node.
type NodeKind int

const (
	// NodeRead reads Buf from a component.
	NodeRead NodeKind = iota

	// NodeWrite writes Buf to a component.
	NodeWrite

	// NodeXor sets Buf to the XOR of its sources.
	NodeXor
)

// String implements fmt.Stringer.
func (k NodeKind) String() string {
	switch k {
	case NodeRead:
		return "R"
	case NodeWrite:
		return "W"
	case NodeXor:
		return "X"
	default:
		return fmt.Sprintf("NodeKind(%d)", int(k))
	}
}

// XorSource is an input of a XOR node, applied at byte offset Off of the
// destination.
type XorSource struct {
	Off int
	Buf []byte
}

// Node is one operation of a DAG.
type Node struct {
	Kind   NodeKind
	Col    int
	Sector SectorNum
	Buf    []byte
	Srcs   []XorSource

	// Deps are the indices of the nodes that must complete first. They
	// always precede the node in DAG.Nodes.
	Deps []int
}

// DAG is the dependency graph servicing one stripe access.
type DAG struct {
	Type  DAGType
	Nodes []*Node
}

func (d *DAG) add(n *Node) int {
	d.Nodes = append(d.Nodes, n)
	return len(d.Nodes) - 1
}

// Count returns the number of nodes of kind k.
func (d *DAG) Count(k NodeKind) int {
	n := 0
	for _, node := range d.Nodes {
		if node.Kind == k {
			n++
		}
	}
	return n
}

// String implements fmt.Stringer.
func (d *DAG) String() string {
	return fmt.Sprintf("%v{reads:%d writes:%d xors:%d}", d.Type, d.Count(NodeRead), d.Count(NodeWrite), d.Count(NodeXor))
}

// dagBuilder accumulates nodes. The first allocation failure sticks.
type dagBuilder struct {
	geo  *Geometry
	asm  *AccessStripeMap
	buf  []byte
	list *alloclist.List
	dag  *DAG
}

// alloc returns a zeroed buffer of nsect sectors. Buffers never exceed a
// stripe unit, which ConfigureLayout bounds by alloclist.MaxAllocSize.
func (b *dagBuilder) alloc(nsect uint64) []byte {
	return b.list.MustAlloc(int(nsect) * b.geo.SectorSize)
}

func (b *dagBuilder) read(col int, sector SectorNum, buf []byte, deps ...int) int {
	return b.dag.add(&Node{Kind: NodeRead, Col: col, Sector: sector, Buf: buf, Deps: deps})
}

func (b *dagBuilder) write(col int, sector SectorNum, buf []byte, deps ...int) int {
	return b.dag.add(&Node{Kind: NodeWrite, Col: col, Sector: sector, Buf: buf, Deps: deps})
}

func (b *dagBuilder) xor(dst []byte, srcs []XorSource, deps []int) int {
	return b.dag.add(&Node{Kind: NodeXor, Buf: dst, Srcs: srcs, Deps: deps})
}

// user returns the part of the caller's buffer holding p.
func (b *dagBuilder) user(p *PhysDiskAddr) []byte {
	return b.buf[p.BufOffset : p.BufOffset+int(p.NumSector)*b.geo.SectorSize]
}

func (b *dagBuilder) bytes(nsect uint64) int {
	return int(nsect) * b.geo.SectorSize
}

// rowBase returns the component sector at which the stripe's units start.
// Every unit of a stripe sits at the same sectors on its component.
func (b *dagBuilder) rowBase() SectorNum {
	p := &b.asm.PhysInfo[0]
	return p.StartSector - SectorNum(p.unitOffset(b.geo))
}

// BuildDAG builds the graph of type t servicing asm. buf is the caller's
// buffer for the access asm was mapped from; for DAGReconstruct it receives
// the rebuilt stripe unit of the failed component. Intermediate buffers are
// registered on list, which the caller frees after execution.
func BuildDAG(geo *Geometry, t DAGType, asm *AccessStripeMap, buf []byte, list *alloclist.List) (*DAG, error) {
	b := &dagBuilder{geo: geo, asm: asm, buf: buf, list: list, dag: &DAG{Type: t}}
	switch t {
	case DAGNonRedundantRead, DAGNormalRead:
		b.directRead()
	case DAGNonRedundantWrite:
		b.directWrite()
	case DAGDegradedRead:
		b.degradedRead()
	case DAGPartialStripeWrite:
		b.readModifyWrite()
	case DAGFullStripeWrite, DAGReconstructWrite:
		b.reconstructWrite(-1)
	case DAGDegradedWrite:
		f := asm.failedDataIndex()
		if f < 0 {
			return nil, fmt.Errorf("degraded write on stripe %d without a failed data unit", asm.StripeID)
		}
		b.reconstructWrite(f)
	case DAGReconstruct:
		if asm.NumFailedInStripe != 1 {
			return nil, fmt.Errorf("%w: stripe %d has %d failed components", ErrTooManyFailures, asm.StripeID, asm.NumFailedInStripe)
		}
		b.rebuildUnit()
	default:
		return nil, fmt.Errorf("unknown DAG type %v", t)
	}
	return b.dag, nil
}

func (b *dagBuilder) directRead() {
	for i := range b.asm.PhysInfo {
		p := &b.asm.PhysInfo[i]
		b.read(p.Col, p.StartSector, b.user(p))
	}
}

func (b *dagBuilder) directWrite() {
	for i := range b.asm.PhysInfo {
		p := &b.asm.PhysInfo[i]
		b.write(p.Col, p.StartSector, b.user(p))
	}
}

// degradedRead reads healthy pieces directly and rebuilds the piece on the
// failed component from the same range of every other unit and parity.
func (b *dagBuilder) degradedRead() {
	asm := b.asm
	for i := range asm.PhysInfo {
		p := &asm.PhysInfo[i]
		f := asm.unitIndex(b.geo, p)
		if !asm.DataFailed[f] {
			b.read(p.Col, p.StartSector, b.user(p))
			continue
		}
		var (
			srcs []XorSource
			deps []int
		)
		for j, col := range asm.DataCols {
			if j == f {
				continue
			}
			rb := b.alloc(p.NumSector)
			deps = append(deps, b.read(col, p.StartSector, rb))
			srcs = append(srcs, XorSource{Buf: rb})
		}
		pb := b.alloc(p.NumSector)
		deps = append(deps, b.read(asm.ParityCol, p.StartSector, pb))
		srcs = append(srcs, XorSource{Buf: pb})
		b.xor(b.user(p), srcs, deps)
	}
}

// readModifyWrite computes new parity as old parity XOR old data XOR new
// data, per parity piece.
func (b *dagBuilder) readModifyWrite() {
	asm := b.asm
	xorFor := make([]int, len(asm.PhysInfo))
	for _, q := range asm.ParityInfo {
		qs := uint64(q.StartSector)
		qe := qs + q.NumSector
		oldP := b.alloc(q.NumSector)
		srcs := []XorSource{{Buf: oldP}}
		deps := []int{b.read(asm.ParityCol, q.StartSector, oldP)}
		var covered []int
		for i := range asm.PhysInfo {
			p := &asm.PhysInfo[i]
			ps := uint64(p.StartSector)
			if ps < qs || ps >= qe {
				continue
			}
			oldD := b.alloc(p.NumSector)
			deps = append(deps, b.read(p.Col, p.StartSector, oldD))
			off := b.bytes(ps - qs)
			srcs = append(srcs, XorSource{Off: off, Buf: oldD}, XorSource{Off: off, Buf: b.user(p)})
			covered = append(covered, i)
		}
		newP := b.alloc(q.NumSector)
		x := b.xor(newP, srcs, deps)
		b.write(asm.ParityCol, q.StartSector, newP, x)
		for _, i := range covered {
			xorFor[i] = x
		}
	}
	for i := range asm.PhysInfo {
		p := &asm.PhysInfo[i]
		b.write(p.Col, p.StartSector, b.user(p), xorFor[i])
	}
}

// reconstructWrite computes parity over the bounding range R of the
// written offsets from the new data and the unwritten old data of every
// unit. If failed is a data unit index, that unit is not written and its
// old contents outside the written range are first rebuilt from parity.
func (b *dagBuilder) reconstructWrite(failed int) {
	asm := b.asm
	geo := b.geo
	base := b.rowBase()

	rs, re := geo.SectorsPerStripeUnit, uint64(0)
	for _, q := range asm.ParityInfo {
		off := uint64(q.StartSector - base)
		rs = min(rs, off)
		re = max(re, off+q.NumSector)
	}

	written := make([]*PhysDiskAddr, len(asm.DataCols))
	for i := range asm.PhysInfo {
		p := &asm.PhysInfo[i]
		written[asm.unitIndex(geo, p)] = p
	}

	var (
		srcs []XorSource
		deps []int
	)
	for j, col := range asm.DataCols {
		p := written[j]
		if j == failed {
			if p != nil {
				srcs = append(srcs, XorSource{Off: b.bytes(p.unitOffset(geo) - rs), Buf: b.user(p)})
			}
			continue
		}
		if p == nil {
			rb := b.alloc(re - rs)
			deps = append(deps, b.read(col, base+SectorNum(rs), rb))
			srcs = append(srcs, XorSource{Buf: rb})
			continue
		}
		ps := p.unitOffset(geo)
		pe := ps + p.NumSector
		if ps > rs {
			rb := b.alloc(ps - rs)
			deps = append(deps, b.read(col, base+SectorNum(rs), rb))
			srcs = append(srcs, XorSource{Buf: rb})
		}
		srcs = append(srcs, XorSource{Off: b.bytes(ps - rs), Buf: b.user(p)})
		if pe < re {
			rb := b.alloc(re - pe)
			deps = append(deps, b.read(col, base+SectorNum(pe), rb))
			srcs = append(srcs, XorSource{Off: b.bytes(pe - rs), Buf: rb})
		}
	}

	if failed >= 0 {
		var holes []span
		if p := written[failed]; p == nil {
			holes = []span{{rs, re}}
		} else {
			ps := p.unitOffset(geo)
			pe := ps + p.NumSector
			if ps > rs {
				holes = append(holes, span{rs, ps})
			}
			if pe < re {
				holes = append(holes, span{pe, re})
			}
		}
		for _, h := range holes {
			n := h.end - h.start
			sector := base + SectorNum(h.start)
			pb := b.alloc(n)
			lsrcs := []XorSource{{Buf: pb}}
			ldeps := []int{b.read(asm.ParityCol, sector, pb)}
			for j, col := range asm.DataCols {
				if j == failed {
					continue
				}
				ob := b.alloc(n)
				ldeps = append(ldeps, b.read(col, sector, ob))
				lsrcs = append(lsrcs, XorSource{Buf: ob})
			}
			old := b.alloc(n)
			deps = append(deps, b.xor(old, lsrcs, ldeps))
			srcs = append(srcs, XorSource{Off: b.bytes(h.start - rs), Buf: old})
		}
	}

	newP := b.alloc(re - rs)
	x := b.xor(newP, srcs, deps)
	b.write(asm.ParityCol, base+SectorNum(rs), newP, x)
	for j, p := range written {
		if p == nil || j == failed {
			continue
		}
		b.write(p.Col, p.StartSector, b.user(p), x)
	}
}

// rebuildUnit rebuilds the whole stripe unit of the single failed
// component of the stripe into the caller's buffer.
func (b *dagBuilder) rebuildUnit() {
	asm := b.asm
	base := b.rowBase()
	n := b.geo.SectorsPerStripeUnit
	var (
		srcs []XorSource
		deps []int
	)
	for j, col := range asm.DataCols {
		if asm.DataFailed[j] {
			continue
		}
		rb := b.alloc(n)
		deps = append(deps, b.read(col, base, rb))
		srcs = append(srcs, XorSource{Buf: rb})
	}
	if !asm.ParityFailed {
		pb := b.alloc(n)
		deps = append(deps, b.read(asm.ParityCol, base, pb))
		srcs = append(srcs, XorSource{Buf: pb})
	}
	b.xor(b.buf[:b.bytes(n)], srcs, deps)
}
