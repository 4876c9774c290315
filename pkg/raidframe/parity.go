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
	"crypto/subtle"
	"fmt"

	"raidframe.dev/raidframe/pkg/alloclist"
	"raidframe.dev/raidframe/pkg/diskqueue"
)

// ParityStatus is the outcome of a parity check.
type ParityStatus int

const (
	// ParityOkay means parity matches the data.
	ParityOkay ParityStatus = iota

	// ParityBad means parity does not match and was not corrected.
	ParityBad

	// ParityCorrected means parity did not match and was rewritten.
	ParityCorrected

	// ParityCouldNotCorrect means rewriting parity failed.
	ParityCouldNotCorrect

	// ParityCouldNotVerify means a member of the stripe is unavailable.
	ParityCouldNotVerify
)

// String implements fmt.Stringer.
func (s ParityStatus) String() string {
	switch s {
	case ParityOkay:
		return "okay"
	case ParityBad:
		return "bad"
	case ParityCorrected:
		return "corrected"
	case ParityCouldNotCorrect:
		return "could not correct"
	case ParityCouldNotVerify:
		return "could not verify"
	default:
		return fmt.Sprintf("ParityStatus(%d)", int(s))
	}
}

// verifyParityBasic recomputes the parity of the stripe holding addr as the
// XOR of its data units and compares it with the stored parity.
func verifyParityBasic(ctx context.Context, l RaidLayout, sio StripeIO, addr RaidAddr, correct bool) (ParityStatus, error) {
	geo := l.Geometry()
	sid := geo.StripeID(addr)
	start := geo.StripeStart(sid)
	psid, _ := l.MapSIDToPSID(sid)
	n := geo.StripeUnitBytes()

	list := alloclist.New(false, nil)
	defer list.Free()
	computed, err := list.Alloc(n)
	if err != nil {
		return ParityCouldNotVerify, err
	}
	unit, err := list.Alloc(n)
	if err != nil {
		return ParityCouldNotVerify, err
	}

	for j := 0; j < geo.NumDataCol; j++ {
		loc := l.MapSector(start+RaidAddr(uint64(j)*geo.SectorsPerStripeUnit), false)
		col, ok := sio.Lookup(loc.Col, psid)
		if !ok {
			return ParityCouldNotVerify, nil
		}
		if err := sio.Submit(ctx, diskqueue.OpRead, col, loc.Sector, unit, diskqueue.Low); err != nil {
			return ParityCouldNotVerify, &DiskError{Col: col, Op: diskqueue.OpRead, Err: err}
		}
		subtle.XORBytes(computed, computed, unit)
	}

	ploc := l.MapParity(start, false)
	pcol, ok := sio.Lookup(ploc.Col, psid)
	if !ok {
		return ParityCouldNotVerify, nil
	}
	if err := sio.Submit(ctx, diskqueue.OpRead, pcol, ploc.Sector, unit, diskqueue.Low); err != nil {
		return ParityCouldNotVerify, &DiskError{Col: pcol, Op: diskqueue.OpRead, Err: err}
	}
	if bytes.Equal(unit, computed) {
		return ParityOkay, nil
	}
	if !correct {
		return ParityBad, nil
	}
	if err := sio.Submit(ctx, diskqueue.OpWrite, pcol, ploc.Sector, computed, diskqueue.Low); err != nil {
		return ParityCouldNotCorrect, &DiskError{Col: pcol, Op: diskqueue.OpWrite, Err: err}
	}
	return ParityCorrected, nil
}
