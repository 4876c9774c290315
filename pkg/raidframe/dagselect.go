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
)

// DAGType names an I/O graph.
type DAGType int

const (
	// DAGNonRedundantRead reads data from a level without redundancy.
	DAGNonRedundantRead DAGType = iota

	// DAGNormalRead reads data with every accessed component healthy.
	DAGNormalRead

	// DAGDegradedRead rebuilds data on a failed component from the
	// survivors and parity.
	DAGDegradedRead

	// DAGFullStripeWrite writes a whole stripe and parity computed from
	// the new data alone.
	DAGFullStripeWrite

	// DAGReconstructWrite reads the unaccessed data of the stripe and
	// recomputes parity (large write).
	DAGReconstructWrite

	// DAGPartialStripeWrite reads old data and parity and applies the
	// difference (small read-modify-write).
	DAGPartialStripeWrite

	// DAGDegradedWrite writes a stripe whose accessed data component has
	// failed, folding the lost data into parity.
	DAGDegradedWrite

	// DAGNonRedundantWrite writes data without maintaining parity.
	DAGNonRedundantWrite

	// DAGReconstruct rebuilds a whole stripe unit of a failed component.
	DAGReconstruct

	numDAGTypes
)

var dagTypeNames = [numDAGTypes]string{
	DAGNonRedundantRead:   "nonredundant_read",
	DAGNormalRead:         "normal_read",
	DAGDegradedRead:       "degraded_read",
	DAGFullStripeWrite:    "full_stripe_write",
	DAGReconstructWrite:   "reconstruct_write",
	DAGPartialStripeWrite: "partial_stripe_write",
	DAGDegradedWrite:      "degraded_write",
	DAGNonRedundantWrite:  "nonredundant_write",
	DAGReconstruct:        "reconstruct",
}

// String implements fmt.Stringer.
func (t DAGType) String() string {
	if t < 0 || t >= numDAGTypes {
		return fmt.Sprintf("DAGType(%d)", int(t))
	}
	return dagTypeNames[t]
}

// selectNonRedundant picks graphs for a level without redundancy. Any
// failed component is fatal for the access.
func selectNonRedundant(op IOType, asm *AccessStripeMap) (DAGType, error) {
	if asm.NumDataFailed > 0 {
		return 0, fmt.Errorf("%w: stripe %d has %d failed units and no redundancy", ErrTooManyFailures, asm.StripeID, asm.NumDataFailed)
	}
	if op == IORead {
		return DAGNonRedundantRead, nil
	}
	return DAGNonRedundantWrite, nil
}

// selectSingleParity picks graphs for RAID4 and RAID5 from the stripe
// coverage of the access and the health of the stripe.
func selectSingleParity(geo *Geometry, op IOType, asm *AccessStripeMap) (DAGType, error) {
	if asm.NumFailedInStripe > 1 {
		return 0, fmt.Errorf("%w: stripe %d has %d failed components", ErrTooManyFailures, asm.StripeID, asm.NumFailedInStripe)
	}
	if op == IORead {
		if asm.NumDataFailed == 0 {
			return DAGNormalRead, nil
		}
		return DAGDegradedRead, nil
	}
	switch {
	case asm.NumParityFailed > 0 || (asm.ParityCol >= 0 && asm.ParityFailed):
		return DAGNonRedundantWrite, nil
	case asm.NumDataFailed > 0:
		return DAGDegradedWrite, nil
	case asm.NumFailedInStripe > 0:
		// The failed unit is not written, so its old contents stay
		// folded into parity untouched.
		return DAGPartialStripeWrite, nil
	case asm.FullStripe():
		return DAGFullStripeWrite, nil
	case len(asm.ParityInfo) == 2 || asm.NumStripeUnitsAccessed <= geo.NumDataCol/2:
		return DAGPartialStripeWrite, nil
	default:
		return DAGReconstructWrite, nil
	}
}
