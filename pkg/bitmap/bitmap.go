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

// Package bitmap provides a fixed-size bitmap indexed by uint64, used to
// track per-stripe state such as reconstruction progress.
package bitmap

import (
	"fmt"
	"math/bits"
)

// NotFound is returned by the search functions when no bit matches.
const NotFound = ^uint64(0)

// Bitmap implements an efficient bitmap over [0, Size()).
//
// Bitmap is not synchronized; callers serialize access.
type Bitmap struct {
	// numOnes is the number of ones in the bitmap.
	numOnes uint64

	// size is the number of valid bits.
	size uint64

	// bitBlock holds the bits. Each uint64 holds 64 entries.
	bitBlock []uint64
}

// New creates a new empty Bitmap holding size bits.
func New(size uint64) Bitmap {
	return Bitmap{
		size:     size,
		bitBlock: make([]uint64, (size+63)/64),
	}
}

// Size returns the number of bits in the bitmap.
func (b *Bitmap) Size() uint64 {
	return b.size
}

// NumOnes returns the number of set bits.
func (b *Bitmap) NumOnes() uint64 {
	return b.numOnes
}

// IsFull reports whether every bit is set.
func (b *Bitmap) IsFull() bool {
	return b.numOnes == b.size
}

func (b *Bitmap) check(i uint64) {
	if i >= b.size {
		panic(fmt.Sprintf("bit %d out of range [0, %d)", i, b.size))
	}
}

// IsSet reports whether bit i is set.
func (b *Bitmap) IsSet(i uint64) bool {
	b.check(i)
	return b.bitBlock[i/64]&(uint64(1)<<(i%64)) != 0
}

// Add sets bit i.
func (b *Bitmap) Add(i uint64) {
	b.check(i)
	blockNum, mask := i/64, uint64(1)<<(i%64)
	oldBlock := b.bitBlock[blockNum]
	if newBlock := oldBlock | mask; oldBlock != newBlock {
		b.bitBlock[blockNum] = newBlock
		b.numOnes++
	}
}

// FirstZero returns the first unset bit in [start, Size()), or NotFound.
func (b *Bitmap) FirstZero(start uint64) uint64 {
	if start >= b.size {
		return NotFound
	}
	i, nbit := start/64, start%64
	w := b.bitBlock[i] | ((uint64(1) << nbit) - 1)
	for {
		if w != ^uint64(0) {
			r := i*64 + uint64(bits.TrailingZeros64(^w))
			if r >= b.size {
				return NotFound
			}
			return r
		}
		i++
		if i == uint64(len(b.bitBlock)) {
			return NotFound
		}
		w = b.bitBlock[i]
	}
}

// Clone returns a deep copy of the Bitmap.
func (b *Bitmap) Clone() Bitmap {
	c := Bitmap{numOnes: b.numOnes, size: b.size, bitBlock: make([]uint64, len(b.bitBlock))}
	copy(c.bitBlock, b.bitBlock)
	return c
}
