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

// Package alloclist provides an arena-style allocation list: working buffers
// for one unit of work (configuring an array, executing a DAG, rebuilding a
// disk) are registered on a List and released together by a single Free.
//
// Registrations are stored in fixed-capacity elements chained in a singly
// linked list. A full element links a fresh one instead of growing in place,
// so adding a block never copies earlier registrations.
package alloclist

import (
	"errors"
	"fmt"
	"math/bits"
	"sync"
)

const (
	// ElemCapacity is the number of blocks recorded per list element.
	ElemCapacity = 20

	// MaxAllocSize bounds a single allocation.
	MaxAllocSize = 64 << 20

	// minClassLog2 is log2 of the smallest pooled block (one sector).
	minClassLog2 = 9

	// numClasses is the number of pooled size classes: 512B to 512KiB.
	numClasses = 11

	maxPooledSize = 1 << (minClassLog2 + numClasses - 1)
)

// ErrNoMem is returned when an allocation cannot be satisfied. The list
// holding earlier allocations is left intact; the caller frees it whole.
var ErrNoMem = errors.New("alloclist: out of memory")

// Allocator hands out and takes back byte blocks.
type Allocator interface {
	// Allocate returns a zeroed block of exactly size bytes.
	Allocate(size int) ([]byte, error)

	// Release returns a block obtained from Allocate.
	Release(b []byte)
}

// classPools holds one pool per power-of-two size class.
var classPools [numClasses]sync.Pool

func init() {
	for i := 0; i < numClasses; i++ {
		size := 1 << (minClassLog2 + i)
		classPools[i].New = func() any {
			b := make([]byte, size)
			return &b
		}
	}
}

// Precondition: 0 < size <= maxPooledSize.
func classFor(size int) int {
	if size <= 1<<minClassLog2 {
		return 0
	}
	return bits.Len64(uint64(size-1)) - minClassLog2
}

type poolAllocator struct{}

// DefaultAllocator serves blocks from size-class pools; blocks larger than
// the biggest class come from the heap and are left to the garbage collector.
var DefaultAllocator Allocator = poolAllocator{}

// Allocate implements Allocator.Allocate.
func (poolAllocator) Allocate(size int) ([]byte, error) {
	if size < 0 || size > MaxAllocSize {
		return nil, fmt.Errorf("%w: %d bytes requested", ErrNoMem, size)
	}
	if size == 0 {
		return []byte{}, nil
	}
	if size > maxPooledSize {
		return make([]byte, size), nil
	}
	bp := classPools[classFor(size)].Get().(*[]byte)
	b := (*bp)[:size]
	clear(b)
	return b, nil
}

// Release implements Allocator.Release.
func (poolAllocator) Release(b []byte) {
	c := cap(b)
	if c == 0 || c > maxPooledSize || c&(c-1) != 0 || c < 1<<minClassLog2 {
		return
	}
	full := b[:c]
	classPools[classFor(c)].Put(&full)
}

// elem is one link of the list.
type elem struct {
	blocks  [ElemCapacity][]byte
	sizes   [ElemCapacity]int
	numUsed int
	next    *elem
}

// elemPool recycles list elements across lists.
var elemPool = sync.Pool{New: func() any { return new(elem) }}

// List is an allocation list.
//
// An unlocked List must be confined to one goroutine. A locked List may be
// shared, for example among the reconstruction workers of one rebuild.
type List struct {
	mu    *sync.Mutex
	alloc Allocator

	head *elem
	tail *elem

	numElems  int
	numBlocks int
}

// New creates an empty allocation list. If a is nil, DefaultAllocator is
// used.
func New(locked bool, a Allocator) *List {
	if a == nil {
		a = DefaultAllocator
	}
	l := &List{alloc: a}
	if locked {
		l.mu = new(sync.Mutex)
	}
	return l
}

func (l *List) lock() {
	if l.mu != nil {
		l.mu.Lock()
	}
}

func (l *List) unlock() {
	if l.mu != nil {
		l.mu.Unlock()
	}
}

// Preconditions: l is locked.
func (l *List) addLocked(b []byte, size int) {
	if l.tail == nil || l.tail.numUsed == ElemCapacity {
		e := elemPool.Get().(*elem)
		if l.tail == nil {
			l.head = e
		} else {
			l.tail.next = e
		}
		l.tail = e
		l.numElems++
	}
	e := l.tail
	e.blocks[e.numUsed] = b
	e.sizes[e.numUsed] = size
	e.numUsed++
	l.numBlocks++
}

// Add registers b, which must have come from the list's Allocator, for
// release by Free. Registering the same block twice releases it twice.
func (l *List) Add(b []byte) {
	l.lock()
	defer l.unlock()
	l.addLocked(b, len(b))
}

// Alloc allocates a zeroed block of size bytes and registers it.
func (l *List) Alloc(size int) ([]byte, error) {
	b, err := l.alloc.Allocate(size)
	if err != nil {
		return nil, err
	}
	l.lock()
	defer l.unlock()
	l.addLocked(b, size)
	return b, nil
}

// MustAlloc is like Alloc but panics on failure. It is meant for sizes that
// are already validated against the array geometry.
func (l *List) MustAlloc(size int) []byte {
	b, err := l.Alloc(size)
	if err != nil {
		panic(err)
	}
	return b
}

// Free releases every registered block and empties the list. The list may
// be reused afterwards.
func (l *List) Free() {
	l.lock()
	head := l.head
	l.head, l.tail = nil, nil
	l.numElems, l.numBlocks = 0, 0
	l.unlock()

	for e := head; e != nil; {
		for i := 0; i < e.numUsed; i++ {
			l.alloc.Release(e.blocks[i])
			e.blocks[i] = nil
			e.sizes[i] = 0
		}
		next := e.next
		e.numUsed = 0
		e.next = nil
		elemPool.Put(e)
		e = next
	}
}

// NumElems returns the number of elements in the chain.
func (l *List) NumElems() int {
	l.lock()
	defer l.unlock()
	return l.numElems
}

// Len returns the number of registered blocks.
func (l *List) Len() int {
	l.lock()
	defer l.unlock()
	return l.numBlocks
}

// Size returns the total number of bytes registered.
func (l *List) Size() int {
	l.lock()
	defer l.unlock()
	total := 0
	for e := l.head; e != nil; e = e.next {
		for i := 0; i < e.numUsed; i++ {
			total += e.sizes[i]
		}
	}
	return total
}
