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
	"errors"
	"fmt"

	"raidframe.dev/raidframe/pkg/diskqueue"
)

var (
	// ErrBadConfig is returned for an invalid array configuration.
	ErrBadConfig = errors.New("bad array configuration")

	// ErrTooManyFailures is returned when an access touches more failed
	// components than the layout tolerates.
	ErrTooManyFailures = errors.New("too many failed components")

	// ErrDoubleFailure is returned when another component fails while a
	// single-parity array is reconstructing. Data on the stripes not yet
	// rebuilt is lost.
	ErrDoubleFailure = errors.New("second component failure during reconstruction")

	// ErrNoSpare is returned when reconstruction has no hot spare to use.
	ErrNoSpare = errors.New("no hot spare available")

	// ErrReconInProgress is returned when a reconstruction is already
	// running.
	ErrReconInProgress = errors.New("reconstruction already in progress")

	// ErrAccessRange is returned for accesses outside the array or not
	// aligned to sectors.
	ErrAccessRange = errors.New("access out of range")

	// ErrShutdown is returned for operations on an array that was shut
	// down.
	ErrShutdown = errors.New("array is shut down")
)

// DiskError is an I/O failure on one component.
type DiskError struct {
	Col int
	Op  diskqueue.Op
	Err error
}

// Error implements error.Error.
func (e *DiskError) Error() string {
	return fmt.Sprintf("component %d: %v: %v", e.Col, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *DiskError) Unwrap() error {
	return e.Err
}
