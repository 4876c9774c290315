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
	"sync"

	"raidframe.dev/raidframe/pkg/log"
)

type shutdownEntry struct {
	name string
	fn   func() error
}

// ShutdownList holds teardown hooks registered while configuring an array.
// Hooks run in reverse registration order.
type ShutdownList struct {
	mu sync.Mutex
	// +checklocks:mu
	entries []shutdownEntry
}

// Add registers fn under name.
func (l *ShutdownList) Add(name string, fn func() error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, shutdownEntry{name: name, fn: fn})
}

// Len returns the number of pending hooks.
func (l *ShutdownList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Run runs and removes every hook, last registered first. All hooks run
// even if some fail; the failures are joined.
func (l *ShutdownList) Run() error {
	l.mu.Lock()
	entries := l.entries
	l.entries = nil
	l.mu.Unlock()

	var errs []error
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if err := e.fn(); err != nil {
			log.Warningf("Shutdown hook %q failed: %v", e.name, err)
			errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
		}
	}
	return errors.Join(errs...)
}
