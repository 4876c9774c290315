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
	"sync"
)

type stripeLock struct {
	sync.RWMutex

	// refs is protected by stripeLocks.mu.
	refs int
}

// stripeLocks serializes accesses to a parity stripe. Reads share a
// stripe; writes and reconstruction hold it exclusively. Entries exist only
// while referenced.
type stripeLocks struct {
	mu sync.Mutex
	// +checklocks:mu
	locks map[ParityStripeID]*stripeLock
}

// lock acquires psid and returns the function releasing it.
func (t *stripeLocks) lock(psid ParityStripeID, exclusive bool) func() {
	t.mu.Lock()
	if t.locks == nil {
		t.locks = make(map[ParityStripeID]*stripeLock)
	}
	l, ok := t.locks[psid]
	if !ok {
		l = &stripeLock{}
		t.locks[psid] = l
	}
	l.refs++
	t.mu.Unlock()

	if exclusive {
		l.Lock()
	} else {
		l.RLock()
	}
	return func() {
		if exclusive {
			l.Unlock()
		} else {
			l.RUnlock()
		}
		t.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(t.locks, psid)
		}
		t.mu.Unlock()
	}
}

// numHeld returns the number of stripes with holders or waiters.
func (t *stripeLocks) numHeld() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
