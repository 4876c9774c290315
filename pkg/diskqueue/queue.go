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

package diskqueue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/btree"
	"raidframe.dev/raidframe/pkg/log"
)

// Discipline selects the order in which pending requests are serviced.
type Discipline int

const (
	// FIFO services requests in arrival order.
	FIFO Discipline = iota

	// CVSCAN services requests in ascending sector order from the current
	// head position, wrapping around to the lowest pending sector.
	CVSCAN
)

// String implements fmt.Stringer.
func (d Discipline) String() string {
	switch d {
	case FIFO:
		return "fifo"
	case CVSCAN:
		return "cvscan"
	default:
		return fmt.Sprintf("Discipline(%d)", int(d))
	}
}

// ParseDiscipline parses the name returned by Discipline.String.
func ParseDiscipline(s string) (Discipline, error) {
	switch s {
	case "fifo", "":
		return FIFO, nil
	case "cvscan":
		return CVSCAN, nil
	default:
		return 0, fmt.Errorf("unknown queue discipline %q, must be 'fifo' or 'cvscan'", s)
	}
}

// Priority orders requests between classes; all Normal requests are serviced
// before any Low one.
type Priority int

const (
	// Normal is used for foreground I/O.
	Normal Priority = iota

	// Low is used for reconstruction and parity rewrite traffic.
	Low

	numPriorities
)

// Op is a request type.
type Op int

const (
	// OpRead reads sectors.
	OpRead Op = iota

	// OpWrite writes sectors.
	OpWrite
)

func (o Op) String() string {
	if o == OpWrite {
		return "write"
	}
	return "read"
}

type request struct {
	ctx    context.Context
	op     Op
	sector uint64
	buf    []byte
	seq    uint64
	done   chan error
}

// Opts configures a Queue.
type Opts struct {
	// Discipline is the scheduling discipline.
	Discipline Discipline

	// MaxOutstanding is the number of requests issued to the disk
	// concurrently. Zero means 1.
	MaxOutstanding int

	// Retries is the number of times a transient failure is retried.
	Retries uint64

	// RetryInterval is the delay between retries.
	RetryInterval time.Duration
}

// Stats are cumulative queue counters.
type Stats struct {
	Reads   uint64
	Writes  uint64
	Retries uint64
	Errors  uint64
}

// Queue serializes and schedules the requests for one Disk.
type Queue struct {
	disk Disk
	opts Opts

	mu   sync.Mutex
	cond sync.Cond

	// +checklocks:mu
	pending [numPriorities]*btree.BTreeG[*request]
	// +checklocks:mu
	numPending int
	// +checklocks:mu
	head uint64
	// +checklocks:mu
	seq uint64
	// +checklocks:mu
	closed bool

	workers sync.WaitGroup

	reads   atomic.Uint64
	writes  atomic.Uint64
	retries atomic.Uint64
	errors  atomic.Uint64
}

func lessFor(d Discipline) btree.LessFunc[*request] {
	if d == CVSCAN {
		return func(a, b *request) bool {
			if a.sector != b.sector {
				return a.sector < b.sector
			}
			return a.seq < b.seq
		}
	}
	return func(a, b *request) bool { return a.seq < b.seq }
}

// NewQueue starts a queue over d.
func NewQueue(d Disk, opts Opts) *Queue {
	if opts.MaxOutstanding <= 0 {
		opts.MaxOutstanding = 1
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 10 * time.Millisecond
	}
	q := &Queue{disk: d, opts: opts}
	q.cond.L = &q.mu
	for i := range q.pending {
		q.pending[i] = btree.NewG(8, lessFor(opts.Discipline))
	}
	for i := 0; i < opts.MaxOutstanding; i++ {
		q.workers.Add(1)
		go q.worker()
	}
	return q
}

// Disk returns the underlying disk.
func (q *Queue) Disk() Disk {
	return q.disk
}

// Read reads len(buf) bytes at sector.
func (q *Queue) Read(ctx context.Context, sector uint64, buf []byte, prio Priority) error {
	return q.Submit(ctx, OpRead, sector, buf, prio)
}

// Write writes buf at sector.
func (q *Queue) Write(ctx context.Context, sector uint64, buf []byte, prio Priority) error {
	return q.Submit(ctx, OpWrite, sector, buf, prio)
}

// Submit enqueues a request and waits for it to complete. The buffer is not
// touched after Submit returns.
func (q *Queue) Submit(ctx context.Context, op Op, sector uint64, buf []byte, prio Priority) error {
	r := &request{
		ctx:    ctx,
		op:     op,
		sector: sector,
		buf:    buf,
		done:   make(chan error, 1),
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("%s: %w", q.disk.Name(), ErrClosed)
	}
	q.seq++
	r.seq = q.seq
	q.pending[prio].ReplaceOrInsert(r)
	q.numPending++
	q.cond.Signal()
	q.mu.Unlock()
	return <-r.done
}

// Preconditions: q.mu is locked; q.numPending > 0.
func (q *Queue) pickLocked() *request {
	for _, t := range q.pending {
		if t.Len() == 0 {
			continue
		}
		var r *request
		if q.opts.Discipline == CVSCAN {
			t.AscendGreaterOrEqual(&request{sector: q.head}, func(item *request) bool {
				r = item
				return false
			})
		}
		if r == nil {
			r, _ = t.Min()
		}
		t.Delete(r)
		q.numPending--
		q.head = r.sector + uint64(len(r.buf)/q.disk.SectorSize())
		return r
	}
	panic("pickLocked called with nothing pending")
}

func (q *Queue) worker() {
	defer q.workers.Done()
	for {
		q.mu.Lock()
		for q.numPending == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.numPending == 0 {
			q.mu.Unlock()
			return
		}
		r := q.pickLocked()
		q.mu.Unlock()
		r.done <- q.service(r)
	}
}

// service issues r to the disk, retrying transient failures.
func (q *Queue) service(r *request) error {
	attempt := 0
	op := func() error {
		if err := r.ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempt++
		if attempt > 1 {
			q.retries.Add(1)
		}
		var err error
		if r.op == OpRead {
			err = q.disk.ReadSectors(r.ctx, r.sector, r.buf)
		} else {
			err = q.disk.WriteSectors(r.ctx, r.sector, r.buf)
		}
		if err == nil {
			return nil
		}
		if IsTransient(err) {
			log.Debugf("%s: transient %v error at sector %d: %v", q.disk.Name(), r.op, r.sector, err)
			return err
		}
		return backoff.Permanent(err)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(q.opts.RetryInterval), q.opts.Retries), r.ctx)
	err := backoff.Retry(op, b)
	if err != nil {
		q.errors.Add(1)
		return err
	}
	if r.op == OpRead {
		q.reads.Add(1)
	} else {
		q.writes.Add(1)
	}
	return nil
}

// Stats returns the queue counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Reads:   q.reads.Load(),
		Writes:  q.writes.Load(),
		Retries: q.retries.Load(),
		Errors:  q.errors.Load(),
	}
}

// Close stops accepting requests, drains the pending ones and closes the
// disk.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	q.workers.Wait()
	return q.disk.Close()
}
