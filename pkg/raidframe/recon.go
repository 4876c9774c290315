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
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"raidframe.dev/raidframe/pkg/alloclist"
	"raidframe.dev/raidframe/pkg/bitmap"
	"raidframe.dev/raidframe/pkg/diskqueue"
	"raidframe.dev/raidframe/pkg/log"
)

// reconState tracks a running reconstruction. Fields are protected by
// Array.mu.
type reconState struct {
	col   int
	spare int

	// rebuilt is the recon map: the parity stripes already on the spare.
	rebuilt bitmap.Bitmap

	// doubleFailure is set when another member fails.
	doubleFailure bool

	// spareFailed is set when the spare fails.
	spareFailed bool

	cancel context.CancelFunc
	done   chan struct{}
}

// Reconstruct rebuilds failed member col onto a free hot spare. Foreground
// I/O continues meanwhile; writes to stripes already rebuilt go to the
// spare. Another member failing aborts with ErrDoubleFailure, which is not
// retried.
func (a *Array) Reconstruct(ctx context.Context, col int) error {
	if col < 0 || col >= a.geo.NumCol {
		return fmt.Errorf("%w: no component %d", ErrBadConfig, col)
	}
	if a.layout.FaultsTolerated() == 0 {
		return fmt.Errorf("%w: %s has no redundancy to reconstruct from", ErrTooManyFailures, a.layout.Name())
	}

	a.mu.Lock()
	switch {
	case a.shutdown:
		a.mu.Unlock()
		return ErrShutdown
	case a.recon != nil:
		a.mu.Unlock()
		return ErrReconInProgress
	case a.failed:
		a.mu.Unlock()
		return ErrTooManyFailures
	case a.status[col] != StatusFailed:
		st := a.status[col]
		a.mu.Unlock()
		return fmt.Errorf("component %d is %v, not failed", col, st)
	}
	spare := -1
	for i := a.geo.NumCol; i < len(a.status); i++ {
		if a.status[i] == StatusSpare {
			spare = i
			break
		}
	}
	if spare < 0 {
		a.mu.Unlock()
		return ErrNoSpare
	}
	ctx, cancel := context.WithCancel(ctx)
	rs := &reconState{
		col:     col,
		spare:   spare,
		rebuilt: bitmap.New(a.geo.NumStripes()),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	a.recon = rs
	a.status[col] = StatusReconstructing
	a.status[spare] = StatusUsedSpare
	a.mu.Unlock()
	defer close(rs.done)
	defer cancel()

	log.Infof("Reconstructing component %d (%s) onto spare %s, %d parity stripes", col, a.names[col], a.names[spare], a.geo.NumStripes())
	start := time.Now()
	err := a.rebuild(ctx, rs)

	a.mu.Lock()
	a.recon = nil
	if err == nil && !rs.rebuilt.IsFull() {
		err = fmt.Errorf("reconstruction of component %d stopped after %d of %d parity stripes", col, rs.rebuilt.NumOnes(), rs.rebuilt.Size())
	}
	if err != nil {
		a.status[col] = StatusFailed
		if a.status[spare] != StatusFailed {
			a.status[spare] = StatusSpare
		}
	} else {
		a.status[col] = StatusSpared
		a.spareOf[col] = spare
	}
	a.mu.Unlock()

	if lerr := a.writeLabels(context.Background(), false); lerr != nil {
		log.Warningf("Updating labels after reconstruction of component %d: %v", col, lerr)
	}
	if err != nil {
		log.Warningf("Reconstruction of component %d failed: %v", col, err)
		return err
	}
	log.Infof("Reconstruction of component %d done in %v", col, time.Since(start))
	return nil
}

// reconTuning returns the number of stripes rebuilt concurrently and the
// head separation limit.
func (a *Array) reconTuning() (int, HeadSepLimit) {
	n := a.layout.NumFloatingReconBuffers()
	if a.cfg.Recon.FloatingBuffers > 0 {
		n = a.cfg.Recon.FloatingBuffers
	}
	limit := a.layout.HeadSepLimit()
	if a.cfg.Recon.HeadSepLimit != 0 {
		limit = HeadSepLimit(a.cfg.Recon.HeadSepLimit)
	}
	if limit < 0 {
		limit = NoHeadSepLimit
	}
	return max(n, 1), limit
}

// lowestUnrebuilt returns the lowest parity stripe not yet rebuilt, or
// bitmap.NotFound.
func (a *Array) lowestUnrebuilt(rs *reconState) uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return rs.rebuilt.FirstZero(0)
}

func (a *Array) rebuild(ctx context.Context, rs *reconState) error {
	nbuf, limit := a.reconTuning()
	sem := semaphore.NewWeighted(int64(nbuf))
	g, gctx := errgroup.WithContext(ctx)
	progress := make(chan struct{}, 1)
	total := a.geo.NumStripes()
	logger := log.BasicRateLimitedLogger(5 * time.Second)

Loop:
	for sid := uint64(0); sid < total; sid++ {
		if limit != NoHeadSepLimit {
			for {
				low := a.lowestUnrebuilt(rs)
				if low == bitmap.NotFound || sid-low <= uint64(limit) {
					break
				}
				select {
				case <-progress:
				case <-gctx.Done():
					break Loop
				}
			}
		}
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			if err := a.rebuildStripe(gctx, rs, StripeNum(sid)); err != nil {
				return err
			}
			select {
			case progress <- struct{}{}:
			default:
			}
			logger.Infof("Reconstruction of component %d: parity stripe %d of %d rebuilt", rs.col, sid+1, total)
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return err
}

// rebuildStripe rebuilds one parity stripe unit of the failed member onto
// the spare.
func (a *Array) rebuildStripe(ctx context.Context, rs *reconState, sid StripeNum) error {
	psid, _ := a.layout.MapSIDToPSID(sid)
	unlock := a.locks.lock(psid, true)
	defer unlock()

	a.mu.RLock()
	double, spareFailed := rs.doubleFailure, rs.spareFailed
	a.mu.RUnlock()
	switch {
	case double:
		return fmt.Errorf("%w: at parity stripe %d", ErrDoubleFailure, psid)
	case spareFailed:
		return fmt.Errorf("spare %s failed at parity stripe %d", a.names[rs.spare], psid)
	}

	asms, err := a.MapAccess(a.geo.StripeStart(sid), a.geo.DataSectorsPerStripe, true)
	if err != nil {
		return err
	}
	asm := asms[0]
	if asm.NumFailedInStripe > 1 {
		return fmt.Errorf("%w: parity stripe %d has %d failed components", ErrDoubleFailure, psid, asm.NumFailedInStripe)
	}

	list := alloclist.New(false, a.alloc)
	defer list.Free()
	unit := list.MustAlloc(a.geo.StripeUnitBytes())
	dag, err := BuildDAG(a.geo, DAGReconstruct, asm, unit, list)
	if err != nil {
		return err
	}
	dagsMetric.Increment(DAGReconstruct.String())
	if err := dag.Execute(ctx, a, diskqueue.Low); err != nil {
		var de *DiskError
		if errors.As(err, &de) {
			a.failPhysical(de.Col)
			return fmt.Errorf("%w: %v", ErrDoubleFailure, err)
		}
		return err
	}

	base := asm.PhysInfo[0].StartSector - SectorNum(asm.PhysInfo[0].unitOffset(a.geo))
	if err := a.Submit(ctx, diskqueue.OpWrite, rs.spare, base, unit, diskqueue.Low); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.failPhysical(rs.spare)
		return fmt.Errorf("writing spare %s: %w", a.names[rs.spare], err)
	}

	a.mu.Lock()
	rs.rebuilt.Add(uint64(psid))
	a.mu.Unlock()
	stripesReconstructedMetric.Increment()
	return nil
}
