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
	"sync"
	"time"

	"github.com/mohae/deepcopy"
	"raidframe.dev/raidframe/pkg/alloclist"
	"raidframe.dev/raidframe/pkg/bitmap"
	"raidframe.dev/raidframe/pkg/cleanup"
	"raidframe.dev/raidframe/pkg/diskqueue"
	"raidframe.dev/raidframe/pkg/log"
)

// Array is a configured RAID array.
type Array struct {
	cfg    *Config
	layout RaidLayout
	geo    *Geometry
	sl     ShutdownList
	alloc  alloclist.Allocator

	// queues and names are indexed by column; spares follow the members.
	queues []*diskqueue.Queue
	names  []string

	locks stripeLocks

	// inflight counts accesses that passed the shutdown check.
	inflight sync.WaitGroup

	// labelMu serializes label updates.
	labelMu sync.Mutex

	mu sync.RWMutex
	// +checklocks:mu
	status []ComponentStatus
	// +checklocks:mu
	spareOf map[int]int
	// +checklocks:mu
	recon *reconState
	// +checklocks:mu
	serial uint64
	// +checklocks:mu
	modCounter uint64
	// +checklocks:mu
	parityDirty bool
	// +checklocks:mu
	failed bool
	// +checklocks:mu
	shutdown bool
}

var _ StripeIO = (*Array)(nil)

// Configure assembles an array from its member components and hot spares.
// Components must be listed in column order. Labels on the components are
// checked against cfg; blank components form a new array. The array owns
// the disks from then on and closes them on Shutdown.
func Configure(ctx context.Context, cfg *Config, disks, spares []diskqueue.Disk) (*Array, error) {
	cfg = deepcopy.Copy(cfg).(*Config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pc, _ := cfg.ParityConfig()

	sectorsPerDisk := uint64(0)
	for i, d := range append(append([]diskqueue.Disk(nil), disks...), spares...) {
		if d.SectorSize() != cfg.SectorSize {
			return nil, fmt.Errorf("%w: component %s has %d byte sectors, want %d", ErrBadConfig, d.Name(), d.SectorSize(), cfg.SectorSize)
		}
		if d.NumSectors() <= ProtectedSectors {
			return nil, fmt.Errorf("%w: component %s is too small", ErrBadConfig, d.Name())
		}
		if n := d.NumSectors() - ProtectedSectors; i < len(disks) && (sectorsPerDisk == 0 || n < sectorsPerDisk) {
			sectorsPerDisk = n
		}
	}

	a := &Array{
		cfg:     cfg,
		alloc:   alloclist.DefaultAllocator,
		spareOf: make(map[int]int),
	}
	cu := cleanup.Make(func() {
		if err := a.sl.Run(); err != nil {
			log.Warningf("Rolling back array configuration: %v", err)
		}
	})
	defer cu.Clean()

	opts := cfg.queueOpts()
	for _, d := range append(append([]diskqueue.Disk(nil), disks...), spares...) {
		q := diskqueue.NewQueue(d, opts)
		a.queues = append(a.queues, q)
		a.names = append(a.names, d.Name())
		a.sl.Add("close component "+d.Name(), q.Close)
	}
	a.status = make([]ComponentStatus, len(a.queues))
	for i := len(disks); i < len(a.status); i++ {
		a.status[i] = StatusSpare
	}

	layout, err := ConfigureLayout(&a.sl, &LayoutConfig{
		ParityConfig:         pc,
		NumCol:               len(disks),
		SectorsPerStripeUnit: cfg.SectorsPerStripeUnit,
		SectorSize:           cfg.SectorSize,
		SectorsPerDisk:       sectorsPerDisk,
	}, a)
	if err != nil {
		return nil, err
	}
	a.layout = layout
	a.geo = layout.Geometry()

	need := a.geo.StripeUnitsPerDisk * a.geo.SectorsPerStripeUnit
	for _, d := range spares {
		if d.NumSectors()-ProtectedSectors < need {
			return nil, fmt.Errorf("%w: spare %s holds fewer than %d data sectors", ErrBadConfig, d.Name(), need)
		}
	}

	if err := a.loadLabels(ctx); err != nil {
		return nil, err
	}
	// Labels stay unclean while the array is in use.
	if err := a.writeLabels(ctx, false); err != nil {
		return nil, err
	}
	a.sl.Add("write clean component labels", func() error {
		return a.writeLabels(context.Background(), true)
	})
	cu.Release()

	log.Infof("Configured %s array %#x: %d components, %d spares, %d sectors", layout.Name(), a.serial, len(disks), len(spares), a.geo.TotalSectors)
	return a, nil
}

// loadLabels derives the component states from their labels.
func (a *Array) loadLabels(ctx context.Context) error {
	numCol := a.geo.NumCol
	labels := make([]*ComponentLabel, len(a.queues))
	var ref *ComponentLabel
	for i, q := range a.queues {
		l, err := readLabel(ctx, q)
		switch {
		case errors.Is(err, errNoLabel), errors.Is(err, errBadLabel):
			if errors.Is(err, errBadLabel) {
				log.Warningf("Component %s: %v", a.names[i], err)
			}
			continue
		case err != nil:
			log.Warningf("Component %s: reading label: %v", a.names[i], err)
			a.status[i] = StatusFailed
			continue
		}
		labels[i] = l
		if ref == nil || l.ModCounter > ref.ModCounter {
			ref = l
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if ref == nil {
		a.serial = a.cfg.SerialNumber
		if a.serial == 0 {
			a.serial = uint64(time.Now().UnixNano())
		}
		log.Infof("Initializing new array %#x", a.serial)
		return nil
	}

	pc, _ := a.cfg.ParityConfig()
	if ref.NumCol != numCol || ref.SectorSize != a.cfg.SectorSize || ref.SectorsPerStripeUnit != a.cfg.SectorsPerStripeUnit || ref.ParityConfig != pc {
		return fmt.Errorf("%w: labels describe a %d component RAID%c array with %d sector stripe units of %d bytes", ErrBadConfig, ref.NumCol, ref.ParityConfig, ref.SectorsPerStripeUnit, ref.SectorSize)
	}
	a.serial = ref.SerialNumber
	a.modCounter = ref.ModCounter

	for col := 0; col < numCol; col++ {
		l := labels[col]
		switch {
		case a.status[col] == StatusFailed:
		case l == nil:
			log.Warningf("Component %d (%s) has no label, marking failed", col, a.names[col])
			a.status[col] = StatusFailed
		case l.SerialNumber != a.serial:
			return fmt.Errorf("%w: component %s belongs to array %#x, not %#x", ErrBadConfig, a.names[col], l.SerialNumber, a.serial)
		case l.Col != col:
			return fmt.Errorf("%w: component %s is labelled as column %d, configured as %d", ErrBadConfig, a.names[col], l.Col, col)
		case l.Status == StatusFailed || l.ModCounter < a.modCounter:
			log.Warningf("Component %d (%s) is stale (mod counter %d < %d), marking failed", col, a.names[col], l.ModCounter, a.modCounter)
			a.status[col] = StatusFailed
		default:
			if !l.Clean {
				a.parityDirty = true
			}
		}
	}
	for i := numCol; i < len(a.queues); i++ {
		l := labels[i]
		if a.status[i] == StatusFailed || l == nil || l.SerialNumber != a.serial || l.Status != StatusUsedSpare || l.ModCounter != a.modCounter {
			continue
		}
		if l.Col < 0 || l.Col >= numCol || a.status[l.Col] != StatusFailed {
			continue
		}
		log.Infof("Spare %s stands in for component %d", a.names[i], l.Col)
		a.status[l.Col] = StatusSpared
		a.spareOf[l.Col] = i
		a.status[i] = StatusUsedSpare
		if !l.Clean {
			a.parityDirty = true
		}
	}
	if a.parityDirty {
		log.Warningf("Array %#x was not shut down cleanly, parity must be rewritten", a.serial)
	}
	a.updateFailedLocked()
	return nil
}

// writeLabels writes the current state to every usable component.
func (a *Array) writeLabels(ctx context.Context, clean bool) error {
	a.labelMu.Lock()
	defer a.labelMu.Unlock()

	a.mu.Lock()
	a.modCounter++
	base := ComponentLabel{
		SerialNumber:         a.serial,
		ModCounter:           a.modCounter,
		NumCol:               a.geo.NumCol,
		SectorSize:           a.geo.SectorSize,
		SectorsPerStripeUnit: a.geo.SectorsPerStripeUnit,
		SectorsPerDisk:       a.geo.StripeUnitsPerDisk * a.geo.SectorsPerStripeUnit,
		ParityConfig:         a.layout.ParityConfig(),
		Clean:                clean && !a.parityDirty,
	}
	labels := make([]*ComponentLabel, len(a.queues))
	for i, st := range a.status {
		if st == StatusFailed || st == StatusSpared || st == StatusReconstructing {
			continue
		}
		l := base
		l.Col = i
		l.Status = st
		labels[i] = &l
	}
	for col, spare := range a.spareOf {
		labels[spare].Col = col
	}
	a.mu.Unlock()

	var errs []error
	for i, l := range labels {
		if l == nil {
			continue
		}
		if err := writeLabel(ctx, a.queues[i], l); err != nil {
			errs = append(errs, fmt.Errorf("component %s: %w", a.names[i], err))
		}
	}
	return errors.Join(errs...)
}

// Layout returns the array layout.
func (a *Array) Layout() RaidLayout {
	return a.layout
}

// Geometry returns the array geometry.
func (a *Array) Geometry() *Geometry {
	return a.geo
}

// Lookup implements Components.Lookup.
func (a *Array) Lookup(col int, psid ParityStripeID) (int, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lookupLocked(col, psid)
}

// Preconditions: a.mu is locked.
func (a *Array) lookupLocked(col int, psid ParityStripeID) (int, bool) {
	switch a.status[col] {
	case StatusFailed:
		return col, false
	case StatusReconstructing:
		rs := a.recon
		if !rs.spareFailed && rs.rebuilt.IsSet(uint64(psid)) {
			return rs.spare, true
		}
		return col, false
	case StatusSpared:
		return a.spareOf[col], true
	default:
		return col, true
	}
}

// Submit implements StripeIO.Submit.
func (a *Array) Submit(ctx context.Context, op diskqueue.Op, col int, sector SectorNum, buf []byte, prio diskqueue.Priority) error {
	return a.queues[col].Submit(ctx, op, uint64(sector)+ProtectedSectors, buf, prio)
}

// MapAccess maps an access against the current component states.
func (a *Array) MapAccess(addr RaidAddr, nsect uint64, remap bool) ([]*AccessStripeMap, error) {
	return MapAccess(a.layout, a, addr, nsect, remap)
}

// Read reads len(buf) bytes at addr.
func (a *Array) Read(ctx context.Context, addr RaidAddr, buf []byte) error {
	return a.access(ctx, IORead, addr, buf)
}

// Write writes buf at addr.
func (a *Array) Write(ctx context.Context, addr RaidAddr, buf []byte) error {
	return a.access(ctx, IOWrite, addr, buf)
}

func (a *Array) begin() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.shutdown {
		return ErrShutdown
	}
	a.inflight.Add(1)
	return nil
}

func (a *Array) access(ctx context.Context, op IOType, addr RaidAddr, buf []byte) error {
	ss := uint64(a.geo.SectorSize)
	nsect := uint64(len(buf)) / ss
	if len(buf) == 0 || uint64(len(buf))%ss != 0 {
		return fmt.Errorf("%w: %d byte buffer is not a whole number of %d byte sectors", ErrAccessRange, len(buf), ss)
	}
	if end := uint64(addr) + nsect; end < uint64(addr) || end > a.geo.TotalSectors {
		return fmt.Errorf("%w: sectors [%d, %d) in array of %d", ErrAccessRange, addr, end, a.geo.TotalSectors)
	}
	if err := a.begin(); err != nil {
		return err
	}
	defer a.inflight.Done()
	accessesMetric.Increment(op.String())

	for done := uint64(0); done < nsect; {
		cur := addr + RaidAddr(done)
		stop := min(addr+RaidAddr(nsect), a.geo.StripeStart(a.geo.StripeID(cur)+1))
		n := uint64(stop - cur)
		if err := a.accessStripe(ctx, op, cur, buf[done*ss:(done+n)*ss]); err != nil {
			return err
		}
		done += n
	}
	return nil
}

// accessStripe services an access within one stripe. A component failure
// on the first attempt fails the component and retries once in degraded
// mode.
func (a *Array) accessStripe(ctx context.Context, op IOType, addr RaidAddr, buf []byte) error {
	psid, _ := a.layout.MapSIDToPSID(a.geo.StripeID(addr))
	unlock := a.locks.lock(psid, op == IOWrite)
	defer unlock()

	for attempt := 0; ; attempt++ {
		err := a.doStripe(ctx, op, addr, buf)
		var de *DiskError
		if err == nil || !errors.As(err, &de) || ctx.Err() != nil || errors.Is(err, diskqueue.ErrClosed) {
			return err
		}
		log.Warningf("Component %d failed during %v of parity stripe %d: %v", de.Col, op, psid, de.Err)
		if !a.failPhysical(de.Col) || attempt > 0 {
			return err
		}
		log.Infof("Retrying %v of parity stripe %d in degraded mode", op, psid)
	}
}

func (a *Array) doStripe(ctx context.Context, op IOType, addr RaidAddr, buf []byte) error {
	asms, err := a.MapAccess(addr, uint64(len(buf)/a.geo.SectorSize), true)
	if err != nil {
		return err
	}
	asm := asms[0]
	t, err := a.layout.SelectDAG(op, asm)
	if err != nil {
		return err
	}
	dagsMetric.Increment(t.String())
	if asm.NumFailedInStripe > 0 {
		degradedAccessesMetric.Increment()
	}

	list := alloclist.New(false, a.alloc)
	defer list.Free()
	dag, err := BuildDAG(a.geo, t, asm, buf, list)
	if err != nil {
		return err
	}
	scratch := list.Size()
	dagBufferBytesMetric.IncrementBy(uint64(scratch))
	if log.IsLogging(log.Debug) {
		log.Debugf("Stripe %d %v [%d, %d): %v, %d scratch bytes", asm.StripeID, op, asm.RaidAddress, asm.EndRaidAddress, dag, scratch)
	}
	return dag.Execute(ctx, a, diskqueue.Normal)
}

// FailDisk marks member col failed. Failing a member that stands on a spare
// fails the spare.
func (a *Array) FailDisk(col int) error {
	if col < 0 || col >= a.geo.NumCol {
		return fmt.Errorf("%w: no component %d", ErrBadConfig, col)
	}
	a.mu.RLock()
	phys := col
	switch a.status[col] {
	case StatusFailed, StatusReconstructing:
		a.mu.RUnlock()
		return nil
	case StatusSpared:
		phys = a.spareOf[col]
	}
	a.mu.RUnlock()
	a.failPhysical(phys)
	return nil
}

// failPhysical marks column col, a member or a spare, failed and records
// the new state in the labels. It returns whether the array still has
// all its data.
func (a *Array) failPhysical(col int) bool {
	a.mu.Lock()
	if a.status[col] == StatusFailed {
		ok := !a.failed
		a.mu.Unlock()
		return ok
	}
	if col < a.geo.NumCol {
		if a.status[col] != StatusReconstructing && a.recon != nil {
			a.recon.doubleFailure = true
		}
		a.status[col] = StatusFailed
	} else {
		if a.recon != nil && a.recon.spare == col {
			a.recon.spareFailed = true
		}
		for member, spare := range a.spareOf {
			if spare == col {
				delete(a.spareOf, member)
				a.status[member] = StatusFailed
			}
		}
		a.status[col] = StatusFailed
	}
	a.updateFailedLocked()
	ok := !a.failed
	a.mu.Unlock()

	componentFailuresMetric.Increment()
	log.Warningf("Component %d (%s) failed", col, a.names[col])
	if err := a.writeLabels(context.Background(), false); err != nil {
		log.Warningf("Updating labels after failure of component %d: %v", col, err)
	}
	return ok
}

// Preconditions: a.mu is locked.
func (a *Array) updateFailedLocked() {
	n := 0
	for col := 0; col < a.geo.NumCol; col++ {
		if st := a.status[col]; st == StatusFailed || st == StatusReconstructing {
			n++
		}
	}
	if n > a.layout.FaultsTolerated() && !a.failed {
		log.Warningf("Array %#x has %d failed components and has lost data", a.serial, n)
		a.failed = true
	}
}

// Status returns a snapshot of the array state.
func (a *Array) Status() Status {
	st, rebuilt := a.snapshot()
	if st.Recon != nil {
		st.Recon.Rebuilt = rebuilt.NumOnes()
		st.Recon.Total = rebuilt.Size()
		st.Recon.Next = rebuilt.FirstZero(0)
		if st.Recon.Next == bitmap.NotFound {
			st.Recon.Next = st.Recon.Total
		}
	}
	return st
}

// snapshot copies the array state, including the recon map of a running
// reconstruction.
func (a *Array) snapshot() (Status, bitmap.Bitmap) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	st := Status{
		Level:        a.layout.Name(),
		SerialNumber: a.serial,
		ModCounter:   a.modCounter,
		Geometry:     *a.geo,
		Failed:       a.failed,
		ParityDirty:  a.parityDirty,
	}
	for i, s := range a.status {
		info := ComponentInfo{Col: i, Name: a.names[i], Status: s}
		if spare, ok := a.spareOf[i]; ok {
			info.Spare = &spare
		}
		if i < a.geo.NumCol {
			st.Components = append(st.Components, info)
		} else {
			st.Spares = append(st.Spares, info)
		}
	}
	var rebuilt bitmap.Bitmap
	if rs := a.recon; rs != nil {
		st.Recon = &ReconProgress{Col: rs.col, Spare: rs.spare}
		rebuilt = rs.rebuilt.Clone()
	}
	return st, rebuilt
}

// CheckParity verifies the parity of every stripe and returns the number
// of stripes with bad parity. Stripes with an unavailable member are
// skipped.
func (a *Array) CheckParity(ctx context.Context) (int, error) {
	bad, skipped, err := a.scanParity(ctx, false)
	if err == nil && bad == 0 && skipped == 0 {
		a.mu.Lock()
		a.parityDirty = false
		a.mu.Unlock()
	}
	return bad, err
}

// RewriteParity rewrites bad parity and returns the number of stripes
// corrected. Parity is marked clean if every stripe could be checked.
func (a *Array) RewriteParity(ctx context.Context) (int, error) {
	corrected, skipped, err := a.scanParity(ctx, true)
	if err != nil {
		return corrected, err
	}
	if skipped == 0 {
		a.mu.Lock()
		a.parityDirty = false
		a.mu.Unlock()
		if err := a.writeLabels(ctx, false); err != nil {
			return corrected, err
		}
	}
	return corrected, nil
}

func (a *Array) scanParity(ctx context.Context, correct bool) (int, int, error) {
	if err := a.begin(); err != nil {
		return 0, 0, err
	}
	defer a.inflight.Done()

	progress := log.BasicRateLimitedLogger(5 * time.Second)
	total := a.geo.NumStripes()
	count, skipped := 0, 0
	for sid := uint64(0); sid < total; sid++ {
		if err := ctx.Err(); err != nil {
			return count, skipped, err
		}
		psid, _ := a.layout.MapSIDToPSID(StripeNum(sid))
		unlock := a.locks.lock(psid, correct)
		st, err := a.layout.VerifyParity(ctx, a, a.geo.StripeStart(StripeNum(sid)), correct)
		unlock()
		switch st {
		case ParityBad:
			parityMismatchesMetric.Increment()
			count++
		case ParityCorrected:
			parityMismatchesMetric.Increment()
			count++
		case ParityCouldNotVerify:
			skipped++
		}
		if err != nil {
			return count, skipped, fmt.Errorf("parity stripe %d: %v: %w", psid, st, err)
		}
		progress.Infof("Parity scan: %d/%d stripes, %d mismatched, %d skipped", sid+1, total, count, skipped)
	}
	log.Infof("Parity scan of array %#x done: %d mismatched, %d skipped", a.serial, count, skipped)
	return count, skipped, nil
}

// Shutdown stops reconstruction, waits for accesses in flight, writes
// clean labels and closes the components.
func (a *Array) Shutdown() error {
	a.mu.Lock()
	if a.shutdown {
		a.mu.Unlock()
		return nil
	}
	a.shutdown = true
	rs := a.recon
	a.mu.Unlock()

	if rs != nil {
		rs.cancel()
		<-rs.done
	}
	a.inflight.Wait()
	err := a.sl.Run()
	log.Infof("Array %#x shut down", a.serial)
	return err
}
