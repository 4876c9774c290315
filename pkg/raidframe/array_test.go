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
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"raidframe.dev/raidframe/pkg/diskqueue"
)

const testDataSectors = 128

func newMemDisks(prefix string, n int) []*diskqueue.MemDisk {
	var ds []*diskqueue.MemDisk
	for i := 0; i < n; i++ {
		ds = append(ds, diskqueue.NewMemDisk(prefix+string(rune('a'+i)), 512, ProtectedSectors+testDataSectors))
	}
	return ds
}

func asDisks(ms []*diskqueue.MemDisk) []diskqueue.Disk {
	ds := make([]diskqueue.Disk, len(ms))
	for i, m := range ms {
		ds[i] = m
	}
	return ds
}

func reopen(ms []*diskqueue.MemDisk) {
	for _, m := range ms {
		m.Reopen()
	}
}

func testConfig(level string) *Config {
	cfg := DefaultConfig()
	cfg.Level = level
	cfg.SectorsPerStripeUnit = 8
	cfg.SerialNumber = 0x5eed
	cfg.Queue.RetryInterval = time.Millisecond
	return cfg
}

func mustConfigure(t *testing.T, cfg *Config, disks, spares []diskqueue.Disk) *Array {
	t.Helper()
	a, err := Configure(context.Background(), cfg, disks, spares)
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	t.Cleanup(func() { a.Shutdown() })
	return a
}

// fill writes random data over the whole array in uneven chunks and
// returns what was written.
func fill(t *testing.T, a *Array, seed int64) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	data := make([]byte, a.Geometry().TotalSectors*512)
	rng.Read(data)
	for off := uint64(0); off < a.Geometry().TotalSectors; {
		n := min(uint64(rng.Intn(40)+1), a.Geometry().TotalSectors-off)
		if err := a.Write(context.Background(), RaidAddr(off), data[off*512:(off+n)*512]); err != nil {
			t.Fatalf("Write(%d, %d sectors): %v", off, n, err)
		}
		off += n
	}
	return data
}

func checkContents(t *testing.T, a *Array, want []byte) {
	t.Helper()
	got := make([]byte, len(want))
	for off := uint64(0); off < a.Geometry().TotalSectors; off += 13 {
		n := min(13, a.Geometry().TotalSectors-off)
		if err := a.Read(context.Background(), RaidAddr(off), got[off*512:(off+n)*512]); err != nil {
			t.Fatalf("Read(%d, %d sectors): %v", off, n, err)
		}
	}
	if !bytes.Equal(got, want) {
		for s := 0; s < len(want)/512; s++ {
			if !bytes.Equal(got[s*512:(s+1)*512], want[s*512:(s+1)*512]) {
				t.Fatalf("array contents differ, first at sector %d", s)
			}
		}
	}
}

func checkParityClean(t *testing.T, a *Array) {
	t.Helper()
	bad, err := a.CheckParity(context.Background())
	if err != nil || bad != 0 {
		t.Errorf("CheckParity: %d bad stripes, %v", bad, err)
	}
}

func TestArrayReadWrite(t *testing.T) {
	for _, tc := range []struct {
		level   string
		numCol  int
		sectors uint64
	}{
		{"raid0", 3, 3 * testDataSectors},
		{"4", 4, 3 * testDataSectors},
		{"RAID5", 5, 4 * testDataSectors},
	} {
		t.Run(tc.level, func(t *testing.T) {
			a := mustConfigure(t, testConfig(tc.level), asDisks(newMemDisks("d", tc.numCol)), nil)
			if got := a.Geometry().TotalSectors; got != tc.sectors {
				t.Fatalf("TotalSectors = %d, want %d", got, tc.sectors)
			}
			data := fill(t, a, 1)
			checkContents(t, a, data)
			checkParityClean(t, a)
			if n := a.locks.numHeld(); n != 0 {
				t.Errorf("%d stripe locks held after I/O", n)
			}
		})
	}
}

func TestArrayConcurrentWriters(t *testing.T) {
	a := mustConfigure(t, testConfig("5"), asDisks(newMemDisks("d", 4)), nil)
	const writers = 8
	total := a.Geometry().TotalSectors
	want := make([]byte, total*512)
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Writer w owns sectors congruent to w modulo writers.
			rng := rand.New(rand.NewSource(int64(w)))
			for s := uint64(w); s < total; s += writers {
				buf := want[s*512 : (s+1)*512]
				rng.Read(buf)
				if err := a.Write(context.Background(), RaidAddr(s), buf); err != nil {
					t.Errorf("Write(%d): %v", s, err)
					return
				}
			}
		}()
	}
	wg.Wait()
	checkContents(t, a, want)
	checkParityClean(t, a)
}

func TestArrayAccessRange(t *testing.T) {
	a := mustConfigure(t, testConfig("5"), asDisks(newMemDisks("d", 3)), nil)
	total := RaidAddr(a.Geometry().TotalSectors)
	for _, tc := range []struct {
		name string
		addr RaidAddr
		size int
	}{
		{"empty", 0, 0},
		{"partial sector", 0, 100},
		{"past end", total - 1, 1024},
		{"at end", total, 512},
	} {
		if err := a.Read(context.Background(), tc.addr, make([]byte, tc.size)); !errors.Is(err, ErrAccessRange) {
			t.Errorf("%s: Read got %v, want %v", tc.name, err, ErrAccessRange)
		}
	}
}

func TestArrayDegraded(t *testing.T) {
	a := mustConfigure(t, testConfig("5"), asDisks(newMemDisks("d", 4)), nil)
	data := fill(t, a, 2)

	if err := a.FailDisk(1); err != nil {
		t.Fatalf("FailDisk: %v", err)
	}
	if err := a.FailDisk(1); err != nil {
		t.Fatalf("second FailDisk: %v", err)
	}
	checkContents(t, a, data)

	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 30; i++ {
		addr := uint64(rng.Intn(int(a.Geometry().TotalSectors)))
		n := min(uint64(rng.Intn(30)+1), a.Geometry().TotalSectors-addr)
		buf := data[addr*512 : (addr+n)*512]
		rng.Read(buf)
		if err := a.Write(context.Background(), RaidAddr(addr), buf); err != nil {
			t.Fatalf("degraded Write(%d, %d): %v", addr, n, err)
		}
	}
	checkContents(t, a, data)
	if st := a.Status(); st.Failed || st.Components[1].Status != StatusFailed {
		t.Errorf("Status after one failure: failed %v, component 1 %v", st.Failed, st.Components[1].Status)
	}

	if err := a.FailDisk(2); err != nil {
		t.Fatalf("FailDisk: %v", err)
	}
	if !a.Status().Failed {
		t.Errorf("array with two failures is not marked failed")
	}
	if err := a.Read(context.Background(), 0, make([]byte, 512)); !errors.Is(err, ErrTooManyFailures) {
		t.Errorf("Read with two failures: got %v, want %v", err, ErrTooManyFailures)
	}
	if err := a.FailDisk(4); !errors.Is(err, ErrBadConfig) {
		t.Errorf("FailDisk(4): got %v, want %v", err, ErrBadConfig)
	}
}

func TestArrayRAID0Failure(t *testing.T) {
	a := mustConfigure(t, testConfig("0"), asDisks(newMemDisks("d", 3)), nil)
	if err := a.FailDisk(1); err != nil {
		t.Fatalf("FailDisk: %v", err)
	}
	if !a.Status().Failed {
		t.Errorf("RAID0 array with a failed component is not marked failed")
	}
	// The first stripe unit lives on component 0.
	if err := a.Read(context.Background(), 0, make([]byte, 8*512)); err != nil {
		t.Errorf("Read of surviving unit: %v", err)
	}
	if err := a.Read(context.Background(), 0, make([]byte, 16*512)); !errors.Is(err, ErrTooManyFailures) {
		t.Errorf("Read of failed unit: got %v, want %v", err, ErrTooManyFailures)
	}
	if err := a.Reconstruct(context.Background(), 1); !errors.Is(err, ErrTooManyFailures) {
		t.Errorf("Reconstruct: got %v, want %v", err, ErrTooManyFailures)
	}
}

func TestArrayDiskErrors(t *testing.T) {
	disks := newMemDisks("d", 4)
	a := mustConfigure(t, testConfig("5"), asDisks(disks), nil)
	data := fill(t, a, 4)

	// Transient errors are retried by the component queue.
	disks[0].InjectTransient(2)
	checkContents(t, a, data)
	if st := a.Status().Components[0].Status; st != StatusOptimal {
		t.Errorf("component 0 after transient errors is %v", st)
	}

	disks[3].Fail()
	buf := data[:a.Geometry().DataSectorsPerStripe*512]
	rand.New(rand.NewSource(5)).Read(buf)
	if err := a.Write(context.Background(), 0, buf); err != nil {
		t.Fatalf("Write with a dead component: %v", err)
	}
	st := a.Status()
	if st.Components[3].Status != StatusFailed || st.Failed {
		t.Errorf("after I/O error: component 3 %v, array failed %v", st.Components[3].Status, st.Failed)
	}
	checkContents(t, a, data)
}

func TestArrayParityRepair(t *testing.T) {
	disks := newMemDisks("d", 4)
	a := mustConfigure(t, testConfig("4"), asDisks(disks), nil)
	fill(t, a, 6)

	disks[0].Corrupt(ProtectedSectors + 3)
	disks[3].Corrupt(ProtectedSectors + 8*5)
	ctx := context.Background()
	if bad, err := a.CheckParity(ctx); err != nil || bad != 2 {
		t.Errorf("CheckParity: got %d, %v, want 2 bad stripes", bad, err)
	}
	if fixed, err := a.RewriteParity(ctx); err != nil || fixed != 2 {
		t.Errorf("RewriteParity: got %d, %v, want 2 corrected", fixed, err)
	}
	checkParityClean(t, a)
}

func TestArrayReconstruct(t *testing.T) {
	disks := newMemDisks("d", 4)
	spares := newMemDisks("s", 1)
	a := mustConfigure(t, testConfig("5"), asDisks(disks), asDisks(spares))
	data := fill(t, a, 7)
	ctx := context.Background()

	if err := a.Reconstruct(ctx, 2); err == nil {
		t.Errorf("Reconstruct of a healthy component succeeded")
	}
	disks[2].Fail()
	if err := a.FailDisk(2); err != nil {
		t.Fatalf("FailDisk: %v", err)
	}
	if err := a.Reconstruct(ctx, 2); err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}

	st := a.Status()
	four := 4
	want := []ComponentInfo{
		{Col: 0, Name: "da", Status: StatusOptimal},
		{Col: 1, Name: "db", Status: StatusOptimal},
		{Col: 2, Name: "dc", Status: StatusSpared, Spare: &four},
		{Col: 3, Name: "dd", Status: StatusOptimal},
	}
	if diff := cmp.Diff(want, st.Components); diff != "" {
		t.Errorf("components after reconstruction (-want +got):\n%s", diff)
	}
	if st.Spares[0].Status != StatusUsedSpare || st.Recon != nil {
		t.Errorf("spare %v, recon %+v", st.Spares[0].Status, st.Recon)
	}
	checkContents(t, a, data)
	checkParityClean(t, a)

	// Writes now land on the spare.
	fill(t, a, 8)
	if err := a.FailDisk(0); err != nil {
		t.Fatalf("FailDisk: %v", err)
	}
	if err := a.Reconstruct(ctx, 0); !errors.Is(err, ErrNoSpare) {
		t.Errorf("Reconstruct without spares: got %v, want %v", err, ErrNoSpare)
	}
}

func TestArrayReconstructUnderLoad(t *testing.T) {
	cfg := testConfig("5")
	cfg.Recon.FloatingBuffers = 2
	cfg.Recon.HeadSepLimit = 1
	disks := newMemDisks("d", 4)
	a := mustConfigure(t, cfg, asDisks(disks), asDisks(newMemDisks("s", 1)))
	data := fill(t, a, 9)
	if err := a.FailDisk(1); err != nil {
		t.Fatalf("FailDisk: %v", err)
	}

	ctx := context.Background()
	errc := make(chan error, 1)
	go func() { errc <- a.Reconstruct(ctx, 1) }()

	rng := rand.New(rand.NewSource(10))
	total := a.Geometry().TotalSectors
	for i := 0; i < 50; i++ {
		addr := uint64(rng.Intn(int(total)))
		n := min(uint64(rng.Intn(20)+1), total-addr)
		buf := data[addr*512 : (addr+n)*512]
		rng.Read(buf)
		if err := a.Write(ctx, RaidAddr(addr), buf); err != nil {
			t.Fatalf("Write during reconstruction: %v", err)
		}
	}
	if err := <-errc; err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	disks[1].Fail()
	checkContents(t, a, data)
	checkParityClean(t, a)
}

// gatedDisk blocks the n-th read after arm(n) until the gate opens.
type gatedDisk struct {
	*diskqueue.MemDisk
	reads atomic.Int32
	hit   chan struct{}
	gate  chan struct{}
}

func newGatedDisk(m *diskqueue.MemDisk) *gatedDisk {
	return &gatedDisk{MemDisk: m, hit: make(chan struct{}), gate: make(chan struct{})}
}

func (d *gatedDisk) arm(n int32) {
	d.reads.Store(n)
}

func (d *gatedDisk) ReadSectors(ctx context.Context, sector uint64, buf []byte) error {
	if d.reads.Add(-1) == 0 {
		close(d.hit)
		<-d.gate
	}
	return d.MemDisk.ReadSectors(ctx, sector, buf)
}

func TestArrayReconstructProgress(t *testing.T) {
	cfg := testConfig("5")
	cfg.Recon.FloatingBuffers = 1
	mems := newMemDisks("d", 4)
	gd := newGatedDisk(mems[0])
	disks := asDisks(mems)
	disks[0] = gd
	a := mustConfigure(t, cfg, disks, asDisks(newMemDisks("s", 1)))
	data := fill(t, a, 12)
	if err := a.FailDisk(2); err != nil {
		t.Fatalf("FailDisk: %v", err)
	}

	// Each rebuilt stripe reads component 0 once, so the fourth read
	// holds the rebuild at parity stripe 3.
	gd.arm(4)
	errc := make(chan error, 1)
	go func() { errc <- a.Reconstruct(context.Background(), 2) }()
	<-gd.hit

	st := a.Status()
	want := &ReconProgress{Col: 2, Spare: 4, Rebuilt: 3, Total: a.Geometry().NumStripes(), Next: 3}
	if diff := cmp.Diff(want, st.Recon); diff != "" {
		t.Errorf("progress mid-reconstruction (-want +got):\n%s", diff)
	}
	if got := st.Components[2].Status; got != StatusReconstructing {
		t.Errorf("component 2 is %v, want %v", got, StatusReconstructing)
	}

	close(gd.gate)
	if err := <-errc; err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if diff := cmp.Diff(want, st.Recon); diff != "" {
		t.Errorf("earlier snapshot changed (-want +got):\n%s", diff)
	}
	if after := a.Status(); after.Recon != nil || after.Components[2].Status != StatusSpared {
		t.Errorf("Status after reconstruction: recon %+v, component 2 %v", after.Recon, after.Components[2].Status)
	}
	mems[2].Fail()
	checkContents(t, a, data)
}

func TestArrayReconstructDoubleFailure(t *testing.T) {
	cfg := testConfig("5")
	cfg.Recon.FloatingBuffers = 1
	mems := newMemDisks("d", 4)
	gd := newGatedDisk(mems[0])
	disks := asDisks(mems)
	disks[0] = gd
	a := mustConfigure(t, cfg, disks, asDisks(newMemDisks("s", 1)))
	fill(t, a, 11)
	if err := a.FailDisk(1); err != nil {
		t.Fatalf("FailDisk: %v", err)
	}

	gd.arm(1)
	errc := make(chan error, 1)
	go func() { errc <- a.Reconstruct(context.Background(), 1) }()
	<-gd.hit

	failed := make(chan error, 1)
	go func() { failed <- a.FailDisk(3) }()
	for a.Status().Components[3].Status != StatusFailed {
		time.Sleep(time.Millisecond)
	}
	close(gd.gate)

	if err := <-errc; !errors.Is(err, ErrDoubleFailure) {
		t.Errorf("Reconstruct: got %v, want %v", err, ErrDoubleFailure)
	}
	if err := <-failed; err != nil {
		t.Errorf("FailDisk: %v", err)
	}
	st := a.Status()
	if !st.Failed || st.Components[1].Status != StatusFailed || st.Spares[0].Status != StatusSpare || st.Recon != nil {
		t.Errorf("Status after double failure: %+v", st)
	}
}

func TestArrayLabels(t *testing.T) {
	disks := newMemDisks("d", 4)
	spares := newMemDisks("s", 2)
	cfg := testConfig("5")
	ctx := context.Background()

	a, err := Configure(ctx, cfg, asDisks(disks), asDisks(spares))
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	data := fill(t, a, 12)
	if err := a.FailDisk(1); err != nil {
		t.Fatalf("FailDisk: %v", err)
	}
	if err := a.Reconstruct(ctx, 1); err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	before := a.Status()
	if err := a.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := a.Shutdown(); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
	if err := a.Read(ctx, 0, make([]byte, 512)); !errors.Is(err, ErrShutdown) {
		t.Errorf("Read after Shutdown: got %v, want %v", err, ErrShutdown)
	}

	t.Run("wrong level", func(t *testing.T) {
		reopen(disks)
		reopen(spares)
		if _, err := Configure(ctx, testConfig("4"), asDisks(disks), asDisks(spares)); !errors.Is(err, ErrBadConfig) {
			t.Errorf("Configure: got %v, want %v", err, ErrBadConfig)
		}
	})
	t.Run("wrong order", func(t *testing.T) {
		reopen(disks)
		reopen(spares)
		swapped := asDisks(disks)
		swapped[0], swapped[2] = swapped[2], swapped[0]
		if _, err := Configure(ctx, cfg, swapped, asDisks(spares)); !errors.Is(err, ErrBadConfig) {
			t.Errorf("Configure: got %v, want %v", err, ErrBadConfig)
		}
	})

	reopen(disks)
	reopen(spares)
	cfg.SerialNumber = 0
	b := mustConfigure(t, cfg, asDisks(disks), asDisks(spares))
	st := b.Status()
	if st.SerialNumber != before.SerialNumber || st.ModCounter <= before.ModCounter || st.ParityDirty {
		t.Errorf("reassembled array: serial %#x mod %d dirty %v, was serial %#x mod %d", st.SerialNumber, st.ModCounter, st.ParityDirty, before.SerialNumber, before.ModCounter)
	}
	opts := cmpopts.IgnoreFields(ComponentInfo{}, "Name")
	if diff := cmp.Diff(before.Components, st.Components, opts); diff != "" {
		t.Errorf("components after reassembly (-before +after):\n%s", diff)
	}
	if diff := cmp.Diff(before.Spares, st.Spares, opts); diff != "" {
		t.Errorf("spares after reassembly (-before +after):\n%s", diff)
	}
	checkContents(t, b, data)
}

func TestArrayUncleanShutdown(t *testing.T) {
	disks := newMemDisks("d", 3)
	ctx := context.Background()
	// The first array is abandoned without Shutdown, as after a crash.
	a, err := Configure(ctx, testConfig("5"), asDisks(disks), nil)
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	data := fill(t, a, 13)

	b := mustConfigure(t, testConfig("5"), asDisks(disks), nil)
	if !b.Status().ParityDirty {
		t.Fatalf("array reassembled after a crash has clean parity")
	}
	if fixed, err := b.RewriteParity(ctx); err != nil || fixed != 0 {
		t.Errorf("RewriteParity: got %d, %v", fixed, err)
	}
	if b.Status().ParityDirty {
		t.Errorf("parity still dirty after RewriteParity")
	}
	checkContents(t, b, data)
	if err := b.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	reopen(disks)
	c := mustConfigure(t, testConfig("5"), asDisks(disks), nil)
	if c.Status().ParityDirty {
		t.Errorf("parity dirty after a clean shutdown")
	}
}

func TestArrayStaleComponent(t *testing.T) {
	disks := newMemDisks("d", 4)
	a, err := Configure(context.Background(), testConfig("5"), asDisks(disks), nil)
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	data := fill(t, a, 14)
	if err := a.FailDisk(2); err != nil {
		t.Fatalf("FailDisk: %v", err)
	}
	if err := a.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	reopen(disks)
	b := mustConfigure(t, testConfig("5"), asDisks(disks), nil)
	if st := b.Status().Components[2].Status; st != StatusFailed {
		t.Errorf("stale component is %v, want %v", st, StatusFailed)
	}
	checkContents(t, b, data)
}

func TestConfigureErrors(t *testing.T) {
	for _, tc := range []struct {
		name  string
		level string
		disks []diskqueue.Disk
	}{
		{"too few columns", "5", asDisks(newMemDisks("d", 2))},
		{"bad level", "6", asDisks(newMemDisks("d", 3))},
		{"sector size", "5", []diskqueue.Disk{
			diskqueue.NewMemDisk("a", 512, 256),
			diskqueue.NewMemDisk("b", 512, 256),
			diskqueue.NewMemDisk("c", 4096, 256),
		}},
		{"too small", "0", []diskqueue.Disk{
			diskqueue.NewMemDisk("a", 512, ProtectedSectors),
			diskqueue.NewMemDisk("b", 512, 256),
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Configure(context.Background(), testConfig(tc.level), tc.disks, nil); !errors.Is(err, ErrBadConfig) {
				t.Errorf("Configure: got %v, want %v", err, ErrBadConfig)
			}
		})
	}
}
