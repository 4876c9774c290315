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
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const testSectorSize = 512

// recordingDisk records the order in which requests reach the disk and
// holds the first one until released.
type recordingDisk struct {
	*MemDisk

	gate     chan struct{}
	gateOnce sync.Once
	started  chan struct{}

	mu      sync.Mutex
	sectors []uint64
}

func newRecordingDisk() *recordingDisk {
	return &recordingDisk{
		MemDisk: NewMemDisk("rec", testSectorSize, 128),
		gate:    make(chan struct{}),
		started: make(chan struct{}),
	}
}

func (d *recordingDisk) record(sector uint64) {
	first := false
	d.gateOnce.Do(func() { first = true })
	if first {
		close(d.started)
		<-d.gate
	}
	d.mu.Lock()
	d.sectors = append(d.sectors, sector)
	d.mu.Unlock()
}

func (d *recordingDisk) ReadSectors(ctx context.Context, sector uint64, buf []byte) error {
	d.record(sector)
	return d.MemDisk.ReadSectors(ctx, sector, buf)
}

func (d *recordingDisk) WriteSectors(ctx context.Context, sector uint64, buf []byte) error {
	d.record(sector)
	return d.MemDisk.WriteSectors(ctx, sector, buf)
}

func waitPending(t *testing.T, q *Queue, n int) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		q.mu.Lock()
		got := q.numPending
		q.mu.Unlock()
		if got == n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d pending requests", n)
}

type submission struct {
	sector uint64
	prio   Priority
}

// runOrdered blocks the queue on a request at sector first, queues subs in
// order and returns the order in which the disk saw them.
func runOrdered(t *testing.T, d Discipline, first uint64, subs []submission) []uint64 {
	t.Helper()
	disk := newRecordingDisk()
	q := NewQueue(disk, Opts{Discipline: d})
	defer q.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := q.Read(context.Background(), first, make([]byte, testSectorSize), Normal); err != nil {
			t.Errorf("Read(%d): %v", first, err)
		}
	}()
	<-disk.started
	for i, s := range subs {
		wg.Add(1)
		go func(s submission) {
			defer wg.Done()
			if err := q.Read(context.Background(), s.sector, make([]byte, testSectorSize), s.prio); err != nil {
				t.Errorf("Read(%d): %v", s.sector, err)
			}
		}(s)
		waitPending(t, q, i+1)
	}
	close(disk.gate)
	wg.Wait()

	disk.mu.Lock()
	defer disk.mu.Unlock()
	return append([]uint64(nil), disk.sectors[1:]...)
}

func TestQueueOrder(t *testing.T) {
	for _, tc := range []struct {
		name       string
		discipline Discipline
		subs       []submission
		want       []uint64
	}{
		{
			name:       "fifo",
			discipline: FIFO,
			subs:       []submission{{30, Normal}, {10, Normal}, {70, Normal}, {60, Normal}},
			want:       []uint64{30, 10, 70, 60},
		},
		{
			name:       "cvscan",
			discipline: CVSCAN,
			subs:       []submission{{30, Normal}, {10, Normal}, {70, Normal}, {60, Normal}},
			want:       []uint64{60, 70, 10, 30},
		},
		{
			name:       "fifo priority",
			discipline: FIFO,
			subs:       []submission{{1, Low}, {2, Normal}, {3, Low}, {4, Normal}},
			want:       []uint64{2, 4, 1, 3},
		},
		{
			name:       "cvscan priority",
			discipline: CVSCAN,
			subs:       []submission{{90, Low}, {20, Normal}, {80, Normal}, {60, Low}},
			want:       []uint64{80, 20, 60, 90},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := runOrdered(t, tc.discipline, 50, tc.subs)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("service order mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestQueueReadWrite(t *testing.T) {
	q := NewQueue(NewMemDisk("mem", testSectorSize, 16), Opts{MaxOutstanding: 4})
	defer q.Close()

	ctx := context.Background()
	want := bytes.Repeat([]byte{0xab}, 2*testSectorSize)
	if err := q.Write(ctx, 3, want, Normal); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got := make([]byte, len(want))
	if err := q.Read(ctx, 3, got, Low); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Read returned different data than written")
	}
	if err := q.Read(ctx, 15, got, Normal); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Read past end: got %v, want %v", err, ErrOutOfRange)
	}
	st := q.Stats()
	if st.Reads != 1 || st.Writes != 1 || st.Errors != 1 {
		t.Errorf("Stats() = %+v, want 1 read, 1 write, 1 error", st)
	}
}

func TestQueueRetry(t *testing.T) {
	for _, tc := range []struct {
		name        string
		transient   int
		fail        bool
		retries     uint64
		wantErr     func(error) bool
		wantRetries uint64
	}{
		{
			name:        "recovers",
			transient:   2,
			retries:     3,
			wantErr:     func(err error) bool { return err == nil },
			wantRetries: 2,
		},
		{
			name:        "gives up",
			transient:   5,
			retries:     1,
			wantErr:     IsTransient,
			wantRetries: 1,
		},
		{
			name:        "permanent",
			fail:        true,
			retries:     3,
			wantErr:     func(err error) bool { return errors.Is(err, ErrDiskFailed) },
			wantRetries: 0,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			disk := NewMemDisk("mem", testSectorSize, 4)
			disk.InjectTransient(tc.transient)
			if tc.fail {
				disk.Fail()
			}
			q := NewQueue(disk, Opts{Retries: tc.retries, RetryInterval: time.Millisecond})
			defer q.Close()

			err := q.Read(context.Background(), 0, make([]byte, testSectorSize), Normal)
			if !tc.wantErr(err) {
				t.Errorf("Read: unexpected error %v", err)
			}
			if got := q.Stats().Retries; got != tc.wantRetries {
				t.Errorf("Retries = %d, want %d", got, tc.wantRetries)
			}
		})
	}
}

func TestQueueCancelled(t *testing.T) {
	q := NewQueue(NewMemDisk("mem", testSectorSize, 4), Opts{})
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := q.Read(ctx, 0, make([]byte, testSectorSize), Normal); !errors.Is(err, context.Canceled) {
		t.Errorf("Read with cancelled context: got %v, want %v", err, context.Canceled)
	}
}

func TestQueueClose(t *testing.T) {
	disk := NewMemDisk("mem", testSectorSize, 4)
	q := NewQueue(disk, Opts{MaxOutstanding: 2})
	if err := q.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := q.Read(context.Background(), 0, make([]byte, testSectorSize), Normal); !errors.Is(err, ErrClosed) {
		t.Errorf("Read after Close: got %v, want %v", err, ErrClosed)
	}
	if err := disk.Sync(); !errors.Is(err, ErrClosed) {
		t.Errorf("disk not closed by queue: Sync() = %v", err)
	}
}

func TestParseDiscipline(t *testing.T) {
	for _, d := range []Discipline{FIFO, CVSCAN} {
		got, err := ParseDiscipline(d.String())
		if err != nil || got != d {
			t.Errorf("ParseDiscipline(%q) = %v, %v", d.String(), got, err)
		}
	}
	if _, err := ParseDiscipline("sstf"); err == nil {
		t.Errorf("ParseDiscipline(sstf) succeeded")
	}
}
