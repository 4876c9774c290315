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
	"testing"

	"github.com/google/go-cmp/cmp"
	"raidframe.dev/raidframe/pkg/diskqueue"
)

func TestLabelOnDisk(t *testing.T) {
	d := diskqueue.NewMemDisk("d", 512, ProtectedSectors+8)
	q := diskqueue.NewQueue(d, diskqueue.Opts{})
	defer q.Close()
	ctx := context.Background()

	if _, err := readLabel(ctx, q); !errors.Is(err, errNoLabel) {
		t.Fatalf("readLabel of a blank disk: got %v, want %v", err, errNoLabel)
	}

	want := &ComponentLabel{
		SerialNumber:         0xfeedface,
		ModCounter:           17,
		Col:                  3,
		NumCol:               5,
		SectorSize:           512,
		SectorsPerStripeUnit: 32,
		SectorsPerDisk:       1 << 20,
		ParityConfig:         '5',
		Clean:                true,
		Status:               StatusUsedSpare,
	}
	if err := writeLabel(ctx, q, want); err != nil {
		t.Fatalf("writeLabel: %v", err)
	}
	got, err := readLabel(ctx, q)
	if err != nil {
		t.Fatalf("readLabel: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("label mismatch (-want +got):\n%s", diff)
	}
}

func TestLabelDamage(t *testing.T) {
	l := &ComponentLabel{SerialNumber: 1, ModCounter: 2, NumCol: 3, ParityConfig: '4'}
	good, err := l.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if len(good) != rawLabelSize {
		t.Errorf("encoded label is %d bytes, want %d", len(good), rawLabelSize)
	}

	for _, tc := range []struct {
		name   string
		mangle func(b []byte) []byte
		want   error
	}{
		{"truncated", func(b []byte) []byte { return b[:10] }, errNoLabel},
		{"magic", func(b []byte) []byte { b[0] ^= 1; return b }, errNoLabel},
		{"checksum", func(b []byte) []byte { b[20] ^= 1; return b }, errBadLabel},
	} {
		t.Run(tc.name, func(t *testing.T) {
			b := tc.mangle(append([]byte(nil), good...))
			var got ComponentLabel
			if err := got.UnmarshalBinary(b); !errors.Is(err, tc.want) {
				t.Errorf("UnmarshalBinary: got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestComponentStatusText(t *testing.T) {
	for s := StatusOptimal; s <= StatusUsedSpare; s++ {
		b, err := s.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%d): %v", s, err)
		}
		var got ComponentStatus
		if err := got.UnmarshalText(b); err != nil || got != s {
			t.Errorf("UnmarshalText(%q) = %v, %v, want %v", b, got, err, s)
		}
	}
	var s ComponentStatus
	if err := s.UnmarshalText([]byte("melted")); err == nil {
		t.Errorf("UnmarshalText accepted an unknown status")
	}
}
