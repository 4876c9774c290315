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

package cleanup

import (
	"errors"
	"testing"
)

// openAll mimics assembling an array from components: every opened
// component is closed again unless all of them open.
func openAll(names []string, bad string, closed *[]string) ([]string, error) {
	var opened []string
	cu := Make(nil)
	defer cu.Clean()
	for _, n := range names {
		if n == bad {
			return nil, errors.New("cannot open " + n)
		}
		opened = append(opened, n)
		cu.Add(func() { *closed = append(*closed, n) })
	}
	cu.Release()
	return opened, nil
}

func TestRollback(t *testing.T) {
	for _, tc := range []struct {
		name       string
		bad        string
		wantErr    bool
		wantClosed string
	}{
		{"all open", "", false, ""},
		{"first fails", "a", true, ""},
		{"last fails", "c", true, "ba"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var closed []string
			opened, err := openAll([]string{"a", "b", "c"}, tc.bad, &closed)
			if (err != nil) != tc.wantErr {
				t.Fatalf("openAll error = %v, want error %v", err, tc.wantErr)
			}
			if !tc.wantErr && len(opened) != 3 {
				t.Errorf("opened %v", opened)
			}
			got := ""
			for _, c := range closed {
				got += c
			}
			if got != tc.wantClosed {
				t.Errorf("closed %q, want %q", got, tc.wantClosed)
			}
		})
	}
}

func TestReleaseReturnsCleaners(t *testing.T) {
	var order []int
	cu := Make(func() { order = append(order, 1) })
	cu.Add(func() { order = append(order, 2) })
	later := cu.Release()
	cu.Clean()
	if len(order) != 0 {
		t.Fatalf("Clean after Release ran %v", order)
	}
	later()
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("released cleaners ran as %v, want [2 1]", order)
	}
}

func TestCleanTwice(t *testing.T) {
	n := 0
	cu := Make(func() { n++ })
	cu.Add(nil)
	cu.Clean()
	cu.Clean()
	if n != 1 {
		t.Fatalf("cleaner ran %d times, want 1", n)
	}
}
