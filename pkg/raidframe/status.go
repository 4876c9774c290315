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
	"fmt"
)

// ComponentStatus is the state of one component.
type ComponentStatus int

const (
	// StatusOptimal is a healthy member.
	StatusOptimal ComponentStatus = iota

	// StatusFailed is a member or spare that cannot be used.
	StatusFailed

	// StatusReconstructing is a failed member being rebuilt onto a spare.
	StatusReconstructing

	// StatusSpared is a failed member whose contents live on a spare.
	StatusSpared

	// StatusSpare is an unused hot spare.
	StatusSpare

	// StatusUsedSpare is a hot spare standing in for a member.
	StatusUsedSpare
)

var componentStatusNames = map[ComponentStatus]string{
	StatusOptimal:        "optimal",
	StatusFailed:         "failed",
	StatusReconstructing: "reconstructing",
	StatusSpared:         "spared",
	StatusSpare:          "spare",
	StatusUsedSpare:      "used_spare",
}

// String implements fmt.Stringer.
func (s ComponentStatus) String() string {
	if name, ok := componentStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("ComponentStatus(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s ComponentStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ComponentStatus) UnmarshalText(b []byte) error {
	for k, v := range componentStatusNames {
		if v == string(b) {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("unknown component status %q", b)
}

// ComponentInfo describes one component in Status.
type ComponentInfo struct {
	Col    int             `json:"col" yaml:"col"`
	Name   string          `json:"name" yaml:"name"`
	Status ComponentStatus `json:"status" yaml:"status"`

	// Spare is the column standing in for this member, if any.
	Spare *int `json:"spare,omitempty" yaml:"spare,omitempty"`
}

// ReconProgress describes a running reconstruction.
type ReconProgress struct {
	Col     int    `json:"col" yaml:"col"`
	Spare   int    `json:"spare" yaml:"spare"`
	Rebuilt uint64 `json:"rebuilt" yaml:"rebuilt"`
	Total   uint64 `json:"total" yaml:"total"`

	// Next is the lowest parity stripe not yet on the spare. The head
	// separation limit is measured from it.
	Next uint64 `json:"next" yaml:"next"`
}

// Status is a snapshot of the array state.
type Status struct {
	Level        string          `json:"level" yaml:"level"`
	SerialNumber uint64          `json:"serialNumber" yaml:"serialNumber"`
	ModCounter   uint64          `json:"modCounter" yaml:"modCounter"`
	Geometry     Geometry        `json:"geometry" yaml:"geometry"`
	Components   []ComponentInfo `json:"components" yaml:"components"`
	Spares       []ComponentInfo `json:"spares,omitempty" yaml:"spares,omitempty"`
	Failed       bool            `json:"failed" yaml:"failed"`
	ParityDirty  bool            `json:"parityDirty" yaml:"parityDirty"`
	Recon        *ReconProgress  `json:"recon,omitempty" yaml:"recon,omitempty"`
}
