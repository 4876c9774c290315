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

package metric

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/common/expfmt"
)

// reset clears all global state in the metric package.
func reset() {
	allMetrics = makeMetricSet()
}

func TestRegistration(t *testing.T) {
	reset()
	if _, err := NewUint64Metric("raid_reads", "reads"); err != nil {
		t.Fatalf("NewUint64Metric got err %v want nil", err)
	}
	if _, err := NewUint64Metric("raid_reads", "again"); !errors.Is(err, ErrNameInUse) {
		t.Errorf("duplicate NewUint64Metric got err %v want ErrNameInUse", err)
	}
	if _, err := NewUint64Metric("/bad-name", "bad"); !errors.Is(err, ErrInvalidName) {
		t.Errorf("NewUint64Metric(/bad-name) got err %v want ErrInvalidName", err)
	}
	if _, err := NewUint64Metric("raid_empty_field", "x", NewField("kind", nil)); !errors.Is(err, ErrFieldHasNoAllowedValues) {
		t.Errorf("field without values got err %v", err)
	}
}

func TestFieldMapperRoundTrip(t *testing.T) {
	fm, err := newFieldMapper(
		NewField("level", []string{"0", "4", "5"}),
		NewField("op", []string{"read", "write"}),
	)
	if err != nil {
		t.Fatalf("newFieldMapper: %v", err)
	}
	seen := make(map[int]bool)
	for _, level := range []string{"0", "4", "5"} {
		for _, op := range []string{"read", "write"} {
			key := fm.lookup(level, op)
			if seen[key] {
				t.Fatalf("key %d reused for (%s, %s)", key, level, op)
			}
			seen[key] = true
			if diff := cmp.Diff([]string{level, op}, fm.keyToMultiField(key)); diff != "" {
				t.Errorf("keyToMultiField(%d) mismatch (-want +got):\n%s", key, diff)
			}
		}
	}
}

func TestWriteTextParses(t *testing.T) {
	reset()
	plain := MustCreateNewUint64Metric("raid_stripes_reconstructed", "Stripes rebuilt onto spares.")
	byType := MustCreateNewUint64Metric("raid_dags", "DAGs selected.", NewField("type", []string{"normal_read", "degraded_read"}))
	plain.IncrementBy(7)
	byType.Increment("degraded_read")
	byType.Increment("degraded_read")

	var buf bytes.Buffer
	if err := WriteText(&buf); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	families, err := (&expfmt.TextParser{}).TextToMetricFamilies(&buf)
	if err != nil {
		t.Fatalf("exported text does not parse: %v\n%s", err, buf.String())
	}

	if got := families["raid_stripes_reconstructed"].GetMetric()[0].GetCounter().GetValue(); got != 7 {
		t.Errorf("raid_stripes_reconstructed = %v, want 7", got)
	}
	got := make(map[string]float64)
	for _, m := range families["raid_dags"].GetMetric() {
		got[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
	}
	if diff := cmp.Diff(map[string]float64{"normal_read": 0, "degraded_read": 2}, got); diff != "" {
		t.Errorf("raid_dags mismatch (-want +got):\n%s", diff)
	}
}

func TestDisallowedFieldValuePanics(t *testing.T) {
	reset()
	m := MustCreateNewUint64Metric("raid_ops", "ops", NewField("op", []string{"read"}))
	defer func() {
		if recover() == nil {
			t.Errorf("Increment with disallowed value did not panic")
		}
	}()
	m.Increment("write")
}
