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

// Package metric provides primitives for collecting metrics and exporting
// them in the Prometheus text exposition format.
package metric

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

var (
	// ErrNameInUse indicates that another metric is already defined for
	// the given name.
	ErrNameInUse = errors.New("metric name already in use")

	// ErrInvalidName indicates that the metric name is not a valid
	// Prometheus metric name.
	ErrInvalidName = errors.New("metric name is invalid")

	// ErrFieldHasNoAllowedValues indicates that the field needs to define some
	// allowed values to be a valid and useful field.
	ErrFieldHasNoAllowedValues = errors.New("metric field does not define any allowed values")

	// ErrTooManyFieldCombinations indicates that the number of unique
	// combinations of fields is too large to support.
	ErrTooManyFieldCombinations = errors.New("metric has too many combinations of allowed field values")
)

// Field contains the field name and allowed values for the metric which is
// used in registration of the metric.
type Field struct {
	// name is the metric field name. It becomes the Prometheus label name.
	name string

	// allowedValues is the list of allowed values for the field.
	allowedValues []string
}

// NewField defines a new Field that can be used to break down a metric.
func NewField(name string, allowedValues []string) Field {
	return Field{
		name:          name,
		allowedValues: allowedValues,
	}
}

// fieldMapper maps multi-dimensional field values to a single unique
// integer key, and back.
type fieldMapper struct {
	fields []Field

	// numFieldCombinations is the number of unique keys for all possible field
	// combinations.
	numFieldCombinations int
}

func newFieldMapper(fields ...Field) (fieldMapper, error) {
	numFieldCombinations := 1
	for _, f := range fields {
		if len(f.allowedValues) == 0 {
			return fieldMapper{}, ErrFieldHasNoAllowedValues
		}
		numFieldCombinations *= len(f.allowedValues)
		if numFieldCombinations > math.MaxUint16 {
			return fieldMapper{}, ErrTooManyFieldCombinations
		}
	}
	return fieldMapper{
		fields:               fields,
		numFieldCombinations: numFieldCombinations,
	}, nil
}

// lookup returns the key for the given field values. It panics on a wrong
// number of values or a disallowed value; both are programming errors.
func (m fieldMapper) lookup(values ...string) int {
	if len(values) != len(m.fields) {
		panic("invalid field lookup depth")
	}
	idx := 0
	bucket := m.numFieldCombinations
Lookup:
	for i, val := range values {
		allowed := m.fields[i].allowedValues
		for valIdx, allowedVal := range allowed {
			if val == allowedVal {
				bucket /= len(allowed)
				idx += bucket * valIdx
				continue Lookup
			}
		}
		panic(fmt.Sprintf("disallowed value %q for field %q", val, m.fields[i].name))
	}
	return idx
}

// keyToMultiField is the inverse of lookup.
func (m fieldMapper) keyToMultiField(key int) []string {
	out := make([]string, len(m.fields))
	bucket := m.numFieldCombinations
	for i, f := range m.fields {
		bucket /= len(f.allowedValues)
		out[i] = f.allowedValues[key/bucket]
		key %= bucket
	}
	return out
}

// Uint64Metric encapsulates a monotonically increasing uint64 counter,
// optionally broken down by fields.
type Uint64Metric struct {
	name        string
	description string

	// values is indexed by fieldMapper keys.
	values []atomic.Uint64

	fieldMapper fieldMapper
}

// metricSet is the set of registered metrics.
type metricSet struct {
	mu      sync.Mutex
	uint64s map[string]*Uint64Metric
}

func makeMetricSet() *metricSet {
	return &metricSet{uint64s: make(map[string]*Uint64Metric)}
}

// allMetrics are the registered metrics.
var allMetrics = makeMetricSet()

func validName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == ':':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// NewUint64Metric creates and registers a new cumulative metric with the
// given name.
func NewUint64Metric(name, description string, fields ...Field) (*Uint64Metric, error) {
	if !validName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	fm, err := newFieldMapper(fields...)
	if err != nil {
		return nil, err
	}
	m := &Uint64Metric{
		name:        name,
		description: description,
		values:      make([]atomic.Uint64, fm.numFieldCombinations),
		fieldMapper: fm,
	}

	allMetrics.mu.Lock()
	defer allMetrics.mu.Unlock()
	if _, ok := allMetrics.uint64s[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrNameInUse, name)
	}
	allMetrics.uint64s[name] = m
	return m, nil
}

// MustCreateNewUint64Metric calls NewUint64Metric and panics if it returns
// an error.
func MustCreateNewUint64Metric(name, description string, fields ...Field) *Uint64Metric {
	m, err := NewUint64Metric(name, description, fields...)
	if err != nil {
		panic(fmt.Sprintf("Unable to create metric %q: %s", name, err))
	}
	return m
}

// Value returns the current value of the metric for the given set of fields.
func (m *Uint64Metric) Value(fieldValues ...string) uint64 {
	return m.values[m.fieldMapper.lookup(fieldValues...)].Load()
}

// Increment increments the metric by 1.
func (m *Uint64Metric) Increment(fieldValues ...string) {
	m.IncrementBy(1, fieldValues...)
}

// IncrementBy increments the metric by v.
func (m *Uint64Metric) IncrementBy(v uint64, fieldValues ...string) {
	m.values[m.fieldMapper.lookup(fieldValues...)].Add(v)
}

func escapeLabelValue(s string) string {
	return strings.NewReplacer(`\`, `\\`, "\n", `\n`, `"`, `\"`).Replace(s)
}

// writeTo writes the metric in the Prometheus text format.
func (m *Uint64Metric) writeTo(w *bufio.Writer) {
	fmt.Fprintf(w, "# HELP %s %s\n", m.name, strings.ReplaceAll(m.description, "\n", " "))
	fmt.Fprintf(w, "# TYPE %s counter\n", m.name)
	for key := range m.values {
		w.WriteString(m.name)
		if len(m.fieldMapper.fields) > 0 {
			vals := m.fieldMapper.keyToMultiField(key)
			w.WriteByte('{')
			for i, f := range m.fieldMapper.fields {
				if i > 0 {
					w.WriteByte(',')
				}
				fmt.Fprintf(w, "%s=\"%s\"", f.name, escapeLabelValue(vals[i]))
			}
			w.WriteByte('}')
		}
		fmt.Fprintf(w, " %d\n", m.values[key].Load())
	}
}

// WriteText writes a snapshot of every registered metric to w in the
// Prometheus text exposition format, ordered by metric name.
func WriteText(w io.Writer) error {
	allMetrics.mu.Lock()
	names := make([]string, 0, len(allMetrics.uint64s))
	for name := range allMetrics.uint64s {
		names = append(names, name)
	}
	metrics := make([]*Uint64Metric, 0, len(names))
	sort.Strings(names)
	for _, name := range names {
		metrics = append(metrics, allMetrics.uint64s[name])
	}
	allMetrics.mu.Unlock()

	bw := bufio.NewWriter(w)
	for _, m := range metrics {
		m.writeTo(bw)
	}
	return bw.Flush()
}
