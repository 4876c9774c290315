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
	"raidframe.dev/raidframe/pkg/metric"
)

var (
	accessesMetric = metric.MustCreateNewUint64Metric(
		"raidframe_accesses_total", "Array accesses by direction.",
		metric.NewField("op", []string{IORead.String(), IOWrite.String()}))

	dagsMetric = metric.MustCreateNewUint64Metric(
		"raidframe_dags_total", "Stripe I/O graphs executed, by graph type.",
		metric.NewField("type", dagTypeNames[:]))

	degradedAccessesMetric = metric.MustCreateNewUint64Metric(
		"raidframe_degraded_accesses_total", "Stripe accesses serviced with a failed component.")

	componentFailuresMetric = metric.MustCreateNewUint64Metric(
		"raidframe_component_failures_total", "Components marked failed.")

	stripesReconstructedMetric = metric.MustCreateNewUint64Metric(
		"raidframe_stripes_reconstructed_total", "Parity stripes rebuilt onto hot spares.")

	dagBufferBytesMetric = metric.MustCreateNewUint64Metric(
		"raidframe_dag_buffer_bytes_total", "Bytes of intermediate buffers allocated for stripe I/O graphs.")

	parityMismatchesMetric = metric.MustCreateNewUint64Metric(
		"raidframe_parity_mismatches_total", "Stripes whose parity did not match their data.")
)
