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


package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"raidframe.dev/raidframe/pkg/log"
)

func TestNewEmitter(t *testing.T) {
	for _, tc := range []struct {
		format string
		check  func(t *testing.T, out string)
	}{
		{
			format: "text",
			check: func(t *testing.T, out string) {
				if !strings.HasPrefix(out, "I") || !strings.Contains(out, "] parity stripe 4 clean") {
					t.Errorf("glog line = %q", out)
				}
			},
		},
		{
			format: "json",
			check: func(t *testing.T, out string) {
				var m map[string]any
				if err := json.Unmarshal([]byte(out), &m); err != nil {
					t.Fatalf("Unmarshal(%q): %v", out, err)
				}
				if m["msg"] != "parity stripe 4 clean" || m["level"] != "info" {
					t.Errorf("json line = %v", m)
				}
			},
		},
		{
			format: "logrus",
			check: func(t *testing.T, out string) {
				if !strings.Contains(out, "level=info") || !strings.Contains(out, `msg="parity stripe 4 clean"`) {
					t.Errorf("logrus line = %q", out)
				}
			},
		},
	} {
		t.Run(tc.format, func(t *testing.T) {
			var buf bytes.Buffer
			l := &log.BasicLogger{Level: log.Info, Emitter: newEmitter(tc.format, &buf)}
			l.Infof("parity stripe %d clean", 4)
			tc.check(t, strings.TrimSpace(buf.String()))
		})
	}
}
