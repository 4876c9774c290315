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
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "raid.toml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeFile(t, `
level = "raid4"
sectors_per_stripe_unit = 32
components = ["/dev/a", "/dev/b", "/dev/c"]
spares = ["/dev/s"]

[queue]
discipline = "fifo"
retry_interval = "50ms"

[recon]
floating_buffers = 4
head_sep_limit = -1
`)
	got, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	want := DefaultConfig()
	want.Level = "raid4"
	want.SectorsPerStripeUnit = 32
	want.Components = []string{"/dev/a", "/dev/b", "/dev/c"}
	want.Spares = []string{"/dev/s"}
	want.Queue.Discipline = "fifo"
	want.Queue.RetryInterval = 50 * time.Millisecond
	want.Recon = ReconConfig{FloatingBuffers: 4, HeadSepLimit: -1}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("LoadConfig (-want +got):\n%s", diff)
	}
	if pc, err := got.ParityConfig(); err != nil || pc != '4' {
		t.Errorf("ParityConfig = %q, %v", pc, err)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	for _, tc := range []struct {
		name, contents string
	}{
		{"unknown key", "level = \"5\"\nstripe_width = 3\n"},
		{"syntax", "level = \n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := LoadConfig(writeFile(t, tc.contents)); !errors.Is(err, ErrBadConfig) {
				t.Errorf("LoadConfig: got %v, want %v", err, ErrBadConfig)
			}
		})
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Errorf("LoadConfig of a missing file succeeded")
	}
}

func TestConfigWriteTo(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Components = []string{"a", "b", "c"}
	cfg.SerialNumber = 42
	var buf bytes.Buffer
	n, err := cfg.WriteTo(&buf)
	if err != nil || n != int64(buf.Len()) {
		t.Fatalf("WriteTo = %d, %v; wrote %d bytes", n, err, buf.Len())
	}
	got, err := LoadConfig(writeFile(t, buf.String()))
	if err != nil {
		t.Fatalf("LoadConfig of written config: %v\n%s", err, buf.String())
	}
	if diff := cmp.Diff(cfg, got); diff != "" {
		t.Errorf("config changed across WriteTo and LoadConfig (-want +got):\n%s", diff)
	}
}

func TestConfigValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		modify func(*Config)
		level  byte
		ok     bool
	}{
		{"default", func(*Config) {}, '5', true},
		{"raid0", func(c *Config) { c.Level = "RAID0" }, '0', true},
		{"spaces", func(c *Config) { c.Level = " 4 " }, '4', true},
		{"raid1", func(c *Config) { c.Level = "1" }, 0, false},
		{"empty level", func(c *Config) { c.Level = "" }, 0, false},
		{"zero stripe unit", func(c *Config) { c.SectorsPerStripeUnit = 0 }, '5', false},
		{"odd sector size", func(c *Config) { c.SectorSize = 1000 }, '5', false},
		{"discipline", func(c *Config) { c.Queue.Discipline = "elevator" }, '5', false},
		{"negative buffers", func(c *Config) { c.Recon.FloatingBuffers = -1 }, '5', false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := DefaultConfig()
			tc.modify(c)
			err := c.Validate()
			if ok := err == nil; ok != tc.ok {
				t.Fatalf("Validate = %v, want ok %v", err, tc.ok)
			}
			if err != nil && !errors.Is(err, ErrBadConfig) {
				t.Errorf("Validate = %v, want %v", err, ErrBadConfig)
			}
			if pc, _ := c.ParityConfig(); pc != tc.level {
				t.Errorf("ParityConfig = %q, want %q", pc, tc.level)
			}
		})
	}
}
