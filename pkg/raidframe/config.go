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
	"io"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"raidframe.dev/raidframe/pkg/diskqueue"
)

// Config is the configuration of an array, usually loaded from a TOML
// file.
type Config struct {
	// Level is the RAID level: "0", "4" or "5". A "raid" prefix is
	// accepted.
	Level string `toml:"level" json:"level"`

	SectorsPerStripeUnit uint64 `toml:"sectors_per_stripe_unit" json:"sectorsPerStripeUnit"`
	SectorSize           int    `toml:"sector_size" json:"sectorSize"`

	// SerialNumber is written to the labels of a new array. Zero picks one.
	SerialNumber uint64 `toml:"serial_number,omitempty" json:"serialNumber,omitempty"`

	// Components and Spares are component paths, in column order.
	Components []string `toml:"components" json:"components"`
	Spares     []string `toml:"spares,omitempty" json:"spares,omitempty"`

	Queue QueueConfig `toml:"queue" json:"queue"`
	Recon ReconConfig `toml:"recon" json:"recon"`
}

// QueueConfig configures the component queues.
type QueueConfig struct {
	// Discipline is "fifo" or "cvscan".
	Discipline string `toml:"discipline" json:"discipline"`

	// Depth is the number of requests outstanding per component.
	Depth int `toml:"depth" json:"depth"`

	// Retries is the number of retries of a transient component error.
	Retries uint64 `toml:"retries" json:"retries"`

	RetryInterval time.Duration `toml:"retry_interval" json:"retryInterval"`
}

// ReconConfig overrides the reconstruction tuning of the layout. Zero
// values keep the layout defaults.
type ReconConfig struct {
	FloatingBuffers int `toml:"floating_buffers,omitempty" json:"floatingBuffers,omitempty"`

	// HeadSepLimit is in parity stripes; negative disables the limit.
	HeadSepLimit int64 `toml:"head_sep_limit,omitempty" json:"headSepLimit,omitempty"`
}

// DefaultConfig returns a RAID5 configuration without components.
func DefaultConfig() *Config {
	return &Config{
		Level:                "5",
		SectorsPerStripeUnit: 64,
		SectorSize:           512,
		Queue: QueueConfig{
			Discipline:    diskqueue.CVSCAN.String(),
			Depth:         1,
			Retries:       3,
			RetryInterval: 10 * time.Millisecond,
		},
	}
}

// LoadConfig reads a TOML configuration. Fields missing from the file keep
// their DefaultConfig values.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadConfig, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("%w: unknown keys in %q: %s", ErrBadConfig, path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// WriteTo writes c as TOML.
func (c *Config) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	err := toml.NewEncoder(cw).Encode(c)
	return cw.n, err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// ParityConfig returns the layout selector for c.Level.
func (c *Config) ParityConfig() (byte, error) {
	level := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(c.Level)), "raid")
	if len(level) == 1 {
		if _, ok := LevelName(level[0]); ok {
			return level[0], nil
		}
	}
	return 0, fmt.Errorf("%w: unsupported level %q", ErrBadConfig, c.Level)
}

// Validate checks the fields that do not depend on the components.
func (c *Config) Validate() error {
	if _, err := c.ParityConfig(); err != nil {
		return err
	}
	if c.SectorsPerStripeUnit == 0 {
		return fmt.Errorf("%w: sectors_per_stripe_unit must be positive", ErrBadConfig)
	}
	if c.SectorSize <= 0 || c.SectorSize%512 != 0 {
		return fmt.Errorf("%w: sector_size %d is not a positive multiple of 512", ErrBadConfig, c.SectorSize)
	}
	if _, err := diskqueue.ParseDiscipline(c.Queue.Discipline); err != nil {
		return fmt.Errorf("%w: %v", ErrBadConfig, err)
	}
	if c.Queue.Depth < 0 || c.Recon.FloatingBuffers < 0 {
		return fmt.Errorf("%w: negative queue depth or floating buffer count", ErrBadConfig)
	}
	return nil
}

func (c *Config) queueOpts() diskqueue.Opts {
	d, _ := diskqueue.ParseDiscipline(c.Queue.Discipline)
	return diskqueue.Opts{
		Discipline:     d,
		MaxOutstanding: c.Queue.Depth,
		Retries:        c.Queue.Retries,
		RetryInterval:  c.Queue.RetryInterval,
	}
}
