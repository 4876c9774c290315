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

// Package cmd holds implementations of the raidctl commands.
package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"raidframe.dev/raidframe/pkg/cleanup"
	"raidframe.dev/raidframe/pkg/diskqueue"
	"raidframe.dev/raidframe/pkg/log"
	"raidframe.dev/raidframe/pkg/raidframe"
	"raidframe.dev/raidframe/raidctl/config"
)

// stringFlags can be used with string flags that appear multiple times.
type stringFlags []string

// String implements flag.Value.
func (s *stringFlags) String() string {
	return strings.Join(*s, ",")
}

// Get implements flag.Getter.
func (s *stringFlags) Get() any {
	return []string(*s)
}

// Set implements flag.Value.
func (s *stringFlags) Set(v string) error {
	if v == "" {
		return fmt.Errorf("empty value")
	}
	*s = append(*s, v)
	return nil
}

// loadConfig reads the array configuration named by conf and applies the
// command line overrides.
func loadConfig(conf *config.Config) (*raidframe.Config, error) {
	cfg, err := raidframe.LoadConfig(conf.ArrayConfig)
	if err != nil {
		return nil, err
	}
	if conf.QueueDiscipline != "" {
		cfg.Queue.Discipline = conf.QueueDiscipline
	}
	return cfg, nil
}

// openArray opens the components listed in the array configuration and
// assembles the array. The caller must shut the array down.
func openArray(ctx context.Context, conf *config.Config) (*raidframe.Array, error) {
	cfg, err := loadConfig(conf)
	if err != nil {
		return nil, err
	}
	var disks, spares []diskqueue.Disk
	cu := cleanup.Make(func() {
		for _, d := range append(disks, spares...) {
			d.Close()
		}
	})
	defer cu.Clean()

	for _, path := range cfg.Components {
		d, err := diskqueue.OpenFileDisk(path, cfg.SectorSize)
		if err != nil {
			return nil, fmt.Errorf("opening component: %w", err)
		}
		disks = append(disks, d)
	}
	for _, path := range cfg.Spares {
		d, err := diskqueue.OpenFileDisk(path, cfg.SectorSize)
		if err != nil {
			return nil, fmt.Errorf("opening spare: %w", err)
		}
		spares = append(spares, d)
	}
	a, err := raidframe.Configure(ctx, cfg, disks, spares)
	if err != nil {
		return nil, err
	}
	cu.Release()
	return a, nil
}

// closeArray shuts a down, logging failures.
func closeArray(a *raidframe.Array) {
	if err := a.Shutdown(); err != nil {
		log.Warningf("Shutting down array: %v", err)
	}
}

// parseUint parses a decimal or 0x-prefixed number.
func parseUint(what, s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", what, s, err)
	}
	return v, nil
}
