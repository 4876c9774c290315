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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"raidframe.dev/raidframe/pkg/cleanup"
	"raidframe.dev/raidframe/pkg/diskqueue"
	"raidframe.dev/raidframe/pkg/raidframe"
	"raidframe.dev/raidframe/raidctl/cmd/util"
	"raidframe.dev/raidframe/raidctl/config"
)

// Create implements subcommands.Command for the "create" command.
type Create struct {
	level      string
	spsu       uint64
	sectorSize int
	sectors    uint64
	serial     uint64
	spares     stringFlags
	force      bool
	existing   bool
}

// Name implements subcommands.Command.Name.
func (*Create) Name() string {
	return "create"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Create) Synopsis() string {
	return "create an array and write its configuration file"
}

// Usage implements subcommands.Command.Usage.
func (*Create) Usage() string {
	return `create [flags] <component>... - create component files, label them as a new array and write the array configuration to the -config path.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *Create) SetFlags(f *flag.FlagSet) {
	def := raidframe.DefaultConfig()
	f.StringVar(&c.level, "level", def.Level, "RAID level: 0, 4 or 5.")
	f.Uint64Var(&c.spsu, "stripe-unit", def.SectorsPerStripeUnit, "sectors per stripe unit.")
	f.IntVar(&c.sectorSize, "sector-size", def.SectorSize, "component sector size in bytes.")
	f.Uint64Var(&c.sectors, "sectors", 1<<16, "data sectors per component, excluding the label area.")
	f.Uint64Var(&c.serial, "serial", 0, "array serial number. Zero picks one.")
	f.Var(&c.spares, "spare", "hot spare component. May be repeated.")
	f.BoolVar(&c.force, "force", false, "overwrite an existing configuration file.")
	f.BoolVar(&c.existing, "existing", false, "use existing component files or devices instead of creating them.")
}

// Execute implements subcommands.Command.Execute.
func (c *Create) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	cfg := raidframe.DefaultConfig()
	cfg.Level = c.level
	cfg.SectorsPerStripeUnit = c.spsu
	cfg.SectorSize = c.sectorSize
	cfg.SerialNumber = c.serial
	cfg.Components = f.Args()
	cfg.Spares = c.spares
	if conf.QueueDiscipline != "" {
		cfg.Queue.Discipline = conf.QueueDiscipline
	}
	if err := cfg.Validate(); err != nil {
		return util.Errorf("%v", err)
	}
	if _, err := os.Stat(conf.ArrayConfig); err == nil && !c.force {
		return util.Errorf("configuration file %q exists, use -force to overwrite it", conf.ArrayConfig)
	}

	var disks, spares []diskqueue.Disk
	cu := cleanup.Make(func() {
		for _, d := range append(disks, spares...) {
			d.Close()
		}
	})
	defer cu.Clean()
	for i, path := range append(append([]string(nil), cfg.Components...), cfg.Spares...) {
		d, err := c.open(path)
		if err != nil {
			return util.Errorf("%v", err)
		}
		if i < len(cfg.Components) {
			disks = append(disks, d)
		} else {
			spares = append(spares, d)
		}
	}

	a, err := raidframe.Configure(ctx, cfg, disks, spares)
	if err != nil {
		return util.Errorf("creating array: %v", err)
	}
	cu.Release()
	st := a.Status()
	if err := a.Shutdown(); err != nil {
		return util.Errorf("writing labels: %v", err)
	}

	if err := writeConfig(conf.ArrayConfig, cfg); err != nil {
		return util.Errorf("%v", err)
	}
	util.Infof("Created %s array %#x: %d components, %d spares, %d sectors", st.Level, st.SerialNumber, len(disks), len(spares), st.Geometry.TotalSectors)
	return subcommands.ExitSuccess
}

func (c *Create) open(path string) (diskqueue.Disk, error) {
	if c.existing {
		return diskqueue.OpenFileDisk(path, c.sectorSize)
	}
	return diskqueue.CreateFileDisk(path, c.sectorSize, raidframe.ProtectedSectors+c.sectors)
}

func writeConfig(path string, cfg *raidframe.Config) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("writing configuration: %w", err)
	}
	if _, err := cfg.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("writing configuration %q: %w", path, err)
	}
	return f.Close()
}
