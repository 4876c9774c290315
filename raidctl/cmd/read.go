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
	"encoding/hex"
	"flag"
	"os"

	"github.com/google/subcommands"
	"raidframe.dev/raidframe/pkg/raidframe"
	"raidframe.dev/raidframe/raidctl/cmd/util"
	"raidframe.dev/raidframe/raidctl/config"
)

// Read implements subcommands.Command for the "read" command.
type Read struct {
	count  uint64
	output string
}

// Name implements subcommands.Command.Name.
func (*Read) Name() string {
	return "read"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Read) Synopsis() string {
	return "read sectors from the array"
}

// Usage implements subcommands.Command.Usage.
func (*Read) Usage() string {
	return `read [-count=N] [-o=file] <address> - read N sectors at address and hex dump them, or write them to file.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Read) SetFlags(f *flag.FlagSet) {
	f.Uint64Var(&r.count, "count", 1, "number of sectors to read.")
	f.StringVar(&r.output, "o", "", "file to write the data to instead of a hex dump on stdout.")
}

// Execute implements subcommands.Command.Execute.
func (r *Read) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	addr, err := parseUint("address", f.Arg(0))
	if err != nil {
		return util.Errorf("%v", err)
	}

	a, err := openArray(ctx, conf)
	if err != nil {
		return util.Errorf("%v", err)
	}
	defer closeArray(a)

	buf := make([]byte, r.count*uint64(a.Geometry().SectorSize))
	if err := a.Read(ctx, raidframe.RaidAddr(addr), buf); err != nil {
		return util.Errorf("reading %d sectors at %d: %v", r.count, addr, err)
	}
	if r.output != "" {
		if err := os.WriteFile(r.output, buf, 0644); err != nil {
			return util.Errorf("%v", err)
		}
		return subcommands.ExitSuccess
	}
	d := hex.Dumper(os.Stdout)
	d.Write(buf)
	d.Close()
	return subcommands.ExitSuccess
}
