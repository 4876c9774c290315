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

	"github.com/google/subcommands"
	"raidframe.dev/raidframe/raidctl/cmd/util"
	"raidframe.dev/raidframe/raidctl/config"
)

// Reconstruct implements subcommands.Command for the "reconstruct" command.
type Reconstruct struct{}

// Name implements subcommands.Command.Name.
func (*Reconstruct) Name() string {
	return "reconstruct"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Reconstruct) Synopsis() string {
	return "rebuild a failed component onto a hot spare"
}

// Usage implements subcommands.Command.Usage.
func (*Reconstruct) Usage() string {
	return `reconstruct <column> - rebuild the failed component in column onto the first free hot spare.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Reconstruct) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Reconstruct) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	col, err := parseUint("column", f.Arg(0))
	if err != nil {
		return util.Errorf("%v", err)
	}

	a, err := openArray(ctx, conf)
	if err != nil {
		return util.Errorf("%v", err)
	}
	defer closeArray(a)

	if err := a.Reconstruct(ctx, int(col)); err != nil {
		return util.Errorf("reconstructing component %d: %v", col, err)
	}
	st := a.Status()
	util.Infof("Component %d reconstructed onto %s", col, st.Spares[*st.Components[col].Spare-len(st.Components)].Name)
	return subcommands.ExitSuccess
}
