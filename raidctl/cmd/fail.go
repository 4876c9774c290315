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

// Fail implements subcommands.Command for the "fail" command.
type Fail struct {
	reconstruct bool
}

// Name implements subcommands.Command.Name.
func (*Fail) Name() string {
	return "fail"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Fail) Synopsis() string {
	return "mark a component failed"
}

// Usage implements subcommands.Command.Usage.
func (*Fail) Usage() string {
	return `fail [-reconstruct] <column> - mark the component in column failed, and optionally rebuild it onto a hot spare.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (fl *Fail) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&fl.reconstruct, "reconstruct", false, "reconstruct the component onto a hot spare.")
}

// Execute implements subcommands.Command.Execute.
func (fl *Fail) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
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

	if err := a.FailDisk(int(col)); err != nil {
		return util.Errorf("%v", err)
	}
	if !fl.reconstruct {
		util.Infof("Component %d failed", col)
		return subcommands.ExitSuccess
	}
	if err := a.Reconstruct(ctx, int(col)); err != nil {
		return util.Errorf("reconstructing component %d: %v", col, err)
	}
	util.Infof("Component %d reconstructed", col)
	return subcommands.ExitSuccess
}
