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

// CheckParity implements subcommands.Command for the "check-parity" command.
type CheckParity struct{}

// Name implements subcommands.Command.Name.
func (*CheckParity) Name() string {
	return "check-parity"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*CheckParity) Synopsis() string {
	return "verify the parity of every stripe"
}

// Usage implements subcommands.Command.Usage.
func (*CheckParity) Usage() string {
	return `check-parity - verify the parity of every stripe. Exits with failure if any stripe is bad.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*CheckParity) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*CheckParity) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	a, err := openArray(ctx, conf)
	if err != nil {
		return util.Errorf("%v", err)
	}
	defer closeArray(a)

	bad, err := a.CheckParity(ctx)
	if err != nil {
		return util.Errorf("checking parity: %v", err)
	}
	if bad > 0 {
		return util.Errorf("%d stripes have bad parity", bad)
	}
	util.Infof("Parity is clean")
	return subcommands.ExitSuccess
}

// RewriteParity implements subcommands.Command for the "rewrite-parity"
// command.
type RewriteParity struct{}

// Name implements subcommands.Command.Name.
func (*RewriteParity) Name() string {
	return "rewrite-parity"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*RewriteParity) Synopsis() string {
	return "recompute bad parity from the data"
}

// Usage implements subcommands.Command.Usage.
func (*RewriteParity) Usage() string {
	return `rewrite-parity - recompute the parity of every stripe whose parity does not match its data.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*RewriteParity) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*RewriteParity) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	a, err := openArray(ctx, conf)
	if err != nil {
		return util.Errorf("%v", err)
	}
	defer closeArray(a)

	n, err := a.RewriteParity(ctx)
	if err != nil {
		return util.Errorf("rewriting parity: %v", err)
	}
	util.Infof("Corrected %d stripes", n)
	return subcommands.ExitSuccess
}
