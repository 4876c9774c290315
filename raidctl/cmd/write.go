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

// Write implements subcommands.Command for the "write" command.
type Write struct {
	input   string
	hexData string
	pad     bool
}

// Name implements subcommands.Command.Name.
func (*Write) Name() string {
	return "write"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Write) Synopsis() string {
	return "write sectors to the array"
}

// Usage implements subcommands.Command.Usage.
func (*Write) Usage() string {
	return `write (-i=file | -hex=data) [-pad] <address> - write the payload at address. The payload must be a whole number of sectors unless -pad is set.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (w *Write) SetFlags(f *flag.FlagSet) {
	f.StringVar(&w.input, "i", "", "file holding the payload.")
	f.StringVar(&w.hexData, "hex", "", "hex encoded payload.")
	f.BoolVar(&w.pad, "pad", false, "zero pad the payload to a whole number of sectors.")
}

// Execute implements subcommands.Command.Execute.
func (w *Write) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 || (w.input == "") == (w.hexData == "") {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	addr, err := parseUint("address", f.Arg(0))
	if err != nil {
		return util.Errorf("%v", err)
	}

	var data []byte
	if w.input != "" {
		data, err = os.ReadFile(w.input)
	} else {
		data, err = hex.DecodeString(w.hexData)
	}
	if err != nil {
		return util.Errorf("reading payload: %v", err)
	}

	a, err := openArray(ctx, conf)
	if err != nil {
		return util.Errorf("%v", err)
	}
	defer closeArray(a)

	ss := a.Geometry().SectorSize
	if rem := len(data) % ss; rem != 0 && w.pad {
		data = append(data, make([]byte, ss-rem)...)
	}
	if err := a.Write(ctx, raidframe.RaidAddr(addr), data); err != nil {
		return util.Errorf("writing %d bytes at %d: %v", len(data), addr, err)
	}
	util.Infof("Wrote %d sectors at %d", len(data)/ss, addr)
	return subcommands.ExitSuccess
}
