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
	"text/tabwriter"

	"github.com/google/subcommands"
	"raidframe.dev/raidframe/pkg/raidframe"
	"raidframe.dev/raidframe/raidctl/cmd/util"
	"raidframe.dev/raidframe/raidctl/config"
)

// Map implements subcommands.Command for the "map" command.
type Map struct {
	count uint64
}

// Name implements subcommands.Command.Name.
func (*Map) Name() string {
	return "map"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Map) Synopsis() string {
	return "show where an array address lives on the components"
}

// Usage implements subcommands.Command.Usage.
func (*Map) Usage() string {
	return `map [-count=N] <address> - print the component locations of data, parity and stripe for N sectors starting at address.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (m *Map) SetFlags(f *flag.FlagSet) {
	f.Uint64Var(&m.count, "count", 1, "number of sectors to map.")
}

// Execute implements subcommands.Command.Execute.
func (m *Map) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
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

	// Range check first: the layout panics on addresses outside the array.
	asms, err := a.MapAccess(raidframe.RaidAddr(addr), m.count, true)
	if err != nil {
		return util.Errorf("%v", err)
	}

	l := a.Layout()
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tDATA\tPARITY\tREMAPPED\tSTRIPE\tPSID\tCOLUMNS")
	for s := addr; s < addr+m.count; s++ {
		ra := raidframe.RaidAddr(s)
		data := l.MapSector(ra, false)
		parity := "-"
		if l.FaultsTolerated() > 0 {
			p := l.MapParity(ra, false)
			parity = fmt.Sprintf("%d:%d", p.Col, p.Sector)
		}
		remapped := "-"
		if col, ok := a.Lookup(data.Col, psidOf(a, ra)); !ok {
			remapped = "failed"
		} else if col != data.Col {
			remapped = fmt.Sprintf("%d:%d", col, data.Sector)
		}
		_, cols := l.IdentifyStripe(ra)
		sid := a.Geometry().StripeID(ra)
		fmt.Fprintf(w, "%d\t%d:%d\t%s\t%s\t%d\t%d\t%v\n", s, data.Col, data.Sector, parity, remapped, sid, psidOf(a, ra), cols)
	}
	if err := w.Flush(); err != nil {
		return util.Errorf("%v", err)
	}

	for _, asm := range asms {
		t, err := l.SelectDAG(raidframe.IORead, asm)
		rt := t.String()
		if err != nil {
			rt = err.Error()
		}
		wt, err := l.SelectDAG(raidframe.IOWrite, asm)
		wts := wt.String()
		if err != nil {
			wts = err.Error()
		}
		fmt.Fprintf(os.Stdout, "stripe %d [%d, %d): %d units, %d parity pieces, %d failed; read: %s, write: %s\n",
			asm.StripeID, asm.RaidAddress, asm.EndRaidAddress, asm.NumStripeUnitsAccessed, len(asm.ParityInfo), asm.NumFailedInStripe, rt, wts)
	}
	return subcommands.ExitSuccess
}

func psidOf(a *raidframe.Array, addr raidframe.RaidAddr) raidframe.ParityStripeID {
	psid, _ := a.Layout().MapSIDToPSID(a.Geometry().StripeID(addr))
	return psid
}
