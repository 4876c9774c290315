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
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"gopkg.in/yaml.v3"
	"raidframe.dev/raidframe/pkg/raidframe"
	"raidframe.dev/raidframe/raidctl/cmd/util"
	"raidframe.dev/raidframe/raidctl/config"
)

// Status implements subcommands.Command for the "status" command.
type Status struct {
	format string
}

// Name implements subcommands.Command.Name.
func (*Status) Name() string {
	return "status"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Status) Synopsis() string {
	return "print the state of the array and its components"
}

// Usage implements subcommands.Command.Usage.
func (*Status) Usage() string {
	return `status [-format=yaml|json] - print the state of the array and its components.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Status) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.format, "format", "yaml", "output format: yaml or json.")
}

// Execute implements subcommands.Command.Execute.
func (s *Status) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
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

	if err := writeStatus(os.Stdout, s.format, a.Status()); err != nil {
		return util.Errorf("%v", err)
	}
	return subcommands.ExitSuccess
}

func writeStatus(w io.Writer, format string, st raidframe.Status) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(st); err != nil {
			return fmt.Errorf("marshaling status: %w", err)
		}
		return enc.Close()
	case "json":
		b, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling status: %w", err)
		}
		_, err = w.Write(append(b, '\n'))
		return err
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}
