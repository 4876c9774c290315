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

// Package cli is the main entrypoint for raidctl.
package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"raidframe.dev/raidframe/pkg/log"
	"raidframe.dev/raidframe/pkg/metric"
	"raidframe.dev/raidframe/raidctl/cmd"
	"raidframe.dev/raidframe/raidctl/cmd/util"
	"raidframe.dev/raidframe/raidctl/config"
)

// Main is the main entrypoint.
func Main() {
	// Register all commands.
	forEachCmd(subcommands.Register)

	// Register with the main command line.
	config.RegisterFlags(flag.CommandLine)

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	// Create a new Config from the flags.
	conf, err := config.NewFromFlags(flag.CommandLine)
	if err != nil {
		util.Fatalf("%v", err)
	}

	// Set up logging.
	if conf.Debug {
		log.SetLevel(log.Debug)
	}

	var emitters log.MultiEmitter
	if conf.LogFilename != "" {
		// O_APPEND so that consecutive commands share one log.
		f, err := log.OpenFile(conf.LogFilename, os.O_WRONLY|os.O_CREATE|os.O_APPEND, log.PatternOpts{Command: flag.CommandLine.Arg(0), Timestamp: time.Now()})
		if err != nil {
			util.Fatalf("error opening log file %q: %v", conf.LogFilename, err)
		}
		util.ErrorLogger = f
		emitters = append(emitters, newEmitter(conf.LogFormat, f))
	}
	if conf.AlsoLogToStderr {
		emitters = append(emitters, newEmitter(conf.LogFormat, os.Stderr))
	}

	switch len(emitters) {
	case 0:
		// Stdout carries command output; without a log file the logs are
		// dropped.
		log.SetTarget(newEmitter("text", io.Discard))
	case 1:
		// Use the singular emitter to avoid needless
		// `for` loop overhead when logging to a single place.
		log.SetTarget(emitters[0])
	default:
		log.SetTarget(&emitters)
	}

	const delimString = `**************** raidctl ****************`
	log.Infof(delimString)
	log.Infof("%s, %s, %d CPUs, %s, PID %d, UID %d", runtime.Version(), runtime.GOARCH, runtime.NumCPU(), runtime.GOOS, os.Getpid(), os.Getuid())
	log.Infof("Args: %v", os.Args)
	conf.Log()
	log.Infof(delimString)

	// Reconstruction and parity scans stop cleanly on SIGINT and SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	subcmdCode := subcommands.Execute(ctx, conf)
	stop()

	if conf.MetricsFile != "" {
		if err := writeMetrics(conf.MetricsFile); err != nil {
			log.Warningf("Writing metrics to %q: %v", conf.MetricsFile, err)
		}
	}
	if subcmdCode != subcommands.ExitSuccess {
		log.Warningf("Failure to execute command, err: %v", subcmdCode)
	}
	os.Exit(int(subcmdCode))
}

// forEachCmd invokes the passed callback for each command supported by
// raidctl.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	// Help and flags commands are generated automatically.
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")

	cb(new(cmd.Create), "")
	cb(new(cmd.Status), "")
	cb(new(cmd.Read), "")
	cb(new(cmd.Write), "")

	const maintenanceGroup = "maintenance"
	cb(new(cmd.Fail), maintenanceGroup)
	cb(new(cmd.Reconstruct), maintenanceGroup)
	cb(new(cmd.CheckParity), maintenanceGroup)
	cb(new(cmd.RewriteParity), maintenanceGroup)

	const debugGroup = "debug"
	cb(new(cmd.Map), debugGroup)
}

func newEmitter(format string, logFile io.Writer) log.Emitter {
	switch format {
	case "text":
		return log.GoogleEmitter{&log.Writer{Next: logFile}}
	case "json":
		e := log.NewLogrusEmitter(&logrus.JSONFormatter{})
		e.Logger.SetOutput(&log.Writer{Next: logFile})
		return e
	case "logrus":
		e := log.NewLogrusEmitter(&logrus.TextFormatter{FullTimestamp: true})
		e.Logger.SetOutput(&log.Writer{Next: logFile})
		return e
	}
	util.Fatalf("invalid log format %q, must be 'text', 'json', or 'logrus'", format)
	panic("unreachable")
}

func writeMetrics(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := metric.WriteText(f); err != nil {
		f.Close()
		return fmt.Errorf("writing metrics: %w", err)
	}
	return f.Close()
}
