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

// Package config provides basic infrastructure to set configuration settings
// for raidctl. Each setting that can be changed from the command line is a
// field of Config tagged with the name of its flag.
package config

import (
	"fmt"
	"reflect"

	"raidframe.dev/raidframe/pkg/log"
)

// Config holds the global raidctl settings.
type Config struct {
	// ArrayConfig is the path of the array's TOML configuration file.
	ArrayConfig string `flag:"config"`

	// LogFilename is the filename to log to, if not empty.
	LogFilename string `flag:"log"`

	// LogFormat is the log format: text, json or logrus.
	LogFormat string `flag:"log-format"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug"`

	// AlsoLogToStderr allows to send log messages to stderr.
	AlsoLogToStderr bool `flag:"alsologtostderr"`

	// MetricsFile is where counters are written in the Prometheus text
	// format when the command finishes, if not empty.
	MetricsFile string `flag:"metrics-file"`

	// QueueDiscipline overrides the disk queue discipline of the array
	// configuration when set.
	QueueDiscipline string `flag:"queue-discipline"`
}

func (c *Config) validate() error {
	switch c.LogFormat {
	case "text", "json", "logrus":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text', 'json', or 'logrus'", c.LogFormat)
	}
	if c.ArrayConfig == "" {
		return fmt.Errorf("-config must name the array configuration file")
	}
	switch c.QueueDiscipline {
	case "", "fifo", "cvscan":
	default:
		return fmt.Errorf("invalid queue discipline %q, must be 'fifo' or 'cvscan'", c.QueueDiscipline)
	}
	return nil
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config:")
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if name, ok := f.Tag.Lookup("flag"); ok {
			log.Infof("\t%s: %s", name, getVal(obj.Field(i)))
		}
	}
}
