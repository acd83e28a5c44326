// Copyright 2024 The Timsiem Authors
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

package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/peterbourgon/ff/v3"

	"github.com/timsiem/timsiem/pkg/timsiem/config"
)

// optionalString records whether the flag was given at all, so that an
// explicitly empty value can be told apart from a missing one.
type optionalString struct {
	value *string
}

func (o *optionalString) String() string {
	if o.value == nil {
		return ""
	}
	return *o.value
}

func (o *optionalString) Set(value string) error {
	o.value = &value
	return nil
}

type CommandLineFlags struct {
	CfgFile           string
	DatabaseFile      string
	ForceStaticConfig bool
	Once              bool
	PrintVersion      bool
	Query             optionalString
	SiemAuthToken     string
	SiemUrl           string
	WebAddr           string

	setFlags map[string]bool
}

// ParseCommandLine parses args, falling back to TIMSIEM_ prefixed environment
// variables for every flag that is not given on the command line.
func ParseCommandLine(args []string) (*CommandLineFlags, error) {
	ret := CommandLineFlags{setFlags: map[string]bool{}}
	flags := flag.NewFlagSet("timsiem", flag.ContinueOnError)
	flags.StringVar(&ret.CfgFile, "config", "timsiem.json", "The name of the JSON file containing the configuration for timsiem. Flags given explicitly override the values in the file.")
	flags.StringVar(&ret.DatabaseFile, "dbfile", "timsiem.db", "The name of the file in which timsiem will store indicators and runs. If the name ':memory:' is used, no file will be created and everything will be stored in memory.")
	flags.BoolVar(&ret.ForceStaticConfig, "forcestaticconfig", false, "If enabled, the JSON configuration file is only read once at startup instead of being polled for changes.")
	flags.BoolVar(&ret.Once, "once", false, "Dispatch the indicator query once, wait for every delegate to finish and exit. The exit code is non-zero if any delegate failed.")
	flags.BoolVar(&ret.PrintVersion, "version", false, "Print version info and quit.")
	flags.Var(&ret.Query, "query", "The value of the 'From indicators Query' input. When not given or blank, the default query is used.")
	flags.StringVar(&ret.SiemAuthToken, "siemtoken", "", "The bearer token used when writing to the SIEM over HTTP.")
	flags.StringVar(&ret.SiemUrl, "siemurl", "", "The address of the SIEM collector endpoint. Setting it switches the SIEM writer to http.")
	flags.StringVar(&ret.WebAddr, "webaddr", ":8080", "The address on which the web API will be exposed.")

	err := ff.Parse(flags, args, ff.WithEnvVarPrefix("TIMSIEM"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse command line: %w", err)
	}
	flags.Visit(func(f *flag.Flag) {
		ret.setFlags[f.Name] = true
	})
	return &ret, nil
}

// ToConfig builds the configuration from the configuration file if it exists,
// or from the defaults otherwise, and then applies the flags that were set.
func (c *CommandLineFlags) ToConfig(logger *slog.Logger) (*config.Config, error) {
	cfg, _, err := ReadConfigFile(c.CfgFile, logger)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		logger.Warn("Could not open config file, will use default configuration and command line flags", slog.String("fileName", c.CfgFile))
		cfg = DefaultConfig()
		cfg.SQLite.DatabaseFile = c.DatabaseFile
		cfg.Web.Address = c.WebAddr
	} else {
		logger.Info("using configuration from file", slog.String("fileName", c.CfgFile))
	}

	if c.setFlags["dbfile"] {
		cfg.SQLite.DatabaseFile = c.DatabaseFile
	}
	if c.setFlags["webaddr"] {
		cfg.Web.Address = c.WebAddr
	}
	if c.ForceStaticConfig {
		cfg.ForceStaticConfig = true
	}
	if c.Query.value != nil {
		cfg.Playbook.FromIndicatorsQuery = c.Query.value
	}
	if c.SiemUrl != "" {
		cfg.Siem.Type = config.SiemTypeHttp
		cfg.Siem.Address = c.SiemUrl
	}
	if c.SiemAuthToken != "" {
		cfg.Siem.AuthToken = c.SiemAuthToken
	}
	return cfg, nil
}

// ReadConfigFile decodes and converts a JSON configuration file. The returned
// time is the modification time of the file.
func ReadConfigFile(fileName string, logger *slog.Logger) (*config.Config, time.Time, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("error opening config file fileName=%v: %w", fileName, err)
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("error reading file info for config file fileName=%v: %w", fileName, err)
	}
	var jsonCfg JsonConfig
	err = json.NewDecoder(f).Decode(&jsonCfg)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("error decoding json from config file fileName=%v: %w", fileName, err)
	}
	cfg, err := FromJSON(jsonCfg, logger.With(slog.String("component", "configFromJSON")))
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("error parsing configuration from config file fileName=%v: %w", fileName, err)
	}
	return cfg, stat.ModTime(), nil
}
