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

import "time"

type DispatchMode string

const (
	DispatchModeParallel   DispatchMode = "parallel"
	DispatchModeSequential DispatchMode = "sequential"
)

type FailurePolicy string

const (
	// FailurePolicyContinue lets the remaining delegates run when one of them fails.
	FailurePolicyContinue FailurePolicy = "continue"
	// FailurePolicyHalt cancels the remaining delegates as soon as one of them fails.
	FailurePolicyHalt FailurePolicy = "halt"
)

type SiemType string

const (
	SiemTypeHttp   SiemType = "http"
	SiemTypeSqlite SiemType = "sqlite"
)

type Config struct {
	ForceStaticConfig bool

	SQLite     *SqliteConfig
	Web        *WebConfig
	Dispatcher *DispatcherConfig
	Playbook   *PlaybookConfig
	Siem       *SiemConfig
	Feeds      *FeedsConfig

	Tasks TasksConfig
}

type SqliteConfig struct {
	DatabaseFile string
}

type WebConfig struct {
	Enabled        bool
	Address        string
	AllowedOrigins []string
}

type DispatcherConfig struct {
	Mode          DispatchMode
	FailurePolicy FailurePolicy
}

type PlaybookConfig struct {
	// FromIndicatorsQuery is the configured value of the "From indicators Query" input.
	// nil means the input is not supplied and the default query applies.
	FromIndicatorsQuery *string
}

type SiemConfig struct {
	Type             SiemType
	Address          string
	AuthToken        string
	RequestRateLimit float64
	RequestRateBurst int
	MaxRetries       int
	BatchSize        int
	Timeout          time.Duration
}

type FeedsConfig struct {
	Enabled   bool
	Directory string
}

type TasksConfig struct {
	Tasks map[string]TaskConfig
}

type TaskConfig struct {
	Name     string
	Enabled  bool
	Interval time.Duration
	Config   map[string]any
}
