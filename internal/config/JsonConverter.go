// Copyright 2024 The Timsiem Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/timsiem/timsiem/pkg/timsiem/config"
)

type jsonSqliteConfig struct {
	FileName string `json:"fileName"`
}

type jsonWebConfig struct {
	Enabled        *bool    `json:"enabled"`
	Address        string   `json:"address"`
	AllowedOrigins []string `json:"allowedOrigins"`
}

type jsonDispatcherConfig struct {
	Mode          string `json:"mode"`
	FailurePolicy string `json:"failurePolicy"`
}

type jsonPlaybookConfig struct {
	FromIndicatorsQuery *string `json:"fromIndicatorsQuery"`
}

type jsonSiemConfig struct {
	Type             string   `json:"type"`
	Address          string   `json:"address"`
	AuthToken        string   `json:"authToken"`
	RequestRateLimit *float64 `json:"requestRateLimit"`
	RequestRateBurst *int     `json:"requestRateBurst"`
	MaxRetries       *int     `json:"maxRetries"`
	BatchSize        *int     `json:"batchSize"`
	Timeout          string   `json:"timeout"`
}

type jsonFeedsConfig struct {
	Enabled   *bool  `json:"enabled"`
	Directory string `json:"directory"`
}

type jsonTaskConfigItem struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type jsonTaskConfig struct {
	Name     string               `json:"name"`
	Enabled  bool                 `json:"enabled"`
	Interval string               `json:"interval"`
	Config   []jsonTaskConfigItem `json:"config"`
}

type jsonTasksConfig struct {
	Tasks []jsonTaskConfig `json:"tasks"`
}

type JsonConfig struct {
	ForceStaticConfig bool                  `json:"forceStaticConfig"`
	Sqlite            *jsonSqliteConfig     `json:"sqlite"`
	Web               *jsonWebConfig        `json:"web"`
	Dispatcher        *jsonDispatcherConfig `json:"dispatcher"`
	Playbook          *jsonPlaybookConfig   `json:"playbook"`
	Siem              *jsonSiemConfig       `json:"siem"`
	Feeds             *jsonFeedsConfig      `json:"feeds"`

	Tasks *jsonTasksConfig `json:"tasks"`
}

// DefaultConfig returns the configuration used when no configuration file exists.
// Every call returns a fresh copy that is safe to modify.
func DefaultConfig() *config.Config {
	return &config.Config{
		ForceStaticConfig: false,

		SQLite: &config.SqliteConfig{
			DatabaseFile: "timsiem.db",
		},

		Web: &config.WebConfig{
			Enabled: true,
			Address: ":8080",
		},

		Dispatcher: &config.DispatcherConfig{
			Mode:          config.DispatchModeParallel,
			FailurePolicy: config.FailurePolicyContinue,
		},

		Playbook: &config.PlaybookConfig{},

		Siem: &config.SiemConfig{
			Type:             config.SiemTypeSqlite,
			RequestRateLimit: 10,
			RequestRateBurst: 1,
			MaxRetries:       3,
			BatchSize:        500,
			Timeout:          30 * time.Second,
		},

		Feeds: &config.FeedsConfig{
			Enabled:   false,
			Directory: "feeds",
		},

		Tasks: config.TasksConfig{
			Tasks: map[string]config.TaskConfig{
				"@timsiem/DeleteOldRunsTask": {
					Name:     "@timsiem/DeleteOldRunsTask",
					Enabled:  true,
					Interval: 1 * time.Hour,
					Config:   map[string]any{"minAge": "30d"},
				},
				"@timsiem/SyncIndicatorsTask": {
					Name:     "@timsiem/SyncIndicatorsTask",
					Enabled:  false,
					Interval: 1 * time.Hour,
					Config:   map[string]any{},
				},
			},
		},
	}
}

func FromJSON(cfg JsonConfig, logger *slog.Logger) (*config.Config, error) {
	defaults := DefaultConfig()

	var sqlite *config.SqliteConfig
	if cfg.Sqlite == nil {
		logger.Info("Using default sqlite configuration.")
		sqlite = defaults.SQLite
	} else {
		sqlite = &config.SqliteConfig{}
		if cfg.Sqlite.FileName == "" {
			logger.Info("Using default sqlite filename.", slog.String("defaultFileName", defaults.SQLite.DatabaseFile))
			sqlite.DatabaseFile = defaults.SQLite.DatabaseFile
		} else {
			sqlite.DatabaseFile = cfg.Sqlite.FileName
		}
	}

	var web *config.WebConfig
	if cfg.Web == nil {
		logger.Info("Using default web configuration.")
		web = defaults.Web
	} else {
		web = &config.WebConfig{AllowedOrigins: cfg.Web.AllowedOrigins}
		if cfg.Web.Enabled == nil {
			logger.Info("web.enabled not specified, defaulting to true")
			web.Enabled = true
		} else {
			web.Enabled = *cfg.Web.Enabled
		}
		if cfg.Web.Address == "" {
			logger.Info("Using default web address.", slog.String("defaultWebAddress", defaults.Web.Address))
			web.Address = defaults.Web.Address
		} else {
			web.Address = cfg.Web.Address
		}
	}

	var dispatcher *config.DispatcherConfig
	if cfg.Dispatcher == nil {
		logger.Info("Using default dispatcher configuration.")
		dispatcher = defaults.Dispatcher
	} else {
		dispatcher = &config.DispatcherConfig{}
		switch config.DispatchMode(cfg.Dispatcher.Mode) {
		case "":
			logger.Info("dispatcher.mode not specified, using default.", slog.String("defaultMode", string(defaults.Dispatcher.Mode)))
			dispatcher.Mode = defaults.Dispatcher.Mode
		case config.DispatchModeParallel, config.DispatchModeSequential:
			dispatcher.Mode = config.DispatchMode(cfg.Dispatcher.Mode)
		default:
			return nil, fmt.Errorf("got unknown dispatcher.mode=%v, expected parallel or sequential", cfg.Dispatcher.Mode)
		}
		switch config.FailurePolicy(cfg.Dispatcher.FailurePolicy) {
		case "":
			logger.Info("dispatcher.failurePolicy not specified, using default.", slog.String("defaultFailurePolicy", string(defaults.Dispatcher.FailurePolicy)))
			dispatcher.FailurePolicy = defaults.Dispatcher.FailurePolicy
		case config.FailurePolicyContinue, config.FailurePolicyHalt:
			dispatcher.FailurePolicy = config.FailurePolicy(cfg.Dispatcher.FailurePolicy)
		default:
			return nil, fmt.Errorf("got unknown dispatcher.failurePolicy=%v, expected continue or halt", cfg.Dispatcher.FailurePolicy)
		}
	}

	playbook := defaults.Playbook
	if cfg.Playbook != nil {
		playbook = &config.PlaybookConfig{FromIndicatorsQuery: cfg.Playbook.FromIndicatorsQuery}
	}

	siem, err := siemFromJSON(cfg.Siem, defaults.Siem, logger)
	if err != nil {
		return nil, err
	}

	var feeds *config.FeedsConfig
	if cfg.Feeds == nil {
		logger.Info("Using default feeds configuration.")
		feeds = defaults.Feeds
	} else {
		feeds = &config.FeedsConfig{}
		if cfg.Feeds.Enabled == nil {
			logger.Info("feeds.enabled not specified, defaulting to false")
		} else {
			feeds.Enabled = *cfg.Feeds.Enabled
		}
		if cfg.Feeds.Directory == "" {
			logger.Info("Using default feeds directory.", slog.String("defaultDirectory", defaults.Feeds.Directory))
			feeds.Directory = defaults.Feeds.Directory
		} else {
			feeds.Directory = cfg.Feeds.Directory
		}
	}

	tasksConfig := defaults.Tasks
	if cfg.Tasks == nil {
		logger.Info("Using default tasks configuration.")
	} else {
		tasksConfig = config.TasksConfig{
			Tasks: map[string]config.TaskConfig{},
		}
		for _, v := range cfg.Tasks.Tasks {
			enabled := v.Enabled
			intervalDuration, err := time.ParseDuration(v.Interval)
			if err != nil {
				logger.Warn("got invalid interval when parsing task config. This task will be disabled.",
					slog.String("taskName", v.Name),
					slog.String("interval", v.Interval),
					slog.Any("error", err))
				enabled = false
			}
			cfgMap := map[string]any{}
			for _, kv := range v.Config {
				cfgMap[kv.Key] = kv.Value
			}
			tasksConfig.Tasks[v.Name] = config.TaskConfig{
				Name:     v.Name,
				Enabled:  enabled,
				Interval: intervalDuration,
				Config:   cfgMap,
			}
		}
	}

	return &config.Config{
		ForceStaticConfig: cfg.ForceStaticConfig,

		SQLite:     sqlite,
		Web:        web,
		Dispatcher: dispatcher,
		Playbook:   playbook,
		Siem:       siem,
		Feeds:      feeds,

		Tasks: tasksConfig,
	}, nil
}

func siemFromJSON(cfg *jsonSiemConfig, defaults *config.SiemConfig, logger *slog.Logger) (*config.SiemConfig, error) {
	if cfg == nil {
		logger.Info("Using default siem configuration.")
		return defaults, nil
	}
	siem := &config.SiemConfig{
		Address:   cfg.Address,
		AuthToken: cfg.AuthToken,
	}
	switch config.SiemType(cfg.Type) {
	case "":
		if cfg.Address != "" {
			logger.Info("siem.type not specified but siem.address is set, defaulting to http")
			siem.Type = config.SiemTypeHttp
		} else {
			logger.Info("siem.type not specified, using default.", slog.String("defaultType", string(defaults.Type)))
			siem.Type = defaults.Type
		}
	case config.SiemTypeHttp, config.SiemTypeSqlite:
		siem.Type = config.SiemType(cfg.Type)
	default:
		return nil, fmt.Errorf("got unknown siem.type=%v, expected http or sqlite", cfg.Type)
	}
	if siem.Type == config.SiemTypeHttp && siem.Address == "" {
		return nil, fmt.Errorf("siem.address must be set when siem.type=%v", siem.Type)
	}
	if cfg.RequestRateLimit == nil {
		logger.Info("Using default siem.requestRateLimit.", slog.Float64("defaultRequestRateLimit", defaults.RequestRateLimit))
		siem.RequestRateLimit = defaults.RequestRateLimit
	} else {
		siem.RequestRateLimit = *cfg.RequestRateLimit
	}
	if cfg.RequestRateBurst == nil {
		logger.Info("Using default siem.requestRateBurst.", slog.Int("defaultRequestRateBurst", defaults.RequestRateBurst))
		siem.RequestRateBurst = defaults.RequestRateBurst
	} else {
		siem.RequestRateBurst = *cfg.RequestRateBurst
	}
	if cfg.MaxRetries == nil {
		logger.Info("Using default siem.maxRetries.", slog.Int("defaultMaxRetries", defaults.MaxRetries))
		siem.MaxRetries = defaults.MaxRetries
	} else if *cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("siem.maxRetries must not be negative but got %v", *cfg.MaxRetries)
	} else {
		siem.MaxRetries = *cfg.MaxRetries
	}
	if cfg.BatchSize == nil {
		logger.Info("Using default siem.batchSize.", slog.Int("defaultBatchSize", defaults.BatchSize))
		siem.BatchSize = defaults.BatchSize
	} else if *cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("siem.batchSize must be positive but got %v", *cfg.BatchSize)
	} else {
		siem.BatchSize = *cfg.BatchSize
	}
	if cfg.Timeout == "" {
		logger.Info("Using default siem.timeout.", slog.Duration("defaultTimeout", defaults.Timeout))
		siem.Timeout = defaults.Timeout
	} else {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("failed to parse siem.timeout=%v: %w", cfg.Timeout, err)
		}
		siem.Timeout = d
	}
	return siem, nil
}

// ToJSON converts a configuration back to its file representation.
// The auth token is never included.
func ToJSON(c *config.Config) *JsonConfig {
	taskNames := make([]string, 0, len(c.Tasks.Tasks))
	for k := range c.Tasks.Tasks {
		taskNames = append(taskNames, k)
	}
	sort.Strings(taskNames)
	tasks := make([]jsonTaskConfig, 0, len(c.Tasks.Tasks))
	for _, name := range taskNames {
		t := c.Tasks.Tasks[name]
		keys := make([]string, 0, len(t.Config))
		for k := range t.Config {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		cfgArray := make([]jsonTaskConfigItem, 0, len(t.Config))
		for _, k := range keys {
			cfgArray = append(cfgArray, jsonTaskConfigItem{
				Key:   k,
				Value: fmt.Sprint(t.Config[k]),
			})
		}
		tasks = append(tasks, jsonTaskConfig{
			Name:     t.Name,
			Enabled:  t.Enabled,
			Interval: t.Interval.String(),
			Config:   cfgArray,
		})
	}
	ret := &JsonConfig{
		ForceStaticConfig: c.ForceStaticConfig,
		Tasks: &jsonTasksConfig{
			Tasks: tasks,
		},
	}
	if c.SQLite != nil {
		ret.Sqlite = &jsonSqliteConfig{FileName: c.SQLite.DatabaseFile}
	}
	if c.Web != nil {
		ret.Web = &jsonWebConfig{
			Enabled:        &c.Web.Enabled,
			Address:        c.Web.Address,
			AllowedOrigins: c.Web.AllowedOrigins,
		}
	}
	if c.Dispatcher != nil {
		ret.Dispatcher = &jsonDispatcherConfig{
			Mode:          string(c.Dispatcher.Mode),
			FailurePolicy: string(c.Dispatcher.FailurePolicy),
		}
	}
	if c.Playbook != nil {
		ret.Playbook = &jsonPlaybookConfig{FromIndicatorsQuery: c.Playbook.FromIndicatorsQuery}
	}
	if c.Siem != nil {
		ret.Siem = &jsonSiemConfig{
			Type:             string(c.Siem.Type),
			Address:          c.Siem.Address,
			RequestRateLimit: &c.Siem.RequestRateLimit,
			RequestRateBurst: &c.Siem.RequestRateBurst,
			MaxRetries:       &c.Siem.MaxRetries,
			BatchSize:        &c.Siem.BatchSize,
			Timeout:          c.Siem.Timeout.String(),
		}
	}
	if c.Feeds != nil {
		ret.Feeds = &jsonFeedsConfig{
			Enabled:   &c.Feeds.Enabled,
			Directory: c.Feeds.Directory,
		}
	}
	return ret
}
