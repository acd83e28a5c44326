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

package dependencyinjection

import (
	"context"
	"log/slog"
	"os"
	"time"

	internalConfig "github.com/timsiem/timsiem/internal/config"
	"github.com/timsiem/timsiem/internal/dispatcher"
	"github.com/timsiem/timsiem/internal/feeds"
	"github.com/timsiem/timsiem/internal/runs"
	internalTasks "github.com/timsiem/timsiem/internal/tasks"
	"github.com/timsiem/timsiem/internal/web"

	"github.com/timsiem/timsiem/pkg/timsiem/config"

	"go.uber.org/dig"
)

const configPollInterval = 10 * time.Second

// InjectionContextFromConfig builds the container for a process. cfgFile is the
// JSON configuration file the configuration was read from, it is polled for
// changes unless static configuration is forced or the file does not exist.
func InjectionContextFromConfig(ctx context.Context, cfg *config.Config, cfgFile string, logger *slog.Logger) (*dig.Container, error) {
	c := dig.New()
	err := provideBasics(c, ctx, cfg, cfgFile, logger)
	if err != nil {
		return nil, err
	}

	for _, p := range usedPlugins {
		logger.Info("Loading plugin", slog.String("pluginName", p.Name))
		err = p.Provide(c, logger)
		if err != nil {
			return nil, err
		}
	}

	err = provideConfigSource(c, logger)
	if err != nil {
		return nil, err
	}
	err = provideDispatch(c)
	if err != nil {
		return nil, err
	}
	err = provideFeeds(c)
	if err != nil {
		return nil, err
	}
	err = provideTasks(c, logger)
	if err != nil {
		return nil, err
	}
	err = provideEnumProviders(c, logger)
	if err != nil {
		return nil, err
	}
	err = c.Provide(web.NewWeb)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func provideBasics(c *dig.Container, ctx context.Context, cfg *config.Config, cfgFile string, logger *slog.Logger) error {
	err := c.Provide(func() *slog.Logger {
		return logger
	})
	if err != nil {
		return err
	}
	err = c.Provide(func() *config.Config {
		return cfg
	})
	if err != nil {
		return err
	}
	err = c.Provide(func() context.Context {
		return ctx
	})
	if err != nil {
		return err
	}
	err = c.Provide(func() string {
		return cfgFile
	}, dig.Name("configFileName"))
	if err != nil {
		return err
	}
	return nil
}

func provideConfigSource(c *dig.Container, logger *slog.Logger) error {
	return c.Provide(func(p struct {
		dig.In

		Ctx            context.Context
		Cfg            *config.Config
		ConfigFileName string `name:"configFileName"`
	}) config.Source {
		if p.Cfg.ForceStaticConfig {
			logger.Info("Static configuration is forced. The JSON configuration file will only be read at startup. Remove the forceStaticConfig flag from the command line or configuration file in order to pick up changes to the file.")
			return &config.StaticSource{Config: *p.Cfg}
		}
		if _, err := os.Stat(p.ConfigFileName); err != nil {
			logger.Info("No configuration file to poll, configuration is static", slog.String("fileName", p.ConfigFileName))
			return &config.StaticSource{Config: *p.Cfg}
		}
		return internalConfig.NewPollingConfigSource(p.Ctx, p.ConfigFileName, p.Cfg, configPollInterval, logger.With(slog.String("component", "PollingConfigSource")))
	})
}

func provideDispatch(c *dig.Container) error {
	err := c.Provide(dispatcher.NewDispatcher)
	if err != nil {
		return err
	}
	err = c.Provide(runs.NewEngine)
	if err != nil {
		return err
	}
	return nil
}

func provideFeeds(c *dig.Container) error {
	err := c.Provide(feeds.NewImporter)
	if err != nil {
		return err
	}
	err = c.Provide(feeds.NewFeedWatcher)
	if err != nil {
		return err
	}
	return nil
}

func provideTasks(c *dig.Container, logger *slog.Logger) error {
	err := c.Provide(internalTasks.NewTaskManager)
	if err != nil {
		return err
	}
	return nil
}

func provideEnumProviders(c *dig.Container, logger *slog.Logger) error {
	err := c.Provide(web.NewTaskEnumProvider, dig.Group("enumProviders"))
	if err != nil {
		return err
	}
	err = c.Provide(web.NewIndicatorTypeEnumProvider, dig.Group("enumProviders"))
	if err != nil {
		return err
	}
	err = c.Provide(web.NewDispatchModeEnumProvider, dig.Group("enumProviders"))
	if err != nil {
		return err
	}
	err = c.Provide(web.NewFailurePolicyEnumProvider, dig.Group("enumProviders"))
	if err != nil {
		return err
	}
	err = c.Provide(web.NewSiemTypeEnumProvider, dig.Group("enumProviders"))
	if err != nil {
		return err
	}
	return nil
}
