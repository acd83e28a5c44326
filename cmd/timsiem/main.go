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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	internalConfig "github.com/timsiem/timsiem/internal/config"
	"github.com/timsiem/timsiem/internal/dependencyinjection"
	"github.com/timsiem/timsiem/internal/dispatcher"
	"github.com/timsiem/timsiem/internal/feeds"
	"github.com/timsiem/timsiem/internal/runs"
	"github.com/timsiem/timsiem/internal/tasks"
	"github.com/timsiem/timsiem/internal/web"
	"github.com/timsiem/timsiem/pkg/timsiem/config"

	"go.uber.org/dig"
	"golang.org/x/sync/errgroup"
)

var versionString string // This must be set using -ldflags "-X main.versionString=<version>" when building for -version to work

const onceTrigger = "cli"

func main() {
	flags, err := internalConfig.ParseCommandLine(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if flags.PrintVersion {
		if versionString == "" {
			fmt.Println("(unknown version)")
			return
		}
		fmt.Println(versionString)
		return
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := flags.ToConfig(logger)
	if err != nil {
		logger.Error("failed to read configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, flags, logger)
	stop()
	if err != nil {
		logger.Error("exiting with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, flags *internalConfig.CommandLineFlags, logger *slog.Logger) error {
	c, err := dependencyinjection.InjectionContextFromConfig(ctx, cfg, flags.CfgFile, logger)
	if err != nil {
		return fmt.Errorf("failed to create injection context: %w", err)
	}
	if flags.Once {
		return c.Invoke(func(p onceParams) error {
			return runOnce(ctx, cfg, p, logger)
		})
	}
	return c.Invoke(func(p serveParams) error {
		return serve(ctx, cfg, p, logger)
	})
}

type onceParams struct {
	dig.In

	Engine      *runs.Engine
	FeedWatcher *feeds.FeedWatcher
}

// runOnce dispatches the configured query a single time. Every delegate runs to completion
// before it returns, and the returned error is non-nil if any delegate failed.
func runOnce(ctx context.Context, cfg *config.Config, p onceParams, logger *slog.Logger) error {
	if cfg.Feeds.Enabled {
		if err := p.FeedWatcher.ImportExisting(ctx); err != nil {
			return err
		}
	}
	id, err := p.Engine.RunSync(ctx, dispatcher.Inputs{FromIndicatorsQuery: cfg.Playbook.FromIndicatorsQuery}, onceTrigger)
	if id != nil {
		logger = logger.With(slog.Int64("runId", *id))
	}
	if err != nil {
		return err
	}
	logger.Info("dispatch finished")
	return nil
}

type serveParams struct {
	dig.In

	ConfigSource config.Source
	FeedWatcher  *feeds.FeedWatcher
	TaskManager  *tasks.TaskManager
	Web          web.Web
}

func serve(ctx context.Context, cfg *config.Config, p serveParams, logger *slog.Logger) error {
	g, ctx := errgroup.WithContext(ctx)

	if cfg.Feeds.Enabled {
		if err := p.FeedWatcher.Start(ctx); err != nil {
			return err
		}
	}

	if err := p.TaskManager.Start(); err != nil {
		return err
	}
	g.Go(func() error {
		<-ctx.Done()
		p.TaskManager.Stop()
		return nil
	})

	changes := p.ConfigSource.Changes()
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-changes:
			}
			newCfg, err := p.ConfigSource.Get()
			if err != nil {
				logger.Warn("got error when reading updated configuration. task config will not be updated", slog.Any("error", err))
				continue
			}
			if err := p.TaskManager.Reload(&newCfg.Cfg.Tasks); err != nil {
				logger.Warn("got error when reloading tasks", slog.Any("error", err))
				continue
			}
			logger.Info("configuration changed, tasks were reloaded. Other changes take effect after a restart")
		}
	})

	if cfg.Web.Enabled {
		g.Go(func() error {
			return p.Web.Serve(ctx)
		})
	} else {
		logger.Info("web API is disabled")
	}

	return g.Wait()
}
