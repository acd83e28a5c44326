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

package tasks

import (
	"context"
	"log/slog"

	"github.com/timsiem/timsiem/internal/dispatcher"
	"github.com/timsiem/timsiem/internal/runs"
	"github.com/timsiem/timsiem/pkg/timsiem/config"
	"github.com/timsiem/timsiem/pkg/timsiem/tasks"
)

type runner interface {
	RunSync(ctx context.Context, in dispatcher.Inputs, trigger string) (*int64, error)
}

// SyncIndicatorsTask periodically dispatches the indicator query so the SIEM
// stays in sync with the indicator store.
type SyncIndicatorsTask struct {
	Engine runner
	Cfg    *config.Config

	Logger *slog.Logger
}

func NewSyncIndicatorsTask(engine *runs.Engine, cfg *config.Config, logger *slog.Logger) tasks.Task {
	return &SyncIndicatorsTask{
		Engine: engine,
		Cfg:    cfg,
		Logger: logger,
	}
}

func (t *SyncIndicatorsTask) Name() string {
	return "@timsiem/SyncIndicatorsTask"
}

func (t *SyncIndicatorsTask) Run(cfg map[string]any, ctx context.Context) {
	in := dispatcher.Inputs{}
	if qAny, ok := cfg["query"]; ok {
		q, ok := qAny.(string)
		if !ok {
			t.Logger.Error("Failed to cast query to string. Will not do anything.",
				slog.Any("query", qAny))
			return
		}
		in.FromIndicatorsQuery = &q
	} else if t.Cfg != nil && t.Cfg.Playbook != nil {
		in.FromIndicatorsQuery = t.Cfg.Playbook.FromIndicatorsQuery
	}
	id, err := t.Engine.RunSync(ctx, in, "task:"+t.Name())
	if err != nil {
		if id != nil {
			t.Logger.Error("Indicator sync finished with errors",
				slog.Int64("runId", *id),
				slog.Any("error", err))
		} else {
			t.Logger.Error("Failed to start indicator sync",
				slog.Any("error", err))
		}
		return
	}
	t.Logger.Info("Indicator sync finished",
		slog.Int64("runId", *id))
}
