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
	"time"

	"github.com/timsiem/timsiem/pkg/timsiem/runs"
	"github.com/timsiem/timsiem/pkg/timsiem/tasks"
)

type DeleteOldRunsTask struct {
	Repo runs.Repository
	Now  func() time.Time

	Logger *slog.Logger
}

func NewDeleteOldRunsTask(repo runs.Repository, logger *slog.Logger) tasks.Task {
	return &DeleteOldRunsTask{
		Repo:   repo,
		Now:    time.Now,
		Logger: logger,
	}
}

func (t *DeleteOldRunsTask) Name() string {
	return "@timsiem/DeleteOldRunsTask"
}

func (t *DeleteOldRunsTask) Run(cfg map[string]any, ctx context.Context) {
	minAgeAny, ok := cfg["minAge"]
	if !ok {
		t.Logger.Error("Failed to get minAge. Will not do anything.")
		return
	}
	minAgeStr, ok := minAgeAny.(string)
	if !ok {
		t.Logger.Error("Failed to cast minAge to string. Will not do anything.")
		return
	}
	if minAgeStr == "" {
		t.Logger.Error("minAgeStr=''. Will not do anything.")
		return
	}
	d, err := parseDuration(minAgeStr)
	if err != nil {
		t.Logger.Error("Failed to parse minAgeStr. Will not do anything.",
			slog.String("minAgeStr", minAgeStr),
			slog.Any("error", err))
		return
	}
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	n, err := t.Repo.DeleteOlderThan(ctx, now().Add(-d))
	if err != nil {
		t.Logger.Error("Failed to delete old runs",
			slog.Any("error", err))
		return
	}
	t.Logger.Info("Deleted old runs",
		slog.Int64("numRuns", n))
}
