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
	"database/sql"
	"log/slog"
	"testing"
	"time"

	"github.com/timsiem/timsiem/pkg/timsiem/runs"
	"github.com/timsiem/timsiem/plugins/sqlite"
)

func TestDeleteOldRunsTaskInvalidMinAgeDoesNotDelete(t *testing.T) {
	repo := createRepo(t)
	task := &DeleteOldRunsTask{
		Repo:   repo,
		Logger: slog.Default(),
	}
	id := insertFinishedRun(t, repo, time.Date(2020, 1, 27, 0, 0, 0, 0, time.UTC))

	task.Run(map[string]any{}, context.Background())
	checkForRun(t, repo, id)

	task.Run(map[string]any{"minAge": ""}, context.Background())
	checkForRun(t, repo, id)

	task.Run(map[string]any{"minAge": "123x"}, context.Background())
	checkForRun(t, repo, id)

	task.Run(map[string]any{"minAge": 7}, context.Background())
	checkForRun(t, repo, id)
}

func TestDeleteOldRunsTaskDeletesOldRuns(t *testing.T) {
	repo := createRepo(t)
	task := &DeleteOldRunsTask{
		Repo: repo,
		Now: func() time.Time {
			return time.Date(2022, 1, 27, 20, 0, 0, 0, time.UTC)
		},
		Logger: slog.Default(),
	}
	recent := insertFinishedRun(t, repo, time.Date(2022, 1, 27, 0, 0, 0, 0, time.UTC))
	old := insertFinishedRun(t, repo, time.Date(2020, 1, 27, 0, 0, 0, 0, time.UTC))

	task.Run(map[string]any{"minAge": "7d"}, context.Background())

	checkForRun(t, repo, recent)
	if _, err := repo.Get(context.Background(), old); err == nil {
		t.Fatal("expected old run to be deleted")
	}
}

func insertFinishedRun(t *testing.T, repo runs.Repository, start time.Time) int64 {
	ctx := context.Background()
	id, err := repo.Insert(ctx, "type:ip", "test", start)
	if err != nil {
		t.Fatalf("got error when inserting run: %v", err)
	}
	if err := repo.UpdateState(ctx, *id, runs.StateFinished, &start); err != nil {
		t.Fatalf("got error when updating run: %v", err)
	}
	return *id
}

func checkForRun(t *testing.T, repo runs.Repository, id int64) {
	if _, err := repo.Get(context.Background(), id); err != nil {
		t.Fatalf("expected run id=%v to still exist but got error: %v", id, err)
	}
}

func createRepo(t *testing.T) runs.Repository {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("got error when creating in-memory SQLite database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	repo, err := sqlite.NewSqliteRunRepository(db)
	if err != nil {
		t.Fatalf("got error when creating run repo: %v", err)
	}
	return repo
}
