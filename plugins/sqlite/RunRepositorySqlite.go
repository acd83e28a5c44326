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

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/timsiem/timsiem/pkg/timsiem/runs"
)

type sqliteRunRepository struct {
	db *sql.DB
}

func NewSqliteRunRepository(db *sql.DB) (runs.Repository, error) {
	_, err := db.Exec("CREATE TABLE IF NOT EXISTS Runs (id INTEGER NOT NULL PRIMARY KEY, state INTEGER NOT NULL, query TEXT NOT NULL, triggered_by TEXT NOT NULL, start_time DATETIME NOT NULL, end_time DATETIME);")
	if err != nil {
		return nil, fmt.Errorf("error when creating Runs table: %w", err)
	}
	_, err = db.Exec("CREATE TABLE IF NOT EXISTS RunDelegateResults (run_id INTEGER NOT NULL, playbook TEXT NOT NULL, matched INTEGER NOT NULL, written INTEGER NOT NULL, skipped INTEGER NOT NULL, error TEXT NOT NULL, UNIQUE(run_id, playbook), FOREIGN KEY(run_id) REFERENCES Runs(id));")
	if err != nil {
		return nil, fmt.Errorf("error when creating RunDelegateResults table: %w", err)
	}
	return &sqliteRunRepository{
		db: db,
	}, nil
}

func (repo *sqliteRunRepository) Insert(ctx context.Context, query string, trigger string, startTime time.Time) (*int64, error) {
	res, err := repo.db.ExecContext(ctx, "INSERT INTO Runs (state, query, triggered_by, start_time) VALUES (?, ?, ?, ?);",
		runs.StateRunning, query, trigger, startTime.UTC())
	if err != nil {
		return nil, fmt.Errorf("error when inserting new run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		// The run will be stuck in the running state until it is deleted.
		return nil, fmt.Errorf("error when getting ID of newly inserted run: %w", err)
	}
	return &id, nil
}

func (repo *sqliteRunRepository) Get(ctx context.Context, id int64) (*runs.Run, error) {
	var run runs.Run
	err := repo.db.QueryRowContext(ctx, "SELECT id, state, query, triggered_by, start_time, end_time FROM Runs WHERE id=?;", id).
		Scan(&run.Id, &run.State, &run.Query, &run.Trigger, &run.StartTime, &run.EndTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("runId=%v: %w", id, runs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("error getting run with runId=%v: %w", id, err)
	}
	return &run, nil
}

func (repo *sqliteRunRepository) List(ctx context.Context, skip int, take int) ([]runs.Run, error) {
	rows, err := repo.db.QueryContext(ctx, "SELECT id, state, query, triggered_by, start_time, end_time FROM Runs ORDER BY id DESC LIMIT ? OFFSET ?;", take, skip)
	if err != nil {
		return nil, fmt.Errorf("error when listing runs with skip=%v, take=%v: %w", skip, take, err)
	}
	defer rows.Close()
	ret := make([]runs.Run, 0, take)
	for rows.Next() {
		var run runs.Run
		err = rows.Scan(&run.Id, &run.State, &run.Query, &run.Trigger, &run.StartTime, &run.EndTime)
		if err != nil {
			return nil, fmt.Errorf("error reading run when listing runs with skip=%v, take=%v: %w", skip, take, err)
		}
		ret = append(ret, run)
	}
	return ret, rows.Err()
}

func (repo *sqliteRunRepository) UpdateState(ctx context.Context, id int64, state runs.State, endTime *time.Time) error {
	var end any
	if endTime != nil {
		end = endTime.UTC()
	}
	_, err := repo.db.ExecContext(ctx, "UPDATE Runs SET state=?, end_time=? WHERE id=?;", state, end, id)
	if err != nil {
		return fmt.Errorf("error when updating runId=%v to state=%v: %w", id, state, err)
	}
	return nil
}

func (repo *sqliteRunRepository) AddDelegateResult(ctx context.Context, result runs.DelegateResult) error {
	_, err := repo.db.ExecContext(ctx, "INSERT INTO RunDelegateResults (run_id, playbook, matched, written, skipped, error) VALUES (?, ?, ?, ?, ?, ?) "+
		"ON CONFLICT (run_id, playbook) DO UPDATE SET matched=excluded.matched, written=excluded.written, skipped=excluded.skipped, error=excluded.error;",
		result.RunId, result.Playbook, result.Matched, result.Written, result.Skipped, result.Error)
	if err != nil {
		return fmt.Errorf("error when adding result for playbook=%v to runId=%v: %w", result.Playbook, result.RunId, err)
	}
	return nil
}

func (repo *sqliteRunRepository) GetDelegateResults(ctx context.Context, id int64) ([]runs.DelegateResult, error) {
	rows, err := repo.db.QueryContext(ctx, "SELECT run_id, playbook, matched, written, skipped, error FROM RunDelegateResults WHERE run_id=? ORDER BY playbook;", id)
	if err != nil {
		return nil, fmt.Errorf("error when getting delegate results for runId=%v: %w", id, err)
	}
	defer rows.Close()
	ret := make([]runs.DelegateResult, 0, 4)
	for rows.Next() {
		var r runs.DelegateResult
		err = rows.Scan(&r.RunId, &r.Playbook, &r.Matched, &r.Written, &r.Skipped, &r.Error)
		if err != nil {
			return nil, fmt.Errorf("error reading delegate result for runId=%v: %w", id, err)
		}
		ret = append(ret, r)
	}
	return ret, rows.Err()
}

// DeleteOlderThan deletes runs that started before t and are no longer running.
func (repo *sqliteRunRepository) DeleteOlderThan(ctx context.Context, t time.Time) (int64, error) {
	tx, err := repo.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("error when starting transaction to delete runs older than time=%v: %w", t, err)
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx, "DELETE FROM RunDelegateResults WHERE run_id IN (SELECT id FROM Runs WHERE start_time < ? AND state != ?);", t.UTC(), runs.StateRunning)
	if err != nil {
		return 0, fmt.Errorf("error when deleting delegate results of runs older than time=%v: %w", t, err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM Runs WHERE start_time < ? AND state != ?;", t.UTC(), runs.StateRunning)
	if err != nil {
		return 0, fmt.Errorf("error when deleting runs older than time=%v: %w", t, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error when getting number of deleted runs: %w", err)
	}
	err = tx.Commit()
	if err != nil {
		return 0, fmt.Errorf("error when committing deletion of runs older than time=%v: %w", t, err)
	}
	return n, nil
}
