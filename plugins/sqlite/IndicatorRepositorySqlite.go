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
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/timsiem/timsiem/pkg/timsiem/indicators"
)

type sqliteIndicatorRepository struct {
	db *sql.DB

	logger *slog.Logger
}

func NewSqliteIndicatorRepository(db *sql.DB, logger *slog.Logger) (indicators.Repository, error) {
	_, err := db.Exec("CREATE TABLE IF NOT EXISTS Indicators (id TEXT NOT NULL PRIMARY KEY, type TEXT NOT NULL, value TEXT NOT NULL, source TEXT NOT NULL, first_seen DATETIME NOT NULL, last_seen DATETIME NOT NULL, UNIQUE(type, value));")
	if err != nil {
		return nil, fmt.Errorf("error when creating Indicators table: %w", err)
	}
	_, err = db.Exec("CREATE INDEX IF NOT EXISTS IX_Indicators_type ON Indicators(type);")
	if err != nil {
		return nil, fmt.Errorf("error when creating IX_Indicators_type index: %w", err)
	}
	_, err = db.Exec("CREATE TABLE IF NOT EXISTS IndicatorTags (indicator_id TEXT NOT NULL, tag TEXT NOT NULL, UNIQUE(indicator_id, tag), FOREIGN KEY(indicator_id) REFERENCES Indicators(id));")
	if err != nil {
		return nil, fmt.Errorf("error when creating IndicatorTags table: %w", err)
	}
	return &sqliteIndicatorRepository{
		db:     db,
		logger: logger,
	}, nil
}

// Upsert inserts new indicators and updates existing ones, an indicator is identified by its type and value.
// The tags of an existing indicator are replaced. The Id of each element is set to the stored id.
func (repo *sqliteIndicatorRepository) Upsert(ctx context.Context, inds []indicators.Indicator) error {
	if len(inds) == 0 {
		return nil
	}
	tx, err := repo.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error when starting transaction to upsert numIndicators=%v: %w", len(inds), err)
	}
	defer tx.Rollback()

	for i := range inds {
		ind := &inds[i]
		if ind.Value == "" {
			return fmt.Errorf("error when upserting indicator at index=%v: value is empty", i)
		}
		if ind.LastSeen.IsZero() {
			ind.LastSeen = time.Now()
		}
		if ind.FirstSeen.IsZero() {
			ind.FirstSeen = ind.LastSeen
		}

		var existingId string
		var existingFirstSeen, existingLastSeen time.Time
		err = tx.QueryRowContext(ctx, "SELECT id, first_seen, last_seen FROM Indicators WHERE type=? AND value=?;", ind.Type, ind.Value).
			Scan(&existingId, &existingFirstSeen, &existingLastSeen)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("error when looking up indicator type=%v value=%v: %w", ind.Type, ind.Value, err)
		}
		if err == nil {
			ind.Id = existingId
			if existingFirstSeen.Before(ind.FirstSeen) {
				ind.FirstSeen = existingFirstSeen
			}
			if existingLastSeen.After(ind.LastSeen) {
				ind.LastSeen = existingLastSeen
			}
			_, err = tx.ExecContext(ctx, "UPDATE Indicators SET source=?, first_seen=?, last_seen=? WHERE id=?;",
				ind.Source, ind.FirstSeen.UTC(), ind.LastSeen.UTC(), ind.Id)
			if err != nil {
				return fmt.Errorf("error when updating indicatorId=%v: %w", ind.Id, err)
			}
			_, err = tx.ExecContext(ctx, "DELETE FROM IndicatorTags WHERE indicator_id=?;", ind.Id)
			if err != nil {
				return fmt.Errorf("error when clearing tags for indicatorId=%v: %w", ind.Id, err)
			}
		} else {
			if ind.Id == "" {
				ind.Id = uuid.NewString()
			}
			_, err = tx.ExecContext(ctx, "INSERT INTO Indicators (id, type, value, source, first_seen, last_seen) VALUES (?, ?, ?, ?, ?, ?);",
				ind.Id, ind.Type, ind.Value, ind.Source, ind.FirstSeen.UTC(), ind.LastSeen.UTC())
			if err != nil {
				return fmt.Errorf("error when inserting indicator type=%v value=%v: %w", ind.Type, ind.Value, err)
			}
		}
		for _, tag := range ind.Tags {
			_, err = tx.ExecContext(ctx, "INSERT OR IGNORE INTO IndicatorTags (indicator_id, tag) VALUES (?, ?);", ind.Id, tag)
			if err != nil {
				return fmt.Errorf("error when adding tag=%v to indicatorId=%v: %w", tag, ind.Id, err)
			}
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("error when committing upsert of numIndicators=%v: %w", len(inds), err)
	}
	return nil
}

func (repo *sqliteIndicatorRepository) Get(ctx context.Context, id string) (*indicators.Indicator, error) {
	var ind indicators.Indicator
	err := repo.db.QueryRowContext(ctx, "SELECT id, type, value, source, first_seen, last_seen FROM Indicators WHERE id=?;", id).
		Scan(&ind.Id, &ind.Type, &ind.Value, &ind.Source, &ind.FirstSeen, &ind.LastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("indicatorId=%v: %w", id, indicators.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("error getting indicatorId=%v: %w", id, err)
	}
	tags, err := repo.getTags(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	ind.Tags = tags[id]
	return &ind, nil
}

func (repo *sqliteIndicatorRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := repo.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM Indicators;").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("error when counting indicators: %w", err)
	}
	return count, nil
}

func (repo *sqliteIndicatorRepository) FilterStream(ctx context.Context, filter indicators.Filter, batchSize int) (<-chan []indicators.Indicator, <-chan error) {
	ret := make(chan []indicators.Indicator)
	errs := make(chan error, 1)
	if batchSize <= 0 {
		batchSize = 500
	}

	go func() {
		defer close(ret)
		defer close(errs)

		types := filter.Types()
		if types != nil && len(types) == 0 {
			return
		}
		stmt, args := buildFilterQuery(types)
		lastId := ""
		for {
			page, err := repo.getPage(ctx, stmt, append(args, lastId, batchSize))
			if err != nil {
				errs <- err
				return
			}
			if len(page) == 0 {
				return
			}
			lastId = page[len(page)-1].Id

			matched := make([]indicators.Indicator, 0, len(page))
			for i := range page {
				if filter.Matches(&page[i]) {
					matched = append(matched, page[i])
				}
			}
			if len(matched) > 0 {
				select {
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				case ret <- matched:
				}
			}
			if len(page) < batchSize {
				return
			}
		}
	}()

	return ret, errs
}

func buildFilterQuery(types []indicators.Type) (string, []any) {
	var sb strings.Builder
	sb.WriteString("SELECT id, type, value, source, first_seen, last_seen FROM Indicators WHERE ")
	args := make([]any, 0, len(types)+2)
	if len(types) > 0 {
		sb.WriteString("type IN (")
		for i, t := range types {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("?")
			args = append(args, t)
		}
		sb.WriteString(") AND ")
	}
	sb.WriteString("id > ? ORDER BY id LIMIT ?;")
	return sb.String(), args
}

func (repo *sqliteIndicatorRepository) getPage(ctx context.Context, stmt string, args []any) ([]indicators.Indicator, error) {
	rows, err := repo.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("error when filtering indicators: %w", err)
	}
	page := make([]indicators.Indicator, 0)
	ids := make([]string, 0)
	for rows.Next() {
		var ind indicators.Indicator
		err = rows.Scan(&ind.Id, &ind.Type, &ind.Value, &ind.Source, &ind.FirstSeen, &ind.LastSeen)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("error when reading indicator row: %w", err)
		}
		page = append(page, ind)
		ids = append(ids, ind.Id)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("error when iterating indicator rows: %w", err)
	}
	if len(page) == 0 {
		return page, nil
	}
	tags, err := repo.getTags(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range page {
		page[i].Tags = tags[page[i].Id]
	}
	return page, nil
}

func (repo *sqliteIndicatorRepository) getTags(ctx context.Context, ids []string) (map[string][]string, error) {
	placeholders := strings.Repeat("?, ", len(ids)-1) + "?"
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := repo.db.QueryContext(ctx, "SELECT indicator_id, tag FROM IndicatorTags WHERE indicator_id IN ("+placeholders+") ORDER BY tag;", args...)
	if err != nil {
		return nil, fmt.Errorf("error when getting tags for numIndicators=%v: %w", len(ids), err)
	}
	defer rows.Close()
	ret := make(map[string][]string, len(ids))
	for rows.Next() {
		var id, tag string
		err = rows.Scan(&id, &tag)
		if err != nil {
			return nil, fmt.Errorf("error when reading tag row: %w", err)
		}
		ret[id] = append(ret[id], tag)
	}
	return ret, rows.Err()
}
