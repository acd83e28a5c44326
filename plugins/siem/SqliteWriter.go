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

package siem

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/timsiem/timsiem/pkg/timsiem/siem"
)

// SqliteWriter stores records in a local outbox table instead of sending them anywhere.
// It is used when no SIEM endpoint is configured, another process can ship the outbox.
type SqliteWriter struct {
	db *sql.DB

	now func() time.Time
}

func NewSqliteWriter(db *sql.DB) (*SqliteWriter, error) {
	_, err := db.Exec("CREATE TABLE IF NOT EXISTS SiemOutbox (id INTEGER NOT NULL PRIMARY KEY, indicator_id TEXT NOT NULL, type TEXT NOT NULL, value TEXT NOT NULL, tags_json TEXT NOT NULL, fields_json TEXT NOT NULL, timestamp DATETIME NOT NULL, written_at DATETIME NOT NULL);")
	if err != nil {
		return nil, fmt.Errorf("error when creating SiemOutbox table: %w", err)
	}
	return &SqliteWriter{db: db, now: time.Now}, nil
}

func (w *SqliteWriter) Name() string {
	return "sqlite"
}

func (w *SqliteWriter) Write(ctx context.Context, records []siem.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error when starting transaction to write numRecords=%v: %w", len(records), err)
	}
	defer tx.Rollback()
	writtenAt := w.now().UTC()
	for _, r := range records {
		tagsJson, err := json.Marshal(r.Tags)
		if err != nil {
			return fmt.Errorf("error marshalling tags for indicatorId=%v: %w", r.IndicatorId, err)
		}
		fieldsJson, err := json.Marshal(r.Fields)
		if err != nil {
			return fmt.Errorf("error marshalling fields for indicatorId=%v: %w", r.IndicatorId, err)
		}
		_, err = tx.ExecContext(ctx, "INSERT INTO SiemOutbox (indicator_id, type, value, tags_json, fields_json, timestamp, written_at) VALUES (?, ?, ?, ?, ?, ?, ?);",
			r.IndicatorId, r.Type, r.Value, string(tagsJson), string(fieldsJson), r.Timestamp.UTC(), writtenAt)
		if err != nil {
			return fmt.Errorf("error when writing indicatorId=%v to outbox: %w", r.IndicatorId, err)
		}
	}
	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("error when committing numRecords=%v to outbox: %w", len(records), err)
	}
	return nil
}

// ReadAll returns every record in the outbox in insertion order.
func (w *SqliteWriter) ReadAll(ctx context.Context) ([]siem.Record, error) {
	rows, err := w.db.QueryContext(ctx, "SELECT indicator_id, type, value, tags_json, fields_json, timestamp FROM SiemOutbox ORDER BY id;")
	if err != nil {
		return nil, fmt.Errorf("error when reading outbox: %w", err)
	}
	defer rows.Close()
	ret := make([]siem.Record, 0)
	for rows.Next() {
		var r siem.Record
		var tagsJson, fieldsJson string
		err = rows.Scan(&r.IndicatorId, &r.Type, &r.Value, &tagsJson, &fieldsJson, &r.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("error when reading outbox row: %w", err)
		}
		err = json.Unmarshal([]byte(tagsJson), &r.Tags)
		if err != nil {
			return nil, fmt.Errorf("error unmarshalling tags for indicatorId=%v, tagsJson=%v: %w", r.IndicatorId, tagsJson, err)
		}
		err = json.Unmarshal([]byte(fieldsJson), &r.Fields)
		if err != nil {
			return nil, fmt.Errorf("error unmarshalling fields for indicatorId=%v, fieldsJson=%v: %w", r.IndicatorId, fieldsJson, err)
		}
		ret = append(ret, r)
	}
	return ret, rows.Err()
}
