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
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/timsiem/timsiem/pkg/timsiem"
	"github.com/timsiem/timsiem/pkg/timsiem/config"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/dig"
)

const pluginName = "@timsiem/sqlite"

var Plugin = timsiem.Plugin{
	Name: pluginName,
	Provide: func(c *dig.Container, logger *slog.Logger) error {
		err := c.Provide(func(cfg *config.Config) (*sql.DB, error) {
			return OpenDatabase(cfg.SQLite.DatabaseFile)
		})
		if err != nil {
			return err
		}
		err = c.Provide(NewSqliteIndicatorRepository)
		if err != nil {
			return err
		}
		err = c.Provide(NewSqliteRunRepository)
		if err != nil {
			return err
		}
		return nil
	},
}

// OpenDatabase opens the database stored in fileName, or an in-memory database if fileName is ":memory:".
func OpenDatabase(fileName string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", DataSourceName(fileName))
	if err != nil {
		return nil, fmt.Errorf("error when opening database fileName=%v: %w", fileName, err)
	}
	if fileName == ":memory:" {
		// Connections sharing an in-memory cache fail with SQLITE_LOCKED instead of waiting for
		// table locks, so concurrent writers must be serialized on one connection.
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

func DataSourceName(fileName string) string {
	additionalSqliteParameters := "?_journal_mode=WAL"
	if fileName == ":memory:" {
		// Without cache=shared every pooled connection would get its own empty database.
		additionalSqliteParameters += "&cache=shared"
	}
	return "file:" + fileName + additionalSqliteParameters
}
