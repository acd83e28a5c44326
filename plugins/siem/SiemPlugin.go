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
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/timsiem/timsiem/pkg/timsiem"
	"github.com/timsiem/timsiem/pkg/timsiem/config"
	"github.com/timsiem/timsiem/pkg/timsiem/siem"

	"go.uber.org/dig"
)

var Plugin = timsiem.Plugin{
	Name: "@timsiem/siem",
	Provide: func(c *dig.Container, logger *slog.Logger) error {
		return c.Provide(func(cfg *config.Config, db *sql.DB) (siem.Writer, error) {
			switch cfg.Siem.Type {
			case config.SiemTypeHttp:
				if cfg.Siem.Address == "" {
					return nil, fmt.Errorf("siem.address must be set when siem.type=%v", cfg.Siem.Type)
				}
				logger.Info("Writing indicators to SIEM over HTTP",
					slog.String("address", cfg.Siem.Address))
				return NewHttpWriter(cfg.Siem, logger.With(slog.String("writer", "http"))), nil
			case config.SiemTypeSqlite:
				logger.Info("Writing indicators to the local SQLite outbox")
				return NewSqliteWriter(db)
			default:
				return nil, fmt.Errorf("unknown siem.type=%v", cfg.Siem.Type)
			}
		})
	},
}
