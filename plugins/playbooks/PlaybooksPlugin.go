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

package playbooks

import (
	"log/slog"

	"github.com/timsiem/timsiem/pkg/timsiem"
	"github.com/timsiem/timsiem/pkg/timsiem/config"
	"github.com/timsiem/timsiem/pkg/timsiem/indicators"
	"github.com/timsiem/timsiem/pkg/timsiem/playbooks"
	"github.com/timsiem/timsiem/pkg/timsiem/siem"

	"go.uber.org/dig"
)

type pluginParams struct {
	dig.In

	Cfg    *config.Config
	Repo   indicators.Repository
	Writer siem.Writer
	Logger *slog.Logger
}

func (p pluginParams) params() Params {
	return Params{Cfg: p.Cfg, Repo: p.Repo, Writer: p.Writer, Logger: p.Logger}
}

var Plugin = timsiem.Plugin{
	Name: "@timsiem/playbooks",
	Provide: func(c *dig.Container, logger *slog.Logger) error {
		constructors := []func(Params) playbooks.SubPlaybook{
			NewAddBadHashIndicatorsToSiem,
			NewAddIPIndicatorsToSiem,
			NewAddUrlIndicatorsToSiem,
			NewAddDomainIndicatorsToSiem,
		}
		for _, ctor := range constructors {
			ctor := ctor
			err := c.Provide(func(p pluginParams) playbooks.SubPlaybook {
				return ctor(p.params())
			}, dig.Group("subPlaybooks"))
			if err != nil {
				return err
			}
		}
		return nil
	},
}
