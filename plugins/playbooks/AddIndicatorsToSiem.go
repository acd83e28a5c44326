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
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/timsiem/timsiem/internal/query"
	"github.com/timsiem/timsiem/pkg/timsiem/config"
	"github.com/timsiem/timsiem/pkg/timsiem/indicators"
	"github.com/timsiem/timsiem/pkg/timsiem/playbooks"
	"github.com/timsiem/timsiem/pkg/timsiem/siem"
)

const defaultBatchSize = 500

// AddIndicatorsToSiem selects the indicators of one type matching a query and
// writes them to the SIEM.
type AddIndicatorsToSiem struct {
	name      string
	typ       indicators.Type
	enrich    enrichFunc
	batchSize int

	repo   indicators.Repository
	writer siem.Writer
	logger *slog.Logger

	now func() time.Time
}

type Params struct {
	Cfg    *config.Config
	Repo   indicators.Repository
	Writer siem.Writer
	Logger *slog.Logger
}

func NewAddBadHashIndicatorsToSiem(p Params) playbooks.SubPlaybook {
	return newAddIndicatorsToSiem(playbooks.NameAddBadHashIndicatorsToSiem, indicators.TypeFile, enrichHash, p)
}

func NewAddIPIndicatorsToSiem(p Params) playbooks.SubPlaybook {
	return newAddIndicatorsToSiem(playbooks.NameAddIPIndicatorsToSiem, indicators.TypeIP, enrichIP, p)
}

func NewAddUrlIndicatorsToSiem(p Params) playbooks.SubPlaybook {
	return newAddIndicatorsToSiem(playbooks.NameAddUrlIndicatorsToSiem, indicators.TypeURL, enrichURL, p)
}

func NewAddDomainIndicatorsToSiem(p Params) playbooks.SubPlaybook {
	return newAddIndicatorsToSiem(playbooks.NameAddDomainIndicatorsToSiem, indicators.TypeDomain, enrichDomain, p)
}

func newAddIndicatorsToSiem(name string, typ indicators.Type, enrich enrichFunc, p Params) *AddIndicatorsToSiem {
	batchSize := defaultBatchSize
	if p.Cfg != nil && p.Cfg.Siem != nil && p.Cfg.Siem.BatchSize > 0 {
		batchSize = p.Cfg.Siem.BatchSize
	}
	return &AddIndicatorsToSiem{
		name:      name,
		typ:       typ,
		enrich:    enrich,
		batchSize: batchSize,

		repo:   p.Repo,
		writer: p.Writer,
		logger: p.Logger.With(slog.String("playbook", name)),

		now: time.Now,
	}
}

func (p *AddIndicatorsToSiem) Name() string {
	return p.name
}

func (p *AddIndicatorsToSiem) IndicatorType() indicators.Type {
	return p.typ
}

func (p *AddIndicatorsToSiem) Run(ctx context.Context, q string) (*playbooks.Result, error) {
	scoped, err := query.Parse(query.Scope(q, p.typ))
	if err != nil {
		return nil, fmt.Errorf("failed to parse query for playbook=%v: %w", p.name, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	batches, errs := p.repo.FilterStream(ctx, scoped, p.batchSize)
	res := &playbooks.Result{}
	for batch := range batches {
		records := make([]siem.Record, 0, len(batch))
		timestamp := p.now().UTC()
		for _, ind := range batch {
			res.Matched++
			value, fields, err := p.enrich(ind.Value)
			if err != nil {
				res.Skipped++
				p.logger.Debug("skipping invalid indicator",
					slog.String("indicatorId", ind.Id),
					slog.String("value", ind.Value),
					slog.Any("error", err))
				continue
			}
			if ind.Source != "" {
				fields["source"] = ind.Source
			}
			records = append(records, siem.Record{
				IndicatorId: ind.Id,
				Type:        string(ind.Type),
				Value:       value,
				Tags:        ind.Tags,
				Fields:      fields,
				Timestamp:   timestamp,
			})
		}
		err = p.writer.Write(ctx, records)
		if err != nil {
			cancel()
			for range batches {
			}
			return res, fmt.Errorf("failed to write numRecords=%v to siem=%v: %w", len(records), p.writer.Name(), err)
		}
		res.Written += len(records)
	}
	if err := <-errs; err != nil {
		return res, fmt.Errorf("failed to read indicators for playbook=%v: %w", p.name, err)
	}
	p.logger.Info("playbook finished",
		slog.Int("matched", res.Matched),
		slog.Int("written", res.Written),
		slog.Int("skipped", res.Skipped))
	return res, nil
}
