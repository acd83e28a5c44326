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

package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/timsiem/timsiem/internal/query"
	"github.com/timsiem/timsiem/pkg/timsiem/config"
	"github.com/timsiem/timsiem/pkg/timsiem/indicators"
	"github.com/timsiem/timsiem/pkg/timsiem/playbooks"

	"go.uber.org/dig"
	"golang.org/x/sync/errgroup"
)

const (
	Name = "TIM - Add All Indicator Types To SIEM"

	InputFromIndicatorsQuery = "From indicators Query"
)

// Inputs are the parameters of one dispatch.
// A nil FromIndicatorsQuery means the input was not supplied.
type Inputs struct {
	FromIndicatorsQuery *string
}

// Reporter receives the outcome of every delegate invocation.
// It may be called from several goroutines at once.
type Reporter func(playbook string, res *playbooks.Result, err error)

type DelegateDescription struct {
	Name          string          `json:"name"`
	IndicatorType indicators.Type `json:"indicatorType"`
	QueryType     string          `json:"queryType"`
}

// Dispatcher fans one indicator query out to exactly one sub-playbook per
// indicator type. It produces no output of its own.
type Dispatcher struct {
	delegates []playbooks.SubPlaybook
	mode      config.DispatchMode
	policy    config.FailurePolicy

	logger *slog.Logger
}

type DispatcherParams struct {
	dig.In

	Cfg       *config.Config
	Delegates []playbooks.SubPlaybook `group:"subPlaybooks"`
	Logger    *slog.Logger
}

func NewDispatcher(p DispatcherParams) (*Dispatcher, error) {
	return New(p.Delegates, p.Cfg.Dispatcher, p.Logger)
}

func New(delegates []playbooks.SubPlaybook, cfg *config.DispatcherConfig, logger *slog.Logger) (*Dispatcher, error) {
	byType := make(map[indicators.Type]playbooks.SubPlaybook, len(indicators.AllTypes))
	names := make(map[string]struct{}, len(delegates))
	for _, dl := range delegates {
		t := dl.IndicatorType()
		if _, err := indicators.ParseType(string(t)); err != nil {
			return nil, fmt.Errorf("delegate name=%v has unsupported indicator type: %w", dl.Name(), err)
		}
		if existing, ok := byType[t]; ok {
			return nil, fmt.Errorf("indicator type=%v has more than one delegate: %v and %v", t, existing.Name(), dl.Name())
		}
		if _, ok := names[dl.Name()]; ok {
			return nil, fmt.Errorf("delegate name=%v is registered more than once", dl.Name())
		}
		byType[t] = dl
		names[dl.Name()] = struct{}{}
	}
	ordered := make([]playbooks.SubPlaybook, 0, len(indicators.AllTypes))
	for _, t := range indicators.AllTypes {
		dl, ok := byType[t]
		if !ok {
			return nil, fmt.Errorf("no delegate registered for indicator type=%v", t)
		}
		ordered = append(ordered, dl)
	}

	d := &Dispatcher{
		delegates: ordered,
		mode:      config.DispatchModeParallel,
		policy:    config.FailurePolicyContinue,
		logger:    logger,
	}
	if cfg != nil {
		switch cfg.Mode {
		case "":
		case config.DispatchModeParallel, config.DispatchModeSequential:
			d.mode = cfg.Mode
		default:
			return nil, fmt.Errorf("unknown dispatcher mode=%v", cfg.Mode)
		}
		switch cfg.FailurePolicy {
		case "":
		case config.FailurePolicyContinue, config.FailurePolicyHalt:
			d.policy = cfg.FailurePolicy
		default:
			return nil, fmt.Errorf("unknown dispatcher failurePolicy=%v", cfg.FailurePolicy)
		}
	}
	return d, nil
}

// Query returns the effective query for the given inputs.
func (d *Dispatcher) Query(in Inputs) string {
	return query.Effective(in.FromIndicatorsQuery)
}

// Run invokes every delegate once with the effective query. The returned error
// joins the errors of all failed delegates.
func (d *Dispatcher) Run(ctx context.Context, in Inputs, report Reporter) error {
	q := d.Query(in)
	if _, err := query.Parse(q); err != nil {
		return fmt.Errorf("invalid %v: %w", InputFromIndicatorsQuery, err)
	}
	if report == nil {
		report = func(string, *playbooks.Result, error) {}
	}
	d.logger.Info("dispatching indicator query",
		slog.String("query", q),
		slog.String("mode", string(d.mode)),
		slog.String("failurePolicy", string(d.policy)))
	if d.mode == config.DispatchModeSequential {
		return d.runSequential(ctx, q, report)
	}
	return d.runParallel(ctx, q, report)
}

func (d *Dispatcher) runSequential(ctx context.Context, q string, report Reporter) error {
	var errs []error
	for _, dl := range d.delegates {
		err := d.invoke(ctx, dl, q, report)
		if err != nil {
			errs = append(errs, err)
			if d.policy == config.FailurePolicyHalt {
				break
			}
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) runParallel(ctx context.Context, q string, report Reporter) error {
	var g *errgroup.Group
	runCtx := ctx
	if d.policy == config.FailurePolicyHalt {
		g, runCtx = errgroup.WithContext(ctx)
	} else {
		g = &errgroup.Group{}
	}
	var mu sync.Mutex
	var errs []error
	for _, dl := range d.delegates {
		dl := dl
		g.Go(func() error {
			err := d.invoke(runCtx, dl, q, report)
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return err
		})
	}
	g.Wait()
	return errors.Join(errs...)
}

func (d *Dispatcher) invoke(ctx context.Context, dl playbooks.SubPlaybook, q string, report Reporter) error {
	start := time.Now()
	res, err := dl.Run(ctx, q)
	report(dl.Name(), res, err)
	if err != nil {
		d.logger.Warn("delegate failed",
			slog.String("playbook", dl.Name()),
			slog.Duration("duration", time.Since(start)),
			slog.Any("error", err))
		return fmt.Errorf("playbook=%v: %w", dl.Name(), err)
	}
	d.logger.Info("delegate finished",
		slog.String("playbook", dl.Name()),
		slog.Duration("duration", time.Since(start)))
	return nil
}

func (d *Dispatcher) Inputs() []playbooks.Input {
	return []playbooks.Input{
		{
			Name:        InputFromIndicatorsQuery,
			Description: "The indicator query to send to every delegate. When empty the default query is used.",
			Default:     query.DefaultQuery,
			Required:    false,
		},
	}
}

// Outputs is always empty, results only exist as side effects of the delegates.
func (d *Dispatcher) Outputs() []playbooks.Output {
	return []playbooks.Output{}
}

func (d *Dispatcher) Delegates() []DelegateDescription {
	ret := make([]DelegateDescription, 0, len(d.delegates))
	for _, dl := range d.delegates {
		ret = append(ret, DelegateDescription{
			Name:          dl.Name(),
			IndicatorType: dl.IndicatorType(),
			QueryType:     query.TypeName(dl.IndicatorType()),
		})
	}
	return ret
}
