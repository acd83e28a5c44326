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

package runs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/timsiem/timsiem/internal/dispatcher"
	"github.com/timsiem/timsiem/internal/query"
	"github.com/timsiem/timsiem/pkg/timsiem/playbooks"
	"github.com/timsiem/timsiem/pkg/timsiem/runs"

	"go.uber.org/dig"
)

// ErrInvalidQuery is wrapped by the error of a run that could not start because its query does not parse.
var ErrInvalidQuery = errors.New("invalid query")

// Engine records every dispatch as a run so that it can be listed and aborted.
type Engine struct {
	mu      sync.Mutex
	cancels map[int64]context.CancelFunc
	wg      sync.WaitGroup

	dispatcher *dispatcher.Dispatcher
	runRepo    runs.Repository

	logger *slog.Logger
}

type EngineParams struct {
	dig.In

	Dispatcher *dispatcher.Dispatcher
	RunRepo    runs.Repository
	Logger     *slog.Logger
}

func NewEngine(p EngineParams) *Engine {
	return &Engine{
		cancels:    map[int64]context.CancelFunc{},
		dispatcher: p.Dispatcher,
		runRepo:    p.RunRepo,

		logger: p.Logger,
	}
}

// StartRun validates the inputs, stores a new run and dispatches it in the background.
func (e *Engine) StartRun(in dispatcher.Inputs, trigger string) (*int64, error) {
	id, ctx, err := e.start(context.Background(), in, trigger)
	if err != nil {
		return nil, err
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.execute(ctx, *id, in)
	}()
	return id, nil
}

// RunSync dispatches a new run and blocks until every delegate has returned.
// The returned error is the dispatch error, the run id is returned whenever the run was stored.
func (e *Engine) RunSync(ctx context.Context, in dispatcher.Inputs, trigger string) (*int64, error) {
	id, runCtx, err := e.start(ctx, in, trigger)
	if err != nil {
		return nil, err
	}
	return id, e.execute(runCtx, *id, in)
}

func (e *Engine) start(parent context.Context, in dispatcher.Inputs, trigger string) (*int64, context.Context, error) {
	q := e.dispatcher.Query(in)
	if _, err := query.Parse(q); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	id, err := e.runRepo.Insert(parent, q, trigger, time.Now())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to insert run in repo: %w", err)
	}
	ctx, cancel := context.WithCancel(parent)
	e.mu.Lock()
	e.cancels[*id] = cancel
	e.mu.Unlock()
	return id, ctx, nil
}

func (e *Engine) execute(ctx context.Context, id int64, in dispatcher.Inputs) error {
	logger := e.logger.With(slog.Int64("runId", id))
	// Bookkeeping must outlive an abort so the final state is always written.
	storeCtx := context.WithoutCancel(ctx)
	err := e.dispatcher.Run(ctx, in, func(playbook string, res *playbooks.Result, err error) {
		dr := runs.DelegateResult{RunId: id, Playbook: playbook}
		if res != nil {
			dr.Matched = res.Matched
			dr.Written = res.Written
			dr.Skipped = res.Skipped
		}
		if err != nil {
			dr.Error = err.Error()
		}
		if addErr := e.runRepo.AddDelegateResult(storeCtx, dr); addErr != nil {
			logger.Error("failed to add delegate result to run",
				slog.String("playbook", playbook),
				slog.Any("error", addErr))
		}
	})

	e.mu.Lock()
	cancel := e.cancels[id]
	delete(e.cancels, id)
	e.mu.Unlock()
	wasCancelled := ctx.Err() != nil
	if cancel != nil {
		cancel()
	}

	var state runs.State
	switch {
	case wasCancelled:
		state = runs.StateAborted
	case err != nil:
		state = runs.StateFailed
	default:
		state = runs.StateFinished
	}
	end := time.Now()
	if updateErr := e.runRepo.UpdateState(storeCtx, id, state, &end); updateErr != nil {
		logger.Error("failed to update run state",
			slog.String("state", state.String()),
			slog.Any("error", updateErr))
	}
	if err != nil {
		logger.Warn("run finished with errors", slog.String("state", state.String()), slog.Any("error", err))
	} else {
		logger.Info("run finished", slog.String("state", state.String()))
	}
	return err
}

func (e *Engine) Abort(ctx context.Context, runId int64) error {
	e.mu.Lock()
	cancel := e.cancels[runId]
	e.mu.Unlock()
	if cancel != nil {
		cancel()
		return nil
	}
	logger := e.logger.With(slog.Int64("runId", runId))
	logger.Warn("Attempted to abort run but there was no cancelFunc in the cancels map. Will verify that state is aborted or finished")
	run, err := e.runRepo.Get(ctx, runId)
	if err != nil {
		logger.Error("Got error when verifying that run is aborted or finished. The run is in an unknown state.", slog.Any("error", err))
		return fmt.Errorf("run does not appear to be running, but the state in the repository could not be verified: %w", err)
	}
	if run.State == runs.StateRunning {
		logger.Error("run has no entry in the cancels map, but state is running. Will set state to aborted. The process may have been restarted while the run was in progress.")
		end := time.Now()
		err = e.runRepo.UpdateState(ctx, runId, runs.StateAborted, &end)
		if err != nil {
			return errors.New("run does not appear to be running, but the state in the repository could not be set to aborted")
		}
	}
	return nil
}

// Wait blocks until every run started with StartRun has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}
