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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/timsiem/timsiem/pkg/timsiem/config"
	"github.com/timsiem/timsiem/pkg/timsiem/tasks"

	"go.uber.org/dig"
)

type TaskState int

const (
	TaskStateNotRunning TaskState = 0
	TaskStateRunning    TaskState = 1
)

type TaskData struct {
	enabled    bool
	interval   time.Duration
	cfg        map[string]any
	state      TaskState
	ctx        context.Context
	cancelFunc context.CancelFunc
}

type TaskManager struct {
	cfg      *config.TasksConfig
	tasks    map[string]tasks.Task
	taskData sync.Map //<string, TaskData>
	ctx      context.Context

	logger *slog.Logger
}

type TaskManagerParams struct {
	dig.In

	Cfg    *config.Config
	Ctx    context.Context
	Tasks  []tasks.Task `group:"tasks"`
	Logger *slog.Logger
}

func NewTaskManager(p TaskManagerParams) (*TaskManager, error) {
	tm := &TaskManager{
		cfg:      &p.Cfg.Tasks,
		tasks:    map[string]tasks.Task{},
		taskData: sync.Map{},
		ctx:      p.Ctx,

		logger: p.Logger,
	}
	for _, t := range p.Tasks {
		err := tm.AddTask(t)
		if err != nil {
			return nil, err
		}
	}
	return tm, nil
}

// AddTask registers a task. It is not scheduled until Start is called.
func (tm *TaskManager) AddTask(t tasks.Task) error {
	name := t.Name()
	if _, exists := tm.tasks[name]; exists {
		return fmt.Errorf("a task with name=%s already exists", t.Name())
	}
	tm.tasks[name] = t

	tm.taskData.Store(name, tm.newTaskData(name))
	return nil
}

func (tm *TaskManager) newTaskData(name string) TaskData {
	ctx, cancelFunc := context.WithCancel(tm.ctx)
	var td TaskData
	if cfg, ok := tm.cfg.Tasks[name]; ok {
		interval := cfg.Interval
		if interval <= 0 {
			interval = 1 * time.Hour
		}
		td = TaskData{
			enabled:    cfg.Enabled,
			interval:   interval,
			cfg:        cfg.Config,
			state:      TaskStateNotRunning,
			ctx:        ctx,
			cancelFunc: cancelFunc,
		}
	} else {
		td = TaskData{
			enabled:    false,
			interval:   1 * time.Hour,
			cfg:        map[string]any{},
			state:      TaskStateNotRunning,
			ctx:        ctx,
			cancelFunc: cancelFunc,
		}
	}
	return td
}

func (tm *TaskManager) Start() error {
	for name := range tm.tasks {
		err := tm.ScheduleTask(name)
		if err != nil {
			return fmt.Errorf("failed to schedule task='%s': %w", name, err)
		}
	}
	return nil
}

// Stop cancels every scheduled task. A task that is running is asked to stop through its context.
func (tm *TaskManager) Stop() {
	tm.taskData.Range(func(key, value any) bool {
		if td, ok := value.(TaskData); ok {
			td.cancelFunc()
		}
		return true
	})
}

// Reload stops every task and schedules them again using cfg.
func (tm *TaskManager) Reload(cfg *config.TasksConfig) error {
	tm.Stop()
	tm.cfg = cfg
	for name := range tm.tasks {
		tm.taskData.Store(name, tm.newTaskData(name))
	}
	return tm.Start()
}

func (tm *TaskManager) State(name string) (TaskState, bool) {
	tdInterface, ok := tm.taskData.Load(name)
	if !ok {
		return TaskStateNotRunning, false
	}
	td, ok := tdInterface.(TaskData)
	if !ok {
		return TaskStateNotRunning, false
	}
	return td.state, true
}

func (tm *TaskManager) ScheduleTask(name string) error {
	t, ok := tm.tasks[name]
	if !ok {
		return fmt.Errorf("task with name='%s' not found", name)
	}
	tdInterface, ok := tm.taskData.Load(name)
	if !ok {
		return fmt.Errorf("taskData for task='%s' not found", name)
	}
	td, ok := tdInterface.(TaskData)
	if !ok {
		return fmt.Errorf("failed to cast taskData for task='%s', taskData=%v", name, tdInterface)
	}
	logger := tm.logger.With(slog.String("taskName", name))
	logger.Info("scheduling task", slog.Duration("interval", td.interval), slog.Bool("enabled", td.enabled))
	go func(t tasks.Task, td TaskData) {
		ticker := time.NewTicker(td.interval)
		defer ticker.Stop()

		name := t.Name()
		for {
			select {
			case <-td.ctx.Done():
				logger.Info("context cancelled for task")
				return
			case <-ticker.C:
				if !td.enabled {
					logger.Debug("not running task because it is disabled")
				} else {
					logger.Info("running task")
					startTime := time.Now()
					td.state = TaskStateRunning
					tm.taskData.Store(name, td)
					t.Run(td.cfg, td.ctx)
					if td.ctx.Err() != nil {
						// Stopped or reloaded while running, the stored data belongs to the new schedule.
						return
					}
					td.state = TaskStateNotRunning
					tm.taskData.Store(name, td)
					logger.Info("task finished", slog.Duration("duration", time.Since(startTime)))
				}
			}
		}
	}(t, td)
	return nil
}
