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

package web

import (
	"fmt"
	"sort"

	"github.com/timsiem/timsiem/internal/query"
	"github.com/timsiem/timsiem/pkg/timsiem/config"
	"github.com/timsiem/timsiem/pkg/timsiem/indicators"
)

// EnumProvider lists the allowed values of a configuration or query field, for use in editors.
type EnumProvider interface {
	Name() string
	Values() ([]string, error)
}

type staticEnumProvider struct {
	name   string
	values []string
}

func (s *staticEnumProvider) Name() string {
	return s.name
}

func (s *staticEnumProvider) Values() ([]string, error) {
	return s.values, nil
}

func NewIndicatorTypeEnumProvider() EnumProvider {
	values := make([]string, 0, len(indicators.AllTypes))
	for _, t := range indicators.AllTypes {
		values = append(values, query.TypeName(t))
	}
	return &staticEnumProvider{name: "indicatorTypes", values: values}
}

func NewDispatchModeEnumProvider() EnumProvider {
	return &staticEnumProvider{
		name:   "dispatchModes",
		values: []string{string(config.DispatchModeParallel), string(config.DispatchModeSequential)},
	}
}

func NewFailurePolicyEnumProvider() EnumProvider {
	return &staticEnumProvider{
		name:   "failurePolicies",
		values: []string{string(config.FailurePolicyContinue), string(config.FailurePolicyHalt)},
	}
}

func NewSiemTypeEnumProvider() EnumProvider {
	return &staticEnumProvider{
		name:   "siemTypes",
		values: []string{string(config.SiemTypeHttp), string(config.SiemTypeSqlite)},
	}
}

type TaskEnumProvider struct {
	configSource config.Source
}

func NewTaskEnumProvider(configSource config.Source) EnumProvider {
	return &TaskEnumProvider{configSource: configSource}
}

func (t *TaskEnumProvider) Name() string {
	return "tasks"
}

func (t *TaskEnumProvider) Values() ([]string, error) {
	r, err := t.configSource.Get()
	if err != nil {
		return nil, fmt.Errorf("failed to get tasks enum values: %w", err)
	}
	res := make([]string, 0, len(r.Cfg.Tasks.Tasks))
	for k := range r.Cfg.Tasks.Tasks {
		res = append(res, k)
	}
	sort.Strings(res)
	return res, nil
}
