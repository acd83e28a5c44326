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

	"github.com/timsiem/timsiem/pkg/timsiem/indicators"
)

const (
	NameAddBadHashIndicatorsToSiem = "TIM - Add Bad Hash Indicators To SIEM"
	NameAddIPIndicatorsToSiem      = "TIM - Add IP Indicators To SIEM"
	NameAddUrlIndicatorsToSiem     = "TIM - Add Url Indicators To SIEM"
	NameAddDomainIndicatorsToSiem  = "TIM - Add Domain Indicators To SIEM"
)

// SubPlaybook is a delegate of the dispatcher. It receives the full indicator query and is
// responsible for restricting it to its own indicator type, reading the indicators and writing them to the SIEM.
type SubPlaybook interface {
	Name() string
	IndicatorType() indicators.Type
	Run(ctx context.Context, query string) (*Result, error)
}

type Result struct {
	Matched int
	Written int
	Skipped int
}

// Input describes a named playbook input.
type Input struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Default     string `json:"default"`
	Required    bool   `json:"required"`
}

// Output describes a named playbook output.
type Output struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}
