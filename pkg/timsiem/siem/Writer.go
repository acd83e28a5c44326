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
	"time"
)

// Record is a single indicator in the shape the SIEM ingests it.
type Record struct {
	IndicatorId string            `json:"indicatorId"`
	Type        string            `json:"type"`
	Value       string            `json:"value"`
	Tags        []string          `json:"tags"`
	Fields      map[string]string `json:"fields,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

type Writer interface {
	Name() string
	Write(ctx context.Context, records []Record) error
}
