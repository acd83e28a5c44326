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

package runs

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("run not found")

type State int32

const (
	StateRunning  State = 1
	StateFinished State = 2
	StateAborted  State = 3
	StateFailed   State = 4
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	case StateAborted:
		return "aborted"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type Run struct {
	Id                 int64
	State              State
	Query              string
	Trigger            string
	StartTime, EndTime *time.Time
}

type DelegateResult struct {
	RunId    int64
	Playbook string
	Matched  int
	Written  int
	Skipped  int
	Error    string
}

type Repository interface {
	Insert(ctx context.Context, query string, trigger string, startTime time.Time) (id *int64, err error)
	Get(ctx context.Context, id int64) (*Run, error)
	List(ctx context.Context, skip int, take int) ([]Run, error)
	UpdateState(ctx context.Context, id int64, state State, endTime *time.Time) error
	AddDelegateResult(ctx context.Context, result DelegateResult) error
	GetDelegateResults(ctx context.Context, id int64) ([]DelegateResult, error)
	DeleteOlderThan(ctx context.Context, t time.Time) (int64, error)
}
