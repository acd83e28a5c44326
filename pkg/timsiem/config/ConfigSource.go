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

package config

import "time"

type Response struct {
	Modified time.Time
	Cfg      Config
}

type Source interface {
	Changes() <-chan struct{}
	Get() (*Response, error)
}

type StaticSource struct {
	Config Config
}

func (s *StaticSource) Get() (*Response, error) {
	return &Response{Modified: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), Cfg: s.Config}, nil
}

func (s *StaticSource) Changes() <-chan struct{} {
	return make(<-chan struct{})
}
