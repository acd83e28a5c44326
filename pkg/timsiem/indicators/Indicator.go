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

package indicators

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrNotFound = errors.New("indicator not found")

// Type is the kind of security artifact an indicator describes.
type Type string

const (
	TypeIP     Type = "IP"
	TypeFile   Type = "File"
	TypeDomain Type = "Domain"
	TypeURL    Type = "URL"
)

// AllTypes lists the indicator types that can be sent to the SIEM, in the order the playbook references them.
var AllTypes = [...]Type{TypeFile, TypeIP, TypeURL, TypeDomain}

// ParseType converts a type name as written in a query or feed (for example "ip", "file" or "Domain") to a Type.
func ParseType(s string) (Type, error) {
	trimmed := strings.TrimSpace(s)
	for _, t := range AllTypes {
		if strings.EqualFold(trimmed, string(t)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown indicator type='%s'", s)
}

type Indicator struct {
	Id        string
	Type      Type
	Value     string
	Source    string
	Tags      []string
	FirstSeen time.Time
	LastSeen  time.Time
}

// HasTag reports whether the indicator carries the tag, ignoring case.
func (i *Indicator) HasTag(tag string) bool {
	for _, t := range i.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// Filter decides which indicators a consumer is interested in.
// Types is used by repositories to narrow the candidates before Matches is called, an empty slice means any type.
type Filter interface {
	Matches(i *Indicator) bool
	Types() []Type
}

type Repository interface {
	Upsert(ctx context.Context, indicators []Indicator) error
	Get(ctx context.Context, id string) (*Indicator, error)
	// FilterStream sends matching indicators in batches of at most batchSize.
	// Both channels are closed when the stream ends, the error channel receives at most one error.
	FilterStream(ctx context.Context, filter Filter, batchSize int) (<-chan []Indicator, <-chan error)
	Count(ctx context.Context) (int64, error)
}
