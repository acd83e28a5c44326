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

package query

import (
	"strings"

	"github.com/timsiem/timsiem/pkg/timsiem/indicators"
)

// DefaultQuery selects every reviewed indicator of a supported type that carries one of the approval tags.
const DefaultQuery = "(type:ip or type:file or type:Domain or type:URL) -tags:pending_review and (tags:approved_black or tags:approved_white or tags:approved_watchlist)"

// Effective returns the query that applies for an optional query input.
// A nil or blank input means the input was not supplied, anything else replaces the default as is.
func Effective(input *string) string {
	if input == nil || strings.TrimSpace(*input) == "" {
		return DefaultQuery
	}
	return *input
}

// TypeName returns the name used for the type in queries.
func TypeName(t indicators.Type) string {
	switch t {
	case indicators.TypeIP:
		return "ip"
	case indicators.TypeFile:
		return "file"
	default:
		return string(t)
	}
}

// Scope restricts a query to a single indicator type.
func Scope(q string, t indicators.Type) string {
	return "type:" + TypeName(t) + " and (" + q + ")"
}
