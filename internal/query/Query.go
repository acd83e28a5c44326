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
	"path"
	"strings"

	"github.com/timsiem/timsiem/pkg/timsiem/indicators"
)

type field int

const (
	fieldType   field = 1
	fieldTags   field = 2
	fieldValue  field = 3
	fieldSource field = 4
)

var fieldsByName = map[string]field{
	"type":   fieldType,
	"tags":   fieldTags,
	"value":  fieldValue,
	"source": fieldSource,
}

func (f field) String() string {
	switch f {
	case fieldType:
		return "type"
	case fieldTags:
		return "tags"
	case fieldValue:
		return "value"
	case fieldSource:
		return "source"
	default:
		return "unknown"
	}
}

// Query is a compiled indicator query. It is immutable once parsed and safe for concurrent use.
type Query struct {
	root   node
	source string
}

// Source returns the query exactly as it was given to Parse.
func (q *Query) Source() string {
	return q.source
}

// String returns the canonical form of the query. Parsing the canonical form yields an equivalent query.
func (q *Query) String() string {
	return q.root.String()
}

// Matches reports whether the indicator satisfies the query.
func (q *Query) Matches(i *indicators.Indicator) bool {
	return q.root.matches(i)
}

// Types returns the indicator types the query is able to match. A nil return value means any type may match.
func (q *Query) Types() []indicators.Type {
	s := q.root.types()
	if s.isAll() {
		return nil
	}
	ret := make([]indicators.Type, 0, len(s))
	for _, t := range indicators.AllTypes {
		if s.has(t) {
			ret = append(ret, t)
		}
	}
	return ret
}

type node interface {
	matches(i *indicators.Indicator) bool
	types() typeSet
	String() string
}

type andNode struct {
	children []node
}

func (n *andNode) matches(i *indicators.Indicator) bool {
	for _, c := range n.children {
		if !c.matches(i) {
			return false
		}
	}
	return true
}

func (n *andNode) types() typeSet {
	s := allTypes()
	for _, c := range n.children {
		s = s.intersect(c.types())
	}
	return s
}

func (n *andNode) String() string {
	parts := make([]string, len(n.children))
	for i, c := range n.children {
		if _, isOr := c.(*orNode); isOr {
			parts[i] = "(" + c.String() + ")"
		} else {
			parts[i] = c.String()
		}
	}
	return strings.Join(parts, " and ")
}

type orNode struct {
	children []node
}

func (n *orNode) matches(i *indicators.Indicator) bool {
	for _, c := range n.children {
		if c.matches(i) {
			return true
		}
	}
	return false
}

func (n *orNode) types() typeSet {
	s := typeSet{}
	for _, c := range n.children {
		s = s.union(c.types())
	}
	return s
}

func (n *orNode) String() string {
	parts := make([]string, len(n.children))
	for i, c := range n.children {
		parts[i] = c.String()
	}
	return strings.Join(parts, " or ")
}

type notNode struct {
	child node
}

func (n *notNode) matches(i *indicators.Indicator) bool {
	return !n.child.matches(i)
}

func (n *notNode) types() typeSet {
	if p, ok := n.child.(*predicateNode); ok && p.field == fieldType && !p.pattern {
		s := allTypes()
		delete(s, p.indicatorType)
		return s
	}
	return allTypes()
}

func (n *notNode) String() string {
	switch n.child.(type) {
	case *andNode, *orNode:
		return "-(" + n.child.String() + ")"
	default:
		return "-" + n.child.String()
	}
}

type predicateNode struct {
	field         field
	value         string
	pattern       bool
	indicatorType indicators.Type
}

func (n *predicateNode) matches(i *indicators.Indicator) bool {
	switch n.field {
	case fieldType:
		if n.pattern {
			return n.match(string(i.Type))
		}
		return i.Type == n.indicatorType
	case fieldTags:
		for _, t := range i.Tags {
			if n.match(t) {
				return true
			}
		}
		return false
	case fieldValue:
		return n.match(i.Value)
	case fieldSource:
		return n.match(i.Source)
	default:
		return false
	}
}

func (n *predicateNode) match(actual string) bool {
	if !n.pattern {
		return strings.EqualFold(n.value, actual)
	}
	ok, err := path.Match(strings.ToLower(n.value), strings.ToLower(actual))
	return err == nil && ok
}

func (n *predicateNode) types() typeSet {
	if n.field != fieldType {
		return allTypes()
	}
	if !n.pattern {
		return typeSet{n.indicatorType: {}}
	}
	s := typeSet{}
	for _, t := range indicators.AllTypes {
		if n.match(string(t)) {
			s[t] = struct{}{}
		}
	}
	return s
}

func (n *predicateNode) String() string {
	return n.field.String() + ":" + quoteIfNeeded(n.value)
}

func quoteIfNeeded(v string) string {
	if !strings.ContainsAny(v, whiteSpace+"()\"\\") && !strings.HasPrefix(v, "-") && !isKeyword(strings.ToLower(v)) {
		return v
	}
	return "\"" + strings.NewReplacer("\\", "\\\\", "\"", "\\\"").Replace(v) + "\""
}

type typeSet map[indicators.Type]struct{}

func allTypes() typeSet {
	s := make(typeSet, len(indicators.AllTypes))
	for _, t := range indicators.AllTypes {
		s[t] = struct{}{}
	}
	return s
}

func (s typeSet) isAll() bool {
	return len(s) == len(indicators.AllTypes)
}

func (s typeSet) has(t indicators.Type) bool {
	_, ok := s[t]
	return ok
}

func (s typeSet) intersect(o typeSet) typeSet {
	ret := typeSet{}
	for t := range s {
		if o.has(t) {
			ret[t] = struct{}{}
		}
	}
	return ret
}

func (s typeSet) union(o typeSet) typeSet {
	ret := typeSet{}
	for t := range s {
		ret[t] = struct{}{}
	}
	for t := range o {
		ret[t] = struct{}{}
	}
	return ret
}
