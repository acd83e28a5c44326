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
	"testing"

	"github.com/timsiem/timsiem/pkg/timsiem/indicators"
)

func TestEffectiveWithoutInputIsDefault(t *testing.T) {
	if Effective(nil) != DefaultQuery {
		t.Fatalf("expected Effective(nil) to be the default query but got %q", Effective(nil))
	}
	empty := ""
	if Effective(&empty) != DefaultQuery {
		t.Fatalf("expected empty input to give the default query but got %q", Effective(&empty))
	}
	blank := "  \t"
	if Effective(&blank) != DefaultQuery {
		t.Fatalf("expected blank input to give the default query but got %q", Effective(&blank))
	}
}

func TestEffectiveCustomReplacesDefault(t *testing.T) {
	custom := "type:file and tags:approved_black"
	if Effective(&custom) != custom {
		t.Fatalf("expected custom query to be used as is but got %q", Effective(&custom))
	}
}

func TestDefaultQueryLiteral(t *testing.T) {
	expected := "(type:ip or type:file or type:Domain or type:URL) -tags:pending_review and (tags:approved_black or tags:approved_white or tags:approved_watchlist)"
	if DefaultQuery != expected {
		t.Fatalf("default query changed, got %q", DefaultQuery)
	}
}

func TestDefaultQueryStructure(t *testing.T) {
	q, err := Parse(DefaultQuery)
	if err != nil {
		t.Fatalf("got error when parsing default query: %v", err)
	}
	approved := []string{"approved_black", "approved_white", "approved_watchlist"}
	for _, typ := range indicators.AllTypes {
		for _, tag := range approved {
			i := &indicators.Indicator{Type: typ, Value: "x", Tags: []string{tag}}
			if !q.Matches(i) {
				t.Errorf("expected type=%v with tag=%v to match", typ, tag)
			}
			i.Tags = append(i.Tags, "pending_review")
			if q.Matches(i) {
				t.Errorf("expected type=%v with tag=%v and pending_review not to match", typ, tag)
			}
		}
		if q.Matches(&indicators.Indicator{Type: typ, Value: "x"}) {
			t.Errorf("expected untagged type=%v not to match", typ)
		}
		if q.Matches(&indicators.Indicator{Type: typ, Value: "x", Tags: []string{"approved_grey"}}) {
			t.Errorf("expected type=%v with an unknown approval tag not to match", typ)
		}
	}
	if q.Matches(&indicators.Indicator{Type: indicators.Type("Email"), Value: "a@b.c", Tags: []string{"approved_black"}}) {
		t.Error("expected unsupported type not to match")
	}
}

func TestScope(t *testing.T) {
	scoped := Scope(DefaultQuery, indicators.TypeIP)
	q, err := Parse(scoped)
	if err != nil {
		t.Fatalf("got error when parsing scoped query %q: %v", scoped, err)
	}
	if !q.Matches(&indicators.Indicator{Type: indicators.TypeIP, Value: "1.1.1.1", Tags: []string{"approved_black"}}) {
		t.Error("expected approved ip to match ip-scoped query")
	}
	if q.Matches(&indicators.Indicator{Type: indicators.TypeURL, Value: "http://a", Tags: []string{"approved_black"}}) {
		t.Error("expected approved url not to match ip-scoped query")
	}
}

func TestTypeName(t *testing.T) {
	expected := map[indicators.Type]string{
		indicators.TypeIP:     "ip",
		indicators.TypeFile:   "file",
		indicators.TypeDomain: "Domain",
		indicators.TypeURL:    "URL",
	}
	for typ, name := range expected {
		if TypeName(typ) != name {
			t.Errorf("expected TypeName(%v)=%v but got %v", typ, name, TypeName(typ))
		}
	}
}
