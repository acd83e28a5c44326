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

import "testing"

func TestTokenize(t *testing.T) {
	tokens, err := tokenize(`-tags:pending_review AND (tags:"a \"b\"")`)
	if err != nil {
		t.Fatalf("got unexpected error: %v", err)
	}
	expected := []token{
		{typ: tokenMinus, value: "-"},
		{typ: tokenString, value: "tags:pending_review"},
		{typ: tokenWhitespace, value: " "},
		{typ: tokenKeyword, value: "and"},
		{typ: tokenWhitespace, value: " "},
		{typ: tokenLparen, value: "("},
		{typ: tokenString, value: "tags:"},
		{typ: tokenQuotedString, value: `a "b"`},
		{typ: tokenRparen, value: ")"},
	}
	if len(tokens) != len(expected) {
		t.Fatalf("expected %v tokens but got %v: %v", len(expected), len(tokens), tokens)
	}
	for i, tok := range tokens {
		if tok.typ != expected[i].typ || tok.value != expected[i].value {
			t.Errorf("token %v: expected typ=%v value=%q but got typ=%v value=%q", i, expected[i].typ, expected[i].value, tok.typ, tok.value)
		}
	}
}

func TestTokenizeMinusInsideWord(t *testing.T) {
	tokens, err := tokenize("value:http://evil-domain.com/a-b")
	if err != nil {
		t.Fatalf("got unexpected error: %v", err)
	}
	if len(tokens) != 1 {
		t.Fatalf("expected 1 token but got %v: %v", len(tokens), tokens)
	}
	if tokens[0].typ != tokenString || tokens[0].value != "value:http://evil-domain.com/a-b" {
		t.Fatalf("got unexpected token %v", tokens[0])
	}
}

func TestTokenizeOffsets(t *testing.T) {
	tokens, err := tokenize("(tags:a)")
	if err != nil {
		t.Fatalf("got unexpected error: %v", err)
	}
	expectedOffsets := []int{0, 1, 7}
	for i, tok := range tokens {
		if tok.offset != expectedOffsets[i] {
			t.Errorf("token %v: expected offset=%v but got %v", i, expectedOffsets[i], tok.offset)
		}
	}
}

func TestTokenizeUnclosedQuote(t *testing.T) {
	_, err := tokenize(`tags:"abc`)
	if err == nil {
		t.Fatal("expected error for unclosed quote but got nil")
	}
	_, err = tokenize(`tags:"`)
	if err == nil {
		t.Fatal("expected error for quote at end of string but got nil")
	}
}
