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
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/timsiem/timsiem/pkg/timsiem/indicators"
)

type parser struct {
	tokens []token
	end    int
}

// Parse compiles an indicator query.
//
// The grammar, from lowest to highest precedence:
//
//	or    := and ("or" and)*
//	and   := unary (["and"] unary)*
//	unary := ("-" | "not") unary | "(" or ")" | field ":" value
func Parse(input string) (*Query, error) {
	tokens, err := tokenize(input)
	if err != nil {
		return nil, fmt.Errorf("error while tokenizing: %w", err)
	}
	p := parser{tokens: tokens, end: len(input)}
	p.skipWhitespace()
	if p.peek() == tokenInvalid {
		return nil, errors.New("query is empty")
	}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	p.skipWhitespace()
	if p.peek() != tokenInvalid {
		return nil, fmt.Errorf("unexpected %v at offset=%v", p.peek(), p.offset())
	}
	return &Query{root: root, source: input}, nil
}

func (p *parser) peek() tokenType {
	if len(p.tokens) == 0 {
		return tokenInvalid
	}
	return p.tokens[0].typ
}

func (p *parser) peekValue() string {
	if len(p.tokens) == 0 {
		return ""
	}
	return p.tokens[0].value
}

func (p *parser) offset() int {
	if len(p.tokens) == 0 {
		return p.end
	}
	return p.tokens[0].offset
}

func (p *parser) take() *token {
	ret := &p.tokens[0]
	p.tokens = p.tokens[1:]
	return ret
}

func (p *parser) skipWhitespace() {
	for len(p.tokens) > 0 && p.tokens[0].typ == tokenWhitespace {
		p.tokens = p.tokens[1:]
	}
}

func (p *parser) parseOr() (node, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	children := []node{first}
	for {
		p.skipWhitespace()
		if p.peek() != tokenKeyword || p.peekValue() != keywordOr {
			break
		}
		p.take()
		next, err := p.parseAnd()
		if err != nil {
			return nil, fmt.Errorf("error while parsing right side of 'or': %w", err)
		}
		children = append(children, next)
	}
	if len(children) == 1 {
		return first, nil
	}
	return &orNode{children: children}, nil
}

func (p *parser) parseAnd() (node, error) {
	first, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	children := []node{first}
	for {
		p.skipWhitespace()
		if p.peek() == tokenKeyword && p.peekValue() == keywordAnd {
			p.take()
			next, err := p.parseUnary()
			if err != nil {
				return nil, fmt.Errorf("error while parsing right side of 'and': %w", err)
			}
			children = append(children, next)
			continue
		}
		// Two terms next to each other are implicitly combined with "and"
		if p.startsUnary() {
			next, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			children = append(children, next)
			continue
		}
		break
	}
	if len(children) == 1 {
		return first, nil
	}
	return &andNode{children: children}, nil
}

func (p *parser) startsUnary() bool {
	switch p.peek() {
	case tokenString, tokenQuotedString, tokenLparen, tokenMinus:
		return true
	case tokenKeyword:
		return p.peekValue() == keywordNot
	default:
		return false
	}
}

func (p *parser) parseUnary() (node, error) {
	p.skipWhitespace()
	switch p.peek() {
	case tokenMinus:
		p.take()
		if p.peek() == tokenWhitespace || p.peek() == tokenInvalid {
			return nil, fmt.Errorf("expected predicate or '(' directly after '-' at offset=%v", p.offset())
		}
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notNode{child: child}, nil
	case tokenKeyword:
		if p.peekValue() != keywordNot {
			return nil, fmt.Errorf("unexpected keyword '%v' at offset=%v", p.peekValue(), p.offset())
		}
		p.take()
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notNode{child: child}, nil
	case tokenLparen:
		start := p.offset()
		p.take()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		p.skipWhitespace()
		if p.peek() != tokenRparen {
			return nil, fmt.Errorf("expected ')' to close '(' at offset=%v, got %v at offset=%v", start, p.peek(), p.offset())
		}
		p.take()
		return inner, nil
	case tokenString:
		return p.parsePredicate()
	case tokenInvalid:
		return nil, errors.New("unexpected end of query, expected predicate or '('")
	default:
		return nil, fmt.Errorf("unexpected %v at offset=%v, expected predicate or '('", p.peek(), p.offset())
	}
}

func (p *parser) parsePredicate() (node, error) {
	tok := p.take()
	idx := strings.IndexRune(tok.value, ':')
	if idx <= 0 {
		return nil, fmt.Errorf("expected field:value at offset=%v, got '%v'", tok.offset, tok.value)
	}
	fieldName := strings.ToLower(tok.value[:idx])
	f, ok := fieldsByName[fieldName]
	if !ok {
		return nil, fmt.Errorf("unknown field '%v' at offset=%v", tok.value[:idx], tok.offset)
	}
	value := tok.value[idx+1:]
	if value == "" && p.peek() == tokenQuotedString {
		value = p.take().value
	}
	if value == "" {
		return nil, fmt.Errorf("missing value for field '%v' at offset=%v", fieldName, tok.offset)
	}
	pred := &predicateNode{field: f, value: value}
	if strings.ContainsAny(value, "*?[") {
		if _, err := path.Match(value, ""); err != nil {
			return nil, fmt.Errorf("invalid pattern '%v' for field '%v' at offset=%v: %w", value, fieldName, tok.offset, err)
		}
		pred.pattern = true
	}
	if f == fieldType && !pred.pattern {
		t, err := indicators.ParseType(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for field 'type' at offset=%v: %w", tok.offset, err)
		}
		pred.indicatorType = t
	}
	return pred, nil
}
