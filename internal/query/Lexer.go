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
	"fmt"
	"strings"
	"unicode/utf8"
)

type tokenType int

const (
	tokenString       tokenType = 0
	tokenQuotedString tokenType = 1
	tokenWhitespace   tokenType = 2
	tokenLparen       tokenType = 3
	tokenRparen       tokenType = 4
	tokenMinus        tokenType = 5
	tokenKeyword      tokenType = 6

	tokenInvalid tokenType = 0xBEEF
)

func (t tokenType) String() string {
	switch t {
	case tokenString:
		return "string"
	case tokenQuotedString:
		return "quoted string"
	case tokenWhitespace:
		return "whitespace"
	case tokenLparen:
		return "'('"
	case tokenRparen:
		return "')'"
	case tokenMinus:
		return "'-'"
	case tokenKeyword:
		return "keyword"
	default:
		return "end of query"
	}
}

type token struct {
	typ    tokenType
	value  string
	offset int
}

const (
	keywordAnd = "and"
	keywordOr  = "or"
	keywordNot = "not"
)

var keywords = [...]string{
	keywordAnd,
	keywordOr,
	keywordNot,
}

const whiteSpace = " \n\t\r"

// A word ends at whitespace, a parenthesis or the start of a quoted string.
// Colons and minus signs inside a word are part of it, so values such as
// "http://example.com/a-b" do not need quoting.
var wordDelimiters = whiteSpace + "()\""

func tokenize(input string) ([]token, error) {
	tokens := make([]token, 0, 8)
	for i := 0; i < len(input); {
		r, size := utf8.DecodeRuneInString(input[i:])
		switch {
		case strings.ContainsRune(whiteSpace, r):
			tokens = append(tokens, token{typ: tokenWhitespace, value: string(r), offset: i})
			i += size
		case r == '(':
			tokens = append(tokens, token{typ: tokenLparen, value: "(", offset: i})
			i += size
		case r == ')':
			tokens = append(tokens, token{typ: tokenRparen, value: ")", offset: i})
			i += size
		case r == '-':
			tokens = append(tokens, token{typ: tokenMinus, value: "-", offset: i})
			i += size
		case r == '"':
			str, consumed, err := readQuoted(input[i+1:])
			if err != nil {
				return nil, fmt.Errorf("%w at offset=%v", err, i)
			}
			tokens = append(tokens, token{typ: tokenQuotedString, value: str, offset: i})
			i += 1 + consumed
		default:
			remainder := input[i:]
			end := strings.IndexAny(remainder, wordDelimiters)
			if end == -1 {
				end = len(remainder)
			}
			str := remainder[:end]
			lowered := strings.ToLower(str)
			if isKeyword(lowered) {
				tokens = append(tokens, token{typ: tokenKeyword, value: lowered, offset: i})
			} else {
				tokens = append(tokens, token{typ: tokenString, value: str, offset: i})
			}
			i += end
		}
	}
	return tokens, nil
}

// readQuoted reads a quoted string whose opening quote has already been consumed.
// It returns the unescaped value and the number of bytes consumed including the closing quote.
func readQuoted(s string) (string, int, error) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) && (s[i+1] == '"' || s[i+1] == '\\') {
			b.WriteByte(s[i+1])
			i++
			continue
		}
		if c == '"' {
			return b.String(), i + 1, nil
		}
		b.WriteByte(c)
	}
	return "", 0, fmt.Errorf("unclosed quote")
}

func isKeyword(lowered string) bool {
	for _, kw := range keywords {
		if kw == lowered {
			return true
		}
	}
	return false
}
