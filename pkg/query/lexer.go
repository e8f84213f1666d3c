package query

import (
	"strings"
	"unicode"

	"github.com/velesdb/velesdb/internal/verror"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokKeyword
	tokNumber
	tokString
	tokParam
	tokPunct
)

type token struct {
	kind tokKind
	text string
	line int
	col  int
}

type tokKind = tokenKind

var keywords = map[string]bool{
	"select": true, "distinct": true, "from": true, "where": true, "join": true,
	"group": true, "by": true, "with": true, "having": true, "order": true,
	"limit": true, "offset": true, "using": true, "fusion": true, "and": true,
	"or": true, "not": true, "like": true, "ilike": true, "in": true, "is": true,
	"null": true, "true": true, "false": true, "union": true, "all": true,
	"intersect": true, "except": true, "match": true, "return": true,
	"insert": true, "into": true, "values": true, "update": true, "set": true,
	"asc": true, "desc": true, "near": true, "vector": true, "between": true,
}

// lex tokenizes a VelesQL source string. Grounded on the teacher pack's
// cypher tokenizer shape (whitespace-delimited tokens promoted to
// operators/strings/params) but expressed as a proper scanning lexer so
// string literals and multi-character operators don't get mis-split on
// embedded spaces.
func lex(src string) ([]token, error) {
	var toks []token
	runes := []rune(src)
	i, line, col := 0, 1, 1
	advance := func(n int) {
		for k := 0; k < n; k++ {
			if i < len(runes) && runes[i] == '\n' {
				line++
				col = 1
			} else {
				col++
			}
			i++
		}
	}

	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			advance(1)
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				advance(1)
			}
		case r == '\'' || r == '"':
			start, startLine, startCol := i, line, col
			quote := r
			advance(1)
			var sb strings.Builder
			closed := false
			for i < len(runes) {
				if runes[i] == quote {
					advance(1)
					closed = true
					break
				}
				sb.WriteRune(runes[i])
				advance(1)
			}
			if !closed {
				return nil, verror.Parse("query.lex", startLine, startCol, "unterminated string literal")
			}
			_ = start
			toks = append(toks, token{kind: tokString, text: sb.String(), line: startLine, col: startCol})
		case r == '$':
			startLine, startCol := line, col
			advance(1)
			var sb strings.Builder
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				sb.WriteRune(runes[i])
				advance(1)
			}
			if sb.Len() == 0 {
				return nil, verror.Parse("query.lex", startLine, startCol, "empty parameter name")
			}
			toks = append(toks, token{kind: tokParam, text: sb.String(), line: startLine, col: startCol})
		case unicode.IsDigit(r):
			startLine, startCol := line, col
			var sb strings.Builder
			for i < len(runes) && (unicode.IsDigit(runes[i]) || (runes[i] == '.' && !(i+1 < len(runes) && runes[i+1] == '.'))) {
				sb.WriteRune(runes[i])
				advance(1)
			}
			toks = append(toks, token{kind: tokNumber, text: sb.String(), line: startLine, col: startCol})
		case unicode.IsLetter(r) || r == '_':
			startLine, startCol := line, col
			var sb strings.Builder
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				sb.WriteRune(runes[i])
				advance(1)
			}
			word := sb.String()
			kind := tokIdent
			if keywords[strings.ToLower(word)] {
				kind = tokKeyword
			}
			toks = append(toks, token{kind: kind, text: word, line: startLine, col: startCol})
		default:
			startLine, startCol := line, col
			two := ""
			if i+1 < len(runes) {
				two = string(runes[i : i+2])
			}
			switch two {
			case "!=", "<=", ">=", "->":
				toks = append(toks, token{kind: tokPunct, text: two, line: startLine, col: startCol})
				advance(2)
				continue
			}
			toks = append(toks, token{kind: tokPunct, text: string(r), line: startLine, col: startCol})
			advance(1)
		}
	}
	toks = append(toks, token{kind: tokEOF, line: line, col: col})
	return toks, nil
}
