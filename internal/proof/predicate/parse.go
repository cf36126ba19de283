package predicate

import (
	"strconv"
	"strings"
	"unicode"

	"veritas/internal/credential/models"
)

const maxPredicateLen = 4096

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokOp
	tokInt
	tokString
	tokEOF
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// Parse reads a predicate. OR, NOT, != and parentheses are rejected: the
// language is a flat conjunction.
func Parse(input string) (Predicate, error) {
	if len(input) > maxPredicateLen {
		return Predicate{}, violation("predicate is too long")
	}
	toks, err := lex(input)
	if err != nil {
		return Predicate{}, err
	}
	var atoms []Atom
	i := 0
	for {
		atom, next, err := parseAtom(toks, i)
		if err != nil {
			return Predicate{}, err
		}
		atoms = append(atoms, atom)
		i = next
		if toks[i].kind == tokEOF {
			break
		}
		if toks[i].kind != tokIdent || toks[i].text != "AND" {
			return Predicate{}, unexpected(toks[i])
		}
		i++
	}
	return New(atoms...), nil
}

func parseAtom(toks []token, i int) (Atom, int, error) {
	name := toks[i]
	if name.kind != tokIdent || isKeyword(name.text) {
		return Atom{}, i, unexpected(name)
	}
	op := toks[i+1]
	if op.kind != tokOp {
		return Atom{}, i, unexpected(op)
	}
	lit := toks[i+2]
	var value models.Value
	switch lit.kind {
	case tokInt:
		n, err := strconv.ParseUint(lit.text, 10, 64)
		if err != nil || n >= models.MaxInteger {
			return Atom{}, i, violation("integer literal %s out of range at %d", lit.text, lit.pos)
		}
		value = models.IntValue(n)
	case tokString:
		value = models.StringValue(lit.text)
	case tokIdent:
		switch lit.text {
		case "true":
			value = models.BoolValue(true)
		case "false":
			value = models.BoolValue(false)
		default:
			return Atom{}, i, unexpected(lit)
		}
	default:
		return Atom{}, i, unexpected(lit)
	}
	return Atom{Attribute: name.text, Op: Op(op.text), Value: value}, i + 3, nil
}

func lex(input string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(input) {
		c := rune(input[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(' || c == ')':
			return nil, violation("nested expressions are not supported (offset %d)", i)
		case c == '!':
			return nil, violation("negation is not supported (offset %d)", i)
		case c == '|' || c == '&':
			return nil, violation("use AND to combine atoms (offset %d)", i)
		case c == '=' || c == '<' || c == '>':
			op := string(c)
			if i+1 < len(input) && input[i+1] == '=' {
				op += "="
			}
			if op == "=" {
				return nil, violation("use == for equality (offset %d)", i)
			}
			toks = append(toks, token{kind: tokOp, text: op, pos: i})
			i += len(op)
		case c == '"':
			end := i + 1
			for end < len(input) && input[end] != '"' {
				if input[end] == '\\' {
					end++
				}
				end++
			}
			if end >= len(input) {
				return nil, violation("unterminated string literal (offset %d)", i)
			}
			s, err := strconv.Unquote(input[i : end+1])
			if err != nil {
				return nil, violation("invalid string literal (offset %d)", i)
			}
			toks = append(toks, token{kind: tokString, text: s, pos: i})
			i = end + 1
		case c >= '0' && c <= '9':
			start := i
			for i < len(input) && input[i] >= '0' && input[i] <= '9' {
				i++
			}
			toks = append(toks, token{kind: tokInt, text: input[start:i], pos: start})
		case c == '-':
			return nil, violation("negative literals are not supported (offset %d)", i)
		case isIdentStart(c):
			start := i
			for i < len(input) && isIdentPart(rune(input[i])) {
				i++
			}
			word := input[start:i]
			switch strings.ToUpper(word) {
			case "OR":
				return nil, violation("OR is not supported (offset %d)", start)
			case "NOT":
				return nil, violation("NOT is not supported (offset %d)", start)
			}
			toks = append(toks, token{kind: tokIdent, text: word, pos: start})
		default:
			return nil, violation("unexpected character %q at offset %d", c, i)
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(input)}, token{kind: tokEOF, pos: len(input)}, token{kind: tokEOF, pos: len(input)})
	return toks, nil
}

func isIdentStart(c rune) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c rune) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9') || c == '.'
}

func isKeyword(s string) bool {
	return s == "AND" || s == "true" || s == "false"
}

func unexpected(t token) error {
	if t.kind == tokEOF {
		return violation("unexpected end of predicate")
	}
	return violation("unexpected %q at offset %d", t.text, t.pos)
}
