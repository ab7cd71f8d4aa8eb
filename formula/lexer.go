/*
Package formula implements the restricted expression language used by
calculation rules.

PURPOSE:
  Payroll administrators author formulas such as

    MIN(basic + da, 15000) * 12 / 100
    IF(monthly_gross <= 21000, gross_earnings * 0.75 / 100, 0)

  This package turns such a string into a Program once, and evaluates the
  Program many times against per-employee facts.

GRAMMAR (lowest to highest precedence):
  or         := and { ("OR" | "||") and }
  and        := comparison { ("AND" | "&&") comparison }
  comparison := additive [ ("==" | "!=" | ">" | "<" | ">=" | "<=") additive ]
  additive   := multiplicative { ("+" | "-") multiplicative }
  multiplicative := unary { ("*" | "/" | "%") unary }
  unary      := "-" unary | primary
  primary    := NUMBER | IDENT | IDENT "(" args ")" | "(" or ")"

  No loops, no assignment, no user-defined functions. Comparisons do not
  chain: "a < b < c" is rejected.

NUMERIC MODEL:
  All arithmetic uses decimal.Decimal. Comparisons and logical operators
  yield 1 or 0; any non-zero value is true.

SEE ALSO:
  - parser.go: Program construction and limits
  - eval.go:   Evaluation against Facts
  - errors.go: ParseError / EvalError
*/
package formula

import (
	"strings"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokAnd
	tokOr
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokPercent
	tokEq
	tokNeq
	tokGt
	tokLt
	tokGte
	tokLte
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
	pos  int // 1-based column
}

func (t token) display() string {
	if t.kind == tokEOF {
		return "end of expression"
	}
	return t.text
}

// lex splits src into tokens. The returned slice always ends with tokEOF.
func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		pos := i + 1

		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
			continue

		case isDigit(c) || (c == '.' && i+1 < len(src) && isDigit(src[i+1])):
			start := i
			for i < len(src) && isDigit(src[i]) {
				i++
			}
			if i < len(src) && src[i] == '.' {
				i++
				if i >= len(src) || !isDigit(src[i]) {
					return nil, &ParseError{Kind: KindInvalidNumber, Pos: pos, Token: src[start:i], Msg: "digits expected after decimal point"}
				}
				for i < len(src) && isDigit(src[i]) {
					i++
				}
			}
			toks = append(toks, token{kind: tokNumber, text: src[start:i], pos: pos})
			continue

		case isIdentStart(c):
			start := i
			for i < len(src) && isIdentPart(src[i]) {
				i++
			}
			word := src[start:i]
			switch strings.ToUpper(word) {
			case "AND":
				toks = append(toks, token{kind: tokAnd, text: word, pos: pos})
			case "OR":
				toks = append(toks, token{kind: tokOr, text: word, pos: pos})
			default:
				toks = append(toks, token{kind: tokIdent, text: word, pos: pos})
			}
			continue
		}

		if i+1 < len(src) {
			if kind, ok := twoCharOps[src[i:i+2]]; ok {
				toks = append(toks, token{kind: kind, text: src[i : i+2], pos: pos})
				i += 2
				continue
			}
		}

		var kind tokenKind
		switch c {
		case '+':
			kind = tokPlus
		case '-':
			kind = tokMinus
		case '*':
			kind = tokStar
		case '/':
			kind = tokSlash
		case '%':
			kind = tokPercent
		case '>':
			kind = tokGt
		case '<':
			kind = tokLt
		case '(':
			kind = tokLParen
		case ')':
			kind = tokRParen
		case ',':
			kind = tokComma
		case '=':
			return nil, &ParseError{Kind: KindUnexpectedChar, Pos: pos, Token: "=", Msg: `unexpected "=" (use "==" for comparison)`}
		default:
			// Every byte before the first non-ASCII one is a character, so pos
			// is already the column; only the offending rune needs decoding.
			r, _ := utf8.DecodeRuneInString(src[i:])
			return nil, &ParseError{Kind: KindUnexpectedChar, Pos: pos, Token: string(r), Msg: "unexpected character"}
		}
		toks = append(toks, token{kind: kind, text: string(c), pos: pos})
		i++
	}
	return append(toks, token{kind: tokEOF, pos: len(src) + 1}), nil
}

var twoCharOps = map[string]tokenKind{
	"==": tokEq,
	"!=": tokNeq,
	">=": tokGte,
	"<=": tokLte,
	"&&": tokAnd,
	"||": tokOr,
}

func isDigit(c byte) bool      { return c >= '0' && c <= '9' }
func isIdentStart(c byte) bool { return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isIdentPart(c byte) bool  { return isIdentStart(c) || isDigit(c) }
