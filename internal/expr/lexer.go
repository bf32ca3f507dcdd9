package expr

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tEOF tokenKind = iota
	tIdent
	tInt
	tFloat
	tString
	tOp       // == != <= >= < > + - * / % ! && ||
	tLParen   // (
	tRParen   // )
	tLBracket // [
	tRBracket // ]
	tComma    // ,
	tDot      // .
	tPipe     // |
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) String() string {
	if t.kind == tEOF {
		return "end of expression"
	}
	return fmt.Sprintf("%q", t.text)
}

// lex splits src into tokens. Keywords (and, or, not, in, true, false, none,
// null) are emitted as identifiers and classified by the parser.
func lex(src string) ([]token, error) {
	var toks []token
	runes := []rune(src)
	i := 0

	for i < len(runes) {
		r := runes[i]

		switch {
		case unicode.IsSpace(r):
			i++

		case r == '\'' || r == '"':
			start := i
			i++
			var b strings.Builder
			closed := false
			for i < len(runes) {
				c := runes[i]
				if c == '\\' && i+1 < len(runes) {
					next := runes[i+1]
					switch next {
					case 'n':
						b.WriteRune('\n')
					case 't':
						b.WriteRune('\t')
					case '\\', '\'', '"':
						b.WriteRune(next)
					default:
						b.WriteRune('\\')
						b.WriteRune(next)
					}
					i += 2
					continue
				}
				if c == r {
					closed = true
					i++
					break
				}
				b.WriteRune(c)
				i++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated string at offset %d", start)
			}
			toks = append(toks, token{kind: tString, text: b.String(), pos: start})

		case unicode.IsDigit(r):
			start := i
			isFloat := false
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				if runes[i] == '.' {
					// A second dot ends the number (e.g. list slicing is not
					// supported, so 1..2 is a syntax error caught later).
					if isFloat {
						break
					}
					// Dot followed by a non-digit is attribute access on an
					// int literal, which the parser rejects anyway.
					if i+1 >= len(runes) || !unicode.IsDigit(runes[i+1]) {
						break
					}
					isFloat = true
				}
				i++
			}
			kind := tInt
			if isFloat {
				kind = tFloat
			}
			toks = append(toks, token{kind: kind, text: string(runes[start:i]), pos: start})

		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			toks = append(toks, token{kind: tIdent, text: string(runes[start:i]), pos: start})

		default:
			start := i
			two := ""
			if i+1 < len(runes) {
				two = string(runes[i : i+2])
			}
			switch two {
			case "==", "!=", "<=", ">=", "&&", "||":
				toks = append(toks, token{kind: tOp, text: two, pos: start})
				i += 2
				continue
			}
			switch r {
			case '<', '>', '+', '-', '*', '/', '%', '!':
				toks = append(toks, token{kind: tOp, text: string(r), pos: start})
			case '(':
				toks = append(toks, token{kind: tLParen, text: "(", pos: start})
			case ')':
				toks = append(toks, token{kind: tRParen, text: ")", pos: start})
			case '[':
				toks = append(toks, token{kind: tLBracket, text: "[", pos: start})
			case ']':
				toks = append(toks, token{kind: tRBracket, text: "]", pos: start})
			case ',':
				toks = append(toks, token{kind: tComma, text: ",", pos: start})
			case '.':
				toks = append(toks, token{kind: tDot, text: ".", pos: start})
			case '|':
				toks = append(toks, token{kind: tPipe, text: "|", pos: start})
			default:
				return nil, fmt.Errorf("unexpected character %q at offset %d", r, start)
			}
			i++
		}
	}

	toks = append(toks, token{kind: tEOF, pos: len(runes)})
	return toks, nil
}
