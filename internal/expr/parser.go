package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// AST node kinds. The grammar is deliberately small: literals, identifier
// paths, list literals, unary/binary operators, the now() helper, and filter
// pipelines. There is no assignment, no comprehension, and no arbitrary call.
type node interface{}

type litNode struct{ value any }

type identNode struct{ name string }

type listNode struct{ items []node }

type attrNode struct {
	recv node
	name string
}

type indexNode struct {
	recv  node
	index node
}

type callNode struct {
	name string
	args []node
}

type unaryNode struct {
	op      string // "-" or "not"
	operand node
}

type binaryNode struct {
	op   string
	lhs  node
	rhs  node
}

type filterNode struct {
	recv node
	name string
	args []node
}

// allowedCalls is the set of bare functions an expression may invoke.
// Everything else is rejected at parse time.
var allowedCalls = map[string]struct{}{
	"now": {},
}

type parser struct {
	toks []token
	pos  int
}

// parse compiles src into an AST.
func parse(src string) (node, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("empty expression")
	}
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tEOF {
		return nil, fmt.Errorf("unexpected %s after expression", p.peek())
	}
	return n, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }
func (p *parser) next() token { t := p.toks[p.pos]; p.pos++; return t }

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.next()
	if t.kind != kind {
		return t, fmt.Errorf("expected %s, found %s", what, t)
	}
	return t, nil
}

// Precedence ladder, loosest first:
//
//	or/||  →  and/&&  →  not/!  →  comparison/in  →  + -  →  * / %  →
//	unary -  →  | filter  →  postfix . [ (  →  primary
//
// Filters bind tighter than arithmetic, so "1 - 2 | abs" applies abs to 2.

func (p *parser) parseOr() (node, error) {
	lhs, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.matchWord("or") || p.matchOp("||") {
		rhs, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		lhs = binaryNode{op: "or", lhs: lhs, rhs: rhs}
	}
	return lhs, nil
}

func (p *parser) parseAnd() (node, error) {
	lhs, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.matchWord("and") || p.matchOp("&&") {
		rhs, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		lhs = binaryNode{op: "and", lhs: lhs, rhs: rhs}
	}
	return lhs, nil
}

func (p *parser) parseNot() (node, error) {
	if p.matchWord("not") || p.matchOp("!") {
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return unaryNode{op: "not", operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	lhs, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		var op string
		switch {
		case p.matchOp("=="):
			op = "=="
		case p.matchOp("!="):
			op = "!="
		case p.matchOp("<="):
			op = "<="
		case p.matchOp(">="):
			op = ">="
		case p.matchOp("<"):
			op = "<"
		case p.matchOp(">"):
			op = ">"
		case p.matchWord("in"):
			op = "in"
		case p.matchWord("not"):
			if !p.matchWord("in") {
				return nil, fmt.Errorf("expected 'in' after 'not' in comparison")
			}
			op = "not in"
		default:
			return lhs, nil
		}
		rhs, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		lhs = binaryNode{op: op, lhs: lhs, rhs: rhs}
	}
}

func (p *parser) parseAdditive() (node, error) {
	lhs, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		var op string
		switch {
		case p.matchOp("+"):
			op = "+"
		case p.matchOp("-"):
			op = "-"
		default:
			return lhs, nil
		}
		rhs, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		lhs = binaryNode{op: op, lhs: lhs, rhs: rhs}
	}
}

func (p *parser) parseMultiplicative() (node, error) {
	lhs, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		var op string
		switch {
		case p.matchOp("*"):
			op = "*"
		case p.matchOp("/"):
			op = "/"
		case p.matchOp("%"):
			op = "%"
		default:
			return lhs, nil
		}
		rhs, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		lhs = binaryNode{op: op, lhs: lhs, rhs: rhs}
	}
}

func (p *parser) parseUnary() (node, error) {
	if p.matchOp("-") {
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unaryNode{op: "-", operand: operand}, nil
	}
	return p.parsePipe()
}

func (p *parser) parsePipe() (node, error) {
	recv, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tPipe {
		p.next()
		nameTok, err := p.expect(tIdent, "filter name")
		if err != nil {
			return nil, err
		}
		var args []node
		if p.peek().kind == tLParen {
			p.next()
			args, err = p.parseArgs()
			if err != nil {
				return nil, err
			}
		}
		recv = filterNode{recv: recv, name: nameTok.text, args: args}
	}
	return recv, nil
}

func (p *parser) parsePostfix() (node, error) {
	n, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().kind {
		case tDot:
			p.next()
			nameTok, err := p.expect(tIdent, "attribute name")
			if err != nil {
				return nil, err
			}
			if strings.HasPrefix(nameTok.text, "__") {
				return nil, fmt.Errorf("%w: attribute %q", ErrForbidden, nameTok.text)
			}
			n = attrNode{recv: n, name: nameTok.text}
		case tLBracket:
			p.next()
			idx, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tRBracket, "]"); err != nil {
				return nil, err
			}
			n = indexNode{recv: n, index: idx}
		case tLParen:
			// A call is only legal directly on a whitelisted bare name;
			// the primary parser handles that case before we get here.
			return nil, fmt.Errorf("%w: function calls are not permitted", ErrForbidden)
		default:
			return n, nil
		}
	}
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tInt:
		v, err := strconv.Atoi(t.text)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", t.text)
		}
		return litNode{value: v}, nil

	case tFloat:
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", t.text)
		}
		return litNode{value: v}, nil

	case tString:
		return litNode{value: t.text}, nil

	case tIdent:
		switch t.text {
		case "true":
			return litNode{value: true}, nil
		case "false":
			return litNode{value: false}, nil
		case "none", "null":
			return litNode{value: nil}, nil
		}
		if strings.HasPrefix(t.text, "__") {
			return nil, fmt.Errorf("%w: identifier %q", ErrForbidden, t.text)
		}
		if p.peek().kind == tLParen {
			if _, ok := allowedCalls[t.text]; !ok {
				return nil, fmt.Errorf("%w: call to %q is not permitted", ErrForbidden, t.text)
			}
			p.next()
			args, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			return callNode{name: t.text, args: args}, nil
		}
		return identNode{name: t.text}, nil

	case tLParen:
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tRParen, ")"); err != nil {
			return nil, err
		}
		return n, nil

	case tLBracket:
		var items []node
		if p.peek().kind == tRBracket {
			p.next()
			return listNode{}, nil
		}
		for {
			item, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			items = append(items, item)
			if p.peek().kind == tComma {
				p.next()
				continue
			}
			break
		}
		if _, err := p.expect(tRBracket, "]"); err != nil {
			return nil, err
		}
		return listNode{items: items}, nil

	default:
		return nil, fmt.Errorf("unexpected %s", t)
	}
}

// parseArgs parses a comma-separated argument list after the opening paren
// has been consumed, through the closing paren.
func (p *parser) parseArgs() ([]node, error) {
	var args []node
	if p.peek().kind == tRParen {
		p.next()
		return args, nil
	}
	for {
		arg, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.peek().kind == tComma {
			p.next()
			continue
		}
		break
	}
	if _, err := p.expect(tRParen, ")"); err != nil {
		return nil, err
	}
	return args, nil
}

// matchOp consumes the next token when it is the given operator.
func (p *parser) matchOp(op string) bool {
	t := p.peek()
	if t.kind == tOp && t.text == op {
		p.pos++
		return true
	}
	return false
}

// matchWord consumes the next token when it is the given keyword identifier.
func (p *parser) matchWord(word string) bool {
	t := p.peek()
	if t.kind == tIdent && t.text == word {
		p.pos++
		return true
	}
	return false
}
