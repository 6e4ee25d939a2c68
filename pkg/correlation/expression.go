package correlation

import (
	"fmt"
	"strings"
	"unicode"
)

// Truth is the three-valued result an alias contributes to a detect
// expression. NoData marks an alias with no query-config truth behind it
// and combines as Normal, so an absent alias never forces a level true.
type Truth int

const (
	TruthNoData Truth = iota
	TruthNormal
	TruthAbnormal
)

func (t Truth) String() string {
	switch t {
	case TruthAbnormal:
		return "abnormal"
	case TruthNormal:
		return "normal"
	default:
		return "no_data"
	}
}

// Expression is a compiled boolean expression over alias tokens. Operators
// are &&, || and parentheses; true/false are constants; any other
// identifier is an alias looked up in the evaluation context.
type Expression struct {
	src  string
	root exprNode
}

// ParseExpression compiles the expression string.
func ParseExpression(src string) (*Expression, error) {
	tokens, err := tokenize(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEvalFailed, err)
	}
	p := &exprParser{tokens: tokens}
	root, err := p.parseOr()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEvalFailed, err)
	}
	if p.pos != len(p.tokens) {
		return nil, fmt.Errorf("%w: unexpected token %q", ErrEvalFailed, p.tokens[p.pos].text)
	}
	return &Expression{src: src, root: root}, nil
}

// Eval computes the expression over the alias context. Aliases absent from
// the context evaluate to NoData.
func (e *Expression) Eval(ctx map[string]Truth) Truth {
	return e.root.eval(ctx)
}

// Aliases returns the distinct alias tokens referenced by the expression.
func (e *Expression) Aliases() []string {
	seen := map[string]bool{}
	var out []string
	e.root.walk(func(n exprNode) {
		if a, ok := n.(aliasNode); ok && !seen[string(a)] {
			seen[string(a)] = true
			out = append(out, string(a))
		}
	})
	return out
}

// Translate renders the expression with aliases substituted by display
// names. Unknown aliases render as themselves.
func (e *Expression) Translate(names map[string]string) string {
	return e.root.render(names)
}

func (e *Expression) String() string {
	return e.src
}

type exprNode interface {
	eval(ctx map[string]Truth) Truth
	render(names map[string]string) string
	walk(fn func(exprNode))
}

type aliasNode string

func (a aliasNode) eval(ctx map[string]Truth) Truth {
	v, ok := ctx[string(a)]
	if !ok {
		return TruthNoData
	}
	return v
}

func (a aliasNode) render(names map[string]string) string {
	if name, ok := names[string(a)]; ok && name != "" {
		return name
	}
	return string(a)
}

func (a aliasNode) walk(fn func(exprNode)) { fn(a) }

type constNode bool

func (c constNode) eval(map[string]Truth) Truth {
	if c {
		return TruthAbnormal
	}
	return TruthNormal
}

func (c constNode) render(map[string]string) string {
	if c {
		return "true"
	}
	return "false"
}

func (c constNode) walk(fn func(exprNode)) { fn(c) }

type binaryNode struct {
	op          string // "&&" or "||"
	left, right exprNode
}

func (b binaryNode) eval(ctx map[string]Truth) Truth {
	l := b.left.eval(ctx) == TruthAbnormal
	r := b.right.eval(ctx) == TruthAbnormal
	if b.op == "&&" {
		if l && r {
			return TruthAbnormal
		}
		return TruthNormal
	}
	if l || r {
		return TruthAbnormal
	}
	return TruthNormal
}

func (b binaryNode) render(names map[string]string) string {
	left := b.left.render(names)
	right := b.right.render(names)
	if b.op == "&&" {
		// keep || sub-expressions parenthesised under &&
		if inner, ok := b.left.(binaryNode); ok && inner.op == "||" {
			left = "(" + left + ")"
		}
		if inner, ok := b.right.(binaryNode); ok && inner.op == "||" {
			right = "(" + right + ")"
		}
	}
	return left + " " + b.op + " " + right
}

func (b binaryNode) walk(fn func(exprNode)) {
	fn(b)
	b.left.walk(fn)
	b.right.walk(fn)
}

type exprToken struct {
	kind string // "ident", "op", "lparen", "rparen"
	text string
}

func tokenize(src string) ([]exprToken, error) {
	var tokens []exprToken
	runes := []rune(src)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			tokens = append(tokens, exprToken{kind: "lparen", text: "("})
			i++
		case r == ')':
			tokens = append(tokens, exprToken{kind: "rparen", text: ")"})
			i++
		case r == '&' || r == '|':
			if i+1 >= len(runes) || runes[i+1] != r {
				return nil, fmt.Errorf("stray %q at offset %d", r, i)
			}
			op := "&&"
			if r == '|' {
				op = "||"
			}
			tokens = append(tokens, exprToken{kind: "op", text: op})
			i += 2
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			tokens = append(tokens, exprToken{kind: "ident", text: string(runes[start:i])})
		default:
			return nil, fmt.Errorf("unexpected character %q at offset %d", r, i)
		}
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty expression")
	}
	return tokens, nil
}

type exprParser struct {
	tokens []exprToken
	pos    int
}

func (p *exprParser) parseOr() (exprNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.pos < len(p.tokens) && p.tokens[p.pos].kind == "op" && p.tokens[p.pos].text == "||" {
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: "||", left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseAnd() (exprNode, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.pos < len(p.tokens) && p.tokens[p.pos].kind == "op" && p.tokens[p.pos].text == "&&" {
		p.pos++
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: "&&", left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parsePrimary() (exprNode, error) {
	if p.pos >= len(p.tokens) {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	tok := p.tokens[p.pos]
	switch tok.kind {
	case "ident":
		p.pos++
		switch strings.ToLower(tok.text) {
		case "true":
			return constNode(true), nil
		case "false":
			return constNode(false), nil
		}
		return aliasNode(tok.text), nil
	case "lparen":
		p.pos++
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.pos >= len(p.tokens) || p.tokens[p.pos].kind != "rparen" {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return inner, nil
	default:
		return nil, fmt.Errorf("unexpected token %q", tok.text)
	}
}
