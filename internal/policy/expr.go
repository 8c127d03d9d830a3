package policy

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Expr is a boolean rule node.
type Expr interface {
	exprNode()
}

// BinaryExpr represents AND / OR.
type BinaryExpr struct {
	Op    string // "AND" | "OR"
	Left  Expr
	Right Expr
}

func (*BinaryExpr) exprNode() {}

// NotExpr represents NOT <expr>.
type NotExpr struct {
	Expr Expr
}

func (*NotExpr) exprNode() {}

// ComparisonExpr represents <operand> <operator> <operand>.
type ComparisonExpr struct {
	Left  Operand
	Op    Operator
	Right Operand
}

func (*ComparisonExpr) exprNode() {}

// Operand is a literal, a field path or an arithmetic combination of both.
type Operand interface {
	operandNode()
}

// LiteralOperand holds a pre-parsed constant.
type LiteralOperand struct {
	Value any
}

func (*LiteralOperand) operandNode() {}

// FieldOperand holds a dot-separated path like "bulk.size".
type FieldOperand struct {
	Path []string
}

func (*FieldOperand) operandNode() {}

// ArithOperand applies + - * / to two numeric operands.
type ArithOperand struct {
	Op    byte
	Left  Operand
	Right Operand
}

func (*ArithOperand) operandNode() {}

type tokenKind int

const (
	tokWord   tokenKind = iota // identifier or keyword
	tokOp                      // ==, !=, >=, <=, >, <
	tokArith                   // + - * /
	tokString                  // "…" or '…'
	tokNumber                  // 42 | 3.14
	tokBool                    // true | false
	tokLParen
	tokRParen
	tokEOF
)

type token struct {
	kind tokenKind
	val  string
}

// endsOperand reports whether a '-' following t is subtraction.
func endsOperand(tokens []token) bool {
	if len(tokens) == 0 {
		return false
	}
	switch tokens[len(tokens)-1].kind {
	case tokWord, tokNumber, tokString, tokBool, tokRParen:
		return true
	}
	return false
}

func tokenize(expr string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(expr) {
		ch := expr[i]
		if unicode.IsSpace(rune(ch)) {
			i++
			continue
		}
		switch {
		case ch == '(':
			tokens = append(tokens, token{tokLParen, "("})
			i++
			continue
		case ch == ')':
			tokens = append(tokens, token{tokRParen, ")"})
			i++
			continue
		case ch == '=' || ch == '!' || ch == '<' || ch == '>':
			if i+1 < len(expr) && expr[i+1] == '=' {
				tokens = append(tokens, token{tokOp, expr[i : i+2]})
				i += 2
			} else if ch == '=' || ch == '!' {
				return nil, fmt.Errorf("unexpected %q at position %d", ch, i)
			} else {
				tokens = append(tokens, token{tokOp, string(ch)})
				i++
			}
			continue
		case ch == '*' || ch == '/' || ch == '+':
			tokens = append(tokens, token{tokArith, string(ch)})
			i++
			continue
		case ch == '-':
			negative := i+1 < len(expr) && unicode.IsDigit(rune(expr[i+1])) && !endsOperand(tokens)
			if !negative {
				tokens = append(tokens, token{tokArith, "-"})
				i++
				continue
			}
		}
		if ch == '"' || ch == '\'' {
			quote := ch
			j := i + 1
			for j < len(expr) && expr[j] != quote {
				if expr[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(expr) {
				return nil, fmt.Errorf("unterminated string starting at position %d", i)
			}
			inner := expr[i+1 : j]
			inner = strings.ReplaceAll(inner, `\"`, `"`)
			inner = strings.ReplaceAll(inner, `\'`, `'`)
			inner = strings.ReplaceAll(inner, `\\`, `\`)
			tokens = append(tokens, token{tokString, inner})
			i = j + 1
			continue
		}
		if unicode.IsDigit(rune(ch)) || ch == '-' {
			j := i + 1
			for j < len(expr) && (unicode.IsDigit(rune(expr[j])) || expr[j] == '.') {
				j++
			}
			tokens = append(tokens, token{tokNumber, expr[i:j]})
			i = j
			continue
		}
		if unicode.IsLetter(rune(ch)) || ch == '_' {
			j := i
			for j < len(expr) && (unicode.IsLetter(rune(expr[j])) || unicode.IsDigit(rune(expr[j])) || expr[j] == '_' || expr[j] == '.') {
				j++
			}
			word := expr[i:j]
			switch strings.ToLower(word) {
			case "true", "false":
				tokens = append(tokens, token{tokBool, strings.ToLower(word)})
			default:
				tokens = append(tokens, token{tokWord, word})
			}
			i = j
			continue
		}
		return nil, fmt.Errorf("unexpected character %q at position %d", ch, i)
	}
	tokens = append(tokens, token{tokEOF, ""})
	return tokens, nil
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) consume() token {
	t := p.tokens[p.pos]
	p.pos++
	return t
}

func (p *parser) isKeyword(kw string) bool {
	t := p.peek()
	return t.kind == tokWord && strings.EqualFold(t.val, kw)
}

// Parse parses a rule string into an AST.
func Parse(expr string) (Expr, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("unexpected token %q after expression", p.peek().val)
	}
	return node, nil
}

// or_expr = and_expr ( "OR" and_expr )*
func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("OR") {
		p.consume()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

// and_expr = not_expr ( "AND" not_expr )*
func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("AND") {
		p.consume()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

// not_expr = "NOT" not_expr | "(" or_expr ")" | comparison
//
// A parenthesis may open either a boolean group or an arithmetic operand
// such as "(a + b) * 2 > c"; the boolean reading is tried first.
func (p *parser) parseNot() (Expr, error) {
	if p.isKeyword("NOT") {
		p.consume()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &NotExpr{Expr: inner}, nil
	}
	if p.peek().kind == tokLParen {
		start := p.pos
		p.consume()
		inner, err := p.parseOr()
		if err == nil && p.peek().kind == tokRParen {
			p.consume()
			if next := p.peek().kind; next != tokOp && next != tokArith {
				return inner, nil
			}
		}
		p.pos = start
	}
	return p.parseComparison()
}

// comparison = sum operator sum
func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	t := p.peek()
	var op Operator
	switch {
	case t.kind == tokOp:
		op = Operator(t.val)
	case t.kind == tokWord && strings.EqualFold(t.val, "contains"):
		op = OpContains
	case t.kind == tokWord && strings.EqualFold(t.val, "matches"):
		op = OpMatches
	default:
		return nil, fmt.Errorf("expected comparison operator, got %q", t.val)
	}
	p.consume()
	right, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	return &ComparisonExpr{Left: left, Op: op, Right: right}, nil
}

// sum = product ( ("+" | "-") product )*
func (p *parser) parseSum() (Operand, error) {
	left, err := p.parseProduct()
	if err != nil {
		return nil, err
	}
	for t := p.peek(); t.kind == tokArith && (t.val == "+" || t.val == "-"); t = p.peek() {
		p.consume()
		right, err := p.parseProduct()
		if err != nil {
			return nil, err
		}
		left = &ArithOperand{Op: t.val[0], Left: left, Right: right}
	}
	return left, nil
}

// product = operand ( ("*" | "/") operand )*
func (p *parser) parseProduct() (Operand, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	for t := p.peek(); t.kind == tokArith && (t.val == "*" || t.val == "/"); t = p.peek() {
		p.consume()
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		left = &ArithOperand{Op: t.val[0], Left: left, Right: right}
	}
	return left, nil
}

// operand = field_path | literal | "(" sum ")"
func (p *parser) parseOperand() (Operand, error) {
	t := p.peek()
	switch t.kind {
	case tokLParen:
		p.consume()
		inner, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, fmt.Errorf("expected \")\" but got %q", p.peek().val)
		}
		p.consume()
		return inner, nil
	case tokString:
		p.consume()
		return &LiteralOperand{Value: t.val}, nil
	case tokNumber:
		p.consume()
		f, err := strconv.ParseFloat(t.val, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", t.val)
		}
		return &LiteralOperand{Value: f}, nil
	case tokBool:
		p.consume()
		return &LiteralOperand{Value: t.val == "true"}, nil
	case tokWord:
		p.consume()
		return &FieldOperand{Path: strings.Split(t.val, ".")}, nil
	default:
		return nil, fmt.Errorf("expected operand, got %q", t.val)
	}
}
