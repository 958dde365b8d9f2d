package convert

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// evalExpr evaluates a small arithmetic expression over scalar and vector
// variables: + - * / with parentheses and unary minus, a linspace(start,
// stop, num) builtin, and postfix indexing with a scalar or an index
// vector. Operations on vectors apply elementwise.
func evalExpr(src string, vars map[string]any) (any, error) {
	p := &exprParser{src: src, vars: vars}
	v, err := p.expr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return nil, fmt.Errorf("unexpected %q in expression", p.src[p.pos:])
	}
	if vec, ok := v.([]float64); ok {
		out := make([]any, len(vec))
		for i, f := range vec {
			out[i] = f
		}
		return out, nil
	}
	return v, nil
}

type exprParser struct {
	src  string
	pos  int
	vars map[string]any
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

func (p *exprParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *exprParser) expr() (any, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek() {
		case '+':
			p.pos++
			right, err := p.term()
			if err != nil {
				return nil, err
			}
			if left, err = apply(left, right, func(a, b float64) (float64, error) { return a + b, nil }); err != nil {
				return nil, err
			}
		case '-':
			p.pos++
			right, err := p.term()
			if err != nil {
				return nil, err
			}
			if left, err = apply(left, right, func(a, b float64) (float64, error) { return a - b, nil }); err != nil {
				return nil, err
			}
		default:
			return left, nil
		}
	}
}

func (p *exprParser) term() (any, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek() {
		case '*':
			p.pos++
			right, err := p.unary()
			if err != nil {
				return nil, err
			}
			if left, err = apply(left, right, func(a, b float64) (float64, error) { return a * b, nil }); err != nil {
				return nil, err
			}
		case '/':
			p.pos++
			right, err := p.unary()
			if err != nil {
				return nil, err
			}
			div := func(a, b float64) (float64, error) {
				if b == 0 {
					return 0, fmt.Errorf("division by zero")
				}
				return a / b, nil
			}
			if left, err = apply(left, right, div); err != nil {
				return nil, err
			}
		default:
			return left, nil
		}
	}
}

func (p *exprParser) unary() (any, error) {
	if p.peek() == '-' {
		p.pos++
		v, err := p.unary()
		if err != nil {
			return nil, err
		}
		return apply(0.0, v, func(a, b float64) (float64, error) { return -b, nil })
	}
	return p.postfix()
}

func (p *exprParser) postfix() (any, error) {
	v, err := p.primary()
	if err != nil {
		return nil, err
	}
	for p.peek() == '[' {
		p.pos++
		idx, err := p.expr()
		if err != nil {
			return nil, err
		}
		if p.peek() != ']' {
			return nil, fmt.Errorf("missing ] in expression")
		}
		p.pos++
		if v, err = index(v, idx); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func (p *exprParser) primary() (any, error) {
	c := p.peek()
	switch {
	case c == '(':
		p.pos++
		v, err := p.expr()
		if err != nil {
			return nil, err
		}
		if p.peek() != ')' {
			return nil, fmt.Errorf("missing ) in expression")
		}
		p.pos++
		return v, nil
	case c == '.' || (c >= '0' && c <= '9'):
		return p.number()
	case c == '_' || unicode.IsLetter(rune(c)):
		return p.identifier()
	default:
		return nil, fmt.Errorf("unexpected character %q in expression", c)
	}
}

func (p *exprParser) number() (any, error) {
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if (c >= '0' && c <= '9') || c == '.' || c == 'e' || c == 'E' {
			p.pos++
			continue
		}
		if (c == '+' || c == '-') && p.pos > start && (p.src[p.pos-1] == 'e' || p.src[p.pos-1] == 'E') {
			p.pos++
			continue
		}
		break
	}
	f, err := strconv.ParseFloat(p.src[start:p.pos], 64)
	if err != nil {
		return nil, fmt.Errorf("bad number %q in expression", p.src[start:p.pos])
	}
	return f, nil
}

func (p *exprParser) identifier() (any, error) {
	start := p.pos
	for p.pos < len(p.src) {
		c := rune(p.src[p.pos])
		if c == '_' || unicode.IsLetter(c) || unicode.IsDigit(c) {
			p.pos++
			continue
		}
		break
	}
	name := p.src[start:p.pos]
	if p.peek() == '(' {
		return p.call(name)
	}
	val, ok := p.vars[name]
	if !ok {
		return nil, fmt.Errorf("unknown variable %s", name)
	}
	return toExprValue(val)
}

func (p *exprParser) call(name string) (any, error) {
	p.pos++ // consume (
	var args []any
	if p.peek() != ')' {
		for {
			a, err := p.expr()
			if err != nil {
				return nil, err
			}
			args = append(args, a)
			if p.peek() != ',' {
				break
			}
			p.pos++
		}
	}
	if p.peek() != ')' {
		return nil, fmt.Errorf("missing ) after %s arguments", name)
	}
	p.pos++
	switch name {
	case "linspace":
		return linspace(args)
	default:
		return nil, fmt.Errorf("unknown function %s", name)
	}
}

func linspace(args []any) (any, error) {
	if len(args) != 3 {
		return nil, fmt.Errorf("linspace takes 3 arguments, got %d", len(args))
	}
	vals := make([]float64, 3)
	for i, a := range args {
		f, ok := a.(float64)
		if !ok {
			return nil, fmt.Errorf("linspace argument %d is not a scalar", i+1)
		}
		vals[i] = f
	}
	n := int(math.Round(vals[2]))
	if n < 1 {
		return nil, fmt.Errorf("linspace needs at least one point")
	}
	out := make([]float64, n)
	if n == 1 {
		out[0] = vals[0]
		return out, nil
	}
	step := (vals[1] - vals[0]) / float64(n-1)
	for i := range out {
		out[i] = vals[0] + float64(i)*step
	}
	return out, nil
}

func index(v, idx any) (any, error) {
	vec, ok := v.([]float64)
	if !ok {
		return nil, fmt.Errorf("cannot index a scalar")
	}
	at := func(f float64) (float64, error) {
		i := int(math.Round(f))
		if i < 0 || i >= len(vec) {
			return 0, fmt.Errorf("index %d out of range for %d values", i, len(vec))
		}
		return vec[i], nil
	}
	switch ix := idx.(type) {
	case float64:
		return at(ix)
	case []float64:
		out := make([]float64, len(ix))
		for i, f := range ix {
			v, err := at(f)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("bad index type %T", idx)
	}
}

// apply runs a binary operation, broadcasting scalars over vectors.
func apply(a, b any, op func(x, y float64) (float64, error)) (any, error) {
	av, aVec := a.([]float64)
	bv, bVec := b.([]float64)
	switch {
	case !aVec && !bVec:
		return op(a.(float64), b.(float64))
	case aVec && !bVec:
		out := make([]float64, len(av))
		for i, x := range av {
			v, err := op(x, b.(float64))
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case !aVec && bVec:
		out := make([]float64, len(bv))
		for i, y := range bv {
			v, err := op(a.(float64), y)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	default:
		if len(av) != len(bv) {
			return nil, fmt.Errorf("vector lengths %d and %d differ", len(av), len(bv))
		}
		out := make([]float64, len(av))
		for i := range av {
			v, err := op(av[i], bv[i])
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}
}

// toExprValue converts a resolved parameter into an expression value.
func toExprValue(v any) (any, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case []any:
		out := make([]float64, len(n))
		for i, e := range n {
			switch f := e.(type) {
			case float64:
				out[i] = f
			case int:
				out[i] = float64(f)
			default:
				return nil, fmt.Errorf("element %d is not numeric", i)
			}
		}
		return out, nil
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return f, nil
		}
		return nil, fmt.Errorf("variable %q is not numeric", n)
	default:
		return nil, fmt.Errorf("unsupported variable type %T", v)
	}
}
