package policy

import (
	"fmt"
	"strings"
)

// Resolver provides field values for evaluation.
type Resolver interface {
	Resolve(path []string) (any, bool)
}

// Evaluate walks the AST and returns true/false or an error.
func Evaluate(expr Expr, r Resolver) (bool, error) {
	switch e := expr.(type) {
	case *BinaryExpr:
		left, err := Evaluate(e.Left, r)
		if err != nil {
			return false, err
		}
		switch e.Op {
		case "AND":
			if !left {
				return false, nil
			}
			return Evaluate(e.Right, r)
		case "OR":
			if left {
				return true, nil
			}
			return Evaluate(e.Right, r)
		default:
			return false, fmt.Errorf("unknown binary op %q", e.Op)
		}
	case *NotExpr:
		v, err := Evaluate(e.Expr, r)
		if err != nil {
			return false, err
		}
		return !v, nil
	case *ComparisonExpr:
		left, err := resolveOperand(e.Left, r)
		if err != nil {
			return false, err
		}
		right, err := resolveOperand(e.Right, r)
		if err != nil {
			return false, err
		}
		return compare(e.Op, left, right)
	default:
		return false, fmt.Errorf("unknown expr type %T", expr)
	}
}

func resolveOperand(op Operand, r Resolver) (any, error) {
	switch o := op.(type) {
	case *LiteralOperand:
		return o.Value, nil
	case *FieldOperand:
		val, ok := r.Resolve(o.Path)
		if !ok {
			return nil, fmt.Errorf("field %q not found", strings.Join(o.Path, "."))
		}
		return val, nil
	case *ArithOperand:
		return arith(o, r)
	default:
		return nil, fmt.Errorf("unknown operand type %T", op)
	}
}

func arith(o *ArithOperand, r Resolver) (any, error) {
	lv, err := resolveOperand(o.Left, r)
	if err != nil {
		return nil, err
	}
	rv, err := resolveOperand(o.Right, r)
	if err != nil {
		return nil, err
	}
	lf, lok := toFloat64(lv)
	rf, rok := toFloat64(rv)
	if !lok || !rok {
		return nil, fmt.Errorf("operator %c requires numeric operands, got %T and %T", o.Op, lv, rv)
	}
	switch o.Op {
	case '+':
		return lf + rf, nil
	case '-':
		return lf - rf, nil
	case '*':
		return lf * rf, nil
	case '/':
		if rf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return lf / rf, nil
	}
	return nil, fmt.Errorf("unknown arithmetic operator %c", o.Op)
}
