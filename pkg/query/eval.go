package query

import (
	"strconv"
	"strings"

	"github.com/velesdb/velesdb/internal/verror"
)

// Binding is one candidate row flowing through WHERE/HAVING evaluation: a
// point id, its payload fields, and (once a vector stage has run) its
// similarity score.
type Binding struct {
	ID     uint64
	Fields map[string]any
	Score  float64

	// VarRows holds each MATCH pattern variable's own id/fields, keyed by
	// variable name, so a row spanning more than one node (e.g. both ends
	// of an edge) can resolve `a.category` and `b.category` independently.
	// Plain SELECT rows never set it.
	VarRows map[string]VarBinding
}

// VarBinding is the id/fields pair a single MATCH pattern variable resolves
// to within one result row.
type VarBinding struct {
	ID     uint64
	Fields map[string]any
}

// Params is the `$name -> value` binding table supplied alongside a query.
type Params map[string]any

// Eval evaluates a boolean expression against a binding. Comparisons against
// a VectorNear node always evaluate true: NEAR is a routing signal consumed
// by the planner, not a row-level predicate.
func Eval(expr Expression, b *Binding, params Params) (bool, error) {
	v, err := evalValue(expr, b, params)
	if err != nil {
		return false, err
	}
	bv, ok := v.(bool)
	if !ok {
		return false, verror.New("query.Eval", verror.KindInvalidArgument, "expression did not evaluate to a boolean")
	}
	return bv, nil
}

func evalValue(expr Expression, b *Binding, params Params) (any, error) {
	switch e := expr.(type) {
	case *Literal:
		return e.Value, nil
	case *ParamRef:
		v, ok := params[e.Name]
		if !ok {
			return nil, verror.New("query.eval", verror.KindInvalidArgument, "unbound parameter: $"+e.Name)
		}
		return v, nil
	case *ColumnRef:
		return columnValue(e.Name, b), nil
	case *VectorNear:
		return true, nil
	case *UnaryExpr:
		operand, err := evalValue(e.Operand, b, params)
		if err != nil {
			return nil, err
		}
		if strings.EqualFold(e.Operator, "NOT") {
			bv, _ := operand.(bool)
			return !bv, nil
		}
		return nil, verror.New("query.eval", verror.KindInvalidArgument, "unknown unary operator: "+e.Operator)
	case *BinaryExpr:
		return evalBinary(e, b, params)
	case *FunctionCall:
		return nil, verror.New("query.eval", verror.KindInvalidArgument, "aggregate function "+e.Name+" cannot be evaluated row-wise")
	case *InExpr:
		return evalIn(e, b, params)
	case *BetweenExpr:
		return evalBetween(e, b, params)
	case *IsNullExpr:
		v, err := evalValue(e.Operand, b, params)
		if err != nil {
			return nil, err
		}
		isNull := v == nil
		if e.Negate {
			return !isNull, nil
		}
		return isNull, nil
	case *SubqueryExpr:
		return nil, verror.New("query.eval", verror.KindInvalidArgument, "subquery must be resolved before evaluation")
	default:
		return nil, verror.New("query.eval", verror.KindInvalidArgument, "unsupported expression node")
	}
}

// evalIn implements `left [NOT] IN (list...)`: true when left compares equal
// to any list member.
func evalIn(e *InExpr, b *Binding, params Params) (any, error) {
	left, err := evalValue(e.Left, b, params)
	if err != nil {
		return nil, err
	}
	found := false
	for _, item := range e.List {
		v, err := evalValue(item, b, params)
		if err != nil {
			return nil, err
		}
		if compareEqual(left, v) {
			found = true
			break
		}
	}
	if e.Negate {
		return !found, nil
	}
	return found, nil
}

// evalBetween implements `left [NOT] BETWEEN low AND high`, inclusive on
// both bounds.
func evalBetween(e *BetweenExpr, b *Binding, params Params) (any, error) {
	v, err := evalValue(e.Left, b, params)
	if err != nil {
		return nil, err
	}
	lo, err := evalValue(e.Low, b, params)
	if err != nil {
		return nil, err
	}
	hi, err := evalValue(e.High, b, params)
	if err != nil {
		return nil, err
	}
	var within bool
	if vf, ok := toFloat(v); ok {
		if lf, ok := toFloat(lo); ok {
			if hf, ok := toFloat(hi); ok {
				within = vf >= lf && vf <= hf
			}
		}
	}
	if e.Negate {
		return !within, nil
	}
	return within, nil
}

func columnValue(name string, b *Binding) any {
	// A `var.` prefix (MATCH patterns qualify columns by pattern variable,
	// e.g. `a.category`) resolves against that variable's own row when one
	// is bound; plain SELECT queries never have one.
	if i := strings.LastIndex(name, "."); i >= 0 {
		prefix, field := name[:i], name[i+1:]
		if vb, ok := b.VarRows[prefix]; ok {
			if strings.EqualFold(field, "id") {
				return vb.ID
			}
			if vb.Fields == nil {
				return nil
			}
			return vb.Fields[field]
		}
		name = field
	}
	if strings.EqualFold(name, "id") {
		return b.ID
	}
	if strings.EqualFold(name, "score") {
		return b.Score
	}
	if b.Fields == nil {
		return nil
	}
	return b.Fields[name]
}

func evalBinary(e *BinaryExpr, b *Binding, params Params) (any, error) {
	op := strings.ToUpper(e.Operator)
	if op == "AND" || op == "OR" {
		lv, err := evalValue(e.Left, b, params)
		if err != nil {
			return nil, err
		}
		lb, _ := lv.(bool)
		if op == "AND" && !lb {
			return false, nil
		}
		if op == "OR" && lb {
			return true, nil
		}
		rv, err := evalValue(e.Right, b, params)
		if err != nil {
			return nil, err
		}
		rb, _ := rv.(bool)
		return rb, nil
	}

	left, err := evalValue(e.Left, b, params)
	if err != nil {
		return nil, err
	}
	right, err := evalValue(e.Right, b, params)
	if err != nil {
		return nil, err
	}

	switch op {
	case "=":
		return compareEqual(left, right), nil
	case "!=":
		return !compareEqual(left, right), nil
	case "<", "<=", ">", ">=":
		lf, lok := toFloat(left)
		rf, rok := toFloat(right)
		if !lok || !rok {
			return false, nil
		}
		switch op {
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		case ">":
			return lf > rf, nil
		default:
			return lf >= rf, nil
		}
	case "LIKE", "ILIKE":
		ls, lok := left.(string)
		rs, rok := right.(string)
		if !lok || !rok {
			return false, nil
		}
		if op == "ILIKE" {
			ls, rs = strings.ToLower(ls), strings.ToLower(rs)
		}
		return likeMatch(ls, rs), nil
	default:
		return nil, verror.New("query.eval", verror.KindInvalidArgument, "unsupported operator: "+e.Operator)
	}
}

func compareEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as == bs
	}
	ab, aok := a.(bool)
	bb, bok := b.(bool)
	if aok && bok {
		return ab == bb
	}
	return a == b
}

// likeMatch implements SQL LIKE semantics (% = any run of characters,
// _ = any single character) over already-folded text and pattern. Mirrors
// propindex's trigram post-filter predicate, kept local since evaluating a
// row's LIKE predicate here never touches the trigram index itself.
func likeMatch(text, pattern string) bool {
	return likeMatchRunes([]rune(text), []rune(pattern))
}

func likeMatchRunes(text, pattern []rune) bool {
	if len(pattern) == 0 {
		return len(text) == 0
	}
	switch pattern[0] {
	case '%':
		if likeMatchRunes(text, pattern[1:]) {
			return true
		}
		for len(text) > 0 {
			text = text[1:]
			if likeMatchRunes(text, pattern[1:]) {
				return true
			}
		}
		return false
	case '_':
		if len(text) == 0 {
			return false
		}
		return likeMatchRunes(text[1:], pattern[1:])
	default:
		if len(text) == 0 || text[0] != pattern[0] {
			return false
		}
		return likeMatchRunes(text[1:], pattern[1:])
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
