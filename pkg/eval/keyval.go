package eval

import (
	"fmt"
	"sort"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/l7mp/dreduce/pkg/row"
)

// Program is an ordered list of scalar expressions evaluated into one
// output row.
type Program struct {
	exprs []Expr
}

// NewProgram builds a program from expressions.
func NewProgram(exprs ...Expr) Program { return Program{exprs: exprs} }

// Len returns the program's output arity.
func (p Program) Len() int { return len(p.exprs) }

// Clone returns a deep copy whose column references can be permuted
// without affecting the original.
func (p Program) Clone() Program {
	exprs := make([]Expr, len(p.exprs))
	for i, e := range p.exprs {
		exprs[i] = e.clone()
	}
	return Program{exprs: exprs}
}

// Demand records into set the input columns the program reads.
func (p Program) Demand(set map[int]struct{}) {
	for _, e := range p.exprs {
		e.demand(set)
	}
}

// Permute remaps column references through m.
func (p Program) Permute(m map[int]int) {
	for _, e := range p.exprs {
		e.permute(m)
	}
}

// EvalInto evaluates the program over the given columns, assembling the
// output row in the caller-supplied builder.
func (p Program) EvalInto(cols []row.Datum, b *row.Builder) (row.Row, error) {
	b.Reset()
	for _, e := range p.exprs {
		d, err := e.Eval(cols)
		if err != nil {
			b.Reset()
			return nil, err
		}
		b.Push(d)
	}
	return b.Finish(), nil
}

func (p Program) String() string {
	parts := make([]string, len(p.exprs))
	for i, e := range p.exprs {
		parts[i] = e.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// KeyValPlan pairs the group-key projection with the aggregation-input
// projection. It is produced by the external planner and consumed by the
// extraction stage.
type KeyValPlan struct {
	Key Program
	Val Program
}

// Demand returns the sorted union of columns demanded by either program.
func (p KeyValPlan) Demand() []int {
	set := make(map[int]struct{})
	p.Key.Demand(set)
	p.Val.Demand(set)
	cols := make([]int, 0, len(set))
	for c := range set {
		cols = append(cols, c)
	}
	sort.Ints(cols)
	return cols
}

// ParseProgram decodes a program from a JSON/YAML list of expressions.
func ParseProgram(data []byte) (Program, error) {
	var raw []any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Program{}, NewParseError(string(data), err)
	}
	exprs := make([]Expr, 0, len(raw))
	for _, elem := range raw {
		e, err := exprFromAny(elem)
		if err != nil {
			return Program{}, err
		}
		exprs = append(exprs, e)
	}
	return Program{exprs: exprs}, nil
}

// ParseExpr decodes a single expression from its JSON/YAML representation.
// The syntax mirrors the declarative pipeline style: "$0" is a column
// reference, scalars are literals, and operators are single-key maps like
// {"@plus": [a, b]} or {"@cast": ["int", a]}.
func ParseExpr(data []byte) (Expr, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, NewParseError(string(data), err)
	}
	return exprFromAny(raw)
}

func exprFromAny(raw any) (Expr, error) {
	switch v := raw.(type) {
	case nil:
		return NewLiteral(row.Null()), nil
	case bool:
		return NewLiteral(row.Bool(v)), nil
	case float64:
		if v == float64(int64(v)) {
			return NewLiteral(row.Int64(int64(v))), nil
		}
		return NewLiteral(row.Float64(v)), nil
	case string:
		if strings.HasPrefix(v, "$") {
			var idx int
			if _, err := fmt.Sscanf(v, "$%d", &idx); err != nil {
				return nil, NewParseError(v, err)
			}
			return NewColumn(idx), nil
		}
		return NewLiteral(row.Str(v)), nil
	case map[string]any:
		if len(v) != 1 {
			return nil, NewParseError(fmt.Sprintf("%v", v),
				fmt.Errorf("operator maps must have exactly one key"))
		}
		for op, arg := range v {
			return exprFromOp(op, arg)
		}
	}
	return nil, NewParseError(fmt.Sprintf("%v", raw),
		fmt.Errorf("unsupported expression form"))
}

func exprFromOp(op string, arg any) (Expr, error) {
	args, ok := arg.([]any)
	if !ok {
		return nil, NewParseError(op, fmt.Errorf("operator arguments must be a list"))
	}
	switch op {
	case "@plus", "@minus", "@mult", "@div":
		if len(args) != 2 {
			return nil, NewParseError(op, fmt.Errorf("expected 2 arguments, got %d", len(args)))
		}
		left, err := exprFromAny(args[0])
		if err != nil {
			return nil, err
		}
		right, err := exprFromAny(args[1])
		if err != nil {
			return nil, err
		}
		return NewBinary(op, left, right), nil
	case "@cast":
		if len(args) != 2 {
			return nil, NewParseError(op, fmt.Errorf("expected 2 arguments, got %d", len(args)))
		}
		name, ok := args[0].(string)
		if !ok {
			return nil, NewParseError(op, fmt.Errorf("first argument must be a kind name"))
		}
		kind, err := kindFromName(name)
		if err != nil {
			return nil, err
		}
		inner, err := exprFromAny(args[1])
		if err != nil {
			return nil, err
		}
		return NewCast(kind, inner), nil
	default:
		return nil, NewParseError(op, fmt.Errorf("unknown operator"))
	}
}

func kindFromName(name string) (row.Kind, error) {
	switch name {
	case "bool":
		return row.KindBool, nil
	case "int":
		return row.KindInt64, nil
	case "uint":
		return row.KindUInt64, nil
	case "float":
		return row.KindFloat64, nil
	case "numeric":
		return row.KindNumeric, nil
	case "string":
		return row.KindString, nil
	default:
		return row.KindNull, fmt.Errorf("unknown kind %q", name)
	}
}
