// Package eval implements the small scalar expression programs used to
// project group keys and aggregation inputs out of input rows. Expressions
// are column references, literals, casts, and arithmetic; evaluation
// failures surface as typed errors, never as panics.
package eval

import (
	"fmt"

	"github.com/cockroachdb/apd/v3"

	"github.com/l7mp/dreduce/pkg/row"
)

// Expr is a scalar expression over the columns of one input row.
type Expr interface {
	// Eval evaluates the expression against the given column values.
	Eval(cols []row.Datum) (row.Datum, error)
	// demand records the columns the expression reads.
	demand(set map[int]struct{})
	// permute remaps column references after demand analysis.
	permute(m map[int]int)
	// clone returns an independent copy safe to permute.
	clone() Expr
	fmt.Stringer
}

// Column references an input column by index.
type Column struct {
	Index int
}

// NewColumn returns a column reference expression.
func NewColumn(index int) *Column { return &Column{Index: index} }

func (e *Column) Eval(cols []row.Datum) (row.Datum, error) {
	if e.Index < 0 || e.Index >= len(cols) {
		return row.Null(), NewEvalError("@column",
			fmt.Sprintf("column index %d out of range (%d columns)", e.Index, len(cols)))
	}
	return cols[e.Index], nil
}

func (e *Column) demand(set map[int]struct{}) { set[e.Index] = struct{}{} }

func (e *Column) permute(m map[int]int) {
	if idx, ok := m[e.Index]; ok {
		e.Index = idx
	}
}

func (e *Column) clone() Expr    { c := *e; return &c }
func (e *Column) String() string { return fmt.Sprintf("$%d", e.Index) }

// Literal is a constant expression.
type Literal struct {
	Value row.Datum
}

// NewLiteral returns a constant expression.
func NewLiteral(d row.Datum) *Literal { return &Literal{Value: d} }

func (e *Literal) Eval([]row.Datum) (row.Datum, error) { return e.Value, nil }
func (e *Literal) demand(map[int]struct{})             {}
func (e *Literal) permute(map[int]int)                 {}
func (e *Literal) clone() Expr                         { c := *e; return &c }
func (e *Literal) String() string                      { return e.Value.String() }

// Cast coerces its argument to a target kind. Nulls pass through; an
// impossible coercion is an evaluation error.
type Cast struct {
	To  row.Kind
	Arg Expr
}

// NewCast returns a cast expression.
func NewCast(to row.Kind, arg Expr) *Cast { return &Cast{To: to, Arg: arg} }

func (e *Cast) Eval(cols []row.Datum) (row.Datum, error) {
	v, err := e.Arg.Eval(cols)
	if err != nil {
		return row.Null(), err
	}
	if v.IsNull() {
		return v, nil
	}
	out, ok := coerce(v, e.To)
	if !ok {
		return row.Null(), NewEvalError("@cast",
			fmt.Sprintf("cannot cast %s value %s to %s", v.Kind, v, e.To))
	}
	return out, nil
}

func (e *Cast) demand(set map[int]struct{}) { e.Arg.demand(set) }
func (e *Cast) permute(m map[int]int)       { e.Arg.permute(m) }
func (e *Cast) clone() Expr                 { return &Cast{To: e.To, Arg: e.Arg.clone()} }
func (e *Cast) String() string              { return fmt.Sprintf("cast(%s as %s)", e.Arg, e.To) }

func coerce(v row.Datum, to row.Kind) (row.Datum, bool) {
	if v.Kind == to {
		return v, true
	}
	switch to {
	case row.KindInt64:
		switch v.Kind {
		case row.KindUInt64:
			if v.U > 1<<63-1 {
				return row.Null(), false
			}
			return row.Int64(int64(v.U)), true
		case row.KindFloat64:
			return row.Int64(int64(v.F)), true
		case row.KindBool:
			if v.B {
				return row.Int64(1), true
			}
			return row.Int64(0), true
		}
	case row.KindUInt64:
		switch v.Kind {
		case row.KindInt64:
			if v.I < 0 {
				return row.Null(), false
			}
			return row.UInt64(uint64(v.I)), true
		}
	case row.KindFloat64:
		switch v.Kind {
		case row.KindInt64:
			return row.Float64(float64(v.I)), true
		case row.KindUInt64:
			return row.Float64(float64(v.U)), true
		}
	case row.KindNumeric:
		switch v.Kind {
		case row.KindInt64:
			return row.Numeric(apd.New(v.I, 0)), true
		}
	case row.KindString:
		return row.Str(v.String()), true
	}
	return row.Null(), false
}

// Binary applies an arithmetic operator to two sub-expressions. A null
// operand yields null; type mismatches and division by zero are evaluation
// errors.
type Binary struct {
	Op    string // "@plus", "@minus", "@mult", "@div"
	Left  Expr
	Right Expr
}

// NewBinary returns a binary arithmetic expression.
func NewBinary(op string, left, right Expr) *Binary {
	return &Binary{Op: op, Left: left, Right: right}
}

func (e *Binary) Eval(cols []row.Datum) (row.Datum, error) {
	l, err := e.Left.Eval(cols)
	if err != nil {
		return row.Null(), err
	}
	r, err := e.Right.Eval(cols)
	if err != nil {
		return row.Null(), err
	}
	if l.IsNull() || r.IsNull() {
		return row.Null(), nil
	}
	if l.Kind != r.Kind {
		return row.Null(), NewEvalError(e.Op,
			fmt.Sprintf("type mismatch: %s vs %s", l.Kind, r.Kind))
	}
	switch l.Kind {
	case row.KindInt64:
		return e.evalInt(l.I, r.I)
	case row.KindFloat64:
		return e.evalFloat(l.F, r.F)
	default:
		return row.Null(), NewEvalError(e.Op,
			fmt.Sprintf("unsupported operand kind %s", l.Kind))
	}
}

func (e *Binary) evalInt(l, r int64) (row.Datum, error) {
	switch e.Op {
	case "@plus":
		return row.Int64(l + r), nil
	case "@minus":
		return row.Int64(l - r), nil
	case "@mult":
		return row.Int64(l * r), nil
	case "@div":
		if r == 0 {
			return row.Null(), NewEvalError(e.Op, "division by zero")
		}
		return row.Int64(l / r), nil
	default:
		return row.Null(), NewEvalError(e.Op, "unknown operator")
	}
}

func (e *Binary) evalFloat(l, r float64) (row.Datum, error) {
	switch e.Op {
	case "@plus":
		return row.Float64(l + r), nil
	case "@minus":
		return row.Float64(l - r), nil
	case "@mult":
		return row.Float64(l * r), nil
	case "@div":
		if r == 0 {
			return row.Null(), NewEvalError(e.Op, "division by zero")
		}
		return row.Float64(l / r), nil
	default:
		return row.Null(), NewEvalError(e.Op, "unknown operator")
	}
}

func (e *Binary) demand(set map[int]struct{}) {
	e.Left.demand(set)
	e.Right.demand(set)
}

func (e *Binary) permute(m map[int]int) {
	e.Left.permute(m)
	e.Right.permute(m)
}

func (e *Binary) clone() Expr {
	return &Binary{Op: e.Op, Left: e.Left.clone(), Right: e.Right.clone()}
}

func (e *Binary) String() string {
	return fmt.Sprintf("%s(%s, %s)", e.Op, e.Left, e.Right)
}
