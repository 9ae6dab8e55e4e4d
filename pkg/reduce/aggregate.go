package reduce

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-logr/logr"

	"github.com/l7mp/dreduce/pkg/row"
)

// AggregateFunc identifies an aggregation function.
type AggregateFunc int

const (
	AggCount AggregateFunc = iota
	AggAny
	AggAll
	AggSumInt
	AggSumUInt
	AggSumFloat
	AggSumNumeric
	AggMin
	AggMax
	AggStringAgg
	AggFirstValue
	AggLastValue
)

var aggregateFuncNames = map[AggregateFunc]string{
	AggCount:      "count",
	AggAny:        "any",
	AggAll:        "all",
	AggSumInt:     "sum_int",
	AggSumUInt:    "sum_uint",
	AggSumFloat:   "sum_float",
	AggSumNumeric: "sum_numeric",
	AggMin:        "min",
	AggMax:        "max",
	AggStringAgg:  "string_agg",
	AggFirstValue: "first_value",
	AggLastValue:  "last_value",
}

func (f AggregateFunc) String() string {
	if name, ok := aggregateFuncNames[f]; ok {
		return name
	}
	return fmt.Sprintf("aggregate(%d)", int(f))
}

// ParseAggregateFunc resolves a function name.
func ParseAggregateFunc(name string) (AggregateFunc, error) {
	for f, n := range aggregateFuncNames {
		if n == name {
			return f, nil
		}
	}
	return AggCount, fmt.Errorf("unknown aggregate function %q", name)
}

func (f AggregateFunc) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

func (f *AggregateFunc) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseAggregateFunc(name)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// ReductionType classifies aggregate functions by the evaluation strategy
// they admit.
type ReductionType int

const (
	// ReductionAccumulable functions maintain a commutative accumulation
	// and never need to revisit input values.
	ReductionAccumulable ReductionType = iota
	// ReductionHierarchical functions (min/max) can retract efficiently
	// through a tower of bucketed partial aggregations.
	ReductionHierarchical
	// ReductionBasic functions need the full value multiset on every
	// change.
	ReductionBasic
)

var reductionTypeNames = map[ReductionType]string{
	ReductionAccumulable:  "accumulable",
	ReductionHierarchical: "hierarchical",
	ReductionBasic:        "basic",
}

func (t ReductionType) String() string {
	if name, ok := reductionTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("reduction(%d)", int(t))
}

func (t ReductionType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *ReductionType) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for typ, n := range reductionTypeNames {
		if n == name {
			*t = typ
			return nil
		}
	}
	return fmt.Errorf("unknown reduction type %q", name)
}

// ReductionTypeOf returns the evaluation strategy for a function.
func ReductionTypeOf(f AggregateFunc) ReductionType {
	switch f {
	case AggCount, AggAny, AggAll, AggSumInt, AggSumUInt, AggSumFloat, AggSumNumeric:
		return ReductionAccumulable
	case AggMin, AggMax:
		return ReductionHierarchical
	default:
		return ReductionBasic
	}
}

// AggregateExpr is one requested aggregation: a function applied to one
// column of the value row, optionally over distinct values only.
type AggregateExpr struct {
	Func     AggregateFunc `json:"func"`
	Column   int           `json:"column"`
	Distinct bool          `json:"distinct,omitempty"`
}

func (a AggregateExpr) String() string {
	if a.Distinct {
		return fmt.Sprintf("%s(distinct $%d)", a.Func, a.Column)
	}
	return fmt.Sprintf("%s($%d)", a.Func, a.Column)
}

// aggregator consumes one value at a time and produces the aggregate
// result. It is the unit of naive evaluation used by the basic strategy
// and by the monotonic top-level refinement.
type aggregator interface {
	give(d row.Datum)
	result(log logr.Logger) row.Datum
}

func newAggregator(f AggregateFunc) aggregator {
	switch ReductionTypeOf(f) {
	case ReductionAccumulable:
		return &accumAggregator{fn: f, accum: newAccum(f)}
	case ReductionHierarchical:
		return &monoidAggregator{fn: f}
	default:
		return &naiveAggregator{fn: f}
	}
}

// evalAggregate folds a value sequence through an aggregator. The next
// callback yields values until it reports false.
func evalAggregate(f AggregateFunc, next func() (row.Datum, bool), log logr.Logger) row.Datum {
	agg := newAggregator(f)
	for d, ok := next(); ok; d, ok = next() {
		agg.give(d)
	}
	return agg.result(log)
}

// accumAggregator evaluates an accumulable function one value at a time.
type accumAggregator struct {
	fn    AggregateFunc
	accum Accum
	total int64
}

func (a *accumAggregator) give(d row.Datum) {
	a.total++
	acc := datumToAccum(a.fn, d, logr.Discard())
	a.accum.PlusEquals(&acc, logr.Discard())
}

func (a *accumAggregator) result(log logr.Logger) row.Datum {
	return finalizeAccum(a.fn, &a.accum, a.total, log)
}

// monoidAggregator evaluates min/max one value at a time.
type monoidAggregator struct {
	fn   AggregateFunc
	best row.Datum
	seen bool
}

func (a *monoidAggregator) give(d row.Datum) {
	if !a.seen {
		a.best = d
		a.seen = true
		return
	}
	a.best = monoidCombine(a.fn, a.best, d)
}

func (a *monoidAggregator) result(logr.Logger) row.Datum {
	if !a.seen {
		return row.Null()
	}
	return a.best
}

// naiveAggregator evaluates the order-sensitive functions, which see the
// full value sequence.
type naiveAggregator struct {
	fn     AggregateFunc
	datums []row.Datum
}

func (a *naiveAggregator) give(d row.Datum) { a.datums = append(a.datums, d) }

func (a *naiveAggregator) result(log logr.Logger) row.Datum {
	switch a.fn {
	case AggFirstValue:
		if len(a.datums) == 0 {
			return row.Null()
		}
		return a.datums[0]
	case AggLastValue:
		if len(a.datums) == 0 {
			return row.Null()
		}
		return a.datums[len(a.datums)-1]
	case AggStringAgg:
		var sb strings.Builder
		seen := false
		for _, d := range a.datums {
			if d.IsNull() {
				continue
			}
			if d.Kind != row.KindString {
				softPanic(log, "non-string value in string aggregation", "kind", d.Kind.String())
				continue
			}
			sb.WriteString(d.S)
			seen = true
		}
		if !seen {
			return row.Null()
		}
		return row.Str(sb.String())
	default:
		softPanic(log, "unexpected function in naive aggregation", "func", a.fn.String())
		return row.Null()
	}
}
