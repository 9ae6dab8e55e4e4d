package reduce

import (
	"math"

	"github.com/cockroachdb/apd/v3"
	"github.com/go-logr/logr"

	"github.com/l7mp/dreduce/internal/ints"
	"github.com/l7mp/dreduce/pkg/row"
)

// floatScale is the fixed-point scale for float accumulation: floats are
// accumulated as value*2^24 in 128-bit integers so that addition commutes
// exactly regardless of arrival order.
const floatScale = float64(1 << 24)

// Numeric accumulation runs at double the datum precision so that interim
// sums survive cancellation without loss; results are narrowed back to
// datum precision during finalization.
var (
	numericAggContext = apd.Context{
		Precision:   78,
		MaxExponent: 2000,
		MinExponent: -2000,
		Rounding:    apd.RoundHalfEven,
	}
	numericDatumContext = apd.Context{
		Precision:   39,
		MaxExponent: 999,
		MinExponent: -999,
		Rounding:    apd.RoundHalfEven,
	}
)

// AccumKind tags the accumulation variant an aggregate function uses.
type AccumKind uint8

const (
	// AccumSimple holds a 128-bit integer sum (counts, int/uint sums).
	AccumSimple AccumKind = iota
	// AccumBool holds true/false occurrence counts.
	AccumBool
	// AccumFloat holds a fixed-point 128-bit sum plus special-value
	// counters.
	AccumFloat
	// AccumNumeric holds an arbitrary-precision decimal sum plus
	// special-value counters.
	AccumNumeric
)

// Accum is the additive state of one accumulable aggregate. All fields are
// signed so that retractions subtract exactly what insertions added.
type Accum struct {
	Kind AccumKind

	// Bool variant.
	Trues  int64
	Falses int64

	// Simple and float variants.
	Sum ints.Int128

	// Float and numeric special-value counters.
	PosInfs int64
	NegInfs int64
	NaNs    int64

	// Numeric variant sum.
	Num *apd.Decimal

	// Non-null inputs seen, across all variants except bool.
	NonNulls int64
}

func accumKindOf(f AggregateFunc) AccumKind {
	switch f {
	case AggAny, AggAll:
		return AccumBool
	case AggSumFloat:
		return AccumFloat
	case AggSumNumeric:
		return AccumNumeric
	default:
		return AccumSimple
	}
}

// newAccum returns the additive identity for a function's accumulation.
func newAccum(f AggregateFunc) Accum {
	a := Accum{Kind: accumKindOf(f)}
	if a.Kind == AccumNumeric {
		a.Num = new(apd.Decimal)
	}
	return a
}

// datumToAccum lifts one input value into accumulation space.
func datumToAccum(f AggregateFunc, d row.Datum, log logr.Logger) Accum {
	a := newAccum(f)
	switch f {
	case AggCount:
		a.Sum = ints.Int128FromInt64(1)
		if !d.IsNull() {
			a.NonNulls = 1
		}
	case AggAny, AggAll:
		switch {
		case d.IsNull():
		case d.Kind == row.KindBool && d.B:
			a.Trues = 1
		case d.Kind == row.KindBool:
			a.Falses = 1
		default:
			softPanic(log, "non-boolean value in boolean aggregation", "kind", d.Kind.String())
		}
	case AggSumInt:
		if !d.IsNull() {
			a.NonNulls = 1
			if d.Kind == row.KindInt64 {
				a.Sum = ints.Int128FromInt64(d.I)
			} else {
				softPanic(log, "non-integer value in integer sum", "kind", d.Kind.String())
			}
		}
	case AggSumUInt:
		if !d.IsNull() {
			a.NonNulls = 1
			if d.Kind == row.KindUInt64 {
				a.Sum = ints.Int128FromUInt64(d.U)
			} else {
				softPanic(log, "non-unsigned value in unsigned sum", "kind", d.Kind.String())
			}
		}
	case AggSumFloat:
		if !d.IsNull() {
			a.NonNulls = 1
			switch {
			case d.Kind != row.KindFloat64:
				softPanic(log, "non-float value in float sum", "kind", d.Kind.String())
			case math.IsNaN(d.F):
				a.NaNs = 1
			case math.IsInf(d.F, 1):
				a.PosInfs = 1
			case math.IsInf(d.F, -1):
				a.NegInfs = 1
			default:
				a.Sum = ints.Int128FromFloat64(d.F * floatScale)
			}
		}
	case AggSumNumeric:
		if !d.IsNull() {
			a.NonNulls = 1
			switch {
			case d.Kind != row.KindNumeric:
				softPanic(log, "non-numeric value in numeric sum", "kind", d.Kind.String())
			case d.N.Form == apd.NaN || d.N.Form == apd.NaNSignaling:
				a.NaNs = 1
			case d.N.Form == apd.Infinite && !d.N.Negative:
				a.PosInfs = 1
			case d.N.Form == apd.Infinite:
				a.NegInfs = 1
			default:
				a.Num.Set(d.N)
			}
		}
	default:
		softPanic(log, "non-accumulable function in accumulation", "func", f.String())
	}
	return a
}

// PlusEquals folds another accumulation of the same kind into a.
func (a *Accum) PlusEquals(o *Accum, log logr.Logger) {
	if a.Kind != o.Kind {
		softPanic(log, "mismatched accumulation variants",
			"left", int(a.Kind), "right", int(o.Kind))
		return
	}
	switch a.Kind {
	case AccumBool:
		a.Trues += o.Trues
		a.Falses += o.Falses
	case AccumSimple:
		sum, ok := a.Sum.AddChecked(o.Sum)
		if !ok {
			log.Info("128-bit accumulation overflow, wrapping",
				"left", a.Sum.String(), "right", o.Sum.String())
			sum = a.Sum.AddWrap(o.Sum)
		}
		a.Sum = sum
		a.NonNulls += o.NonNulls
	case AccumFloat:
		sum, ok := a.Sum.AddChecked(o.Sum)
		if !ok {
			log.Info("float accumulation overflow, wrapping",
				"left", a.Sum.String(), "right", o.Sum.String())
			sum = a.Sum.AddWrap(o.Sum)
		}
		a.Sum = sum
		a.PosInfs += o.PosInfs
		a.NegInfs += o.NegInfs
		a.NaNs += o.NaNs
		a.NonNulls += o.NonNulls
	case AccumNumeric:
		cond, err := numericAggContext.Add(a.Num, a.Num, o.Num)
		if err != nil || cond&(apd.Rounded|apd.Inexact) != 0 {
			// The aggregation context carries twice the datum
			// precision, so a rounded interim sum means the datum
			// bounds were violated upstream.
			softPanic(log, "numeric accumulation lost precision",
				"condition", cond.String(), "error", err)
		}
		a.PosInfs += o.PosInfs
		a.NegInfs += o.NegInfs
		a.NaNs += o.NaNs
		a.NonNulls += o.NonNulls
	}
}

// Scale multiplies the accumulation by a record multiplicity.
func (a Accum) Scale(factor int64, log logr.Logger) Accum {
	out := a
	switch a.Kind {
	case AccumBool:
		out.Trues *= factor
		out.Falses *= factor
	case AccumSimple, AccumFloat:
		sum, ok := a.Sum.MulCheckedInt64(factor)
		if !ok {
			log.Info("128-bit accumulation overflow while scaling, wrapping",
				"accum", a.Sum.String(), "factor", factor)
			sum = a.Sum.MulWrapInt64(factor)
		}
		out.Sum = sum
		out.PosInfs *= factor
		out.NegInfs *= factor
		out.NaNs *= factor
		out.NonNulls *= factor
	case AccumNumeric:
		out.Num = new(apd.Decimal)
		cond, err := numericAggContext.Mul(out.Num, a.Num, apd.New(factor, 0))
		if err != nil || cond&(apd.Rounded|apd.Inexact) != 0 {
			softPanic(log, "numeric accumulation lost precision while scaling",
				"condition", cond.String(), "error", err)
		}
		out.PosInfs *= factor
		out.NegInfs *= factor
		out.NaNs *= factor
		out.NonNulls *= factor
	}
	return out
}

// IsZero reports whether the accumulation equals the additive identity.
func (a *Accum) IsZero() bool {
	switch a.Kind {
	case AccumBool:
		return a.Trues == 0 && a.Falses == 0
	case AccumNumeric:
		return a.Num.IsZero() &&
			a.PosInfs == 0 && a.NegInfs == 0 && a.NaNs == 0 && a.NonNulls == 0
	default:
		return a.Sum.IsZero() &&
			a.PosInfs == 0 && a.NegInfs == 0 && a.NaNs == 0 && a.NonNulls == 0
	}
}

// finalizeAccum renders the accumulation of one aggregate into its output
// datum. The total is the signed record count of the group.
func finalizeAccum(f AggregateFunc, a *Accum, total int64, log logr.Logger) row.Datum {
	if total > 0 && a.IsZero() && f != AggCount {
		// Aggregates over all-null (or net-null) inputs are null;
		// counts still report zero below.
		return row.Null()
	}
	switch f {
	case AggCount:
		return row.Int64(a.NonNulls)
	case AggAll:
		switch {
		case a.Falses > 0:
			return row.Bool(false)
		case a.Trues == total:
			return row.Bool(true)
		default:
			return row.Null()
		}
	case AggAny:
		switch {
		case a.Trues > 0:
			return row.Bool(true)
		case a.Falses == total:
			return row.Bool(false)
		default:
			return row.Null()
		}
	case AggSumInt:
		v, ok := a.Sum.Int64()
		if !ok {
			// The caller reports the out-of-range accumulation as a
			// dataflow error; the output slot stays null.
			return row.Null()
		}
		return row.Int64(v)
	case AggSumUInt:
		if a.Sum.IsNegative() {
			// Same for negative accumulations: error from the caller,
			// null output.
			return row.Null()
		}
		v, ok := a.Sum.Uint64()
		if !ok {
			return row.Null()
		}
		return row.UInt64(v)
	case AggSumFloat:
		switch {
		case a.NaNs > 0 || (a.PosInfs > 0 && a.NegInfs > 0):
			return row.Float64(math.NaN())
		case a.PosInfs > 0:
			return row.Float64(math.Inf(1))
		case a.NegInfs > 0:
			return row.Float64(math.Inf(-1))
		default:
			return row.Float64(a.Sum.Float64() / floatScale)
		}
	case AggSumNumeric:
		switch {
		case a.NaNs > 0 || (a.PosInfs > 0 && a.NegInfs > 0):
			return row.Numeric(&apd.Decimal{Form: apd.NaN})
		case a.PosInfs > 0:
			return row.Numeric(&apd.Decimal{Form: apd.Infinite})
		case a.NegInfs > 0:
			return row.Numeric(&apd.Decimal{Form: apd.Infinite, Negative: true})
		default:
			out := new(apd.Decimal)
			cond, err := numericDatumContext.Round(out, a.Num)
			if err != nil && cond&apd.Overflow == 0 {
				softPanic(log, "numeric finalization failed", "error", err)
				return row.Null()
			}
			if cond&apd.Overflow != 0 {
				// Narrowing back to datum precision overflowed:
				// saturate to the signed infinity.
				out = &apd.Decimal{Form: apd.Infinite, Negative: a.Num.Negative}
			}
			return row.Numeric(out)
		}
	default:
		softPanic(log, "non-accumulable function in finalization", "func", f.String())
		return row.Null()
	}
}
