// Package row implements the value model of the reduction engine: typed
// scalar datums, immutable rows of datums, and a reusable row builder.
package row

import (
	"fmt"
	"math"
	"strconv"

	"github.com/cockroachdb/apd/v3"
)

// Kind enumerates the closed set of scalar types a Datum can hold.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt64
	KindUInt64
	KindFloat64
	KindNumeric
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt64:
		return "int"
	case KindUInt64:
		return "uint"
	case KindFloat64:
		return "float"
	case KindNumeric:
		return "numeric"
	case KindString:
		return "string"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Datum is a tagged scalar value. The zero value is Null. Datums are
// immutable: never modify the Numeric payload of an existing datum.
type Datum struct {
	Kind  Kind
	B     bool
	I     int64
	U     uint64
	F     float64
	S     string
	N     *apd.Decimal
}

// Null returns the distinguished null datum.
func Null() Datum { return Datum{} }

// Bool returns a boolean datum.
func Bool(b bool) Datum { return Datum{Kind: KindBool, B: b} }

// Int64 returns a signed integer datum.
func Int64(v int64) Datum { return Datum{Kind: KindInt64, I: v} }

// UInt64 returns an unsigned integer datum.
func UInt64(v uint64) Datum { return Datum{Kind: KindUInt64, U: v} }

// Float64 returns a floating point datum.
func Float64(v float64) Datum { return Datum{Kind: KindFloat64, F: v} }

// Str returns a string datum.
func Str(s string) Datum { return Datum{Kind: KindString, S: s} }

// Numeric returns an arbitrary-precision decimal datum. The decimal is
// owned by the datum afterwards.
func Numeric(d *apd.Decimal) Datum { return Datum{Kind: KindNumeric, N: d} }

// IsNull reports whether d is the null datum.
func (d Datum) IsNull() bool { return d.Kind == KindNull }

// Compare orders datums structurally. Datums of different kinds order by
// kind tag; null sorts before everything.
func Compare(a, b Datum) int {
	if a.Kind != b.Kind {
		if a.Kind < b.Kind {
			return -1
		}
		return 1
	}
	switch a.Kind {
	case KindNull:
		return 0
	case KindBool:
		return cmpBool(a.B, b.B)
	case KindInt64:
		return cmpOrdered(a.I, b.I)
	case KindUInt64:
		return cmpOrdered(a.U, b.U)
	case KindFloat64:
		return cmpOrdered(a.F, b.F)
	case KindNumeric:
		return a.N.Cmp(b.N)
	case KindString:
		return cmpOrdered(a.S, b.S)
	default:
		return 0
	}
}

func cmpBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}

func cmpOrdered[T int64 | uint64 | float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// appendKey appends a canonical, unambiguous encoding of d to b. The
// encoding defines datum identity inside Z-sets.
func (d Datum) appendKey(b []byte) []byte {
	switch d.Kind {
	case KindNull:
		return append(b, 'n')
	case KindBool:
		if d.B {
			return append(b, 'b', '1')
		}
		return append(b, 'b', '0')
	case KindInt64:
		b = append(b, 'i')
		return strconv.AppendInt(b, d.I, 10)
	case KindUInt64:
		b = append(b, 'u')
		return strconv.AppendUint(b, d.U, 10)
	case KindFloat64:
		b = append(b, 'f')
		return strconv.AppendUint(b, floatBits(d.F), 16)
	case KindNumeric:
		b = append(b, 'd')
		return append(b, d.N.Text('E')...)
	case KindString:
		b = append(b, 's')
		b = strconv.AppendInt(b, int64(len(d.S)), 10)
		b = append(b, ':')
		return append(b, d.S...)
	default:
		return append(b, '?')
	}
}

// floatBits yields identity bits for a float; all NaN payloads collapse to
// one canonical pattern so that NaN == NaN for Z-set purposes.
func floatBits(f float64) uint64 {
	if math.IsNaN(f) {
		return math.Float64bits(math.NaN())
	}
	return math.Float64bits(f)
}

func (d Datum) String() string {
	switch d.Kind {
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(d.B)
	case KindInt64:
		return strconv.FormatInt(d.I, 10)
	case KindUInt64:
		return strconv.FormatUint(d.U, 10)
	case KindFloat64:
		return strconv.FormatFloat(d.F, 'g', -1, 64)
	case KindNumeric:
		return d.N.String()
	case KindString:
		return strconv.Quote(d.S)
	default:
		return "?"
	}
}
