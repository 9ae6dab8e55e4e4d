package reduce

import (
	"github.com/l7mp/dreduce/pkg/row"
)

// monoidCombine merges two values under a min/max function. Null is the
// identity on both sides, so all-null groups fold to null and nulls never
// win a comparison.
func monoidCombine(f AggregateFunc, a, b row.Datum) row.Datum {
	if a.IsNull() {
		return b
	}
	if b.IsNull() {
		return a
	}
	c := row.Compare(a, b)
	if f == AggMin {
		if c <= 0 {
			return a
		}
		return b
	}
	if c >= 0 {
		return a
	}
	return b
}

// monoidIdentity returns the fold identity for min/max.
func monoidIdentity() row.Datum { return row.Null() }
