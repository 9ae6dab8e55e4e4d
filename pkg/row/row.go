package row

import (
	"strings"
)

// Row is an ordered, immutable sequence of datums. Callers must not modify
// a Row after handing it to a Z-set or an operator; use a Builder to
// assemble fresh rows.
type Row []Datum

// New builds a row directly from datums.
func New(datums ...Datum) Row { return Row(datums) }

// Len returns the number of columns.
func (r Row) Len() int { return len(r) }

// Key returns the canonical string encoding of the row, used as map
// identity inside Z-sets and operator state.
func (r Row) Key() string {
	b := make([]byte, 0, 16*len(r))
	for _, d := range r {
		b = d.appendKey(b)
		b = append(b, 0x1e)
	}
	return string(b)
}

// Compare orders rows lexicographically over their datums; a shorter row
// that is a prefix of a longer one sorts first.
func (r Row) Compare(o Row) int {
	n := len(r)
	if len(o) < n {
		n = len(o)
	}
	for i := 0; i < n; i++ {
		if c := Compare(r[i], o[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(r) < len(o):
		return -1
	case len(r) > len(o):
		return 1
	default:
		return 0
	}
}

// Equal reports structural equality.
func (r Row) Equal(o Row) bool { return r.Compare(o) == 0 }

// Concat returns a new row holding r's datums followed by o's.
func (r Row) Concat(o Row) Row {
	out := make(Row, 0, len(r)+len(o))
	out = append(out, r...)
	return append(out, o...)
}

func (r Row) String() string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i, d := range r {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(d.String())
	}
	sb.WriteByte(')')
	return sb.String()
}

// Builder assembles rows into a reusable scratch buffer. A Builder is
// explicitly passed and scoped to one evaluation call; Finish snapshots the
// datums so the builder can be reset and reused immediately.
type Builder struct {
	datums []Datum
}

// NewBuilder returns a builder with some preallocated capacity.
func NewBuilder() *Builder {
	return &Builder{datums: make([]Datum, 0, 8)}
}

// Reset clears the builder for reuse.
func (b *Builder) Reset() { b.datums = b.datums[:0] }

// Push appends one datum.
func (b *Builder) Push(d Datum) { b.datums = append(b.datums, d) }

// Extend appends all datums of a row.
func (b *Builder) Extend(r Row) { b.datums = append(b.datums, r...) }

// Len returns the number of datums pushed since the last Reset.
func (b *Builder) Len() int { return len(b.datums) }

// Finish returns the accumulated datums as an independent Row and resets
// the builder. The returned row does not alias builder storage.
func (b *Builder) Finish() Row {
	out := make(Row, len(b.datums))
	copy(out, b.datums)
	b.datums = b.datums[:0]
	return out
}
