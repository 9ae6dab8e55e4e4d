// Package zset implements Z-sets (multisets with signed integer
// multiplicities) over rows and over keyed row pairs. Z-sets are the update
// currency of the reduction engine: a positive multiplicity is an insert, a
// negative one a retraction.
package zset

import (
	"fmt"
	"sort"
	"strings"

	"github.com/l7mp/dreduce/pkg/row"
)

// ZSet is a Z-set of rows. Rows are keyed by their canonical encoding;
// entries whose multiplicity returns to zero are reclaimed eagerly so that
// vacated keys never leak state.
type ZSet struct {
	rows   map[string]row.Row
	counts map[string]int64
}

// New creates an empty Z-set.
func New() *ZSet {
	return &ZSet{
		rows:   make(map[string]row.Row),
		counts: make(map[string]int64),
	}
}

// FromRows creates a Z-set holding each given row with multiplicity 1.
func FromRows(rows []row.Row) *ZSet {
	z := New()
	for _, r := range rows {
		z.AddMutate(r, 1)
	}
	return z
}

// Singleton creates a Z-set containing one row with multiplicity 1.
func Singleton(r row.Row) *ZSet {
	z := New()
	z.AddMutate(r, 1)
	return z
}

// AddMutate adds a row with the given multiplicity in place.
func (z *ZSet) AddMutate(r row.Row, n int64) {
	if n == 0 {
		return
	}
	key := r.Key()
	if _, ok := z.counts[key]; ok {
		z.counts[key] += n
	} else {
		z.rows[key] = r
		z.counts[key] = n
	}
	if z.counts[key] == 0 {
		delete(z.counts, key)
		delete(z.rows, key)
	}
}

// Add returns the Z-set sum of z and other.
func (z *ZSet) Add(other *ZSet) *ZSet {
	result := z.Copy()
	if other == nil {
		return result
	}
	for key, n := range other.counts {
		result.AddMutate(other.rows[key], n)
	}
	return result
}

// AddAllMutate folds other into z in place.
func (z *ZSet) AddAllMutate(other *ZSet) {
	if other == nil {
		return
	}
	for key, n := range other.counts {
		z.AddMutate(other.rows[key], n)
	}
}

// Subtract returns z minus other.
func (z *ZSet) Subtract(other *ZSet) *ZSet {
	result := z.Copy()
	if other == nil {
		return result
	}
	for key, n := range other.counts {
		result.AddMutate(other.rows[key], -n)
	}
	return result
}

// Negate returns z with all multiplicities negated.
func (z *ZSet) Negate() *ZSet {
	result := New()
	for key, n := range z.counts {
		result.rows[key] = z.rows[key]
		result.counts[key] = -n
	}
	return result
}

// Distinct converts to set semantics: every positive multiplicity becomes
// 1, non-positive entries are dropped.
func (z *ZSet) Distinct() *ZSet {
	result := New()
	for key, n := range z.counts {
		if n > 0 {
			result.AddMutate(z.rows[key], 1)
		}
	}
	return result
}

// Copy creates an independent copy. Rows are immutable so they are shared.
func (z *ZSet) Copy() *ZSet {
	result := &ZSet{
		rows:   make(map[string]row.Row, len(z.rows)),
		counts: make(map[string]int64, len(z.counts)),
	}
	for key, r := range z.rows {
		result.rows[key] = r
		result.counts[key] = z.counts[key]
	}
	return result
}

// Entry is a row together with its multiplicity.
type Entry struct {
	Row   row.Row
	Count int64
}

// Entries returns all entries ordered by row encoding, for deterministic
// iteration.
func (z *ZSet) Entries() []Entry {
	keys := make([]string, 0, len(z.counts))
	for key := range z.counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	result := make([]Entry, 0, len(keys))
	for _, key := range keys {
		result = append(result, Entry{Row: z.rows[key], Count: z.counts[key]})
	}
	return result
}

// IsZero reports whether the Z-set has no entries.
func (z *ZSet) IsZero() bool { return len(z.counts) == 0 }

// Size returns the number of rows counting only positive multiplicities.
func (z *ZSet) Size() int {
	total := int64(0)
	for _, n := range z.counts {
		if n > 0 {
			total += n
		}
	}
	return int(total)
}

// UniqueCount returns the number of distinct rows with positive
// multiplicity.
func (z *ZSet) UniqueCount() int {
	count := 0
	for _, n := range z.counts {
		if n > 0 {
			count++
		}
	}
	return count
}

// Multiplicity returns the multiplicity of a specific row.
func (z *ZSet) Multiplicity(r row.Row) int64 {
	return z.counts[r.Key()]
}

// Contains reports whether the row is present with positive multiplicity.
func (z *ZSet) Contains(r row.Row) bool {
	return z.counts[r.Key()] > 0
}

func (z *ZSet) String() string {
	if z.IsZero() {
		return "{}"
	}
	var sb strings.Builder
	sb.WriteByte('{')
	for i, e := range z.Entries() {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s×%d", e.Row, e.Count)
	}
	sb.WriteByte('}')
	return sb.String()
}
