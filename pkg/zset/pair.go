package zset

import (
	"fmt"
	"sort"
	"strings"

	"github.com/l7mp/dreduce/pkg/row"
)

// Pair is a (group key, value) row pair.
type Pair struct {
	Key row.Row
	Val row.Row
}

func pairKey(k, v row.Row) string {
	return k.Key() + "\x1f" + v.Key()
}

// PairZSet is a Z-set of (key, value) row pairs, the shape the extraction
// stage hands to the aggregators.
type PairZSet struct {
	pairs  map[string]Pair
	counts map[string]int64
}

// NewPairs creates an empty pair Z-set.
func NewPairs() *PairZSet {
	return &PairZSet{
		pairs:  make(map[string]Pair),
		counts: make(map[string]int64),
	}
}

// AddMutate adds a pair with the given multiplicity in place.
func (z *PairZSet) AddMutate(k, v row.Row, n int64) {
	if n == 0 {
		return
	}
	key := pairKey(k, v)
	if _, ok := z.counts[key]; ok {
		z.counts[key] += n
	} else {
		z.pairs[key] = Pair{Key: k, Val: v}
		z.counts[key] = n
	}
	if z.counts[key] == 0 {
		delete(z.counts, key)
		delete(z.pairs, key)
	}
}

// AddAllMutate folds other into z in place.
func (z *PairZSet) AddAllMutate(other *PairZSet) {
	if other == nil {
		return
	}
	for key, n := range other.counts {
		p := other.pairs[key]
		z.AddMutate(p.Key, p.Val, n)
	}
}

// PairEntry is a pair together with its multiplicity.
type PairEntry struct {
	Key   row.Row
	Val   row.Row
	Count int64
}

// Entries returns all entries ordered by encoding, for deterministic
// iteration.
func (z *PairZSet) Entries() []PairEntry {
	keys := make([]string, 0, len(z.counts))
	for key := range z.counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	result := make([]PairEntry, 0, len(keys))
	for _, key := range keys {
		p := z.pairs[key]
		result = append(result, PairEntry{Key: p.Key, Val: p.Val, Count: z.counts[key]})
	}
	return result
}

// IsZero reports whether the Z-set has no entries.
func (z *PairZSet) IsZero() bool { return len(z.counts) == 0 }

// UniqueCount returns the number of distinct pairs with positive
// multiplicity.
func (z *PairZSet) UniqueCount() int {
	count := 0
	for _, n := range z.counts {
		if n > 0 {
			count++
		}
	}
	return count
}

// Multiplicity returns the multiplicity of a specific pair.
func (z *PairZSet) Multiplicity(k, v row.Row) int64 {
	return z.counts[pairKey(k, v)]
}

func (z *PairZSet) String() string {
	if z.IsZero() {
		return "{}"
	}
	var sb strings.Builder
	sb.WriteByte('{')
	for i, e := range z.Entries() {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s→%s×%d", e.Key, e.Val, e.Count)
	}
	sb.WriteByte('}')
	return sb.String()
}
