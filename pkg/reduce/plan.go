package reduce

import (
	"fmt"
	"sort"

	"sigs.k8s.io/yaml"
)

// PlanKind names a top-level reduction strategy.
type PlanKind string

const (
	PlanDistinct     PlanKind = "distinct"
	PlanAccumulable  PlanKind = "accumulable"
	PlanHierarchical PlanKind = "hierarchical"
	PlanBasic        PlanKind = "basic"
	PlanCollation    PlanKind = "collation"
)

// ReducePlan selects the strategy a reduction is rendered with. Exactly
// one variant must be set.
type ReducePlan struct {
	Distinct     *DistinctPlan     `json:"distinct,omitempty"`
	Accumulable  *AccumulablePlan  `json:"accumulable,omitempty"`
	Hierarchical *HierarchicalPlan `json:"hierarchical,omitempty"`
	Basic        *BasicPlan        `json:"basic,omitempty"`
	Collation    *CollationPlan    `json:"collation,omitempty"`
}

// DistinctPlan reduces to the set of keys with positive multiplicity. The
// value projection must be empty.
type DistinctPlan struct{}

// AccumPair locates one accumulable aggregate: the slot it finalizes into
// and the value column it reads.
type AccumPair struct {
	AccumIndex int           `json:"accumIndex"`
	DatumIndex int           `json:"datumIndex"`
	Aggr       AggregateExpr `json:"aggr"`
}

// AccumulablePlan evaluates sums, counts and boolean aggregates from
// commutative accumulations. Simple aggregates fold every record; distinct
// aggregates fold each distinct (key, value) pair once.
type AccumulablePlan struct {
	FullAggrs     []AggregateExpr `json:"aggregates"`
	SimpleAggrs   []AccumPair     `json:"simple,omitempty"`
	DistinctAggrs []AccumPair     `json:"distinctAggrs,omitempty"`
}

// NewAccumulablePlan splits the requested aggregates into their simple and
// distinct accumulation slots.
func NewAccumulablePlan(aggrs []AggregateExpr) *AccumulablePlan {
	p := &AccumulablePlan{FullAggrs: append([]AggregateExpr(nil), aggrs...)}
	for i, a := range aggrs {
		pair := AccumPair{AccumIndex: i, DatumIndex: a.Column, Aggr: a}
		if a.Distinct {
			p.DistinctAggrs = append(p.DistinctAggrs, pair)
		} else {
			p.SimpleAggrs = append(p.SimpleAggrs, pair)
		}
	}
	return p
}

// normalize rebuilds the accumulation split when a decoded plan carries
// only the full aggregate list.
func (p *AccumulablePlan) normalize() {
	if len(p.SimpleAggrs)+len(p.DistinctAggrs) != len(p.FullAggrs) {
		n := NewAccumulablePlan(p.FullAggrs)
		p.SimpleAggrs = n.SimpleAggrs
		p.DistinctAggrs = n.DistinctAggrs
	}
}

// HierarchicalPlan evaluates min/max aggregates, either through the
// monotonic refinement or the general bucketed tower.
type HierarchicalPlan struct {
	Monotonic *MonotonicPlan `json:"monotonic,omitempty"`
	Bucketed  *BucketedPlan  `json:"bucketed,omitempty"`
}

// MonotonicPlan handles min/max over append-only inputs: retractions are
// rejected as corrupt, so no reduction tower is needed.
type MonotonicPlan struct {
	AggrFuncs []AggregateFunc `json:"funcs"`
	Columns   []int           `json:"columns"`
	// MustConsolidate requests input consolidation before the
	// monotonicity check, for sources that may emit transient
	// insert/retract pairs within one batch.
	MustConsolidate bool `json:"mustConsolidate,omitempty"`
}

// BucketedPlan handles min/max with retractions through a tower of
// hash-bucketed partial aggregations with descending bucket counts.
type BucketedPlan struct {
	AggrFuncs []AggregateFunc `json:"funcs"`
	Columns   []int           `json:"columns"`
	Buckets   []uint64        `json:"buckets"`
}

// DefaultBuckets is the bucket tower used when the planner does not
// override it: each level fans in by a factor of 16.
func DefaultBuckets() []uint64 {
	return []uint64{268435456, 16777216, 1048576, 65536, 4096, 256, 16}
}

// SingleBasicPlan evaluates one order-sensitive aggregate from the full
// value multiset.
type SingleBasicPlan struct {
	Index int           `json:"index"`
	Aggr  AggregateExpr `json:"aggr"`
}

// IndexedAggregate positions one aggregate within the output row of a
// fused multi-aggregate basic reduction.
type IndexedAggregate struct {
	Index int           `json:"index"`
	Aggr  AggregateExpr `json:"aggr"`
}

// BasicPlan evaluates order-sensitive aggregates. Exactly one of Single or
// Multiple is set.
type BasicPlan struct {
	Single   *SingleBasicPlan   `json:"single,omitempty"`
	Multiple []IndexedAggregate `json:"multiple,omitempty"`
}

// NewBasicPlan builds the basic plan for the given aggregates and their
// positions in the requested output.
func NewBasicPlan(aggrs []IndexedAggregate) *BasicPlan {
	if len(aggrs) == 1 {
		return &BasicPlan{Single: &SingleBasicPlan{Index: aggrs[0].Index, Aggr: aggrs[0].Aggr}}
	}
	return &BasicPlan{Multiple: append([]IndexedAggregate(nil), aggrs...)}
}

// CollationPlan runs one constituent reduction per strategy family and
// stitches their outputs back into the requested aggregate order.
type CollationPlan struct {
	Accumulable    *AccumulablePlan  `json:"accumulable,omitempty"`
	Hierarchical   *HierarchicalPlan `json:"hierarchical,omitempty"`
	Basic          *BasicPlan        `json:"basic,omitempty"`
	AggregateTypes []ReductionType   `json:"aggregateTypes"`
}

// Kind returns which strategy the plan selects, or an error if the plan
// does not set exactly one variant.
func (p *ReducePlan) Kind() (PlanKind, error) {
	kinds := make([]PlanKind, 0, 1)
	if p.Distinct != nil {
		kinds = append(kinds, PlanDistinct)
	}
	if p.Accumulable != nil {
		kinds = append(kinds, PlanAccumulable)
	}
	if p.Hierarchical != nil {
		kinds = append(kinds, PlanHierarchical)
	}
	if p.Basic != nil {
		kinds = append(kinds, PlanBasic)
	}
	if p.Collation != nil {
		kinds = append(kinds, PlanCollation)
	}
	if len(kinds) != 1 {
		return "", fmt.Errorf("reduce plan must set exactly one strategy, got %d", len(kinds))
	}
	return kinds[0], nil
}

// Validate checks the plan for shape errors the renderer cannot recover
// from.
func (p *ReducePlan) Validate() error {
	kind, err := p.Kind()
	if err != nil {
		return err
	}
	switch kind {
	case PlanAccumulable:
		return p.Accumulable.validate()
	case PlanHierarchical:
		return p.Hierarchical.validate()
	case PlanBasic:
		return p.Basic.validate()
	case PlanCollation:
		return p.Collation.validate()
	}
	return nil
}

func (p *AccumulablePlan) validate() error {
	if len(p.FullAggrs) == 0 {
		return fmt.Errorf("accumulable plan needs at least one aggregate")
	}
	p.normalize()
	for _, a := range p.FullAggrs {
		if ReductionTypeOf(a.Func) != ReductionAccumulable {
			return fmt.Errorf("aggregate %s is not accumulable", a)
		}
	}
	return nil
}

func (p *HierarchicalPlan) validate() error {
	if (p.Monotonic == nil) == (p.Bucketed == nil) {
		return fmt.Errorf("hierarchical plan must set exactly one of monotonic or bucketed")
	}
	funcs, cols := p.funcs()
	if len(funcs) == 0 || len(funcs) != len(cols) {
		return fmt.Errorf("hierarchical plan needs matching function and column lists")
	}
	for _, f := range funcs {
		if ReductionTypeOf(f) != ReductionHierarchical {
			return fmt.Errorf("aggregate function %s is not hierarchical", f)
		}
	}
	if p.Bucketed != nil {
		if !sort.SliceIsSorted(p.Bucketed.Buckets, func(i, j int) bool {
			return p.Bucketed.Buckets[i] > p.Bucketed.Buckets[j]
		}) {
			return fmt.Errorf("bucket counts must be strictly descending")
		}
		for _, b := range p.Bucketed.Buckets {
			if b < 2 {
				return fmt.Errorf("bucket count %d too small", b)
			}
		}
	}
	return nil
}

func (p *HierarchicalPlan) funcs() ([]AggregateFunc, []int) {
	if p.Monotonic != nil {
		return p.Monotonic.AggrFuncs, p.Monotonic.Columns
	}
	if p.Bucketed != nil {
		return p.Bucketed.AggrFuncs, p.Bucketed.Columns
	}
	return nil, nil
}

func (p *BasicPlan) validate() error {
	if (p.Single == nil) == (len(p.Multiple) == 0) {
		return fmt.Errorf("basic plan must set exactly one of single or multiple")
	}
	check := func(a AggregateExpr) error {
		if ReductionTypeOf(a.Func) != ReductionBasic {
			return fmt.Errorf("aggregate %s does not need basic evaluation", a)
		}
		return nil
	}
	if p.Single != nil {
		return check(p.Single.Aggr)
	}
	for _, ia := range p.Multiple {
		if err := check(ia.Aggr); err != nil {
			return err
		}
	}
	return nil
}

func (p *CollationPlan) validate() error {
	constituents := 0
	if p.Accumulable != nil {
		if err := p.Accumulable.validate(); err != nil {
			return err
		}
		constituents++
	}
	if p.Hierarchical != nil {
		if err := p.Hierarchical.validate(); err != nil {
			return err
		}
		constituents++
	}
	if p.Basic != nil {
		if err := p.Basic.validate(); err != nil {
			return err
		}
		constituents++
	}
	if constituents < 2 {
		return fmt.Errorf("collation needs at least two constituent reductions, got %d", constituents)
	}
	if len(p.AggregateTypes) == 0 {
		return fmt.Errorf("collation needs the requested aggregate type order")
	}
	distinct := make(map[ReductionType]struct{})
	for _, t := range p.AggregateTypes {
		distinct[t] = struct{}{}
	}
	if len(distinct) != constituents {
		return fmt.Errorf("collation type order names %d strategies but %d constituents are planned",
			len(distinct), constituents)
	}
	return nil
}

// ParsePlan decodes a reduce plan from its JSON/YAML representation and
// validates it.
func ParsePlan(data []byte) (*ReducePlan, error) {
	p := &ReducePlan{}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to parse reduce plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid reduce plan: %w", err)
	}
	return p, nil
}

// PlanFor builds the reduce plan for a list of requested aggregates, in
// output order. With no aggregates the reduction is a distinct. Monotonic
// selects the append-only min/max refinement; buckets overrides the
// default tower for the general one.
func PlanFor(aggrs []AggregateExpr, monotonic bool, buckets []uint64) (*ReducePlan, error) {
	if len(aggrs) == 0 {
		return &ReducePlan{Distinct: &DistinctPlan{}}, nil
	}
	if buckets == nil {
		buckets = DefaultBuckets()
	}

	var accum []AggregateExpr
	var hier []IndexedAggregate
	var basic []IndexedAggregate
	types := make([]ReductionType, len(aggrs))
	for i, a := range aggrs {
		t := ReductionTypeOf(a.Func)
		// Distinct turns hierarchical and basic aggregates into
		// set-shaped inputs but does not change their strategy.
		types[i] = t
		switch t {
		case ReductionAccumulable:
			accum = append(accum, a)
		case ReductionHierarchical:
			hier = append(hier, IndexedAggregate{Index: i, Aggr: a})
		default:
			basic = append(basic, IndexedAggregate{Index: i, Aggr: a})
		}
	}

	var accumPlan *AccumulablePlan
	if len(accum) > 0 {
		accumPlan = NewAccumulablePlan(accum)
	}
	var hierPlan *HierarchicalPlan
	if len(hier) > 0 {
		funcs := make([]AggregateFunc, len(hier))
		cols := make([]int, len(hier))
		for i, ia := range hier {
			funcs[i] = ia.Aggr.Func
			cols[i] = ia.Aggr.Column
		}
		hierPlan = &HierarchicalPlan{}
		if monotonic {
			hierPlan.Monotonic = &MonotonicPlan{AggrFuncs: funcs, Columns: cols}
		} else {
			hierPlan.Bucketed = &BucketedPlan{AggrFuncs: funcs, Columns: cols, Buckets: buckets}
		}
	}
	var basicPlan *BasicPlan
	if len(basic) > 0 {
		basicPlan = NewBasicPlan(basic)
	}

	families := 0
	for _, p := range []bool{accumPlan != nil, hierPlan != nil, basicPlan != nil} {
		if p {
			families++
		}
	}
	plan := &ReducePlan{}
	switch {
	case families == 1 && accumPlan != nil:
		plan.Accumulable = accumPlan
	case families == 1 && hierPlan != nil:
		plan.Hierarchical = hierPlan
	case families == 1:
		plan.Basic = basicPlan
	default:
		plan.Collation = &CollationPlan{
			Accumulable:    accumPlan,
			Hierarchical:   hierPlan,
			Basic:          basicPlan,
			AggregateTypes: types,
		}
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}
